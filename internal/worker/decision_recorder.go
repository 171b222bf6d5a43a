package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	gateway "github.com/eugener/xssgate/internal"
)

const (
	decisionChanSize   = 1000
	decisionBatchSize  = 100
	decisionFlushEvery = 5 * time.Second
	decisionDrainTime  = 30 * time.Second
)

// DecisionStore is the persistence interface consumed by DecisionRecorder.
type DecisionStore interface {
	InsertDecisions(ctx context.Context, records []gateway.DecisionRecord) error
}

// DecisionRecorder buffers decision records and batch-flushes them to the store.
// Records are dropped if the channel is full (back-pressure on slow DB).
type DecisionRecorder struct {
	ch         chan gateway.DecisionRecord
	store      DecisionStore
	queue      prometheus.Gauge // nil = not exported
	flushEvery time.Duration
}

// NewDecisionRecorder creates a DecisionRecorder backed by store. queue, when
// non-nil, tracks the number of records waiting to be flushed.
func NewDecisionRecorder(store DecisionStore, queue prometheus.Gauge) *DecisionRecorder {
	return &DecisionRecorder{
		ch:         make(chan gateway.DecisionRecord, decisionChanSize),
		store:      store,
		queue:      queue,
		flushEvery: decisionFlushEvery,
	}
}

// Name returns the worker identifier.
func (d *DecisionRecorder) Name() string { return "decision_recorder" }

// Record enqueues a decision record. It never blocks; drops on full channel.
func (d *DecisionRecorder) Record(r gateway.DecisionRecord) {
	select {
	case d.ch <- r:
	default:
		slog.Warn("decision record dropped, channel full")
	}
}

// Run processes records until ctx is cancelled, then drains remaining records.
func (d *DecisionRecorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.flushEvery)
	defer ticker.Stop()

	buf := make([]gateway.DecisionRecord, 0, decisionBatchSize)

	for {
		select {
		case r := <-d.ch:
			buf = append(buf, r)
			if len(buf) >= decisionBatchSize {
				d.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ticker.C:
			if len(buf) > 0 {
				d.flush(ctx, buf)
				buf = buf[:0]
			}

		case <-ctx.Done():
			d.drain(buf)
			return nil
		}
	}
}

func (d *DecisionRecorder) drain(buf []gateway.DecisionRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), decisionDrainTime)
	defer cancel()

	for {
		select {
		case r := <-d.ch:
			buf = append(buf, r)
			if len(buf) >= decisionBatchSize {
				d.flush(ctx, buf)
				buf = buf[:0]
			}
		default:
			if len(buf) > 0 {
				d.flush(ctx, buf)
			}
			return
		}
	}
}

func (d *DecisionRecorder) flush(ctx context.Context, buf []gateway.DecisionRecord) {
	// Copy to avoid aliasing the caller's slice.
	batch := make([]gateway.DecisionRecord, len(buf))
	copy(batch, buf)

	// Assign IDs off the hot path; callers leave ID empty.
	for i := range batch {
		if batch[i].ID == "" {
			batch[i].ID = uuid.Must(uuid.NewV7()).String()
		}
	}

	if err := d.store.InsertDecisions(ctx, batch); err != nil {
		slog.LogAttrs(ctx, slog.LevelError, "decision flush failed",
			slog.Int("count", len(batch)),
			slog.String("error", err.Error()),
		)
	}
	if d.queue != nil {
		d.queue.Set(float64(len(d.ch)))
	}
}

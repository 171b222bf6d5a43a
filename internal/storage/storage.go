// Package storage defines persistence interfaces for the gateway.
package storage

import (
	"context"
	"time"

	gateway "github.com/eugener/xssgate/internal"
)

// DecisionStore manages the JSONP decision log.
type DecisionStore interface {
	InsertDecisions(ctx context.Context, records []gateway.DecisionRecord) error
	QueryDecisions(ctx context.Context, f gateway.DecisionFilter) ([]gateway.DecisionRecord, error)
	CountDecisions(ctx context.Context, f gateway.DecisionFilter) (int, error)
	PruneDecisions(ctx context.Context, before time.Time) (int64, error)
}

// Store combines all storage interfaces.
type Store interface {
	DecisionStore
	Ping(ctx context.Context) error
	Close() error
}

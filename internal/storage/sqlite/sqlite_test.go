package sqlite

import (
	"context"
	"testing"
	"time"

	gateway "github.com/eugener/xssgate/internal"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	// Use a unique file-based temp DB for each test to avoid shared :memory: races
	s, err := New(context.Background(), t.TempDir()+"/test.db")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func decision(id, route, action string, at time.Time) gateway.DecisionRecord {
	return gateway.DecisionRecord{
		ID:        id,
		Route:     route,
		Method:    "GET",
		Path:      "/api/items",
		Status:    200,
		Action:    action,
		Reason:    "wrapped",
		Callback:  "cb",
		RequestID: "req-" + id,
		CreatedAt: at,
	}
}

func TestDecisionRoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	records := []gateway.DecisionRecord{
		decision("d1", "api", gateway.ActionWrap, now.Add(-2*time.Minute)),
		decision("d2", "api", gateway.ActionPass, now.Add(-time.Minute)),
		decision("d3", "legacy", gateway.ActionWrap, now),
	}
	if err := s.InsertDecisions(ctx, records); err != nil {
		t.Fatal("insert:", err)
	}

	all, err := s.QueryDecisions(ctx, gateway.DecisionFilter{})
	if err != nil {
		t.Fatal("query:", err)
	}
	if len(all) != 3 {
		t.Fatalf("count = %d, want 3", len(all))
	}
	if all[0].ID != "d3" {
		t.Errorf("first = %q, want newest d3", all[0].ID)
	}
	if !all[0].CreatedAt.Equal(now) {
		t.Errorf("created_at = %v, want %v", all[0].CreatedAt, now)
	}
	if all[0].Callback != "cb" || all[0].RequestID != "req-d3" || all[0].Status != 200 {
		t.Errorf("record = %+v", all[0])
	}

	wrapped, err := s.QueryDecisions(ctx, gateway.DecisionFilter{Route: "api", Action: gateway.ActionWrap})
	if err != nil {
		t.Fatal(err)
	}
	if len(wrapped) != 1 || wrapped[0].ID != "d1" {
		t.Errorf("filtered = %+v", wrapped)
	}

	n, err := s.CountDecisions(ctx, gateway.DecisionFilter{Route: "api"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count api = %d, want 2", n)
	}

	since := now.Add(-90 * time.Second).Format(time.RFC3339)
	recent, err := s.QueryDecisions(ctx, gateway.DecisionFilter{Since: since})
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("since count = %d, want 2", len(recent))
	}

	page, err := s.QueryDecisions(ctx, gateway.DecisionFilter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 1 || page[0].ID != "d2" {
		t.Errorf("page = %+v, want d2", page)
	}
}

func TestInsertDecisionsEmpty(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.InsertDecisions(context.Background(), nil); err != nil {
		t.Errorf("empty insert: %v", err)
	}
}

func TestPruneDecisions(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.InsertDecisions(ctx, []gateway.DecisionRecord{
		decision("old1", "api", gateway.ActionPass, now.Add(-48*time.Hour)),
		decision("old2", "api", gateway.ActionWrap, now.Add(-25*time.Hour)),
		decision("new", "api", gateway.ActionWrap, now),
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := s.PruneDecisions(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("pruned = %d, want 2", n)
	}
	left, err := s.CountDecisions(ctx, gateway.DecisionFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if left != 1 {
		t.Errorf("remaining = %d, want 1", left)
	}
}

func TestPing(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)
	if err := s.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
}

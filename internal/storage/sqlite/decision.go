package sqlite

import (
	"context"
	"strings"
	"time"

	gateway "github.com/eugener/xssgate/internal"
)

// InsertDecisions batch-inserts decision records.
func (s *Store) InsertDecisions(ctx context.Context, records []gateway.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	const cols = 10
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.ID, r.Route, r.Method, r.Path, r.Status,
			r.Action, r.Reason, r.Callback, r.RequestID,
			r.CreatedAt.UTC().Format(time.RFC3339),
		)
	}

	query := `INSERT INTO decisions
		(id, route, method, path, status, action, reason, callback, request_id, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryDecisions returns decision records matching the filter, newest first.
func (s *Store) QueryDecisions(ctx context.Context, f gateway.DecisionFilter) ([]gateway.DecisionRecord, error) {
	where, args := decisionWhere(f)
	query := `SELECT id, route, method, path, status, action, reason, callback, request_id, created_at
		FROM decisions` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.DecisionRecord
	for rows.Next() {
		var r gateway.DecisionRecord
		var createdAt string
		err := rows.Scan(
			&r.ID, &r.Route, &r.Method, &r.Path, &r.Status,
			&r.Action, &r.Reason, &r.Callback, &r.RequestID, &createdAt,
		)
		if err != nil {
			return nil, err
		}
		if t, e := time.Parse(time.RFC3339, createdAt); e == nil {
			r.CreatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CountDecisions returns the count of decision records matching the filter.
func (s *Store) CountDecisions(ctx context.Context, f gateway.DecisionFilter) (int, error) {
	where, args := decisionWhere(f)
	var n int
	err := s.read.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM decisions`+where, args...,
	).Scan(&n)
	return n, err
}

// PruneDecisions deletes records created before the cutoff and reports how many.
func (s *Store) PruneDecisions(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.write.ExecContext(ctx,
		`DELETE FROM decisions WHERE created_at < ?`, before.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func decisionWhere(f gateway.DecisionFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.Route != "" {
		clauses = append(clauses, "route = ?")
		args = append(args, f.Route)
	}
	if f.Action != "" {
		clauses = append(clauses, "action = ?")
		args = append(args, f.Action)
	}
	if f.Since != "" {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "created_at < ?")
		args = append(args, f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

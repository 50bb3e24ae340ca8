package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/tripwire/internal/action"
	"github.com/roach88/tripwire/internal/ir"
)

// Report implements action.Reporter by appending to the action log.
func (s *Store) Report(r action.Result) {
	if err := s.WriteActionResult(context.Background(), r); err != nil {
		slog.Error("store action result failed", "execution_id", r.ExecutionID, "error", err)
	}
}

// WriteActionResult records the outcome of one action execution. An
// execution ID is recorded once; later results for it are ignored.
func (s *Store) WriteActionResult(ctx context.Context, r action.Result) error {
	var errText sql.NullString
	if r.Err != nil {
		errText = sql.NullString{String: r.Err.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO action_log (execution_id, kind, action_name, model, key_value, target, error, duration_us)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(execution_id) DO NOTHING
	`,
		r.ExecutionID,
		string(r.Kind),
		r.ActionName,
		r.ModelName,
		r.KeyValue,
		r.Target,
		errText,
		r.Duration.Microseconds(),
	)
	if err != nil {
		return fmt.Errorf("write action result: %w", err)
	}
	return nil
}

// ActionEntry is one row of the action log.
type ActionEntry struct {
	ExecutionID string        `json:"actionExecutionId"`
	Kind        ir.ActionKind `json:"kind"`
	ActionName  string        `json:"actionName"`
	ModelName   string        `json:"detectorModelName"`
	KeyValue    string        `json:"keyValue"`
	Target      string        `json:"target,omitempty"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration"`
}

// ReadActionLog returns a detector's action results in the order they were
// recorded.
func (s *Store) ReadActionLog(ctx context.Context, model, key string) ([]ActionEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT execution_id, kind, action_name, model, key_value, target, error, duration_us
		FROM action_log
		WHERE model = ? AND key_value = ?
		ORDER BY id ASC
	`, model, key)
	if err != nil {
		return nil, fmt.Errorf("query action log: %w", err)
	}
	defer rows.Close()

	out := []ActionEntry{}
	for rows.Next() {
		var (
			e       ActionEntry
			kind    string
			errText sql.NullString
			us      int64
		)
		if err := rows.Scan(&e.ExecutionID, &kind, &e.ActionName, &e.ModelName, &e.KeyValue, &e.Target, &errText, &us); err != nil {
			return nil, fmt.Errorf("scan action log: %w", err)
		}
		e.Kind = ir.ActionKind(kind)
		e.Error = errText.String
		e.Duration = time.Duration(us) * time.Microsecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate action log: %w", err)
	}
	return out, nil
}

var _ action.Reporter = (*Store)(nil)

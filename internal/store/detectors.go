package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/tripwire/internal/engine"
	"github.com/roach88/tripwire/internal/ir"
)

// ObserveCycle implements engine.CycleObserver: it records the cycle and
// replaces the detector's stored snapshot.
func (s *Store) ObserveCycle(c engine.Cycle) {
	if err := s.WriteCycle(context.Background(), c); err != nil {
		slog.Error("store cycle failed",
			"model", c.Model,
			"key", c.Key,
			"cycle", c.Seq,
			"error", err,
		)
	}
}

// WriteCycle atomically appends c to the detector's history and upserts
// its snapshot. Writing the same cycle twice is a no-op for the history.
func (s *Store) WriteCycle(ctx context.Context, c engine.Cycle) error {
	body, err := canonicalJSON(c)
	if err != nil {
		return fmt.Errorf("write cycle: %w", err)
	}
	snap := c.Snapshot
	vars, err := marshalObject(snap.Variables)
	if err != nil {
		return fmt.Errorf("write cycle: %w", err)
	}
	timers, err := marshalTimers(snap.Timers)
	if err != nil {
		return fmt.Errorf("write cycle: %w", err)
	}

	var from, to sql.NullString
	if t := c.Transition; t != nil {
		from = sql.NullString{String: t.From, Valid: true}
		to = sql.NullString{String: t.To, Valid: true}
	}
	trigger := string(c.TriggerType)
	if c.Update {
		trigger = "update"
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write cycle: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO cycles (model, key_value, version, cycle, trigger_type, from_state, to_state, body, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, c.Model, c.Key, c.Version, c.Seq, trigger, from, to, body, millis(c.Time))
	if err != nil {
		return fmt.Errorf("write cycle: insert history: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO detectors (model, key_value, version, state, variables, timers, cycle, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(model, key_value) DO UPDATE SET
			version = excluded.version,
			state = excluded.state,
			variables = excluded.variables,
			timers = excluded.timers,
			cycle = excluded.cycle,
			created_at = CASE WHEN detectors.version = excluded.version THEN detectors.created_at ELSE excluded.created_at END,
			updated_at = excluded.updated_at
	`,
		snap.ModelName,
		snap.KeyValue,
		snap.ModelVersion,
		snap.StateName,
		vars,
		timers,
		c.Seq,
		millis(snap.CreatedAt),
		millis(snap.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("write cycle: upsert detector: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write cycle: commit: %w", err)
	}
	return nil
}

// ReadDetectors returns stored snapshots ordered by model and key. An
// empty model returns every detector.
func (s *Store) ReadDetectors(ctx context.Context, model string) ([]ir.DetectorSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model, key_value, version, state, variables, timers, created_at, updated_at
		FROM detectors
		WHERE ? = '' OR model = ?
		ORDER BY model COLLATE BINARY ASC, key_value COLLATE BINARY ASC
	`, model, model)
	if err != nil {
		return nil, fmt.Errorf("query detectors: %w", err)
	}
	defer rows.Close()

	out := []ir.DetectorSnapshot{}
	for rows.Next() {
		var (
			snap             ir.DetectorSnapshot
			vars, timers     string
			created, updated int64
		)
		if err := rows.Scan(&snap.ModelName, &snap.KeyValue, &snap.ModelVersion, &snap.StateName,
			&vars, &timers, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan detector: %w", err)
		}
		if snap.Variables, err = unmarshalObject(vars); err != nil {
			return nil, fmt.Errorf("detector %s/%s: %w", snap.ModelName, snap.KeyValue, err)
		}
		if snap.Timers, err = unmarshalTimers(timers); err != nil {
			return nil, fmt.Errorf("detector %s/%s: %w", snap.ModelName, snap.KeyValue, err)
		}
		snap.CreatedAt = fromMillis(created)
		snap.UpdatedAt = fromMillis(updated)
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detectors: %w", err)
	}
	return out, nil
}

// ReadCycles returns a detector's history across versions, oldest first.
func (s *Store) ReadCycles(ctx context.Context, model, key string) ([]engine.Cycle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT body
		FROM cycles
		WHERE model = ? AND key_value = ?
		ORDER BY time ASC, CAST(version AS INTEGER) ASC, cycle ASC
	`, model, key)
	if err != nil {
		return nil, fmt.Errorf("query cycles: %w", err)
	}
	defer rows.Close()

	out := []engine.Cycle{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan cycle: %w", err)
		}
		var c engine.Cycle
		if err := json.Unmarshal([]byte(body), &c); err != nil {
			return nil, fmt.Errorf("cycle: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cycles: %w", err)
	}
	return out, nil
}

var _ engine.CycleObserver = (*Store)(nil)

// RestorePoints returns every stored detector with its cycle count, for
// engine.Restore.
func (s *Store) RestorePoints(ctx context.Context) ([]engine.RestorePoint, error) {
	snaps, err := s.ReadDetectors(ctx, "")
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT model, key_value, cycle FROM detectors`)
	if err != nil {
		return nil, fmt.Errorf("query detector cycles: %w", err)
	}
	defer rows.Close()

	type id struct{ model, key string }
	cycles := make(map[id]int64)
	for rows.Next() {
		var (
			k id
			n int64
		)
		if err := rows.Scan(&k.model, &k.key, &n); err != nil {
			return nil, fmt.Errorf("scan detector cycles: %w", err)
		}
		cycles[k] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detector cycles: %w", err)
	}

	out := make([]engine.RestorePoint, len(snaps))
	for i, snap := range snaps {
		out[i] = engine.RestorePoint{Snapshot: snap, Cycles: cycles[id{snap.ModelName, snap.KeyValue}]}
	}
	return out, nil
}

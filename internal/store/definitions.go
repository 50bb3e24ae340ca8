package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/roach88/tripwire/internal/ir"
	"github.com/roach88/tripwire/internal/registry"
)

// ObserveRegistry mirrors a registry change into the store. Register it
// with registry.OnChange.
func (s *Store) ObserveRegistry(c registry.Change) {
	ctx := context.Background()
	var err error
	switch c.Kind {
	case registry.InputChanged:
		err = s.WriteInput(ctx, *c.Input)
	case registry.InputDeleted:
		err = s.DeleteInput(ctx, c.Name)
	case registry.ModelActivated:
		err = s.WriteModelVersion(ctx, *c.Version)
	case registry.ModelStatusChanged:
		err = s.UpdateModelStatus(ctx, *c.Version)
	case registry.ModelDeleted:
		err = s.DeleteModel(ctx, c.Name)
	}
	if err != nil {
		slog.Error("store registry change failed", "kind", c.Kind, "name", c.Name, "error", err)
	}
}

// WriteInput inserts or replaces an input definition.
func (s *Store) WriteInput(ctx context.Context, rec registry.InputRecord) error {
	def, err := canonicalJSON(rec.Input)
	if err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO inputs (name, definition, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			definition = excluded.definition,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		rec.Input.Name,
		def,
		string(rec.Status),
		millis(rec.CreatedAt),
		millis(rec.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}

// DeleteInput removes an input definition. Deleting an absent input is
// not an error.
func (s *Store) DeleteInput(ctx context.Context, name string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM inputs WHERE name = ?`, name); err != nil {
		return fmt.Errorf("delete input: %w", err)
	}
	return nil
}

// WriteModelVersion inserts or replaces one model version.
func (s *Store) WriteModelVersion(ctx context.Context, v registry.Version) error {
	def, err := canonicalJSON(v.Model())
	if err != nil {
		return fmt.Errorf("write model version: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO models (name, version, status, hash, definition, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, version) DO UPDATE SET
			status = excluded.status,
			hash = excluded.hash,
			definition = excluded.definition,
			updated_at = excluded.updated_at
	`,
		v.ModelName,
		v.Version,
		string(v.Status),
		v.Hash(),
		def,
		millis(v.CreatedAt),
		millis(v.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("write model version: %w", err)
	}
	return nil
}

// UpdateModelStatus records a version's new status.
func (s *Store) UpdateModelStatus(ctx context.Context, v registry.Version) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE models SET status = ?, updated_at = ? WHERE name = ? AND version = ?
	`, string(v.Status), millis(v.UpdatedAt), v.ModelName, v.Version)
	if err != nil {
		return fmt.Errorf("update model status: %w", err)
	}
	return nil
}

// DeleteModel removes every version of a model together with its
// detectors and their history.
func (s *Store) DeleteModel(ctx context.Context, name string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete model: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, q := range []string{
		`DELETE FROM models WHERE name = ?`,
		`DELETE FROM detectors WHERE model = ?`,
		`DELETE FROM cycles WHERE model = ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, name); err != nil {
			return fmt.Errorf("delete model: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete model: commit: %w", err)
	}
	return nil
}

// ModelVersion is a stored model version.
type ModelVersion struct {
	Name    string
	Version string
	Status  ir.ModelStatus
	Hash    string
	Model   ir.DetectorModel
}

// ReadModelVersions returns every stored version, ordered by name and
// then version number.
func (s *Store) ReadModelVersions(ctx context.Context) ([]ModelVersion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, version, status, hash, definition
		FROM models
		ORDER BY name COLLATE BINARY ASC, CAST(version AS INTEGER) ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query models: %w", err)
	}
	defer rows.Close()

	var out []ModelVersion
	for rows.Next() {
		var (
			mv     ModelVersion
			status string
			def    string
		)
		if err := rows.Scan(&mv.Name, &mv.Version, &status, &mv.Hash, &def); err != nil {
			return nil, fmt.Errorf("scan model: %w", err)
		}
		mv.Status = ir.ModelStatus(status)
		if err := json.Unmarshal([]byte(def), &mv.Model); err != nil {
			return nil, fmt.Errorf("model %s@%s: %w", mv.Name, mv.Version, err)
		}
		out = append(out, mv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate models: %w", err)
	}
	return out, nil
}

// ReadInputs returns every stored input, ordered by name.
func (s *Store) ReadInputs(ctx context.Context) ([]ir.Input, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM inputs ORDER BY name COLLATE BINARY ASC`)
	if err != nil {
		return nil, fmt.Errorf("query inputs: %w", err)
	}
	defer rows.Close()

	var out []ir.Input
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, fmt.Errorf("scan input: %w", err)
		}
		var in ir.Input
		if err := json.Unmarshal([]byte(def), &in); err != nil {
			return nil, fmt.Errorf("input: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inputs: %w", err)
	}
	return out, nil
}

// Definitions returns what a registry needs to resume: every input and
// the latest version of every model that was not deleted. Version
// numbering restarts when the definitions are loaded into a new registry.
func (s *Store) Definitions(ctx context.Context) ([]ir.Input, []ir.DetectorModel, error) {
	inputs, err := s.ReadInputs(ctx)
	if err != nil {
		return nil, nil, err
	}
	versions, err := s.ReadModelVersions(ctx)
	if err != nil {
		return nil, nil, err
	}

	var models []ir.DetectorModel
	for i, v := range versions {
		last := i == len(versions)-1 || versions[i+1].Name != v.Name
		if last && v.Status != ir.StatusDeleting {
			models = append(models, v.Model)
		}
	}
	return inputs, models, nil
}

// ResetModels forgets every stored model version. Callers load the
// result of Definitions into a fresh registry observed by the store, which
// writes the versions back.
func (s *Store) ResetModels(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM models`); err != nil {
		return fmt.Errorf("reset models: %w", err)
	}
	return nil
}

package sqlitecatalog

import (
	"context"
	"fmt"

	"github.com/bft-labs/plotline/internal/ports"
)

// UpsertPen adds or replaces a pen.
func (s *Store) UpsertPen(ctx context.Context, p ports.Pen) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pens (id, name, color, available) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, color = excluded.color, available = excluded.available`,
		p.ID, p.Name, p.Color, p.Available)
	if err != nil {
		return fmt.Errorf("upsert pen %s: %w", p.ID, err)
	}
	return nil
}

// PutJob binds a job to a device and replaces its layer assignments.
func (s *Store) PutJob(ctx context.Context, jobID, deviceID string, layers []ports.LayerPen) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO jobs (id, device_id) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET device_id = excluded.device_id`,
		jobID, deviceID); err != nil {
		return fmt.Errorf("upsert job %s: %w", jobID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM job_layers WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("clear layers %s: %w", jobID, err)
	}
	for i, lp := range layers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO job_layers (job_id, position, layer, pen_id) VALUES (?, ?, ?, ?)`,
			jobID, i, lp.Layer, lp.PenID); err != nil {
			return fmt.Errorf("insert layer %s/%s: %w", jobID, lp.Layer, err)
		}
	}
	return tx.Commit()
}

// PutPaperSession records the sheet loaded for a job.
func (s *Store) PutPaperSession(ctx context.Context, jobID string, ps ports.PaperSession) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO paper_sessions (job_id, session_id, paper_id, loaded_at, expires_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET session_id = excluded.session_id, paper_id = excluded.paper_id,
		 loaded_at = excluded.loaded_at, expires_at = excluded.expires_at`,
		jobID, ps.SessionID, ps.PaperID, formatTime(ps.LoadedAt), formatTime(ps.ExpiresAt))
	if err != nil {
		return fmt.Errorf("put paper session %s: %w", jobID, err)
	}
	return nil
}

// PutPhysicalSetup records the operator's setup confirmation.
func (s *Store) PutPhysicalSetup(ctx context.Context, jobID string, ps ports.PhysicalSetup) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO physical_setups (job_id, paper_aligned, pen_height_calibrated, origin_set, confirmed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(job_id) DO UPDATE SET paper_aligned = excluded.paper_aligned,
		 pen_height_calibrated = excluded.pen_height_calibrated, origin_set = excluded.origin_set,
		 confirmed_at = excluded.confirmed_at`,
		jobID, ps.PaperAligned, ps.PenHeightCalibrated, ps.OriginSet, formatTime(ps.ConfirmedAt))
	if err != nil {
		return fmt.Errorf("put physical setup %s: %w", jobID, err)
	}
	return nil
}

// SetChecklist replaces a job's checklist items, all pending.
func (s *Store) SetChecklist(ctx context.Context, jobID string, items []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checklist_items WHERE job_id = ?`, jobID); err != nil {
		return fmt.Errorf("clear checklist %s: %w", jobID, err)
	}
	for i, item := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO checklist_items (job_id, position, item, done) VALUES (?, ?, ?, 0)`,
			jobID, i, item); err != nil {
			return fmt.Errorf("insert checklist item %s: %w", item, err)
		}
	}
	return tx.Commit()
}

// TickChecklist marks one item done.
func (s *Store) TickChecklist(ctx context.Context, jobID, item string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE checklist_items SET done = 1 WHERE job_id = ? AND item = ?`, jobID, item)
	if err != nil {
		return fmt.Errorf("tick %s/%s: %w", jobID, item, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: checklist item %s for job %s", ports.ErrNotFound, item, jobID)
	}
	return nil
}

// Package sqlitecatalog implements the catalog and checklist ports on SQLite.
package sqlitecatalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/bft-labs/plotline/internal/ports"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store is a read-mostly catalog backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. ":memory:" is accepted.
func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("catalog db path is required")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background(), dbPath != ":memory:"); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context, wal bool) error {
	if wal {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
			return fmt.Errorf("set WAL mode: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, entry := range entries {
		version := migrationVersion(entry.Name())
		if entry.IsDir() || version <= 0 {
			continue
		}
		var applied int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer of a migration file name.
func migrationVersion(name string) int {
	end := 0
	for end < len(name) && name[end] >= '0' && name[end] <= '9' {
		end++
	}
	n, _ := strconv.Atoi(name[:end])
	return n
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

func notFound(err error, what, jobID string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s for job %s", ports.ErrNotFound, what, jobID)
	}
	return fmt.Errorf("query %s: %w", what, err)
}

// PaperSession implements ports.CatalogStore.
func (s *Store) PaperSession(ctx context.Context, jobID string) (ports.PaperSession, error) {
	var ps ports.PaperSession
	var loaded, expires string
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, paper_id, loaded_at, expires_at FROM paper_sessions WHERE job_id = ?`, jobID,
	).Scan(&ps.SessionID, &ps.PaperID, &loaded, &expires)
	if err != nil {
		return ports.PaperSession{}, notFound(err, "paper session", jobID)
	}
	if ps.LoadedAt, err = parseTime(loaded); err != nil {
		return ports.PaperSession{}, fmt.Errorf("paper session loaded_at: %w", err)
	}
	if ps.ExpiresAt, err = parseTime(expires); err != nil {
		return ports.PaperSession{}, fmt.Errorf("paper session expires_at: %w", err)
	}
	return ps, nil
}

// PhysicalSetup implements ports.CatalogStore.
func (s *Store) PhysicalSetup(ctx context.Context, jobID string) (ports.PhysicalSetup, error) {
	var ps ports.PhysicalSetup
	var confirmed string
	err := s.db.QueryRowContext(ctx,
		`SELECT paper_aligned, pen_height_calibrated, origin_set, confirmed_at FROM physical_setups WHERE job_id = ?`, jobID,
	).Scan(&ps.PaperAligned, &ps.PenHeightCalibrated, &ps.OriginSet, &confirmed)
	if err != nil {
		return ports.PhysicalSetup{}, notFound(err, "physical setup", jobID)
	}
	if ps.ConfirmedAt, err = parseTime(confirmed); err != nil {
		return ports.PhysicalSetup{}, fmt.Errorf("physical setup confirmed_at: %w", err)
	}
	return ps, nil
}

// JobPens implements ports.CatalogStore. Layers come back in position order.
func (s *Store) JobPens(ctx context.Context, jobID string) ([]ports.LayerPen, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT layer, pen_id FROM job_layers WHERE job_id = ? ORDER BY position ASC, layer ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("query job layers: %w", err)
	}
	defer rows.Close()

	var out []ports.LayerPen
	for rows.Next() {
		var lp ports.LayerPen
		if err := rows.Scan(&lp.Layer, &lp.PenID); err != nil {
			return nil, fmt.Errorf("scan job layer: %w", err)
		}
		out = append(out, lp)
	}
	return out, rows.Err()
}

// Pens implements ports.CatalogStore.
func (s *Store) Pens(ctx context.Context) ([]ports.Pen, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color, available FROM pens ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query pens: %w", err)
	}
	defer rows.Close()

	var out []ports.Pen
	for rows.Next() {
		var p ports.Pen
		if err := rows.Scan(&p.ID, &p.Name, &p.Color, &p.Available); err != nil {
			return nil, fmt.Errorf("scan pen: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// JobDevice implements ports.CatalogStore. Unknown jobs are ports.ErrNotFound.
func (s *Store) JobDevice(ctx context.Context, jobID string) (string, error) {
	var device string
	err := s.db.QueryRowContext(ctx, `SELECT device_id FROM jobs WHERE id = ?`, jobID).Scan(&device)
	if err != nil {
		return "", notFound(err, "job", jobID)
	}
	return device, nil
}

// IsComplete implements ports.ChecklistStore. A job with no checklist is
// reported as ports.ErrNotFound so the guard can warn instead of passing.
func (s *Store) IsComplete(ctx context.Context, jobID string) (bool, []string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item, done FROM checklist_items WHERE job_id = ? ORDER BY position ASC, item ASC`, jobID)
	if err != nil {
		return false, nil, fmt.Errorf("query checklist: %w", err)
	}
	defer rows.Close()

	total := 0
	var pending []string
	for rows.Next() {
		var item string
		var done bool
		if err := rows.Scan(&item, &done); err != nil {
			return false, nil, fmt.Errorf("scan checklist item: %w", err)
		}
		total++
		if !done {
			pending = append(pending, item)
		}
	}
	if err := rows.Err(); err != nil {
		return false, nil, err
	}
	if total == 0 {
		return false, nil, fmt.Errorf("%w: checklist for job %s", ports.ErrNotFound, jobID)
	}
	return len(pending) == 0, pending, nil
}

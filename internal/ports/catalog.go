package ports

import (
	"context"
	"time"
)

// PaperSession is the sheet currently loaded for a job.
type PaperSession struct {
	PaperID   string
	SessionID string
	LoadedAt  time.Time
	// ExpiresAt is zero when the session does not expire.
	ExpiresAt time.Time
}

// Expired reports whether the session has lapsed at now.
func (p PaperSession) Expired(now time.Time) bool {
	return !p.ExpiresAt.IsZero() && !now.Before(p.ExpiresAt)
}

// PhysicalSetup is the operator-confirmed machine setup for a job.
type PhysicalSetup struct {
	PaperAligned        bool
	PenHeightCalibrated bool
	OriginSet           bool
	ConfirmedAt         time.Time
}

// Missing lists the setup steps not yet confirmed.
func (p PhysicalSetup) Missing() []string {
	var out []string
	if !p.PaperAligned {
		out = append(out, "paper_aligned")
	}
	if !p.PenHeightCalibrated {
		out = append(out, "pen_height_calibrated")
	}
	if !p.OriginSet {
		out = append(out, "origin_set")
	}
	return out
}

// LayerPen assigns a pen to one layer of a job. An empty PenID means unassigned.
type LayerPen struct {
	Layer string
	PenID string
}

// Pen is a catalog pen.
type Pen struct {
	ID        string
	Name      string
	Color     string
	Available bool
}

// CatalogStore is a read-only view over paper, pen and job metadata.
type CatalogStore interface {
	PaperSession(ctx context.Context, jobID string) (PaperSession, error)
	PhysicalSetup(ctx context.Context, jobID string) (PhysicalSetup, error)
	JobPens(ctx context.Context, jobID string) ([]LayerPen, error)
	Pens(ctx context.Context) ([]Pen, error)
	// JobDevice returns the device a job is bound to, or "" when unbound.
	JobDevice(ctx context.Context, jobID string) (string, error)
}

// ChecklistStore tracks the manual pre-flight checklist.
type ChecklistStore interface {
	// IsComplete reports completion and lists the items still pending.
	IsComplete(ctx context.Context, jobID string) (bool, []string, error)
}

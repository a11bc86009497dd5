package guard

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/ports"
)

// Built-in guard names.
const (
	NameDeviceIdle        = "device_idle"
	NamePhysicalSetup     = "physical_setup"
	NameChecklistComplete = "checklist_complete"
	NamePaperSession      = "paper_session"
	NamePenLayerCompat    = "pen_layer_compat"
	NameCameraHealth      = "camera_health"
)

// DefaultDeviceID is used when the catalog does not bind a job to a device.
const DefaultDeviceID = "default"

// Dependencies are the collaborators the built-in guards read from.
// A nil collaborator disables the guards that need it.
type Dependencies struct {
	Device    ports.DeviceDriver
	Catalog   ports.CatalogStore
	Checklist ports.ChecklistStore
	Camera    ports.CameraProbe
	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultRegistry returns a registry holding every built-in guard whose
// dependencies are present.
func DefaultRegistry(deps Dependencies, opts ...Option) *Registry {
	r := NewRegistry(opts...)
	armed := []domain.JobState{domain.StateArmed}
	if deps.Device != nil {
		r.MustRegister(&DeviceIdle{Device: deps.Device, Catalog: deps.Catalog}, armed)
	}
	if deps.Catalog != nil {
		r.MustRegister(&PhysicalSetupGuard{Catalog: deps.Catalog}, armed)
	}
	if deps.Checklist != nil {
		r.MustRegister(&ChecklistComplete{Checklist: deps.Checklist}, armed)
	}
	if deps.Catalog != nil {
		r.MustRegister(&PaperSessionGuard{Catalog: deps.Catalog, Now: deps.Now}, armed)
		r.MustRegister(&PenLayerCompat{Catalog: deps.Catalog}, armed)
	}
	if deps.Camera != nil {
		r.MustRegister(&CameraHealth{Camera: deps.Camera}, []domain.JobState{domain.StatePlotting})
	}
	return r
}

// unavailable maps expected outages to SOFT_FAIL and anything else to an error.
func unavailable(name string, err error, what string) (Result, error) {
	switch {
	case errors.Is(err, ports.ErrUnavailable):
		return SoftFail(name, what+" unavailable").With("error", err.Error()), nil
	case errors.Is(err, ports.ErrNotFound):
		return SoftFail(name, what+" not recorded"), nil
	default:
		return Result{}, fmt.Errorf("%s: %w", what, err)
	}
}

// DeviceIdle blocks arming while the plotter is busy.
type DeviceIdle struct {
	Device  ports.DeviceDriver
	Catalog ports.CatalogStore
}

func (g *DeviceIdle) Name() string { return NameDeviceIdle }

func (g *DeviceIdle) Check(ctx context.Context, jobID string) (Result, error) {
	deviceID := DefaultDeviceID
	if g.Catalog != nil {
		id, err := g.Catalog.JobDevice(ctx, jobID)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return unavailable(g.Name(), err, "device binding")
		}
		if id != "" {
			deviceID = id
		}
	}
	idle, err := g.Device.IsIdle(ctx, deviceID)
	if err != nil {
		r, err := unavailable(g.Name(), err, "device status")
		return r.With("device_id", deviceID), err
	}
	if !idle {
		return Fail(g.Name(), "device busy").With("device_id", deviceID), nil
	}
	return Pass(g.Name(), "device idle").With("device_id", deviceID), nil
}

// PhysicalSetupGuard requires the operator to confirm alignment, pen height and origin.
type PhysicalSetupGuard struct {
	Catalog ports.CatalogStore
}

func (g *PhysicalSetupGuard) Name() string { return NamePhysicalSetup }

func (g *PhysicalSetupGuard) Check(ctx context.Context, jobID string) (Result, error) {
	setup, err := g.Catalog.PhysicalSetup(ctx, jobID)
	if err != nil {
		return unavailable(g.Name(), err, "physical setup")
	}
	if missing := setup.Missing(); len(missing) > 0 {
		return Fail(g.Name(), "physical setup incomplete: "+strings.Join(missing, ", ")).
			With("missing", missing), nil
	}
	return Pass(g.Name(), "physical setup confirmed"), nil
}

// ChecklistComplete requires every pre-flight checklist item to be ticked.
type ChecklistComplete struct {
	Checklist ports.ChecklistStore
}

func (g *ChecklistComplete) Name() string { return NameChecklistComplete }

func (g *ChecklistComplete) Check(ctx context.Context, jobID string) (Result, error) {
	done, pending, err := g.Checklist.IsComplete(ctx, jobID)
	if err != nil {
		return unavailable(g.Name(), err, "checklist")
	}
	if !done {
		return Fail(g.Name(), fmt.Sprintf("checklist incomplete: %d item(s) pending", len(pending))).
			With("pending", pending), nil
	}
	return Pass(g.Name(), "checklist complete"), nil
}

// PaperSessionGuard requires a loaded, unexpired paper session.
type PaperSessionGuard struct {
	Catalog ports.CatalogStore
	Now     func() time.Time
}

func (g *PaperSessionGuard) Name() string { return NamePaperSession }

func (g *PaperSessionGuard) Check(ctx context.Context, jobID string) (Result, error) {
	sess, err := g.Catalog.PaperSession(ctx, jobID)
	if err != nil {
		return unavailable(g.Name(), err, "paper session")
	}
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	if sess.Expired(now()) {
		return Fail(g.Name(), "paper session expired").
			With("session_id", sess.SessionID).
			With("expired_at", sess.ExpiresAt.UTC().Format(time.RFC3339)), nil
	}
	return Pass(g.Name(), "paper session valid").
		With("session_id", sess.SessionID).
		With("paper_id", sess.PaperID), nil
}

// PenLayerCompat requires every layer to have an assigned, known pen.
type PenLayerCompat struct {
	Catalog ports.CatalogStore
}

func (g *PenLayerCompat) Name() string { return NamePenLayerCompat }

func (g *PenLayerCompat) Check(ctx context.Context, jobID string) (Result, error) {
	layers, err := g.Catalog.JobPens(ctx, jobID)
	if err != nil {
		return unavailable(g.Name(), err, "layer pens")
	}
	if len(layers) == 0 {
		return SoftFail(g.Name(), "job has no layers"), nil
	}
	pens, err := g.Catalog.Pens(ctx)
	if err != nil {
		return unavailable(g.Name(), err, "pen catalog")
	}
	byID := make(map[string]ports.Pen, len(pens))
	for _, p := range pens {
		byID[p.ID] = p
	}

	var unassigned, unknown, unavailablePens []string
	for _, lp := range layers {
		if lp.PenID == "" {
			unassigned = append(unassigned, lp.Layer)
			continue
		}
		p, ok := byID[lp.PenID]
		if !ok {
			unknown = append(unknown, lp.Layer+"="+lp.PenID)
			continue
		}
		if !p.Available {
			unavailablePens = append(unavailablePens, lp.PenID)
		}
	}
	sort.Strings(unavailablePens)

	if len(unassigned) > 0 || len(unknown) > 0 {
		r := Fail(g.Name(), "layers without a usable pen")
		if len(unassigned) > 0 {
			r = r.With("unassigned", unassigned)
		}
		if len(unknown) > 0 {
			r = r.With("unknown", unknown)
		}
		return r, nil
	}
	if len(unavailablePens) > 0 {
		return SoftFail(g.Name(), "pens marked unavailable").With("pens", unavailablePens), nil
	}
	return Pass(g.Name(), fmt.Sprintf("%d layer(s) have pens", len(layers))), nil
}

// CameraHealth warns when plotting would start without camera monitoring.
type CameraHealth struct {
	Camera ports.CameraProbe
}

func (g *CameraHealth) Name() string { return NameCameraHealth }

func (g *CameraHealth) Check(ctx context.Context, _ string) (Result, error) {
	ok, err := g.Camera.Healthy(ctx)
	if err != nil {
		if errors.Is(err, ports.ErrUnavailable) {
			return SoftFail(g.Name(), "camera unreachable"), nil
		}
		return Result{}, fmt.Errorf("camera: %w", err)
	}
	if !ok {
		return SoftFail(g.Name(), "camera unhealthy"), nil
	}
	return Pass(g.Name(), "camera healthy"), nil
}

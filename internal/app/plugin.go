package app

import (
	"context"

	"github.com/bft-labs/plotline/internal/hooks"
	"github.com/bft-labs/plotline/internal/journal"
	"github.com/bft-labs/plotline/internal/recovery"
	"github.com/bft-labs/plotline/pkg/log"
)

// Plugin is an optional component started and stopped with the engine.
// Plugins are initialized in registration order and shut down in reverse.
type Plugin interface {
	// Name returns a short identifier used in logs.
	Name() string

	// Initialize is called during Start(). ctx is cancelled on Stop().
	// An error aborts the start and leaves the engine Crashed.
	Initialize(ctx context.Context, cfg PluginConfig) error

	// Shutdown is called during Stop().
	Shutdown(ctx context.Context) error
}

// PluginConfig is what a plugin may use from the running engine.
type PluginConfig struct {
	JobsDir   string
	HooksFile string

	Journal     *journal.Store
	Coordinator *recovery.Coordinator
	Dispatcher  *hooks.Dispatcher
	Logger      log.Logger
}

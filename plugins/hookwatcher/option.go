package hookwatcher

import "github.com/bft-labs/plotline/internal/app"

// WithHookWatcher returns an engine Option that reloads the hooks file on change.
//
// Usage:
//
//	e, err := app.New(cfg,
//	    hookwatcher.WithHookWatcher(hookwatcher.Config{
//	        DebounceDelay: 200 * time.Millisecond,
//	    }),
//	)
func WithHookWatcher(cfg Config) app.Option {
	return app.WithPlugin(New(cfg))
}

// WithDefaultHookWatcher enables the hook watcher with default settings.
func WithDefaultHookWatcher() app.Option {
	return WithHookWatcher(DefaultConfig())
}

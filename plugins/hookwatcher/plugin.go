// Package hookwatcher reloads the hooks file when it changes on disk.
// A file that fails to parse is logged and the previous table stays active.
package hookwatcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bft-labs/plotline/internal/app"
	"github.com/bft-labs/plotline/internal/hooks"
	"github.com/bft-labs/plotline/pkg/log"
)

// TableSetter receives reloaded hook tables. *hooks.Dispatcher satisfies it.
type TableSetter interface {
	SetTable(t *hooks.Table)
}

// Plugin watches the hooks file directory.
type Plugin struct {
	mu sync.Mutex

	// Configuration
	debounceDelay time.Duration
	onReload      func(*hooks.Table, error)

	// Runtime state
	path     string
	target   TableSetter
	logger   log.Logger
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	debounce *time.Timer
}

// Config holds configuration options for the hook watcher plugin.
type Config struct {
	// DebounceDelay is the quiet period after a change before reloading.
	// Default: 200 milliseconds
	DebounceDelay time.Duration

	// OnReload, when set, is called after every reload attempt.
	OnReload func(*hooks.Table, error)
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{DebounceDelay: 200 * time.Millisecond}
}

// New creates a hook watcher plugin.
func New(cfg Config) *Plugin {
	if cfg.DebounceDelay <= 0 {
		cfg.DebounceDelay = 200 * time.Millisecond
	}
	return &Plugin{
		debounceDelay: cfg.DebounceDelay,
		onReload:      cfg.OnReload,
		logger:        log.NewNoopLogger(),
	}
}

// Name returns the plugin identifier.
func (p *Plugin) Name() string {
	return "hookwatcher"
}

// Initialize starts watching cfg.HooksFile. With no hooks file configured
// the plugin stays idle.
func (p *Plugin) Initialize(ctx context.Context, cfg app.PluginConfig) error {
	var target TableSetter
	if cfg.Dispatcher != nil {
		target = cfg.Dispatcher
	}
	return p.start(ctx, cfg.HooksFile, target, cfg.Logger)
}

func (p *Plugin) start(ctx context.Context, path string, target TableSetter, logger log.Logger) error {
	p.mu.Lock()
	p.path = path
	p.target = target
	p.logger = log.OrNoop(logger).With(log.String("plugin", p.Name()))
	p.mu.Unlock()

	if path == "" || target == nil {
		p.logger.Warn("hook watcher disabled: no hooks file configured")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// The directory is watched so editors that replace the file are seen.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return err
	}

	watchCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.logger.Info("hook watcher initialized", log.String("path", path))

	p.wg.Add(1)
	go p.watchLoop(watchCtx, watcher)
	return nil
}

// Shutdown stops the watcher.
func (p *Plugin) Shutdown(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	p.mu.Lock()
	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.mu.Unlock()
	return nil
}

func (p *Plugin) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer p.wg.Done()
	defer watcher.Close()

	name := filepath.Base(p.path)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			p.debounceReload(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("hook watcher error", log.Err(err))
		}
	}
}

func (p *Plugin) debounceReload(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.debounce != nil {
		p.debounce.Stop()
	}
	p.debounce = time.AfterFunc(p.debounceDelay, func() {
		if ctx.Err() != nil {
			return
		}
		p.Reload()
	})
}

// Reload reads the hooks file now and swaps the table if it is valid.
func (p *Plugin) Reload() {
	p.mu.Lock()
	path, target, logger, onReload := p.path, p.target, p.logger, p.onReload
	p.mu.Unlock()

	t, err := hooks.LoadFile(path)
	if err != nil {
		logger.Error("hooks reload failed, keeping previous table", log.String("path", path), log.Err(err))
	} else {
		target.SetTable(t)
		logger.Info("hooks reloaded", log.String("path", path), log.Int("hooks", t.Len()))
	}
	if onReload != nil {
		onReload(t, err)
	}
}

var _ app.Plugin = (*Plugin)(nil)

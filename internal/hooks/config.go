package hooks

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/bft-labs/plotline/internal/domain"
)

// DefaultTimeout bounds a hook command when neither the hook nor the file sets one.
const DefaultTimeout = 30 * time.Second

// FileConfig is the raw TOML shape of a hooks file.
type FileConfig struct {
	DefaultTimeout string             `toml:"default_timeout"`
	State          map[string][]Entry `toml:"state"`
}

// Entry is one hook as written in the file.
type Entry struct {
	Name    string `toml:"name"`
	Command string `toml:"command"`
	Timeout string `toml:"timeout"`
}

// Hook is a validated hook ready to run.
type Hook struct {
	Name    string
	Command string
	// Timeout is zero when the dispatcher default applies.
	Timeout time.Duration
}

// Table maps a state to the hooks run when a job enters it, in file order.
type Table struct {
	hooks          map[domain.JobState][]Hook
	defaultTimeout time.Duration
}

// EmptyTable returns a table with no hooks.
func EmptyTable() *Table {
	return &Table{hooks: map[domain.JobState][]Hook{}}
}

// For returns the hooks for s. The slice must not be modified.
func (t *Table) For(s domain.JobState) []Hook {
	if t == nil {
		return nil
	}
	return t.hooks[s]
}

// DefaultTimeout returns the file-level default, or zero.
func (t *Table) DefaultTimeout() time.Duration {
	if t == nil {
		return 0
	}
	return t.defaultTimeout
}

// Len returns the total number of hooks.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	n := 0
	for _, hs := range t.hooks {
		n += len(hs)
	}
	return n
}

// States lists the states that have hooks, sorted.
func (t *Table) States() []domain.JobState {
	if t == nil {
		return nil
	}
	out := make([]domain.JobState, 0, len(t.hooks))
	for s := range t.hooks {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// LoadFile reads and validates a hooks file. A missing file yields an empty table.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return EmptyTable(), nil
		}
		return nil, fmt.Errorf("read hooks file: %w", err)
	}
	t, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("hooks file %s: %w", path, err)
	}
	return t, nil
}

// Parse decodes and validates TOML hook configuration.
func Parse(data []byte) (*Table, error) {
	var fc FileConfig
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return nil, fmt.Errorf("parse hooks: %w", err)
	}
	return fc.Table()
}

// Table validates fc and converts it to a Table.
func (fc FileConfig) Table() (*Table, error) {
	t := EmptyTable()
	if fc.DefaultTimeout != "" {
		d, err := parsePositiveDuration(fc.DefaultTimeout)
		if err != nil {
			return nil, fmt.Errorf("default_timeout: %w", err)
		}
		t.defaultTimeout = d
	}

	var errs []error
	for name, specs := range fc.State {
		state, err := domain.ParseState(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("state %q: %w", name, err))
			continue
		}
		seen := map[string]bool{}
		for i, s := range specs {
			h, err := s.hook(i)
			if err != nil {
				errs = append(errs, fmt.Errorf("state %s hook %d: %w", state, i+1, err))
				continue
			}
			if seen[h.Name] {
				errs = append(errs, fmt.Errorf("state %s: duplicate hook name %q", state, h.Name))
				continue
			}
			seen[h.Name] = true
			t.hooks[state] = append(t.hooks[state], h)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}

func (s Entry) hook(i int) (Hook, error) {
	cmd := strings.TrimSpace(s.Command)
	if cmd == "" {
		return Hook{}, fmt.Errorf("empty command")
	}
	name := strings.TrimSpace(s.Name)
	if name == "" {
		name = fmt.Sprintf("hook-%d", i+1)
	}
	h := Hook{Name: name, Command: cmd}
	if s.Timeout != "" {
		d, err := parsePositiveDuration(s.Timeout)
		if err != nil {
			return Hook{}, fmt.Errorf("timeout: %w", err)
		}
		h.Timeout = d
	}
	return h, nil
}

func parsePositiveDuration(s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", s)
	}
	return d, nil
}

package journal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/bft-labs/plotline/pkg/log"
)

// FileName is the journal file inside each job directory.
const FileName = "journal.jsonl"

const maxLineSize = 4 * 1024 * 1024

// Store manages journals below a root directory.
type Store struct {
	root   string
	logger log.Logger
	noSync bool

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l log.Logger) Option {
	return func(s *Store) { s.logger = log.OrNoop(l) }
}

// WithoutSync skips fsync after appends. Only for tests and throwaway data.
func WithoutSync() Option {
	return func(s *Store) { s.noSync = true }
}

// NewStore returns a Store rooted at root. The directory is created lazily.
func NewStore(root string, opts ...Option) *Store {
	s := &Store{
		root:   root,
		logger: log.NewNoopLogger(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the jobs root directory.
func (s *Store) Root() string {
	return s.root
}

// Path returns the journal file path for jobID.
func (s *Store) Path(jobID string) string {
	return filepath.Join(s.root, jobID, FileName)
}

// ValidateJobID reports whether id is usable as a single path element.
func ValidateJobID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.ContainsRune(id, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidJobID, id)
	}
	return nil
}

func (s *Store) lock(jobID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[jobID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[jobID] = l
	}
	return l
}

// Append writes e as one line at the end of jobID's journal and syncs it.
func (s *Store) Append(jobID string, e Event) error {
	if err := ValidateJobID(jobID); err != nil {
		return err
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}

	l := s.lock(jobID)
	l.Lock()
	defer l.Unlock()

	if err := os.MkdirAll(filepath.Join(s.root, jobID), 0o755); err != nil {
		return fmt.Errorf("journal: create job dir: %w", err)
	}
	f, err := os.OpenFile(s.Path(jobID), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: open: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return fmt.Errorf("journal: write: %w", err)
	}
	if !s.noSync {
		if err := f.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("journal: sync: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("journal: close: %w", err)
	}

	s.logger.Debug("journal append",
		log.String("job_id", jobID),
		log.String("type", e.Type()),
	)
	return nil
}

// ReadAll decodes every entry of jobID's journal in write order.
func (s *Store) ReadAll(jobID string) ([]Event, error) {
	if err := ValidateJobID(jobID); err != nil {
		return nil, err
	}
	l := s.lock(jobID)
	l.Lock()
	defer l.Unlock()

	lines, err := s.readLines(jobID)
	if err != nil {
		return nil, err
	}
	events := make([]Event, 0, len(lines))
	for _, ln := range lines {
		ev, err := Decode(ln.data)
		if err != nil {
			return nil, &CorruptionError{JobID: jobID, Line: ln.number, Err: err}
		}
		events = append(events, ev)
	}
	return events, nil
}

// Count returns the number of entries in jobID's journal without decoding them.
func (s *Store) Count(jobID string) (int, error) {
	if err := ValidateJobID(jobID); err != nil {
		return 0, err
	}
	l := s.lock(jobID)
	l.Lock()
	defer l.Unlock()

	lines, err := s.readLines(jobID)
	if err != nil {
		return 0, err
	}
	return len(lines), nil
}

// Exists reports whether jobID has a journal file.
func (s *Store) Exists(jobID string) bool {
	if ValidateJobID(jobID) != nil {
		return false
	}
	info, err := os.Stat(s.Path(jobID))
	return err == nil && info.Mode().IsRegular()
}

type rawLine struct {
	number int
	data   []byte
}

// readLines returns the non-blank lines of the journal. Caller holds the job lock.
func (s *Store) readLines(jobID string) ([]rawLine, error) {
	f, err := os.Open(s.Path(jobID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, jobID)
		}
		return nil, fmt.Errorf("journal: open: %w", err)
	}
	defer f.Close()

	var lines []rawLine
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	n := 0
	for sc.Scan() {
		n++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		lines = append(lines, rawLine{number: n, data: append([]byte(nil), b...)})
	}
	if err := sc.Err(); err != nil {
		return nil, &CorruptionError{JobID: jobID, Line: n + 1, Err: err}
	}
	return lines, nil
}

// Cleanup truncates jobID's journal to its most recent keep entries and
// returns how many were removed. The file is replaced atomically. Journals
// already at or below keep are left untouched.
func (s *Store) Cleanup(jobID string, keep int) (int, error) {
	if err := ValidateJobID(jobID); err != nil {
		return 0, err
	}
	if keep <= 0 {
		return 0, fmt.Errorf("journal: keep must be positive, got %d", keep)
	}
	l := s.lock(jobID)
	l.Lock()
	defer l.Unlock()

	lines, err := s.readLines(jobID)
	if err != nil {
		return 0, err
	}
	if len(lines) <= keep {
		return 0, nil
	}
	removed := len(lines) - keep
	tail := lines[removed:]

	var buf bytes.Buffer
	for _, ln := range tail {
		buf.Write(ln.data)
		buf.WriteByte('\n')
	}
	if err := s.replace(jobID, buf.Bytes()); err != nil {
		return 0, err
	}

	s.logger.Info("journal cleaned up",
		log.String("job_id", jobID),
		log.Int("removed", removed),
		log.Int("kept", keep),
	)
	return removed, nil
}

// replace swaps the journal for data via a temp file in the same directory.
func (s *Store) replace(jobID string, data []byte) error {
	dir := filepath.Join(s.root, jobID)
	tmp, err := os.CreateTemp(dir, "."+FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("journal: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("journal: write temp: %w", err)
	}
	if !s.noSync {
		if err := tmp.Sync(); err != nil {
			_ = tmp.Close()
			cleanup()
			return fmt.Errorf("journal: sync temp: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("journal: close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		cleanup()
		return fmt.Errorf("journal: chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, s.Path(jobID)); err != nil {
		cleanup()
		return fmt.Errorf("journal: rename: %w", err)
	}
	return nil
}

// JobIDs lists, in sorted order, every job directory that holds a journal.
func (s *Store) JobIDs() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("journal: list root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if s.Exists(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

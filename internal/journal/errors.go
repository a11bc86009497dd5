package journal

import (
	"errors"
	"fmt"

	"github.com/bft-labs/plotline/internal/domain"
)

var (
	// ErrNotFound is returned when a job has no journal file.
	ErrNotFound = errors.New("journal: not found")

	// ErrInvalidJobID is returned for ids that cannot be used as a directory name.
	ErrInvalidJobID = errors.New("journal: invalid job id")
)

// CorruptionError reports the first undecodable line of a journal.
type CorruptionError struct {
	JobID string
	Line  int
	Err   error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("journal %s: line %d: %v", e.JobID, e.Line, e.Err)
}

// Unwrap lets errors.Is match domain.ErrJournalCorrupt as well as the cause.
func (e *CorruptionError) Unwrap() []error {
	return []error{domain.ErrJournalCorrupt, e.Err}
}

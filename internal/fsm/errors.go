package fsm

import (
	"fmt"
	"strings"

	"github.com/bft-labs/plotline/internal/domain"
	"github.com/bft-labs/plotline/internal/guard"
)

// GuardBlockedError carries the guard results of a rejected transition.
type GuardBlockedError struct {
	JobID   string
	From    domain.JobState
	To      domain.JobState
	Results []guard.Result
}

func (e *GuardBlockedError) Error() string {
	var names []string
	for _, r := range guard.Blocking(e.Results) {
		names = append(names, r.Guard+": "+r.Message)
	}
	return fmt.Sprintf("job %s: %s -> %s blocked by %s", e.JobID, e.From, e.To, strings.Join(names, "; "))
}

// Unwrap matches domain.ErrGuardBlocked.
func (e *GuardBlockedError) Unwrap() error {
	return domain.ErrGuardBlocked
}

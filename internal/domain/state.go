package domain

import (
	"fmt"
	"strings"
)

// JobState is a lifecycle state of a plotting job.
type JobState string

const (
	StateNew       JobState = "NEW"
	StateQueued    JobState = "QUEUED"
	StateAnalyzed  JobState = "ANALYZED"
	StateOptimized JobState = "OPTIMIZED"
	StateReady     JobState = "READY"
	StateArmed     JobState = "ARMED"
	StatePlotting  JobState = "PLOTTING"
	StatePaused    JobState = "PAUSED"
	StateCompleted JobState = "COMPLETED"
	StateAborted   JobState = "ABORTED"
	StateFailed    JobState = "FAILED"
)

var allStates = []JobState{
	StateNew,
	StateQueued,
	StateAnalyzed,
	StateOptimized,
	StateReady,
	StateArmed,
	StatePlotting,
	StatePaused,
	StateCompleted,
	StateAborted,
	StateFailed,
}

// transitions is the directed edge table. Terminal states map to nothing.
var transitions = map[JobState][]JobState{
	StateNew:       {StateQueued, StateAnalyzed, StateReady, StateFailed, StateAborted},
	StateQueued:    {StateAnalyzed, StateFailed, StateAborted},
	StateAnalyzed:  {StateOptimized, StateReady, StateFailed, StateAborted},
	StateOptimized: {StateReady, StateFailed, StateAborted},
	StateReady:     {StateArmed, StatePlotting, StateFailed, StateAborted},
	StateArmed:     {StatePlotting, StateReady, StateFailed, StateAborted},
	StatePlotting:  {StatePaused, StateCompleted, StateFailed, StateAborted},
	StatePaused:    {StatePlotting, StateAborted, StateFailed},
}

// shortcuts lists edges that skip a checkpoint state whose entry checks
// must still hold.
var shortcuts = map[[2]JobState][]JobState{
	{StateReady, StatePlotting}: {StateArmed},
}

// AllStates returns every state in lifecycle order.
func AllStates() []JobState {
	out := make([]JobState, len(allStates))
	copy(out, allStates)
	return out
}

// ParseState converts a state name (case-insensitive) to a JobState.
func ParseState(s string) (JobState, error) {
	st := JobState(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("unknown job state %q", s)
	}
	return st, nil
}

// Valid reports whether s is one of the known states.
func (s JobState) Valid() bool {
	for _, st := range allStates {
		if st == s {
			return true
		}
	}
	return false
}

// String returns the state name.
func (s JobState) String() string {
	return string(s)
}

// IsTerminal reports whether s has no outgoing edges.
func IsTerminal(s JobState) bool {
	switch s {
	case StateCompleted, StateAborted, StateFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether s is a terminal state.
func (s JobState) IsTerminal() bool {
	return IsTerminal(s)
}

// CanTransition reports whether from→to is an edge in the table.
// Self-loops are never in the table.
func CanTransition(from, to JobState) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Targets returns the states reachable from s in one step.
func Targets(s JobState) []JobState {
	src := transitions[s]
	out := make([]JobState, len(src))
	copy(out, src)
	return out
}

// Bypassed returns the checkpoint states the edge from->to skips over.
func Bypassed(from, to JobState) []JobState {
	src := shortcuts[[2]JobState{from, to}]
	if len(src) == 0 {
		return nil
	}
	out := make([]JobState, len(src))
	copy(out, src)
	return out
}

// Resumable reports whether a job whose last recorded state is s should be
// offered for resumption. COMPLETED and ABORTED jobs are finished; FAILED jobs
// stay visible so an operator can inspect and retry them.
func Resumable(s JobState) bool {
	return s != StateCompleted && s != StateAborted
}

package domain

import "time"

// Transition is an accepted state change. Once recorded it is never mutated.
type Transition struct {
	From      JobState  `json:"from_state"`
	To        JobState  `json:"to_state"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
	Metadata  Metadata  `json:"metadata"`
}

// NewTransition builds a Transition with a UTC timestamp and a private copy of md.
func NewTransition(from, to JobState, at time.Time, reason string, md Metadata) Transition {
	return Transition{
		From:      from,
		To:        to,
		Timestamp: at.UTC(),
		Reason:    reason,
		Metadata:  md.Clone(),
	}
}

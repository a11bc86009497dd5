package broadcast

import (
	"time"

	"github.com/bft-labs/plotline/internal/domain"
)

// Well-known channels.
const (
	ChannelJobs   = "jobs"
	ChannelSystem = "system"
)

// Message types.
const (
	TypeJobStateChange = "job_state_change"
	TypeSubscribe      = "SUBSCRIBE"
	TypeUnsubscribe    = "UNSUBSCRIBE"
	TypeSubscribed     = "subscribed"
	TypeUnsubscribed   = "unsubscribed"
	TypeError          = "error"
)

// JobStateChange is pushed on the jobs channel for every accepted transition.
type JobStateChange struct {
	Type      string          `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	JobID     string          `json:"job_id"`
	FromState domain.JobState `json:"from_state"`
	ToState   domain.JobState `json:"to_state"`
	Reason    string          `json:"reason"`
	Metadata  domain.Metadata `json:"metadata"`
}

// NewJobStateChange builds the broadcast payload for tr.
func NewJobStateChange(jobID string, tr domain.Transition) JobStateChange {
	return JobStateChange{
		Type:      TypeJobStateChange,
		Timestamp: tr.Timestamp.UTC(),
		JobID:     jobID,
		FromState: tr.From,
		ToState:   tr.To,
		Reason:    tr.Reason,
		Metadata:  tr.Metadata,
	}
}

// ControlMessage is sent by clients to change their subscriptions.
type ControlMessage struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels"`
}

// Ack is written back to a client after a control message.
type Ack struct {
	Type     string   `json:"type"`
	Channels []string `json:"channels,omitempty"`
	Error    string   `json:"error,omitempty"`
}

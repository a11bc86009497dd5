package journal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/bft-labs/plotline/internal/domain"
)

// Event type discriminators as written to disk.
const (
	TypeStateChange       = "state_change"
	TypeEmergencyShutdown = "emergency_shutdown"
)

// Event is a single journal entry. The set of implementations is closed.
type Event interface {
	Type() string
	Time() time.Time
	isEvent()
}

// StateChange records an accepted transition.
type StateChange struct {
	From      domain.JobState
	To        domain.JobState
	Timestamp time.Time
	Reason    string
	Metadata  domain.Metadata
}

// EmergencyShutdown records that the process went down while the job was in State.
type EmergencyShutdown struct {
	State     domain.JobState
	Timestamp time.Time
	Reason    string
}

// FromTransition converts an accepted transition into its journal event.
func FromTransition(tr domain.Transition) StateChange {
	return StateChange{
		From:      tr.From,
		To:        tr.To,
		Timestamp: tr.Timestamp,
		Reason:    tr.Reason,
		Metadata:  tr.Metadata,
	}
}

func (StateChange) Type() string { return TypeStateChange }

func (e StateChange) Time() time.Time { return e.Timestamp }

// Transition returns the domain record for e.
func (e StateChange) Transition() domain.Transition {
	return domain.NewTransition(e.From, e.To, e.Timestamp, e.Reason, e.Metadata)
}

func (StateChange) isEvent() {}

func (EmergencyShutdown) Type() string { return TypeEmergencyShutdown }

func (e EmergencyShutdown) Time() time.Time { return e.Timestamp }

func (EmergencyShutdown) isEvent() {}

// Field order here is the on-disk field order.
type stateChangeLine struct {
	Type      string          `json:"type"`
	From      domain.JobState `json:"from_state"`
	To        domain.JobState `json:"to_state"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
	Metadata  domain.Metadata `json:"metadata"`
}

type emergencyShutdownLine struct {
	Type      string          `json:"type"`
	State     domain.JobState `json:"state"`
	Timestamp time.Time       `json:"timestamp"`
	Reason    string          `json:"reason"`
}

type envelope struct {
	Type string `json:"type"`
}

// Encode renders e as a single JSON line including the trailing newline.
func Encode(e Event) ([]byte, error) {
	var line any
	switch ev := e.(type) {
	case StateChange:
		line = stateChangeLine{
			Type:      TypeStateChange,
			From:      ev.From,
			To:        ev.To,
			Timestamp: ev.Timestamp.UTC(),
			Reason:    ev.Reason,
			Metadata:  ev.Metadata,
		}
	case *StateChange:
		return Encode(*ev)
	case EmergencyShutdown:
		line = emergencyShutdownLine{
			Type:      TypeEmergencyShutdown,
			State:     ev.State,
			Timestamp: ev.Timestamp.UTC(),
			Reason:    ev.Reason,
		}
	case *EmergencyShutdown:
		return Encode(*ev)
	default:
		return nil, fmt.Errorf("journal: unsupported event %T", e)
	}
	data, err := json.Marshal(line)
	if err != nil {
		return nil, fmt.Errorf("journal: encode %s: %w", e.Type(), err)
	}
	return append(data, '\n'), nil
}

// Decode parses one journal line.
func Decode(line []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("envelope: %w", err)
	}
	switch env.Type {
	case TypeStateChange:
		var l stateChangeLine
		if err := strictUnmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("%s: %w", env.Type, err)
		}
		if !l.From.Valid() || !l.To.Valid() {
			return nil, fmt.Errorf("%s: unknown state %q -> %q", env.Type, l.From, l.To)
		}
		if l.Timestamp.IsZero() {
			return nil, fmt.Errorf("%s: missing timestamp", env.Type)
		}
		return StateChange{
			From:      l.From,
			To:        l.To,
			Timestamp: l.Timestamp.UTC(),
			Reason:    l.Reason,
			Metadata:  l.Metadata,
		}, nil
	case TypeEmergencyShutdown:
		var l emergencyShutdownLine
		if err := strictUnmarshal(line, &l); err != nil {
			return nil, fmt.Errorf("%s: %w", env.Type, err)
		}
		if !l.State.Valid() {
			return nil, fmt.Errorf("%s: unknown state %q", env.Type, l.State)
		}
		if l.Timestamp.IsZero() {
			return nil, fmt.Errorf("%s: missing timestamp", env.Type)
		}
		return EmergencyShutdown{
			State:     l.State,
			Timestamp: l.Timestamp.UTC(),
			Reason:    l.Reason,
		}, nil
	case "":
		return nil, fmt.Errorf("missing type")
	default:
		return nil, fmt.Errorf("unknown type %q", env.Type)
	}
}

// strictUnmarshal rejects trailing data after the object.
func strictUnmarshal(line []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(line))
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("trailing data")
	}
	return nil
}

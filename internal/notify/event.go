// Package notify sends operator alerts about rotation steps. Events never
// carry secret material.
package notify

import (
	"time"

	"github.com/systmms/keyrot/pkg/rotation"
)

// EventType is the outcome class of a rotation step
type EventType string

const (
	// EventCompleted is a step that did what it decided to do.
	EventCompleted EventType = "completed"

	// EventFailed is a step that stopped on a store, lock or distribution
	// error. The next run re-derives its action.
	EventFailed EventType = "failed"

	// EventFatal is a principal whose keys rotation refuses to touch.
	// It needs an operator.
	EventFatal EventType = "fatal"
)

// AllEventTypes returns every event type in severity order
func AllEventTypes() []EventType {
	return []EventType{EventCompleted, EventFailed, EventFatal}
}

// Event describes one finished rotation step
type Event struct {
	Type      EventType     `json:"type"`
	Principal string        `json:"principal"`
	Action    string        `json:"action,omitempty"`
	KeyID     string        `json:"key_id,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration_ns"`
	Timestamp time.Time     `json:"timestamp"`
}

// EventFromResult converts the outcome of Engine.Rotate into an Event
func EventFromResult(res *rotation.Result, err error, now time.Time) Event {
	ev := Event{
		Type:      EventCompleted,
		Principal: res.Principal,
		Action:    string(res.Action.Kind),
		KeyID:     res.Action.KeyID,
		Duration:  res.Duration,
		Timestamp: now.UTC(),
	}
	if res.NewKey != nil {
		ev.KeyID = res.NewKey.ID
	}
	if err == nil {
		return ev
	}

	ev.Type = EventFailed
	ev.Reason = rotation.FailureReason(err)
	ev.Error = err.Error()
	if ev.Reason == rotation.ReasonInvariant {
		ev.Type = EventFatal
	}
	return ev
}

// Title is a one-line summary used as a message heading
func (e Event) Title() string {
	switch e.Type {
	case EventFatal:
		return "Rotation halted for " + e.Principal
	case EventFailed:
		return "Rotation failed for " + e.Principal
	default:
		if e.Action == "" {
			return "Rotation step completed for " + e.Principal
		}
		return "Rotation " + e.Action + " completed for " + e.Principal
	}
}

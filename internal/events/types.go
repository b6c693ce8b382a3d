// internal/events/types.go
package events

import (
	"time"

	"github.com/rovshanmuradov/meteora-bot/internal/domain"
)

// EventType represents the type of event.
type EventType string

const (
	// Workflow events
	WorkflowStarted   EventType = "workflow.started"
	WorkflowCompleted EventType = "workflow.completed"

	// Position events
	PositionOpened     EventType = "position.opened"
	PositionClosed     EventType = "position.closed"
	PositionUnresolved EventType = "position.unresolved"

	// Monitor events
	RangeExitDetected EventType = "monitor.range_exit"
	MonitorReaction   EventType = "monitor.reaction"
	MonitorTerminated EventType = "monitor.terminated"
)

// Event is the base interface for all events.
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common fields for all events.
type BaseEvent struct {
	EventType EventType
	EventTime time.Time
}

// Type returns the event type.
func (e BaseEvent) Type() EventType {
	return e.EventType
}

// Timestamp returns when the event occurred.
func (e BaseEvent) Timestamp() time.Time {
	return e.EventTime
}

// NewBase stamps an event with the current time.
func NewBase(t EventType) BaseEvent {
	return BaseEvent{EventType: t, EventTime: time.Now()}
}

// WorkflowStartedEvent is emitted before a batch workflow issues anything.
type WorkflowStartedEvent struct {
	BaseEvent
	Workflow string
	Pool     string
	Accounts []string
}

// WorkflowCompletedEvent carries the terminal summary of a workflow.
type WorkflowCompletedEvent struct {
	BaseEvent
	Summary  domain.Summary
	Duration time.Duration
}

// PositionEvent is emitted per account once its state is verified, or given up on.
type PositionEvent struct {
	BaseEvent
	AccountID string
	Pool      string
}

// RangeExitEvent is emitted when a poll finds positions outside their range.
type RangeExitEvent struct {
	BaseEvent
	Pool     string
	Accounts []string
}

// ReactionEvent records what the monitor did about a range exit.
type ReactionEvent struct {
	BaseEvent
	Pool      string
	Strategy  string
	Succeeded []string
	Failed    []string
}

// TerminatedEvent is emitted when the monitor stops on its own or is cancelled.
type TerminatedEvent struct {
	BaseEvent
	Pool   string
	Reason string
	Detail []string
}

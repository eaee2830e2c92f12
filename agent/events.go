// ABOUTME: Event system for step loop runs, enabling real-time observation of agent actions.
// ABOUTME: Provides EventEmitter with subscribe/emit/unsubscribe pattern and typed RunEvent delivery.

package agent

import (
	"sync"
	"time"
)

// EventKind discriminates the type of run event.
type EventKind string

const (
	EventRunStart     EventKind = "run_start"
	EventRunEnd       EventKind = "run_end"
	EventStepStart    EventKind = "step_start"
	EventToolCall     EventKind = "tool_call"
	EventToolResult   EventKind = "tool_result"
	EventNotice       EventKind = "notice"
	EventSummaryDelta EventKind = "summary_delta"
	EventGoalEdited   EventKind = "goal_edited"
)

// RunEvent is a typed event emitted by the step loop.
type RunEvent struct {
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data,omitempty"`
}

// EventEmitter delivers run events to subscribed channels.
type EventEmitter struct {
	mu          sync.RWMutex
	subscribers []chan RunEvent
	closed      bool
}

// NewEventEmitter creates a new EventEmitter.
func NewEventEmitter() *EventEmitter {
	return &EventEmitter{}
}

// Subscribe registers a new subscriber channel and returns it.
// The channel has a buffer of 64 to reduce the likelihood of blocking.
func (e *EventEmitter) Subscribe() <-chan RunEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	ch := make(chan RunEvent, 64)
	e.subscribers = append(e.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (e *EventEmitter) Unsubscribe(ch <-chan RunEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, sub := range e.subscribers {
		if (<-chan RunEvent)(sub) == ch {
			close(sub)
			e.subscribers = append(e.subscribers[:i], e.subscribers[i+1:]...)
			return
		}
	}
}

// Emit sends an event to all subscribers. Non-blocking: if a subscriber's
// buffer is full the event is dropped for that subscriber.
func (e *EventEmitter) Emit(kind EventKind, sessionID string, data map[string]any) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	event := RunEvent{Kind: kind, Timestamp: time.Now(), SessionID: sessionID, Data: data}
	for _, ch := range e.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes the emitter and all subscriber channels.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
}

// Package events provides the in-process event bus that connects the
// orchestration engine to terminal renderers and notifiers.
package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/models"
)

// EventType defines the types of events that can be emitted
type EventType string

const (
	EventSessionSubmitted  EventType = "session_submitted"  // Service accepted a new session
	EventSessionProgress   EventType = "session_progress"   // Progress merged for the tracked session
	EventSessionCompleted  EventType = "session_completed"  // One-shot, tracked session completed
	EventSessionFailed     EventType = "session_failed"     // One-shot, tracked session failed
	EventSessionResumed    EventType = "session_resumed"    // Retry accepted, tracking resumed
	EventSessionsRefreshed EventType = "sessions_refreshed" // Full list reloaded
	EventQueueUpdated      EventType = "queue_updated"      // Queue snapshot refetched
	EventNotice            EventType = "notice"             // User-visible message
	EventAuthInvalidated   EventType = "auth_invalidated"   // Card key rejected and cleared
)

// LogLevel defines notice severity levels
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

func (l LogLevel) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is the base interface for all events
type Event interface {
	Type() EventType
	Timestamp() time.Time
}

// BaseEvent provides common event fields
type BaseEvent struct {
	EventType EventType
	Time      time.Time
}

func (e BaseEvent) Type() EventType      { return e.EventType }
func (e BaseEvent) Timestamp() time.Time { return e.Time }

func base(t EventType) BaseEvent {
	return BaseEvent{EventType: t, Time: time.Now()}
}

// SessionEvent carries a snapshot of one session.
type SessionEvent struct {
	BaseEvent
	Session models.Session
}

// SessionListEvent carries the full session list after a refresh.
type SessionListEvent struct {
	BaseEvent
	Sessions []models.Session
}

// QueueEvent carries a queue status snapshot.
type QueueEvent struct {
	BaseEvent
	Status    models.QueueStatus
	SessionID string // session the snapshot was personalized for, if any
}

// NoticeEvent is a user-visible message.
type NoticeEvent struct {
	BaseEvent
	Level     LogLevel
	Message   string
	SessionID string
	Error     error
}

// AuthEvent reports that the card key was rejected.
type AuthEvent struct {
	BaseEvent
	Reason string
}

// EventBus manages event subscriptions and publishing
type EventBus struct {
	subscribers   map[EventType][]chan Event
	all           []chan Event // Subscribers to all events
	mu            sync.RWMutex
	bufferSize    int
	closed        bool
	droppedEvents atomic.Int64 // Count of dropped events due to full buffers
}

// NewEventBus creates a new event bus with specified buffer size
func NewEventBus(bufferSize int) *EventBus {
	if bufferSize <= 0 {
		bufferSize = constants.EventBusDefaultBuffer
	}
	if bufferSize > constants.EventBusMaxBuffer {
		bufferSize = constants.EventBusMaxBuffer
	}
	return &EventBus{
		subscribers: make(map[EventType][]chan Event),
		bufferSize:  bufferSize,
	}
}

// Subscribe creates a subscription to a specific event type
func (eb *EventBus) Subscribe(eventType EventType) <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.subscribers[eventType] = append(eb.subscribers[eventType], ch)
	return ch
}

// SubscribeAll creates a subscription to all events
func (eb *EventBus) SubscribeAll() <-chan Event {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		ch := make(chan Event)
		close(ch)
		return ch
	}

	ch := make(chan Event, eb.bufferSize)
	eb.all = append(eb.all, ch)
	return ch
}

// Publish sends an event to all subscribers without blocking. Events for a
// full subscriber are dropped and counted.
func (eb *EventBus) Publish(event Event) {
	if eb == nil {
		return
	}
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if eb.closed {
		return
	}

	for _, ch := range eb.subscribers[event.Type()] {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}

	for _, ch := range eb.all {
		select {
		case ch <- event:
		default:
			eb.droppedEvents.Add(1)
		}
	}
}

// Close shuts down the event bus and closes all channels
func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	eb.closed = true

	for _, channels := range eb.subscribers {
		for _, ch := range channels {
			close(ch)
		}
	}
	for _, ch := range eb.all {
		close(ch)
	}
}

// PublishSession publishes a SessionEvent of the given type.
func (eb *EventBus) PublishSession(t EventType, s models.Session) {
	eb.Publish(&SessionEvent{BaseEvent: base(t), Session: s})
}

// PublishSessions publishes the refreshed session list.
func (eb *EventBus) PublishSessions(list []models.Session) {
	eb.Publish(&SessionListEvent{BaseEvent: base(EventSessionsRefreshed), Sessions: list})
}

// PublishQueue publishes a queue status snapshot.
func (eb *EventBus) PublishQueue(status models.QueueStatus, sessionID string) {
	eb.Publish(&QueueEvent{BaseEvent: base(EventQueueUpdated), Status: status, SessionID: sessionID})
}

// PublishNotice publishes a user-visible message.
func (eb *EventBus) PublishNotice(level LogLevel, sessionID, message string, err error) {
	eb.Publish(&NoticeEvent{
		BaseEvent: base(EventNotice),
		Level:     level,
		Message:   message,
		SessionID: sessionID,
		Error:     err,
	})
}

// PublishAuthInvalidated reports that the card key was rejected.
func (eb *EventBus) PublishAuthInvalidated(reason string) {
	eb.Publish(&AuthEvent{BaseEvent: base(EventAuthInvalidated), Reason: reason})
}

// Unsubscribe removes a subscription channel from a specific event type
func (eb *EventBus) Unsubscribe(eventType EventType, ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	subscribers := eb.subscribers[eventType]
	for i, subCh := range subscribers {
		if subCh == ch {
			subscribers[i] = subscribers[len(subscribers)-1]
			eb.subscribers[eventType] = subscribers[:len(subscribers)-1]
			close(subCh)
			break
		}
	}
}

// UnsubscribeAll removes a channel obtained from SubscribeAll.
func (eb *EventBus) UnsubscribeAll(ch <-chan Event) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if eb.closed {
		return
	}

	for i, subCh := range eb.all {
		if subCh == ch {
			eb.all[i] = eb.all[len(eb.all)-1]
			eb.all = eb.all[:len(eb.all)-1]
			close(subCh)
			break
		}
	}
}

// GetDroppedEventCount returns the total number of events dropped due to full buffers
func (eb *EventBus) GetDroppedEventCount() int64 {
	return eb.droppedEvents.Load()
}

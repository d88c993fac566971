// Package feedback distributes collection events to interested listeners
// such as the MCP server and the CLI.
package feedback

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of event
type EventType string

const (
	// Session events
	EventSessionStarted    EventType = "session.started"
	EventSessionStopped    EventType = "session.stopped"
	EventSessionSafetyStop EventType = "session.safety_stop"

	// Segment events
	EventSegmentAdded    EventType = "segment.added"
	EventSegmentRejected EventType = "segment.rejected"

	// Transcription events
	EventTranscriptionCompleted EventType = "transcription.completed"
	EventTranscriptionRejected  EventType = "transcription.rejected"
	EventTranscriptionFailed    EventType = "transcription.failed"

	// System events
	EventMemorySwept EventType = "memory.swept"
)

// Event represents a system event
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SessionID string    `json:"sessionId,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// SessionData accompanies session events
type SessionData struct {
	Mode            string  `json:"mode"`
	SegmentCount    int     `json:"segmentCount"`
	DurationSeconds float64 `json:"durationSeconds"`
	Reason          string  `json:"reason,omitempty"`
}

// SegmentData accompanies segment events
type SegmentData struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	SourceKind string  `json:"sourceKind"`
	Decision   string  `json:"decision"`
	Group      int     `json:"group"`
	Chunk      int     `json:"chunk"`
}

// TranscriptionData accompanies transcription events
type TranscriptionData struct {
	TaskID     string  `json:"taskId"`
	ChunkStart float64 `json:"chunkStart"`
	Text       string  `json:"text,omitempty"`
	Reason     string  `json:"reason,omitempty"`
}

// SweepData accompanies memory sweep events
type SweepData struct {
	SegmentsTrimmed int `json:"segmentsTrimmed"`
	ChunksTrimmed   int `json:"chunksTrimmed"`
	TasksPurged     int `json:"tasksPurged"`
}

// EventHandler is a function that handles events
type EventHandler func(event Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus delivers events in publish order on a single goroutine.
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]subscription
	allHandlers []subscription
	nextID      uint64

	buffer   chan Event
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	wg       sync.WaitGroup
	metrics  *EventMetrics
}

// EventMetrics tracks event statistics
type EventMetrics struct {
	EventsPublished map[EventType]int64
	EventsDelivered int64
	EventsDropped   int64
	mu              sync.Mutex
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]subscription),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		metrics: &EventMetrics{
			EventsPublished: make(map[EventType]int64),
		},
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers a handler for one event type and returns a function
// that removes it.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.handlers[eventType] = remove(eb.handlers[eventType], id)
	}
}

// SubscribeAll registers a handler for all events
func (eb *EventBus) SubscribeAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.allHandlers = append(eb.allHandlers, subscription{id: id, handler: handler})

	return func() {
		eb.mu.Lock()
		defer eb.mu.Unlock()
		eb.allHandlers = remove(eb.allHandlers, id)
	}
}

func remove(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

// Publish queues an event without blocking. Events are dropped when the
// buffer is full or the bus is stopped.
func (eb *EventBus) Publish(event Event) {
	if eb.stopped.Load() {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.metrics.mu.Lock()
	eb.metrics.EventsPublished[event.Type]++
	eb.metrics.mu.Unlock()

	select {
	case eb.buffer <- event:
	default:
		eb.metrics.mu.Lock()
		eb.metrics.EventsDropped++
		eb.metrics.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"event_type": event.Type,
			"session_id": event.SessionID,
		}).Warn("Event dropped, buffer full")
	}
}

func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.buffer:
			eb.deliverEvent(event)

		case <-eb.stopCh:
			// Process remaining events
			for {
				select {
				case event := <-eb.buffer:
					eb.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) deliverEvent(event Event) {
	eb.mu.RLock()
	targets := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, s := range eb.handlers[event.Type] {
		targets = append(targets, s.handler)
	}
	for _, s := range eb.allHandlers {
		targets = append(targets, s.handler)
	}
	eb.mu.RUnlock()

	for _, h := range targets {
		eb.call(h, event)
	}
}

func (eb *EventBus) call(h EventHandler, event Event) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"event_type": event.Type,
				"panic":      r,
			}).Error("Event handler panic")
		}
	}()

	h(event)

	eb.metrics.mu.Lock()
	eb.metrics.EventsDelivered++
	eb.metrics.mu.Unlock()
}

// Stop delivers what is buffered and shuts down the bus. It is safe to call
// more than once.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		eb.stopped.Store(true)
		close(eb.stopCh)
		eb.wg.Wait()
	})
}

// GetMetrics returns event bus metrics
func (eb *EventBus) GetMetrics() EventMetrics {
	eb.metrics.mu.Lock()
	defer eb.metrics.mu.Unlock()

	metrics := EventMetrics{
		EventsPublished: make(map[EventType]int64),
		EventsDelivered: eb.metrics.EventsDelivered,
		EventsDropped:   eb.metrics.EventsDropped,
	}
	for k, v := range eb.metrics.EventsPublished {
		metrics.EventsPublished[k] = v
	}
	return metrics
}

// PublishSession publishes a session lifecycle event
func (eb *EventBus) PublishSession(eventType EventType, sessionID string, data SessionData) {
	eb.Publish(Event{Type: eventType, SessionID: sessionID, Data: data})
}

// PublishSegment publishes a segment added or rejected event
func (eb *EventBus) PublishSegment(eventType EventType, sessionID string, data SegmentData) {
	eb.Publish(Event{Type: eventType, SessionID: sessionID, Data: data})
}

// PublishTranscription publishes a transcription outcome event
func (eb *EventBus) PublishTranscription(eventType EventType, sessionID string, data TranscriptionData) {
	eb.Publish(Event{Type: eventType, SessionID: sessionID, Data: data})
}

// PublishMemorySwept publishes a memory sweep event
func (eb *EventBus) PublishMemorySwept(sessionID string, data SweepData) {
	eb.Publish(Event{Type: EventMemorySwept, SessionID: sessionID, Data: data})
}

package events

import (
	"time"
)

// EventType represents the kinds of events flowing through the engine
type EventType string

const (
	EventNewCandle       EventType = "NEW_CANDLE"
	EventPriceUpdate     EventType = "PRICE_UPDATE"
	EventOrderbookUpdate EventType = "ORDERBOOK_UPDATE"
	EventAlert           EventType = "ALERT"
)

// Event is one engine event. Fields beyond Type/Pair/Timestamp are used
// per event type: Timeframe for NEW_CANDLE, Price for PRICE_UPDATE,
// Message for ALERT.
type Event struct {
	Type      EventType
	Pair      string
	Timeframe string
	Price     float64
	Message   string
	Timestamp time.Time
}

// Queue is the engine's bounded event channel. Producers never block:
// PublishOrDrop returns false when the queue is full so low-value events
// (price ticks) can be shed under pressure.
type Queue struct {
	ch chan Event
}

// NewQueue creates a queue with the given capacity
func NewQueue(capacity int) *Queue {
	return &Queue{ch: make(chan Event, capacity)}
}

// Publish enqueues an event, blocking if the queue is full. Used for
// low-frequency events (NEW_CANDLE) that must not be dropped.
func (q *Queue) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	q.ch <- event
}

// PublishOrDrop enqueues without blocking; returns false when dropped
func (q *Queue) PublishOrDrop(event Event) bool {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case q.ch <- event:
		return true
	default:
		return false
	}
}

// Recv waits up to timeout for the next event. The second return is false
// when the timeout elapsed with no event.
func (q *Queue) Recv(timeout time.Duration) (Event, bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case event := <-q.ch:
		return event, true
	case <-timer.C:
		return Event{}, false
	}
}

// Len reports the number of queued events
func (q *Queue) Len() int {
	return len(q.ch)
}

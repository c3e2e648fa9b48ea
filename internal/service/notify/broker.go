// Package notify fans controller events out to the transports a visitor is
// listening on (SSE stream, websocket).
package notify

import (
	"sync"
	"time"
)

// EventType identifies an outbound event.
type EventType string

const (
	EventNotification EventType = "notification"
	EventState        EventType = "state"
	EventMessage      EventType = "message"
	EventTyping       EventType = "typing"
)

// Variant mirrors the toast variants the client renders.
type Variant string

const (
	VariantDefault     Variant = "default"
	VariantDestructive Variant = "destructive"
)

// Notification is a user-facing toast.
type Notification struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Variant     Variant `json:"variant"`
}

// Typing reports whether the assistant reply is pending.
type Typing struct {
	Active bool `json:"active"`
}

// Event is delivered to every subscriber of VisitorID.
type Event struct {
	Type      EventType `json:"type"`
	VisitorID string    `json:"visitorId"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

const defaultBuffer = 32

// Broker is an in-process, per-visitor pub/sub.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[uint64]chan Event
	next   uint64
	buffer int
}

func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[string]map[uint64]chan Event),
		buffer: defaultBuffer,
	}
}

// Subscribe returns a channel of visitor events and a cancel func that
// closes it. The channel is also closed by Close(visitorID).
func (b *Broker) Subscribe(visitorID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	bucket, ok := b.subs[visitorID]
	if !ok {
		bucket = make(map[uint64]chan Event)
		b.subs[visitorID] = bucket
	}
	bucket[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if bucket, ok := b.subs[visitorID]; ok {
				if c, ok := bucket[id]; ok {
					delete(bucket, id)
					close(c)
				}
				if len(bucket) == 0 {
					delete(b.subs, visitorID)
				}
			}
		})
	}
	return ch, cancel
}

// Publish delivers evt without blocking; a full subscriber misses the event.
// It returns the number of subscribers that received it.
func (b *Broker) Publish(evt Event) int {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	delivered := 0
	for _, ch := range b.subs[evt.VisitorID] {
		select {
		case ch <- evt:
			delivered++
		default:
		}
	}
	return delivered
}

// Close detaches and closes every subscriber of visitorID.
func (b *Broker) Close(visitorID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs[visitorID] {
		close(ch)
		delete(b.subs[visitorID], id)
	}
	delete(b.subs, visitorID)
}

// Subscribers reports how many subscribers visitorID has.
func (b *Broker) Subscribers(visitorID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[visitorID])
}

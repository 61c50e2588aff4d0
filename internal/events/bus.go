// Package events provides the topic-keyed publish/subscribe bus used to
// report connection and channel lifecycle changes.
package events

import "sync"

// Kind is the suffix of a topic name.
type Kind string

const (
	KindICE          Kind = "ice"
	KindICEDone      Kind = "ice-done"
	KindConnected    Kind = "connected"
	KindClosed       Kind = "closed"
	KindMessage      Kind = "message"
	KindChannelOpen  Kind = "channel-open"
	KindChannelClose Kind = "channel-close"
)

// Topic returns the topic name for a connection id and event kind.
func Topic(id string, kind Kind) string {
	return id + "_" + string(kind)
}

// Handler receives the arguments given to Publish.
type Handler func(args ...any)

// Subscription identifies one registered handler.
type Subscription struct {
	topic string
	id    uint64
}

// Topic returns the topic the subscription is registered on.
func (s Subscription) Topic() string {
	return s.topic
}

type entry struct {
	id uint64
	fn Handler
}

// Bus dispatches published events to handlers registered on the exact
// topic name. It is safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	nextID uint64
	topics map[string][]entry
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{topics: make(map[string][]entry)}
}

// Subscribe appends fn to the handlers of topic. The same function may be
// registered more than once; each registration is called.
func (b *Bus) Subscribe(topic string, fn Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	b.topics[topic] = append(b.topics[topic], entry{id: b.nextID, fn: fn})
	return Subscription{topic: topic, id: b.nextID}
}

// Unsubscribe removes the handler registered by s. It reports whether the
// handler was still registered.
func (b *Bus) Unsubscribe(s Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries, ok := b.topics[s.topic]
	if !ok {
		return false
	}
	for i, e := range entries {
		if e.id != s.id {
			continue
		}
		rest := make([]entry, 0, len(entries)-1)
		rest = append(rest, entries[:i]...)
		rest = append(rest, entries[i+1:]...)
		if len(rest) == 0 {
			delete(b.topics, s.topic)
		} else {
			b.topics[s.topic] = rest
		}
		return true
	}
	return false
}

// Publish calls every handler registered on topic, synchronously and in
// registration order. Handlers run without the bus lock held, so they may
// subscribe, unsubscribe or publish. A panicking handler is not recovered.
func (b *Bus) Publish(topic string, args ...any) {
	b.mu.Lock()
	entries := b.topics[topic]
	b.mu.Unlock()

	for _, e := range entries {
		e.fn(args...)
	}
}

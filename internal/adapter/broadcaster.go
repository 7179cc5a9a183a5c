// Package adapter holds the external-collaborator contracts the core
// exchanges with the (out-of-scope) HTTP/WebSocket transport layer: an
// in-memory error pub-sub, a persistence-listener interface, and a
// channel-based snapshot subscription. None of these touch a wire codec
// or a transport socket — that framing is explicitly out of scope per
// spec.md §1; this package stops at the Go-native contract an adapter
// would consume.
package adapter

import (
	"sync"
	"time"
)

// BroadcastError is one tick-internal error surfaced to external
// subscribers: a system/AI failure, a dropped command, a capacity
// limit — anything spec.md §7 says "never propagate out of the tick"
// but still needs to reach an operator.
type BroadcastError struct {
	ContainerID string
	MatchID     string
	Tick        uint64
	Kind        string
	Message     string
	Timestamp   time.Time
}

// ErrorBroadcaster is an in-memory pub-sub: publishing never blocks the
// caller (the tick worker) regardless of how many subscribers exist or
// how slow they are to drain their channel. A full subscriber channel
// drops the new event and counts the drop rather than blocking, per
// spec.md §5's "must return quickly" constraint on post-tick listener
// calls.
type ErrorBroadcaster struct {
	mu          sync.Mutex
	subscribers map[int]chan *BroadcastError
	nextID      int
	dropped     map[int]int64
	bufferSize  int
}

// NewErrorBroadcaster creates a broadcaster whose subscriber channels are
// buffered to bufferSize (a slow subscriber can fall behind by that many
// events before events start dropping).
func NewErrorBroadcaster(bufferSize int) *ErrorBroadcaster {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &ErrorBroadcaster{
		subscribers: make(map[int]chan *BroadcastError),
		dropped:     make(map[int]int64),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new listener and returns its channel plus a
// cancel function that unregisters it and closes the channel.
func (b *ErrorBroadcaster) Subscribe() (<-chan *BroadcastError, func()) {
	ch, _, cancel := b.subscribe()
	return ch, cancel
}

// SubscribeWithID is Subscribe plus the subscriber id, for callers (tests,
// diagnostics) that want to check DroppedFor afterward.
func (b *ErrorBroadcaster) SubscribeWithID() (<-chan *BroadcastError, int, func()) {
	return b.subscribe()
}

func (b *ErrorBroadcaster) subscribe() (<-chan *BroadcastError, int, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan *BroadcastError, b.bufferSize)
	b.subscribers[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if existing, ok := b.subscribers[id]; ok {
			delete(b.subscribers, id)
			delete(b.dropped, id)
			close(existing)
		}
	}
	return ch, id, cancel
}

// Publish fans an error out to every current subscriber, non-blocking.
func (b *ErrorBroadcaster) Publish(err *BroadcastError) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- err:
		default:
			b.dropped[id]++
		}
	}
}

// DroppedFor reports how many events a given subscriber id has missed due
// to backpressure; mostly useful for tests and diagnostics.
func (b *ErrorBroadcaster) DroppedFor(id int) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped[id]
}

// SubscriberCount reports how many subscribers are currently registered.
func (b *ErrorBroadcaster) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

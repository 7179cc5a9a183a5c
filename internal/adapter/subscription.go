package adapter

import (
	"context"
	"sync"

	"forgeloop/internal/core/snapshot"
)

// Subscription is one (containerId, matchId, playerId?) stream consumer.
// The actual WebSocket/HTTP framing an adapter would turn this into wire
// bytes is out of scope per spec.md §1 — this is the Go-native channel
// contract such an adapter would sit on top of.
type Subscription struct {
	ContainerID string
	MatchID     string
	PlayerID    string // "" for the unscoped, match-wide stream

	ch     chan *snapshot.Snapshot
	cancel context.CancelFunc
}

// Stream returns the channel snapshots are pushed onto. It closes when
// the subscription's context is cancelled (the client drops the stream).
func (s *Subscription) Stream() <-chan *snapshot.Snapshot { return s.ch }

// Close cancels the subscription; safe to call more than once.
func (s *Subscription) Close() { s.cancel() }

// Push delivers a snapshot to the subscriber, non-blocking: a slow
// client drops the frame rather than stalling the broadcaster (the
// client's next periodic sample supersedes it anyway).
func (s *Subscription) push(snap *snapshot.Snapshot) {
	select {
	case s.ch <- snap:
	default:
	}
}

// SubscriptionHub implements `subscribe(containerId, matchId, playerId?)
// -> Stream<Snapshot>` (spec.md §6's streaming interface) as a registry
// of buffered channels the tick loop's TickFinalize phase feeds.
type SubscriptionHub struct {
	mu   sync.Mutex
	subs map[string]map[*Subscription]struct{} // matchID -> set
}

// NewSubscriptionHub creates an empty hub.
func NewSubscriptionHub() *SubscriptionHub {
	return &SubscriptionHub{subs: make(map[string]map[*Subscription]struct{})}
}

// Subscribe registers a new stream for (containerID, matchID, playerID).
// The subscription tears itself down when ctx is cancelled.
func (h *SubscriptionHub) Subscribe(ctx context.Context, containerID, matchID, playerID string, bufferSize int) *Subscription {
	if bufferSize <= 0 {
		bufferSize = 8
	}
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		ContainerID: containerID,
		MatchID:     matchID,
		PlayerID:    playerID,
		ch:          make(chan *snapshot.Snapshot, bufferSize),
		cancel:      cancel,
	}

	h.mu.Lock()
	set, ok := h.subs[matchID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[matchID] = set
	}
	set[sub] = struct{}{}
	h.mu.Unlock()

	go func() {
		<-subCtx.Done()
		h.mu.Lock()
		defer h.mu.Unlock()
		if set, ok := h.subs[matchID]; ok {
			delete(set, sub)
			if len(set) == 0 {
				delete(h.subs, matchID)
			}
		}
		close(sub.ch)
	}()

	return sub
}

// Publish pushes a snapshot to every subscription registered for its
// match, called from the tick loop's TickFinalize phase (or a
// broadcast-interval timer layered on top by an adapter).
func (h *SubscriptionHub) Publish(matchID string, snap *snapshot.Snapshot) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs[matchID]))
	for sub := range h.subs[matchID] {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.push(snap)
	}
}

// Count reports how many subscriptions are currently registered for a
// match.
func (h *SubscriptionHub) Count(matchID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[matchID])
}

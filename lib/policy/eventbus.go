package policy

import (
	"sync"

	"github.com/gravitational/trace"
)

// EventKind discriminates the three event shapes the bus carries.
type EventKind string

const (
	EventUpdate     EventKind = "update"
	EventRollback   EventKind = "rollback"
	EventInvalidate EventKind = "invalidate"
)

// Event is delivered to every subscriber; only the field matching Kind
// is populated.
type Event struct {
	Kind     EventKind
	Update   *Update
	PolicyID string
	Snapshot *Update
}

// subscriberBacklog bounds how many undelivered events a slow subscriber
// accumulates before the oldest is dropped in favor of the newest,
// so the publisher never blocks; delivery to a slow subscriber is
// therefore best-effort.
const subscriberBacklog = 64

// EventBus fans policy events out to subscribers and keeps a snapshot of
// the last applied Update per policy id, so PublishRollback can restore
// it and a late Subscribe can fetch current state without replaying
// history.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[int]chan Event
	nextID      int
	snapshots   map[string]*Update
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[int]chan Event),
		snapshots:   make(map[string]*Update),
	}
}

// Subscribe returns a channel of future events and an unsubscribe func.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBacklog)
	b.subscribers[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if c, ok := b.subscribers[id]; ok {
			close(c)
			delete(b.subscribers, id)
		}
	}
}

// SubscriberCount returns the number of live subscribers.
func (b *EventBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Snapshot returns the last-applied Update for policyID, if any.
func (b *EventBus) Snapshot(policyID string) (*Update, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	u, ok := b.snapshots[policyID]
	return u, ok
}

// ClearSnapshots drops all retained snapshots (used in tests).
func (b *EventBus) ClearSnapshots() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.snapshots = make(map[string]*Update)
}

func (b *EventBus) broadcast(ev Event) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	delivered := 0
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
			delivered++
		default:
			// Slow subscriber: drop the oldest pending event to make room
			// rather than block the publisher.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- ev:
				delivered++
			default:
			}
		}
	}
	return delivered
}

// publishUpdate snapshots u and broadcasts it. The snapshot is written
// before broadcast so a subscriber that reacts to the event by calling
// Snapshot always observes it.
func (b *EventBus) publishUpdate(u *Update) error {
	b.mu.Lock()
	b.snapshots[u.PolicyID] = u
	b.mu.Unlock()
	b.broadcast(Event{Kind: EventUpdate, Update: u})
	return nil
}

// Publish snapshots u and broadcasts it as an Update event. It does not
// validate u.
func (b *EventBus) Publish(u *Update) error {
	return b.publishUpdate(u)
}

// PublishRollback restores the retained snapshot for policyID and
// broadcasts it as a Rollback event. It fails if no snapshot exists.
func (b *EventBus) PublishRollback(policyID string) error {
	b.mu.Lock()
	snap, ok := b.snapshots[policyID]
	b.mu.Unlock()
	if !ok {
		return trace.NotFound("no snapshot retained for policy %s, cannot roll back", policyID)
	}
	b.broadcast(Event{Kind: EventRollback, PolicyID: policyID, Snapshot: snap})
	return nil
}

// PublishInvalidate removes the snapshot for policyID and tells
// subscribers to drop it.
func (b *EventBus) PublishInvalidate(policyID string) error {
	b.mu.Lock()
	delete(b.snapshots, policyID)
	b.mu.Unlock()
	b.broadcast(Event{Kind: EventInvalidate, PolicyID: policyID})
	return nil
}

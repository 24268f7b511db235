// Package broadcast fans workspace change events out to realtime
// subscribers. Publishing never blocks: a subscriber that cannot keep up
// loses the newest events until it drains its buffer.
package broadcast

import "sync"

// subscriberBuffer is the per-subscriber event backlog.
const subscriberBuffer = 16

// Event signals that a workspace's repository state changed.
type Event struct {
	WorkspaceID int64 `json:"workspaceId"`
}

// Subscription is one listener's view of a workspace's event stream.
type Subscription struct {
	events chan Event

	b           *Broadcaster
	workspaceID int64
	closeOnce   sync.Once
}

// Events returns the subscription's event channel. It is closed when the
// subscription is closed.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Close detaches the subscription and closes its event channel.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.b.remove(s)
		close(s.events)
	})
}

// Broadcaster tracks subscriptions per workspace.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int64]map[*Subscription]struct{}
}

// New creates an empty broadcaster.
func New() *Broadcaster {
	return &Broadcaster{subs: make(map[int64]map[*Subscription]struct{})}
}

// Subscribe registers a listener for one workspace's events.
func (b *Broadcaster) Subscribe(workspaceID int64) *Subscription {
	s := &Subscription{
		events:      make(chan Event, subscriberBuffer),
		b:           b,
		workspaceID: workspaceID,
	}
	b.mu.Lock()
	set, ok := b.subs[workspaceID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[workspaceID] = set
	}
	set[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Publish delivers an event to every subscriber of the workspace. Full
// subscriber buffers drop the event rather than blocking the publisher.
func (b *Broadcaster) Publish(workspaceID int64) {
	ev := Event{WorkspaceID: workspaceID}
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[workspaceID] {
		select {
		case s.events <- ev:
		default:
		}
	}
}

// SubscriberCount reports the active subscriptions for a workspace.
func (b *Broadcaster) SubscriberCount(workspaceID int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[workspaceID])
}

func (b *Broadcaster) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	set := b.subs[s.workspaceID]
	delete(set, s)
	if len(set) == 0 {
		delete(b.subs, s.workspaceID)
	}
}

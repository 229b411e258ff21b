// Package store keeps the client-side view of sessions, messages and
// projects consistent with the backend. Stores talk to each other only
// through the Bus.
package store

import "sync"

type EventKind int

const (
	ActiveSessionChanged EventKind = iota + 1
	SessionsChanged
	SessionRemoved
	MessagesChanged
	ProjectsChanged
	UIChanged
)

func (k EventKind) String() string {
	switch k {
	case ActiveSessionChanged:
		return "active-session-changed"
	case SessionsChanged:
		return "sessions-changed"
	case SessionRemoved:
		return "session-removed"
	case MessagesChanged:
		return "messages-changed"
	case ProjectsChanged:
		return "projects-changed"
	case UIChanged:
		return "ui-changed"
	}
	return "unknown"
}

// Reason explains an ActiveSessionChanged event.
type Reason string

const (
	ReasonSelected Reason = "selected"
	ReasonCreated  Reason = "created"
	ReasonArchived Reason = "archived"
	ReasonDeleted  Reason = "deleted"
	ReasonLoaded   Reason = "loaded"
)

type Event struct {
	Kind       EventKind
	SessionID  string
	PreviousID string
	Reason     Reason
}

type subscription struct {
	id int
	fn func(Event)
}

// Bus delivers events synchronously, in subscription order, on the
// publishing goroutine. Handlers may publish; a nested event reaches every
// subscriber before the outer one reaches the rest. Handlers must not call
// mutating methods of the store that published the event.
type Bus struct {
	mu   sync.Mutex
	next int
	subs []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	b.next++
	id := b.next
	b.subs = append(b.subs, subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.fn(e)
	}
}

// Notify returns a channel that receives a value whenever at least one
// event was published since the last receive. Bursts collapse into one
// wakeup.
func (b *Bus) Notify() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	unsubscribe := b.Subscribe(func(Event) {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch, unsubscribe
}

package tracker

import "sync"

type EventKind string

const (
	EventCreate  EventKind = "create"
	EventUpdate  EventKind = "update"
	EventDelete  EventKind = "delete"
	EventRefresh EventKind = "refresh"
)

// Event tells listeners the tree changed. UID is empty for whole-tree
// events (a rebuild, or the end of an autosave sweep).
type Event struct {
	Kind EventKind `json:"kind"`
	UID  string    `json:"uid,omitempty"`
}

// broadcaster fans events out to buffered subscribers, dropping events for
// subscribers that fall behind.
type broadcaster struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[chan Event]struct{})}
}

func (b *broadcaster) emit(kind EventKind, uid string) {
	ev := Event{Kind: kind, UID: uid}
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()
}

func (b *broadcaster) subscribe() chan Event {
	ch := make(chan Event, 32)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) unsubscribe(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
}

package store

import (
	"context"
	"sync"

	"icanban/internal/ics"
)

type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// Change is delivered to subscribers after a successful write. Removed
// changes carry only the item's id and container.
type Change struct {
	Kind ChangeKind
	Item Item
}

// Notifier delivers store changes.
type Notifier interface {
	Subscribe() chan Change
	Unsubscribe(ch chan Change)
}

// Bus wraps a Store with in-process fan-out notification. Writes are
// delegated to the wrapped store; on success every subscriber receives
// a Change.
type Bus struct {
	Store
	mu   sync.RWMutex
	subs map[chan Change]struct{}
}

// NewBus creates a Bus wrapping the given store.
func NewBus(s Store) *Bus {
	return &Bus{
		Store: s,
		subs:  make(map[chan Change]struct{}),
	}
}

func (b *Bus) CreateTask(ctx context.Context, container string, payload *ics.Raw) (string, error) {
	uid, err := b.Store.CreateTask(ctx, container, payload)
	if err != nil {
		return "", err
	}
	b.publish(ChangeCreated, container, uid, payload)
	return uid, nil
}

func (b *Bus) UpdateTask(ctx context.Context, container, uid string, payload *ics.Raw) error {
	if err := b.Store.UpdateTask(ctx, container, uid, payload); err != nil {
		return err
	}
	b.publish(ChangeUpdated, container, uid, payload)
	return nil
}

func (b *Bus) DeleteTask(ctx context.Context, container, uid string) error {
	if err := b.Store.DeleteTask(ctx, container, uid); err != nil {
		return err
	}
	b.publish(ChangeRemoved, container, uid, nil)
	return nil
}

// MoveTask is reported as a removal from the old container followed by an
// update in the new one.
func (b *Bus) MoveTask(ctx context.Context, from, to, uid string) error {
	if err := b.Store.MoveTask(ctx, from, to, uid); err != nil {
		return err
	}
	b.publish(ChangeRemoved, from, uid, nil)
	b.publish(ChangeUpdated, to, uid, nil)
	return nil
}

// CreateContainer passes through when the wrapped store supports it.
func (b *Bus) CreateContainer(ctx context.Context, c Container) (Container, error) {
	creator, ok := b.Store.(ContainerCreator)
	if !ok {
		return Container{}, ErrNotFound
	}
	return creator.CreateContainer(ctx, c)
}

func (b *Bus) publish(kind ChangeKind, container, uid string, payload *ics.Raw) {
	item := Item{ID: uid, Container: container}
	if payload != nil {
		if stamped, err := Stamp(payload, uid); err == nil {
			item.Item, item.Format = stamped, FormatJCal
		}
	}
	change := Change{Kind: kind, Item: item}

	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- change:
		default:
			// subscriber is behind; drop to avoid blocking the writer
		}
	}
	b.mu.RUnlock()
}

// Subscribe returns a buffered channel that receives all changes.
func (b *Bus) Subscribe() chan Change {
	ch := make(chan Change, 64)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(ch chan Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[ch]; !ok {
		return
	}
	delete(b.subs, ch)
	close(ch)
}

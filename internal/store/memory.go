package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/google/uuid"

	"icanban/internal/ics"
)

type memItem struct {
	container string
	payload   *ics.Raw
}

// Memory is a Store kept in process memory. It returns items in the
// format-map form. Payloads are copied on the way in and out.
type Memory struct {
	mu         sync.RWMutex
	containers []Container
	items      map[string]*memItem
	order      []string
}

func NewMemory() *Memory {
	return &Memory{items: make(map[string]*memItem)}
}

func (m *Memory) CreateContainer(_ context.Context, c Container) (Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	for _, existing := range m.containers {
		if existing.ID == c.ID {
			return Container{}, fmt.Errorf("container %s already exists", c.ID)
		}
	}
	c.Capabilities = slices.Clone(c.Capabilities)
	m.containers = append(m.containers, c)
	return c, nil
}

func (m *Memory) QueryContainers(_ context.Context, filter ContainerFilter) ([]Container, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Container
	for _, c := range m.containers {
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *Memory) QueryTasks(_ context.Context, filter Filter) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Item, 0, len(m.order))
	for _, uid := range m.order {
		it := m.items[uid]
		if filter.Container != "" && it.container != filter.Container {
			continue
		}
		out = append(out, Item{
			ID:        uid,
			Container: it.container,
			Formats:   map[string]*ics.Raw{FormatJCal: it.payload.Clone()},
		})
	}
	return out, nil
}

func (m *Memory) CreateTask(_ context.Context, container string, payload *ics.Raw) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasContainer(container) {
		return "", fmt.Errorf("container %s: %w", container, ErrNotFound)
	}
	uid := uuid.NewString()
	stamped, err := Stamp(payload, uid)
	if err != nil {
		return "", err
	}
	m.items[uid] = &memItem{container: container, payload: stamped}
	m.order = append(m.order, uid)
	return uid, nil
}

func (m *Memory) UpdateTask(_ context.Context, container, uid string, payload *ics.Raw) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.lookup(container, uid)
	if err != nil {
		return err
	}
	stamped, err := Stamp(payload, uid)
	if err != nil {
		return err
	}
	it.payload = stamped
	return nil
}

func (m *Memory) DeleteTask(_ context.Context, container, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.lookup(container, uid); err != nil {
		return err
	}
	delete(m.items, uid)
	m.order = slices.DeleteFunc(m.order, func(id string) bool { return id == uid })
	return nil
}

func (m *Memory) MoveTask(_ context.Context, from, to, uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, err := m.lookup(from, uid)
	if err != nil {
		return err
	}
	if !m.hasContainer(to) {
		return fmt.Errorf("container %s: %w", to, ErrNotFound)
	}
	it.container = to
	return nil
}

// Len reports the number of stored items.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

func (m *Memory) lookup(container, uid string) (*memItem, error) {
	it, ok := m.items[uid]
	if !ok || it.container != container {
		return nil, fmt.Errorf("task %s: %w", uid, ErrNotFound)
	}
	return it, nil
}

func (m *Memory) hasContainer(id string) bool {
	return slices.ContainsFunc(m.containers, func(c Container) bool { return c.ID == id })
}

// Package store is the boundary between the task tracker and whatever keeps
// the calendar items: an in-memory map, a SQLite file or a PostgreSQL
// database. Every backend speaks jCal payloads and assigns uids itself.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"icanban/internal/ics"
)

// FormatJCal is the only payload format the tracker reads.
const FormatJCal = "jcal"

// CapabilityTasks marks containers that can hold vtodo items.
const CapabilityTasks = "tasks"

var (
	ErrNotFound = errors.New("not found")
	// ErrNoTask is returned when a payload carries no vtodo to stamp a uid on.
	ErrNoTask = errors.New("payload has no vtodo")
)

// Item is one stored calendar item. Backends return the payload either as
// a tagged single format (Item + Format) or as a format map (Formats);
// Payload reads both.
type Item struct {
	ID        string              `json:"id"`
	Container string              `json:"container"`
	Format    string              `json:"format,omitempty"`
	Item      *ics.Raw            `json:"item,omitempty"`
	Formats   map[string]*ics.Raw `json:"formats,omitempty"`
}

// Payload returns the jCal payload of the item, or nil when the item only
// carries formats the tracker cannot read.
func (it Item) Payload() *ics.Raw {
	if it.Item != nil && (it.Format == "" || it.Format == FormatJCal) {
		return it.Item
	}
	return it.Formats[FormatJCal]
}

// Filter narrows QueryTasks. An empty Container matches every container.
type Filter struct {
	Container string
}

// Container is a calendar that holds items.
type Container struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Color        string   `json:"color,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// ContainerFilter narrows QueryContainers to containers offering a
// capability. An empty Capability matches all.
type ContainerFilter struct {
	Capability string
}

func (f ContainerFilter) Match(c Container) bool {
	return f.Capability == "" || slices.Contains(c.Capabilities, f.Capability)
}

// Store is implemented by every backend.
type Store interface {
	QueryTasks(ctx context.Context, filter Filter) ([]Item, error)
	CreateTask(ctx context.Context, container string, payload *ics.Raw) (string, error)
	UpdateTask(ctx context.Context, container, uid string, payload *ics.Raw) error
	DeleteTask(ctx context.Context, container, uid string) error
	MoveTask(ctx context.Context, from, to, uid string) error
	QueryContainers(ctx context.Context, filter ContainerFilter) ([]Container, error)
}

// ContainerCreator is implemented by backends that can create containers.
type ContainerCreator interface {
	CreateContainer(ctx context.Context, c Container) (Container, error)
}

// DefaultContainerName is used when EnsureContainer has to create one.
const DefaultContainerName = "Tasks"

// EnsureContainer returns the container with the given id, or the first
// task-capable container when id is empty. If the store holds no task
// container at all and can create one, a default container is created.
func EnsureContainer(ctx context.Context, s Store, id string) (Container, error) {
	list, err := s.QueryContainers(ctx, ContainerFilter{Capability: CapabilityTasks})
	if err != nil {
		return Container{}, fmt.Errorf("query containers: %w", err)
	}
	if id != "" {
		for _, c := range list {
			if c.ID == id {
				return c, nil
			}
		}
		return Container{}, fmt.Errorf("container %s: %w", id, ErrNotFound)
	}
	if len(list) > 0 {
		return list[0], nil
	}

	creator, ok := s.(ContainerCreator)
	if !ok {
		return Container{}, fmt.Errorf("no task container: %w", ErrNotFound)
	}
	return creator.CreateContainer(ctx, Container{
		Name:         DefaultContainerName,
		Color:        "#3f51b5",
		Capabilities: []string{CapabilityTasks},
	})
}

// Stamp returns a copy of payload whose vtodo carries uid. Backends call it
// so the uid they assign is also written into the stored record.
func Stamp(payload *ics.Raw, uid string) (*ics.Raw, error) {
	out := payload.Clone()
	todo := ics.TodoOf(out)
	if todo == nil {
		return nil, ErrNoTask
	}
	todo.SetUID(uid)
	return out, nil
}

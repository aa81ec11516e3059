// Package storetest holds the behaviour every store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"

	"icanban/internal/ics"
	"icanban/internal/store"
)

// Backend is a store that can also create containers.
type Backend interface {
	store.Store
	store.ContainerCreator
}

// Payload builds an envelope around a todo with the given summary.
func Payload(summary string) *ics.Raw {
	todo := ics.NewTodo()
	todo.SetSummary(summary)
	todo.SetStatus(ics.StatusNeedsAction)
	return ics.Envelope(todo)
}

// Run exercises s against the store contract. s must start empty.
func Run(t *testing.T, s Backend) {
	t.Helper()
	ctx := context.Background()

	home, err := store.EnsureContainer(ctx, s, "")
	if err != nil {
		t.Fatalf("EnsureContainer failed: %v", err)
	}
	if home.ID == "" || home.Name != store.DefaultContainerName {
		t.Fatalf("unexpected default container %+v", home)
	}
	again, err := store.EnsureContainer(ctx, s, "")
	if err != nil || again.ID != home.ID {
		t.Fatalf("EnsureContainer should reuse %s, got %+v (%v)", home.ID, again, err)
	}
	if _, err := store.EnsureContainer(ctx, s, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown container id, got %v", err)
	}

	archive, err := s.CreateContainer(ctx, store.Container{ID: "archive", Name: "Archive"})
	if err != nil {
		t.Fatalf("CreateContainer failed: %v", err)
	}
	tasksOnly, err := s.QueryContainers(ctx, store.ContainerFilter{Capability: store.CapabilityTasks})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasksOnly) != 1 || tasksOnly[0].ID != home.ID {
		t.Errorf("capability filter returned %+v", tasksOnly)
	}

	uid, err := s.CreateTask(ctx, home.ID, Payload("first"))
	if err != nil {
		t.Fatalf("CreateTask failed: %v", err)
	}
	if uid == "" {
		t.Fatal("expected a store-assigned uid")
	}
	second, err := s.CreateTask(ctx, home.ID, Payload("second"))
	if err != nil {
		t.Fatal(err)
	}
	if second == uid {
		t.Fatal("uids must be unique")
	}

	items, err := s.QueryTasks(ctx, store.Filter{Container: home.ID})
	if err != nil {
		t.Fatalf("QueryTasks failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	todo := ics.TodoOf(find(t, items, uid).Payload())
	if todo == nil || todo.UID() != uid || todo.Summary() != "first" {
		t.Fatalf("stored payload does not carry its uid: %+v", todo)
	}

	todo.SetSummary("renamed")
	if err := s.UpdateTask(ctx, home.ID, uid, ics.Envelope(todo)); err != nil {
		t.Fatalf("UpdateTask failed: %v", err)
	}
	items, _ = s.QueryTasks(ctx, store.Filter{})
	if got := ics.TodoOf(find(t, items, uid).Payload()).Summary(); got != "renamed" {
		t.Errorf("summary after update = %q", got)
	}

	if err := s.UpdateTask(ctx, home.ID, "nope", Payload("x")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("UpdateTask unknown uid: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteTask(ctx, home.ID, "nope"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("DeleteTask unknown uid: expected ErrNotFound, got %v", err)
	}
	if _, err := s.CreateTask(ctx, "nope", Payload("x")); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("CreateTask unknown container: expected ErrNotFound, got %v", err)
	}
	if _, err := s.CreateTask(ctx, home.ID, ics.DefaultCalendar().Raw()); !errors.Is(err, store.ErrNoTask) {
		t.Errorf("CreateTask without vtodo: expected ErrNoTask, got %v", err)
	}

	if err := s.MoveTask(ctx, home.ID, archive.ID, second); err != nil {
		t.Fatalf("MoveTask failed: %v", err)
	}
	if err := s.MoveTask(ctx, home.ID, archive.ID, second); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("moving from the wrong container: expected ErrNotFound, got %v", err)
	}
	if err := s.MoveTask(ctx, archive.ID, "nope", second); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("moving to an unknown container: expected ErrNotFound, got %v", err)
	}
	moved, _ := s.QueryTasks(ctx, store.Filter{Container: archive.ID})
	if len(moved) != 1 || moved[0].ID != second {
		t.Errorf("archive holds %+v", moved)
	}

	if err := s.DeleteTask(ctx, home.ID, uid); err != nil {
		t.Fatalf("DeleteTask failed: %v", err)
	}
	left, _ := s.QueryTasks(ctx, store.Filter{Container: home.ID})
	if len(left) != 0 {
		t.Errorf("expected empty container after delete, got %d items", len(left))
	}
}

func find(t *testing.T, items []store.Item, uid string) store.Item {
	t.Helper()
	for _, it := range items {
		if it.ID == uid {
			return it
		}
	}
	t.Fatalf("item %s not found", uid)
	return store.Item{}
}

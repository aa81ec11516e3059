package tracker

import (
	"icanban/internal/ics"
)

// Role is the position of a task in the tree, fixed when the tree is built
// (or when the task is first saved) instead of being re-derived from its
// status on every lookup.
type Role string

const (
	RoleTop       Role = "top"
	RoleChild     Role = "child"
	RoleTimeSlice Role = "time-slice"
)

// Task is one node of the in-memory tree: a vtodo plus the runtime-only
// indexes of its descendants. Children and TimeSlices are derived from the
// parent link stored on each descendant and are never persisted.
type Task struct {
	*ics.Todo
	Role       Role
	Children   map[string]*Task
	TimeSlices map[string]*Task
}

// NewTask returns an unsaved task; it gets a uid on its first Save.
func NewTask() *Task {
	return wrap(ics.NewTodo())
}

// TaskFrom builds an unsaved node around a copy of todo.
func TaskFrom(todo *ics.Todo) *Task {
	return wrap(todo.Clone())
}

func wrap(todo *ics.Todo) *Task {
	return &Task{
		Todo:       todo,
		Children:   map[string]*Task{},
		TimeSlices: map[string]*Task{},
	}
}

// Running reports whether a time slice under the task is IN-PROCESS.
func (t *Task) Running() bool {
	for _, s := range t.TimeSlices {
		if s.Status() == ics.StatusInProcess {
			return true
		}
	}
	return false
}

// Merge copies the runtime attributes of other that are set onto t. The
// record itself is left alone: this splices the indexes of a tree node onto
// a freshly loaded copy of the same task.
func (t *Task) Merge(other *Task) {
	if other == nil {
		return
	}
	if other.Role != "" {
		t.Role = other.Role
	}
	if other.Children != nil {
		t.Children = other.Children
	}
	if other.TimeSlices != nil {
		t.TimeSlices = other.TimeSlices
	}
}

// classify decides the role of a todo. A persisted role wins; otherwise an
// open (NEEDS-ACTION or unset) todo under a parent is a child task and
// anything else is a time slice.
func classify(todo *ics.Todo) Role {
	if todo.Parent() == "" {
		return RoleTop
	}
	switch Role(todo.Role()) {
	case RoleChild:
		return RoleChild
	case RoleTimeSlice:
		return RoleTimeSlice
	}
	switch todo.Status() {
	case ics.StatusNeedsAction, "":
		return RoleChild
	default:
		return RoleTimeSlice
	}
}

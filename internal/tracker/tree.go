package tracker

import (
	"sort"

	"icanban/internal/ics"
	appLog "icanban/internal/log"
	"icanban/internal/store"
)

// Tree is the rebuilt forest: top-level tasks by uid plus a flat index of
// every reachable task.
type Tree struct {
	Top   map[string]*Task
	Index map[string]*Task
	// Orphans lists, sorted, the uids dropped because their parent chain
	// does not lead to a top-level task.
	Orphans []string
}

func emptyTree() Tree {
	return Tree{Top: map[string]*Task{}, Index: map[string]*Task{}}
}

// Build reconstructs the tree from store items in two passes, so a child or
// time slice may come before its parent in items. Items without a vtodo
// payload are skipped. Tasks whose parent is missing, and everything below
// them, are dropped and logged; so are parent cycles.
func Build(items []store.Item) Tree {
	tree := emptyTree()
	var pending []*Task

	for _, it := range items {
		todo := ics.TodoOf(it.Payload())
		if todo == nil {
			appLog.Warn("tracker: skipping item without vtodo", "id", it.ID)
			continue
		}
		uid := todo.UID()
		if uid == "" {
			if it.ID == "" {
				appLog.Warn("tracker: skipping task without uid")
				continue
			}
			uid = it.ID
			todo.SetUID(uid)
		}
		if _, dup := tree.Index[uid]; dup {
			appLog.Warn("tracker: duplicate uid, keeping first", "uid", uid)
			continue
		}
		task := wrap(todo)
		tree.Index[uid] = task
		if todo.Parent() == "" {
			task.Role = RoleTop
			tree.Top[uid] = task
			continue
		}
		pending = append(pending, task)
	}

	for _, task := range pending {
		parent, ok := tree.Index[task.Parent()]
		if !ok {
			continue
		}
		task.Role = classify(task.Todo)
		attach(parent, task)
	}

	tree.dropUnreachable()
	return tree
}

func attach(parent, task *Task) {
	if task.Role == RoleTimeSlice {
		parent.TimeSlices[task.UID()] = task
		return
	}
	parent.Children[task.UID()] = task
}

func detach(parent, task *Task) {
	delete(parent.Children, task.UID())
	delete(parent.TimeSlices, task.UID())
}

// dropUnreachable removes from the index every task not reachable from a
// top-level task: missing parents, their descendants and cycles.
func (t *Tree) dropUnreachable() {
	reached := make(map[string]bool, len(t.Index))
	var walk func(*Task)
	walk = func(task *Task) {
		uid := task.UID()
		if reached[uid] {
			return
		}
		reached[uid] = true
		for _, c := range task.Children {
			walk(c)
		}
		for _, s := range task.TimeSlices {
			walk(s)
		}
	}
	for _, top := range t.Top {
		walk(top)
	}

	for uid, task := range t.Index {
		if reached[uid] {
			continue
		}
		appLog.Warn("tracker: dropping orphaned task", "uid", uid, "parent", task.Parent())
		delete(t.Index, uid)
		t.Orphans = append(t.Orphans, uid)
	}
	sort.Strings(t.Orphans)
}

// Len is the number of indexed tasks.
func (t Tree) Len() int { return len(t.Index) }

// descendants returns every task below task, deepest first.
func descendants(task *Task) []*Task {
	var out []*Task
	for _, uid := range sortedKeys(task.Children) {
		c := task.Children[uid]
		out = append(out, descendants(c)...)
		out = append(out, c)
	}
	for _, uid := range sortedKeys(task.TimeSlices) {
		out = append(out, task.TimeSlices[uid])
	}
	return out
}

func sortedKeys(m map[string]*Task) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Package tracker keeps the in-memory task tree for one container and runs
// the time-tracking state machine on top of a store.Store.
//
// Locking:
//   - ops: a rebuild takes it exclusively; every mutation and the autosave
//     sweep share it, so a rebuild never swaps the tree under a mutation.
//   - locks: one mutex per uid serializes start, stop, save, delete and the
//     sweep on the same task. Several uids are always locked ancestor first.
//   - mu: guards the tree and the records held by its nodes. It is never
//     held across a store call.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"icanban/internal/ics"
	appLog "icanban/internal/log"
	"icanban/internal/model"
	"icanban/internal/store"
)

var (
	ErrNotFound = errors.New("task not found")
	// ErrTimeSlice is returned when a time slice is asked to start or stop.
	ErrTimeSlice = errors.New("task is a time slice")
	// ErrNotTopLevel is returned when moving a task that has a parent.
	ErrNotTopLevel = errors.New("task is not top-level")
)

// DefaultTimeout bounds every store call.
const DefaultTimeout = 10 * time.Second

type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type Options struct {
	// Container backs the tree.
	Container string
	// Timeout bounds each store call; DefaultTimeout when zero.
	Timeout time.Duration
	Clock   Clock
}

// Patch is a partial update applied to a task before it is saved. Keys
// are property names in raw ("related-to") or field ("relatedTo") form;
// values follow ics.Component.Set.
type Patch map[string]any

type Manager struct {
	store   store.Store
	clock   Clock
	timeout time.Duration

	ops   sync.RWMutex
	locks *keyedMutex

	mu        sync.RWMutex
	container string
	tree      Tree

	events *broadcaster
}

func NewManager(s store.Store, opts Options) *Manager {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	return &Manager{
		store:     s,
		clock:     opts.Clock,
		timeout:   opts.Timeout,
		locks:     newKeyedMutex(),
		container: opts.Container,
		tree:      emptyTree(),
		events:    newBroadcaster(),
	}
}

// Subscribe returns a channel of tree events. Slow subscribers miss events.
func (m *Manager) Subscribe() chan Event { return m.events.subscribe() }

func (m *Manager) Unsubscribe(ch chan Event) { m.events.unsubscribe(ch) }

func (m *Manager) Container() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.container
}

// SetContainer switches the backing container and rebuilds the tree.
func (m *Manager) SetContainer(ctx context.Context, id string) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	m.mu.Lock()
	m.container = id
	m.mu.Unlock()
	return m.refreshLocked(ctx)
}

func (m *Manager) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// Refresh drops the tree and rebuilds it from the store.
func (m *Manager) Refresh(ctx context.Context) error {
	m.ops.Lock()
	defer m.ops.Unlock()
	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) error {
	container := m.Container()
	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	items, err := m.store.QueryTasks(sctx, store.Filter{Container: container})
	if err != nil {
		return fmt.Errorf("query tasks: %w", err)
	}

	tree := Build(items)
	m.mu.Lock()
	m.tree = tree
	m.mu.Unlock()

	appLog.Info("tracker: tree rebuilt",
		"container", container,
		"tasks", tree.Len(),
		"top_level", len(tree.Top),
		"orphans", len(tree.Orphans),
	)
	m.events.emit(EventRefresh, "")
	return nil
}

// Watch rebuilds the tree whenever n reports a store change, until ctx is
// done. Changes queued while a rebuild runs are folded into the next one.
func (m *Manager) Watch(ctx context.Context, n store.Notifier) error {
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case change, ok := <-ch:
			if !ok {
				return nil
			}
			if !drain(ch) {
				return nil
			}
			appLog.Debug("tracker: store changed, rebuilding", "kind", string(change.Kind), "uid", change.Item.ID)
			if err := m.Refresh(ctx); err != nil {
				appLog.Error("tracker: rebuild after store change failed", err)
			}
		}
	}
}

// drain empties ch without blocking; false means ch was closed.
func drain(ch chan store.Change) bool {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return false
			}
		default:
			return true
		}
	}
}

// Orphans lists the uids the last rebuild dropped, plus saves that lost
// their parent since.
func (m *Manager) Orphans() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.tree.Orphans...)
}

// Get returns the tree node for uid. The node is shared: read it, and
// change it only through Save.
func (m *Manager) Get(uid string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookupLocked(uid)
}

func (m *Manager) lookupLocked(uid string) (*Task, error) {
	t, ok := m.tree.Index[uid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}
	return t, nil
}

// TopLevel returns the top-level tasks ordered by summary.
func (m *Manager) TopLevel() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Task, 0, len(m.tree.Top))
	for _, t := range m.tree.Top {
		out = append(out, t)
	}
	sortTasks(out)
	return out
}

// Running returns every task with an IN-PROCESS time slice.
func (m *Manager) Running() []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Task
	for _, t := range m.tree.Index {
		if t.Running() {
			out = append(out, t)
		}
	}
	sortTasks(out)
	return out
}

func sortTasks(ts []*Task) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := strings.ToLower(ts[i].Summary()), strings.ToLower(ts[j].Summary())
		if a != b {
			return a < b
		}
		return ts[i].UID() < ts[j].UID()
	})
}

// Save applies patch to task and persists it: a task without uid is
// created and adopts the uid the store assigns, any other is updated. The
// tree is re-indexed afterwards, following a changed parent link. Nothing
// in memory changes when validation or the store call fails.
func (m *Manager) Save(ctx context.Context, task *Task, patch Patch) (*Task, error) {
	if task == nil {
		return nil, errors.New("save: nil task")
	}
	m.ops.RLock()
	defer m.ops.RUnlock()

	m.mu.RLock()
	uid := task.UID()
	m.mu.RUnlock()
	if uid != "" {
		unlock := m.locks.Lock(uid)
		defer unlock()
	}
	return m.saveLocked(ctx, task, patch)
}

func (m *Manager) saveLocked(ctx context.Context, task *Task, patch Patch) (*Task, error) {
	m.mu.RLock()
	next := task.Todo.Clone()
	uid := next.UID()
	container := m.container
	var current *Task
	if uid != "" {
		current = m.tree.Index[uid]
	}
	prevParent := ""
	if current != nil {
		prevParent = current.Parent()
	}
	m.mu.RUnlock()
	if uid != "" && current == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, uid)
	}

	if err := applyPatch(next, uid, patch); err != nil {
		return nil, err
	}
	if err := m.checkParent(next, uid); err != nil {
		return nil, err
	}
	if next.Parent() == "" {
		next.SetRole("")
	} else {
		next.SetRole(string(classify(next)))
	}

	next.Touch(m.clock.Now())
	var skip []string
	if uid == "" {
		skip = append(skip, "uid")
	}
	if err := next.Validate(skip...); err != nil {
		return nil, err
	}

	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	payload := ics.Envelope(next)
	event := EventUpdate
	if uid == "" {
		newUID, err := m.store.CreateTask(sctx, container, payload)
		if err != nil {
			appLog.Error("tracker: create failed", err, "summary", next.Summary())
			return nil, fmt.Errorf("create task: %w", err)
		}
		next.SetUID(newUID)
		uid = newUID
		event = EventCreate
	} else if err := m.store.UpdateTask(sctx, container, uid, payload); err != nil {
		appLog.Error("tracker: update failed", err, "uid", uid)
		return nil, fmt.Errorf("update task %s: %w", uid, err)
	}

	m.mu.Lock()
	*task.Todo.Raw() = *next.Raw()
	if current != nil && current != task {
		task.Merge(current)
	}
	err := m.indexLocked(task, current, prevParent)
	m.mu.Unlock()

	m.events.emit(event, uid)
	if err != nil {
		return nil, err
	}
	return task, nil
}

func applyPatch(next *ics.Todo, uid string, patch Patch) error {
	names := make([]string, 0, len(patch))
	for name := range patch {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		value := patch[name]
		if ics.PropertyName(name) == "uid" {
			if s, _ := value.(string); s != uid {
				return &ics.SchemaError{Kind: ics.KindTodo, Property: "uid", Reason: "assigned by the store and immutable"}
			}
			continue
		}
		if t, ok := value.(time.Time); ok {
			value = ics.FormatDateTime(t)
		}
		if err := next.Set(name, value); err != nil {
			return fmt.Errorf("patch %s: %w", name, err)
		}
	}
	return nil
}

// checkParent makes sure the parent exists and is not the task itself or
// one of its descendants.
func (m *Manager) checkParent(next *ics.Todo, uid string) error {
	parent := next.Parent()
	if parent == "" {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.tree.Index[parent]
	if !ok {
		return fmt.Errorf("parent %w: %s", ErrNotFound, parent)
	}
	for hops := 0; p != nil && hops <= len(m.tree.Index); hops++ {
		if uid != "" && p.UID() == uid {
			return &ics.SchemaError{Kind: ics.KindTodo, Property: "related-to", Reason: "parent link would form a cycle"}
		}
		p = m.tree.Index[p.Parent()]
	}
	return nil
}

// indexLocked places task in the tree after a save. current is the node
// previously indexed under the same uid, if any. It fails when the parent
// left the tree while the store call was in flight; the record is stored
// but stays out of the tree until the next rebuild lists it as an orphan.
func (m *Manager) indexLocked(task, current *Task, prevParent string) error {
	uid := task.UID()
	if current != nil {
		if prevParent == "" {
			delete(m.tree.Top, uid)
		} else if p := m.tree.Index[prevParent]; p != nil {
			detach(p, current)
		}
	}
	if task.Children == nil {
		task.Children = map[string]*Task{}
	}
	if task.TimeSlices == nil {
		task.TimeSlices = map[string]*Task{}
	}

	parent := task.Parent()
	if parent == "" {
		task.Role = RoleTop
		m.tree.Top[uid] = task
		m.tree.Index[uid] = task
		return nil
	}
	p, ok := m.tree.Index[parent]
	if !ok {
		appLog.Warn("tracker: saved task has no parent in tree", "uid", uid, "parent", parent)
		delete(m.tree.Index, uid)
		m.tree.Orphans = append(m.tree.Orphans, uid)
		sort.Strings(m.tree.Orphans)
		return fmt.Errorf("saved %s but parent %w: %s", uid, ErrNotFound, parent)
	}
	task.Role = classify(task.Todo)
	attach(p, task)
	m.tree.Index[uid] = task
	return nil
}

// Start begins a new time slice under uid, first stopping any slice that
// is still running there, so at most one slice per task is IN-PROCESS.
func (m *Manager) Start(ctx context.Context, uid string) (*Task, error) {
	m.ops.RLock()
	defer m.ops.RUnlock()
	unlock := m.locks.Lock(uid)
	defer unlock()

	task, err := m.trackable(uid)
	if err != nil {
		return nil, err
	}
	if _, err := m.stopLocked(ctx, task); err != nil {
		return nil, err
	}

	m.mu.RLock()
	summary := task.Summary()
	m.mu.RUnlock()

	now := m.clock.Now()
	slice := NewTask()
	slice.SetSummary(summary)
	slice.SetParent(uid)
	slice.SetRole(string(RoleTimeSlice))
	slice.SetStatus(ics.StatusInProcess)
	slice.SetDTStart(now)
	slice.SetDue(now)

	saved, err := m.saveLocked(ctx, slice, nil)
	if err != nil {
		return nil, err
	}
	appLog.Info("tracker: started", "uid", uid, "slice", saved.UID())
	return saved, nil
}

// Stop completes every running time slice under uid and returns them.
func (m *Manager) Stop(ctx context.Context, uid string) ([]*Task, error) {
	m.ops.RLock()
	defer m.ops.RUnlock()
	unlock := m.locks.Lock(uid)
	defer unlock()

	task, err := m.trackable(uid)
	if err != nil {
		return nil, err
	}
	stopped, err := m.stopLocked(ctx, task)
	if len(stopped) > 0 {
		appLog.Info("tracker: stopped", "uid", uid, "slices", len(stopped))
	}
	return stopped, err
}

func (m *Manager) trackable(uid string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, err := m.lookupLocked(uid)
	if err != nil {
		return nil, err
	}
	if task.Role == RoleTimeSlice {
		return nil, fmt.Errorf("%w: %s", ErrTimeSlice, uid)
	}
	return task, nil
}

func (m *Manager) stopLocked(ctx context.Context, task *Task) ([]*Task, error) {
	now := ics.FormatDateTime(m.clock.Now())
	var stopped []*Task
	var errs []error
	for _, s := range m.runningSlices(task) {
		unlock := m.locks.Lock(s.UID())
		saved, err := m.saveLocked(ctx, s, Patch{
			"due":      now,
			"duration": nil,
			"status":   string(ics.StatusCompleted),
		})
		unlock()
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stopped = append(stopped, saved)
	}
	return stopped, errors.Join(errs...)
}

func (m *Manager) runningSlices(task *Task) []*Task {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Task
	for _, uid := range sortedKeys(task.TimeSlices) {
		if s := task.TimeSlices[uid]; s.Status() == ics.StatusInProcess {
			out = append(out, s)
		}
	}
	return out
}

// Sweep extends due to now on every running time slice. A failed write is
// logged and left for the next sweep; the joined errors are returned.
func (m *Manager) Sweep(ctx context.Context) error {
	m.ops.RLock()
	defer m.ops.RUnlock()

	var errs []error
	extended := 0
	for _, task := range m.Running() {
		unlock := m.locks.Lock(task.UID())
		now := ics.FormatDateTime(m.clock.Now())
		for _, s := range m.runningSlices(task) {
			unlockSlice := m.locks.Lock(s.UID())
			_, err := m.saveLocked(ctx, s, Patch{"due": now, "duration": nil})
			unlockSlice()
			if err != nil {
				appLog.Error("tracker: autosave failed", err, "uid", s.UID())
				errs = append(errs, err)
				continue
			}
			extended++
		}
		unlock()
	}
	appLog.Debug("tracker: sweep done", "extended", extended, "failed", len(errs))
	m.events.emit(EventUpdate, "")
	return errors.Join(errs...)
}

// Delete removes uid with all its time slices and, recursively, all its
// children. A record the store no longer has counts as deleted.
func (m *Manager) Delete(ctx context.Context, uid string) error {
	m.ops.RLock()
	defer m.ops.RUnlock()
	unlock := m.locks.Lock(uid)
	defer unlock()

	task, err := m.Get(uid)
	if err != nil {
		return err
	}
	return m.deleteLocked(ctx, task)
}

func (m *Manager) deleteLocked(ctx context.Context, task *Task) error {
	m.mu.RLock()
	var slices, children []*Task
	for _, uid := range sortedKeys(task.TimeSlices) {
		slices = append(slices, task.TimeSlices[uid])
	}
	for _, uid := range sortedKeys(task.Children) {
		children = append(children, task.Children[uid])
	}
	m.mu.RUnlock()

	for _, s := range slices {
		unlock := m.locks.Lock(s.UID())
		err := m.removeOne(ctx, s)
		unlock()
		if err != nil {
			return err
		}
	}
	for _, c := range children {
		unlock := m.locks.Lock(c.UID())
		err := m.deleteLocked(ctx, c)
		unlock()
		if err != nil {
			return err
		}
	}
	return m.removeOne(ctx, task)
}

func (m *Manager) removeOne(ctx context.Context, task *Task) error {
	m.mu.RLock()
	uid, parent, container := task.UID(), task.Parent(), m.container
	m.mu.RUnlock()

	sctx, cancel := m.storeCtx(ctx)
	defer cancel()
	if err := m.store.DeleteTask(sctx, container, uid); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			appLog.Error("tracker: delete failed", err, "uid", uid)
			return fmt.Errorf("delete task %s: %w", uid, err)
		}
		appLog.Warn("tracker: task already gone from store", "uid", uid)
	}

	m.mu.Lock()
	if parent == "" {
		delete(m.tree.Top, uid)
	} else if p := m.tree.Index[parent]; p != nil {
		detach(p, task)
	}
	delete(m.tree.Index, uid)
	m.mu.Unlock()

	m.events.emit(EventDelete, uid)
	return nil
}

// Move transfers a top-level task and everything below it to another
// container. The moved tasks leave this tree. A failure part way leaves
// the rest in place; the next rebuild shows what moved.
func (m *Manager) Move(ctx context.Context, uid, to string) error {
	m.ops.RLock()
	defer m.ops.RUnlock()
	unlock := m.locks.Lock(uid)
	defer unlock()

	m.mu.RLock()
	task, err := m.lookupLocked(uid)
	var subtree []*Task
	if err == nil {
		if task.Parent() != "" {
			err = fmt.Errorf("%w: %s", ErrNotTopLevel, uid)
		}
		subtree = append(descendants(task), task)
	}
	from := m.container
	m.mu.RUnlock()
	if err != nil {
		return err
	}
	if to == from {
		return nil
	}

	for _, t := range subtree {
		sctx, cancel := m.storeCtx(ctx)
		err := m.store.MoveTask(sctx, from, to, t.UID())
		cancel()
		if err != nil {
			return fmt.Errorf("move task %s: %w", t.UID(), err)
		}
	}

	m.mu.Lock()
	for _, t := range subtree {
		delete(m.tree.Index, t.UID())
	}
	delete(m.tree.Top, uid)
	m.mu.Unlock()

	appLog.Info("tracker: moved", "uid", uid, "to", to, "records", len(subtree))
	m.events.emit(EventDelete, uid)
	return nil
}

// Elapsed is the tracked time of uid: the length of each of its time
// slices (up to now for a running one) plus, recursively, the elapsed time
// of each child. Inverted slices count as zero.
func (m *Manager) Elapsed(uid string) (time.Duration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, err := m.lookupLocked(uid)
	if err != nil {
		return 0, err
	}
	return elapsed(task, m.clock.Now(), map[string]bool{}), nil
}

func elapsed(task *Task, now time.Time, seen map[string]bool) time.Duration {
	if seen[task.UID()] {
		return 0
	}
	seen[task.UID()] = true

	var total time.Duration
	for _, s := range task.TimeSlices {
		total += sliceLength(s, now)
	}
	for _, c := range task.Children {
		total += elapsed(c, now, seen)
	}
	return total
}

func sliceLength(s *Task, now time.Time) time.Duration {
	start, ok := s.DTStart()
	if !ok {
		return 0
	}
	end := now
	if s.Status() != ics.StatusInProcess {
		if end, ok = s.End(); !ok {
			return 0
		}
	}
	if d := end.Sub(start); d > 0 {
		return d
	}
	return 0
}

// Views renders the whole forest.
func (m *Manager) Views() []model.TaskView {
	tops := m.TopLevel()
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.clock.Now()
	out := make([]model.TaskView, 0, len(tops))
	for _, t := range tops {
		out = append(out, view(t, now))
	}
	return out
}

// View renders uid and everything below it.
func (m *Manager) View(uid string) (model.TaskView, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	task, err := m.lookupLocked(uid)
	if err != nil {
		return model.TaskView{}, err
	}
	return view(task, m.clock.Now()), nil
}

func view(t *Task, now time.Time) model.TaskView {
	v := model.TaskView{
		UID:         t.UID(),
		Summary:     t.Summary(),
		Description: t.Description(),
		Status:      string(t.Status()),
		Role:        string(t.Role),
		Parent:      t.Parent(),
		Categories:  t.Categories(),
		Running:     t.Running(),
		ElapsedMs:   elapsed(t, now, map[string]bool{}).Milliseconds(),
	}
	if t.Role == RoleTimeSlice {
		v.Running = t.Status() == ics.StatusInProcess
	}
	v.Start, _ = t.DTStart()
	v.Due, _ = t.End()

	children := make([]*Task, 0, len(t.Children))
	for _, c := range t.Children {
		children = append(children, c)
	}
	sortTasks(children)
	for _, c := range children {
		v.Children = append(v.Children, view(c, now))
	}

	for _, s := range slicesByStart(t) {
		sv := view(s, now)
		sv.ElapsedMs = sliceLength(s, now).Milliseconds()
		v.TimeSlices = append(v.TimeSlices, sv)
	}
	return v
}

func slicesByStart(t *Task) []*Task {
	out := make([]*Task, 0, len(t.TimeSlices))
	for _, s := range t.TimeSlices {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i].DTStart()
		b, _ := out[j].DTStart()
		if !a.Equal(b) {
			return a.Before(b)
		}
		return out[i].UID() < out[j].UID()
	})
	return out
}

// Export returns copies of the records of uid and everything below it, or
// of the whole tree when uid is empty, parents before their descendants.
func (m *Manager) Export(uid string) ([]*ics.Todo, error) {
	var roots []*Task
	if uid == "" {
		roots = m.TopLevel()
	} else {
		t, err := m.Get(uid)
		if err != nil {
			return nil, err
		}
		roots = []*Task{t}
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*ics.Todo
	var walk func(*Task)
	walk = func(t *Task) {
		out = append(out, t.Todo.Clone())
		for _, s := range slicesByStart(t) {
			out = append(out, s.Todo.Clone())
		}
		for _, k := range sortedKeys(t.Children) {
			walk(t.Children[k])
		}
	}
	for _, r := range roots {
		walk(r)
	}
	return out, nil
}

// Import saves todos as new tasks. Their uids are replaced by store uids
// and parent links are rewritten to match; parents are saved before their
// descendants. A parent outside the set is kept when this tree has it,
// otherwise the task is imported as top-level. The returned map goes from
// imported uid to new uid.
func (m *Manager) Import(ctx context.Context, todos []*ics.Todo) (map[string]string, error) {
	inSet := make(map[string]bool, len(todos))
	for _, td := range todos {
		if uid := td.UID(); uid != "" {
			inSet[uid] = true
		}
	}

	mapping := make(map[string]string, len(todos))
	failed := make(map[string]bool)
	done := make([]bool, len(todos))
	var errs []error

	for progress := true; progress; {
		progress = false
		for i, td := range todos {
			if done[i] {
				continue
			}
			parent := td.Parent()
			newParent := ""
			switch {
			case parent == "":
			case mapping[parent] != "":
				newParent = mapping[parent]
			case failed[parent]:
				done[i], progress = true, true
				failed[td.UID()] = true
				errs = append(errs, fmt.Errorf("import %s: parent %s failed", td.UID(), parent))
				continue
			case inSet[parent] && parent != td.UID():
				continue
			default:
				if _, err := m.Get(parent); err == nil {
					newParent = parent
				} else {
					appLog.Warn("tracker: import parent missing, importing as top-level", "uid", td.UID(), "parent", parent)
				}
			}
			done[i], progress = true, true

			next := td.Clone()
			old := next.UID()
			next.SetUID("")
			next.SetParent(newParent)
			saved, err := m.Save(ctx, wrap(next), nil)
			if err != nil {
				failed[old] = true
				errs = append(errs, fmt.Errorf("import %s: %w", old, err))
				continue
			}
			if old != "" {
				mapping[old] = saved.UID()
			}
		}
	}

	for i, td := range todos {
		if !done[i] {
			appLog.Warn("tracker: import skipped task in a parent cycle", "uid", td.UID())
		}
	}
	appLog.Info("tracker: import done", "imported", len(mapping), "failed", len(errs))
	return mapping, errors.Join(errs...)
}

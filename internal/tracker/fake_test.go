package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"icanban/internal/ics"
	"icanban/internal/store"
)

const testContainer = "tasks"

// fakeStore is an in-memory store.Store with call counting and injectable
// failures. Query results alternate between the two payload forms.
type fakeStore struct {
	mu     sync.Mutex
	items  map[string]*ics.Raw
	where  map[string]string
	order  []string
	next   int
	calls  map[string]int
	failOn map[string]error
	hang   map[string]bool
	hooks  map[string]func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:  map[string]*ics.Raw{},
		where:  map[string]string{},
		calls:  map[string]int{},
		failOn: map[string]error{},
		hang:   map[string]bool{},
		hooks:  map[string]func(){},
	}
}

func (f *fakeStore) fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failOn, op)
		return
	}
	f.failOn[op] = err
}

func (f *fakeStore) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// block makes op wait for its context to end.
func (f *fakeStore) block(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang[op] = true
}

// before runs fn at the start of every op call, outside the store lock.
func (f *fakeStore) before(op string, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hooks[op] = fn
}

func (f *fakeStore) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	f.calls[op]++
	err, hang, hook := f.failOn[op], f.hang[op], f.hooks[op]
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

// seed stores todo under its own uid.
func (f *fakeStore) seed(todos ...*ics.Todo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, td := range todos {
		f.items[td.UID()] = ics.Envelope(td)
		f.where[td.UID()] = testContainer
		f.order = append(f.order, td.UID())
	}
}

func (f *fakeStore) todo(uid string) *ics.Todo {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.items[uid]
	if !ok {
		return nil
	}
	return ics.TodoOf(raw.Clone())
}

func (f *fakeStore) len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func (f *fakeStore) QueryTasks(ctx context.Context, filter store.Filter) ([]store.Item, error) {
	if err := f.enter(ctx, "query"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Item
	for i, uid := range f.order {
		raw, ok := f.items[uid]
		if !ok || (filter.Container != "" && f.where[uid] != filter.Container) {
			continue
		}
		it := store.Item{ID: uid, Container: f.where[uid]}
		if i%2 == 0 {
			it.Item, it.Format = raw.Clone(), store.FormatJCal
		} else {
			it.Formats = map[string]*ics.Raw{store.FormatJCal: raw.Clone()}
		}
		out = append(out, it)
	}
	return out, nil
}

func (f *fakeStore) CreateTask(ctx context.Context, container string, payload *ics.Raw) (string, error) {
	if err := f.enter(ctx, "create"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	uid := fmt.Sprintf("uid-%d", f.next)
	stamped, err := store.Stamp(payload, uid)
	if err != nil {
		return "", err
	}
	f.items[uid] = stamped
	f.where[uid] = container
	f.order = append(f.order, uid)
	return uid, nil
}

func (f *fakeStore) UpdateTask(ctx context.Context, container, uid string, payload *ics.Raw) error {
	if err := f.enter(ctx, "update"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[uid]; !ok || f.where[uid] != container {
		return store.ErrNotFound
	}
	stamped, err := store.Stamp(payload, uid)
	if err != nil {
		return err
	}
	f.items[uid] = stamped
	return nil
}

func (f *fakeStore) DeleteTask(ctx context.Context, container, uid string) error {
	if err := f.enter(ctx, "delete"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[uid]; !ok || f.where[uid] != container {
		return store.ErrNotFound
	}
	delete(f.items, uid)
	delete(f.where, uid)
	return nil
}

func (f *fakeStore) MoveTask(ctx context.Context, from, to, uid string) error {
	if err := f.enter(ctx, "move"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.items[uid]; !ok || f.where[uid] != from {
		return store.ErrNotFound
	}
	f.where[uid] = to
	return nil
}

func (f *fakeStore) QueryContainers(context.Context, store.ContainerFilter) ([]store.Container, error) {
	return []store.Container{{ID: testContainer, Name: "Tasks"}}, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// todo builds a stored record. start and due are jCal date-times or "".
func todo(uid, parent string, status ics.Status, start, due string) *ics.Todo {
	td := ics.NewTodo()
	td.SetUID(uid)
	td.SetSummary("task " + uid)
	td.SetStatus(status)
	td.SetParent(parent)
	td.Touch(time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	if start != "" {
		_ = td.Set("dtstart", start)
	}
	if due != "" {
		_ = td.Set("due", due)
	}
	return td
}

func items(todos ...*ics.Todo) []store.Item {
	out := make([]store.Item, 0, len(todos))
	for i, td := range todos {
		it := store.Item{ID: td.UID(), Container: testContainer}
		if i%2 == 0 {
			it.Item, it.Format = ics.Envelope(td), store.FormatJCal
		} else {
			it.Formats = map[string]*ics.Raw{store.FormatJCal: ics.Envelope(td)}
		}
		out = append(out, it)
	}
	return out
}

// newTestManager returns a manager over a fake store seeded with todos and
// already refreshed.
func newTestManager(t *testing.T, todos ...*ics.Todo) (*Manager, *fakeStore, *testClock) {
	t.Helper()
	fs := newFakeStore()
	fs.seed(todos...)
	clock := newTestClock()
	m := NewManager(fs, Options{Container: testContainer, Clock: clock, Timeout: time.Second})
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	return m, fs, clock
}

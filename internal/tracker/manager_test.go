package tracker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"icanban/internal/ics"
	"icanban/internal/store"
)

var errBoom = errors.New("store unavailable")

func inProcess(task *Task) int {
	n := 0
	for _, s := range task.TimeSlices {
		if s.Status() == ics.StatusInProcess {
			n++
		}
	}
	return n
}

func TestStartStopsRunningSliceFirst(t *testing.T) {
	ctx := context.Background()
	m, fs, clock := newTestManager(t, todo("T1", "", ics.StatusNeedsAction, "", ""))

	first, err := m.Start(ctx, "T1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if first.Status() != ics.StatusInProcess || first.Parent() != "T1" || first.Role != RoleTimeSlice {
		t.Errorf("first slice: status=%s parent=%s role=%s", first.Status(), first.Parent(), first.Role)
	}
	if start, _ := first.DTStart(); !start.Equal(clock.Now()) {
		t.Errorf("dtstart = %v, want %v", start, clock.Now())
	}

	clock.Advance(15 * time.Minute)
	callTime := clock.Now()
	second, err := m.Start(ctx, "T1")
	if err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if second.UID() == first.UID() {
		t.Fatal("expected a new slice")
	}

	stored := fs.todo(first.UID())
	if stored.Status() != ics.StatusCompleted {
		t.Errorf("first slice status in store = %s", stored.Status())
	}
	if due, _ := stored.Due(); !due.Equal(callTime) {
		t.Errorf("first slice due = %v, want %v", due, callTime)
	}

	t1, _ := m.Get("T1")
	if n := inProcess(t1); n != 1 {
		t.Errorf("expected exactly one running slice, got %d", n)
	}
	if !t1.Running() || len(m.Running()) != 1 {
		t.Error("T1 should be reported as running")
	}

	clock.Advance(5 * time.Minute)
	if got, _ := m.Elapsed("T1"); got != 20*time.Minute {
		t.Errorf("elapsed = %v, want 20m", got)
	}

	stopped, err := m.Stop(ctx, "T1")
	if err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if len(stopped) != 1 || stopped[0].UID() != second.UID() {
		t.Errorf("stopped = %v", stopped)
	}
	if t1.Running() {
		t.Error("T1 still running after Stop")
	}
	if again, err := m.Stop(ctx, "T1"); err != nil || len(again) != 0 {
		t.Errorf("second Stop should be a no-op, got %v, %v", again, err)
	}
}

func TestConcurrentStartsLeaveOneRunningSlice(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, todo("T1", "", ics.StatusNeedsAction, "", ""))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(ctx, "T1"); err != nil {
				t.Errorf("Start failed: %v", err)
			}
		}()
	}
	wg.Wait()

	t1, _ := m.Get("T1")
	if n := inProcess(t1); n != 1 {
		t.Errorf("expected one running slice after concurrent starts, got %d", n)
	}
	if len(t1.TimeSlices) != 16 {
		t.Errorf("expected 16 slices, got %d", len(t1.TimeSlices))
	}
	if held := m.locks.held(); held != 0 {
		t.Errorf("expected all uid locks released, %d held", held)
	}
}

func TestDeleteCascadesToChildren(t *testing.T) {
	ctx := context.Background()
	m, fs, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("C1", "T1", ics.StatusNeedsAction, "", ""),
		todo("C2", "T1", ics.StatusNeedsAction, "", ""),
		todo("S1", "T1", ics.StatusCompleted, "2024-01-01T08:00:00", "2024-01-01T08:30:00"),
		todo("S2", "T1", ics.StatusCompleted, "2024-01-01T09:00:00", "2024-01-01T09:30:00"),
		todo("S3", "T1", ics.StatusCompleted, "2024-01-01T09:40:00", "2024-01-01T09:50:00"),
		todo("T2", "", ics.StatusNeedsAction, "", ""),
	)
	events := m.Subscribe()
	defer m.Unsubscribe(events)

	if err := m.Delete(ctx, "T1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if got := fs.count("delete"); got != 6 {
		t.Errorf("expected 6 store deletes, got %d", got)
	}
	if fs.len() != 1 || fs.todo("T2") == nil {
		t.Errorf("expected only T2 left in store, have %d items", fs.len())
	}
	for _, uid := range []string{"T1", "C1", "C2", "S1", "S2", "S3"} {
		if _, err := m.Get(uid); !errors.Is(err, ErrNotFound) {
			t.Errorf("%s still indexed", uid)
		}
	}
	if tops := m.TopLevel(); len(tops) != 1 || tops[0].UID() != "T2" {
		t.Errorf("top level = %v", tops)
	}

	// The root goes last.
	var last Event
	for len(events) > 0 {
		last = <-events
	}
	if last.Kind != EventDelete || last.UID != "T1" {
		t.Errorf("last event = %+v, want delete T1", last)
	}
}

func TestDeleteToleratesRecordsAlreadyGone(t *testing.T) {
	ctx := context.Background()
	m, fs, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("C1", "T1", ics.StatusNeedsAction, "", ""),
	)
	if err := fs.DeleteTask(ctx, testContainer, "C1"); err != nil {
		t.Fatal(err)
	}
	if err := m.Delete(ctx, "T1"); err != nil {
		t.Fatalf("Delete should tolerate a missing record: %v", err)
	}
}

func TestDeleteStopsOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	m, fs, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("C1", "T1", ics.StatusNeedsAction, "", ""),
	)
	fs.fail("delete", errBoom)
	if err := m.Delete(ctx, "T1"); !errors.Is(err, errBoom) {
		t.Fatalf("expected store error, got %v", err)
	}
	t1, err := m.Get("T1")
	if err != nil || t1.Children["C1"] == nil {
		t.Error("nothing should leave the tree when the store refuses")
	}
}

func TestSaveCreatesThenUpdates(t *testing.T) {
	ctx := context.Background()
	m, fs, _ := newTestManager(t)

	task := NewTask()
	saved, err := m.Save(ctx, task, Patch{"summary": "Write report", "status": string(ics.StatusNeedsAction)})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if saved != task || task.UID() == "" {
		t.Fatalf("expected the task to adopt the store uid, got %q", task.UID())
	}
	if fs.count("create") != 1 || fs.count("update") != 0 {
		t.Errorf("create=%d update=%d", fs.count("create"), fs.count("update"))
	}
	got, err := m.Get(task.UID())
	if err != nil || got != task {
		t.Fatalf("new task not retrievable: %v", err)
	}
	if got.Children == nil || got.TimeSlices == nil || got.Role != RoleTop {
		t.Error("top-level task should be ready to take descendants")
	}

	if _, err := m.Save(ctx, task, Patch{"summary": "Write final report"}); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if fs.count("create") != 1 || fs.count("update") != 1 {
		t.Errorf("create=%d update=%d after update", fs.count("create"), fs.count("update"))
	}
	if fs.todo(task.UID()).Summary() != "Write final report" {
		t.Error("update not persisted")
	}
}

func TestSaveFailuresLeaveTaskUnchanged(t *testing.T) {
	ctx := context.Background()
	m, fs, _ := newTestManager(t, todo("T1", "", ics.StatusNeedsAction, "", ""))
	t1, _ := m.Get("T1")

	fs.fail("update", errBoom)
	if _, err := m.Save(ctx, t1, Patch{"summary": "changed"}); !errors.Is(err, errBoom) {
		t.Fatalf("expected store error, got %v", err)
	}
	if t1.Summary() != "task T1" {
		t.Errorf("summary = %q after failed save", t1.Summary())
	}
	fs.fail("update", nil)

	before := fs.count("update")
	cases := map[string]Patch{
		"conflict":  {"due": "2024-01-01T12:00:00", "duration": "PT1H"},
		"uid":       {"uid": "other"},
		"unknown":   {"rrule": "FREQ=DAILY"},
		"multi":     {"summary": []string{"a", "b"}},
		"own child": {"relatedTo": "T1"},
	}
	for name, patch := range cases {
		if _, err := m.Save(ctx, t1, patch); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
	if fs.count("update") != before {
		t.Error("invalid patches must fail before reaching the store")
	}
	if t1.Has("due") || t1.Has("duration") {
		t.Error("failed patch leaked into the task")
	}

	var se *ics.SchemaError
	_, err := m.Save(ctx, t1, cases["conflict"])
	if !errors.As(err, &se) {
		t.Errorf("expected *ics.SchemaError, got %v", err)
	}
	if _, err := m.Save(ctx, t1, cases["unknown"]); !errors.Is(err, ics.ErrUnknownProperty) {
		t.Errorf("expected ErrUnknownProperty, got %v", err)
	}

	fs.fail("create", errBoom)
	if _, err := m.Start(ctx, "T1"); !errors.Is(err, errBoom) {
		t.Errorf("Start should propagate store errors, got %v", err)
	}
	if len(t1.TimeSlices) != 0 {
		t.Error("failed start left a slice behind")
	}
}

func TestNotFound(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, todo("T1", "", ics.StatusNeedsAction, "", ""))

	if _, err := m.Start(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Start: %v", err)
	}
	if _, err := m.Stop(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stop: %v", err)
	}
	if err := m.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete: %v", err)
	}
	if _, err := m.Elapsed("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Elapsed: %v", err)
	}
	if _, err := m.View("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("View: %v", err)
	}
	if err := m.Move(ctx, "nope", "other"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Move: %v", err)
	}
	ghost := TaskFrom(todo("ghost", "", ics.StatusNeedsAction, "", ""))
	if _, err := m.Save(ctx, ghost, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("Save of unknown uid: %v", err)
	}
	if _, err := m.Save(ctx, NewTask(), Patch{"relatedTo": "ghost"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Save under unknown parent: %v", err)
	}
}

func TestTimeSlicesCannotBeTracked(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("S1", "T1", ics.StatusCompleted, "2024-01-01T08:00:00", "2024-01-01T08:30:00"),
	)
	if _, err := m.Start(ctx, "S1"); !errors.Is(err, ErrTimeSlice) {
		t.Errorf("expected ErrTimeSlice, got %v", err)
	}
}

func TestSaveReparents(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("T2", "", ics.StatusNeedsAction, "", ""),
		todo("C1", "T1", ics.StatusNeedsAction, "", ""),
	)
	c1, _ := m.Get("C1")

	if _, err := m.Save(ctx, c1, Patch{"relatedTo": "T2"}); err != nil {
		t.Fatalf("reparent failed: %v", err)
	}
	t1, _ := m.Get("T1")
	t2, _ := m.Get("T2")
	if t1.Children["C1"] != nil || t2.Children["C1"] != c1 {
		t.Error("C1 not moved from T1 to T2")
	}

	if _, err := m.Save(ctx, t1, Patch{"relatedTo": "C1"}); err != nil {
		t.Fatalf("nesting T1 under C1 failed: %v", err)
	}
	if _, err := m.Save(ctx, c1, Patch{"relatedTo": "T1"}); !errors.Is(err, ics.ErrSchema) {
		t.Errorf("expected a cycle to be refused, got %v", err)
	}

	if _, err := m.Save(ctx, c1, Patch{"relatedTo": nil}); err != nil {
		t.Fatalf("making C1 top-level failed: %v", err)
	}
	if c1.Role != RoleTop || c1.Todo.Role() != "" {
		t.Errorf("role = %s / persisted %q", c1.Role, c1.Todo.Role())
	}
	tops := m.TopLevel()
	if len(tops) != 2 {
		t.Errorf("expected C1 and T2 at top level, got %d", len(tops))
	}
	if c1.Children["T1"] == nil {
		t.Error("C1 should keep its own child T1")
	}
}

func TestSaveStaleNodeKeepsDescendants(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("S1", "T1", ics.StatusCompleted, "2024-01-01T08:00:00", "2024-01-01T08:30:00"),
	)
	stale, _ := m.Get("T1")
	if err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	fresh, _ := m.Get("T1")
	if fresh == stale {
		t.Fatal("refresh should build new nodes")
	}

	copyOfT1 := TaskFrom(stale.Todo)
	copyOfT1.Children, copyOfT1.TimeSlices = nil, nil
	if _, err := m.Save(ctx, copyOfT1, Patch{"summary": "renamed"}); err != nil {
		t.Fatal(err)
	}
	got, _ := m.Get("T1")
	if got != copyOfT1 || got.TimeSlices["S1"] == nil {
		t.Error("saved copy should take over the node and its time slices")
	}
	if got, _ := m.Elapsed("T1"); got != 30*time.Minute {
		t.Errorf("elapsed = %v after merge", got)
	}
}

func TestRoleSurvivesStatusChange(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, todo("T1", "", ics.StatusNeedsAction, "", ""))

	child, err := m.Save(ctx, NewTask(), Patch{"summary": "sub", "relatedTo": "T1", "status": string(ics.StatusNeedsAction)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Save(ctx, child, Patch{"status": string(ics.StatusCompleted)}); err != nil {
		t.Fatal(err)
	}
	if err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	t1, _ := m.Get("T1")
	if t1.Children[child.UID()] == nil {
		t.Error("a completed child task must not turn into a time slice")
	}
}

func TestElapsedNeverNegativeAndMonotone(t *testing.T) {
	m, _, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("C1", "T1", ics.StatusNeedsAction, "", ""),
		todo("G1", "C1", ics.StatusNeedsAction, "", ""),
		todo("S1", "T1", ics.StatusCompleted, "2024-01-01T08:00:00", "2024-01-01T08:30:00"),
		todo("S2", "C1", ics.StatusCompleted, "2024-01-01T09:00:00", "2024-01-01T09:15:00"),
		todo("S3", "G1", ics.StatusCompleted, "2024-01-01T09:20:00", "2024-01-01T09:25:00"),
		todo("BAD", "G1", ics.StatusCompleted, "2024-01-01T09:00:00", "2024-01-01T08:00:00"),
		todo("RUN", "C1", ics.StatusInProcess, "2024-01-01T09:50:00Z", "2024-01-01T09:50:00Z"),
		todo("NOSTART", "T1", ics.StatusCompleted, "", "2024-01-01T08:00:00"),
		todo("EMPTY", "", ics.StatusNeedsAction, "", ""),
	)

	want := map[string]time.Duration{
		"T1":    30*time.Minute + 15*time.Minute + 5*time.Minute + 10*time.Minute,
		"C1":    15*time.Minute + 5*time.Minute + 10*time.Minute,
		"G1":    5 * time.Minute,
		"EMPTY": 0,
	}
	for uid, d := range want {
		got, err := m.Elapsed(uid)
		if err != nil {
			t.Fatal(err)
		}
		if got != d {
			t.Errorf("elapsed(%s) = %v, want %v", uid, got, d)
		}
	}

	for _, top := range m.TopLevel() {
		checkElapsed(t, m, top)
	}
}

func checkElapsed(t *testing.T, m *Manager, task *Task) time.Duration {
	t.Helper()
	mine, _ := m.Elapsed(task.UID())
	if mine < 0 {
		t.Errorf("elapsed(%s) negative", task.UID())
	}
	for _, d := range descendants(task) {
		if got, _ := m.Elapsed(d.UID()); got > mine {
			t.Errorf("elapsed(%s)=%v exceeds ancestor %s=%v", d.UID(), got, task.UID(), mine)
		}
	}
	for _, c := range task.Children {
		checkElapsed(t, m, c)
	}
	return mine
}

func TestSweepExtendsRunningSlices(t *testing.T) {
	ctx := context.Background()
	m, fs, clock := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("T2", "", ics.StatusNeedsAction, "", ""),
	)
	slice, err := m.Start(ctx, "T1")
	if err != nil {
		t.Fatal(err)
	}
	events := m.Subscribe()
	defer m.Unsubscribe(events)

	clock.Advance(10 * time.Minute)
	if err := m.Sweep(ctx); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if due, _ := fs.todo(slice.UID()).Due(); !due.Equal(clock.Now()) {
		t.Errorf("stored due = %v, want %v", due, clock.Now())
	}
	if slice.Status() != ics.StatusInProcess {
		t.Error("sweep must not stop the slice")
	}

	var sawSweepEnd bool
	for len(events) > 0 {
		if ev := <-events; ev.Kind == EventUpdate && ev.UID == "" {
			sawSweepEnd = true
		}
	}
	if !sawSweepEnd {
		t.Error("expected an update event after the sweep")
	}

	fs.fail("update", errBoom)
	clock.Advance(time.Minute)
	if err := m.Sweep(ctx); !errors.Is(err, errBoom) {
		t.Errorf("expected sweep error, got %v", err)
	}
	fs.fail("update", nil)
	if err := m.Sweep(ctx); err != nil {
		t.Errorf("sweep should recover on the next run: %v", err)
	}
	if due, _ := fs.todo(slice.UID()).Due(); !due.Equal(clock.Now()) {
		t.Errorf("stored due = %v after retry, want %v", due, clock.Now())
	}
}

func TestWatchRebuildsOnStoreChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mem := store.NewMemory()
	bus := store.NewBus(mem)
	c, err := store.EnsureContainer(ctx, bus, "")
	if err != nil {
		t.Fatal(err)
	}
	m := NewManager(bus, Options{Container: c.ID})
	if err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	events := m.Subscribe()
	defer m.Unsubscribe(events)

	done := make(chan error, 1)
	go func() { done <- m.Watch(ctx, bus) }()

	// Wait for Watch to subscribe before writing behind the manager's back.
	payload := ics.NewTodo()
	payload.SetSummary("written elsewhere")
	payload.Touch(time.Now())
	deadline := time.After(3 * time.Second)
	for len(m.TopLevel()) == 0 {
		if _, err := bus.CreateTask(ctx, c.ID, ics.Envelope(payload)); err != nil {
			t.Fatal(err)
		}
		select {
		case <-events:
		case <-time.After(100 * time.Millisecond):
		case <-deadline:
			t.Fatal("tree never rebuilt after a store change")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Watch returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch did not return after cancel")
	}
}

func TestMove(t *testing.T) {
	ctx := context.Background()
	m, fs, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("C1", "T1", ics.StatusNeedsAction, "", ""),
		todo("S1", "C1", ics.StatusCompleted, "2024-01-01T08:00:00", "2024-01-01T08:30:00"),
		todo("T2", "", ics.StatusNeedsAction, "", ""),
	)
	if err := m.Move(ctx, "C1", "archive"); !errors.Is(err, ErrNotTopLevel) {
		t.Errorf("expected ErrNotTopLevel, got %v", err)
	}
	if err := m.Move(ctx, "T1", "archive"); err != nil {
		t.Fatalf("Move failed: %v", err)
	}
	if fs.count("move") != 3 {
		t.Errorf("expected 3 store moves, got %d", fs.count("move"))
	}
	if _, err := m.Get("S1"); !errors.Is(err, ErrNotFound) {
		t.Error("moved descendants should leave the tree")
	}

	if err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if tops := m.TopLevel(); len(tops) != 1 || tops[0].UID() != "T2" {
		t.Errorf("after refresh top level = %v", tops)
	}
	if err := m.SetContainer(ctx, "archive"); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Get("S1"); err != nil {
		t.Errorf("S1 should be in the archive tree: %v", err)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	src, _, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("C1", "T1", ics.StatusNeedsAction, "", ""),
		todo("S1", "C1", ics.StatusCompleted, "2024-01-01T08:00:00", "2024-01-01T08:30:00"),
		todo("S2", "T1", ics.StatusCompleted, "2024-01-01T09:00:00", "2024-01-01T09:10:00"),
	)
	exported, err := src.Export("")
	if err != nil {
		t.Fatal(err)
	}
	if len(exported) != 4 || exported[0].UID() != "T1" {
		t.Fatalf("export order: %d records, first %q", len(exported), exported[0].UID())
	}

	// Reverse so every descendant comes before its parent.
	reversed := make([]*ics.Todo, len(exported))
	for i, td := range exported {
		reversed[len(exported)-1-i] = td
	}
	orphan := todo("O1", "missing", ics.StatusNeedsAction, "", "")
	reversed = append(reversed, orphan)

	dst, fs, _ := newTestManager(t)
	mapping, err := dst.Import(ctx, reversed)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if len(mapping) != 5 || fs.len() != 5 {
		t.Fatalf("mapping=%v stored=%d", mapping, fs.len())
	}
	for old, uid := range mapping {
		if old == uid {
			t.Errorf("uid %s was not replaced", old)
		}
	}
	if got, _ := dst.Elapsed(mapping["T1"]); got != 40*time.Minute {
		t.Errorf("imported elapsed = %v, want 40m", got)
	}
	c1, _ := dst.Get(mapping["C1"])
	if c1.Parent() != mapping["T1"] || c1.TimeSlices[mapping["S1"]] == nil {
		t.Error("parent links were not remapped")
	}
	o1, _ := dst.Get(mapping["O1"])
	if o1 == nil || o1.Role != RoleTop {
		t.Error("a task whose parent is nowhere should import as top-level")
	}

	sub, err := src.Export("C1")
	if err != nil || len(sub) != 2 {
		t.Errorf("subtree export = %d records, %v", len(sub), err)
	}
}

func TestViews(t *testing.T) {
	m, _, _ := newTestManager(t,
		todo("T1", "", ics.StatusNeedsAction, "", ""),
		todo("C1", "T1", ics.StatusNeedsAction, "", ""),
		todo("S2", "T1", ics.StatusCompleted, "2024-01-01T09:00:00", "2024-01-01T09:10:00"),
		todo("S1", "T1", ics.StatusCompleted, "2024-01-01T08:00:00", "2024-01-01T08:30:00"),
	)
	views := m.Views()
	if len(views) != 1 {
		t.Fatalf("expected 1 top-level view, got %d", len(views))
	}
	v := views[0]
	if v.Role != string(RoleTop) || v.ElapsedMs != (40*time.Minute).Milliseconds() {
		t.Errorf("view = %+v", v)
	}
	if len(v.Children) != 1 || v.Children[0].Role != string(RoleChild) {
		t.Errorf("children = %+v", v.Children)
	}
	if len(v.TimeSlices) != 2 || v.TimeSlices[0].UID != "S1" || v.TimeSlices[0].ElapsedMs != (30*time.Minute).Milliseconds() {
		t.Errorf("time slices = %+v", v.TimeSlices)
	}
}

func TestViewMarksRunningSlice(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t, todo("T1", "", ics.StatusNeedsAction, "", ""))

	slice, err := m.Start(ctx, "T1")
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	v, err := m.View(slice.UID())
	if err != nil {
		t.Fatal(err)
	}
	if !v.Running {
		t.Errorf("running slice view = %+v", v)
	}
	top, _ := m.View("T1")
	if !top.Running || len(top.TimeSlices) != 1 || !top.TimeSlices[0].Running {
		t.Errorf("task view = %+v", top)
	}

	if _, err := m.Stop(ctx, "T1"); err != nil {
		t.Fatal(err)
	}
	if v, _ := m.View(slice.UID()); v.Running {
		t.Error("stopped slice still reported running")
	}
}

func TestStoreCallsTimeOut(t *testing.T) {
	ctx := context.Background()
	fs := newFakeStore()
	fs.seed(todo("T1", "", ics.StatusNeedsAction, "", ""))
	m := NewManager(fs, Options{Container: testContainer, Clock: newTestClock(), Timeout: 50 * time.Millisecond})
	if err := m.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	fs.block("create")
	fs.block("update")

	begin := time.Now()
	if _, err := m.Start(ctx, "T1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Start error = %v, want deadline exceeded", err)
	}
	if d := time.Since(begin); d > 5*time.Second {
		t.Errorf("Start took %v", d)
	}
	t1, _ := m.Get("T1")
	if len(t1.TimeSlices) != 0 || len(m.tree.Index) != 1 {
		t.Errorf("tree changed after a timed out start: %v", sortedKeys(m.tree.Index))
	}

	if _, err := m.Save(ctx, t1, Patch{"summary": "renamed"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Save error = %v, want deadline exceeded", err)
	}
	if t1.Summary() != "task T1" {
		t.Errorf("summary = %q after a timed out save", t1.Summary())
	}
	if held := m.locks.held(); held != 0 {
		t.Errorf("%d uid locks still held", held)
	}
}

func TestSaveLosingParentMidWriteReportsNotFound(t *testing.T) {
	ctx := context.Background()
	m, fs, _ := newTestManager(t, todo("T1", "", ics.StatusNeedsAction, "", ""))
	fs.before("create", func() {
		if err := m.Delete(ctx, "T1"); err != nil {
			t.Errorf("Delete failed: %v", err)
		}
	})

	saved, err := m.Save(ctx, NewTask(), Patch{"summary": "sub", "related-to": "T1"})
	if !errors.Is(err, ErrNotFound) || saved != nil {
		t.Fatalf("Save = %v, %v; want not found", saved, err)
	}
	if fs.len() != 1 {
		t.Errorf("store holds %d records, want the new one", fs.len())
	}
	orphans := m.Orphans()
	if len(orphans) != 1 {
		t.Fatalf("orphans = %v", orphans)
	}
	if _, err := m.Get(orphans[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan is still indexed: %v", err)
	}
}

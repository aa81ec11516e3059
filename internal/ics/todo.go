package ics

import (
	"time"
)

const KindTodo = "vtodo"

// Status values used by tasks and time slices.
type Status string

const (
	StatusNeedsAction Status = "NEEDS-ACTION"
	StatusInProcess   Status = "IN-PROCESS"
	StatusCompleted   Status = "COMPLETED"
)

// Vendor properties. The parent link is a synonym of related-to; the role
// pins a record as a child task or a time slice once it has been classified.
const (
	PropParent = "x-icanban-parent"
	PropRole   = "x-icanban-role"
)

// TodoSchema is the property table for tasks. Recurrence, alarms,
// attendees, geo and attachments are intentionally absent.
var TodoSchema = Schema{
	"dtstamp":          {Type: TypeDateTime, Required: true, Unique: true},
	"uid":              {Type: TypeText, Required: true, Unique: true},
	"class":            {Type: TypeText, Unique: true},
	"completed":        {Type: TypeDateTime, Unique: true},
	"created":          {Type: TypeDateTime, Unique: true},
	"description":      {Type: TypeText, Unique: true},
	"dtstart":          {Type: TypeDateTime, Unique: true},
	"last-modified":    {Type: TypeDateTime, Unique: true},
	"location":         {Type: TypeText, Unique: true},
	"percent-complete": {Type: TypeInteger, Unique: true},
	"priority":         {Type: TypeInteger, Unique: true},
	"status":           {Type: TypeText, Unique: true},
	"summary":          {Type: TypeText, Unique: true},
	"due":              {Type: TypeDateTime, Unique: true, ConflictsWith: "duration"},
	"duration":         {Type: TypeDuration, Unique: true, ConflictsWith: "due"},
	"categories":       {Type: TypeText},
	"related-to":       {Type: TypeText},
	PropParent:         {Type: TypeText, Unique: true},
	PropRole:           {Type: TypeText, Unique: true},
}

// Todo is a vtodo record. A todo cannot contain nested records.
type Todo struct {
	*Component
}

// NewTodo returns an empty vtodo; its uid is assigned by the store on the
// first save.
func NewTodo() *Todo {
	return WrapTodo(&Raw{Kind: KindTodo})
}

// WrapTodo wraps an existing vtodo record without copying it.
func WrapTodo(raw *Raw) *Todo {
	c := WrapComponent(raw)
	c.DeclareSchema(TodoSchema)
	return &Todo{Component: c}
}

// AddNested is a no-op: a vtodo has no sub-components.
func (t *Todo) AddNested(Record) {}

// Clone returns an independent copy of the todo.
func (t *Todo) Clone() *Todo {
	return WrapTodo(t.raw.Clone())
}

func (t *Todo) UID() string { return t.GetString("uid") }
func (t *Todo) SetUID(uid string) { t.set("uid", emptyAsNil(uid)) }
func (t *Todo) Summary() string { return t.GetString("summary") }
func (t *Todo) SetSummary(s string) { t.set("summary", emptyAsNil(s)) }
func (t *Todo) Description() string { return t.GetString("description") }

func (t *Todo) SetDescription(s string) { t.set("description", emptyAsNil(s)) }

func (t *Todo) Status() Status { return Status(t.GetString("status")) }

func (t *Todo) SetStatus(s Status) { t.set("status", emptyAsNil(string(s))) }

// Parent returns the parent task uid: the first non-empty value of
// related-to, then x-icanban-parent.
func (t *Todo) Parent() string {
	for _, v := range t.Values("related-to") {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return t.GetString(PropParent)
}

// SetParent points the task at a new parent; an empty uid makes it
// top-level. Both synonyms are rewritten so they never disagree.
func (t *Todo) SetParent(uid string) {
	t.set("related-to", emptyAsNil(uid))
	t.set(PropParent, nil)
}

func (t *Todo) Role() string { return t.GetString(PropRole) }

func (t *Todo) SetRole(role string) { t.set(PropRole, emptyAsNil(role)) }

func (t *Todo) Categories() []string {
	var out []string
	for _, v := range t.Values("categories") {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (t *Todo) SetCategories(cats []string) {
	if len(cats) == 0 {
		t.set("categories", nil)
		return
	}
	t.set("categories", cats)
}

func (t *Todo) DTStart() (time.Time, bool) { return t.timeValue("dtstart") }

func (t *Todo) SetDTStart(v time.Time) { t.setTime("dtstart", v) }

func (t *Todo) Due() (time.Time, bool) { return t.timeValue("due") }

// SetDue sets due and clears duration, which it conflicts with.
func (t *Todo) SetDue(v time.Time) {
	t.set("duration", nil)
	t.setTime("due", v)
}

func (t *Todo) Duration() (time.Duration, bool) {
	s := t.GetString("duration")
	if s == "" {
		return 0, false
	}
	d, err := ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

// SetDuration sets duration and clears due, which it conflicts with.
func (t *Todo) SetDuration(d time.Duration) {
	t.set("due", nil)
	t.set("duration", FormatDuration(d))
}

// End is due, or dtstart plus duration when the todo carries a duration.
func (t *Todo) End() (time.Time, bool) {
	if due, ok := t.Due(); ok {
		return due, true
	}
	start, ok := t.DTStart()
	if !ok {
		return time.Time{}, false
	}
	if d, ok := t.Duration(); ok {
		return start.Add(d), true
	}
	return time.Time{}, false
}

// Touch stamps dtstamp and last-modified, and created on first use.
func (t *Todo) Touch(now time.Time) {
	stamp := FormatDateTime(now)
	if !t.Has("created") {
		t.set("created", stamp)
	}
	t.set("dtstamp", stamp)
	t.set("last-modified", stamp)
}

func (t *Todo) timeValue(name string) (time.Time, bool) {
	s := t.GetString(name)
	if s == "" {
		return time.Time{}, false
	}
	v, err := ParseDateTime(s)
	if err != nil {
		return time.Time{}, false
	}
	return v, true
}

func (t *Todo) setTime(name string, v time.Time) {
	if v.IsZero() {
		t.set(name, nil)
		return
	}
	t.set(name, FormatDateTime(v))
}

func emptyAsNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

package ics

const (
	KindCalendar = "vcalendar"
	ProductID    = "-//icanban//NONSGML icanban//EN"
)

var CalendarSchema = Schema{
	"calscale": {Type: TypeText, Unique: true},
	"method":   {Type: TypeText, Unique: true},
	"prodid":   {Type: TypeText, Required: true, Unique: true},
	"version":  {Type: TypeText, Required: true, Unique: true},
}

// Calendar is the vcalendar envelope stores exchange tasks in.
type Calendar struct {
	*Component
}

func NewCalendar() *Calendar {
	return WrapCalendar(&Raw{Kind: KindCalendar})
}

func WrapCalendar(raw *Raw) *Calendar {
	c := WrapComponent(raw)
	c.DeclareSchema(CalendarSchema)
	return &Calendar{Component: c}
}

// DefaultCalendar returns an envelope with prodid and version set.
func DefaultCalendar() *Calendar {
	cal := NewCalendar()
	cal.set("prodid", ProductID)
	cal.set("version", "2.0")
	return cal
}

// Envelope wraps a copy of todo in a default calendar, the payload shape
// stores accept.
func Envelope(todo *Todo) *Raw {
	cal := DefaultCalendar()
	cal.AddNested(todo.Clone())
	return cal.Raw()
}

// TodoOf extracts the first vtodo from a payload. The payload may be the
// vtodo itself or an envelope around it.
func TodoOf(raw *Raw) *Todo {
	if raw == nil {
		return nil
	}
	if raw.Kind == KindTodo {
		return WrapTodo(raw)
	}
	if t, ok := WrapComponent(raw).First(KindTodo).(*Todo); ok {
		return t
	}
	return nil
}

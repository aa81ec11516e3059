package ics

import (
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "icanban/internal/log"
)

// ParseICS reads iCalendar text and returns every VTODO as a Todo.
//
//   - Property tokens are lower-cased to their jCal names; properties the
//     todo schema does not declare are kept with type "unknown".
//   - DATE-TIME values become jCal text; a TZID parameter is resolved and
//     the value normalized to UTC.
//   - TEXT values arrive already unescaped by ParseCalendar.
//   - Nothing is validated here: a todo without UID is still returned.
func ParseICS(r io.Reader) ([]*Todo, error) {
	cal, err := ical.ParseCalendar(r)
	if err != nil {
		return nil, err
	}

	todos := make([]*Todo, 0)
	for _, comp := range cal.Components {
		vt, ok := comp.(*ical.VTodo)
		if !ok {
			continue
		}
		todos = append(todos, fromVTodo(vt))
	}

	appLog.Debug("ics parse completed", "todo_count", len(todos))
	return todos, nil
}

func fromVTodo(vt *ical.VTodo) *Todo {
	raw := &Raw{Kind: KindTodo}
	for _, p := range vt.Properties {
		name := strings.ToLower(p.IANAToken)
		spec, declared := TodoSchema[name]
		typ := TypeUnknown
		if declared {
			typ = spec.Type
		}

		value, err := fromICSValue(typ, p.Value, p.ICalParameters)
		if err != nil {
			appLog.Warn("ics: unreadable property value kept as text", "property", name, "value", p.Value, "err", err)
			value = p.Value
		}
		raw.Properties = append(raw.Properties, Property{
			Name:   name,
			Params: fromICSParams(p.ICalParameters),
			Type:   typ,
			Value:  value,
		})
	}
	return WrapTodo(raw)
}

func fromICSValue(typ ValueType, v string, params map[string][]string) (any, error) {
	switch typ {
	case TypeInteger:
		return strconv.Atoi(strings.TrimSpace(v))
	case TypeDateTime:
		return icsToJCalDateTime(v, firstParam(params, "TZID"))
	default:
		return v, nil
	}
}

// icsToJCalDateTime turns 20240101T100000Z into 2024-01-01T10:00:00Z.
func icsToJCalDateTime(v, tzid string) (string, error) {
	v = strings.TrimSpace(v)
	switch {
	case strings.HasSuffix(v, "Z"):
		t, err := time.Parse("20060102T150405Z", v)
		if err != nil {
			return "", err
		}
		return FormatDateTime(t), nil
	case strings.Contains(v, "T"):
		if tzid != "" {
			if loc, err := time.LoadLocation(tzid); err == nil {
				t, err := time.ParseInLocation("20060102T150405", v, loc)
				if err != nil {
					return "", err
				}
				return FormatDateTime(t.UTC()), nil
			}
		}
		t, err := time.ParseInLocation("20060102T150405", v, time.Local)
		if err != nil {
			return "", err
		}
		return t.Format(jcalDateTime), nil
	case len(v) == 8:
		t, err := time.ParseInLocation("20060102", v, time.Local)
		if err != nil {
			return "", err
		}
		return t.Format(jcalDate), nil
	default:
		return "", errors.New("unrecognized date-time " + strconv.Quote(v))
	}
}

func fromICSParams(in map[string][]string) map[string]any {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, vs := range in {
		key := strings.ToLower(k)
		switch len(vs) {
		case 0:
			continue
		case 1:
			out[key] = vs[0]
		default:
			list := make([]any, len(vs))
			for i, v := range vs {
				list[i] = v
			}
			out[key] = list
		}
	}
	return out
}

func firstParam(params map[string][]string, key string) string {
	for k, vs := range params {
		if strings.EqualFold(k, key) && len(vs) > 0 {
			return vs[0]
		}
	}
	return ""
}

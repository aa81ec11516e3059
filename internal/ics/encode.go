package ics

import (
	"fmt"
	"io"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// EncodeICS writes todos as a single VCALENDAR. Properties keep their
// order; jCal date-times are rewritten to the basic iCalendar form. TEXT
// escaping is left to Serialize.
func EncodeICS(w io.Writer, todos []*Todo) error {
	cal := ical.NewCalendar()
	cal.SetProductId(ProductID)

	for _, t := range todos {
		if t == nil {
			continue
		}
		vt := &ical.VTodo{}
		for _, p := range t.Raw().Properties {
			vt.Properties = append(vt.Properties, ical.IANAProperty{
				BaseProperty: ical.BaseProperty{
					IANAToken:      strings.ToUpper(p.Name),
					ICalParameters: toICSParams(p.Params),
					Value:          toICSValue(p.Type, p.Value),
				},
			})
		}
		cal.Components = append(cal.Components, vt)
	}

	_, err := io.WriteString(w, cal.Serialize())
	return err
}

func toICSValue(typ ValueType, v any) string {
	s, ok := v.(string)
	if !ok {
		return fmt.Sprint(v)
	}
	switch typ {
	case TypeDateTime, TypeDate:
		return strings.NewReplacer("-", "", ":", "").Replace(s)
	default:
		return s
	}
}

func toICSParams(in map[string]any) map[string][]string {
	if len(in) == 0 {
		return map[string][]string{}
	}
	out := make(map[string][]string, len(in))
	for k, v := range in {
		key := strings.ToUpper(k)
		if list, ok := v.([]any); ok {
			for _, e := range list {
				out[key] = append(out[key], fmt.Sprint(e))
			}
			continue
		}
		out[key] = []string{fmt.Sprint(v)}
	}
	return out
}

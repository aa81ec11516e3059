package ics

import (
	"errors"
	"fmt"
	"strings"
)

// ValueType is the jCal value type written in the third tuple slot.
type ValueType string

const (
	TypeBinary     ValueType = "binary"
	TypeBoolean    ValueType = "boolean"
	TypeCalAddress ValueType = "cal-address"
	TypeDate       ValueType = "date"
	TypeDateTime   ValueType = "date-time"
	TypeDuration   ValueType = "duration"
	TypeFloat      ValueType = "float"
	TypeInteger    ValueType = "integer"
	TypePeriod     ValueType = "period"
	TypeRecur      ValueType = "recur"
	TypeText       ValueType = "text"
	TypeTime       ValueType = "time"
	TypeURI        ValueType = "uri"
	TypeUTCOffset  ValueType = "utc-offset"
	TypeUnknown    ValueType = "unknown"
)

// PropertySpec declares how one property behaves on a kind.
type PropertySpec struct {
	Type     ValueType
	Required bool
	// Unique properties occur at most once and always read as a scalar.
	Unique bool
	// ConflictsWith names a property that must not be set at the same time.
	ConflictsWith string
}

// Schema maps raw (hyphenated, lower-case) property names to their spec.
type Schema map[string]PropertySpec

var (
	ErrUnknownProperty = errors.New("unknown property")
	ErrNotMultiValued  = errors.New("property is unique")
	// ErrSchema is matched by every *SchemaError via errors.Is.
	ErrSchema = errors.New("schema violation")
)

// SchemaError describes a record that cannot be saved as is.
type SchemaError struct {
	Kind     string
	Property string
	Reason   string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Property, e.Reason)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// Lookup resolves either a raw name ("related-to") or a field name
// ("relatedTo") to the raw name and its spec.
func (s Schema) Lookup(name string) (string, PropertySpec, bool) {
	if spec, ok := s[name]; ok {
		return name, spec, true
	}
	raw := PropertyName(name)
	if spec, ok := s[raw]; ok {
		return raw, spec, true
	}
	return "", PropertySpec{}, false
}

// Fields lists the field names of every declared property.
func (s Schema) Fields() []string {
	out := make([]string, 0, len(s))
	for name := range s {
		out = append(out, FieldName(name))
	}
	return out
}

// FieldName converts "x-icanban-parent" to "xIcanbanParent".
func FieldName(prop string) string {
	var b strings.Builder
	upper := false
	for _, r := range prop {
		if r == '-' {
			upper = true
			continue
		}
		if upper && r >= 'a' && r <= 'z' {
			r -= 'a' - 'A'
		}
		upper = false
		b.WriteRune(r)
	}
	return b.String()
}

// PropertyName converts "xIcanbanParent" back to "x-icanban-parent".
func PropertyName(field string) string {
	var b strings.Builder
	for _, r := range field {
		if r >= 'A' && r <= 'Z' {
			b.WriteByte('-')
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

package ics

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Record is implemented by Component and its specializations.
type Record interface {
	Kind() string
	Raw() *Raw
	AddNested(Record)
}

// Component is a schema-driven view over a Raw record. It holds no copy of
// the data: every accessor reads and writes the wrapped Raw directly.
type Component struct {
	raw    *Raw
	schema Schema
}

// NewComponent builds an empty record of the given kind.
func NewComponent(kind string) *Component {
	return &Component{raw: &Raw{Kind: strings.ToLower(kind)}}
}

// WrapComponent wraps an existing record without copying it.
func WrapComponent(raw *Raw) *Component {
	if raw == nil {
		raw = &Raw{}
	}
	return &Component{raw: raw}
}

func (c *Component) Kind() string { return c.raw.Kind }

func (c *Component) Raw() *Raw { return c.raw }

// DeclareSchema installs the accessors for every property in schema. Names
// outside the schema stay in the raw record but never surface through Get.
func (c *Component) DeclareSchema(schema Schema) {
	c.schema = schema
}

func (c *Component) Schema() Schema { return c.schema }

// First returns the first nested record of the given kind (any kind when
// empty), specialized to Todo or Calendar where the kind is known, or nil.
func (c *Component) First(kind string) Record {
	for _, sub := range c.raw.Components {
		if kind == "" || strings.EqualFold(sub.Kind, kind) {
			return specialize(sub)
		}
	}
	return nil
}

// AddNested appends a nested record's raw representation.
func (c *Component) AddNested(r Record) {
	if r == nil {
		return
	}
	c.raw.Components = append(c.raw.Components, r.Raw())
}

// SetPropertyParameter sets a parameter on every occurrence of a property.
func (c *Component) SetPropertyParameter(property, parameter string, value any) {
	name := c.rawName(property)
	for i := range c.raw.Properties {
		p := &c.raw.Properties[i]
		if p.Name != name {
			continue
		}
		if p.Params == nil {
			p.Params = map[string]any{}
		}
		p.Params[parameter] = value
	}
}

// PropertyParameter returns a parameter of the first occurrence of a property.
func (c *Component) PropertyParameter(property, parameter string) (any, bool) {
	name := c.rawName(property)
	for _, p := range c.raw.Properties {
		if p.Name == name {
			v, ok := p.Params[parameter]
			return v, ok
		}
	}
	return nil, false
}

// Get reads a declared property by raw or field name. It returns nil when
// absent, the value when there is one occurrence (or the property is
// unique) and a []any when there are several.
func (c *Component) Get(name string) any {
	raw, spec, ok := c.schema.Lookup(name)
	if !ok {
		return nil
	}
	var values []any
	for _, p := range c.raw.Properties {
		if p.Name != raw {
			continue
		}
		if spec.Unique {
			return p.Value
		}
		values = append(values, p.Value)
	}
	switch len(values) {
	case 0:
		return nil
	case 1:
		return values[0]
	default:
		return values
	}
}

// Values reads every occurrence of a declared property as a sequence.
func (c *Component) Values(name string) []any {
	switch v := c.Get(name).(type) {
	case nil:
		return nil
	case []any:
		return v
	default:
		return []any{v}
	}
}

// GetString returns the first value of a property as a string.
func (c *Component) GetString(name string) string {
	for _, v := range c.Values(name) {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// Set writes a declared property:
//   - nil removes every occurrence;
//   - a []any or []string replaces all occurrences with one per element;
//   - any other value updates the first occurrence, or appends one.
func (c *Component) Set(name string, value any) error {
	raw, spec, ok := c.schema.Lookup(name)
	if !ok {
		return fmt.Errorf("%s: %w: %s", c.raw.Kind, ErrUnknownProperty, name)
	}
	if seq, isSeq := asSequence(value); isSeq {
		if spec.Unique && len(seq) > 1 {
			return fmt.Errorf("%s: %w: %s", c.raw.Kind, ErrNotMultiValued, name)
		}
		c.setSequence(raw, spec, seq)
		return nil
	}
	c.setValue(raw, spec, value)
	return nil
}

// set is Set for names the caller knows are declared.
func (c *Component) set(name string, value any) {
	if err := c.Set(name, value); err != nil {
		panic(err)
	}
}

func (c *Component) setSequence(raw string, spec PropertySpec, seq []any) {
	c.remove(raw)
	for _, v := range seq {
		c.raw.Properties = append(c.raw.Properties, Property{Name: raw, Type: spec.Type, Value: v})
	}
}

func (c *Component) setValue(raw string, spec PropertySpec, value any) {
	if value == nil {
		c.remove(raw)
		return
	}
	for i := range c.raw.Properties {
		if c.raw.Properties[i].Name == raw {
			c.raw.Properties[i].Value = value
			return
		}
	}
	c.raw.Properties = append(c.raw.Properties, Property{Name: raw, Type: spec.Type, Value: value})
}

func (c *Component) remove(raw string) {
	kept := c.raw.Properties[:0]
	for _, p := range c.raw.Properties {
		if p.Name != raw {
			kept = append(kept, p)
		}
	}
	c.raw.Properties = kept
}

// Has reports whether a property has at least one occurrence.
func (c *Component) Has(name string) bool {
	raw := c.rawName(name)
	for _, p := range c.raw.Properties {
		if p.Name == raw {
			return true
		}
	}
	return false
}

// Validate checks required and mutually exclusive properties. Properties
// listed in skip are not required (e.g. a uid the store has yet to assign).
func (c *Component) Validate(skip ...string) error {
	var errs []error
	names := make([]string, 0, len(c.schema))
	for name := range c.schema {
		names = append(names, name)
	}
	sort.Strings(names)

	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[PropertyName(s)] = true
		skipped[s] = true
	}

	for _, name := range names {
		spec := c.schema[name]
		if spec.Required && !skipped[name] && !c.Has(name) {
			errs = append(errs, &SchemaError{Kind: c.raw.Kind, Property: name, Reason: "required property missing"})
		}
		// Report each conflicting pair once, from its alphabetically first side.
		if spec.ConflictsWith != "" && name < spec.ConflictsWith && c.Has(name) && c.Has(spec.ConflictsWith) {
			errs = append(errs, &SchemaError{
				Kind:     c.raw.Kind,
				Property: name,
				Reason:   "conflicts with " + spec.ConflictsWith,
			})
		}
	}
	return errors.Join(errs...)
}

func (c *Component) rawName(name string) string {
	if raw, _, ok := c.schema.Lookup(name); ok {
		return raw
	}
	return strings.ToLower(name)
}

func asSequence(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	default:
		return nil, false
	}
}

func specialize(raw *Raw) Record {
	switch strings.ToLower(raw.Kind) {
	case KindTodo:
		return WrapTodo(raw)
	case KindCalendar:
		return WrapCalendar(raw)
	default:
		return WrapComponent(raw)
	}
}

package ics

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
)

// Raw is the wire shape of one record: a kind tag, its properties in order,
// and nested records in order. It encodes as a jCal triple
//
//	["vtodo", [["summary", {}, "text", "Write docs"], ...], [...]]
type Raw struct {
	Kind       string
	Properties []Property
	Components []*Raw
}

// Property is one occurrence of a named property.
type Property struct {
	Name   string
	Params map[string]any
	Type   ValueType
	Value  any
}

// Clone returns a deep copy so a payload can be handed to a store while the
// original keeps being edited.
func (r *Raw) Clone() *Raw {
	if r == nil {
		return nil
	}
	out := &Raw{
		Kind:       r.Kind,
		Properties: make([]Property, len(r.Properties)),
		Components: make([]*Raw, 0, len(r.Components)),
	}
	for i, p := range r.Properties {
		out.Properties[i] = p.clone()
	}
	for _, c := range r.Components {
		out.Components = append(out.Components, c.Clone())
	}
	return out
}

func (p Property) clone() Property {
	cp := p
	if p.Params != nil {
		cp.Params = make(map[string]any, len(p.Params))
		for k, v := range p.Params {
			cp.Params[k] = v
		}
	}
	return cp
}

func (r Raw) MarshalJSON() ([]byte, error) {
	props := make([][]any, 0, len(r.Properties))
	for _, p := range r.Properties {
		params := p.Params
		if params == nil {
			params = map[string]any{}
		}
		typ := p.Type
		if typ == "" {
			typ = TypeUnknown
		}
		props = append(props, []any{p.Name, params, typ, p.Value})
	}
	comps := r.Components
	if comps == nil {
		comps = []*Raw{}
	}
	return json.Marshal([]any{r.Kind, props, comps})
}

// UnmarshalJSON is deliberately permissive: tuples with the wrong arity or
// non-string names are dropped instead of failing the whole record, so
// vendor extensions from other clients never block a load.
func (r *Raw) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) == 0 {
		return errors.New("jcal: empty component")
	}
	var kind string
	if err := json.Unmarshal(parts[0], &kind); err != nil {
		return errors.New("jcal: component kind is not a string")
	}
	*r = Raw{Kind: strings.ToLower(kind)}

	if len(parts) > 1 {
		var props []json.RawMessage
		if err := json.Unmarshal(parts[1], &props); err == nil {
			for _, pm := range props {
				if p, ok := decodeProperty(pm); ok {
					r.Properties = append(r.Properties, p)
				}
			}
		}
	}
	if len(parts) > 2 {
		var comps []json.RawMessage
		if err := json.Unmarshal(parts[2], &comps); err == nil {
			for _, cm := range comps {
				var sub Raw
				if err := json.Unmarshal(cm, &sub); err != nil {
					continue
				}
				r.Components = append(r.Components, &sub)
			}
		}
	}
	return nil
}

func decodeProperty(data json.RawMessage) (Property, bool) {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil || len(tuple) < 4 {
		return Property{}, false
	}
	var p Property
	if err := json.Unmarshal(tuple[0], &p.Name); err != nil || p.Name == "" {
		return Property{}, false
	}
	p.Name = strings.ToLower(p.Name)
	if err := json.Unmarshal(tuple[1], &p.Params); err != nil {
		p.Params = nil
	}
	var typ string
	if err := json.Unmarshal(tuple[2], &typ); err != nil {
		return Property{}, false
	}
	p.Type = ValueType(strings.ToLower(typ))

	// jCal allows several values after the type; only the first is modeled.
	var v any
	if err := json.Unmarshal(tuple[3], &v); err != nil {
		return Property{}, false
	}
	if p.Type == TypeInteger {
		if f, ok := v.(float64); ok && f == math.Trunc(f) {
			v = int(f)
		}
	}
	p.Value = v
	return p, true
}

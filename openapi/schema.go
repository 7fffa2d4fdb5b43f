package openapi

import (
	"encoding/json"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

// schemaMap renders a resolved schema as plain JSON Schema with every
// reference inlined. A schema that contains itself cannot be inlined and is
// reported as a reference cycle.
func schemaMap(ref *openapi3.SchemaRef) (map[string]any, error) {
	return inlineSchema(ref, map[*openapi3.Schema]bool{})
}

func inlineSchema(ref *openapi3.SchemaRef, active map[*openapi3.Schema]bool) (map[string]any, error) {
	if ref == nil {
		return map[string]any{}, nil
	}
	if ref.Value == nil {
		if ref.Ref != "" {
			return nil, fmt.Errorf("unresolvable reference %q", ref.Ref)
		}
		return map[string]any{}, nil
	}

	s := ref.Value
	if active[s] {
		return nil, fmt.Errorf("reference cycle through %q", ref.Ref)
	}
	active[s] = true
	defer delete(active, s)

	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}

	if len(s.Properties) > 0 {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			if props[name], err = inlineSchema(p, active); err != nil {
				return nil, err
			}
		}
		out["properties"] = props
	}

	nested := []struct {
		key string
		ref *openapi3.SchemaRef
	}{
		{"items", s.Items},
		{"additionalProperties", s.AdditionalProperties.Schema},
		{"not", s.Not},
	}
	for _, n := range nested {
		if n.ref == nil {
			continue
		}
		if out[n.key], err = inlineSchema(n.ref, active); err != nil {
			return nil, err
		}
	}

	for key, refs := range map[string]openapi3.SchemaRefs{"allOf": s.AllOf, "anyOf": s.AnyOf, "oneOf": s.OneOf} {
		if len(refs) == 0 {
			continue
		}
		list := make([]any, 0, len(refs))
		for _, r := range refs {
			m, err := inlineSchema(r, active)
			if err != nil {
				return nil, err
			}
			list = append(list, m)
		}
		out[key] = list
	}

	return out, nil
}

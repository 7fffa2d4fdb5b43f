// Package openapi loads OpenAPI 3 JSON documents into immutable tool
// descriptors. All local $ref pointers are inlined before a Descriptor is
// returned, so consumers never resolve references themselves.
package openapi

import (
	"reflect"
	"strings"
)

// Descriptor is the fully resolved structural description of one HTTP API.
// It is read-only after Load returns.
type Descriptor struct {
	Source      string      `json:"source"`
	Title       string      `json:"title"`
	Version     string      `json:"version"`
	Description string      `json:"description,omitempty"`
	BaseURL     string      `json:"base_url"`
	Operations  []Operation `json:"operations"`
}

// Operation is one callable endpoint.
type Operation struct {
	ID          string              `json:"id"`
	Method      string              `json:"method"` // upper case
	Path        string              `json:"path"`
	Summary     string              `json:"summary,omitempty"`
	Description string              `json:"description,omitempty"`
	Parameters  []Parameter         `json:"parameters,omitempty"`
	RequestBody *RequestBody        `json:"request_body,omitempty"`
	Responses   map[string]Response `json:"responses,omitempty"`
}

// Parameter is a path, query, header or cookie parameter.
type Parameter struct {
	Name        string         `json:"name"`
	In          string         `json:"in"`
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// RequestBody is the JSON request body of an operation.
type RequestBody struct {
	Description string         `json:"description,omitempty"`
	Required    bool           `json:"required,omitempty"`
	ContentType string         `json:"content_type"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// Response describes one response status of an operation.
type Response struct {
	Description string         `json:"description,omitempty"`
	Schema      map[string]any `json:"schema,omitempty"`
}

// BodyArgument is the tool argument name carrying the request body.
const BodyArgument = "body"

// Operation returns the operation with the given id.
func (d *Descriptor) Operation(id string) (Operation, bool) {
	for _, op := range d.Operations {
		if op.ID == id {
			return op, true
		}
	}
	return Operation{}, false
}

// Equal reports whether d and other are structurally equal.
func (d *Descriptor) Equal(other *Descriptor) bool {
	if d == nil || other == nil {
		return d == other
	}
	return reflect.DeepEqual(d, other)
}

// Describe returns the text shown to the model for op.
func (op Operation) Describe() string {
	switch {
	case op.Summary != "" && op.Description != "" && op.Summary != op.Description:
		return op.Summary + ". " + op.Description
	case op.Summary != "":
		return op.Summary
	case op.Description != "":
		return op.Description
	default:
		return op.Method + " " + op.Path
	}
}

// ArgumentsSchema flattens the operation's parameters and request body into a
// single JSON Schema object suitable for function calling. The request body
// is exposed as the "body" property.
func (op Operation) ArgumentsSchema() map[string]any {
	properties := map[string]any{}
	required := []any{}

	for _, p := range op.Parameters {
		prop := map[string]any{}
		for k, v := range p.Schema {
			prop[k] = v
		}
		if _, ok := prop["type"]; !ok {
			prop["type"] = "string"
		}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	if op.RequestBody != nil && op.RequestBody.Schema != nil {
		body := map[string]any{}
		for k, v := range op.RequestBody.Schema {
			body[k] = v
		}
		if op.RequestBody.Description != "" {
			if _, ok := body["description"]; !ok {
				body["description"] = op.RequestBody.Description
			}
		}
		properties[BodyArgument] = body
		if op.RequestBody.Required {
			required = append(required, BodyArgument)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

var methodOrder = []string{"get", "put", "post", "delete", "options", "head", "patch", "trace"}

func sanitizePath(path string) string {
	path = strings.ReplaceAll(path, "/", "_")
	path = strings.ReplaceAll(path, "{", "")
	path = strings.ReplaceAll(path, "}", "")
	return strings.Trim(path, "_")
}

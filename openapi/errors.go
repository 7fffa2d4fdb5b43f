package openapi

import (
	"fmt"

	"github.com/hupe1980/toolmesh/core"
)

// ParseError reports a malformed document or an unresolvable reference.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Source, e.Err)
}

// Unwrap returns both the cause and core.ErrSchemaParse.
func (e *ParseError) Unwrap() []error { return []error{e.Err, core.ErrSchemaParse} }

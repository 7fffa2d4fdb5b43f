package core

import (
	"context"
	"net/http"

	"github.com/hupe1980/toolmesh/logging"
)

// ToolContext provides the scoped surface a tool implementation runs against:
// the turn's context, the function call it answers, and the per-call headers
// the caller supplied for this turn (only for plugins that accept them).
type ToolContext struct {
	ctx            context.Context
	functionCallID string
	pluginName     string
	headers        http.Header
	logger         logging.Logger
}

// NewToolContext constructs a tool context for a single function call.
func NewToolContext(ctx context.Context, functionCallID, pluginName string, headers http.Header, logger logging.Logger) *ToolContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &ToolContext{
		ctx:            ctx,
		functionCallID: functionCallID,
		pluginName:     pluginName,
		headers:        headers,
		logger:         logger,
	}
}

// Context returns the context associated with the tool invocation.
func (tc *ToolContext) Context() context.Context { return tc.ctx }

// FunctionCallID returns the function call ID associated with the tool invocation.
func (tc *ToolContext) FunctionCallID() string { return tc.functionCallID }

// PluginName returns the name of the plugin the tool belongs to.
func (tc *ToolContext) PluginName() string { return tc.pluginName }

// Headers returns a copy of the per-call headers, or nil when none apply.
func (tc *ToolContext) Headers() http.Header {
	if tc.headers == nil {
		return nil
	}
	return tc.headers.Clone()
}

// Logger returns the logger associated with the tool invocation.
func (tc *ToolContext) Logger() logging.Logger { return tc.logger }

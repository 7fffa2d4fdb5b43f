package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/openapi"
	"github.com/hupe1980/toolmesh/transport"
)

// ErrTransportShared is returned when a transport already bound to one plugin
// is registered for another.
var ErrTransportShared = errors.New("transport already bound to another plugin")

// DuplicatePluginError reports a plugin name registered twice.
type DuplicatePluginError struct {
	Plugin string
}

func (e *DuplicatePluginError) Error() string {
	return fmt.Sprintf("plugin %q is already registered", e.Plugin)
}

// Unwrap returns core.ErrDuplicatePlugin.
func (e *DuplicatePluginError) Unwrap() error { return core.ErrDuplicatePlugin }

// Plugin is a registry entry: one API descriptor exposed under a unique name.
type Plugin struct {
	// Name is unique within a registry.
	Name string
	// Descriptor is the resolved API description.
	Descriptor *openapi.Descriptor
	// Transport carries the plugin's credentials. Nil uses the registry's
	// default transport, which injects no header.
	Transport *transport.Transport
	// AcceptHeaderOverride lets per-call headers supplied with a turn reach
	// this plugin's requests. They are applied after the bound headers.
	AcceptHeaderOverride bool
}

type registeredPlugin struct {
	Plugin
	transport *transport.Transport
	tools     []Tool
}

type registryEntry struct {
	tool   Tool
	plugin *registeredPlugin
}

// RegistryOptions configure a Registry.
type RegistryOptions struct {
	// DefaultTransport serves plugins registered without a transport. When
	// nil the registry creates (and owns) an unauthenticated one.
	DefaultTransport *transport.Transport
	// Logger receives registration and execution logs.
	Logger logging.Logger
}

// Registry holds the plugins of one session. Registration performs no network
// calls. Registry is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	plugins    []*registeredPlugin
	byName     map[string]*registeredPlugin
	tools      map[string]registryEntry
	order      []string
	boundTo    map[*transport.Transport]string
	defaultTr  *transport.Transport
	ownDefault bool
	logger     logging.Logger

	closeOnce sync.Once
	closeErr  error
}

// NewRegistry creates an empty registry.
func NewRegistry(optFns ...func(o *RegistryOptions)) *Registry {
	opts := RegistryOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	r := &Registry{
		byName:  map[string]*registeredPlugin{},
		tools:   map[string]registryEntry{},
		boundTo: map[*transport.Transport]string{},
		logger:  opts.Logger,
	}
	if opts.DefaultTransport != nil {
		r.defaultTr = opts.DefaultTransport
	} else {
		r.defaultTr = transport.Unauthenticated(nil)
		r.ownDefault = true
	}

	return r
}

// Register adds every operation of p.Descriptor as a tool. It fails with
// *DuplicatePluginError if the name is taken and with ErrTransportShared if
// p.Transport already serves another plugin.
func (r *Registry) Register(p Plugin) error {
	if p.Name == "" {
		return errors.New("plugin name is required")
	}
	if p.Descriptor == nil {
		return fmt.Errorf("plugin %q: descriptor is required", p.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name]; exists {
		return &DuplicatePluginError{Plugin: p.Name}
	}
	if p.Transport != nil {
		if owner, bound := r.boundTo[p.Transport]; bound {
			return fmt.Errorf("plugin %q: %w (%s)", p.Name, ErrTransportShared, owner)
		}
	}

	rp := &registeredPlugin{Plugin: p, transport: p.Transport}
	if rp.transport == nil {
		rp.transport = r.defaultTr
	}
	client := rp.transport.Client()

	for _, op := range p.Descriptor.Operations {
		t := NewOpenAPITool(p.Name, p.Descriptor.BaseURL, op, client)
		if _, clash := r.tools[t.Name()]; clash {
			return fmt.Errorf("plugin %q: tool name %q collides with an existing tool", p.Name, t.Name())
		}
		rp.tools = append(rp.tools, t)
	}

	for _, t := range rp.tools {
		r.tools[t.Name()] = registryEntry{tool: t, plugin: rp}
		r.order = append(r.order, t.Name())
	}
	r.plugins = append(r.plugins, rp)
	r.byName[p.Name] = rp
	if p.Transport != nil {
		r.boundTo[p.Transport] = p.Name
	}

	r.logger.Info("registry.plugin.registered",
		"plugin", p.Name,
		"tools", len(rp.tools),
		"authenticated", rp.transport.Authenticated(),
		"header_override", p.AcceptHeaderOverride,
	)

	return nil
}

// Plugins returns the registered plugin names in registration order.
func (r *Registry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.plugins))
	for i, p := range r.plugins {
		names[i] = p.Name
	}
	return names
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	return e.tool, ok
}

// Definitions returns the function definitions of all tools in registration order.
func (r *Registry) Definitions() []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]core.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name].tool
		defs = append(defs, core.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Executor returns a core.ToolExecutor dispatching function calls to the
// registered tools. headers are forwarded only to plugins that accept
// per-call overrides.
func (r *Registry) Executor(headers http.Header) core.ToolExecutor {
	return core.ToolExecutorFunc(func(ctx context.Context, call core.FunctionCall) (string, error) {
		return r.execute(ctx, call, headers)
	})
}

func (r *Registry) execute(ctx context.Context, call core.FunctionCall, headers http.Header) (string, error) {
	r.mu.RLock()
	entry, ok := r.tools[call.Name]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("registry.tool.unknown", "tool", call.Name)
		return encodeFailure(NewToolError(call.Name, "unknown tool", CodeNotFound)), nil
	}

	var args map[string]any
	if call.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Arguments), &args); err != nil {
			return encodeFailure(NewToolError(call.Name, fmt.Sprintf("invalid arguments: %v", err), CodeValidation)), nil
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	var callHeaders http.Header
	if entry.plugin.AcceptHeaderOverride {
		callHeaders = headers
	}
	toolCtx := core.NewToolContext(ctx, call.ID, entry.plugin.Name, callHeaders, r.logger)

	start := time.Now()
	var (
		result any
		err    error
	)
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				err = &ToolError{Tool: call.Name, Message: fmt.Sprintf("panic: %v", rec), Code: CodeExecution, Details: string(debug.Stack())}
				r.logger.Error("registry.tool.panic", "tool", call.Name, "recover", rec)
			}
		}()
		result, err = entry.tool.Call(toolCtx, args)
	}()

	r.logger.Info("registry.tool.executed",
		"plugin", entry.plugin.Name,
		"tool", call.Name,
		"function_call_id", call.ID,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", err != nil,
	)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		var te *ToolError
		if !errors.As(err, &te) {
			te = &ToolError{Tool: call.Name, Message: err.Error(), Code: CodeExecution}
		}
		return encodeFailure(te), nil
	}

	switch v := result.(type) {
	case string:
		return v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return encodeFailure(&ToolError{Tool: call.Name, Message: err.Error(), Code: CodeExecution}), nil
		}
		return string(data), nil
	}
}

func encodeFailure(te *ToolError) string {
	payload := map[string]any{"error": te.Message, "code": te.Code}
	if s, ok := te.Details.(string); ok && s != "" && len(s) < 4096 {
		payload["details"] = s
	}
	data, _ := json.Marshal(payload)
	return string(data)
}

// Close closes every bound transport and, if owned, the default transport.
// It runs once; later calls return the first result.
func (r *Registry) Close() error {
	r.closeOnce.Do(func() {
		r.mu.RLock()
		defer r.mu.RUnlock()

		var errs []error
		for _, p := range r.plugins {
			if p.Transport != nil {
				errs = append(errs, p.Transport.Close())
			}
		}
		if r.ownDefault {
			errs = append(errs, r.defaultTr.Close())
		}
		r.closeErr = errors.Join(errs...)
	})
	return r.closeErr
}

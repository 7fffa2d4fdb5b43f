package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/openapi"
	"github.com/hupe1980/toolmesh/tool"
	"github.com/hupe1980/toolmesh/transport"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateCreated
	StateReady
	StateInvoking
	StateTornDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateInvoking:
		return "invoking"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type lifecycleLogger interface {
	LogLifecycle(resource, id, action string, err error)
}

// Options configure a Session.
type Options struct {
	Logger logging.Logger
	// DefaultTransport serves tools registered without their own transport.
	DefaultTransport *transport.Transport
}

// Session owns one remote agent, its thread and its tool registry.
type Session struct {
	svc      core.AgentService
	registry *tool.Registry
	logger   logging.Logger

	mu       sync.Mutex
	agent    core.Agent
	threadID string
	state    State
	dirty    bool

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates the remote agent described by def. On failure the error
// is an *AgentCreationError and no remote state exists.
func NewSession(ctx context.Context, svc core.AgentService, def core.AgentDefinition, optFns ...func(o *Options)) (*Session, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Session{
		svc:    svc,
		logger: opts.Logger,
		registry: tool.NewRegistry(func(o *tool.RegistryOptions) {
			o.DefaultTransport = opts.DefaultTransport
			o.Logger = opts.Logger
		}),
	}

	def.Tools = nil
	agent, err := svc.CreateAgent(ctx, def)
	s.lifecycle("agent", agent.ID, "create", err)
	if err != nil {
		_ = s.registry.Close()
		return nil, &AgentCreationError{Name: def.Name, Err: err}
	}

	s.agent = agent
	s.state = StateCreated

	return s, nil
}

// ToolOptions configure RegisterTool.
type ToolOptions struct {
	Transport      *transport.Transport
	HeaderOverride bool
}

// WithTransport binds the tool's requests to t.
func WithTransport(t *transport.Transport) func(o *ToolOptions) {
	return func(o *ToolOptions) { o.Transport = t }
}

// WithHeaderOverride lets per-call headers passed to Invoke reach the tool.
func WithHeaderOverride() func(o *ToolOptions) {
	return func(o *ToolOptions) { o.HeaderOverride = true }
}

// RegisterTool exposes every operation of d under the plugin name. It
// performs no network call; the definitions are pushed by Activate.
func (s *Session) RegisterTool(name string, d *openapi.Descriptor, optFns ...func(o *ToolOptions)) error {
	var opts ToolOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateCreated && s.state != StateReady {
		return fmt.Errorf("register tool %q in state %s: %w", name, s.state, core.ErrSessionState)
	}

	if err := s.registry.Register(tool.Plugin{
		Name:                 name,
		Descriptor:           d,
		Transport:            opts.Transport,
		AcceptHeaderOverride: opts.HeaderOverride,
	}); err != nil {
		return err
	}
	s.dirty = true

	return nil
}

// Activate pushes the registered tool definitions to the remote agent.
func (s *Session) Activate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activateLocked(ctx)
}

func (s *Session) activateLocked(ctx context.Context) error {
	switch s.state {
	case StateCreated:
	case StateReady:
		if !s.dirty {
			return nil
		}
	default:
		return fmt.Errorf("activate in state %s: %w", s.state, core.ErrSessionState)
	}

	def := s.agent.AgentDefinition
	def.Tools = s.registry.Definitions()

	agent, err := s.svc.UpdateAgent(ctx, s.agent.ID, def)
	s.lifecycle("agent", s.agent.ID, "update", err)
	if err != nil {
		return &InvocationError{AgentID: s.agent.ID, ThreadID: s.threadID, Err: err}
	}

	s.agent = agent
	s.dirty = false
	s.state = StateReady

	return nil
}

// InvokeOptions configure a single turn.
type InvokeOptions struct {
	Headers http.Header
}

// WithHeaders attaches per-call headers to the turn. They reach only tools
// registered WithHeaderOverride and replace bound headers of the same name.
func WithHeaders(h http.Header) func(o *InvokeOptions) {
	return func(o *InvokeOptions) { o.Headers = h }
}

// Invoke runs one turn with input as the user message. The thread is created
// on first use and continued afterwards. The returned stream is lazy; the
// session is busy until the stream ends or is closed, and a concurrent Invoke
// fails with core.ErrSessionBusy.
func (s *Session) Invoke(ctx context.Context, input string, optFns ...func(o *InvokeOptions)) (core.FragmentStream, error) {
	var opts InvokeOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateInvoking:
		return nil, core.ErrSessionBusy
	case StateCreated, StateReady:
	default:
		return nil, fmt.Errorf("invoke in state %s: %w", s.state, core.ErrSessionState)
	}

	if err := s.activateLocked(ctx); err != nil {
		return nil, err
	}

	if s.threadID == "" {
		threadID, err := s.svc.CreateThread(ctx)
		s.lifecycle("thread", threadID, "create", err)
		if err != nil {
			return nil, &InvocationError{AgentID: s.agent.ID, Err: err}
		}
		s.threadID = threadID
	}

	s.logger.Info("session.invoke.start", "agent_id", s.agent.ID, "thread_id", s.threadID)

	inner, err := s.svc.Invoke(ctx, core.InvokeRequest{
		AgentID:  s.agent.ID,
		ThreadID: s.threadID,
		Message:  input,
		Tools:    s.registry.Executor(opts.Headers),
	})
	if err != nil {
		return nil, &InvocationError{AgentID: s.agent.ID, ThreadID: s.threadID, Err: err}
	}

	s.state = StateInvoking

	return &turnStream{session: s, inner: inner, author: s.agent.Name}, nil
}

// turnStream relays the service stream, recording thread handles and
// returning the session to Ready once the turn is over.
type turnStream struct {
	session *Session
	inner   core.FragmentStream
	author  string
	cur     core.Fragment
	err     error
	ended   sync.Once
}

func (t *turnStream) Next() bool {
	if !t.inner.Next() {
		t.end()
		return false
	}

	frag := t.inner.Current()
	frag.Author = t.author
	t.session.observe(frag)
	t.cur = frag

	return true
}

func (t *turnStream) Current() core.Fragment { return t.cur }

func (t *turnStream) Err() error {
	if t.err != nil {
		return t.err
	}
	err := t.inner.Err()
	if err == nil || errors.Is(err, core.ErrStreamClosed) {
		return err
	}
	t.err = &InvocationError{AgentID: t.session.AgentID(), ThreadID: t.session.ThreadID(), Err: err}
	return t.err
}

func (t *turnStream) Close() error {
	err := t.inner.Close()
	t.end()
	return err
}

func (t *turnStream) end() {
	t.ended.Do(func() {
		s := t.session
		s.mu.Lock()
		if s.state == StateInvoking {
			s.state = StateReady
		}
		s.mu.Unlock()

		if err := t.Err(); err != nil && !errors.Is(err, core.ErrStreamClosed) {
			s.logger.Error("session.invoke.failed", "agent_id", s.AgentID(), "thread_id", s.ThreadID(), "error", err.Error())
			return
		}
		s.logger.Info("session.invoke.completed", "agent_id", s.AgentID(), "thread_id", s.ThreadID())
	})
}

// observe records the thread handle reported by a fragment.
func (s *Session) observe(f core.Fragment) {
	if f.ThreadID == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if f.ThreadID != s.threadID {
		s.logger.Debug("session.thread.changed", "from", s.threadID, "to", f.ThreadID)
		s.threadID = f.ThreadID
	}
}

// Close deletes the thread (if any) and the agent, then releases every tool
// transport. It runs once; later calls return the first result. Resources
// already gone remotely count as deleted.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		threadID, agentID := s.threadID, s.agent.ID
		s.state = StateTornDown
		s.mu.Unlock()

		var errs []error

		if threadID != "" {
			err := s.svc.DeleteThread(ctx, threadID)
			if errors.Is(err, core.ErrNotFound) {
				err = nil
			}
			s.lifecycle("thread", threadID, "delete", err)
			errs = append(errs, err)
		}

		err := s.svc.DeleteAgent(ctx, agentID)
		if errors.Is(err, core.ErrNotFound) {
			err = nil
		}
		s.lifecycle("agent", agentID, "delete", err)
		errs = append(errs, err)

		errs = append(errs, s.registry.Close())

		s.closeErr = errors.Join(errs...)
	})

	return s.closeErr
}

// ThreadID returns the current thread handle, empty before the first turn.
func (s *Session) ThreadID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.threadID
}

// AgentID returns the remote agent id.
func (s *Session) AgentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent.ID
}

// Agent returns the remote agent as last pushed.
func (s *Session) Agent() core.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Registry returns the session's tool registry.
func (s *Session) Registry() *tool.Registry { return s.registry }

func (s *Session) lifecycle(resource, id, action string, err error) {
	if l, ok := s.logger.(lifecycleLogger); ok {
		l.LogLifecycle(resource, id, action, err)
		return
	}
	if err != nil {
		s.logger.Error("resource.lifecycle.failed", "resource", resource, "id", id, "action", action, "error", err.Error())
		return
	}
	s.logger.Debug("resource.lifecycle", "resource", resource, "id", id, "action", action)
}

package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// Call is one recorded AgentService call.
type Call struct {
	Method string
	ID     string
}

// RecordingService wraps a core.AgentService, records every call and can
// inject failures per method name ("CreateAgent", "Invoke", ...).
type RecordingService struct {
	Inner core.AgentService

	mu       sync.Mutex
	calls    []Call
	failures map[string][]error
	requests []core.InvokeRequest
}

var _ core.AgentService = (*RecordingService)(nil)

// NewRecordingService wraps inner.
func NewRecordingService(inner core.AgentService) *RecordingService {
	return &RecordingService{Inner: inner, failures: map[string][]error{}}
}

// FailNext makes the next call of method return err. Queued failures are
// consumed in order; a nil entry lets a call through.
func (r *RecordingService) FailNext(method string, errs ...error) *RecordingService {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[method] = append(r.failures[method], errs...)
	return r
}

// Calls returns the recorded calls in order.
func (r *RecordingService) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Count returns how often method was called.
func (r *RecordingService) Count(method string) int {
	n := 0
	for _, c := range r.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Requests returns the recorded invoke requests.
func (r *RecordingService) Requests() []core.InvokeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.InvokeRequest(nil), r.requests...)
}

func (r *RecordingService) record(method, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, Call{Method: method, ID: id})
	if q := r.failures[method]; len(q) > 0 {
		r.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

// CreateAgent implements core.AgentService.
func (r *RecordingService) CreateAgent(ctx context.Context, def core.AgentDefinition) (core.Agent, error) {
	if err := r.record("CreateAgent", def.Name); err != nil {
		return core.Agent{}, err
	}
	return r.Inner.CreateAgent(ctx, def)
}

// UpdateAgent implements core.AgentService.
func (r *RecordingService) UpdateAgent(ctx context.Context, agentID string, def core.AgentDefinition) (core.Agent, error) {
	if err := r.record("UpdateAgent", agentID); err != nil {
		return core.Agent{}, err
	}
	return r.Inner.UpdateAgent(ctx, agentID, def)
}

// CreateThread implements core.AgentService.
func (r *RecordingService) CreateThread(ctx context.Context) (string, error) {
	if err := r.record("CreateThread", ""); err != nil {
		return "", err
	}
	return r.Inner.CreateThread(ctx)
}

// Invoke implements core.AgentService.
func (r *RecordingService) Invoke(ctx context.Context, req core.InvokeRequest) (core.FragmentStream, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()

	if err := r.record("Invoke", req.ThreadID); err != nil {
		return nil, err
	}
	return r.Inner.Invoke(ctx, req)
}

// DeleteThread implements core.AgentService.
func (r *RecordingService) DeleteThread(ctx context.Context, threadID string) error {
	if err := r.record("DeleteThread", threadID); err != nil {
		return err
	}
	return r.Inner.DeleteThread(ctx, threadID)
}

// DeleteAgent implements core.AgentService.
func (r *RecordingService) DeleteAgent(ctx context.Context, agentID string) error {
	if err := r.record("DeleteAgent", agentID); err != nil {
		return err
	}
	return r.Inner.DeleteAgent(ctx, agentID)
}

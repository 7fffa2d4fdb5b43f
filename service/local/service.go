// Package local implements core.AgentService in process on top of a
// model.Model. Agents and threads live in memory; tool rounds are executed
// through the executor passed with each turn.
package local

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
)

// Options configure a Service.
type Options struct {
	Logger logging.Logger
	// MaxToolRounds bounds the tool rounds of a single turn.
	MaxToolRounds int
	// RotateThreads gives a thread a new handle at the end of every turn, the
	// way some hosted services do.
	RotateThreads bool
}

// Service is an in-process core.AgentService.
type Service struct {
	model   model.Model
	agents  *AgentStore
	threads *ThreadStore
	opts    Options
}

var _ core.AgentService = (*Service)(nil)

// New creates a Service generating replies with m.
func New(m model.Model, optFns ...func(o *Options)) *Service {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		MaxToolRounds: 8,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Service{
		model:   m,
		agents:  NewAgentStore(),
		threads: NewThreadStore(),
		opts:    opts,
	}
}

// Agents exposes the agent store.
func (s *Service) Agents() *AgentStore { return s.agents }

// Threads exposes the thread store.
func (s *Service) Threads() *ThreadStore { return s.threads }

// CreateAgent implements core.AgentService.
func (s *Service) CreateAgent(_ context.Context, def core.AgentDefinition) (core.Agent, error) {
	if def.Name == "" {
		return core.Agent{}, errors.New("agent name is required")
	}
	a := s.agents.Create(def)
	s.opts.Logger.Debug("local.agent.created", "agent_id", a.ID, "name", a.Name)
	return a, nil
}

// UpdateAgent implements core.AgentService.
func (s *Service) UpdateAgent(_ context.Context, agentID string, def core.AgentDefinition) (core.Agent, error) {
	return s.agents.Update(agentID, def)
}

// CreateThread implements core.AgentService.
func (s *Service) CreateThread(context.Context) (string, error) {
	return s.threads.Create(), nil
}

// DeleteThread implements core.AgentService.
func (s *Service) DeleteThread(_ context.Context, threadID string) error {
	return s.threads.Delete(threadID)
}

// DeleteAgent implements core.AgentService.
func (s *Service) DeleteAgent(_ context.Context, agentID string) error {
	return s.agents.Delete(agentID)
}

// Invoke implements core.AgentService. Opening the stream resolves the agent
// and the thread (creating it when req.ThreadID is empty); the model is only
// called as the stream is consumed.
func (s *Service) Invoke(ctx context.Context, req core.InvokeRequest) (core.FragmentStream, error) {
	agent, err := s.agents.Get(req.AgentID)
	if err != nil {
		return nil, err
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = s.threads.Create()
	} else if !s.threads.Exists(threadID) {
		return nil, fmt.Errorf("thread %q: %w", threadID, core.ErrNotFound)
	}

	t := &turn{
		svc:      s,
		agent:    agent,
		threadID: threadID,
		req:      req,
		limiter:  core.NewRoundLimiter(s.opts.MaxToolRounds),
	}

	return core.NewStream(ctx, t.step, nil), nil
}

// turn drives one Invoke: model call, tool round, model call ... until the
// model answers with text.
type turn struct {
	svc      *Service
	agent    core.Agent
	threadID string
	req      core.InvokeRequest
	limiter  *core.RoundLimiter
	started  bool
}

func (t *turn) step(ctx context.Context) (core.Fragment, bool, error) {
	logger := t.svc.opts.Logger

	if !t.started {
		t.started = true
		if err := t.svc.threads.Append(t.threadID, core.NewTextContent("user", t.req.Message)); err != nil {
			return core.Fragment{}, false, err
		}
	}

	history, err := t.svc.threads.History(t.threadID)
	if err != nil {
		return core.Fragment{}, false, err
	}

	resp, err := t.svc.model.Generate(ctx, model.Request{
		Instructions: t.agent.Instructions,
		Contents:     history,
		Tools:        t.agent.Tools,
	})
	if err != nil {
		return core.Fragment{}, false, fmt.Errorf("generate: %w", err)
	}

	reply := resp.Content
	reply.Role = "assistant"
	if err := t.svc.threads.Append(t.threadID, reply); err != nil {
		return core.Fragment{}, false, err
	}

	calls := reply.FunctionCalls()
	if len(calls) == 0 {
		threadID := t.threadID
		if t.svc.opts.RotateThreads {
			if threadID, err = t.svc.threads.Rotate(t.threadID); err != nil {
				return core.Fragment{}, false, err
			}
			logger.Debug("local.thread.rotated", "from", t.threadID, "to", threadID)
			t.threadID = threadID
		}
		frag := core.NewMessageFragment(t.agent.Name, threadID, reply.Text())
		frag.Final = true
		return frag, true, nil
	}

	if err := t.limiter.Increment(); err != nil {
		return core.Fragment{}, false, err
	}
	if t.req.Tools == nil {
		return core.Fragment{}, false, errors.New("model requested tools but no executor was provided")
	}

	results := core.Content{Role: "tool"}
	for _, call := range calls {
		out, err := t.req.Tools.Execute(ctx, call)
		if err != nil {
			return core.Fragment{}, false, fmt.Errorf("execute %s: %w", call.Name, err)
		}
		results.Parts = append(results.Parts, core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
			ID:     call.ID,
			Name:   call.Name,
			Output: out,
		}})
	}
	if err := t.svc.threads.Append(t.threadID, results); err != nil {
		return core.Fragment{}, false, err
	}

	logger.Debug("local.tool_round.completed", "thread_id", t.threadID, "calls", len(calls), "round", t.limiter.Count())

	frag := core.NewToolRoundFragment(t.agent.Name, t.threadID, calls)
	frag.Text = reply.Text()
	return frag, true, nil
}

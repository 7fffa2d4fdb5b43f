package local

import (
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// AgentStore is a volatile store of agent definitions keyed by id. Safe for
// concurrent use. Returned agents are copies.
type AgentStore struct {
	mu     sync.RWMutex
	agents map[string]core.Agent
}

// NewAgentStore constructs an empty agent store.
func NewAgentStore() *AgentStore {
	return &AgentStore{agents: make(map[string]core.Agent)}
}

// Create stores def under a fresh id.
func (s *AgentStore) Create(def core.AgentDefinition) core.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := core.Agent{ID: "asst_" + core.NewID(), AgentDefinition: cloneDefinition(def)}
	s.agents[a.ID] = a
	return a
}

// Get returns the agent stored under id.
func (s *AgentStore) Get(id string) (core.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.agents[id]
	if !ok {
		return core.Agent{}, fmt.Errorf("agent %q: %w", id, core.ErrNotFound)
	}
	return core.Agent{ID: a.ID, AgentDefinition: cloneDefinition(a.AgentDefinition)}, nil
}

// Update replaces the definition of an existing agent.
func (s *AgentStore) Update(id string, def core.AgentDefinition) (core.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return core.Agent{}, fmt.Errorf("agent %q: %w", id, core.ErrNotFound)
	}
	a := core.Agent{ID: id, AgentDefinition: cloneDefinition(def)}
	s.agents[id] = a
	return a, nil
}

// Delete removes the agent stored under id.
func (s *AgentStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agents[id]; !ok {
		return fmt.Errorf("agent %q: %w", id, core.ErrNotFound)
	}
	delete(s.agents, id)
	return nil
}

// Len returns the number of live agents.
func (s *AgentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

func cloneDefinition(def core.AgentDefinition) core.AgentDefinition {
	def.Tools = append([]core.ToolDefinition(nil), def.Tools...)
	return def
}

// ThreadStore keeps conversation histories keyed by thread handle. A thread's
// history can be moved to a new handle with Rotate.
type ThreadStore struct {
	mu      sync.RWMutex
	threads map[string][]core.Content
}

// NewThreadStore constructs an empty thread store.
func NewThreadStore() *ThreadStore {
	return &ThreadStore{threads: make(map[string][]core.Content)}
}

// Create allocates an empty thread and returns its handle.
func (s *ThreadStore) Create() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := "thread_" + core.NewID()
	s.threads[id] = nil
	return id
}

// Exists reports whether id is a live thread.
func (s *ThreadStore) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.threads[id]
	return ok
}

// History returns a copy of the contents of thread id.
func (s *ThreadStore) History(id string) ([]core.Content, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.threads[id]
	if !ok {
		return nil, fmt.Errorf("thread %q: %w", id, core.ErrNotFound)
	}
	out := make([]core.Content, len(h))
	for i, c := range h {
		out[i] = c.Clone()
	}
	return out, nil
}

// Append adds contents to thread id.
func (s *ThreadStore) Append(id string, contents ...core.Content) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.threads[id]
	if !ok {
		return fmt.Errorf("thread %q: %w", id, core.ErrNotFound)
	}
	for _, c := range contents {
		h = append(h, c.Clone())
	}
	s.threads[id] = h
	return nil
}

// Rotate moves the history of id to a new handle and retires id.
func (s *ThreadStore) Rotate(id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.threads[id]
	if !ok {
		return "", fmt.Errorf("thread %q: %w", id, core.ErrNotFound)
	}
	next := "thread_" + core.NewID()
	s.threads[next] = h
	delete(s.threads, id)
	return next, nil
}

// Delete removes thread id.
func (s *ThreadStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.threads[id]; !ok {
		return fmt.Errorf("thread %q: %w", id, core.ErrNotFound)
	}
	delete(s.threads, id)
	return nil
}

// Len returns the number of live threads.
func (s *ThreadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.threads)
}

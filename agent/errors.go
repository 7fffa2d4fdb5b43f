package agent

import (
	"fmt"

	"github.com/hupe1980/toolmesh/core"
)

// AgentCreationError reports that the remote agent could not be created.
// Nothing was allocated remotely, so there is nothing to clean up.
type AgentCreationError struct {
	Name string
	Err  error
}

func (e *AgentCreationError) Error() string {
	return fmt.Sprintf("create agent %q: %v", e.Name, e.Err)
}

// Unwrap returns the cause and core.ErrAgentCreation.
func (e *AgentCreationError) Unwrap() []error { return []error{e.Err, core.ErrAgentCreation} }

// InvocationError reports a failed turn.
type InvocationError struct {
	AgentID  string
	ThreadID string
	Err      error
}

func (e *InvocationError) Error() string {
	if e.ThreadID == "" {
		return fmt.Sprintf("invoke agent %s: %v", e.AgentID, e.Err)
	}
	return fmt.Sprintf("invoke agent %s on thread %s: %v", e.AgentID, e.ThreadID, e.Err)
}

// Unwrap returns the cause and core.ErrInvocation.
func (e *InvocationError) Unwrap() []error { return []error{e.Err, core.ErrInvocation} }

package core

import (
	"context"
)

// ToolDefinition declaratively exposes a callable function to the agent.
// Parameters is a JSON Schema object without $ref entries.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// AgentDefinition is the description the remote service stores for an agent.
type AgentDefinition struct {
	Model        string           `json:"model"`
	Name         string           `json:"name"`
	Instructions string           `json:"instructions"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// Agent is a remotely allocated agent definition. ID is owned by the caller
// that created it and must be released with AgentService.DeleteAgent.
type Agent struct {
	ID string `json:"id"`
	AgentDefinition
}

// ToolExecutor runs function calls requested by the agent during a turn. The
// returned output is handed back to the model verbatim. A non-nil error aborts
// the turn; tool level failures should be encoded into the output instead.
type ToolExecutor interface {
	Execute(ctx context.Context, call FunctionCall) (string, error)
}

// ToolExecutorFunc adapts a function to ToolExecutor.
type ToolExecutorFunc func(ctx context.Context, call FunctionCall) (string, error)

// Execute implements ToolExecutor.
func (f ToolExecutorFunc) Execute(ctx context.Context, call FunctionCall) (string, error) {
	return f(ctx, call)
}

// InvokeRequest describes a single turn.
type InvokeRequest struct {
	// AgentID of a previously created agent.
	AgentID string
	// ThreadID continues an existing thread; empty lets the service create one.
	ThreadID string
	// Message is the user input for this turn.
	Message string
	// Tools executes function calls requested by the agent.
	Tools ToolExecutor
}

// AgentService is the boundary to the remote agent host. Agent and thread
// handles it returns are not garbage collected remotely; the creator must
// delete them. Deleting an absent agent or thread returns an error wrapping
// ErrNotFound.
type AgentService interface {
	CreateAgent(ctx context.Context, def AgentDefinition) (Agent, error)
	UpdateAgent(ctx context.Context, agentID string, def AgentDefinition) (Agent, error)
	CreateThread(ctx context.Context) (string, error)
	Invoke(ctx context.Context, req InvokeRequest) (FragmentStream, error)
	DeleteThread(ctx context.Context, threadID string) error
	DeleteAgent(ctx context.Context, agentID string) error
}

package model

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/toolmesh/core"
)

// Request is the normalized model input.
type Request struct {
	Instructions string                `json:"instructions"`
	Contents     []core.Content        `json:"contents"`
	Tools        []core.ToolDefinition `json:"tools,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the assistant message produced for a Request.
type Response struct {
	ID           string       `json:"id"`
	Content      core.Content `json:"content"`
	FinishReason string       `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage  `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock"
	SupportsTools bool   `json:"supports_tools"`
}

// Model generates the next assistant message of a conversation.
type Model interface {
	Generate(ctx context.Context, req Request) (Response, error)

	// Info returns information about the model implementation.
	Info() Info
}

// ErrScriptExhausted is returned by MockModel when no scripted reply is left
// and no fallback is configured.
var ErrScriptExhausted = errors.New("mock model: script exhausted")

type scripted struct {
	resp Response
	err  error
}

// MockModel is an in-memory Model replaying scripted replies. It records every
// request it receives. Safe for concurrent use.
type MockModel struct {
	info Info

	mu       sync.Mutex
	script   []scripted
	requests []Request
	echo     bool
}

// NewMockModel constructs a MockModel. Without a script it echoes the last
// user text as "Mock response to: <text>".
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
		echo: true,
	}
}

// Reply appends a text reply to the script.
func (m *MockModel) Reply(text string) *MockModel {
	return m.push(Response{
		Content:      core.NewTextContent("assistant", text),
		FinishReason: "stop",
	})
}

// CallTools appends a reply requesting the given function calls.
func (m *MockModel) CallTools(calls ...core.FunctionCall) *MockModel {
	parts := make([]core.Part, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = "call_" + core.NewID()
		}
		parts[i] = core.FunctionCallPart{FunctionCall: c}
	}
	return m.push(Response{
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: "tool_calls",
	})
}

// Fail appends an error reply: Generate returns err when it is reached.
func (m *MockModel) Fail(err error) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{err: err})
	return m
}

// Strict disables the echo fallback.
func (m *MockModel) Strict() *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.echo = false
	return m
}

func (m *MockModel) push(r Response) *MockModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, scripted{resp: r})
	return m
}

// Requests returns a copy of the requests received so far.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Request(nil), m.requests...)
}

// Generate implements Model.
func (m *MockModel) Generate(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.script) > 0 {
		step := m.script[0]
		m.script = m.script[1:]
		if step.err != nil {
			return Response{}, step.err
		}
		next := step.resp
		next.ID = "resp_" + core.NewID()
		next.Content = next.Content.Clone()
		return next, nil
	}

	if !m.echo {
		return Response{}, ErrScriptExhausted
	}
	if len(req.Contents) == 0 {
		return Response{}, fmt.Errorf("no contents provided")
	}

	last := req.Contents[len(req.Contents)-1]
	return Response{
		ID:           "resp_" + core.NewID(),
		Content:      core.NewTextContent("assistant", fmt.Sprintf("Mock response to: %s", last.Text())),
		FinishReason: "stop",
	}, nil
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }

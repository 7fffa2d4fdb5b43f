package core

import (
	"time"

	"github.com/google/uuid"
)

// Fragment is one element of the response sequence produced by a turn. Remote
// services may rotate thread handles between turns; every fragment reports the
// thread handle that is current when it was produced.
//
// A fragment either carries assistant text, reports the function calls the
// agent executed in a tool round, or both. Final is set on the last fragment
// of a turn.
type Fragment struct {
	ID            string         `json:"id"`
	Author        string         `json:"author"`
	Role          string         `json:"role"`
	Text          string         `json:"text,omitempty"`
	FunctionCalls []FunctionCall `json:"function_calls,omitempty"`
	ThreadID      string         `json:"thread_id"`
	Final         bool           `json:"final,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewMessageFragment creates an assistant text fragment on threadID.
func NewMessageFragment(author, threadID, text string) Fragment {
	return Fragment{
		ID:        NewID(),
		Author:    author,
		Role:      "assistant",
		Text:      text,
		ThreadID:  threadID,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolRoundFragment records the function calls executed in one tool round.
func NewToolRoundFragment(author, threadID string, calls []FunctionCall) Fragment {
	return Fragment{
		ID:            NewID(),
		Author:        author,
		Role:          "tool",
		FunctionCalls: calls,
		ThreadID:      threadID,
		Timestamp:     time.Now().UTC(),
	}
}

// String renders the fragment for console output.
func (f Fragment) String() string {
	if f.Text != "" {
		return f.Text
	}
	names := ""
	for i, fc := range f.FunctionCalls {
		if i > 0 {
			names += ", "
		}
		names += fc.Name
	}
	return "called " + names
}

// NewID generates a new unique identifier (UUID v4).
func NewID() string { return uuid.NewString() }

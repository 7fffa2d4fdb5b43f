package testutil

import (
	"context"

	"github.com/hupe1980/toolmesh/core"
)

// FragmentBuilder provides a fluent helper for constructing fragments.
// Example:
//
//	f := NewFragmentBuilder().Thread("thread_1").Text("hello").Final().Build()
type FragmentBuilder struct {
	frag core.Fragment
}

// NewFragmentBuilder creates a builder with default author "agent".
func NewFragmentBuilder() *FragmentBuilder {
	return &FragmentBuilder{frag: core.NewMessageFragment("agent", "", "")}
}

// Author sets the author name (chainable).
func (b *FragmentBuilder) Author(a string) *FragmentBuilder { b.frag.Author = a; return b }

// Thread sets the reported thread handle (chainable).
func (b *FragmentBuilder) Thread(id string) *FragmentBuilder { b.frag.ThreadID = id; return b }

// Text sets assistant text (chainable).
func (b *FragmentBuilder) Text(t string) *FragmentBuilder { b.frag.Text = t; return b }

// FunctionCall adds a function call and marks the fragment as a tool round (chainable).
func (b *FragmentBuilder) FunctionCall(name, args string) *FragmentBuilder {
	b.frag.Role = "tool"
	b.frag.FunctionCalls = append(b.frag.FunctionCalls, core.FunctionCall{ID: "call_" + core.NewID(), Name: name, Arguments: args})
	return b
}

// Final marks the fragment as the last of its turn (chainable).
func (b *FragmentBuilder) Final() *FragmentBuilder { b.frag.Final = true; return b }

// Build returns the fragment.
func (b *FragmentBuilder) Build() core.Fragment { return b.frag }

// SliceStream returns a stream yielding frags and then ending with err.
func SliceStream(ctx context.Context, err error, frags ...core.Fragment) core.FragmentStream {
	i := 0
	return core.NewStream(ctx, func(context.Context) (core.Fragment, bool, error) {
		if i < len(frags) {
			i++
			return frags[i-1], true, nil
		}
		return core.Fragment{}, false, err
	}, nil)
}

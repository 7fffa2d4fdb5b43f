package model

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
)

func TestMockModel_Script(t *testing.T) {
	m := NewMockModel("mock").
		CallTools(core.FunctionCall{Name: "Weather-GetCurrentWeather", Arguments: `{"city":"Copenhagen"}`}).
		Reply("It is sunny.")

	req := Request{Contents: []core.Content{core.NewTextContent("user", "Weather?")}}

	first, err := m.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", first.FinishReason)
	calls := first.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, "Weather-GetCurrentWeather", calls[0].Name)

	second, err := m.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "It is sunny.", second.Content.Text())

	third, err := m.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: Weather?", third.Content.Text())

	assert.Len(t, m.Requests(), 3)
}

func TestMockModel_FailAndStrict(t *testing.T) {
	boom := errors.New("boom")
	m := NewMockModel("mock").Fail(boom).Strict()
	req := Request{Contents: []core.Content{core.NewTextContent("user", "hi")}}

	_, err := m.Generate(context.Background(), req)
	assert.ErrorIs(t, err, boom)

	_, err = m.Generate(context.Background(), req)
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestMockModel_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewMockModel("mock").Generate(ctx, Request{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMockModel_Info(t *testing.T) {
	info := NewMockModel("m1").Info()
	assert.Equal(t, "m1", info.Name)
	assert.Equal(t, "mock", info.Provider)
	assert.True(t, info.SupportsTools)
}

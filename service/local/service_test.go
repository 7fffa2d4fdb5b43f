package local

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

var priceTool = core.ToolDefinition{
	Name:       "ElectricityPlugin-GetElectricityPrice",
	Parameters: map[string]any{"type": "object"},
}

func newAgent(t *testing.T, svc *Service) core.Agent {
	t.Helper()
	a, err := svc.CreateAgent(context.Background(), core.AgentDefinition{
		Model:        "mock",
		Name:         "Host",
		Instructions: "Answer from tools only.",
		Tools:        []core.ToolDefinition{priceTool},
	})
	require.NoError(t, err)
	return a
}

func TestService_ToolRoundThenAnswer(t *testing.T) {
	m := model.NewMockModel("mock").
		CallTools(core.FunctionCall{ID: "c1", Name: priceTool.Name, Arguments: `{"city":"Copenhagen","date":"2025-01-01"}`}).
		Reply("0.42 DKK/kWh")
	svc := New(m)
	a := newAgent(t, svc)

	var executed []core.FunctionCall
	exec := core.ToolExecutorFunc(func(_ context.Context, call core.FunctionCall) (string, error) {
		executed = append(executed, call)
		return `{"price":0.42}`, nil
	})

	stream, err := svc.Invoke(context.Background(), core.InvokeRequest{AgentID: a.ID, Message: "price?", Tools: exec})
	require.NoError(t, err)
	assert.Empty(t, m.Requests(), "the model is not called before the stream is consumed")

	frags, err := core.Collect(stream)
	require.NoError(t, err)
	require.Len(t, frags, 2)

	assert.Equal(t, "tool", frags[0].Role)
	assert.False(t, frags[0].Final)
	assert.True(t, frags[1].Final)
	assert.Equal(t, "0.42 DKK/kWh", frags[1].Text)
	assert.Equal(t, "Host", frags[1].Author)
	require.Len(t, executed, 1)
	assert.Equal(t, "c1", executed[0].ID)

	reqs := m.Requests()
	require.Len(t, reqs, 2)
	assert.Equal(t, "Answer from tools only.", reqs[0].Instructions)
	assert.Equal(t, []core.ToolDefinition{priceTool}, reqs[0].Tools)

	history, err := svc.Threads().History(frags[1].ThreadID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, []string{"user", "assistant", "tool", "assistant"},
		[]string{history[0].Role, history[1].Role, history[2].Role, history[3].Role})
}

func TestService_ThreadContinuation(t *testing.T) {
	svc := New(model.NewMockModel("mock"))
	a := newAgent(t, svc)

	frags, err := core.Collect(mustInvoke(t, svc, core.InvokeRequest{AgentID: a.ID, Message: "one"}))
	require.NoError(t, err)
	threadID := frags[len(frags)-1].ThreadID

	frags, err = core.Collect(mustInvoke(t, svc, core.InvokeRequest{AgentID: a.ID, ThreadID: threadID, Message: "two"}))
	require.NoError(t, err)
	assert.Equal(t, threadID, frags[0].ThreadID)

	history, err := svc.Threads().History(threadID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
	assert.Equal(t, 1, svc.Threads().Len())
}

func TestService_RotateThreads(t *testing.T) {
	svc := New(model.NewMockModel("mock"), func(o *Options) { o.RotateThreads = true })
	a := newAgent(t, svc)

	stream := mustInvoke(t, svc, core.InvokeRequest{AgentID: a.ID, Message: "one"})
	frags, err := core.Collect(stream)
	require.NoError(t, err)
	first := frags[0].ThreadID

	frags, err = core.Collect(mustInvoke(t, svc, core.InvokeRequest{AgentID: a.ID, ThreadID: first, Message: "two"}))
	require.NoError(t, err)
	second := frags[0].ThreadID

	assert.NotEqual(t, first, second)
	assert.False(t, svc.Threads().Exists(first))

	history, err := svc.Threads().History(second)
	require.NoError(t, err)
	assert.Len(t, history, 4, "history moves with the handle")
}

func TestService_ToolRoundLimit(t *testing.T) {
	m := model.NewMockModel("mock")
	for i := 0; i < 3; i++ {
		m.CallTools(core.FunctionCall{Name: priceTool.Name})
	}
	svc := New(m, func(o *Options) { o.MaxToolRounds = 2 })
	a := newAgent(t, svc)

	exec := core.ToolExecutorFunc(func(context.Context, core.FunctionCall) (string, error) { return "{}", nil })
	frags, err := core.Collect(mustInvoke(t, svc, core.InvokeRequest{AgentID: a.ID, Message: "loop", Tools: exec}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeded max tool rounds")
	assert.Len(t, frags, 2)
}

func TestService_Errors(t *testing.T) {
	boom := errors.New("boom")
	svc := New(model.NewMockModel("mock").Fail(boom))
	a := newAgent(t, svc)

	_, err := svc.Invoke(context.Background(), core.InvokeRequest{AgentID: "missing", Message: "x"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.Invoke(context.Background(), core.InvokeRequest{AgentID: a.ID, ThreadID: "missing", Message: "x"})
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = core.Collect(mustInvoke(t, svc, core.InvokeRequest{AgentID: a.ID, Message: "x"}))
	assert.ErrorIs(t, err, boom)

	_, err = svc.CreateAgent(context.Background(), core.AgentDefinition{})
	assert.Error(t, err)
}

func TestService_ExecutorErrorAbortsTurn(t *testing.T) {
	svc := New(model.NewMockModel("mock").CallTools(core.FunctionCall{Name: priceTool.Name}))
	a := newAgent(t, svc)

	exec := core.ToolExecutorFunc(func(context.Context, core.FunctionCall) (string, error) {
		return "", context.DeadlineExceeded
	})
	_, err := core.Collect(mustInvoke(t, svc, core.InvokeRequest{AgentID: a.ID, Message: "x", Tools: exec}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestService_Delete(t *testing.T) {
	svc := New(model.NewMockModel("mock"))
	a := newAgent(t, svc)

	frags, err := core.Collect(mustInvoke(t, svc, core.InvokeRequest{AgentID: a.ID, Message: "x"}))
	require.NoError(t, err)
	threadID := frags[0].ThreadID

	require.NoError(t, svc.DeleteThread(context.Background(), threadID))
	require.NoError(t, svc.DeleteAgent(context.Background(), a.ID))

	assert.ErrorIs(t, svc.DeleteThread(context.Background(), threadID), core.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteAgent(context.Background(), a.ID), core.ErrNotFound)
	assert.Zero(t, svc.Agents().Len())
	assert.Zero(t, svc.Threads().Len())
}

func TestService_UpdateAgent(t *testing.T) {
	svc := New(model.NewMockModel("mock"))
	a := newAgent(t, svc)

	def := a.AgentDefinition
	def.Tools = nil
	updated, err := svc.UpdateAgent(context.Background(), a.ID, def)
	require.NoError(t, err)
	assert.Equal(t, a.ID, updated.ID)
	assert.Empty(t, updated.Tools)

	_, err = svc.UpdateAgent(context.Background(), "missing", def)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func mustInvoke(t *testing.T, svc *Service, req core.InvokeRequest) core.FragmentStream {
	t.Helper()
	stream, err := svc.Invoke(context.Background(), req)
	require.NoError(t, err)
	return stream
}

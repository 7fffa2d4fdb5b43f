package openai

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/model"
)

const toolCallCompletion = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1735689600,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{"id": "call_2", "type": "function", "function": {"name": "WeatherPlugin-GetForecast", "arguments": "{\"city\":\"Aarhus\"}"}}]
    }
  }],
  "usage": {"prompt_tokens": 42, "completion_tokens": 7, "total_tokens": 49}
}`

func newFakeCompletions(t *testing.T, reply string) (*Model, *[]byte) {
	t.Helper()
	var body []byte
	r := chi.NewRouter()
	r.Post("/chat/completions", func(w http.ResponseWriter, req *http.Request) {
		body, _ = io.ReadAll(req.Body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	client := openai.NewClient(option.WithBaseURL(srv.URL+"/"), option.WithAPIKey("test"), option.WithMaxRetries(0))
	return NewModelFromClient(&client, func(o *Options) { o.Model = "gpt-4o-mini" }), &body
}

func TestGenerate_ToolRoundTrip(t *testing.T) {
	m, body := newFakeCompletions(t, toolCallCompletion)

	resp, err := m.Generate(t.Context(), model.Request{
		Instructions: "Use the tools.",
		Contents: []core.Content{
			core.NewTextContent("user", "price and forecast?"),
			{Role: "assistant", Parts: []core.Part{core.FunctionCallPart{FunctionCall: core.FunctionCall{
				ID: "call_1", Name: "ElectricityPlugin-GetElectricityPrice", Arguments: `{"city":"Copenhagen"}`,
			}}}},
			{Role: "tool", Parts: []core.Part{core.FunctionResponsePart{FunctionResponse: core.FunctionResponse{
				ID: "call_1", Name: "ElectricityPlugin-GetElectricityPrice", Output: `{"price":0.42}`,
			}}}},
		},
		Tools: []core.ToolDefinition{{
			Name:        "WeatherPlugin-GetForecast",
			Description: "Get a multi-day forecast",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"city": map[string]any{"type": "string"}}},
		}},
	})
	require.NoError(t, err)

	sent := gjson.ParseBytes(*body)
	assert.Equal(t, "gpt-4o-mini", sent.Get("model").String())
	roles := sent.Get("messages.#.role").Array()
	require.Len(t, roles, 4)
	assert.Equal(t, []string{"system", "user", "assistant", "tool"}, []string{roles[0].String(), roles[1].String(), roles[2].String(), roles[3].String()})
	assert.Equal(t, "call_1", sent.Get("messages.2.tool_calls.0.id").String())
	assert.Equal(t, "call_1", sent.Get("messages.3.tool_call_id").String())
	assert.Equal(t, "WeatherPlugin-GetForecast", sent.Get("tools.0.function.name").String())

	assert.Equal(t, "chatcmpl-1", resp.ID)
	assert.Equal(t, "tool_calls", resp.FinishReason)
	calls := resp.Content.FunctionCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "call_2", calls[0].ID)
	assert.JSONEq(t, `{"city":"Aarhus"}`, calls[0].Arguments)
	require.NotNil(t, resp.Usage)
	assert.Equal(t, 49, resp.Usage.TotalTokens)
}

func TestGenerate_NoChoices(t *testing.T) {
	m, _ := newFakeCompletions(t, `{"id":"chatcmpl-2","object":"chat.completion","choices":[]}`)

	_, err := m.Generate(t.Context(), model.Request{Contents: []core.Content{core.NewTextContent("user", "hi")}})
	assert.Error(t, err)
}

func TestBuildMessages_SkipsEmptyUserText(t *testing.T) {
	msgs := buildMessages(model.Request{Contents: []core.Content{core.NewTextContent("user", "")}})
	assert.Empty(t, msgs)

	data, err := json.Marshal(buildMessages(model.Request{Contents: []core.Content{core.NewTextContent("assistant", "done")}}))
	require.NoError(t, err)
	assert.Equal(t, "assistant", gjson.GetBytes(data, "0.role").String())
}

func TestInfo(t *testing.T) {
	info := NewModelFromClient(nil, func(o *Options) { o.Model = "gpt-4o" }).Info()
	assert.Equal(t, "gpt-4o", info.Name)
	assert.Equal(t, "openai", info.Provider)
	assert.True(t, info.SupportsTools)
}

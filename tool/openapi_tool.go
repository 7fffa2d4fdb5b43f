package tool

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/internal/util"
	"github.com/hupe1980/toolmesh/openapi"
	"github.com/hupe1980/toolmesh/transport"
)

// maxResponseSize bounds the response body handed back to the model.
const maxResponseSize = 1 << 20

var invalidNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// ToolName builds the function name for an operation of a plugin.
func ToolName(plugin, operationID string) string {
	name := invalidNameChars.ReplaceAllString(plugin+"-"+operationID, "_")
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

type toolCallLogger interface {
	LogToolCall(plugin, operation, method string, status int, dur time.Duration, err error)
}

// OpenAPITool calls one OpenAPI operation over HTTP.
//
// Arguments are validated against the operation's flattened schema (path,
// query, header and cookie parameters plus an optional "body" property). The
// HTTP response body is returned as a string; statuses >= 400 become a
// *ToolError with code HTTP_<status>.
//
// An OpenAPITool holds no mutable state and is safe for concurrent use.
type OpenAPITool struct {
	name    string
	plugin  string
	baseURL string
	op      openapi.Operation
	schema  map[string]any
	client  *http.Client
}

// NewOpenAPITool creates a tool for op. Requests are sent to baseURL through
// client, whose transport supplies the plugin's credentials.
func NewOpenAPITool(plugin, baseURL string, op openapi.Operation, client *http.Client) *OpenAPITool {
	return &OpenAPITool{
		name:    ToolName(plugin, op.ID),
		plugin:  plugin,
		baseURL: strings.TrimRight(baseURL, "/"),
		op:      op,
		schema:  op.ArgumentsSchema(),
		client:  client,
	}
}

// Name returns the function name "<plugin>-<operationId>".
func (t *OpenAPITool) Name() string { return t.name }

// Description returns the operation summary/description.
func (t *OpenAPITool) Description() string { return t.op.Describe() }

// Parameters returns the flattened argument schema.
func (t *OpenAPITool) Parameters() map[string]any { return t.schema }

// Operation returns the underlying OpenAPI operation.
func (t *OpenAPITool) Operation() openapi.Operation { return t.op }

// Call issues the HTTP request for the operation.
//
// Error Semantics:
//
//	validation failure      -> *ToolError{Code: "VALIDATION_ERROR"}
//	transport failure       -> *ToolError{Code: "EXECUTION_ERROR"}
//	HTTP status >= 400      -> *ToolError{Code: "HTTP_<status>", Details: body}
func (t *OpenAPITool) Call(toolCtx *core.ToolContext, args map[string]any) (any, error) {
	logger := toolCtx.Logger()
	logger.Debug("tool.call.start", "tool", t.name, "fc_id", toolCtx.FunctionCallID())

	args = t.collectBody(args)
	if err := util.ValidateParameters(args, t.schema); err != nil {
		logger.Warn("tool.call.validation_failed", "tool", t.name, "error", err.Error())
		return nil, &ToolError{
			Tool:    t.name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	ctx := transport.WithHeaders(toolCtx.Context(), toolCtx.Headers())
	req, err := t.buildRequest(args)
	if err != nil {
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeValidation}
	}
	req = req.WithContext(ctx)

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		t.logCall(toolCtx, 0, time.Since(start), err)
		return nil, &ToolError{Tool: t.name, Message: err.Error(), Code: CodeExecution}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		t.logCall(toolCtx, resp.StatusCode, time.Since(start), err)
		return nil, &ToolError{Tool: t.name, Message: fmt.Sprintf("read response: %v", err), Code: CodeExecution}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		herr := fmt.Errorf("%s %s returned %s", t.op.Method, t.op.Path, resp.Status)
		t.logCall(toolCtx, resp.StatusCode, time.Since(start), herr)
		return nil, &ToolError{
			Tool:    t.name,
			Message: herr.Error(),
			Code:    HTTPStatusCode(resp.StatusCode),
			Details: string(body),
		}
	}

	t.logCall(toolCtx, resp.StatusCode, time.Since(start), nil)
	logger.Info("tool.call.success", "tool", t.name, "status", resp.StatusCode, "duration_ms", time.Since(start).Milliseconds())

	return string(body), nil
}

func (t *OpenAPITool) logCall(toolCtx *core.ToolContext, status int, dur time.Duration, err error) {
	if l, ok := toolCtx.Logger().(toolCallLogger); ok {
		l.LogToolCall(t.plugin, t.op.ID, t.op.Method, status, dur, err)
	}
}

// collectBody moves arguments that name no parameter into the "body"
// argument when the model passed the body fields flat. args is not modified.
func (t *OpenAPITool) collectBody(args map[string]any) map[string]any {
	if t.op.RequestBody == nil {
		return args
	}
	if _, ok := args[openapi.BodyArgument]; ok {
		return args
	}

	params := make(map[string]bool, len(t.op.Parameters))
	for _, p := range t.op.Parameters {
		params[p.Name] = true
	}

	out := make(map[string]any, len(args))
	rest := map[string]any{}
	for k, v := range args {
		if params[k] {
			out[k] = v
			continue
		}
		rest[k] = v
	}
	if len(rest) == 0 {
		return args
	}
	out[openapi.BodyArgument] = rest
	return out
}

func (t *OpenAPITool) buildRequest(args map[string]any) (*http.Request, error) {
	path := t.op.Path
	query := url.Values{}
	header := http.Header{}
	var cookies []*http.Cookie

	for _, p := range t.op.Parameters {
		v, ok := args[p.Name]
		if !ok || v == nil {
			continue
		}
		switch p.In {
		case "path":
			path = strings.ReplaceAll(path, "{"+p.Name+"}", url.PathEscape(formatValue(v)))
		case "query":
			if list, ok := v.([]any); ok {
				for _, item := range list {
					query.Add(p.Name, formatValue(item))
				}
				continue
			}
			query.Set(p.Name, formatValue(v))
		case "header":
			header.Set(p.Name, formatValue(v))
		case "cookie":
			cookies = append(cookies, &http.Cookie{Name: p.Name, Value: formatValue(v)})
		}
	}
	if strings.Contains(path, "{") {
		return nil, fmt.Errorf("unresolved path parameters in %s", path)
	}

	target := t.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	contentType := ""
	if rb := t.op.RequestBody; rb != nil {
		if payload := args[openapi.BodyArgument]; payload != nil {
			data, ct, err := encodeBody(rb.ContentType, payload)
			if err != nil {
				return nil, err
			}
			body = bytes.NewReader(data)
			contentType = ct
		} else if rb.Required {
			return nil, errors.New("request body is required")
		}
	}

	req, err := http.NewRequest(t.op.Method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, vs := range header {
		req.Header[k] = vs
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	return req, nil
}

func encodeBody(contentType string, payload any) ([]byte, string, error) {
	switch {
	case strings.Contains(contentType, "json"):
		data, err := json.Marshal(payload)
		return data, contentType, err
	case contentType == "application/x-www-form-urlencoded":
		m, ok := payload.(map[string]any)
		if !ok {
			return nil, "", errors.New("form body must be an object")
		}
		form := url.Values{}
		for k, v := range m {
			form.Set(k, formatValue(v))
		}
		return []byte(form.Encode()), contentType, nil
	default:
		if s, ok := payload.(string); ok {
			return []byte(s), contentType, nil
		}
		data, err := json.Marshal(payload)
		return data, "application/json", err
	}
}

// formatValue renders a decoded JSON scalar for URLs and headers. Whole
// numbers are printed without a fractional part.
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		if x == float64(int64(x)) {
			return strconv.FormatInt(int64(x), 10)
		}
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

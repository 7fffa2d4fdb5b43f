// Package assistants implements core.AgentService against an OpenAI
// Assistants v2 compatible endpoint, such as the Azure AI Agent Service or
// api.openai.com, using the openai-go beta API.
//
// A turn adds the user message to the thread, starts a run and polls it with
// exponential backoff. When the run requires action the requested function
// calls are executed locally through the turn's executor and their outputs
// submitted back; each such round is reported as a fragment. The assistant's
// messages are reported once the run completes.
package assistants

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// TokenSource supplies the bearer token for each request. *credential.Credential
// satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Options configure a Service.
type Options struct {
	// Endpoint is the service base URL. Empty uses api.openai.com.
	Endpoint string
	// APIVersion is sent as the api-version query parameter when set.
	APIVersion string
	// Credential supplies a fresh bearer token per request.
	Credential TokenSource
	// HTTPClient overrides the client used by the SDK.
	HTTPClient *http.Client
	// RequestOptions are appended to the client options.
	RequestOptions []option.RequestOption

	// PollInterval is the initial delay between run status checks.
	PollInterval time.Duration
	// MaxPollInterval caps the backoff between checks.
	MaxPollInterval time.Duration
	// RunTimeout bounds the polling of one run phase.
	RunTimeout time.Duration
	// MaxToolRounds bounds the tool rounds of a single turn.
	MaxToolRounds int

	Logger logging.Logger
}

// Service is a core.AgentService backed by the Assistants API.
type Service struct {
	client openai.Client
	opts   Options
}

var _ core.AgentService = (*Service)(nil)

// New creates a Service.
func New(optFns ...func(o *Options)) *Service {
	opts := Options{
		PollInterval:    500 * time.Millisecond,
		MaxPollInterval: 5 * time.Second,
		RunTimeout:      5 * time.Minute,
		MaxToolRounds:   8,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.Endpoint != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(strings.TrimRight(opts.Endpoint, "/")+"/"))
	}
	if opts.APIVersion != "" {
		clientOpts = append(clientOpts, option.WithQuery("api-version", opts.APIVersion))
	}
	if opts.HTTPClient != nil {
		clientOpts = append(clientOpts, option.WithHTTPClient(opts.HTTPClient))
	}
	if opts.Credential != nil {
		// The SDK insists on an API key; the middleware replaces it per request.
		clientOpts = append(clientOpts,
			option.WithAPIKey("unused"),
			option.WithMiddleware(bearerMiddleware(opts.Credential)),
		)
	}
	clientOpts = append(clientOpts, opts.RequestOptions...)

	return &Service{client: openai.NewClient(clientOpts...), opts: opts}
}

func bearerMiddleware(src TokenSource) option.Middleware {
	return func(req *http.Request, next option.MiddlewareNext) (*http.Response, error) {
		token, err := src.Token(req.Context())
		if err != nil {
			return nil, fmt.Errorf("acquire token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return next(req)
	}
}

// CreateAgent implements core.AgentService.
func (s *Service) CreateAgent(ctx context.Context, def core.AgentDefinition) (core.Agent, error) {
	params := openai.BetaAssistantNewParams{
		Model: openai.ChatModel(def.Model),
		Tools: toolParams(def.Tools),
	}
	if def.Name != "" {
		params.Name = openai.String(def.Name)
	}
	if def.Instructions != "" {
		params.Instructions = openai.String(def.Instructions)
	}

	a, err := s.client.Beta.Assistants.New(ctx, params)
	if err != nil {
		return core.Agent{}, fmt.Errorf("create assistant: %w", err)
	}

	return core.Agent{ID: a.ID, AgentDefinition: def}, nil
}

// UpdateAgent implements core.AgentService.
func (s *Service) UpdateAgent(ctx context.Context, agentID string, def core.AgentDefinition) (core.Agent, error) {
	params := openai.BetaAssistantUpdateParams{Tools: toolParams(def.Tools)}
	if def.Name != "" {
		params.Name = openai.String(def.Name)
	}
	if def.Instructions != "" {
		params.Instructions = openai.String(def.Instructions)
	}

	a, err := s.client.Beta.Assistants.Update(ctx, agentID, params)
	if err != nil {
		return core.Agent{}, fmt.Errorf("update assistant %s: %w", agentID, mapNotFound(err))
	}

	return core.Agent{ID: a.ID, AgentDefinition: def}, nil
}

// CreateThread implements core.AgentService.
func (s *Service) CreateThread(ctx context.Context) (string, error) {
	th, err := s.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	s.opts.Logger.Debug("assistants.thread.created", "thread_id", th.ID)
	return th.ID, nil
}

// DeleteThread implements core.AgentService.
func (s *Service) DeleteThread(ctx context.Context, threadID string) error {
	if _, err := s.client.Beta.Threads.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("delete thread %s: %w", threadID, mapNotFound(err))
	}
	return nil
}

// DeleteAgent implements core.AgentService.
func (s *Service) DeleteAgent(ctx context.Context, agentID string) error {
	if _, err := s.client.Beta.Assistants.Delete(ctx, agentID); err != nil {
		return fmt.Errorf("delete assistant %s: %w", agentID, mapNotFound(err))
	}
	return nil
}

// Invoke implements core.AgentService. A thread is created when req.ThreadID
// is empty; the message is posted and the run started on the first Next.
func (s *Service) Invoke(ctx context.Context, req core.InvokeRequest) (core.FragmentStream, error) {
	threadID := req.ThreadID
	if threadID == "" {
		var err error
		if threadID, err = s.CreateThread(ctx); err != nil {
			return nil, err
		}
	}

	r := &run{
		svc:      s,
		req:      req,
		threadID: threadID,
		author:   req.AgentID,
		limiter:  core.NewRoundLimiter(s.opts.MaxToolRounds),
	}

	return core.NewStream(ctx, r.step, r.close), nil
}

// run drives one turn.
type run struct {
	svc      *Service
	req      core.InvokeRequest
	threadID string
	author   string
	runID    string
	finished bool
	limiter  *core.RoundLimiter
}

var errRunPending = errors.New("run still in progress")

func (r *run) step(ctx context.Context) (core.Fragment, bool, error) {
	beta := r.svc.client.Beta.Threads

	if r.runID == "" {
		_, err := beta.Messages.New(ctx, r.threadID, openai.BetaThreadMessageNewParams{
			Role:    openai.BetaThreadMessageNewParamsRoleUser,
			Content: openai.BetaThreadMessageNewParamsContentUnion{OfString: openai.String(r.req.Message)},
		})
		if err != nil {
			return core.Fragment{}, false, fmt.Errorf("add message: %w", err)
		}

		started, err := beta.Runs.New(ctx, r.threadID, openai.BetaThreadRunNewParams{AssistantID: r.req.AgentID})
		if err != nil {
			return core.Fragment{}, false, fmt.Errorf("start run: %w", err)
		}
		r.runID = started.ID
		r.svc.opts.Logger.Debug("assistants.run.started", "thread_id", r.threadID, "run_id", r.runID)
	}

	current, err := r.await(ctx)
	if err != nil {
		return core.Fragment{}, false, err
	}

	switch current.Status {
	case openai.RunStatusRequiresAction:
		return r.toolRound(ctx, current)
	case openai.RunStatusCompleted:
		r.finished = true
		text, err := r.replies(ctx)
		if err != nil {
			return core.Fragment{}, false, err
		}
		frag := core.NewMessageFragment(r.author, r.threadID, text)
		frag.Final = true
		return frag, true, nil
	default:
		r.finished = true
		msg := string(current.Status)
		if current.LastError.Message != "" {
			msg += ": " + current.LastError.Message
		}
		return core.Fragment{}, false, fmt.Errorf("run %s ended with status %s", r.runID, msg)
	}
}

// await polls the run until it leaves the queued/in-progress states.
func (r *run) await(ctx context.Context) (*openai.Run, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.svc.opts.PollInterval
	b.MaxInterval = r.svc.opts.MaxPollInterval

	current, err := backoff.Retry(ctx, func() (*openai.Run, error) {
		got, err := r.svc.client.Beta.Threads.Runs.Get(ctx, r.threadID, r.runID)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("get run: %w", err))
		}
		switch got.Status {
		case openai.RunStatusQueued, openai.RunStatusInProgress, openai.RunStatusCancelling:
			return nil, errRunPending
		}
		return got, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(r.svc.opts.RunTimeout))
	if errors.Is(err, errRunPending) {
		return nil, fmt.Errorf("run %s did not finish within %s", r.runID, r.svc.opts.RunTimeout)
	}

	return current, err
}

func (r *run) toolRound(ctx context.Context, current *openai.Run) (core.Fragment, bool, error) {
	if err := r.limiter.Increment(); err != nil {
		return core.Fragment{}, false, err
	}
	if r.req.Tools == nil {
		return core.Fragment{}, false, errors.New("run requires tools but no executor was provided")
	}

	pending := current.RequiredAction.SubmitToolOutputs.ToolCalls
	calls := make([]core.FunctionCall, 0, len(pending))
	outputs := make([]openai.BetaThreadRunSubmitToolOutputsParamsToolOutput, 0, len(pending))

	for _, tc := range pending {
		call := core.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Arguments: tc.Function.Arguments}
		out, err := r.req.Tools.Execute(ctx, call)
		if err != nil {
			return core.Fragment{}, false, fmt.Errorf("execute %s: %w", call.Name, err)
		}
		calls = append(calls, call)
		outputs = append(outputs, openai.BetaThreadRunSubmitToolOutputsParamsToolOutput{
			ToolCallID: openai.String(tc.ID),
			Output:     openai.String(out),
		})
	}

	_, err := r.svc.client.Beta.Threads.Runs.SubmitToolOutputs(ctx, r.threadID, r.runID, openai.BetaThreadRunSubmitToolOutputsParams{
		ToolOutputs: outputs,
	})
	if err != nil {
		return core.Fragment{}, false, fmt.Errorf("submit tool outputs: %w", err)
	}

	r.svc.opts.Logger.Debug("assistants.tool_round.submitted", "run_id", r.runID, "calls", len(calls))

	return core.NewToolRoundFragment(r.author, r.threadID, calls), true, nil
}

// replies concatenates the text of the assistant messages the run produced.
func (r *run) replies(ctx context.Context) (string, error) {
	page, err := r.svc.client.Beta.Threads.Messages.List(ctx, r.threadID, openai.BetaThreadMessageListParams{
		RunID: openai.String(r.runID),
		Order: openai.BetaThreadMessageListParamsOrderAsc,
	})
	if err != nil {
		return "", fmt.Errorf("list messages: %w", err)
	}

	var parts []string
	for _, m := range page.Data {
		if string(m.Role) != "assistant" {
			continue
		}
		for _, c := range m.Content {
			if c.Type == "text" && c.Text.Value != "" {
				parts = append(parts, c.Text.Value)
			}
		}
	}

	return strings.Join(parts, "\n"), nil
}

// close cancels a run that was abandoned before it finished.
func (r *run) close() error {
	if r.runID == "" || r.finished {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := r.svc.client.Beta.Threads.Runs.Cancel(ctx, r.threadID, r.runID); err != nil {
		r.svc.opts.Logger.Warn("assistants.run.cancel_failed", "run_id", r.runID, "error", err.Error())
	}
	return nil
}

func toolParams(defs []core.ToolDefinition) []openai.AssistantToolUnionParam {
	tools := make([]openai.AssistantToolUnionParam, len(defs))
	for i, d := range defs {
		tools[i] = openai.AssistantToolUnionParam{
			OfFunction: &openai.FunctionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        d.Name,
					Description: openai.String(d.Description),
					Parameters:  d.Parameters,
				},
			},
		}
	}
	return tools
}

func mapNotFound(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %w", core.ErrNotFound, err)
	}
	return err
}

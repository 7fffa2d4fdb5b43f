package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/hupe1980/toolmesh/agent"
	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/credential"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/model"
	modelanthropic "github.com/hupe1980/toolmesh/model/anthropic"
	modelopenai "github.com/hupe1980/toolmesh/model/openai"
	"github.com/hupe1980/toolmesh/openapi"
	"github.com/hupe1980/toolmesh/service/assistants"
	"github.com/hupe1980/toolmesh/service/local"
	"github.com/hupe1980/toolmesh/transport"
)

// ServiceFactory builds the agent service for cfg. cred is nil for backends
// that need no service credential.
type ServiceFactory func(ctx context.Context, cfg *config.Config, cred *credential.Credential, logger logging.Logger) (core.AgentService, error)

// CredentialSource acquires the service credential. *credential.Chain
// implements it.
type CredentialSource interface {
	Acquire(ctx context.Context) (*credential.Credential, error)
}

// Options holds dependency and configuration overrides passed to New().
type Options struct {
	// Out receives the conversation transcript. Defaults to os.Stdout.
	Out io.Writer
	// ServiceFactory builds the agent service. Defaults to DefaultServiceFactory.
	ServiceFactory ServiceFactory
	// Credentials overrides the chain built from the credential configuration.
	Credentials CredentialSource
	// LookupEnv resolves token variables. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// ToolBase is the round tripper under every plugin transport. Nil gives
	// each transport its own pool.
	ToolBase http.RoundTripper
	// HTTPClient fetches remote API descriptions.
	HTTPClient *http.Client
	// Logging services.
	Logger logging.Logger
}

// Runner executes the configured conversation: it binds the plugin
// transports, loads the API descriptions, acquires the service credential,
// creates the agent, registers the tools, runs every turn and finally deletes
// the thread and the agent.
type Runner struct {
	cfg  *config.Config
	opts Options
}

// New constructs a Runner with optional overrides.
func New(cfg *config.Config, optFns ...func(o *Options)) *Runner {
	opts := Options{
		Out:            os.Stdout,
		ServiceFactory: DefaultServiceFactory,
		LookupEnv:      os.LookupEnv,
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Credentials == nil {
		opts.Credentials = credential.NewChain(func(o *credential.Options) {
			o.APIKeyEnv = cfg.Credential.APIKeyEnv
			o.TenantID = cfg.Credential.TenantID
			o.LookupEnv = opts.LookupEnv
			o.Logger = opts.Logger
			o.ExcludeAPIKeyCredential = cfg.Credential.ExcludeAPIKeyCredential
			o.ExcludeEnvironmentCredential = cfg.Credential.ExcludeEnvironmentCredential
			o.ExcludeWorkloadIdentityCredential = cfg.Credential.ExcludeWorkloadIdentityCredential
			o.ExcludeManagedIdentityCredential = cfg.Credential.ExcludeManagedIdentityCredential
			o.ExcludeAzureCLICredential = cfg.Credential.ExcludeAzureCLICredential
			o.ExcludeAzureDeveloperCLICredential = cfg.Credential.ExcludeAzureDeveloperCLICredential
		})
	}

	return &Runner{cfg: cfg, opts: opts}
}

type boundTool struct {
	cfg        config.ToolConfig
	transport  *transport.Transport
	descriptor *openapi.Descriptor
}

// Run executes the conversation. Cleanup runs whenever the agent was created,
// also when a turn fails or ctx is cancelled.
func (r *Runner) Run(ctx context.Context) (err error) {
	tools, overrideToken, err := r.bindTransports()
	defer func() {
		for _, bt := range tools {
			if bt.transport != nil {
				_ = bt.transport.Close()
			}
		}
	}()
	if err != nil {
		return err
	}

	if err = r.loadDescriptors(ctx, tools); err != nil {
		return err
	}

	var cred *credential.Credential
	if r.cfg.Backend == config.BackendAssistants {
		cred, err = r.opts.Credentials.Acquire(ctx)
		if err != nil {
			return err
		}
		defer cred.Close()
	}

	svc, err := r.opts.ServiceFactory(ctx, r.cfg, cred, r.opts.Logger)
	if err != nil {
		return err
	}

	session, err := agent.NewSession(ctx, svc, core.AgentDefinition{
		Model:        r.cfg.Agent.Model,
		Name:         r.cfg.Agent.Name,
		Instructions: r.cfg.Agent.Instructions,
	}, func(o *agent.Options) {
		o.Logger = r.opts.Logger
	})
	if err != nil {
		return err
	}
	r.printf("Created agent, ID: %s\n", session.AgentID())

	defer func() {
		closeErr := session.Close(context.WithoutCancel(ctx))
		r.printf("\nCleaned up agent and thread\n")
		err = errors.Join(err, closeErr)
	}()

	for _, bt := range tools {
		var toolOpts []func(o *agent.ToolOptions)
		if bt.transport != nil {
			toolOpts = append(toolOpts, agent.WithTransport(bt.transport))
		}
		if bt.cfg.HeaderOverride {
			toolOpts = append(toolOpts, agent.WithHeaderOverride())
		}
		if err = session.RegisterTool(bt.cfg.Name, bt.descriptor, toolOpts...); err != nil {
			return err
		}
		r.opts.Logger.Info("runner.tool.registered", "plugin", bt.cfg.Name, "operations", len(bt.descriptor.Operations), "authenticated", bt.transport != nil)
	}

	var headers http.Header
	if overrideToken != "" {
		headers = transport.BearerHeader(overrideToken)
	}

	var turnErrs []error
	for _, input := range r.cfg.Turns {
		if ctxErr := ctx.Err(); ctxErr != nil {
			turnErrs = append(turnErrs, ctxErr)
			break
		}
		if turnErr := r.turn(ctx, session, input, headers); turnErr != nil {
			turnErrs = append(turnErrs, turnErr)
			if !r.cfg.ContinueOnError {
				break
			}
			r.opts.Logger.Warn("runner.turn.failed", "error", turnErr)
		}
	}

	return errors.Join(turnErrs...)
}

func (r *Runner) turn(ctx context.Context, session *agent.Session, input string, headers http.Header) error {
	r.printf("# User: '%s'\n", input)

	stream, err := session.Invoke(ctx, input, agent.WithHeaders(headers))
	if err != nil {
		return err
	}
	defer stream.Close()

	for stream.Next() {
		f := stream.Current()
		if f.Text == "" {
			r.opts.Logger.Debug("runner.tool.round", "thread_id", f.ThreadID, "calls", len(f.FunctionCalls))
			continue
		}
		r.printf("# %s: %s\n", f.Author, f.Text)
	}

	return stream.Err()
}

// bindTransports resolves the bearer token of every plugin and the per-call
// override token. Nothing remote is touched before all of them resolve.
func (r *Runner) bindTransports() ([]*boundTool, string, error) {
	tools := make([]*boundTool, 0, len(r.cfg.Tools))
	for _, tc := range r.cfg.Tools {
		bt := &boundTool{cfg: tc}
		tools = append(tools, bt)
		if tc.TokenEnv == "" {
			continue
		}
		t, err := transport.New(transport.Config{
			Plugin:    tc.Name,
			TokenEnv:  tc.TokenEnv,
			LookupEnv: r.opts.LookupEnv,
			Base:      r.opts.ToolBase,
		})
		if err != nil {
			return tools, "", err
		}
		bt.transport = t
	}

	if env := r.cfg.HeaderOverrideTokenEnv; env != "" {
		v, ok := r.opts.LookupEnv(env)
		if !ok || strings.TrimSpace(v) == "" {
			return tools, "", &transport.MissingCredentialError{Env: env}
		}
		return tools, strings.TrimSpace(v), nil
	}

	return tools, "", nil
}

// loadDescriptors loads all descriptions concurrently. Tools with a base URL
// override are loaded on their own since the override is per document.
func (r *Runner) loadDescriptors(ctx context.Context, tools []*boundTool) error {
	var (
		shared  []string
		indexes []int
	)
	for i, bt := range tools {
		if bt.cfg.BaseURL != "" {
			continue
		}
		shared = append(shared, r.cfg.ToolSource(bt.cfg))
		indexes = append(indexes, i)
	}

	withClient := func(o *openapi.Options) { o.HTTPClient = r.opts.HTTPClient }

	descs, err := openapi.LoadAll(ctx, shared, withClient)
	if err != nil {
		return err
	}
	for j, d := range descs {
		tools[indexes[j]].descriptor = d
	}

	for _, bt := range tools {
		if bt.cfg.BaseURL == "" {
			continue
		}
		d, err := openapi.Load(ctx, r.cfg.ToolSource(bt.cfg), withClient, func(o *openapi.Options) {
			o.BaseURL = bt.cfg.BaseURL
		})
		if err != nil {
			return err
		}
		bt.descriptor = d
	}

	return nil
}

func (r *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.opts.Out, format, args...)
}

// DefaultServiceFactory builds the service selected by cfg.Backend.
func DefaultServiceFactory(_ context.Context, cfg *config.Config, cred *credential.Credential, logger logging.Logger) (core.AgentService, error) {
	switch cfg.Backend {
	case config.BackendAssistants:
		if cred == nil {
			return nil, fmt.Errorf("%w: backend %s needs a credential", core.ErrAuthUnavailable, cfg.Backend)
		}
		return assistants.New(func(o *assistants.Options) {
			o.Endpoint = cfg.Endpoint
			o.APIVersion = cfg.APIVersion
			o.Credential = cred
			o.MaxToolRounds = cfg.MaxToolRounds
			o.Logger = logger
		}), nil
	case config.BackendLocal:
		m, err := newModel(cfg)
		if err != nil {
			return nil, err
		}
		return local.New(m, func(o *local.Options) {
			o.Logger = logger
			o.MaxToolRounds = cfg.MaxToolRounds
			o.RotateThreads = cfg.RotateThreads
		}), nil
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend)
	}
}

func newModel(cfg *config.Config) (model.Model, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return modelopenai.NewModel(func(o *modelopenai.Options) {
			o.Model = cfg.Agent.Model
		}), nil
	case config.ProviderAnthropic:
		return modelanthropic.NewModel(func(o *modelanthropic.Options) {
			o.Model = anthropicsdk.Model(cfg.Agent.Model)
		}), nil
	case config.ProviderMock:
		return model.NewMockModel(cfg.Agent.Model), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", config.ErrInvalid, cfg.Provider)
	}
}

// ExitCode maps an error returned by Run to a process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, context.Canceled):
		return 130
	case errors.Is(err, core.ErrDuplicatePlugin), errors.Is(err, config.ErrInvalid):
		return 2
	case errors.Is(err, core.ErrMissingCredential), errors.Is(err, core.ErrAuthUnavailable):
		return 3
	case errors.Is(err, core.ErrSchemaParse):
		return 4
	case errors.Is(err, core.ErrAgentCreation):
		return 5
	case errors.Is(err, core.ErrInvocation):
		return 6
	default:
		return 1
	}
}

// Package credential acquires the bearer credential used to talk to the
// remote agent service. A Chain tries a fixed, ordered list of strategies
// (static API key, then the azidentity credential types) and keeps the first
// one that can actually issue a token.
package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/logging"
)

// DefaultScope is the token scope of the Azure AI agent service.
const DefaultScope = "https://ai.azure.com/.default"

// DefaultAPIKeyEnv is read by the api-key strategy.
const DefaultAPIKeyEnv = "AZURE_AI_AGENT_API_KEY"

// ErrCredentialClosed is returned by Token after Close.
var ErrCredentialClosed = errors.New("credential closed")

// Strategy is one way of obtaining a credential.
type Strategy interface {
	// Name identifies the strategy in logs and errors.
	Name() string
	// Acquire returns a credential able to issue tokens for scopes. It must
	// fail when no token can be obtained.
	Acquire(ctx context.Context, scopes []string) (*Credential, error)
}

// Attempt records why a strategy was skipped.
type Attempt struct {
	Strategy string
	Err      error
}

// AuthUnavailableError is returned when every strategy of a chain failed.
type AuthUnavailableError struct {
	Attempts []Attempt
}

func (e *AuthUnavailableError) Error() string {
	if len(e.Attempts) == 0 {
		return "no credential strategy configured"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	return "no credential available: " + strings.Join(parts, "; ")
}

// Unwrap returns core.ErrAuthUnavailable.
func (e *AuthUnavailableError) Unwrap() error { return core.ErrAuthUnavailable }

// Credential issues bearer tokens from an azcore.TokenCredential and caches
// them until shortly before they expire. Safe for concurrent use.
type Credential struct {
	strategy string
	source   azcore.TokenCredential
	scopes   []string
	margin   time.Duration
	now      func() time.Time

	mu     sync.Mutex
	cached azcore.AccessToken
	closed bool
}

// New wraps source. margin is how long before expiry a cached token is
// refreshed; zero means five minutes.
func New(strategy string, source azcore.TokenCredential, scopes []string, margin time.Duration) *Credential {
	if margin <= 0 {
		margin = 5 * time.Minute
	}
	return &Credential{
		strategy: strategy,
		source:   source,
		scopes:   append([]string(nil), scopes...),
		margin:   margin,
		now:      time.Now,
	}
}

// Strategy returns the name of the strategy that produced the credential.
func (c *Credential) Strategy() string { return c.strategy }

// Token returns a valid bearer token, fetching a new one when the cached
// token is missing or about to expire.
func (c *Credential) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return "", ErrCredentialClosed
	}
	if c.cached.Token != "" && c.now().Add(c.margin).Before(c.cached.ExpiresOn) {
		return c.cached.Token, nil
	}

	tok, err := c.source.GetToken(ctx, policy.TokenRequestOptions{Scopes: c.scopes})
	if err != nil {
		return "", fmt.Errorf("%s: get token: %w", c.strategy, err)
	}
	if tok.Token == "" {
		return "", fmt.Errorf("%s: empty token", c.strategy)
	}
	c.cached = tok

	return tok.Token, nil
}

// Close drops the cached token. Later Token calls fail with
// ErrCredentialClosed. Close is idempotent.
func (c *Credential) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	c.cached = azcore.AccessToken{}
	return nil
}

// Options configure the default chain.
type Options struct {
	ExcludeAPIKeyCredential            bool
	ExcludeEnvironmentCredential       bool
	ExcludeWorkloadIdentityCredential  bool
	ExcludeManagedIdentityCredential   bool
	ExcludeAzureCLICredential          bool
	ExcludeAzureDeveloperCLICredential bool

	// APIKeyEnv names the variable read by the api-key strategy.
	APIKeyEnv string
	// LookupEnv resolves APIKeyEnv. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// TenantID is passed to the CLI strategies when set.
	TenantID string
	// Scopes requested for every token. Defaults to DefaultScope.
	Scopes []string
	// RefreshMargin is handed to each Credential.
	RefreshMargin time.Duration
	Logger        logging.Logger
}

// Chain tries strategies in order and returns the first credential obtained.
type Chain struct {
	strategies []Strategy
	scopes     []string
	logger     logging.Logger
}

// NewChain builds the default chain: api-key, environment, workload identity,
// managed identity, Azure CLI, Azure Developer CLI. Each Exclude flag removes
// exactly one strategy.
func NewChain(optFns ...func(o *Options)) *Chain {
	opts := newOptions(optFns)
	return &Chain{strategies: DefaultStrategies(opts), scopes: opts.Scopes, logger: opts.Logger}
}

// NewChainWith builds a chain over explicit strategies.
func NewChainWith(strategies []Strategy, optFns ...func(o *Options)) *Chain {
	opts := newOptions(optFns)
	return &Chain{strategies: strategies, scopes: opts.Scopes, logger: opts.Logger}
}

func newOptions(optFns []func(o *Options)) Options {
	opts := Options{
		APIKeyEnv: DefaultAPIKeyEnv,
		LookupEnv: os.LookupEnv,
		Scopes:    []string{DefaultScope},
		Logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// Strategies returns the strategy names in the order they are tried.
func (c *Chain) Strategies() []string {
	names := make([]string, len(c.strategies))
	for i, s := range c.strategies {
		names[i] = s.Name()
	}
	return names
}

// Acquire returns the first credential a strategy can produce. When all fail
// the error is an *AuthUnavailableError listing every attempt.
func (c *Chain) Acquire(ctx context.Context) (*Credential, error) {
	var attempts []Attempt

	for _, s := range c.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cred, err := s.Acquire(ctx, c.scopes)
		if err != nil {
			c.logger.Debug("credential.strategy.skipped", "strategy", s.Name(), "error", err.Error())
			attempts = append(attempts, Attempt{Strategy: s.Name(), Err: err})
			continue
		}
		c.logger.Info("credential.acquired", "strategy", s.Name())
		return cred, nil
	}

	return nil, &AuthUnavailableError{Attempts: attempts}
}

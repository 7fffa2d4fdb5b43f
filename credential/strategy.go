package credential

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
)

// DefaultStrategies returns the strategies of the default chain honouring the
// Exclude flags of opts.
func DefaultStrategies(opts Options) []Strategy {
	var out []Strategy

	if !opts.ExcludeAPIKeyCredential {
		out = append(out, &APIKeyStrategy{Env: opts.APIKeyEnv, LookupEnv: opts.LookupEnv})
	}
	if !opts.ExcludeEnvironmentCredential {
		out = append(out, azureStrategy("environment", opts.RefreshMargin, func() (azcore.TokenCredential, error) {
			return azidentity.NewEnvironmentCredential(nil)
		}))
	}
	if !opts.ExcludeWorkloadIdentityCredential {
		out = append(out, azureStrategy("workload-identity", opts.RefreshMargin, func() (azcore.TokenCredential, error) {
			return azidentity.NewWorkloadIdentityCredential(nil)
		}))
	}
	if !opts.ExcludeManagedIdentityCredential {
		out = append(out, azureStrategy("managed-identity", opts.RefreshMargin, func() (azcore.TokenCredential, error) {
			return azidentity.NewManagedIdentityCredential(nil)
		}))
	}
	if !opts.ExcludeAzureCLICredential {
		tenant := opts.TenantID
		out = append(out, azureStrategy("azure-cli", opts.RefreshMargin, func() (azcore.TokenCredential, error) {
			return azidentity.NewAzureCLICredential(&azidentity.AzureCLICredentialOptions{TenantID: tenant})
		}))
	}
	if !opts.ExcludeAzureDeveloperCLICredential {
		tenant := opts.TenantID
		out = append(out, azureStrategy("azure-developer-cli", opts.RefreshMargin, func() (azcore.TokenCredential, error) {
			return azidentity.NewAzureDeveloperCLICredential(&azidentity.AzureDeveloperCLICredentialOptions{TenantID: tenant})
		}))
	}

	return out
}

// TokenStrategy probes an azcore.TokenCredential with one GetToken call.
type TokenStrategy struct {
	name    string
	margin  time.Duration
	newCred func() (azcore.TokenCredential, error)
}

func azureStrategy(name string, margin time.Duration, newCred func() (azcore.TokenCredential, error)) *TokenStrategy {
	return &TokenStrategy{name: name, margin: margin, newCred: newCred}
}

// NewTokenStrategy wraps an existing token credential.
func NewTokenStrategy(name string, cred azcore.TokenCredential) *TokenStrategy {
	return azureStrategy(name, 0, func() (azcore.TokenCredential, error) { return cred, nil })
}

// Name implements Strategy.
func (s *TokenStrategy) Name() string { return s.name }

// Acquire implements Strategy.
func (s *TokenStrategy) Acquire(ctx context.Context, scopes []string) (*Credential, error) {
	src, err := s.newCred()
	if err != nil {
		return nil, err
	}

	cred := New(s.name, src, scopes, s.margin)
	if _, err := cred.Token(ctx); err != nil {
		return nil, err
	}

	return cred, nil
}

// APIKeyStrategy uses a static key from the environment as bearer token.
type APIKeyStrategy struct {
	Env       string
	LookupEnv func(string) (string, bool)
}

// Name implements Strategy.
func (s *APIKeyStrategy) Name() string { return "api-key" }

// Acquire implements Strategy.
func (s *APIKeyStrategy) Acquire(ctx context.Context, scopes []string) (*Credential, error) {
	if s.Env == "" {
		return nil, errors.New("no environment variable configured")
	}
	lookup := s.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	key, ok := lookup(s.Env)
	key = strings.TrimSpace(key)
	if !ok || key == "" {
		return nil, fmt.Errorf("%s is not set", s.Env)
	}

	cred := New(s.Name(), StaticToken(key), scopes, 0)
	if _, err := cred.Token(ctx); err != nil {
		return nil, err
	}
	return cred, nil
}

// StaticToken is a TokenCredential returning a fixed, non-expiring token.
type StaticToken string

// GetToken implements azcore.TokenCredential.
func (t StaticToken) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	return azcore.AccessToken{
		Token:     string(t),
		ExpiresOn: time.Now().Add(24 * 365 * time.Hour),
	}, nil
}

// Package config loads the orchestrator configuration. Sources are applied in
// order: a .env file (optional), built-in defaults, an optional YAML file and
// finally environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/toolmesh/logging"
)

// ErrInvalid is wrapped by every validation and load error.
var ErrInvalid = errors.New("invalid configuration")

// Backends.
const (
	BackendAssistants = "assistants"
	BackendLocal      = "local"
)

// Providers of the local backend.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderMock      = "mock"
)

// DefaultInstructions is the agent instruction text used when none is configured.
const DefaultInstructions = "You are an AI assistant designed to answer user questions using only the information retrieved from the tools."

// AgentConfig describes the remote agent.
type AgentConfig struct {
	Name         string `yaml:"name"`
	Model        string `yaml:"model"`
	Instructions string `yaml:"instructions"`
}

// ToolConfig describes one API plugin.
type ToolConfig struct {
	// Name is the plugin name, unique per session.
	Name string `yaml:"name"`
	// Source is a file path (relative to ToolsDir) or an http(s) URL.
	Source string `yaml:"source"`
	// TokenEnv names the variable with the bearer token bound to the plugin.
	TokenEnv string `yaml:"token_env"`
	// HeaderOverride lets the per-call headers reach the plugin.
	HeaderOverride bool `yaml:"header_override"`
	// BaseURL overrides the document's server URL.
	BaseURL string `yaml:"base_url"`
}

// CredentialConfig mirrors credential.Options.
type CredentialConfig struct {
	APIKeyEnv                          string `yaml:"api_key_env"`
	TenantID                           string `yaml:"tenant_id"`
	ExcludeAPIKeyCredential            bool   `yaml:"exclude_api_key_credential"`
	ExcludeEnvironmentCredential       bool   `yaml:"exclude_environment_credential"`
	ExcludeWorkloadIdentityCredential  bool   `yaml:"exclude_workload_identity_credential"`
	ExcludeManagedIdentityCredential   bool   `yaml:"exclude_managed_identity_credential"`
	ExcludeAzureCLICredential          bool   `yaml:"exclude_azure_cli_credential"`
	ExcludeAzureDeveloperCLICredential bool   `yaml:"exclude_azure_developer_cli_credential"`
}

// LogConfig selects the log output.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the complete orchestrator configuration.
type Config struct {
	Backend    string `yaml:"backend"`
	Provider   string `yaml:"provider"`
	Endpoint   string `yaml:"endpoint"`
	APIVersion string `yaml:"api_version"`

	Agent      AgentConfig      `yaml:"agent"`
	Credential CredentialConfig `yaml:"credential"`
	Log        LogConfig        `yaml:"log"`

	ToolsDir string       `yaml:"tools_dir"`
	Tools    []ToolConfig `yaml:"tools"`
	// HeaderOverrideTokenEnv names the variable whose value is sent as
	// per-call "Authorization: Bearer" header. Empty disables it.
	HeaderOverrideTokenEnv string `yaml:"header_override_token_env"`

	Turns           []string `yaml:"turns"`
	ContinueOnError bool     `yaml:"continue_on_error"`
	RotateThreads   bool     `yaml:"rotate_threads"`
	MaxToolRounds   int      `yaml:"max_tool_rounds"`
}

// Default returns the built-in configuration: a public weather plugin, an
// electricity plugin bound to API_ACCESS_TOKEN and one scripted turn.
func Default() *Config {
	return &Config{
		Backend:    BackendAssistants,
		Provider:   ProviderOpenAI,
		APIVersion: "2025-05-01",
		Agent: AgentConfig{
			Name:         "SKMCPAIAgent",
			Model:        "gpt-4o",
			Instructions: DefaultInstructions,
		},
		Credential: CredentialConfig{
			APIKeyEnv:                        "AZURE_AI_AGENT_API_KEY",
			ExcludeEnvironmentCredential:     true,
			ExcludeManagedIdentityCredential: true,
		},
		Log:      LogConfig{Level: "info", Format: "text"},
		ToolsDir: ".",
		Tools: []ToolConfig{
			{Name: "WeatherPlugin", Source: "weather_openapi.json"},
			{Name: "ElectricityPlugin", Source: "electricity_openapi.json", TokenEnv: "API_ACCESS_TOKEN", HeaderOverride: true},
		},
		HeaderOverrideTokenEnv: "API_ACCESS_TOKEN",
		Turns:                  []string{"What was the electricity price in Copenhagen on 2025-01-01?"},
		MaxToolRounds:          8,
	}
}

// LoadOptions configure Load.
type LoadOptions struct {
	// EnvFile is loaded with godotenv before anything else. A missing file is
	// ignored. Empty disables it.
	EnvFile string
	// LookupEnv resolves environment overrides. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// Load builds the configuration. path may be empty.
func Load(path string, optFns ...func(o *LoadOptions)) (*Config, error) {
	opts := LoadOptions{EnvFile: ".env", LookupEnv: os.LookupEnv}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: load %s: %v", ErrInvalid, opts.EnvFile, err)
		}
	}

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
		if !filepath.IsAbs(cfg.ToolsDir) {
			cfg.ToolsDir = filepath.Join(filepath.Dir(path), cfg.ToolsDir)
		}
	}

	if err := cfg.applyEnv(opts.LookupEnv); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}

	str("TOOLMESH_BACKEND", &c.Backend)
	str("TOOLMESH_PROVIDER", &c.Provider)
	str("AZURE_AI_AGENT_ENDPOINT", &c.Endpoint)
	str("AZURE_AI_AGENT_API_VERSION", &c.APIVersion)
	str("AZURE_AI_AGENT_MODEL_DEPLOYMENT_NAME", &c.Agent.Model)
	str("AZURE_TENANT_ID", &c.Credential.TenantID)
	str("TOOLMESH_TOOLS_DIR", &c.ToolsDir)
	str("TOOLMESH_LOG_LEVEL", &c.Log.Level)
	str("TOOLMESH_LOG_FORMAT", &c.Log.Format)

	if v, ok := lookup("TOOLMESH_MAX_TOOL_ROUNDS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: TOOLMESH_MAX_TOOL_ROUNDS: %v", ErrInvalid, err)
		}
		c.MaxToolRounds = n
	}

	return nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendAssistants:
	case BackendLocal:
		switch c.Provider {
		case ProviderOpenAI, ProviderAnthropic, ProviderMock:
		default:
			errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if c.Agent.Name == "" {
		errs = append(errs, errors.New("agent name is required"))
	}
	if c.Agent.Model == "" {
		errs = append(errs, errors.New("agent model is required"))
	}

	seen := map[string]bool{}
	for i, t := range c.Tools {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: name is required", i))
		}
		if t.Source == "" {
			errs = append(errs, fmt.Errorf("tools[%d]: source is required", i))
		}
		if seen[t.Name] {
			errs = append(errs, fmt.Errorf("tools[%d]: duplicate name %q", i, t.Name))
		}
		seen[t.Name] = true
	}

	if len(c.Turns) == 0 {
		errs = append(errs, errors.New("at least one turn is required"))
	}
	if c.MaxToolRounds < 0 {
		errs = append(errs, errors.New("max_tool_rounds must not be negative"))
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Errorf("unknown log format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// ToolSource resolves t.Source against ToolsDir unless it is a URL or an
// absolute path.
func (c *Config) ToolSource(t ToolConfig) string {
	if strings.HasPrefix(t.Source, "http://") || strings.HasPrefix(t.Source, "https://") || filepath.IsAbs(t.Source) {
		return t.Source
	}
	return filepath.Join(c.ToolsDir, t.Source)
}

// Command toolmesh runs a scripted conversation with a hosted agent that can
// call authenticated HTTP APIs described by OpenAPI documents.
//
// Usage:
//
//	toolmesh [flags] [question ...]
//
// Flags:
//
//	-config string       Path to a YAML configuration file
//	-env-file string     Path to a .env file (default: .env)
//	-backend string      Agent backend: assistants, local
//	-provider string     Model provider of the local backend: openai, anthropic, mock
//	-log-level string    Log level: debug, info, warn, error
//	-log-format string   Log format: json, text
//	-continue-on-error   Keep running later questions after a failed one
//
// Questions given as arguments replace the configured turns. The process exit
// status tells the failure class apart, see runner.ExitCode.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hupe1980/toolmesh/config"
	"github.com/hupe1980/toolmesh/logging"
	"github.com/hupe1980/toolmesh/runner"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "toolmesh: %v\n", err)
		os.Exit(runner.ExitCode(err))
	}
}

func run() error {
	var (
		configPath      = flag.String("config", "", "Path to a YAML configuration file")
		envFile         = flag.String("env-file", ".env", "Path to a .env file")
		backend         = flag.String("backend", "", "Agent backend: assistants, local")
		provider        = flag.String("provider", "", "Model provider of the local backend: openai, anthropic, mock")
		logLevel        = flag.String("log-level", "", "Log level: debug, info, warn, error")
		logFormat       = flag.String("log-format", "", "Log format: json, text")
		continueOnError = flag.Bool("continue-on-error", false, "Keep running later questions after a failed one")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(*configPath, func(o *config.LoadOptions) {
		o.EnvFile = *envFile
	})
	if err != nil {
		return err
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&cfg.Backend, *backend)
	override(&cfg.Provider, *provider)
	override(&cfg.Log.Level, *logLevel)
	override(&cfg.Log.Format, *logFormat)
	if *continueOnError {
		cfg.ContinueOnError = true
	}
	if flag.NArg() > 0 {
		cfg.Turns = flag.Args()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:     level,
		Format:    cfg.Log.Format,
		Output:    os.Stderr,
		Component: "toolmesh",
	})

	return runner.New(cfg, func(o *runner.Options) {
		o.Logger = logger
	}).Run(ctx)
}

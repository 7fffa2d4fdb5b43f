// Package logging provides a minimal logging interface and adapters for toolmesh.
//
// The Logger interface defines the four levelled methods every component
// depends on. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - StructuredLogger, a configurable slog logger with component/context
//     attributes and helpers for tool calls and remote resource lifecycle
//   - NoOpLogger for silent operation (tests, library defaults)
//
// Usage:
//
//	logger := logging.NewLogger(&logging.LoggerConfig{Level: logging.LogLevelDebug, Format: "text", Output: os.Stderr})
//	sess, err := agent.NewSession(ctx, svc, def, func(o *agent.Options) { o.Logger = logger })
//
// Arguments after the message are slog key/value pairs.
package logging

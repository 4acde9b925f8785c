// Package logging provides a minimal logging interface and adapters for agentflow.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the engine, the generation loop and tools use for observability. This
// package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping an existing *slog.Logger
//   - StructuredLogger, a configurable slog based logger with component scoping
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng := engine.New(func(o *engine.Options) { o.Logger = logger })
//
// Messages are dotted event keys ("engine.stream_chat.start") followed by
// slog style key/value pairs.
package logging

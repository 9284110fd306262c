// Package logging provides a minimal logging interface and adapters for bankmesh.
//
// The Logger interface defines the leveled methods (Debug, Info, Warn, Error)
// that the runtime, graph, reconciler and stores use. Arguments after the
// message are slog-style key/value pairs. This package includes:
//
//   - Logger interface for dependency injection
//   - StructuredLogger with component, session and trace scoping
//   - NoOpLogger for silent operation (tests, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	eng, err := engine.New(store, reg, llm, func(o *engine.Options) { o.Logger = logger })
package logging

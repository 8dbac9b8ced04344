// Package logging provides a minimal logging interface and adapters for genrelay.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the engine, backend adapters and front-ends use for observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - RelayLogger with component scoped attributes
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	relay, err := genrelay.New(func(o *genrelay.Options) { o.Logger = logger })
//
// Arguments following the message are slog key/value pairs.
package logging

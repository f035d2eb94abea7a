// Package logging provides structured logging for the relay.
//
// It wraps log/slog so every component logs the same way:
//
//   - JSON output for production (machine-parsable)
//   - Text output for logfmt consumers
//   - Console output with coloured levels for local runs
//   - Default fields (service, version) on all log entries
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text, console
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("relay listening", "addr", addr)
//
// Never log credentials. Web login passwords in particular must not appear in
// any log entry.
package logging

// Package logging provides structured logging for medtwin.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service and version on every entry.
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Component("scheduler").Info("tick complete", "twins", n)
//
// Never log broker passwords, bearer tokens or the JWT secret.
package logging

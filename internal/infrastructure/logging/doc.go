// Package logging provides structured logging for Gray Audio Core.
//
// It wraps Go's standard log/slog package to provide consistent,
// structured logging across the application.
//
// # Configuration
//
// Logging is configured via the LoggingConfig section in config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("starting service", "port", 8090)
//	logger.Error("snapcast unreachable", "error", err)
package logging

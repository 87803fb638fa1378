// Package logging provides structured logging for mqttbridge.
//
// This package wraps Go's standard log/slog package so every component
// logs with the same handler, level and default fields.
//
// # Configuration
//
// Logging is configured via the logging section of mqttbridge.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// The -d flag on the command line forces the debug level.
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("action dispatched", "action", "sleep_some")
//	logger.Error("failed to connect", "error", err)
//
// Never log broker passwords.
package logging

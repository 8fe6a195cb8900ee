// Package logging provides structured logging for the irrigation core.
//
// It wraps log/slog so that every component emits entries with the same
// default fields (service, version) and honours the configured level.
//
// Configuration:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// Usage:
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("subscribed", "topic", "irrigacao/umidade")
//	logger.Error("reading payload rejected", "error", err)
//
// Attributes named password, secret, token or authorization are written as
// [REDACTED] at any group depth. Do not log credentials under other keys.
package logging

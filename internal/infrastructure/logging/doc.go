// Package logging provides structured logging for the device example.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the program.
//
// # Features
//
//   - Text output for interactive runs (default)
//   - JSON output for log collection
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "text"     # text, json
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("publishing", "topic", topic)
//	logger.Warn("connect failed, retrying", "retry_in", d, "error", err)
//
// # Security
//
// Never log the signed device token or private key material.
package logging

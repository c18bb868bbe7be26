// Package logging provides structured logging for the WebBLE bridge.
//
// It wraps log/slog so every component logs with the same handler,
// level filter and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	bleLog := logger.With("component", "ble")
//	bleLog.Info("selection started", "page_id", pageID)
//
// Never log page tokens, secrets, or radio-assigned peripheral identifiers
// alongside the external identifiers handed to pages.
package logging

// Package config loads and validates WebBLE bridge configuration.
//
// Configuration is read once at startup:
//
//  1. Defaults (defaultConfig)
//  2. YAML file (configs/config.yaml, or the path in WEBBLE_CONFIG / --config)
//  3. WEBBLE_* environment variables
//  4. Validate, which reports every problem found rather than the first
//
// Secrets (JWT secret, MQTT and Redis passwords, InfluxDB token) should be
// supplied through the environment, not committed to the YAML file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	timeout := cfg.GetScanTimeout()
package config

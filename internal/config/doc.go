// Package config provides 12-factor configuration management for the
// session sync daemon.
//
// Configuration is loaded from environment variables with sensible
// defaults; an optional YAML file can overlay the environment.
//
// Configuration Sections:
//   - Server: HTTP server settings (port, host)
//   - Remote: cloud sync API connection settings
//   - Cache: local snapshot cache directory
//   - Identity: auth token verification settings
//   - Engine: sync engine tuning knobs (debounce, timeouts)
//   - Logging: log level and output format
//   - RateLimit: per-IP rate limiting configuration
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Environment Variables:
//   - PORT, HOST
//   - REMOTE_BASE_URL, REMOTE_API_KEY, REMOTE_RETRY_MAX, REMOTE_ENABLED
//   - CACHE_DIR, JWT_SECRET
//   - CREATE_DEBOUNCE, REMOTE_TIMEOUT, FLUSH_TIMEOUT
//   - LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
package config

package config

import (
	"fmt"
	"net"
)

const (
	minBufferSize = 16
	maxBufferSize = 1 << 20
)

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	var warnings []Warning

	if cfg.Server.HandshakeTimeoutMS <= 0 {
		return nil, fmt.Errorf("server.handshake_timeout_ms must be > 0")
	}
	if cfg.Server.BufferSize < minBufferSize || cfg.Server.BufferSize > maxBufferSize {
		return nil, fmt.Errorf("server.buffer_size must be between %d and %d", minBufferSize, maxBufferSize)
	}
	if cfg.Client.ConnectRetries < 0 {
		return nil, fmt.Errorf("client.connect_retries must be >= 0")
	}
	if cfg.Client.ConnectIntervalMS <= 0 {
		return nil, fmt.Errorf("client.connect_interval_ms must be > 0")
	}
	if cfg.Client.Spawn && len(cfg.Client.SpawnCmd.Argv) == 0 {
		return nil, fmt.Errorf("client.spawn_cmd must not be empty when client.spawn=true")
	}
	if !logLevels[cfg.Log.Level] {
		return nil, fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	if cfg.Metrics.Listen != "" {
		if _, _, err := net.SplitHostPort(cfg.Metrics.Listen); err != nil {
			return nil, fmt.Errorf("metrics.listen must be host:port: %w", err)
		}
	}

	if cfg.Events.TimeoutMS <= 0 {
		return nil, fmt.Errorf("events.timeout_ms must be > 0")
	}

	if !cfg.Server.RequireNonce && !cfg.Server.RequireSameUID {
		warnings = append(warnings, Warning{Message: "server accepts any local peer: both require_nonce and require_same_uid are off"})
	}
	if cfg.Client.Spawn && cfg.Client.ConnectRetries == 0 {
		warnings = append(warnings, Warning{Message: "client.spawn is enabled but connect_retries=0 leaves no time for the server to start"})
	}
	return warnings, nil
}

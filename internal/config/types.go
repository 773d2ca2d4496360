// Package config resolves, parses, validates, and defaults uiserver configuration.
package config

import "time"

// Config is the fully materialized runtime configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Client  ClientConfig  `toml:"client"`
	Log     LogConfig     `toml:"log"`
	Metrics MetricsConfig `toml:"metrics"`
	Events  EventsConfig  `toml:"events"`
}

// ServerConfig controls the listening side.
type ServerConfig struct {
	// Socket overrides endpoint resolution for both server and client.
	Socket               string `toml:"socket"`
	RequireNonce         bool   `toml:"require_nonce"`
	RequireSameUID       bool   `toml:"require_same_uid"`
	EnableCryptoCommands bool   `toml:"enable_crypto_commands"`
	HandshakeTimeoutMS   int    `toml:"handshake_timeout_ms"`
	BufferSize           int    `toml:"buffer_size"`
}

func (s ServerConfig) HandshakeTimeout() time.Duration {
	return time.Duration(s.HandshakeTimeoutMS) * time.Millisecond
}

// ClientConfig controls how send reaches, and if needed starts, a server.
type ClientConfig struct {
	ConnectRetries    int           `toml:"connect_retries"`
	ConnectIntervalMS int           `toml:"connect_interval_ms"`
	SpawnCmd          CommandConfig `toml:"spawn_cmd"`
	Spawn             bool          `toml:"spawn"`
}

func (c ClientConfig) ConnectInterval() time.Duration {
	return time.Duration(c.ConnectIntervalMS) * time.Millisecond
}

// SpawnArgv is the argv to start when no server answers, or nil when
// spawning is disabled.
func (c ClientConfig) SpawnArgv() []string {
	if !c.Spawn {
		return nil
	}
	return append([]string(nil), c.SpawnCmd.Argv...)
}

type LogConfig struct {
	Level string `toml:"level"`
}

type MetricsConfig struct {
	// Listen is a host:port for the /metrics endpoint; empty disables it.
	Listen string `toml:"listen"`
}

// EventsConfig names helper programs run by serve for UI requests.
type EventsConfig struct {
	KeyManagerCmd CommandConfig `toml:"keymanager_cmd"`
	ConfDialogCmd CommandConfig `toml:"confdialog_cmd"`
	TimeoutMS     int           `toml:"timeout_ms"`
}

func (e EventsConfig) Timeout() time.Duration {
	return time.Duration(e.TimeoutMS) * time.Millisecond
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// UnmarshalText lets TOML strings decode straight into a split command.
func (c *CommandConfig) UnmarshalText(text []byte) error {
	argv, err := SplitCommand(string(text))
	if err != nil {
		return err
	}
	c.Raw = string(text)
	c.Argv = argv
	return nil
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

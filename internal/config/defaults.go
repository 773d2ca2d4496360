package config

const defaultSpawnCmd = "uiserver serve"

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			RequireSameUID:       true,
			EnableCryptoCommands: true,
			HandshakeTimeoutMS:   2000,
			BufferSize:           4096,
		},
		Client: ClientConfig{
			ConnectRetries:    20,
			ConnectIntervalMS: 500,
			SpawnCmd:          CommandConfig{Raw: defaultSpawnCmd, Argv: mustSplitCommand(defaultSpawnCmd)},
			Spawn:             true,
		},
		Log:    LogConfig{Level: "info"},
		Events: EventsConfig{TimeoutMS: 10000},
	}
}

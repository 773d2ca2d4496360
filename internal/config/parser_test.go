package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseEmptyKeepsDefaults(t *testing.T) {
	cfg, warnings, err := Parse("", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Empty(t, warnings)
}

func TestParseOverlaysSections(t *testing.T) {
	input := `
[server]
enable_crypto_commands = false
handshake_timeout_ms = 750
buffer_size = 8192

[client]
connect_retries = 3
connect_interval_ms = 100
spawn = false

[log]
level = "DEBUG"

[metrics]
listen = "127.0.0.1:9464"

[events]
keymanager_cmd = "kleopatra --keymanager"
timeout_ms = 2500
`
	cfg, warnings, err := Parse(input, Default())
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.False(t, cfg.Server.EnableCryptoCommands)
	require.Equal(t, 750*time.Millisecond, cfg.Server.HandshakeTimeout())
	require.Equal(t, 8192, cfg.Server.BufferSize)
	require.Equal(t, 3, cfg.Client.ConnectRetries)
	require.Equal(t, 100*time.Millisecond, cfg.Client.ConnectInterval())
	require.Nil(t, cfg.Client.SpawnArgv())
	require.Equal(t, "uiserver serve", cfg.Client.SpawnCmd.Raw)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "127.0.0.1:9464", cfg.Metrics.Listen)
	require.Equal(t, []string{"kleopatra", "--keymanager"}, cfg.Events.KeyManagerCmd.Argv)
	require.Empty(t, cfg.Events.ConfDialogCmd.Argv)
	require.Equal(t, 2500*time.Millisecond, cfg.Events.Timeout())
}

func TestParseUnknownKeysWarn(t *testing.T) {
	cfg, warnings, err := Parse("[server]\nsokcet = \"/tmp/x\"\n", Default())
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0].Message, "server.sokcet")
}

func TestParseSyntaxErrorReportsLine(t *testing.T) {
	_, _, err := Parse("[log]\nlevel = @debug\n", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "line 2")
}

func TestParseBadSpawnCommand(t *testing.T) {
	_, _, err := Parse("[client]\nspawn_cmd = 'uiserver \"serve'\n", Default())
	require.Error(t, err)
	require.Contains(t, err.Error(), "unterminated quote")
}

func TestParseWrongType(t *testing.T) {
	_, _, err := Parse("[server]\nbuffer_size = \"big\"\n", Default())
	require.Error(t, err)
}

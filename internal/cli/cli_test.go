package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) (Parsed, string, error) {
	t.Helper()
	var out bytes.Buffer
	parsed, err := Parse(args, &out, &out)
	return parsed, out.String(), err
}

func TestParseDefaultsToHelp(t *testing.T) {
	parsed, out, err := parse(t)
	require.NoError(t, err)
	require.True(t, parsed.Handled)
	require.Contains(t, out, "Usage:")
	require.Contains(t, out, "send")
}

func TestParseHelpFlag(t *testing.T) {
	parsed, out, err := parse(t, "send", "--help")
	require.NoError(t, err)
	require.True(t, parsed.Handled)
	require.Contains(t, out, "--inquire-file")
}

func TestParseCommandWithConfig(t *testing.T) {
	parsed, _, err := parse(t, "--config", "/tmp/uiserver.toml", "doctor")
	require.NoError(t, err)
	require.Equal(t, CommandDoctor, parsed.Command)
	require.Equal(t, "/tmp/uiserver.toml", parsed.ConfigPath)
	require.False(t, parsed.Handled)
}

func TestParseArgMatrix(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		wantCmd Command
	}{
		{name: "serve", args: []string{"serve"}, wantCmd: CommandServe},
		{name: "status with socket", args: []string{"status", "--socket", "/tmp/S.uiserver"}, wantCmd: CommandStatus},
		{name: "version", args: []string{"version"}, wantCmd: CommandVersion},
		{name: "send without verb", args: []string{"send"}, wantCmd: CommandSend},
		{name: "unknown command", args: []string{"explode"}, wantErr: "unknown command"},
		{name: "unknown flag", args: []string{"serve", "--bogus"}, wantErr: "unknown flag"},
		{name: "serve extra args", args: []string{"serve", "now"}, wantErr: "unknown command"},
		{name: "send two verbs", args: []string{"send", "A", "B"}, wantErr: "accepts at most 1 arg"},
		{name: "config missing value", args: []string{"doctor", "--config"}, wantErr: "needs an argument"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			parsed, _, err := parse(t, tc.args...)
			if tc.wantErr != "" {
				require.Error(t, err)
				require.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantCmd, parsed.Command)
		})
	}
}

func TestParseSendFlags(t *testing.T) {
	parsed, _, err := parse(t, "send",
		"--option", "mode=detached",
		"--option", "armor",
		"--critical-option", "checksum-algo=sha1",
		"--file", "/tmp/a", "--file", "/tmp/b",
		"--sender", "alice@example.org",
		"--recipient", "bob@example.org",
		"--informative-recipients",
		"--inquire", "PASSPHRASE=a=b",
		"--inquire-file", "KEYDATA=/tmp/key.asc",
		"--window-id", "0x1F",
		"CHECKSUM_CREATE_FILES",
	)
	require.NoError(t, err)
	require.Equal(t, CommandSend, parsed.Command)

	send := parsed.Send
	require.Equal(t, "CHECKSUM_CREATE_FILES", send.Verb)
	require.Equal(t, []Option{
		{Name: "mode", Value: "detached", HasValue: true},
		{Name: "armor"},
		{Name: "checksum-algo", Value: "sha1", HasValue: true, Critical: true},
	}, send.Options)
	require.Equal(t, []string{"/tmp/a", "/tmp/b"}, send.Files)
	require.Equal(t, []string{"alice@example.org"}, send.Senders)
	require.Equal(t, []string{"bob@example.org"}, send.Recipients)
	require.False(t, send.InformativeSenders)
	require.True(t, send.InformativeRecipients)
	require.Equal(t, []Inquire{
		{Name: "PASSPHRASE", Value: "a=b"},
		{Name: "KEYDATA", Value: "/tmp/key.asc", FromFile: true},
	}, send.Inquiries)
	require.True(t, send.HasWindowID)
	require.Equal(t, uint64(0x1f), send.WindowID)
}

func TestParseSendRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "empty option", args: []string{"send", "--option", "=x"}, wantErr: "invalid option"},
		{name: "inquire without value", args: []string{"send", "--inquire", "PASSPHRASE"}, wantErr: "--inquire expects"},
		{name: "inquire file without name", args: []string{"send", "--inquire-file", "=/tmp/x"}, wantErr: "--inquire-file expects"},
		{name: "window id not hex", args: []string{"send", "--window-id", "zz"}, wantErr: "hexadecimal"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := parse(t, tc.args...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestHelpTextListsCommands(t *testing.T) {
	text := HelpText()
	for _, name := range []string{"serve", "send", "status", "doctor", "version", "--config"} {
		require.Contains(t, text, name)
	}
}

package client

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/uiserver/internal/assuan"
	"github.com/rbright/uiserver/internal/ipc"
	"github.com/rbright/uiserver/internal/uiserver"
)

func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "uic")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, ipc.SocketName)
}

type fixture struct {
	server  *uiserver.Server
	release chan struct{}
}

func startServer(t *testing.T, opts uiserver.Options) *fixture {
	t.Helper()
	f := &fixture{release: make(chan struct{})}

	registry := uiserver.DefaultRegistry()
	require.NoError(t, registry.Register(uiserver.Command{
		Name: "DESCRIBE",
		Run: func(_ context.Context, s *uiserver.Session) error {
			var parts []string
			for name, value := range s.Options() {
				parts = append(parts, name+"="+value)
			}
			sort.Strings(parts)
			parts = append(parts, s.Files()...)
			for _, m := range s.Senders() {
				parts = append(parts, fmt.Sprintf("sender:%s:%t", m.Address, m.Informative))
			}
			for _, m := range s.Recipients() {
				parts = append(parts, fmt.Sprintf("recipient:%s:%t", m.Address, m.Informative))
			}
			return s.SendData([]byte(strings.Join(parts, "|")))
		},
	}))
	require.NoError(t, registry.Register(uiserver.Command{
		Name: "ASK",
		Run: func(ctx context.Context, s *uiserver.Session) error {
			answer, err := s.Inquire(ctx, "PASSPHRASE")
			if err != nil {
				return err
			}
			return s.SendData([]byte(fmt.Sprintf("%d:%s", len(answer), answer)))
		},
	}))
	require.NoError(t, registry.Register(uiserver.Command{
		Name: "DECLINE",
		Run: func(context.Context, *uiserver.Session) error {
			return assuan.ErrCanceled
		},
	}))
	require.NoError(t, registry.Register(uiserver.Command{
		Name: "HANG",
		Run: func(context.Context, *uiserver.Session) error {
			<-f.release
			return nil
		},
	}))

	if opts.SocketPath == "" {
		opts.SocketPath = socketPath(t)
	}
	opts.Version = "test"
	opts.OptionFilter = func(name, _ string) error {
		if strings.HasPrefix(name, "bad-") {
			return assuan.Errorf(assuan.CodeInvalidValue, "option %s rejected", name)
		}
		return nil
	}

	f.server = uiserver.New(opts, registry)
	require.NoError(t, f.server.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		require.NoError(t, f.server.Shutdown(ctx))
	})
	// Registered after Shutdown so it runs first.
	t.Cleanup(func() { close(f.release) })
	return f
}

func newCommand(f *fixture, verb string) *Command {
	c := New(Options{})
	c.SetServerLocation(f.server.SocketName())
	c.SetCommand(verb)
	return c
}

func TestCommandEmptyVerbStopsAfterPID(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "")

	require.NoError(t, c.Run(context.Background()))
	require.False(t, c.Error(), c.ErrorString())
	require.False(t, c.WasCanceled())
	require.Equal(t, os.Getpid(), c.ServerPID())
	require.Equal(t, f.server.SocketName(), c.ServerLocation())
	require.Empty(t, c.ReceivedData())
}

func TestCommandSendsStateInOrder(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "DESCRIBE")
	c.SetOptionValue("mode", "sign", false)
	c.SetOption("detached", false)
	c.SetFilePaths([]string{"/tmp/a b.txt", "/tmp/c%d"})
	c.SetSenders([]string{"alice@example.org"}, true)
	c.SetRecipients([]string{"-bob@example.org"}, false)

	require.NoError(t, c.Run(context.Background()))
	require.False(t, c.Error(), c.ErrorString())
	require.Equal(t,
		"detached=|mode=sign|/tmp/a b.txt|/tmp/c%d|sender:alice@example.org:true|recipient:-bob@example.org:false",
		string(c.ReceivedData()))
}

func TestCommandNonCriticalOptionFailureIgnored(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "DESCRIBE")
	c.SetOptionValue("bad-opt", "1", false)
	c.SetOptionValue("mode", "x", false)

	require.NoError(t, c.Run(context.Background()))
	require.False(t, c.Error(), c.ErrorString())
	require.Equal(t, "mode=x", string(c.ReceivedData()))
}

func TestCommandCriticalOptionFailureAborts(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "DESCRIBE")
	c.SetOptionValue("bad-opt", "1", true)

	require.NoError(t, c.Run(context.Background()))
	require.True(t, c.Error())
	require.Contains(t, c.ErrorString(), "option bad-opt rejected")
	require.False(t, c.WasCanceled())
	require.Empty(t, c.ReceivedData())
}

func TestCommandInquireAnswers(t *testing.T) {
	f := startServer(t, uiserver.Options{})

	c := newCommand(f, "ASK")
	c.SetInquireData("PASSPHRASE", []byte("s3cret\nline"))
	require.NoError(t, c.Run(context.Background()))
	require.False(t, c.Error(), c.ErrorString())
	require.Equal(t, "11:s3cret\nline", string(c.ReceivedData()))

	c.UnsetInquireData("PASSPHRASE")
	require.NoError(t, c.Run(context.Background()))
	require.False(t, c.Error(), c.ErrorString())
	require.Equal(t, "0:", string(c.ReceivedData()))
}

func TestCommandServerCancelIsNotAnError(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "DECLINE")

	require.NoError(t, c.Run(context.Background()))
	require.True(t, c.WasCanceled())
	require.False(t, c.Error())
	require.Empty(t, c.ErrorString())
}

func TestCommandUnknownVerb(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "NO_SUCH_THING")

	require.NoError(t, c.Run(context.Background()))
	require.True(t, c.Error())
	require.Contains(t, c.ErrorString(), "275")
}

func TestCommandCancelWhileRunning(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "HANG")

	require.NoError(t, c.Start(context.Background()))
	require.ErrorIs(t, c.Start(context.Background()), ErrRunning)
	require.False(t, c.WaitTimeout(50*time.Millisecond))

	c.Cancel()
	require.True(t, c.WaitTimeout(5*time.Second))
	require.True(t, c.WasCanceled())
	require.False(t, c.Error(), c.ErrorString())
}

func TestCommandNoServer(t *testing.T) {
	c := New(Options{})
	c.SetServerLocation(socketPath(t))
	c.SetCommand("NOP")

	require.NoError(t, c.Run(context.Background()))
	require.True(t, c.Error())
	require.Contains(t, c.ErrorString(), "connect to server")
	require.Zero(t, c.ServerPID())
}

func TestCommandSpawnsServerOnce(t *testing.T) {
	path := socketPath(t)
	marker := filepath.Join(filepath.Dir(path), "spawned")

	c := New(Options{
		ConnectRetries:  2,
		ConnectInterval: 10 * time.Millisecond,
		Spawn:           []string{"sh", "-c", "echo $UISERVER_TEST_MARK >> " + marker},
		SpawnEnv:        []string{"UISERVER_TEST_MARK=x"},
	})
	c.SetServerLocation(path)
	c.SetCommand("NOP")

	require.NoError(t, c.Run(context.Background()))
	require.True(t, c.Error())

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(marker)
		return err == nil && string(data) == "x\n"
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCommandSendsNonce(t *testing.T) {
	f := startServer(t, uiserver.Options{RequireNonce: true})
	c := newCommand(f, "")

	require.NoError(t, c.Run(context.Background()))
	require.False(t, c.Error(), c.ErrorString())
	require.Equal(t, os.Getpid(), c.ServerPID())
}

func TestCommandResolvesEnvironmentLocation(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	t.Setenv("UISERVER_SOCKET", f.server.SocketName())

	c := New(Options{})
	require.NoError(t, c.Run(context.Background()))
	require.False(t, c.Error(), c.ErrorString())
	require.Equal(t, f.server.SocketName(), c.ServerLocation())
}

func TestCommandParentWindowOption(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "DESCRIBE")
	c.SetParentWindowID(0xbeef)

	require.NoError(t, c.Run(context.Background()))
	require.False(t, c.Error(), c.ErrorString())
	require.Equal(t, "window-id=beef", string(c.ReceivedData()))
}

func TestCommandAccessors(t *testing.T) {
	c := New(Options{})
	c.SetCommand("SIGN")
	require.Equal(t, "SIGN", c.CommandVerb())

	c.SetOptionValue("mode", "detached", true)
	c.SetOption("armor", false)
	require.True(t, c.IsOptionSet("mode"))
	require.True(t, c.IsOptionCritical("mode"))
	require.False(t, c.IsOptionCritical("armor"))

	value, ok := c.OptionValue("mode")
	require.True(t, ok)
	require.Equal(t, "detached", value)
	_, ok = c.OptionValue("armor")
	require.False(t, ok)

	c.UnsetOption("mode")
	require.False(t, c.IsOptionSet("mode"))

	paths := []string{"a"}
	c.SetFilePaths(paths)
	paths[0] = "changed"
	require.Equal(t, []string{"a"}, c.FilePaths())

	c.SetSenders([]string{"s"}, false)
	c.SetRecipients([]string{"r"}, true)
	require.Equal(t, []string{"s"}, c.Senders())
	require.Equal(t, []string{"r"}, c.Recipients())

	require.False(t, c.IsInquireDataSet("K"))
	c.SetInquireData("K", []byte("v"))
	require.True(t, c.IsInquireDataSet("K"))
	require.Equal(t, []byte("v"), c.InquireData("K"))

	// Finished is closed before the first run.
	select {
	case <-c.Finished():
	default:
		t.Fatal("idle command should report finished")
	}
	require.True(t, c.WaitTimeout(time.Millisecond))
	c.Cancel()
	require.False(t, c.WasCanceled())
}

func TestOptionsDefaultRetries(t *testing.T) {
	opts := Options{}
	opts.setDefaults()
	require.Equal(t, DefaultConnectRetries, opts.ConnectRetries)
	require.Equal(t, DefaultConnectInterval, opts.ConnectInterval)

	opts = Options{ConnectRetries: -1}
	opts.setDefaults()
	require.Zero(t, opts.ConnectRetries)
}

func TestWaitTimeoutZeroAfterFinish(t *testing.T) {
	f := startServer(t, uiserver.Options{})
	c := newCommand(f, "")
	require.NoError(t, c.Run(context.Background()))

	for range 100 {
		require.True(t, c.WaitTimeout(0))
	}
}

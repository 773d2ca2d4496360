package assuan

import (
	"bytes"
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newPipePair(t *testing.T) (*Conn, *ServerConn) {
	t.Helper()
	clientSide, serverSide := net.Pipe()
	t.Cleanup(func() {
		_ = clientSide.Close()
		_ = serverSide.Close()
	})
	return NewConn(clientSide), NewServerConn(serverSide, serverSide)
}

func runServer(t *testing.T, fn func() error) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- fn() }()
	return done
}

func TestTransactAnswersInquireAndCollectsData(t *testing.T) {
	client, server := newPipePair(t)
	big := bytes.Repeat([]byte("%\n"), 800)

	done := runServer(t, func() error {
		if err := server.OK("Pleased to meet you, process 42"); err != nil {
			return err
		}
		line, err := server.ReadLine()
		if err != nil {
			return err
		}
		if line != "SIGN_ENCRYPT" {
			return errors.New("unexpected command " + line)
		}
		secret, err := server.Inquire(context.Background(), "passphrase")
		if err != nil {
			return err
		}
		if err := server.Status("PROGRESS", "1 2"); err != nil {
			return err
		}
		if err := server.Data(append(secret, big...)); err != nil {
			return err
		}
		return server.OK("")
	})

	greeting, err := client.ReadGreeting()
	require.NoError(t, err)
	require.Equal(t, "Pleased to meet you, process 42", greeting)

	var (
		received []byte
		statuses []string
	)
	err = client.Transact(context.Background(), "SIGN_ENCRYPT", Handlers{
		Data: func(p []byte) error {
			received = append(received, p...)
			return nil
		},
		Status: func(keyword, args string) {
			statuses = append(statuses, keyword+":"+args)
		},
		Inquire: func(_ context.Context, keyword string) ([]byte, error) {
			require.Equal(t, "passphrase", keyword)
			return []byte("s3cr%t\r\n"), nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Equal(t, append([]byte("s3cr%t\r\n"), big...), received)
	require.Equal(t, []string{"PROGRESS:1 2"}, statuses)
}

func TestInquireWithoutHandlerAnswersEmpty(t *testing.T) {
	client, server := newPipePair(t)

	got := make(chan []byte, 1)
	done := runServer(t, func() error {
		if _, err := server.ReadLine(); err != nil {
			return err
		}
		data, err := server.Inquire(context.Background(), "passphrase")
		if err != nil {
			return err
		}
		got <- data
		return server.OK("")
	})

	require.NoError(t, client.Transact(context.Background(), "DECRYPT", Handlers{}))
	require.NoError(t, <-done)
	data := <-got
	require.NotNil(t, data)
	require.Empty(t, data)
}

func TestTransactReturnsServerError(t *testing.T) {
	client, server := newPipePair(t)

	done := runServer(t, func() error {
		if _, err := server.ReadLine(); err != nil {
			return err
		}
		return server.Err(NewError(CodeUnknownCommand))
	})

	err := client.Transact(context.Background(), "FROB", Handlers{})
	require.NoError(t, <-done)

	var protoErr *Error
	require.ErrorAs(t, err, &protoErr)
	require.Equal(t, CodeUnknownCommand, protoErr.Code)
	require.Equal(t, "Unknown IPC command", protoErr.Message)
	require.False(t, IsCanceled(err))
}

func TestCanceledInquireIsReportedAsCanceled(t *testing.T) {
	client, server := newPipePair(t)

	done := runServer(t, func() error {
		if _, err := server.ReadLine(); err != nil {
			return err
		}
		_, err := server.Inquire(context.Background(), "passphrase")
		if !IsCanceled(err) {
			return errors.New("expected canceled inquire")
		}
		return server.Err(err)
	})

	err := client.Transact(context.Background(), "DECRYPT", Handlers{
		Inquire: func(context.Context, string) ([]byte, error) { return nil, ErrCanceled },
	})
	require.NoError(t, <-done)
	require.True(t, IsCanceled(err))
}

func TestInquireRejectsUnexpectedLine(t *testing.T) {
	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	server := NewServerConn(serverSide, serverSide)

	go func() {
		buf := make([]byte, 64)
		_, _ = clientSide.Read(buf)
		_, _ = clientSide.Write([]byte("BOGUS\n"))
	}()

	_, err := server.Inquire(context.Background(), "passphrase")
	require.ErrorIs(t, err, ErrProtocol)
	require.True(t, IsProtocolError(err))
	_ = serverSide.Close()
}

func TestTransactHonoursContext(t *testing.T) {
	client, server := newPipePair(t)

	go func() { _, _ = server.ReadLine() }()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.Transact(ctx, "WAIT_FOREVER", Handlers{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadGreetingRejectsGarbage(t *testing.T) {
	client, server := newPipePair(t)
	go func() { _ = server.writeLine("HELLO") }()

	_, err := client.ReadGreeting()
	require.ErrorIs(t, err, ErrProtocol)
}

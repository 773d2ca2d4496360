package uiserver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/uiserver/internal/assuan"
)

func sha256Hex(data string) string {
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

type statusLog struct {
	lines []string
}

func (l *statusLog) handlers(data *[]byte) assuan.Handlers {
	return assuan.Handlers{
		Data: func(p []byte) error {
			*data = append(*data, p...)
			return nil
		},
		Status: func(keyword, args string) {
			decoded, _ := assuan.Decode(args)
			l.lines = append(l.lines, keyword+" "+decoded)
		},
	}
}

func TestChecksumCreateAndVerify(t *testing.T) {
	s := startServer(t, Options{EnableCryptoCommands: true}, nil)
	c := dial(t, s)

	dir := t.TempDir()
	a := filepath.Join(dir, "a.txt")
	b := filepath.Join(dir, "b b.txt")
	require.NoError(t, os.WriteFile(a, []byte("alpha"), 0o600))
	require.NoError(t, os.WriteFile(b, []byte("bravo"), 0o600))

	for _, path := range []string{a, b} {
		_, err := transact(t, c, "FILE "+assuan.Encode(path))
		require.NoError(t, err)
	}

	var (
		log  statusLog
		data []byte
	)
	require.NoError(t, c.Transact(context.Background(), "CHECKSUM_CREATE_FILES", log.handlers(&data)))

	sumPath := filepath.Join(dir, "sha256sum.txt")
	require.Equal(t, []string{"CHECKSUM_FILE " + sumPath}, log.lines)
	require.Equal(t, sumPath, string(data))

	content, err := os.ReadFile(sumPath)
	require.NoError(t, err)
	require.Equal(t, sha256Hex("alpha")+"  a.txt\n"+sha256Hex("bravo")+"  b b.txt\n", string(content))

	for _, path := range []string{a, b, filepath.Join(dir, "missing.txt")} {
		_, err := transact(t, c, "FILE "+assuan.Encode(path))
		require.NoError(t, err)
	}
	log = statusLog{}
	require.NoError(t, c.Transact(context.Background(), "CHECKSUM_VERIFY_FILES", log.handlers(&data)))
	require.Equal(t, []string{
		"CHECKSUM_OK " + a,
		"CHECKSUM_OK " + b,
		"CHECKSUM_MISSING " + filepath.Join(dir, "missing.txt"),
	}, log.lines)

	require.NoError(t, os.WriteFile(b, []byte("tampered"), 0o600))
	for _, path := range []string{a, b} {
		_, err := transact(t, c, "FILE "+assuan.Encode(path))
		require.NoError(t, err)
	}
	log = statusLog{}
	err = c.Transact(context.Background(), "CHECKSUM_VERIFY_FILES", log.handlers(&data))
	require.ErrorIs(t, err, assuan.NewError(assuan.CodeBadSignature))
	require.Equal(t, []string{"CHECKSUM_OK " + a, "CHECKSUM_BAD " + b}, log.lines)
}

func TestChecksumCreateHonoursAlgoAndMergesEntries(t *testing.T) {
	s := startServer(t, Options{EnableCryptoCommands: true}, nil)
	c := dial(t, s)

	dir := t.TempDir()
	sumPath := filepath.Join(dir, "md5sum.txt")
	require.NoError(t, os.WriteFile(sumPath, []byte("0123  old.txt\n"), 0o644))
	target := filepath.Join(dir, "new.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o600))

	_, err := transact(t, c, "OPTION checksum-algo=md5")
	require.NoError(t, err)
	_, err = transact(t, c, "FILE "+assuan.Encode(target))
	require.NoError(t, err)
	_, err = transact(t, c, "CHECKSUM_CREATE_FILES")
	require.NoError(t, err)

	content, err := os.ReadFile(sumPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Equal(t, []string{"9dd4e461268c8034f5c8564e155c67a6  new.txt", "0123  old.txt"}, lines)
}

func TestChecksumCreateRejectsConflictsAndDirectories(t *testing.T) {
	s := startServer(t, Options{EnableCryptoCommands: true}, nil)
	c := dial(t, s)
	dir := t.TempDir()

	_, err := transact(t, c, "FILE "+assuan.Encode(filepath.Join(dir, "x")))
	require.NoError(t, err)
	_, err = transact(t, c, "SENDER --"+assuan.Encode("a@example.net"))
	require.NoError(t, err)
	_, err = transact(t, c, "CHECKSUM_CREATE_FILES")
	require.ErrorIs(t, err, assuan.NewError(assuan.CodeConflict))

	_, err = transact(t, c, "FILE "+assuan.Encode(dir))
	require.NoError(t, err)
	_, err = transact(t, c, "CHECKSUM_CREATE_FILES")
	require.ErrorIs(t, err, assuan.NewError(assuan.CodeInvalidArg))
	require.Contains(t, err.Error(), "is a directory")
}

func TestReadSumFileFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sha1sum.txt")
	require.NoError(t, os.WriteFile(path, []byte("aa  one.txt\r\nbb *two.bin\nmalformed\n\n"), 0o600))

	entries, err := readSumFile(path)
	require.NoError(t, err)
	require.Equal(t, map[string]string{"one.txt": "aa", "two.bin": "bb"}, entries)
}

package uiserver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noop(context.Context, *Session) error { return nil }

func TestRegistryKeepsCommandsSorted(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Command{Name: "zeta", Run: noop}))
	require.NoError(t, r.Register(Command{Name: "ALPHA", Run: noop}))
	require.NoError(t, r.Register(Command{Name: "mid", Run: noop}))

	require.Equal(t, []string{"ALPHA", "MID", "ZETA"}, r.Names())

	cmd, ok := r.Lookup("Mid")
	require.True(t, ok)
	require.Equal(t, "MID", cmd.Name)

	_, ok = r.Lookup("missing")
	require.False(t, ok)
}

func TestRegistryRejectsInvalidCommands(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(Command{Name: "SIGN", Run: noop}))

	require.ErrorIs(t, r.Register(Command{Name: "sign", Run: noop}), ErrDuplicateCommand)
	require.ErrorIs(t, r.Register(Command{Name: "ENCRYPT"}), ErrNilCommand)
	require.ErrorIs(t, r.Register(Command{Name: "OPTION", Run: noop}), ErrDuplicateCommand)
	require.Error(t, r.Register(Command{Name: " ", Run: noop}))
	require.Error(t, r.Register(Command{Name: "TWO WORDS", Run: noop}))
	require.Equal(t, []string{"SIGN"}, r.Names())
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := DefaultRegistry()
	b := DefaultRegistry()
	require.NoError(t, a.Register(Command{Name: "ONLY_A", Run: noop}))

	_, ok := b.Lookup("ONLY_A")
	require.False(t, ok)

	a.SessionData().Set("s", "k", []byte("v"))
	require.Zero(t, b.SessionData().Len())
}

func TestCommandHasOption(t *testing.T) {
	cmd := Command{Options: []string{"checksum-algo"}}
	require.True(t, cmd.HasOption("CHECKSUM-ALGO"))
	require.False(t, cmd.HasOption("mode"))
}

func TestSessionData(t *testing.T) {
	d := NewSessionData()
	value := []byte("v1")
	d.Set("s1", "k", value)
	value[0] = 'x'

	got, ok := d.Get("s1", "k")
	require.True(t, ok)
	require.Equal(t, "v1", string(got))

	_, ok = d.Get("s2", "k")
	require.False(t, ok)

	d.Set("s2", "k", nil)
	require.Equal(t, 2, d.Len())
	d.Delete("s1")
	require.Equal(t, 1, d.Len())
	d.Clear()
	require.Zero(t, d.Len())
}

package uiserver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

var (
	ErrNilCommand       = errors.New("command has no handler")
	ErrDuplicateCommand = errors.New("command already registered")
)

// CommandFunc runs one protocol command. It returns nil for OK, an
// *assuan.Error for a specific ERR line, or assuan.ErrCanceled.
type CommandFunc func(ctx context.Context, s *Session) error

// Command describes a verb the server dispatches to a handler.
type Command struct {
	Name string
	Help string
	// Crypto marks commands refused while crypto commands are disabled.
	Crypto bool
	// Options lists the option names reported by GETINFO cmd_has_option.
	Options []string
	Run     CommandFunc
}

// HasOption reports whether name is one of the command's options.
func (c Command) HasOption(name string) bool {
	for _, opt := range c.Options {
		if strings.EqualFold(opt, name) {
			return true
		}
	}
	return false
}

// Registry holds the commands and session data of one server. It is owned
// by the caller and handed to New, so independent servers never share it.
type Registry struct {
	mu       sync.RWMutex
	commands []Command
	data     *SessionData
}

func NewRegistry() *Registry {
	return &Registry{data: NewSessionData()}
}

// DefaultRegistry returns a registry with the built-in commands.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, cmd := range builtinCommands() {
		if err := r.Register(cmd); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds cmd. Names are case-insensitive and kept sorted; a nil
// handler, an empty name, a protocol verb or a duplicate is rejected.
func (r *Registry) Register(cmd Command) error {
	if cmd.Run == nil {
		return fmt.Errorf("register %q: %w", cmd.Name, ErrNilCommand)
	}
	name := strings.ToUpper(strings.TrimSpace(cmd.Name))
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("register %q: invalid command name", cmd.Name)
	}
	if isProtocolVerb(name) {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateCommand)
	}
	cmd.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	i := sort.Search(len(r.commands), func(i int) bool { return r.commands[i].Name >= name })
	if i < len(r.commands) && r.commands[i].Name == name {
		return fmt.Errorf("register %q: %w", name, ErrDuplicateCommand)
	}
	r.commands = append(r.commands, Command{})
	copy(r.commands[i+1:], r.commands[i:])
	r.commands[i] = cmd
	return nil
}

// Lookup finds a command by name.
func (r *Registry) Lookup(name string) (Command, bool) {
	name = strings.ToUpper(name)

	r.mu.RLock()
	defer r.mu.RUnlock()

	i := sort.Search(len(r.commands), func(i int) bool { return r.commands[i].Name >= name })
	if i < len(r.commands) && r.commands[i].Name == name {
		return r.commands[i], true
	}
	return Command{}, false
}

// Names returns the registered command names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.commands))
	for _, cmd := range r.commands {
		names = append(names, cmd.Name)
	}
	return names
}

func (r *Registry) SessionData() *SessionData {
	return r.data
}

package uiserver

import (
	"context"
	"maps"
	"strconv"
)

// Mailbox is a SENDER or RECIPIENT argument.
type Mailbox struct {
	Address     string
	Informative bool
}

// EventKind names a request for UI the server itself does not provide.
type EventKind string

const (
	EventStartKeyManager EventKind = "start-keymanager"
	EventStartConfDialog EventKind = "start-confdialog"
)

// Event is delivered on Server.Events.
type Event struct {
	Kind         EventKind
	ConnectionID uint64
	Options      map[string]string
}

// Session is the view of a connection handed to a running command. Its
// option, file and mailbox lists are snapshots taken when the command
// started.
type Session struct {
	conn       *Connection
	options    map[string]string
	files      []string
	senders    []Mailbox
	recipients []Mailbox
}

func (s *Session) ConnectionID() uint64 {
	return s.conn.id
}

// ID names the client session: the session-id option when set, otherwise
// the connection id.
func (s *Session) ID() string {
	if id, ok := s.options["session-id"]; ok && id != "" {
		return id
	}
	return "conn-" + strconv.FormatUint(s.conn.id, 10)
}

func (s *Session) Option(name string) (string, bool) {
	value, ok := s.options[name]
	return value, ok
}

func (s *Session) Options() map[string]string {
	return maps.Clone(s.options)
}

func (s *Session) Files() []string {
	return append([]string(nil), s.files...)
}

func (s *Session) Senders() []Mailbox {
	return append([]Mailbox(nil), s.senders...)
}

func (s *Session) Recipients() []Mailbox {
	return append([]Mailbox(nil), s.recipients...)
}

// Inquire asks the client for the data named keyword. A malformed answer
// closes the connection once the command returns.
func (s *Session) Inquire(ctx context.Context, keyword string) ([]byte, error) {
	return s.conn.inquire(ctx, keyword)
}

// SendData streams p to the client as D lines.
func (s *Session) SendData(p []byte) error {
	return s.conn.engine.Data(p)
}

// SendStatus writes an S line.
func (s *Session) SendStatus(keyword, args string) error {
	return s.conn.engine.Status(keyword, args)
}

// Emit publishes an event for this connection.
func (s *Session) Emit(kind EventKind) {
	s.conn.server.emit(Event{Kind: kind, ConnectionID: s.conn.id, Options: s.Options()})
}

// SetValue stores value in the server's session data under this session.
func (s *Session) SetValue(key string, value []byte) {
	s.conn.server.registry.SessionData().Set(s.ID(), key, value)
}

func (s *Session) Value(key string) ([]byte, bool) {
	return s.conn.server.registry.SessionData().Get(s.ID(), key)
}

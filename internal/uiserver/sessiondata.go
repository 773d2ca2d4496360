package uiserver

import "sync"

// SessionData stores values shared by the connections of one client
// session. It lives as long as the server and is cleared when it stops.
type SessionData struct {
	mu       sync.Mutex
	sessions map[string]map[string][]byte
}

func NewSessionData() *SessionData {
	return &SessionData{sessions: make(map[string]map[string][]byte)}
}

func (d *SessionData) Set(session, key string, value []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()

	values, ok := d.sessions[session]
	if !ok {
		values = make(map[string][]byte)
		d.sessions[session] = values
	}
	values[key] = append([]byte(nil), value...)
}

func (d *SessionData) Get(session, key string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	value, ok := d.sessions[session][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), value...), true
}

// Delete drops every value of session.
func (d *SessionData) Delete(session string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, session)
}

func (d *SessionData) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	clear(d.sessions)
}

// Len returns the number of sessions holding data.
func (d *SessionData) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}

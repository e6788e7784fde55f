// Package navigation holds the server-side mirror of the UI's `session`
// URL parameter. The engine writes the active session id here and the
// websocket layer pushes changes to the front-end, which applies them
// with history.replaceState so back/forward navigation stays usable.
package navigation

import "sync"

// Mirror is the authoritative copy of the session URL parameter.
type Mirror struct {
	mu          sync.Mutex
	sessionID   string
	subscribers []func(string)
}

// NewMirror returns an empty mirror.
func NewMirror() *Mirror {
	return &Mirror{}
}

// SessionParam returns the mirrored value, empty when unset.
func (m *Mirror) SessionParam() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// SetSessionParam mirrors a new active session id.
func (m *Mirror) SetSessionParam(id string) {
	m.publish(id)
}

// ClearSessionParam removes the parameter.
func (m *Mirror) ClearSessionParam() {
	m.publish("")
}

// OnChange registers a callback fired whenever the mirrored value changes.
func (m *Mirror) OnChange(fn func(string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscribers = append(m.subscribers, fn)
}

func (m *Mirror) publish(id string) {
	m.mu.Lock()
	if m.sessionID == id {
		m.mu.Unlock()
		return
	}
	m.sessionID = id
	subs := make([]func(string), len(m.subscribers))
	copy(subs, m.subscribers)
	m.mu.Unlock()

	for _, fn := range subs {
		fn(id)
	}
}

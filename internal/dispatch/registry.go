package dispatch

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/blood-connect/internal/observability"
)

const defaultWriteTimeout = 5 * time.Second

// Event is the envelope written to a connected client.
type Event struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// Session wraps a connected user's websocket. gorilla/websocket permits one
// concurrent writer, so writes are serialized per session.
type Session struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// Send writes under a deadline so a peer that stops reading cannot block the
// fan-out worker once the socket buffers fill.
func (s *Session) Send(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return s.conn.WriteJSON(ev)
}

func (s *Session) Close() error { return s.conn.Close() }

// Registry is the process-local presence map from user identity to an active
// websocket session. It is populated on connect, cleared on disconnect, and
// starts empty after a restart. Pushes to absent users are silent no-ops: a
// disconnected donor still gets the email leg of the fan-out.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	writeTimeout time.Duration
}

// NewRegistry builds a presence registry whose pushes are bounded by
// writeTimeout; zero means the default bound.
func NewRegistry(writeTimeout time.Duration) *Registry {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Registry{sessions: make(map[string]*Session), writeTimeout: writeTimeout}
}

// Add registers a session for userID, replacing and closing any prior one.
func (r *Registry) Add(userID string, conn *websocket.Conn) {
	s := &Session{conn: conn, writeTimeout: r.writeTimeout}
	r.mu.Lock()
	prev := r.sessions[userID]
	r.sessions[userID] = s
	n := len(r.sessions)
	r.mu.Unlock()
	if prev != nil {
		_ = prev.Close()
	} else {
		observability.DonorsConnected.Set(float64(n))
	}
}

// Remove clears userID's entry if conn is still its registered session.
func (r *Registry) Remove(userID string, conn *websocket.Conn) {
	r.mu.Lock()
	if s, ok := r.sessions[userID]; ok && s.conn == conn {
		delete(r.sessions, userID)
	}
	n := len(r.sessions)
	r.mu.Unlock()
	observability.DonorsConnected.Set(float64(n))
}

// Connected reports whether userID has an active session.
func (r *Registry) Connected(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[userID]
	return ok
}

// Push writes an event to userID's session. It returns false when the user is
// not connected or the write fails; the caller treats both as a missed push.
func (r *Registry) Push(userID, event string, payload any) bool {
	r.mu.RLock()
	s, ok := r.sessions[userID]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := s.Send(Event{Event: event, Payload: payload}); err != nil {
		// a failed or timed-out write leaves the socket unusable; close it so
		// the read pump clears the presence entry
		_ = s.Close()
		return false
	}
	return true
}

// Close tears down every session. Used at shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, s := range r.sessions {
		_ = s.Close()
		delete(r.sessions, id)
	}
	observability.DonorsConnected.Set(0)
}

package engine

import "sync"

// Session is the negotiated channel state between one controller
// connection and the engine. It is created when the connection is
// accepted, marked negotiated by a successful handshake and invalidated
// when the connection closes. No observation request is serviced on a
// session that has not negotiated.
type Session struct {
	mu      sync.Mutex
	version int
}

// NewSession returns a session that has not yet completed a handshake.
func NewSession() *Session {
	return &Session{}
}

func (s *Session) negotiate(version int) {
	s.mu.Lock()
	s.version = version
	s.mu.Unlock()
}

// Negotiated reports whether a handshake has completed on this session.
func (s *Session) Negotiated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version != 0
}

// Invalidate tears the session down; subsequent requests are rejected as
// if no handshake had occurred.
func (s *Session) Invalidate() {
	s.mu.Lock()
	s.version = 0
	s.mu.Unlock()
}

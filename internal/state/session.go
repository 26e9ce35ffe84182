// internal/state/session.go
package state

import (
	"sync"
)

// Session is the mutable session record of one gateway connection manager:
// the server-assigned session id, the last dispatch sequence number seen for
// that session, and the connection generation counter.
//
// The manager is the only writer. The mutex exists so that readers on other
// goroutines (status endpoint, tests) observe a consistent record.
type Session struct {
	mu         sync.RWMutex
	id         string
	seq        int64
	hasSeq     bool
	generation uint64
}

// NewSession returns an empty session record: no id, no sequence, generation 0.
func NewSession() *Session {
	return &Session{}
}

// MarkReady commits the session id announced by a ready notification. The
// last write wins.
func (s *Session) MarkReady(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
}

// Clear forgets the session id and its sequence number. The generation
// counter is untouched.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = ""
	s.seq = 0
	s.hasSeq = false
}

// CurrentID returns the session id and whether one is set.
func (s *Session) CurrentID() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id, s.id != ""
}

// NextGeneration increments and returns the connection generation.
func (s *Session) NextGeneration() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	return s.generation
}

// Generation returns the current connection generation without advancing it.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// ObserveSequence records a dispatch sequence number. Sequence numbers only
// move forward; a smaller or equal value is ignored.
func (s *Session) ObserveSequence(seq int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasSeq || seq > s.seq {
		s.seq = seq
		s.hasSeq = true
	}
}

// LastSequence returns the highest sequence number observed since the last
// Clear, and whether any was observed.
func (s *Session) LastSequence() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, s.hasSeq
}

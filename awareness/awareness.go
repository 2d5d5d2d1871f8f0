// Package awareness implements ephemeral per-client presence state: a map
// of clientId to (clock, opaque state bytes), merged on update and never
// persisted.
package awareness

import "sync"

// Entry is one client's latest presence state.
type Entry struct {
	Clock uint64
	State []byte
}

// State is the merge-only, process-local awareness view for one document.
// It is never written to DocumentStorage (Session).
type State struct {
	mu      sync.RWMutex
	clients map[string]Entry
}

// New creates an empty awareness view.
func New() *State {
	return &State{clients: make(map[string]Entry)}
}

// Apply merges an incoming (clientId, clock, bytes) update. A lower or
// equal clock than what is already recorded is ignored — awareness
// updates are idempotent under replay and out-of-order delivery.
func (s *State) Apply(clientID string, clock uint64, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.clients[clientID]; ok && existing.Clock >= clock {
		return
	}
	s.clients[clientID] = Entry{Clock: clock, State: payload}
}

// Remove drops a client's entry entirely, used when a client disconnects
// (its presence should no longer be visible to others).
func (s *State) Remove(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, clientID)
}

// Get returns one client's current entry.
func (s *State) Get(clientID string) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.clients[clientID]
	return e, ok
}

// Snapshot returns a copy of every currently known client entry.
func (s *State) Snapshot() map[string]Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.clients))
	for k, v := range s.clients {
		out[k] = v
	}
	return out
}

// Encode serializes the full awareness view for transmission as an
// awareness-update payload: opaque update bytes in this repo's own
// encoding, since the exact on-wire awareness byte format is left to the
// implementer.
func (s *State) Encode() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return encodeEntries(s.clients)
}

// ApplyEncoded merges a remote-encoded snapshot into this view.
func (s *State) ApplyEncoded(b []byte) error {
	entries, err := decodeEntries(b)
	if err != nil {
		return err
	}
	for clientID, e := range entries {
		s.Apply(clientID, e.Clock, e.State)
	}
	return nil
}

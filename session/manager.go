package session

import (
	"context"
	"sync"
	"time"

	"github.com/Polqt/collabsync/pubsub"
	"github.com/Polqt/collabsync/storage"
)

// StorageFactory produces the collaborators a newly opened session needs.
// Injected so the Manager never hard-codes a specific backing store.
type StorageFactory func(documentID string) (storage.DocumentStorage, storage.MilestoneStore)

// ManagerParams configures a Manager: node identity, the storage
// factory, the pubsub bus, and the dedupe/cleanup timing knobs.
type ManagerParams struct {
	NodeID         string
	StorageFactory StorageFactory
	Bus            *pubsub.Bus
	DedupeTTL      time.Duration
	CleanupDelay   time.Duration
	Hooks          EventHook
}

type pendingOpen struct {
	done    chan struct{}
	session *Session
	err     error
}

// Manager is the registry of open/opening sessions, one per document.
// getOrOpenSession uses a pending-promise map so concurrent opens for the
// same document converge on one session, avoiding a race between two
// joiners that both find no existing session.
type Manager struct {
	params ManagerParams

	mu       sync.Mutex
	sessions map[string]*Session
	pending  map[string]*pendingOpen
}

func NewManager(params ManagerParams) *Manager {
	return &Manager{
		params:   params,
		sessions: make(map[string]*Session),
		pending:  make(map[string]*pendingOpen),
	}
}

// GetOrOpenSession returns the session for documentID, opening it
// (Initializing -> Loaded) if this is the first request, or awaiting an
// in-flight open if one is already underway. A request whose encrypted
// flag disagrees with an existing/opening session's fails with
// ErrEncryptionStateMismatch.
func (m *Manager) GetOrOpenSession(ctx context.Context, documentID string, encrypted bool) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[documentID]; ok {
		m.mu.Unlock()
		if s.encrypted != encrypted {
			return nil, ErrEncryptionStateMismatch
		}
		return s, nil
	}
	if p, ok := m.pending[documentID]; ok {
		m.mu.Unlock()
		return awaitPending(ctx, p, encrypted)
	}

	p := &pendingOpen{done: make(chan struct{})}
	m.pending[documentID] = p
	m.mu.Unlock()

	session, err := m.openSession(ctx, documentID, encrypted)

	m.mu.Lock()
	delete(m.pending, documentID)
	if err != nil {
		p.err = err
		m.mu.Unlock()
		close(p.done)
		return nil, err
	}
	m.sessions[documentID] = session
	p.session = session
	m.mu.Unlock()
	close(p.done)
	return session, nil
}

func awaitPending(ctx context.Context, p *pendingOpen, encrypted bool) (*Session, error) {
	select {
	case <-p.done:
		if p.err != nil {
			return nil, p.err
		}
		if p.session.encrypted != encrypted {
			return nil, ErrEncryptionStateMismatch
		}
		return p.session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Manager) openSession(ctx context.Context, documentID string, encrypted bool) (*Session, error) {
	docStorage, milestones := m.params.StorageFactory(documentID)
	s := newSession(newSessionParams{
		documentID:   documentID,
		encrypted:    encrypted,
		nodeID:       m.params.NodeID,
		storage:      docStorage,
		milestones:   milestones,
		bus:          m.params.Bus,
		dedupeTTL:    m.params.DedupeTTL,
		cleanupDelay: m.params.CleanupDelay,
		hooks:        m.params.Hooks,
		onDispose:    m.removeSession,
	})
	if err := s.open(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) removeSession(documentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, documentID)
}

// Lookup returns the already-open session for documentID without opening
// one, for callers that only want to act if a session already exists.
func (m *Manager) Lookup(documentID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[documentID]
	return s, ok
}

// DisposeDocument forcibly disposes a session, e.g. on an explicit
// document-delete request, regardless of connected clients.
func (m *Manager) DisposeDocument(ctx context.Context, documentID string) {
	m.mu.Lock()
	s, ok := m.sessions[documentID]
	delete(m.sessions, documentID)
	m.mu.Unlock()
	if ok {
		s.Dispose(ctx)
	}
}

// Shutdown disposes every open session, for graceful server shutdown.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.Dispose(ctx)
	}
}

// SessionCount returns the number of currently open sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

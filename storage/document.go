// Package storage provides the DocumentStorage, FileStorage, and
// TemporaryUploadStorage collaborator interfaces, plus in-memory
// reference implementations so the core is independently testable
// without a real database. A real persistence layer (Postgres, S3, etc.)
// is left to the deployment; this repo ships the minimum needed to
// exercise the contract.
package storage

import (
	"context"
	"sync"

	"github.com/Polqt/collabsync/crdtcore"
)

// DocumentState is what Fetch returns: the stored update log plus its
// derived state vector.
type DocumentState struct {
	Update      crdtcore.Update
	StateVector crdtcore.StateVector
}

// DocumentStorage is the persistence boundary for CRDT update logs.
// Implementations own compaction; Session never merges on the storage's
// behalf.
type DocumentStorage interface {
	Write(ctx context.Context, documentID string, update crdtcore.Update) error
	Fetch(ctx context.Context, documentID string) (*DocumentState, error)
	Destroy(ctx context.Context, documentID string) error
}

// MemoryDocumentStorage keeps every document's update log merged in
// memory, compacting on every write via crdtcore.Merge so Fetch never
// needs to replay history.
type MemoryDocumentStorage struct {
	mu   sync.Mutex
	docs map[string]crdtcore.Update
}

// NewMemoryDocumentStorage creates an empty store.
func NewMemoryDocumentStorage() *MemoryDocumentStorage {
	return &MemoryDocumentStorage{docs: make(map[string]crdtcore.Update)}
}

func (s *MemoryDocumentStorage) Write(ctx context.Context, documentID string, update crdtcore.Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.docs[documentID]
	if !ok {
		s.docs[documentID] = update
		return nil
	}
	merged, err := crdtcore.Merge(existing, update)
	if err != nil {
		return err
	}
	s.docs[documentID] = merged
	return nil
}

func (s *MemoryDocumentStorage) Fetch(ctx context.Context, documentID string) (*DocumentState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	update, ok := s.docs[documentID]
	if !ok {
		return nil, nil
	}
	sv, err := crdtcore.StateVectorOf(update)
	if err != nil {
		return nil, err
	}
	return &DocumentState{Update: update, StateVector: sv}, nil
}

func (s *MemoryDocumentStorage) Destroy(ctx context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, documentID)
	return nil
}

package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrMilestoneNotFound is returned by MilestoneStore lookups/mutations
// targeting an unknown milestone id.
var ErrMilestoneNotFound = errors.New("storage: milestone not found")

// MilestoneCreator identifies who produced a milestone.
type MilestoneCreator struct {
	Type string // "user" or "system"
	ID   string
}

// Milestone is a named, persisted snapshot of a document's state.
type Milestone struct {
	ID             string
	Name           string
	DocumentID     string
	CreatedAt      uint64
	DeletedAt      *uint64
	LifecycleState *string
	ExpiresAt      *uint64
	CreatedBy      MilestoneCreator
	Snapshot       []byte
}

// MilestoneStore persists milestone metadata and snapshot bytes per
// document (milestone lifecycle).
type MilestoneStore interface {
	Create(ctx context.Context, m Milestone) error
	List(ctx context.Context, documentID string, ids []string) ([]Milestone, error)
	Get(ctx context.Context, milestoneID string) (*Milestone, error)
	Rename(ctx context.Context, milestoneID, name string) (*Milestone, error)
	SoftDelete(ctx context.Context, milestoneID string, deletedAt uint64) error
	Restore(ctx context.Context, milestoneID string) error
}

// MemoryMilestoneStore is an in-memory MilestoneStore reference
// implementation.
type MemoryMilestoneStore struct {
	mu         sync.Mutex
	milestones map[string]*Milestone
}

func NewMemoryMilestoneStore() *MemoryMilestoneStore {
	return &MemoryMilestoneStore{milestones: make(map[string]*Milestone)}
}

func (s *MemoryMilestoneStore) Create(ctx context.Context, m Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.milestones[m.ID] = &cp
	return nil
}

func (s *MemoryMilestoneStore) List(ctx context.Context, documentID string, ids []string) ([]Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}

	var out []Milestone
	for _, m := range s.milestones {
		if m.DocumentID != documentID {
			continue
		}
		if len(ids) > 0 && !wanted[m.ID] {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

func (s *MemoryMilestoneStore) Get(ctx context.Context, milestoneID string) (*Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.milestones[milestoneID]
	if !ok {
		return nil, ErrMilestoneNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryMilestoneStore) Rename(ctx context.Context, milestoneID, name string) (*Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.milestones[milestoneID]
	if !ok {
		return nil, ErrMilestoneNotFound
	}
	m.Name = name
	cp := *m
	return &cp, nil
}

func (s *MemoryMilestoneStore) SoftDelete(ctx context.Context, milestoneID string, deletedAt uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.milestones[milestoneID]
	if !ok {
		return ErrMilestoneNotFound
	}
	m.DeletedAt = &deletedAt
	return nil
}

func (s *MemoryMilestoneStore) Restore(ctx context.Context, milestoneID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.milestones[milestoneID]
	if !ok {
		return ErrMilestoneNotFound
	}
	m.DeletedAt = nil
	return nil
}

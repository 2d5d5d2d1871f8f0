package storage

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrUploadNotFound is returned when a chunk or completion call targets
// an unknown or expired upload session (UploadNotFound).
var ErrUploadNotFound = errors.New("storage: upload not found")

// UploadProgress is what GetUploadProgress returns: the upload's metadata
// plus every chunk received so far, keyed by index.
type UploadProgress struct {
	Metadata FileMetadata
	Chunks   map[uint64][]byte
}

// TemporaryUploadStorage holds in-flight chunked uploads before they are
// finalized into FileStorage.
type TemporaryUploadStorage interface {
	BeginUpload(ctx context.Context, uploadID string, metadata FileMetadata) error
	StoreChunk(ctx context.Context, uploadID string, index uint64, data []byte, proof [][]byte) error
	GetUploadProgress(ctx context.Context, uploadID string) (*UploadProgress, error)
	CompleteUpload(ctx context.Context, uploadID string, finalFileID string) (*CompletedUpload, error)
	CleanupExpiredUploads(ctx context.Context) error
}

type uploadEntry struct {
	metadata  FileMetadata
	chunks    map[uint64][]byte
	proofs    map[uint64][][]byte
	lastTouch time.Time
}

// MemoryTemporaryUploadStorage is an in-memory TemporaryUploadStorage
// reference implementation with idle-TTL expiry.
type MemoryTemporaryUploadStorage struct {
	mu      sync.Mutex
	uploads map[string]*uploadEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryTemporaryUploadStorage creates an empty store; uploads idle
// for longer than ttl are reclaimed by CleanupExpiredUploads.
func NewMemoryTemporaryUploadStorage(ttl time.Duration) *MemoryTemporaryUploadStorage {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryTemporaryUploadStorage{
		uploads: make(map[string]*uploadEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryTemporaryUploadStorage) BeginUpload(ctx context.Context, uploadID string, metadata FileMetadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.uploads[uploadID]; ok {
		existing.lastTouch = s.now()
		return nil // resumable: an upload already in progress is not an error
	}
	s.uploads[uploadID] = &uploadEntry{
		metadata:  metadata,
		chunks:    make(map[uint64][]byte),
		proofs:    make(map[uint64][][]byte),
		lastTouch: s.now(),
	}
	return nil
}

func (s *MemoryTemporaryUploadStorage) StoreChunk(ctx context.Context, uploadID string, index uint64, data []byte, proof [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.uploads[uploadID]
	if !ok {
		return ErrUploadNotFound
	}
	entry.chunks[index] = data
	entry.proofs[index] = proof
	entry.lastTouch = s.now()
	return nil
}

func (s *MemoryTemporaryUploadStorage) GetUploadProgress(ctx context.Context, uploadID string) (*UploadProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.uploads[uploadID]
	if !ok {
		return nil, nil
	}
	chunks := make(map[uint64][]byte, len(entry.chunks))
	for k, v := range entry.chunks {
		chunks[k] = v
	}
	return &UploadProgress{Metadata: entry.metadata, Chunks: chunks}, nil
}

// CompleteUpload hands the collected chunks (ordered by index) back to
// the caller for Merkle verification and FileStorage handoff; it does not
// build the tree itself (that is filetransfer's job, which owns the
// Merkle algorithm).
func (s *MemoryTemporaryUploadStorage) CompleteUpload(ctx context.Context, uploadID string, finalFileID string) (*CompletedUpload, error) {
	s.mu.Lock()
	entry, ok := s.uploads[uploadID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUploadNotFound
	}
	total := uint64(len(entry.chunks))
	ordered := make([][]byte, total)
	for i := uint64(0); i < total; i++ {
		chunk, ok := entry.chunks[i]
		if !ok {
			s.mu.Unlock()
			return nil, errors.New("storage: upload missing chunk")
		}
		ordered[i] = chunk
	}
	metadata := entry.metadata
	delete(s.uploads, uploadID)
	s.mu.Unlock()

	return &CompletedUpload{FileID: finalFileID, Metadata: metadata, Chunks: ordered}, nil
}

func (s *MemoryTemporaryUploadStorage) CleanupExpiredUploads(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := s.now().Add(-s.ttl)
	for id, entry := range s.uploads {
		if entry.lastTouch.Before(cutoff) {
			delete(s.uploads, id)
		}
	}
	return nil
}

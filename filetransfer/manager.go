// Package filetransfer also implements the chunked upload/download
// handshake on top of the Merkle primitives in this package
// and the storage collaborators in the storage package. Manager owns no
// wire transport itself; it is driven by whatever calls it (session or
// server layer) with decoded wire.FileMessage payloads and answers with
// either the next reply payload or an error the caller maps to a
// wire.FileAuth status code.
package filetransfer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Polqt/collabsync/storage"
	"github.com/Polqt/collabsync/wire"
)

// Manager coordinates uploads and downloads, cross-checking every chunk
// of an upload against the Merkle root the client committed to before it
// started sending chunks (the wire protocol carries no explicit root
// field, so the first chunk's proof establishes the pending root and
// every later chunk's proof must fold to the same value).
type Manager struct {
	uploads storage.TemporaryUploadStorage
	files   storage.FileStorage

	maxFileSize     uint64
	downloadTimeout time.Duration

	mu           sync.Mutex
	pendingRoots map[string][32]byte
	downloads    map[string]*downloadState
}

type downloadState struct {
	fileID  string
	total   uint64
	sent    map[uint64]bool
	timer   *time.Timer
	expired bool
}

// NewManager wires a Manager to its storage collaborators. maxFileSize
// defaults to 1 GiB and downloadTimeout to 60s when zero.
func NewManager(uploads storage.TemporaryUploadStorage, files storage.FileStorage, maxFileSize uint64, downloadTimeout time.Duration) *Manager {
	if maxFileSize == 0 {
		maxFileSize = 1 << 30
	}
	if downloadTimeout <= 0 {
		downloadTimeout = 60 * time.Second
	}
	return &Manager{
		uploads:         uploads,
		files:           files,
		maxFileSize:     maxFileSize,
		downloadTimeout: downloadTimeout,
		pendingRoots:    make(map[string][32]byte),
		downloads:       make(map[string]*downloadState),
	}
}

// BeginUpload validates the declared size and opens an upload session.
func (m *Manager) BeginUpload(ctx context.Context, upload wire.FileUpload) error {
	if upload.Size > m.maxFileSize {
		return ErrFileTooLarge
	}
	return m.uploads.BeginUpload(ctx, upload.FileID, storage.FileMetadata{
		FileID:       upload.FileID,
		Filename:     upload.Filename,
		Size:         upload.Size,
		MimeType:     upload.MimeType,
		LastModified: upload.LastModified,
		Encrypted:    upload.Encrypted,
	})
}

// ResumeInfo reports how much of an in-flight upload has already arrived
// so the client can resume from the right chunk (resumability).
type ResumeInfo struct {
	BytesUploaded uint64
	ReceivedCount uint64
}

func (m *Manager) ResumeInfo(ctx context.Context, uploadID string) (*ResumeInfo, error) {
	progress, err := m.uploads.GetUploadProgress(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		return nil, nil
	}
	var bytes uint64
	for _, chunk := range progress.Chunks {
		bytes += uint64(len(chunk))
	}
	return &ResumeInfo{BytesUploaded: bytes, ReceivedCount: uint64(len(progress.Chunks))}, nil
}

// StoreChunk verifies the chunk's Merkle proof against the upload's
// pending root (establishing it on the first chunk seen) before handing
// the chunk to storage.
func (m *Manager) StoreChunk(ctx context.Context, part wire.FilePart) error {
	root, err := RootFromProof(part.ChunkData, int(part.ChunkIndex), part.MerkleProof)
	if err != nil {
		return err
	}

	m.mu.Lock()
	pending, ok := m.pendingRoots[part.FileID]
	if !ok {
		m.pendingRoots[part.FileID] = root
	} else if pending != root {
		m.mu.Unlock()
		return ErrChunkVerifyFailure
	}
	m.mu.Unlock()

	return m.uploads.StoreChunk(ctx, part.FileID, part.ChunkIndex, part.ChunkData, part.MerkleProof)
}

// CompleteUpload rebuilds the full tree from every received chunk,
// checks it agrees with the pending root, and hands the result to
// FileStorage under the tree root as the permanent file id.
func (m *Manager) CompleteUpload(ctx context.Context, uploadID string) (*storage.CompletedUpload, error) {
	progress, err := m.uploads.GetUploadProgress(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		return nil, storage.ErrUploadNotFound
	}

	total := uint64(len(progress.Chunks))
	ordered := make([][]byte, total)
	for i := uint64(0); i < total; i++ {
		chunk, ok := progress.Chunks[i]
		if !ok {
			return nil, errors.New("filetransfer: upload missing chunk, cannot complete")
		}
		ordered[i] = chunk
	}

	tree, err := BuildTree(ordered)
	if err != nil {
		return nil, err
	}
	root := tree.Root()

	m.mu.Lock()
	pending, hasPending := m.pendingRoots[uploadID]
	delete(m.pendingRoots, uploadID)
	m.mu.Unlock()
	if hasPending && pending != root {
		return nil, ErrChunkVerifyFailure
	}

	completed, err := m.uploads.CompleteUpload(ctx, uploadID, tree.RootBase64())
	if err != nil {
		return nil, err
	}
	completed.MerkleRoot = root[:]

	if err := m.files.StoreFileFromUpload(ctx, *completed); err != nil {
		return nil, err
	}
	return completed, nil
}

// StartDownload registers a bounded-time download session; if not every
// chunk is acknowledged as sent within the timeout, the session expires
// and onTimeout fires with ErrIncompleteDownload semantics left to the
// caller to report. totalChunks may be 0 when the caller does not already
// know the file's chunk count (e.g. a bare file-id download request); it
// is then derived from the stored file itself.
func (m *Manager) StartDownload(ctx context.Context, fileID string, totalChunks uint64, onTimeout func(fileID string)) (*storage.StoredFile, error) {
	file, err := m.files.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, ErrFileNotFound
	}
	if totalChunks == 0 {
		totalChunks = uint64(len(file.Chunks))
	}

	state := &downloadState{fileID: fileID, total: totalChunks, sent: make(map[uint64]bool)}
	state.timer = time.AfterFunc(m.downloadTimeout, func() {
		m.mu.Lock()
		if d, ok := m.downloads[fileID]; ok && d == state {
			d.expired = true
			delete(m.downloads, fileID)
		}
		m.mu.Unlock()
		if onTimeout != nil {
			onTimeout(fileID)
		}
	})

	m.mu.Lock()
	m.downloads[fileID] = state
	m.mu.Unlock()

	return file, nil
}

// ChunkForDownload builds a fresh proof for chunk index out of file's
// stored chunks and marks it sent, finishing (and cancelling the
// timeout) the download session once every chunk has gone out.
func (m *Manager) ChunkForDownload(file *storage.StoredFile, index uint64) (wire.FilePart, error) {
	tree, err := BuildTree(file.Chunks)
	if err != nil {
		return wire.FilePart{}, err
	}
	proof, err := tree.Proof(int(index))
	if err != nil {
		return wire.FilePart{}, err
	}

	m.mu.Lock()
	if d, ok := m.downloads[file.ID]; ok {
		d.sent[index] = true
		if uint64(len(d.sent)) >= d.total {
			d.timer.Stop()
			delete(m.downloads, file.ID)
		}
	}
	m.mu.Unlock()

	return wire.FilePart{
		FileID:      file.ID,
		ChunkIndex:  index,
		ChunkData:   file.Chunks[index],
		MerkleProof: proof,
		TotalChunks: uint64(len(file.Chunks)),
		Encrypted:   file.Metadata.Encrypted,
	}, nil
}

// CancelDownload stops a download session's timeout without marking it
// expired, e.g. when the client disconnects cleanly.
func (m *Manager) CancelDownload(fileID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.downloads[fileID]; ok {
		d.timer.Stop()
		delete(m.downloads, fileID)
	}
}

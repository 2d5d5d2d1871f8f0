package filetransfer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Polqt/collabsync/storage"
	"github.com/Polqt/collabsync/wire"
)

func newTestManager() (*Manager, storage.TemporaryUploadStorage, storage.FileStorage) {
	uploads := storage.NewMemoryTemporaryUploadStorage(time.Hour)
	files := storage.NewMemoryFileStorage()
	return NewManager(uploads, files, 0, 0), uploads, files
}

func partsFor(t *testing.T, fileID string, chunks [][]byte) []wire.FilePart {
	t.Helper()
	tree, err := BuildTree(chunks)
	require.NoError(t, err)
	parts := make([]wire.FilePart, len(chunks))
	for i, c := range chunks {
		proof, err := tree.Proof(i)
		require.NoError(t, err)
		parts[i] = wire.FilePart{
			FileID:      fileID,
			ChunkIndex:  uint64(i),
			ChunkData:   c,
			MerkleProof: proof,
			TotalChunks: uint64(len(chunks)),
		}
	}
	return parts
}

func TestUploadLifecycleRoundTrip(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()

	chunks := chunksOf("hello ", "world!")
	require.NoError(t, m.BeginUpload(ctx, wire.FileUpload{FileID: "u1", Filename: "greeting.txt", Size: 12}))

	for _, part := range partsFor(t, "u1", chunks) {
		require.NoError(t, m.StoreChunk(ctx, part))
	}

	completed, err := m.CompleteUpload(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, chunks, completed.Chunks)
	require.NotEmpty(t, completed.FileID)

	stored, err := m.files.GetFile(ctx, completed.FileID)
	require.NoError(t, err)
	require.NotNil(t, stored)
}

func TestBeginUploadRejectsOversized(t *testing.T) {
	uploads := storage.NewMemoryTemporaryUploadStorage(time.Hour)
	files := storage.NewMemoryFileStorage()
	m := NewManager(uploads, files, 10, 0)

	err := m.BeginUpload(context.Background(), wire.FileUpload{FileID: "u1", Size: 100})
	require.ErrorIs(t, err, ErrFileTooLarge)
}

func TestStoreChunkRejectsProofInconsistentWithEarlierChunks(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.BeginUpload(ctx, wire.FileUpload{FileID: "u1", Size: 2}))

	chunksA := chunksOf("a", "b")
	chunksB := chunksOf("x", "y")
	partsA := partsFor(t, "u1", chunksA)
	partsB := partsFor(t, "u1", chunksB)

	require.NoError(t, m.StoreChunk(ctx, partsA[0]))
	err := m.StoreChunk(ctx, partsB[1])
	require.ErrorIs(t, err, ErrChunkVerifyFailure)
}

func TestCompleteUploadFailsOnMissingChunk(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.BeginUpload(ctx, wire.FileUpload{FileID: "u1", Size: 3}))

	parts := partsFor(t, "u1", chunksOf("a", "b", "c"))
	require.NoError(t, m.StoreChunk(ctx, parts[0]))
	require.NoError(t, m.StoreChunk(ctx, parts[2]))

	_, err := m.CompleteUpload(ctx, "u1")
	require.Error(t, err)
}

func TestDownloadServesEveryChunkWithValidProof(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.BeginUpload(ctx, wire.FileUpload{FileID: "u1", Size: 3}))
	chunks := chunksOf("a", "b", "c")
	for _, part := range partsFor(t, "u1", chunks) {
		require.NoError(t, m.StoreChunk(ctx, part))
	}
	completed, err := m.CompleteUpload(ctx, "u1")
	require.NoError(t, err)

	file, err := m.StartDownload(ctx, completed.FileID, uint64(len(chunks)), nil)
	require.NoError(t, err)
	require.NotNil(t, file)

	root := file.MerkleRoot
	var rootArr [32]byte
	copy(rootArr[:], root)
	for i, c := range chunks {
		part, err := m.ChunkForDownload(file, uint64(i))
		require.NoError(t, err)
		ok, err := VerifyProof(c, i, part.MerkleProof, rootArr)
		require.NoError(t, err)
		require.True(t, ok)
	}
}

func TestStartDownloadMissingFileErrors(t *testing.T) {
	m, _, _ := newTestManager()
	_, err := m.StartDownload(context.Background(), "nope", 1, nil)
	require.ErrorIs(t, err, ErrFileNotFound)
}

func TestDownloadTimeoutFiresWhenIncomplete(t *testing.T) {
	uploads := storage.NewMemoryTemporaryUploadStorage(time.Hour)
	files := storage.NewMemoryFileStorage()
	m := NewManager(uploads, files, 0, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, m.BeginUpload(ctx, wire.FileUpload{FileID: "u1", Size: 1}))
	chunks := chunksOf("a")
	for _, part := range partsFor(t, "u1", chunks) {
		require.NoError(t, m.StoreChunk(ctx, part))
	}
	completed, err := m.CompleteUpload(ctx, "u1")
	require.NoError(t, err)

	timedOut := make(chan string, 1)
	_, err = m.StartDownload(ctx, completed.FileID, 5, func(fileID string) { timedOut <- fileID })
	require.NoError(t, err)

	select {
	case fid := <-timedOut:
		require.Equal(t, completed.FileID, fid)
	case <-time.After(time.Second):
		t.Fatal("expected download timeout to fire")
	}
}

func TestResumeInfoReportsBytesUploaded(t *testing.T) {
	m, _, _ := newTestManager()
	ctx := context.Background()
	require.NoError(t, m.BeginUpload(ctx, wire.FileUpload{FileID: "u1", Size: 6}))
	parts := partsFor(t, "u1", chunksOf("abc", "def"))
	require.NoError(t, m.StoreChunk(ctx, parts[0]))

	info, err := m.ResumeInfo(ctx, "u1")
	require.NoError(t, err)
	require.EqualValues(t, 3, info.BytesUploaded)
	require.EqualValues(t, 1, info.ReceivedCount)
}

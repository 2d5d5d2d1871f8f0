package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Polqt/collabsync/crdtcore"
)

func TestMemoryDocumentStorageFetchMissingReturnsNil(t *testing.T) {
	s := NewMemoryDocumentStorage()
	got, err := s.Fetch(context.Background(), "doc1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryDocumentStorageWriteCompactsOnMerge(t *testing.T) {
	s := NewMemoryDocumentStorage()
	doc := crdtcore.New("A")
	op1 := doc.InsertLocal(crdtcore.ID{}, 'h')
	u1 := crdtcore.EncodeUpdate([]crdtcore.Op{op1})

	op2 := crdtcore.Op{ID: crdtcore.ID{Seq: 2, NodeID: "A"}, InsertAfter: op1.ID, Char: 'i'}
	u2 := crdtcore.EncodeUpdate([]crdtcore.Op{op2})

	require.NoError(t, s.Write(context.Background(), "doc1", u1))
	require.NoError(t, s.Write(context.Background(), "doc1", u2))

	state, err := s.Fetch(context.Background(), "doc1")
	require.NoError(t, err)
	require.NotNil(t, state)
	ops, err := crdtcore.DecodeUpdate(state.Update)
	require.NoError(t, err)
	require.Len(t, ops, 2)
}

func TestMemoryDocumentStorageDestroy(t *testing.T) {
	s := NewMemoryDocumentStorage()
	require.NoError(t, s.Write(context.Background(), "doc1", crdtcore.EncodeUpdate(nil)))
	require.NoError(t, s.Destroy(context.Background(), "doc1"))
	got, err := s.Fetch(context.Background(), "doc1")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestMemoryFileStorageRoundTrip(t *testing.T) {
	s := NewMemoryFileStorage()
	got, err := s.GetFile(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, got)

	completed := CompletedUpload{
		FileID:   "root1",
		Metadata: FileMetadata{Filename: "a.txt", Size: 3},
		Chunks:   [][]byte{[]byte("abc")},
	}
	require.NoError(t, s.StoreFileFromUpload(context.Background(), completed))

	got, err = s.GetFile(context.Background(), "root1")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "a.txt", got.Metadata.Filename)
}

func TestMemoryTemporaryUploadStorageLifecycle(t *testing.T) {
	s := NewMemoryTemporaryUploadStorage(time.Hour)
	ctx := context.Background()

	require.NoError(t, s.BeginUpload(ctx, "u1", FileMetadata{Filename: "f", Size: 6}))
	require.NoError(t, s.StoreChunk(ctx, "u1", 0, []byte("abc"), nil))
	require.NoError(t, s.StoreChunk(ctx, "u1", 1, []byte("def"), nil))

	progress, err := s.GetUploadProgress(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, progress.Chunks, 2)

	completed, err := s.CompleteUpload(ctx, "u1", "final-id")
	require.NoError(t, err)
	require.Equal(t, [][]byte{[]byte("abc"), []byte("def")}, completed.Chunks)

	_, err = s.CompleteUpload(ctx, "u1", "final-id")
	require.ErrorIs(t, err, ErrUploadNotFound)
}

func TestMemoryTemporaryUploadStorageCleanupExpired(t *testing.T) {
	s := NewMemoryTemporaryUploadStorage(time.Minute)
	fakeNow := time.Now()
	s.now = func() time.Time { return fakeNow }

	require.NoError(t, s.BeginUpload(context.Background(), "u1", FileMetadata{}))
	fakeNow = fakeNow.Add(2 * time.Minute)
	require.NoError(t, s.CleanupExpiredUploads(context.Background()))

	progress, err := s.GetUploadProgress(context.Background(), "u1")
	require.NoError(t, err)
	require.Nil(t, progress)
}

func TestMemoryTemporaryUploadStorageMissingChunkErrors(t *testing.T) {
	s := NewMemoryTemporaryUploadStorage(time.Hour)
	ctx := context.Background()
	require.NoError(t, s.BeginUpload(ctx, "u1", FileMetadata{}))
	require.NoError(t, s.StoreChunk(ctx, "u1", 0, []byte("a"), nil))
	require.NoError(t, s.StoreChunk(ctx, "u1", 2, []byte("c"), nil))

	_, err := s.CompleteUpload(ctx, "u1", "f")
	require.Error(t, err)
}

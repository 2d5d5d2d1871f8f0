package server

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/Polqt/collabsync/filetransfer"
	"github.com/Polqt/collabsync/permission"
	"github.com/Polqt/collabsync/session"
	"github.com/Polqt/collabsync/storage"
	"github.com/Polqt/collabsync/wire"
)

// fakeSink is Send'd into from the dispatching goroutine directly for
// replies, and from a session fan-out pump goroutine for broadcasts, so
// reads need the lock too; Messages returns a safe-to-range snapshot.
type fakeSink struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func (s *fakeSink) Send(ctx context.Context, msg wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *fakeSink) Messages() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func (s *fakeSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
}

type denyWrite struct{}

func (denyWrite) Check(ctx context.Context, req permission.Request) bool {
	return req.Type != permission.Write
}

func newTestServer(t *testing.T, checker permission.Checker) *Server {
	t.Helper()
	mgr := session.NewManager(session.ManagerParams{
		NodeID: "node1",
		StorageFactory: func(documentID string) (storage.DocumentStorage, storage.MilestoneStore) {
			return storage.NewMemoryDocumentStorage(), storage.NewMemoryMilestoneStore()
		},
		DedupeTTL:    time.Minute,
		CleanupDelay: time.Minute,
	})
	files := filetransfer.NewManager(
		storage.NewMemoryTemporaryUploadStorage(time.Hour),
		storage.NewMemoryFileStorage(),
		0, 0,
	)
	return New(Params{
		SessionManager: mgr,
		Files:          files,
		Permission:     checker,
		Registry:       prometheus.NewRegistry(),
	})
}

func TestDispatchDocUpdateAllowedRoundTrips(t *testing.T) {
	srv := newTestServer(t, permission.AllowAll{})
	sinkA, sinkB := &fakeSink{}, &fakeSink{}
	connA := srv.Connect("a", "userA", "room1", sinkA)
	connB := srv.Connect("b", "userB", "room1", sinkB)
	ctx := context.Background()

	joinMsg := func() wire.Message { return wire.NewDocMessage("doc1", false, wire.SyncStep1{SV: []byte{}}) }
	require.NoError(t, connA.Dispatch(ctx, "doc1", false, joinMsg()))
	require.NoError(t, connB.Dispatch(ctx, "doc1", false, joinMsg()))
	sinkA.Reset()
	sinkB.Reset()

	update := wire.NewDocMessage("doc1", false, wire.DocUpdate{Update: []byte("x")})
	require.NoError(t, connA.Dispatch(ctx, "doc1", false, update))

	require.Empty(t, sinkA.Messages())
	require.Eventually(t, func() bool { return len(sinkB.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	_, ok := sinkB.Messages()[0].(*wire.DocMessage).Payload.(wire.DocUpdate)
	require.True(t, ok)
}

func TestDispatchDeniedWriteSendsAuthMessage(t *testing.T) {
	srv := newTestServer(t, denyWrite{})
	sink := &fakeSink{}
	conn := srv.Connect("a", "userA", "room1", sink)

	update := wire.NewDocMessage("doc1", false, wire.DocUpdate{Update: []byte("x")})
	require.NoError(t, conn.Dispatch(context.Background(), "doc1", false, update))

	require.Len(t, sink.msgs, 1)
	auth, ok := sink.msgs[0].(*wire.DocMessage).Payload.(wire.AuthMessage)
	require.True(t, ok)
	require.Equal(t, wire.PermissionDenied, auth.Permission)
}

func TestDispatchDeniedSyncStep2AlsoSendsSyncDone(t *testing.T) {
	srv := newTestServer(t, denyWrite{})
	sink := &fakeSink{}
	conn := srv.Connect("a", "userA", "room1", sink)

	step2 := wire.NewDocMessage("doc1", false, wire.SyncStep2{Update: []byte("x")})
	require.NoError(t, conn.Dispatch(context.Background(), "doc1", false, step2))

	require.Len(t, sink.msgs, 2)
	_, ok := sink.msgs[0].(*wire.DocMessage).Payload.(wire.AuthMessage)
	require.True(t, ok)
	_, ok = sink.msgs[1].(*wire.DocMessage).Payload.(wire.SyncDone)
	require.True(t, ok)
}

func TestDispatchReadAllowedUnderDenyWrite(t *testing.T) {
	srv := newTestServer(t, denyWrite{})
	sink := &fakeSink{}
	conn := srv.Connect("a", "userA", "room1", sink)

	step1 := wire.NewDocMessage("doc1", false, wire.SyncStep1{SV: []byte{}})
	require.NoError(t, conn.Dispatch(context.Background(), "doc1", false, step1))
	require.Len(t, sink.msgs, 2) // sync-step-2 reply then sync-step-1 echo, no denial
}

func TestDisconnectLeavesAllJoinedSessions(t *testing.T) {
	srv := newTestServer(t, permission.AllowAll{})
	sink := &fakeSink{}
	conn := srv.Connect("a", "userA", "room1", sink)

	step1 := wire.NewDocMessage("doc1", false, wire.SyncStep1{SV: []byte{}})
	require.NoError(t, conn.Dispatch(context.Background(), "doc1", false, step1))

	sess, err := srv.sessions.GetOrOpenSession(context.Background(), "room1/doc1", false)
	require.NoError(t, err)
	require.Equal(t, 1, sess.ClientCount())

	conn.Disconnect()
	require.Equal(t, 0, sess.ClientCount())
}

func TestFileUploadCompletesAndDownloadReturnsChunks(t *testing.T) {
	srv := newTestServer(t, permission.AllowAll{})
	sink := &fakeSink{}
	conn := srv.Connect("a", "userA", "room1", sink)
	ctx := context.Background()

	upload := wire.NewFileMessage("doc1", false, wire.FileUpload{
		FileID: "f1", Filename: "a.txt", Size: 2, MimeType: "text/plain",
	})
	require.NoError(t, conn.Dispatch(ctx, "", false, upload))

	tree, err := filetransfer.BuildTree([][]byte{[]byte("hi")})
	require.NoError(t, err)
	proof, err := tree.Proof(0)
	require.NoError(t, err)

	part := wire.NewFileMessage("doc1", false, wire.FilePart{
		FileID: "f1", ChunkIndex: 0, ChunkData: []byte("hi"),
		MerkleProof: proof, TotalChunks: 1,
	})
	require.NoError(t, conn.Dispatch(ctx, "", false, part))

	require.Len(t, sink.msgs, 2) // per-chunk ack, then the completion file-auth
	auth := sink.msgs[1].(*wire.FileMessage).Payload.(wire.FileAuth)
	require.Equal(t, wire.PermissionAllowed, auth.Permission)
	fileID := auth.FileID

	sink.msgs = nil
	download := wire.NewFileMessage("doc1", false, wire.FileDownload{FileID: fileID})
	require.NoError(t, conn.Dispatch(ctx, "", false, download))
	require.Len(t, sink.msgs, 1)
	gotPart := sink.msgs[0].(*wire.FileMessage).Payload.(wire.FilePart)
	require.Equal(t, []byte("hi"), gotPart.ChunkData)
}

func TestFileDownloadMissingFileSendsNotFound(t *testing.T) {
	srv := newTestServer(t, permission.AllowAll{})
	sink := &fakeSink{}
	conn := srv.Connect("a", "userA", "room1", sink)

	download := wire.NewFileMessage("doc1", false, wire.FileDownload{FileID: "nope"})
	require.NoError(t, conn.Dispatch(context.Background(), "", false, download))
	require.Len(t, sink.msgs, 1)
	auth := sink.msgs[0].(*wire.FileMessage).Payload.(wire.FileAuth)
	require.Equal(t, StatusNotFound, auth.StatusCode)
}

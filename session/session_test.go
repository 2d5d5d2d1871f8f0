package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Polqt/collabsync/crdtcore"
	"github.com/Polqt/collabsync/storage"
	"github.com/Polqt/collabsync/wire"
)

// recordingSink is Send'd into from the session's own goroutine (sendTo) as
// well as from a per-client fan-out pump goroutine (broadcastExcept), so
// access needs a lock; Messages returns a snapshot safe to range over from
// the test goroutine.
type recordingSink struct {
	mu   sync.Mutex
	msgs []wire.Message
}

func newRecordingSink() *recordingSink {
	return &recordingSink{}
}

func (s *recordingSink) Send(ctx context.Context, msg wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
	return nil
}

func (s *recordingSink) Messages() []wire.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]wire.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func newTestManager() *Manager {
	return NewManager(ManagerParams{
		NodeID: "node1",
		StorageFactory: func(documentID string) (storage.DocumentStorage, storage.MilestoneStore) {
			return storage.NewMemoryDocumentStorage(), storage.NewMemoryMilestoneStore()
		},
		DedupeTTL:    time.Minute,
		CleanupDelay: 20 * time.Millisecond,
	})
}

func TestGetOrOpenSessionCreatesThenReuses(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()

	s1, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)
	s2, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)
	require.Same(t, s1, s2)
}

func TestGetOrOpenSessionEncryptionMismatch(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)
	_, err = m.GetOrOpenSession(ctx, "doc1", true)
	require.ErrorIs(t, err, ErrEncryptionStateMismatch)
}

func TestJoinLeaveDrainingThenDispose(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	sink := newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "c1", Sink: sink}, false))
	require.Equal(t, Loaded, s.State())

	s.Leave("c1")
	require.Equal(t, Draining, s.State())

	require.Eventually(t, func() bool {
		_, ok := m.Lookup("doc1")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestJoinCancelsDrainingTimer(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	sinkA := newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "a", Sink: sinkA}, false))
	s.Leave("a")
	require.Equal(t, Draining, s.State())

	sinkB := newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "b", Sink: sinkB}, false))
	require.Equal(t, Loaded, s.State())

	time.Sleep(50 * time.Millisecond)
	require.Equal(t, Loaded, s.State())
}

func TestSyncStep1RepliesWithStep2AndStep1NoBroadcast(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	a, b := newRecordingSink(), newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "a", Sink: a}, false))
	require.NoError(t, s.Join(&Client{ID: "b", Sink: b}, false))

	step1 := wire.NewDocMessage("doc1", false, wire.SyncStep1{SV: crdtcore.EncodeStateVector(crdtcore.StateVector{})})
	require.NoError(t, s.HandleMessage(ctx, "a", step1))

	require.Len(t, a.Messages(), 2) // sync-step-2 then sync-step-1
	require.Empty(t, b.Messages())  // no broadcast on sync-step-1
}

func TestSyncStep2PersistsBroadcastsAndAcksSender(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	a, b := newRecordingSink(), newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "a", Sink: a}, false))
	require.NoError(t, s.Join(&Client{ID: "b", Sink: b}, false))

	doc := crdtcore.New("a")
	op := doc.InsertLocal(crdtcore.ID{}, 'h')
	update := crdtcore.EncodeUpdate([]crdtcore.Op{op})

	step2 := wire.NewDocMessage("doc1", false, wire.SyncStep2{Update: update})
	require.NoError(t, s.HandleMessage(ctx, "a", step2))

	aMsgs := a.Messages()
	require.Len(t, aMsgs, 1)
	_, ok := aMsgs[0].(*wire.DocMessage).Payload.(wire.SyncDone)
	require.True(t, ok)

	require.Eventually(t, func() bool { return len(b.Messages()) == 1 }, time.Second, 5*time.Millisecond)
	_, ok = b.Messages()[0].(*wire.DocMessage).Payload.(wire.SyncStep2)
	require.True(t, ok)

	state, err := s.storage.Fetch(ctx, "doc1")
	require.NoError(t, err)
	require.NotNil(t, state)
}

func TestUpdateBroadcastsToOthersNotSender(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	a, b := newRecordingSink(), newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "a", Sink: a}, false))
	require.NoError(t, s.Join(&Client{ID: "b", Sink: b}, false))

	doc := crdtcore.New("a")
	op := doc.InsertLocal(crdtcore.ID{}, 'z')
	update := wire.NewDocMessage("doc1", false, wire.DocUpdate{Update: crdtcore.EncodeUpdate([]crdtcore.Op{op})})

	require.NoError(t, s.HandleMessage(ctx, "a", update))
	require.Empty(t, a.Messages())
	require.Eventually(t, func() bool { return len(b.Messages()) == 1 }, time.Second, 5*time.Millisecond)
}

func TestAwarenessBroadcastsNotPersisted(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	a, b := newRecordingSink(), newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "a", Sink: a}, false))
	require.NoError(t, s.Join(&Client{ID: "b", Sink: b}, false))

	aw := wire.NewAwarenessMessage("doc1", false, wire.AwarenessUpdate{Update: []byte("x")})
	require.NoError(t, s.HandleMessage(ctx, "a", aw))
	require.Eventually(t, func() bool { return len(b.Messages()) == 1 }, time.Second, 5*time.Millisecond)

	state, err := s.storage.Fetch(ctx, "doc1")
	require.NoError(t, err)
	require.Nil(t, state)
}

func TestEncryptionMismatchOnMessageRejected(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	encrypted := wire.NewDocMessage("doc1", true, wire.DocUpdate{Update: nil})
	err = s.HandleMessage(ctx, "a", encrypted)
	require.ErrorIs(t, err, ErrEncryptionStateMismatch)
}

func TestMilestoneCreateListSnapshotRenameDeleteRestore(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	a := newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "a", Sink: a}, false))

	create := wire.NewDocMessage("doc1", false, wire.MilestoneCreateReq{HasName: true, Name: "v1", Snapshot: []byte("snap")})
	require.NoError(t, s.HandleMessage(ctx, "a", create))
	require.Len(t, a.msgs, 1)
	createResp := a.msgs[0].(*wire.DocMessage).Payload.(wire.MilestoneCreateResp)
	id := createResp.Milestone.ID
	require.Equal(t, "v1", createResp.Milestone.Name)

	a.msgs = nil
	list := wire.NewDocMessage("doc1", false, wire.MilestoneListReq{})
	require.NoError(t, s.HandleMessage(ctx, "a", list))
	listResp := a.msgs[0].(*wire.DocMessage).Payload.(wire.MilestoneListResp)
	require.Len(t, listResp.Milestones, 1)

	a.msgs = nil
	snap := wire.NewDocMessage("doc1", false, wire.MilestoneSnapshotReq{MilestoneID: id})
	require.NoError(t, s.HandleMessage(ctx, "a", snap))
	snapResp := a.msgs[0].(*wire.DocMessage).Payload.(wire.MilestoneSnapshotResp)
	require.Equal(t, []byte("snap"), snapResp.Snapshot)

	a.msgs = nil
	rename := wire.NewDocMessage("doc1", false, wire.MilestoneRenameReq{MilestoneID: id, Name: "v2"})
	require.NoError(t, s.HandleMessage(ctx, "a", rename))
	renameResp := a.msgs[0].(*wire.DocMessage).Payload.(wire.MilestoneRenameResp)
	require.Equal(t, "v2", renameResp.Milestone.Name)

	a.msgs = nil
	del := wire.NewDocMessage("doc1", false, wire.MilestoneSoftDeleteReq{MilestoneID: id})
	require.NoError(t, s.HandleMessage(ctx, "a", del))
	require.Len(t, a.msgs, 1)

	a.msgs = nil
	restore := wire.NewDocMessage("doc1", false, wire.MilestoneRestoreReq{MilestoneID: id})
	require.NoError(t, s.HandleMessage(ctx, "a", restore))
	require.Len(t, a.msgs, 1)
}

func TestMilestoneCreateAutoNamesWhenOmitted(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	s, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)

	a := newRecordingSink()
	require.NoError(t, s.Join(&Client{ID: "a", Sink: a}, false))

	create := wire.NewDocMessage("doc1", false, wire.MilestoneCreateReq{HasName: false, Snapshot: []byte("s")})
	require.NoError(t, s.HandleMessage(ctx, "a", create))
	resp := a.msgs[0].(*wire.DocMessage).Payload.(wire.MilestoneCreateResp)
	require.NotEmpty(t, resp.Milestone.Name)
}

func TestDedupeCacheDropsRepeatedID(t *testing.T) {
	c := newDedupeCache(time.Minute)
	require.False(t, c.Seen("a"))
	c.Add("a")
	require.True(t, c.Seen("a"))
}

func TestDedupeCacheExpiresAfterTTL(t *testing.T) {
	c := newDedupeCache(10 * time.Millisecond)
	c.Add("a")
	require.True(t, c.Seen("a"))
	fakeNow := time.Now().Add(50 * time.Millisecond)
	c.now = func() time.Time { return fakeNow }
	require.False(t, c.Seen("a"))
}

func TestManagerShutdownDisposesAllSessions(t *testing.T) {
	m := newTestManager()
	ctx := context.Background()
	_, err := m.GetOrOpenSession(ctx, "doc1", false)
	require.NoError(t, err)
	_, err = m.GetOrOpenSession(ctx, "doc2", false)
	require.NoError(t, err)
	require.Equal(t, 2, m.SessionCount())

	m.Shutdown(ctx)
	require.Equal(t, 0, m.SessionCount())
}

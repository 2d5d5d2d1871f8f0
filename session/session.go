package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Polqt/collabsync/crdtcore"
	"github.com/Polqt/collabsync/pubsub"
	"github.com/Polqt/collabsync/storage"
	"github.com/Polqt/collabsync/streaming"
	"github.com/Polqt/collabsync/wire"
)

// fanoutQueueCap bounds how many pending messages a single slow client can
// accumulate before the fan-out write blocking on it also blocks delivery
// to every other client.
const fanoutQueueCap = 256

// unregisterer is the capability streaming.FanOutWriter's reader handle
// exposes; named locally since the concrete handle type is unexported.
type unregisterer interface {
	Unregister()
}

// clientStream is one joined client's registration against the session's
// fan-out writer: its reader id (for WriteExcept) and the handle used to
// drop it on Leave/disconnect.
type clientStream struct {
	readerID int
	unreg    unregisterer
}

// autoMilestoneName is used when a milestone-create request omits a
// name: a timestamped default.
func autoMilestoneName(t time.Time) string {
	return fmt.Sprintf("milestone-%d", t.Unix())
}

// EventHook receives session lifecycle events: document-load,
// session-open, client-join, client-leave, document-message,
// document-write, document-unload, document-delete.
// Any field may be left nil; Session calls only the hooks that are set.
type EventHook struct {
	OnDocumentLoad    func(documentID string)
	OnSessionOpen     func(documentID string)
	OnClientJoin      func(documentID, clientID string)
	OnClientLeave     func(documentID, clientID string)
	OnDocumentMessage func(documentID string, msg wire.Message)
	OnDocumentWrite   func(documentID string, update []byte)
	OnDocumentUnload  func(documentID string)
	OnDocumentDelete  func(documentID string)
}

// Session owns one document's live collaboration state: its connected
// clients, storage handle, pubsub subscription, and dedupe cache. The
// server owns the map of Sessions; a Session owns everything named here
// exclusively.
type Session struct {
	documentID string
	encrypted  bool
	nodeID     string

	storage    storage.DocumentStorage
	milestones storage.MilestoneStore
	bus        *pubsub.Bus
	topic      string
	unsub      pubsub.Unsubscribe
	dedupe     *dedupeCache
	hooks      EventHook
	now        func() time.Time
	fanout     *streaming.FanOutWriter[wire.Message]

	mu           sync.Mutex
	state        State
	clients      map[string]*Client
	streams      map[string]clientStream
	cleanupTimer *time.Timer
	cleanupDelay time.Duration
	onDispose    func(documentID string)
}

type newSessionParams struct {
	documentID   string
	encrypted    bool
	nodeID       string
	storage      storage.DocumentStorage
	milestones   storage.MilestoneStore
	bus          *pubsub.Bus
	dedupeTTL    time.Duration
	cleanupDelay time.Duration
	hooks        EventHook
	onDispose    func(documentID string)
}

func newSession(p newSessionParams) *Session {
	if p.cleanupDelay <= 0 {
		p.cleanupDelay = 60 * time.Second
	}
	return &Session{
		documentID:   p.documentID,
		encrypted:    p.encrypted,
		nodeID:       p.nodeID,
		storage:      p.storage,
		milestones:   p.milestones,
		bus:          p.bus,
		topic:        "doc:" + p.documentID,
		dedupe:       newDedupeCache(p.dedupeTTL),
		hooks:        p.hooks,
		now:          time.Now,
		fanout:       streaming.NewFanOutWriter[wire.Message](fanoutQueueCap),
		state:        Loaded,
		clients:      make(map[string]*Client),
		streams:      make(map[string]clientStream),
		cleanupDelay: p.cleanupDelay,
		onDispose:    p.onDispose,
	}
}

// open subscribes this session to its pubsub topic and fires the
// document-load/session-open events. Called once by the Manager right
// after construction.
func (s *Session) open(ctx context.Context) error {
	if s.bus != nil {
		unsub, err := s.bus.Subscribe(ctx, s.topic, s.nodeID, s.handlePubSub)
		if err != nil {
			return err
		}
		s.unsub = unsub
	}
	if s.hooks.OnDocumentLoad != nil {
		s.hooks.OnDocumentLoad(s.documentID)
	}
	if s.hooks.OnSessionOpen != nil {
		s.hooks.OnSessionOpen(s.documentID)
	}
	return nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Join registers a client, cancelling any armed cleanup timer and
// returning to Loaded (Draining state).
func (s *Session) Join(client *Client, encrypted bool) error {
	s.mu.Lock()
	if s.state == Disposed {
		s.mu.Unlock()
		return ErrSessionDisposed
	}
	if encrypted != s.encrypted {
		s.mu.Unlock()
		return ErrEncryptionStateMismatch
	}
	s.clients[client.ID] = client
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
		s.cleanupTimer = nil
	}
	s.state = Loaded
	s.mu.Unlock()

	readerID, src, handle := s.fanout.NewReaderWithID()
	s.mu.Lock()
	s.streams[client.ID] = clientStream{readerID: readerID, unreg: handle}
	s.mu.Unlock()
	go s.pumpClient(client, src)

	if s.hooks.OnClientJoin != nil {
		s.hooks.OnClientJoin(s.documentID, client.ID)
	}
	return nil
}

// pumpClient drains one client's fan-out reader and forwards every item to
// its sink. A send failure drops the client's registration immediately
// (rather than leaving a dead reader's queue to fill and eventually stall
// broadcasts to everyone else); the transport layer is responsible for
// noticing the closed connection and calling Leave.
func (s *Session) pumpClient(client *Client, src streaming.Source[wire.Message]) {
	ctx := context.Background()
	for {
		msg, err := src.Next(ctx)
		if err != nil {
			return
		}
		if err := client.Sink.Send(ctx, msg); err != nil {
			s.dropClientStream(client.ID)
			return
		}
	}
}

func (s *Session) dropClientStream(clientID string) {
	s.mu.Lock()
	cs, ok := s.streams[clientID]
	delete(s.streams, clientID)
	s.mu.Unlock()
	if ok {
		cs.unreg.Unregister()
	}
}

// Leave unregisters a client; if it was the last one, arms the cleanup
// timer and transitions to Draining.
func (s *Session) Leave(clientID string) {
	s.mu.Lock()
	delete(s.clients, clientID)
	cs, hasStream := s.streams[clientID]
	delete(s.streams, clientID)
	empty := len(s.clients) == 0
	if empty && s.state == Loaded {
		s.state = Draining
		s.cleanupTimer = time.AfterFunc(s.cleanupDelay, s.disposeIfStillEmpty)
	}
	s.mu.Unlock()

	if hasStream {
		cs.unreg.Unregister()
	}

	if s.hooks.OnClientLeave != nil {
		s.hooks.OnClientLeave(s.documentID, clientID)
	}
}

func (s *Session) disposeIfStillEmpty() {
	s.mu.Lock()
	if s.state != Draining || len(s.clients) > 0 {
		s.mu.Unlock()
		return
	}
	s.state = Disposed
	s.mu.Unlock()

	s.fanout.Close()
	if s.unsub != nil {
		_ = s.unsub()
	}
	if s.hooks.OnDocumentUnload != nil {
		s.hooks.OnDocumentUnload(s.documentID)
	}
	if s.onDispose != nil {
		s.onDispose(s.documentID)
	}
}

// Dispose forcibly terminates the session (explicit delete or server
// shutdown), regardless of connected clients.
func (s *Session) Dispose(ctx context.Context) {
	s.mu.Lock()
	if s.state == Disposed {
		s.mu.Unlock()
		return
	}
	s.state = Disposed
	if s.cleanupTimer != nil {
		s.cleanupTimer.Stop()
	}
	s.mu.Unlock()

	s.fanout.Close()
	if s.unsub != nil {
		_ = s.unsub()
	}
	if s.hooks.OnDocumentUnload != nil {
		s.hooks.OnDocumentUnload(s.documentID)
	}
}

// ClientCount returns the number of currently joined clients.
func (s *Session) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// broadcastExcept fans msg out to every joined client except excludeID
// (empty excludeID addresses nobody, used for remote pubsub fan-out, which
// has no local originator to skip). Each client's own goroutine drains its
// fan-out reader and performs the actual Sink.Send, so a slow Send only
// fills that client's bounded queue; once that queue is full this call
// blocks until it has room, and later broadcasts to every client wait
// behind it.
func (s *Session) broadcastExcept(ctx context.Context, msg wire.Message, excludeID string) {
	readerID := -1
	if excludeID != "" {
		s.mu.Lock()
		if cs, ok := s.streams[excludeID]; ok {
			readerID = cs.readerID
		}
		s.mu.Unlock()
	}
	_ = s.fanout.WriteExcept(ctx, msg, readerID)
}

// sendTo sends msg to exactly one joined client, if still joined.
func (s *Session) sendTo(ctx context.Context, clientID string, msg wire.Message) error {
	s.mu.Lock()
	c, ok := s.clients[clientID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return c.Sink.Send(ctx, msg)
}

func (s *Session) publish(ctx context.Context, msg wire.Message) error {
	if s.bus == nil {
		return nil
	}
	return s.bus.Publish(ctx, s.topic, msg.Encode(), s.nodeID)
}

// handlePubSub is the Bus subscription callback: decode, dedupe, and
// fan out to every local client (no originator to exclude — the
// message came from another node entirely).
func (s *Session) handlePubSub(payload []byte, sourceID string) {
	msg, err := wire.Decode(payload)
	if err != nil {
		return
	}
	if s.dedupe.Seen(msg.ID()) {
		return
	}
	s.dedupe.Add(msg.ID())
	s.broadcastExcept(context.Background(), msg, "")
}

// HandleMessage dispatches one inbound message from a joined client,
// running the sync handshake when needed. fromClientID identifies the
// sender so fan-out can exclude them.
func (s *Session) HandleMessage(ctx context.Context, fromClientID string, msg wire.Message) error {
	s.dedupe.Add(msg.ID())

	switch m := msg.(type) {
	case *wire.DocMessage:
		if m.Encrypted != s.encrypted {
			return ErrEncryptionStateMismatch
		}
		return s.handleDoc(ctx, fromClientID, m)
	case *wire.AwarenessMessage:
		if m.Encrypted != s.encrypted {
			return ErrEncryptionStateMismatch
		}
		s.broadcastExcept(ctx, m, fromClientID)
		return nil
	default:
		return nil
	}
}

func (s *Session) handleDoc(ctx context.Context, fromClientID string, m *wire.DocMessage) error {
	if s.hooks.OnDocumentMessage != nil {
		s.hooks.OnDocumentMessage(s.documentID, m)
	}

	switch p := m.Payload.(type) {
	case wire.SyncStep1:
		sv, err := crdtcore.DecodeStateVector(p.SV)
		if err != nil {
			return err
		}
		state, err := s.storage.Fetch(ctx, s.documentID)
		if err != nil {
			return err
		}
		storedUpdate := crdtcore.EncodeUpdate(nil)
		storedSV := crdtcore.EncodeStateVector(crdtcore.StateVector{})
		if state != nil {
			storedUpdate = state.Update
			storedSV = crdtcore.EncodeStateVector(state.StateVector)
		}
		diff, err := crdtcore.Diff(storedUpdate, sv)
		if err != nil {
			return err
		}
		step2 := wire.NewDocMessage(s.documentID, s.encrypted, wire.SyncStep2{Update: diff})
		if err := s.sendTo(ctx, fromClientID, step2); err != nil {
			return err
		}
		back := wire.NewDocMessage(s.documentID, s.encrypted, wire.SyncStep1{SV: storedSV})
		return s.sendTo(ctx, fromClientID, back)

	case wire.SyncStep2:
		if err := s.persist(ctx, p.Update); err != nil {
			return err
		}
		s.broadcastExcept(ctx, m, fromClientID)
		if err := s.sendTo(ctx, fromClientID, wire.NewDocMessage(s.documentID, s.encrypted, wire.SyncDone{})); err != nil {
			return err
		}
		return s.publish(ctx, m)

	case wire.DocUpdate:
		s.broadcastExcept(ctx, m, fromClientID)
		if err := s.persist(ctx, p.Update); err != nil {
			return err
		}
		return s.publish(ctx, m)

	case wire.MilestoneListReq:
		return s.handleMilestoneList(ctx, fromClientID, p)
	case wire.MilestoneSnapshotReq:
		return s.handleMilestoneSnapshot(ctx, fromClientID, p)
	case wire.MilestoneCreateReq:
		return s.handleMilestoneCreate(ctx, fromClientID, p)
	case wire.MilestoneRenameReq:
		return s.handleMilestoneRename(ctx, fromClientID, p)
	case wire.MilestoneSoftDeleteReq:
		return s.handleMilestoneSoftDelete(ctx, fromClientID, p)
	case wire.MilestoneRestoreReq:
		return s.handleMilestoneRestore(ctx, fromClientID, p)

	default:
		return nil
	}
}

func (s *Session) persist(ctx context.Context, update []byte) error {
	if err := s.storage.Write(ctx, s.documentID, update); err != nil {
		return err
	}
	if s.hooks.OnDocumentWrite != nil {
		s.hooks.OnDocumentWrite(s.documentID, update)
	}
	return nil
}

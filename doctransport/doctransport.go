// Package doctransport bridges a local CRDT document and its awareness
// state to the Source/Sink transport contract: local edits and presence
// changes become outbound wire messages; inbound wire messages apply to
// the document/awareness, running the sync handshake and resolving a
// "synced" future once it completes. It is the one piece of the system
// that knows both the CRDT's native op shape and the wire protocol's
// message shape.
package doctransport

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/Polqt/collabsync/awareness"
	"github.com/Polqt/collabsync/crdtcore"
	"github.com/Polqt/collabsync/wire"
)

// LocalClientID tags a wire.Context as the transport's own locally
// originated traffic, distinguishing it from messages a caller is
// replaying because they arrived from a remote peer.
const LocalClientID = "local"

// syncOriginSuffix marks crdtcore.Apply calls made because an update
// arrived over the wire during the sync handshake. This transport's
// Apply path never re-emits what it just applied (only
// LocalInsert/LocalDelete enqueue outbound updates), so the tag is kept
// for symmetry with remote peers rather than because this CRDT would
// otherwise echo.
const syncOriginSuffix = "-sync"

// ErrAuthDenied is the error WaitSynced returns when the peer rejected
// the sync handshake with an auth-message of PermissionDenied.
var ErrAuthDenied = errors.New("doctransport: sync denied by peer")

// DocTransport owns one document's local CRDT state and awareness state
// and bridges it to wire traffic.
type DocTransport struct {
	document  string
	encrypted bool
	clientID  string // this replica's CRDT node id (syncOrigin = clientID+"-sync")

	doc       *crdtcore.Doc
	awareness *awareness.State

	out *outboundSource

	mu      sync.Mutex
	synced  bool
	syncErr error
	done    chan struct{}
}

// New creates a transport over doc/aw for the given namespaced document.
func New(document string, encrypted bool, clientID string, doc *crdtcore.Doc, aw *awareness.State) *DocTransport {
	return &DocTransport{
		document:  document,
		encrypted: encrypted,
		clientID:  clientID,
		doc:       doc,
		awareness: aw,
		out:       newOutboundSource(),
		done:      make(chan struct{}),
	}
}

func (t *DocTransport) syncOrigin() string { return t.clientID + syncOriginSuffix }

// Outbound returns the Source of messages this transport wants
// broadcast: local doc updates, local awareness updates, and handshake
// replies (sync-step-2, sync-done) computed while handling inbound Write
// calls.
func (t *DocTransport) Outbound() *outboundSource { return t.out }

// Close stops the outbound source; no further Next calls will block.
func (t *DocTransport) Close() error { return t.out.Close() }

// LocalInsert applies a local character insert and enqueues the
// resulting update for broadcast.
func (t *DocTransport) LocalInsert(ctx context.Context, after crdtcore.ID, char rune) error {
	op := t.doc.InsertLocal(after, char)
	return t.enqueueUpdate(ctx, []crdtcore.Op{op})
}

// LocalDelete tombstones id locally and enqueues the resulting update.
func (t *DocTransport) LocalDelete(ctx context.Context, id crdtcore.ID) error {
	op := t.doc.DeleteLocal(id)
	return t.enqueueUpdate(ctx, []crdtcore.Op{op})
}

func (t *DocTransport) enqueueUpdate(ctx context.Context, ops []crdtcore.Op) error {
	update := crdtcore.EncodeUpdate(ops)
	msg := wire.NewDocMessage(t.document, t.encrypted, wire.DocUpdate{Update: update})
	msg.SetContext(wire.Context{ClientID: LocalClientID})
	return t.out.push(ctx, msg)
}

// LocalAwarenessUpdate applies a local presence change and enqueues it
// for broadcast.
func (t *DocTransport) LocalAwarenessUpdate(ctx context.Context, clock uint64, payload []byte) error {
	t.awareness.Apply(t.clientID, clock, payload)
	encoded := t.awareness.Encode()
	msg := wire.NewAwarenessMessage(t.document, t.encrypted, wire.AwarenessUpdate{Update: encoded})
	msg.SetContext(wire.Context{ClientID: LocalClientID})
	return t.out.push(ctx, msg)
}

// StartSync kicks off the sync handshake by enqueuing our local state
// vector as a sync-step-1 message.
func (t *DocTransport) StartSync(ctx context.Context) error {
	update := crdtcore.EncodeStateAsUpdate(t.doc)
	sv, err := crdtcore.StateVectorOf(update)
	if err != nil {
		return err
	}
	msg := wire.NewDocMessage(t.document, t.encrypted, wire.SyncStep1{SV: crdtcore.EncodeStateVector(sv)})
	msg.SetContext(wire.Context{ClientID: LocalClientID})
	return t.out.push(ctx, msg)
}

// WaitSynced blocks until the handshake resolves (sync-done received, or
// the peer's auth-message denied it) or ctx is done.
func (t *DocTransport) WaitSynced(ctx context.Context) error {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.syncErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *DocTransport) resolveSynced(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.synced {
		return
	}
	t.synced = true
	t.syncErr = err
	close(t.done)
}

// Write applies an inbound message (Sink contract): doc
// updates/sync-step-2 merge into the CRDT under the sync origin tag,
// sync-step-1 gets a diffed sync-step-2 reply, sync-done/auth-message
// resolve the synced future, and awareness traffic merges into the
// presence map or is answered with our own snapshot.
func (t *DocTransport) Write(ctx context.Context, msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.DocMessage:
		return t.writeDoc(ctx, m)
	case *wire.AwarenessMessage:
		return t.writeAwareness(ctx, m)
	default:
		return nil
	}
}

func (t *DocTransport) writeDoc(ctx context.Context, m *wire.DocMessage) error {
	switch p := m.Payload.(type) {
	case wire.SyncStep1:
		sv, err := crdtcore.DecodeStateVector(p.SV)
		if err != nil {
			return err
		}
		full := crdtcore.EncodeStateAsUpdate(t.doc)
		diff, err := crdtcore.Diff(full, sv)
		if err != nil {
			return err
		}
		reply := wire.NewDocMessage(t.document, t.encrypted, wire.SyncStep2{Update: diff})
		reply.SetContext(wire.Context{ClientID: LocalClientID})
		return t.out.push(ctx, reply)
	case wire.SyncStep2:
		if err := crdtcore.Apply(t.doc, p.Update, t.syncOrigin()); err != nil {
			return err
		}
		done := wire.NewDocMessage(t.document, t.encrypted, wire.SyncDone{})
		done.SetContext(wire.Context{ClientID: LocalClientID})
		if err := t.out.push(ctx, done); err != nil {
			return err
		}
		t.resolveSynced(nil)
		return nil
	case wire.DocUpdate:
		return crdtcore.Apply(t.doc, p.Update, t.syncOrigin())
	case wire.SyncDone:
		t.resolveSynced(nil)
		return nil
	case wire.AuthMessage:
		if p.Permission == wire.PermissionDenied {
			t.resolveSynced(ErrAuthDenied)
		}
		return nil
	default:
		return nil
	}
}

func (t *DocTransport) writeAwareness(ctx context.Context, m *wire.AwarenessMessage) error {
	switch p := m.Payload.(type) {
	case wire.AwarenessUpdate:
		return t.awareness.ApplyEncoded(p.Update)
	case wire.AwarenessRequest:
		reply := wire.NewAwarenessMessage(t.document, t.encrypted, wire.AwarenessUpdate{Update: t.awareness.Encode()})
		reply.SetContext(wire.Context{ClientID: LocalClientID})
		return t.out.push(ctx, reply)
	default:
		return nil
	}
}

// outboundSource is the leaf Source implementation for a transport's
// outbound messages, the same channel-plus-close-signal shape as
// streaming's chanSource, kept local here since it carries wire.Message
// specifically rather than a generic T.
type outboundSource struct {
	ch        chan wire.Message
	closeOnce sync.Once
	closed    chan struct{}
}

func newOutboundSource() *outboundSource {
	return &outboundSource{ch: make(chan wire.Message, 64), closed: make(chan struct{})}
}

func (s *outboundSource) push(ctx context.Context, msg wire.Message) error {
	select {
	case s.ch <- msg:
		return nil
	case <-s.closed:
		return io.EOF
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *outboundSource) Next(ctx context.Context) (wire.Message, error) {
	select {
	case item, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return item, nil
	case <-s.closed:
		select {
		case item, ok := <-s.ch:
			if ok {
				return item, nil
			}
		default:
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *outboundSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

package server

import (
	"context"
	"sync"

	"github.com/Polqt/collabsync/permission"
	"github.com/Polqt/collabsync/session"
	"github.com/Polqt/collabsync/wire"
)

// Connection is one transport-level connection's server-side bookkeeping:
// which room/user it belongs to and which document sessions it has
// joined, under a "{room}/{document}" namespace. The actual
// socket/stream lives in cmd/server; Connection only needs a
// session.ClientSink to push messages back down it.
type Connection struct {
	server *Server
	client *session.Client
	room   string

	mu     sync.Mutex
	joined map[string]*session.Session // documentID -> session
}

func newConnection(srv *Server, clientID, userID, room string, sink session.ClientSink) *Connection {
	return &Connection{
		server: srv,
		client: &session.Client{ID: clientID, UserID: userID, Sink: sink},
		room:   room,
		joined: make(map[string]*session.Session),
	}
}

func (c *Connection) namespacedDocumentID(documentID string) string {
	if c.room == "" {
		return documentID
	}
	return c.room + "/" + documentID
}

// Dispatch authorizes and routes one inbound message (gate +
// route). documentID is the message's own (un-namespaced) document field;
// callers on categories without one (AckMessage) pass "".
func (c *Connection) Dispatch(ctx context.Context, documentID string, encrypted bool, msg wire.Message) error {
	req := permission.Request{
		ClientID:   c.client.ID,
		UserID:     c.client.UserID,
		Room:       c.room,
		DocumentID: documentID,
	}
	if fm, ok := msg.(*wire.FileMessage); ok {
		req.FileID = fileIDOf(fm)
	}

	allowed, gated := c.server.gate.Check(ctx, req, msg)
	if gated {
		c.server.metrics.MessagesIn.WithLabelValues(messageCategory(msg)).Inc()
	}
	if gated && !allowed {
		typ, _ := requiredPermission(msg)
		c.server.metrics.PermissionDenied.WithLabelValues(string(typ)).Inc()
		return c.denyMessage(ctx, documentID, encrypted, msg)
	}

	switch m := msg.(type) {
	case *wire.DocMessage:
		return c.dispatchDoc(ctx, documentID, encrypted, m)
	case *wire.AwarenessMessage:
		return c.dispatchAwareness(ctx, documentID, encrypted, m)
	case *wire.FileMessage:
		return c.dispatchFile(ctx, m)
	case *wire.AckMessage:
		c.server.handleAck(m)
		return nil
	default:
		return nil
	}
}

func (c *Connection) dispatchDoc(ctx context.Context, documentID string, encrypted bool, m *wire.DocMessage) error {
	sess, err := c.joinedSession(ctx, documentID, encrypted)
	if err != nil {
		return err
	}
	return sess.HandleMessage(ctx, c.client.ID, m)
}

func (c *Connection) dispatchAwareness(ctx context.Context, documentID string, encrypted bool, m *wire.AwarenessMessage) error {
	sess, err := c.joinedSession(ctx, documentID, encrypted)
	if err != nil {
		return err
	}
	return sess.HandleMessage(ctx, c.client.ID, m)
}

func (c *Connection) dispatchFile(ctx context.Context, m *wire.FileMessage) error {
	switch p := m.Payload.(type) {
	case wire.FileUpload:
		return c.server.handleFileUpload(ctx, c, m, p)
	case wire.FilePart:
		return c.server.handleFilePart(ctx, c, m, p)
	case wire.FileDownload:
		return c.server.handleFileDownload(ctx, c, m, p)
	default:
		return nil
	}
}

// joinedSession returns this connection's session for documentID,
// opening and joining it on first use.
func (c *Connection) joinedSession(ctx context.Context, documentID string, encrypted bool) (*session.Session, error) {
	full := c.namespacedDocumentID(documentID)

	c.mu.Lock()
	sess, ok := c.joined[full]
	c.mu.Unlock()
	if ok {
		return sess, nil
	}

	sess, err := c.server.sessions.GetOrOpenSession(ctx, full, encrypted)
	if err != nil {
		return nil, err
	}
	if err := sess.Join(c.client, encrypted); err != nil {
		return nil, err
	}
	c.server.metrics.ConnectedClients.Inc()

	c.mu.Lock()
	c.joined[full] = sess
	c.mu.Unlock()
	return sess, nil
}

// Disconnect leaves every session this connection joined.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	sessions := c.joined
	c.joined = make(map[string]*session.Session)
	c.mu.Unlock()

	for _, sess := range sessions {
		sess.Leave(c.client.ID)
		c.server.metrics.ConnectedClients.Dec()
	}
}

// denyMessage replies with the rejection shape appropriate to msg's
// category: doc and awareness traffic get an auth-message denial (a doc
// sync-step-2 additionally gets a sync-done so the sender's local
// replica does not hang waiting on one); file messages get a
// status-coded file-auth reply instead.
func (c *Connection) denyMessage(ctx context.Context, documentID string, encrypted bool, msg wire.Message) error {
	switch m := msg.(type) {
	case *wire.FileMessage:
		return c.server.send(ctx, c, wire.NewFileMessage(m.Document, m.Encrypted, wire.FileAuth{
			Permission: wire.PermissionDenied,
			FileID:     fileIDOf(m),
			StatusCode: fileDenialStatus(m),
			HasReason:  true,
			Reason:     "permission denied",
		}))
	case *wire.DocMessage:
		deny := wire.NewDocMessage(documentID, encrypted, wire.AuthMessage{
			Permission: wire.PermissionDenied,
			Reason:     "permission denied",
		})
		if err := c.server.send(ctx, c, deny); err != nil {
			return err
		}
		if isSyncStep2(msg) {
			return c.server.send(ctx, c, wire.NewDocMessage(documentID, encrypted, wire.SyncDone{}))
		}
		return nil
	case *wire.AwarenessMessage:
		return c.server.send(ctx, c, wire.NewDocMessage(documentID, encrypted, wire.AuthMessage{
			Permission: wire.PermissionDenied,
			Reason:     "permission denied",
		}))
	default:
		return nil
	}
}

func fileIDOf(m *wire.FileMessage) string {
	switch p := m.Payload.(type) {
	case wire.FileUpload:
		return p.FileID
	case wire.FilePart:
		return p.FileID
	case wire.FileDownload:
		return p.FileID
	default:
		return ""
	}
}

func fileDenialStatus(m *wire.FileMessage) uint64 {
	if _, ok := m.Payload.(wire.FileUpload); ok {
		return StatusForbidden
	}
	return StatusUnauthorized
}

package server

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Polqt/collabsync/ack"
	"github.com/Polqt/collabsync/filetransfer"
	"github.com/Polqt/collabsync/permission"
	"github.com/Polqt/collabsync/session"
	"github.com/Polqt/collabsync/wire"
)

// Params configures a Server: the session registry, the file-transfer
// manager, the permission checker, the metrics registry, and the
// at-least-once ack timeout for messages this server sends out.
type Params struct {
	SessionManager *session.Manager
	Files          *filetransfer.Manager
	Permission     permission.Checker
	Registry       prometheus.Registerer
	AckTimeout     time.Duration
}

// Server is the process-level coordinator: it gates every inbound
// message through a permission.Checker, namespaces documents by room,
// and routes file-transfer traffic through filetransfer.Manager in
// addition to document/awareness traffic through session.Manager.
type Server struct {
	sessions *session.Manager
	files    *filetransfer.Manager
	gate     *Gate
	metrics  *Metrics
	acks     *ack.Tracker
}

func New(p Params) *Server {
	reg := p.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	metrics := NewMetrics(reg)

	acks := ack.NewTracker(p.AckTimeout)
	acks.OnTimeout(func(messageID string) { metrics.AckTimeouts.Inc() })

	return &Server{
		sessions: p.SessionManager,
		files:    p.Files,
		gate:     NewGate(p.Permission),
		metrics:  metrics,
		acks:     acks,
	}
}

// Metrics exposes the server's collectors, e.g. for cmd/server to mount
// under promhttp.HandlerFor.
func (s *Server) Metrics() *Metrics { return s.metrics }

// Connect registers a new connection under room, returning a handle the
// transport adapter dispatches inbound messages through and disconnects
// when the underlying socket closes.
func (s *Server) Connect(clientID, userID, room string, sink session.ClientSink) *Connection {
	return newConnection(s, clientID, userID, room, sink)
}

// Shutdown drains and disposes every open session (graceful
// shutdown: before-shutdown hook, drain, dispose-all, after-shutdown
// hook — the hooks themselves are cmd/server's concern since they are
// process-lifecycle, not session-lifecycle).
func (s *Server) Shutdown(ctx context.Context) {
	s.sessions.Shutdown(ctx)
}

func (s *Server) sendMessageCount(msg wire.Message) {
	s.metrics.MessagesOut.WithLabelValues(messageCategory(msg)).Inc()
}

func (s *Server) send(ctx context.Context, conn *Connection, msg wire.Message) error {
	s.sendMessageCount(msg)
	if err := conn.client.Sink.Send(ctx, msg); err != nil {
		return err
	}
	if _, isAck := msg.(*wire.AckMessage); !isAck {
		s.acks.Add(msg.ID())
	}
	return nil
}

// handleAck resolves the pending entry an inbound AckMessage confirms.
func (s *Server) handleAck(m *wire.AckMessage) {
	s.acks.Resolve(m.MessageID)
}

func (s *Server) handleFileUpload(ctx context.Context, conn *Connection, m *wire.FileMessage, p wire.FileUpload) error {
	err := s.files.BeginUpload(ctx, p)
	if err == filetransfer.ErrFileTooLarge {
		return s.send(ctx, conn, wire.NewFileMessage(m.Document, m.Encrypted, wire.FileAuth{
			Permission: wire.PermissionDenied,
			FileID:     p.FileID,
			StatusCode: StatusPayloadTooLarge,
			HasReason:  true,
			Reason:     "File exceeds maximum supported size",
		}))
	}
	return err
}

func (s *Server) handleFilePart(ctx context.Context, conn *Connection, m *wire.FileMessage, p wire.FilePart) error {
	if err := s.files.StoreChunk(ctx, p); err != nil {
		return s.send(ctx, conn, wire.NewFileMessage(m.Document, m.Encrypted, wire.FileAuth{
			Permission: wire.PermissionDenied,
			FileID:     p.FileID,
			StatusCode: StatusInternalServerError,
			HasReason:  true,
			Reason:     err.Error(),
		}))
	}
	if err := s.send(ctx, conn, wire.NewAckMessage(m.ID())); err != nil {
		return err
	}

	info, err := s.files.ResumeInfo(ctx, p.FileID)
	if err != nil {
		return err
	}
	if info.ReceivedCount < p.TotalChunks {
		return nil
	}

	completed, err := s.files.CompleteUpload(ctx, p.FileID)
	if err != nil {
		return s.send(ctx, conn, wire.NewFileMessage(m.Document, m.Encrypted, wire.FileAuth{
			Permission: wire.PermissionDenied,
			FileID:     p.FileID,
			StatusCode: StatusInternalServerError,
			HasReason:  true,
			Reason:     err.Error(),
		}))
	}
	return s.send(ctx, conn, wire.NewFileMessage(m.Document, m.Encrypted, wire.FileAuth{
		Permission: wire.PermissionAllowed,
		FileID:     completed.FileID,
		StatusCode: 200,
	}))
}

func (s *Server) handleFileDownload(ctx context.Context, conn *Connection, m *wire.FileMessage, p wire.FileDownload) error {
	file, err := s.files.StartDownload(ctx, p.FileID, 0, func(fileID string) {
		_ = s.send(ctx, conn, wire.NewFileMessage(m.Document, m.Encrypted, wire.FileAuth{
			Permission: wire.PermissionDenied,
			FileID:     fileID,
			StatusCode: StatusInternalServerError,
			HasReason:  true,
			Reason:     "download timed out",
		}))
	})
	if err != nil {
		return s.send(ctx, conn, wire.NewFileMessage(m.Document, m.Encrypted, wire.FileAuth{
			Permission: wire.PermissionDenied,
			FileID:     p.FileID,
			StatusCode: StatusNotFound,
			HasReason:  true,
			Reason:     "file not found",
		}))
	}

	totalChunks := uint64(len(file.Chunks))
	for i := uint64(0); i < totalChunks; i++ {
		part, err := s.files.ChunkForDownload(file, i)
		if err != nil {
			return err
		}
		if err := s.send(ctx, conn, wire.NewFileMessage(m.Document, m.Encrypted, part)); err != nil {
			return err
		}
	}
	return nil
}

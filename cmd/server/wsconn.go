package main

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Polqt/collabsync/wire"
)

// wsSink adapts a *websocket.Conn to session.ClientSink, writing
// wire-encoded bytes as binary frames over a real RFC 6455
// implementation instead of a hand-rolled one.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSSink(conn *websocket.Conn) *wsSink {
	return &wsSink{conn: conn}
}

func (s *wsSink) Send(ctx context.Context, msg wire.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, msg.Encode())
}

func (s *wsSink) Close() error { return s.conn.Close() }

// readLoop decodes binary frames off conn and invokes handle for each
// successfully decoded message until the connection closes or ctx ends.
func readLoop(ctx context.Context, conn *websocket.Conn, log zerolog.Logger, handle func(ctx context.Context, msg wire.Message)) {
	for {
		if ctx.Err() != nil {
			return
		}
		msgType, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Msg("ws read error")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		msg, err := wire.Decode(payload)
		if err != nil {
			log.Warn().Err(err).Msg("bad wire frame")
			continue
		}
		handle(ctx, msg)
	}
}

// documentAndEncryption extracts the routing fields every gated category
// carries; AckMessage carries neither and is returned with ok=false.
func documentAndEncryption(msg wire.Message) (documentID string, encrypted bool, ok bool) {
	switch m := msg.(type) {
	case *wire.DocMessage:
		return m.Document, m.Encrypted, true
	case *wire.AwarenessMessage:
		return m.Document, m.Encrypted, true
	case *wire.FileMessage:
		return m.Document, m.Encrypted, true
	default:
		return "", false, false
	}
}

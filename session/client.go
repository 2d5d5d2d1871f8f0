package session

import (
	"context"

	"github.com/Polqt/collabsync/wire"
)

// ClientSink is how a Session pushes a message to one connected client,
// implemented by whatever owns the actual transport connection.
type ClientSink interface {
	Send(ctx context.Context, msg wire.Message) error
}

// Client is one connected client's registration within a Session.
type Client struct {
	ID     string
	UserID string
	Sink   ClientSink
}

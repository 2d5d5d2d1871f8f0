package pubsub

import (
	"context"

	"github.com/nats-io/nats.go"
)

// NATSBackend replicates topics over core NATS subjects. Topic names are
// used verbatim as NATS subjects (they are already namespaced document
// ids / ack topics, which are valid subject tokens). Grounded on the
// nats.go client construction and subscribe-callback idiom used in the
// retrieval pack's infra services.
type NATSBackend struct {
	conn *nats.Conn
}

// NewNATSBackend wraps an existing *nats.Conn.
func NewNATSBackend(conn *nats.Conn) *NATSBackend {
	return &NATSBackend{conn: conn}
}

func (n *NATSBackend) Publish(ctx context.Context, topic string, data []byte) error {
	return n.conn.Publish(topic, data)
}

func (n *NATSBackend) Subscribe(ctx context.Context, topic string, handler func(data []byte)) (Unsubscribe, error) {
	sub, err := n.conn.Subscribe(topic, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() error {
		return sub.Unsubscribe()
	}, nil
}

func (n *NATSBackend) Close() error {
	n.conn.Close()
	return nil
}

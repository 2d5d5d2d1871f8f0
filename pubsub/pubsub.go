// Package pubsub is the topic-keyed replication fabric that
// lets many server nodes share the same document. A Backend only moves
// opaque bytes per topic; Bus layers source-id tagging and self-loop
// suppression on top so session code never has to think about it.
package pubsub

import "context"

// Unsubscribe cancels a subscription registered with Backend.Subscribe or
// Bus.Subscribe.
type Unsubscribe func() error

// Backend is the pluggable raw transport. Implementations: Memory, Redis,
// NATS. Delivery is at-least-once and unordered across topics; within one
// topic from one publisher the backend SHOULD preserve order, but nothing
// here depends on that (the CRDT tolerates reordering).
type Backend interface {
	Publish(ctx context.Context, topic string, data []byte) error
	Subscribe(ctx context.Context, topic string, handler func(data []byte)) (Unsubscribe, error)
	Close() error
}

// Handler receives a decoded message body plus the sourceId that
// published it.
type Handler func(payload []byte, sourceID string)

// Bus wraps a Backend with source-id envelopes and self-loop suppression.
type Bus struct {
	backend Backend
}

// New wraps backend in a Bus.
func New(backend Backend) *Bus {
	return &Bus{backend: backend}
}

// Publish encodes payload with sourceID and publishes it on topic.
func (b *Bus) Publish(ctx context.Context, topic string, payload []byte, sourceID string) error {
	return b.backend.Publish(ctx, topic, encodeEnvelope(sourceID, payload))
}

// Subscribe registers handler on topic. Messages whose sourceId equals
// ownSourceID are dropped before handler is invoked, so a node never
// reacts to its own publish echoed back by the backend.
func (b *Bus) Subscribe(ctx context.Context, topic string, ownSourceID string, handler Handler) (Unsubscribe, error) {
	return b.backend.Subscribe(ctx, topic, func(data []byte) {
		sourceID, payload, err := decodeEnvelope(data)
		if err != nil {
			return
		}
		if sourceID == ownSourceID {
			return
		}
		handler(payload, sourceID)
	})
}

// Close releases the underlying backend.
func (b *Bus) Close() error {
	return b.backend.Close()
}

package middleware

import (
	"context"

	"github.com/Polqt/collabsync/ack"
	"github.com/Polqt/collabsync/streaming"
	"github.com/Polqt/collabsync/wire"
)

// PublishAck delivers a synthesized AckMessage, typically onto a pubsub
// ack/{senderId} topic or directly back down the originating connection.
type PublishAck func(ctx context.Context, ackMsg *wire.AckMessage) error

// AckSink publishes an AckMessage whose MessageID equals the written
// message's content id after every successful non-Ack write.
type AckSink struct {
	sink    streaming.Sink[wire.Message]
	publish PublishAck
}

// NewAckSink wraps sink, invoking publish after each non-Ack write.
func NewAckSink(sink streaming.Sink[wire.Message], publish PublishAck) *AckSink {
	return &AckSink{sink: sink, publish: publish}
}

func (s *AckSink) Write(ctx context.Context, msg wire.Message) error {
	if err := s.sink.Write(ctx, msg); err != nil {
		return err
	}
	if _, isAck := msg.(*wire.AckMessage); isAck {
		return nil
	}
	return s.publish(ctx, wire.NewAckMessage(msg.ID()))
}

func (s *AckSink) Close() error { return s.sink.Close() }

// AckTrackingSink records every non-Ack write's message id as pending in
// an ack.Tracker; HandleAck resolves entries as acks arrive over whatever
// subscription the caller wired to the ack/{senderId} topic.
type AckTrackingSink struct {
	sink    streaming.Sink[wire.Message]
	tracker *ack.Tracker
}

// NewAckTrackingSink wraps sink, tracking pending acks in tracker.
func NewAckTrackingSink(sink streaming.Sink[wire.Message], tracker *ack.Tracker) *AckTrackingSink {
	return &AckTrackingSink{sink: sink, tracker: tracker}
}

func (s *AckTrackingSink) Write(ctx context.Context, msg wire.Message) error {
	if err := s.sink.Write(ctx, msg); err != nil {
		return err
	}
	if _, isAck := msg.(*wire.AckMessage); isAck {
		return nil
	}
	s.tracker.Add(msg.ID())
	return nil
}

// HandleAck resolves the pending entry for an incoming AckMessage.
func (s *AckTrackingSink) HandleAck(msg *wire.AckMessage) {
	s.tracker.Resolve(msg.MessageID)
}

// WaitForAcks blocks until every message written through this sink has
// been acknowledged, one of them times out (reported as an
// *ack.TimeoutError), or ctx is done.
func (s *AckTrackingSink) WaitForAcks(ctx context.Context) error {
	return s.tracker.WaitForAcks(ctx)
}

func (s *AckTrackingSink) Close() error { return s.sink.Close() }

package middleware

import (
	"context"

	"github.com/Polqt/collabsync/streaming"
	"github.com/Polqt/collabsync/wire"
)

// Hooks are observation callbacks invoked by a passthrough wrapper
// without altering the stream.
type Hooks struct {
	OnRead  func(msg wire.Message)
	OnWrite func(msg wire.Message)
}

// PassthroughSource calls hooks.OnRead for every item that passes through
// unchanged.
type PassthroughSource struct {
	source streaming.Source[wire.Message]
	hooks  Hooks
}

func NewPassthroughSource(source streaming.Source[wire.Message], hooks Hooks) *PassthroughSource {
	return &PassthroughSource{source: source, hooks: hooks}
}

func (p *PassthroughSource) Next(ctx context.Context) (wire.Message, error) {
	msg, err := p.source.Next(ctx)
	if err == nil && p.hooks.OnRead != nil {
		p.hooks.OnRead(msg)
	}
	return msg, err
}

func (p *PassthroughSource) Close() error { return p.source.Close() }

// PassthroughSink calls hooks.OnWrite for every item that passes through
// unchanged.
type PassthroughSink struct {
	sink  streaming.Sink[wire.Message]
	hooks Hooks
}

func NewPassthroughSink(sink streaming.Sink[wire.Message], hooks Hooks) *PassthroughSink {
	return &PassthroughSink{sink: sink, hooks: hooks}
}

func (p *PassthroughSink) Write(ctx context.Context, msg wire.Message) error {
	err := p.sink.Write(ctx, msg)
	if err == nil && p.hooks.OnWrite != nil {
		p.hooks.OnWrite(msg)
	}
	return err
}

func (p *PassthroughSink) Close() error { return p.sink.Close() }

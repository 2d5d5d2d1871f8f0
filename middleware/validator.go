package middleware

import (
	"context"

	"github.com/Polqt/collabsync/streaming"
	"github.com/Polqt/collabsync/wire"
)

// Direction distinguishes which side of a Transport a message is crossing,
// since a validator may authorize reads and writes differently.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// Validate gates a message; unauthorized messages are dropped silently
// from the stream rather than surfaced as an error.
type Validate func(msg wire.Message, dir Direction) bool

// ValidatingSink drops writes the validator rejects instead of erroring.
type ValidatingSink struct {
	sink     streaming.Sink[wire.Message]
	validate Validate
	dir      Direction
}

// NewValidatingSink wraps sink with validate, applied in direction dir.
func NewValidatingSink(sink streaming.Sink[wire.Message], validate Validate, dir Direction) *ValidatingSink {
	return &ValidatingSink{sink: sink, validate: validate, dir: dir}
}

func (v *ValidatingSink) Write(ctx context.Context, msg wire.Message) error {
	if !v.validate(msg, v.dir) {
		return nil
	}
	return v.sink.Write(ctx, msg)
}

func (v *ValidatingSink) Close() error { return v.sink.Close() }

// ValidatingSource drops reads the validator rejects and pulls the next
// item instead of surfacing the rejected one.
type ValidatingSource struct {
	source   streaming.Source[wire.Message]
	validate Validate
	dir      Direction
}

// NewValidatingSource wraps source with validate, applied in direction dir.
func NewValidatingSource(source streaming.Source[wire.Message], validate Validate, dir Direction) *ValidatingSource {
	return &ValidatingSource{source: source, validate: validate, dir: dir}
}

func (v *ValidatingSource) Next(ctx context.Context) (wire.Message, error) {
	for {
		msg, err := v.source.Next(ctx)
		if err != nil {
			return nil, err
		}
		if v.validate(msg, v.dir) {
			return msg, nil
		}
	}
}

func (v *ValidatingSource) Close() error { return v.source.Close() }

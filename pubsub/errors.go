package pubsub

import "errors"

// ErrClosed is returned by Backend/Bus operations performed after Close.
var ErrClosed = errors.New("pubsub: closed")

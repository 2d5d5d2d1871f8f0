// Package middleware provides composable Transport wrappers that preserve
// streaming.Source/Sink semantics: a validator gate, a token-bucket rate
// limiter, ack-sink/ack-tracking-sink pairs, and passthrough/logger hooks
//.
package middleware

import "errors"

// ErrRateLimitExceeded is returned (not panicked) by a rate-limited Sink's
// Write when the subject's bucket is empty; the caller decides whether
// that means dropping the message or surfacing it to the client.
var ErrRateLimitExceeded = errors.New("middleware: rate limit exceeded")

package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Polqt/collabsync/streaming"
	"github.com/Polqt/collabsync/wire"
)

// RateLimitParams configures one subject's token bucket.
type RateLimitParams struct {
	MaxMessages   int
	Window        time.Duration
	MaxMessageSize int // bytes; 0 disables the size check
}

// SubjectFunc extracts the logical rate-limit subject (user, document, or
// connection) from a message.
type SubjectFunc func(msg wire.Message) string

// RateLimiter holds one golang.org/x/time/rate.Limiter per subject,
// created lazily on first use and refilling continuously.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	params   RateLimitParams
	subject  SubjectFunc
}

// NewRateLimiter creates a limiter keyed by subject(msg), replenishing at
// params.MaxMessages tokens per params.Window.
func NewRateLimiter(params RateLimitParams, subject SubjectFunc) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		params:   params,
		subject:  subject,
	}
}

func (r *RateLimiter) limiterFor(subject string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[subject]
	if !ok {
		perSecond := rate.Limit(float64(r.params.MaxMessages) / r.params.Window.Seconds())
		l = rate.NewLimiter(perSecond, r.params.MaxMessages)
		r.limiters[subject] = l
	}
	return l
}

// Allow reports whether a message for the given subject and size may pass.
func (r *RateLimiter) Allow(msg wire.Message, size int) bool {
	if r.params.MaxMessageSize > 0 && size > r.params.MaxMessageSize {
		return false
	}
	return r.limiterFor(r.subject(msg)).Allow()
}

// RateLimitedSink rejects writes that exceed the configured rate with
// ErrRateLimitExceeded instead of silently dropping them, so callers can
// emit a RateLimitExceeded event of their own.
type RateLimitedSink struct {
	sink    streaming.Sink[wire.Message]
	limiter *RateLimiter
	onReject func(msg wire.Message)
}

// NewRateLimitedSink wraps sink with limiter.
func NewRateLimitedSink(sink streaming.Sink[wire.Message], limiter *RateLimiter, onReject func(wire.Message)) *RateLimitedSink {
	return &RateLimitedSink{sink: sink, limiter: limiter, onReject: onReject}
}

func (s *RateLimitedSink) Write(ctx context.Context, msg wire.Message) error {
	if !s.limiter.Allow(msg, len(msg.Encode())) {
		if s.onReject != nil {
			s.onReject(msg)
		}
		return ErrRateLimitExceeded
	}
	return s.sink.Write(ctx, msg)
}

func (s *RateLimitedSink) Close() error { return s.sink.Close() }

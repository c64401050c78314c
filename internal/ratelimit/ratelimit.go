// Package ratelimit bounds the outbound call rate per backend.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"pantry-gpt/internal/scanerr"
)

var log = logrus.New()

// SetLogLevel sets the logging level for the ratelimit package
func SetLogLevel(level logrus.Level) {
	log.SetLevel(level)
}

// Limiter keeps one token bucket per backend identity. A bucket holds up to
// Requests tokens and refills at Requests per Period.
type Limiter struct {
	requests int
	period   time.Duration
	maxWait  time.Duration
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
}

// State is a snapshot of one backend's bucket.
type State struct {
	Backend   string        `json:"backend"`
	Limit     int           `json:"limit"`
	Period    time.Duration `json:"period"`
	Available float64       `json:"available"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithMaxWait bounds how long Acquire blocks. Zero leaves only the context deadline.
func WithMaxWait(d time.Duration) Option {
	return func(l *Limiter) { l.maxWait = d }
}

// New creates a Limiter. A non-positive requests or period disables limiting.
func New(requests int, period time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		requests: requests,
		period:   period,
		now:      time.Now,
		buckets:  make(map[string]*rate.Limiter),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Limiter) enabled() bool {
	return l != nil && l.requests > 0 && l.period > 0
}

func (l *Limiter) bucket(backend string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[backend]
	if !ok {
		every := l.period / time.Duration(l.requests)
		b = rate.NewLimiter(rate.Every(every), l.requests)
		l.buckets[backend] = b
	}
	return b
}

// Allow reports whether a call to backend may be dispatched now, consuming a
// token if so. It never blocks.
func (l *Limiter) Allow(backend string) bool {
	if !l.enabled() {
		return true
	}
	return l.bucket(backend).AllowN(l.now(), 1)
}

// Acquire blocks until backend has a free slot. It returns a RateLimitError
// when the wait would outlast the context deadline or the configured maximum
// wait.
func (l *Limiter) Acquire(ctx context.Context, backend string) error {
	if !l.enabled() {
		return nil
	}

	now := l.now()
	r := l.bucket(backend).ReserveN(now, 1)
	if !r.OK() {
		return &scanerr.RateLimitError{Backend: backend}
	}

	delay := r.DelayFrom(now)
	if delay == 0 {
		return nil
	}

	if l.maxWait > 0 && delay > l.maxWait {
		r.CancelAt(now)
		return &scanerr.RateLimitError{Backend: backend, RetryAfter: delay}
	}
	if deadline, ok := ctx.Deadline(); ok && now.Add(delay).After(deadline) {
		r.CancelAt(now)
		return &scanerr.RateLimitError{Backend: backend, RetryAfter: delay}
	}

	log.WithFields(logrus.Fields{
		"backend": backend,
		"delay":   delay,
	}).Debug("Waiting for rate limiter")

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.Cancel()
		return &scanerr.RateLimitError{Backend: backend, RetryAfter: delay, Err: ctx.Err()}
	}
}

// State reports the bucket for backend.
func (l *Limiter) State(backend string) State {
	if !l.enabled() {
		return State{Backend: backend}
	}
	return State{
		Backend:   backend,
		Limit:     l.requests,
		Period:    l.period,
		Available: l.bucket(backend).TokensAt(l.now()),
	}
}

// States reports every bucket created so far.
func (l *Limiter) States() []State {
	if !l.enabled() {
		return nil
	}
	l.mu.Lock()
	names := make([]string, 0, len(l.buckets))
	for name := range l.buckets {
		names = append(names, name)
	}
	l.mu.Unlock()

	states := make([]State, 0, len(names))
	for _, name := range names {
		states = append(states, l.State(name))
	}
	return states
}

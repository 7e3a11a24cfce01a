// Package ratelimit admits heavyweight user turns through a per-user token
// bucket.
package ratelimit

import (
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBurst    = 3
	DefaultRate     = 0.2
	DefaultEviction = time.Hour
)

// DefaultLightweight lists the commands that never consume budget.
var DefaultLightweight = []string{"/start", "/help", "/reset"}

type bucket struct {
	lim        *rate.Limiter
	lastRefill time.Time
}

// Limiter is a process-wide set of token buckets keyed by user id.
// The zero value is not usable; use New.
type Limiter struct {
	burst    int
	perSec   rate.Limit
	eviction time.Duration
	light    map[string]struct{}
	now      func() time.Time

	mu      sync.Mutex
	buckets map[int64]*bucket
}

type Option func(*Limiter)

// WithClock substitutes the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithEviction sets how long an idle bucket survives.
func WithEviction(d time.Duration) Option {
	return func(l *Limiter) {
		if d > 0 {
			l.eviction = d
		}
	}
}

// WithLightweight replaces the lightweight command allow-list.
func WithLightweight(commands []string) Option {
	return func(l *Limiter) {
		l.light = make(map[string]struct{}, len(commands))
		for _, c := range commands {
			l.light[c] = struct{}{}
		}
	}
}

// New returns a limiter refilling perSecond tokens per second up to burst.
func New(burst int, perSecond float64, opts ...Option) *Limiter {
	if burst <= 0 {
		burst = DefaultBurst
	}
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	l := &Limiter{
		burst:    burst,
		perSec:   rate.Limit(perSecond),
		eviction: DefaultEviction,
		now:      time.Now,
		buckets:  map[int64]*bucket{},
	}
	WithLightweight(DefaultLightweight)(l)
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit reports whether the user's turn may proceed. Lightweight turns are
// always admitted and leave the bucket untouched.
func (l *Limiter) Admit(userID int64, lightweight bool) bool {
	if lightweight {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.evictLocked(now)
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.perSec, l.burst)}
		l.buckets[userID] = b
	}
	b.lastRefill = now
	return b.lim.AllowN(now, 1)
}

// Lightweight reports whether text starts with an allow-listed command.
// A "@botname" suffix on the command is ignored.
func (l *Limiter) Lightweight(text string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	_, ok := l.light[cmd]
	return ok
}

// Len returns the number of live buckets.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// Reset drops every bucket.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.buckets = map[int64]*bucket{}
	l.mu.Unlock()
}

func (l *Limiter) evictLocked(now time.Time) {
	for id, b := range l.buckets {
		if now.Sub(b.lastRefill) > l.eviction {
			delete(l.buckets, id)
		}
	}
}

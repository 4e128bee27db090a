// Package ratelimit provides per-key token buckets.
//
// The API uses Allow to shed uploads per client IP; the conversion
// orchestrator uses Wait to pace outbound calls per TTS provider.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedLimiter holds one token bucket per key. Keys with an override use
// their own limit, all others share the default limit and burst.
type KeyedLimiter struct {
	mu        sync.Mutex
	entries   map[string]*entry
	overrides map[string]rate.Limit
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a limiter allowing rps per key with the given burst. An rps of
// zero or less means unlimited. Buckets idle for ten minutes are dropped.
func New(rps float64, burst int) *KeyedLimiter {
	if burst < 1 {
		burst = 1
	}
	l := &KeyedLimiter{
		entries:   make(map[string]*entry),
		overrides: make(map[string]rate.Limit),
		limit:     toLimit(rps),
		burst:     burst,
		idleTTL:   10 * time.Minute,
		done:      make(chan struct{}),
	}
	go l.sweep(time.Minute)
	return l
}

// SetLimit overrides the rate for one key.
func (l *KeyedLimiter) SetLimit(key string, rps float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.overrides[key] = toLimit(rps)
	if e, ok := l.entries[key]; ok {
		e.limiter.SetLimit(toLimit(rps))
	}
}

// Allow reports whether an event for key may happen now.
func (l *KeyedLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Wait blocks until key has a token or ctx is done.
func (l *KeyedLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Len returns the number of live buckets.
func (l *KeyedLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Stop ends the background sweeper.
func (l *KeyedLimiter) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

func (l *KeyedLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if e, ok := l.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	limit := l.limit
	if o, ok := l.overrides[key]; ok {
		limit = o
	}
	e := &entry{limiter: rate.NewLimiter(limit, l.burst), lastSeen: now}
	l.entries[key] = e
	return e.limiter
}

func (l *KeyedLimiter) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case now := <-ticker.C:
			l.evictIdle(now)
		}
	}
}

func (l *KeyedLimiter) evictIdle(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.entries, k)
		}
	}
}

func toLimit(rps float64) rate.Limit {
	if rps <= 0 {
		return rate.Inf
	}
	return rate.Limit(rps)
}

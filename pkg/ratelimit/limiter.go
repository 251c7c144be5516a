// Package ratelimit implements the per-client sliding-window counter
// that gates login attempts before any verification work is done.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Config defines the sliding window.
type Config struct {
	// MaxAttempts is the number of failed attempts allowed per window.
	MaxAttempts int
	// Window is the sliding window length.
	Window time.Duration
	// MaxClients bounds the tracked-client map; the stalest client is
	// evicted when the bound is hit.
	MaxClients int
}

// DefaultConfig mirrors the service defaults: 5 failures per 300s.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		Window:      300 * time.Second,
		MaxClients:  65536,
	}
}

// Limiter tracks failed login attempts per client key (normally the
// client IP). Only failures count; any failed verification records an
// attempt regardless of flow. All state is in-memory: rate limiting is
// per-instance by design.
type Limiter struct {
	config  Config
	mu      sync.Mutex
	windows map[string][]time.Time
	now     func() time.Time
}

// New creates a limiter. Zero config fields take defaults.
func New(config Config) *Limiter {
	def := DefaultConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.MaxClients <= 0 {
		config.MaxClients = def.MaxClients
	}
	return &Limiter{
		config:  config,
		windows: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// prune drops timestamps older than the window. Caller holds the lock.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	attempts := l.windows[key]
	cutoff := now.Add(-l.config.Window)

	kept := attempts[:0]
	for _, t := range attempts {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) == 0 {
		delete(l.windows, key)
		return nil
	}
	l.windows[key] = kept
	return kept
}

// Allow reports whether the client may attempt a login. It prunes the
// client's window first, so entries never outlive the window at
// evaluation time.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	attempts := l.prune(key, l.now())
	return len(attempts) < l.config.MaxAttempts
}

// RecordFailure appends a failed attempt for the client.
func (l *Limiter) RecordFailure(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(key, now)
	l.windows[key] = append(l.windows[key], now)

	if len(l.windows) > l.config.MaxClients {
		l.evictStalest()
	}
}

// evictStalest removes the client whose most recent attempt is oldest.
// Caller holds the lock.
func (l *Limiter) evictStalest() {
	var stalestKey string
	var stalest time.Time
	for key, attempts := range l.windows {
		last := attempts[len(attempts)-1]
		if stalestKey == "" || last.Before(stalest) {
			stalestKey = key
			stalest = last
		}
	}
	if stalestKey != "" {
		delete(l.windows, stalestKey)
	}
}

// Remaining reports how many attempts the client has left in the
// current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	attempts := l.prune(key, l.now())
	remaining := l.config.MaxAttempts - len(attempts)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// RetryAfter returns how long the client must wait before Allow can
// return true again. Zero when not currently limited.
func (l *Limiter) RetryAfter(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	attempts := l.prune(key, now)
	if len(attempts) < l.config.MaxAttempts {
		return 0
	}
	// The window frees a slot when the oldest counted attempt ages out.
	oldest := attempts[len(attempts)-l.config.MaxAttempts]
	return oldest.Add(l.config.Window).Sub(now)
}

// Cleanup drops clients whose entire window has aged out. Expiry is
// otherwise lazy per-key, so this only bounds idle map growth.
func (l *Limiter) Cleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.windows {
		l.prune(key, now)
	}
}

// StartCleanup runs Cleanup on a ticker until ctx is done.
func (l *Limiter) StartCleanup(ctx context.Context) {
	ticker := time.NewTicker(l.config.Window)
	go func() {
		for {
			select {
			case <-ticker.C:
				l.Cleanup()
			case <-ctx.Done():
				ticker.Stop()
				return
			}
		}
	}()
}

// Package ratelimit provides an exact per-domain sliding-window request
// limiter. Each domain keeps the timestamps of requests granted in the
// trailing window; a request is granted only while the count stays below
// the domain's limit, so concurrent callers can never overshoot.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the trailing interval over which requests are counted.
const Window = 60 * time.Second

type domainState struct {
	mu     sync.Mutex
	limit  int
	stamps []time.Time
}

// Limiter limits requests per domain. Safe for concurrent use; unrelated
// domains never contend on the same lock.
type Limiter struct {
	mu           sync.RWMutex
	domains      map[string]*domainState
	defaultLimit int
	now          func() time.Time
}

// New creates a Limiter. defaultLimit applies to domains with no explicit
// limit; values below 1 are treated as 1.
func New(defaultLimit int) *Limiter {
	if defaultLimit < 1 {
		defaultLimit = 1
	}
	return &Limiter{
		domains:      make(map[string]*domainState),
		defaultLimit: defaultLimit,
		now:          time.Now,
	}
}

// SetLimit sets the per-window limit for a domain.
func (l *Limiter) SetLimit(domain string, limit int) {
	if limit < 1 {
		limit = 1
	}
	st := l.state(domain)
	st.mu.Lock()
	st.limit = limit
	st.mu.Unlock()
}

// Allow reports whether a request to the domain may proceed right now.
// On true it records the request; on false it records nothing.
func (l *Limiter) Allow(domain string) bool {
	st := l.state(domain)
	now := l.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	// Drop timestamps that have left the window.
	cutoff := now.Add(-Window)
	keep := st.stamps[:0]
	for _, ts := range st.stamps {
		if ts.After(cutoff) {
			keep = append(keep, ts)
		}
	}
	st.stamps = keep

	if len(st.stamps) >= st.limit {
		return false
	}
	st.stamps = append(st.stamps, now)
	return true
}

// InWindow returns how many granted requests are currently inside the
// domain's window.
func (l *Limiter) InWindow(domain string) int {
	st := l.state(domain)
	cutoff := l.now().Add(-Window)

	st.mu.Lock()
	defer st.mu.Unlock()

	n := 0
	for _, ts := range st.stamps {
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}

func (l *Limiter) state(domain string) *domainState {
	l.mu.RLock()
	st, ok := l.domains[domain]
	l.mu.RUnlock()
	if ok {
		return st
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok = l.domains[domain]; ok {
		return st
	}
	st = &domainState{limit: l.defaultLimit}
	l.domains[domain] = st
	return st
}

// ABOUTME: Thread-safe fixed-window rate limiter keyed by client identity.
// ABOUTME: Used by the dispatcher to bound request rate per principal or remote address.

package ratelimit

import (
	"sync"
	"time"
)

// window tracks one client's counter for the current fixed window.
type window struct {
	start time.Time
	count int
}

// Limiter provides a thread-safe fixed-window request counter per client key.
// Increment-and-check is a single atomic step under the mutex, so two
// concurrent requests from the same client cannot both be admitted when only
// one slot remains.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	ceiling  int
	interval time.Duration
	done     chan struct{}
	closed   bool

	// now is swappable for tests
	now func() time.Time
}

// New creates a limiter admitting at most ceiling requests per interval for
// each client key. A background goroutine periodically evicts elapsed windows.
func New(ceiling int, interval time.Duration) *Limiter {
	l := &Limiter{
		windows:  make(map[string]*window),
		ceiling:  ceiling,
		interval: interval,
		done:     make(chan struct{}),
		now:      time.Now,
	}
	go l.sweep()
	return l
}

// Allow records one request for the given client key and reports whether it
// is admitted. When the request is rejected, retryAfter is the time remaining
// until the client's window rolls over.
func (l *Limiter) Allow(key string) (ok bool, retryAfter time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, exists := l.windows[key]
	if !exists || now.Sub(w.start) >= l.interval {
		l.windows[key] = &window{start: now, count: 1}
		return true, 0
	}

	if w.count >= l.ceiling {
		return false, w.start.Add(l.interval).Sub(now)
	}

	w.count++
	return true, 0
}

// Remaining reports how many requests the key may still make in its current
// window. A key with no window has full capacity.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, exists := l.windows[key]
	if !exists || l.now().Sub(w.start) >= l.interval {
		return l.ceiling
	}
	if w.count >= l.ceiling {
		return 0
	}
	return l.ceiling - w.count
}

// sweep runs in a background goroutine, periodically removing elapsed windows
// so idle clients do not accumulate state.
func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			l.evictElapsed()
		}
	}
}

// evictElapsed removes all windows whose interval has passed.
func (l *Limiter) evictElapsed() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, w := range l.windows {
		if now.Sub(w.start) >= l.interval {
			delete(l.windows, key)
		}
	}
}

// Close stops the background sweeper. Safe to call multiple times.
func (l *Limiter) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		l.closed = true
		close(l.done)
	}
}

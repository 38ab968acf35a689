// Package ratelimit implements a sliding-window rate limiter keyed by an
// opaque client identifier (typically the peer address). Each key carries
// two independent windows: a minute window and an hour window. Limits are
// enforced BEFORE tenant identification so enumeration probes burn quota
// without learning anything.
//
// A background sweep drops keys with no activity in the last hour. The
// sweep goroutine respects context cancellation for graceful shutdown.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	minuteWindow = time.Minute
	hourWindow   = time.Hour

	// DefaultSweepInterval is how often idle keys are evicted.
	DefaultSweepInterval = 5 * time.Minute
)

type entry struct {
	minute []time.Time
	hour   []time.Time
}

// Limiter is a process-wide sliding-window limiter, safe for concurrent use.
type Limiter struct {
	mu      sync.Mutex
	clients map[string]*entry

	perMinute int
	perHour   int

	now func() time.Time // stubbed in tests

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a limiter with the given per-minute and per-hour caps.
func New(perMinute, perHour int) *Limiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	if perHour <= 0 {
		perHour = 1000
	}
	return &Limiter{
		clients:   make(map[string]*entry),
		perMinute: perMinute,
		perHour:   perHour,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Allow reports whether the client may proceed. On allow, the current
// timestamp is appended to both windows. On deny, retryAfter hints when
// the earliest slot frees up. Non-blocking and sub-millisecond.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.clients[key]
	if !ok {
		e = &entry{}
		l.clients[key] = e
	}

	e.minute = trim(e.minute, now.Add(-minuteWindow))
	e.hour = trim(e.hour, now.Add(-hourWindow))

	if len(e.minute) >= l.perMinute {
		return false, e.minute[0].Add(minuteWindow).Sub(now)
	}
	if len(e.hour) >= l.perHour {
		return false, e.hour[0].Add(hourWindow).Sub(now)
	}

	e.minute = append(e.minute, now)
	e.hour = append(e.hour, now)
	return true, 0
}

// Remaining returns how many requests the key has left in the minute
// window, for response headers.
func (l *Limiter) Remaining(key string) int {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.clients[key]
	if !ok {
		return l.perMinute
	}
	e.minute = trim(e.minute, now.Add(-minuteWindow))
	if n := l.perMinute - len(e.minute); n > 0 {
		return n
	}
	return 0
}

// PerMinute returns the minute cap.
func (l *Limiter) PerMinute() int { return l.perMinute }

// Start launches the background sweep. Returns immediately; the sweep
// stops when ctx is cancelled or Stop is called.
func (l *Limiter) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopCh:
				return
			case <-ticker.C:
				evicted := l.sweep()
				if evicted > 0 {
					log.Debug().Int("evicted", evicted).Msg("rate limiter sweep")
				}
			}
		}
	}()
}

// Stop terminates the background sweep.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// sweep drops keys with no timestamps in the last hour and returns the
// number of evicted keys.
func (l *Limiter) sweep() int {
	cutoff := l.now().Add(-hourWindow)
	l.mu.Lock()
	defer l.mu.Unlock()

	evicted := 0
	for key, e := range l.clients {
		e.hour = trim(e.hour, cutoff)
		if len(e.hour) == 0 {
			delete(l.clients, key)
			evicted++
		}
	}
	return evicted
}

// trim drops timestamps at or before the cutoff. The slice is
// chronological, so a single scan from the front suffices.
func trim(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	return append(ts[:0], ts[i:]...)
}

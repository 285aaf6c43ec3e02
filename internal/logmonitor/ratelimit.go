package logmonitor

import (
	"sync"

	"golang.org/x/time/rate"
)

// AlertLimiter caps the rate at which log-derived alert events are emitted
// per operation, so a command that prints thousands of error lines per
// second cannot flood the progress channel. Adapted from the token-bucket
// pattern used for model-provider rate limiting elsewhere in this codebase's
// lineage: a process-local golang.org/x/time/rate.Limiter guarded by a mutex
// for safe concurrent bursts.
type AlertLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	dropped int
}

// NewAlertLimiter constructs a limiter allowing up to burst alerts
// immediately and perSecond thereafter.
func NewAlertLimiter(perSecond float64, burst int) *AlertLimiter {
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &AlertLimiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow reports whether an alert may be emitted right now. When it returns
// false the caller should silently drop the alert (tracked via Dropped)
// rather than blocking the scan loop.
func (l *AlertLimiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.limiter.Allow() {
		return true
	}
	l.dropped++
	return false
}

// Dropped reports how many alerts have been suppressed since construction.
func (l *AlertLimiter) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

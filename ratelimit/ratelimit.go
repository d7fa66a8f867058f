// Package ratelimit implements a sliding-window request limiter matching the
// hard per-minute quota of the upstream weather API.
package ratelimit

import (
	"context"
	"os"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "ratelimit",
})

const (
	window       = time.Minute
	pollInterval = 5 * time.Second
)

// Limiter grants at most perMinute acquisitions within any trailing
// one-minute window. Blocked callers sleep and retry; there is no fairness
// guarantee beyond retry order, so starvation under sustained overload is
// possible and accepted.
type Limiter struct {
	mu        sync.Mutex
	perMinute int
	grants    []time.Time

	// now and sleep are swapped out in tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

func New(perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	return &Limiter{
		perMinute: perMinute,
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// TryAcquire grants a slot if one is free and returns immediately.
func (l *Limiter) TryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tryLocked()
}

// Acquire blocks until a slot is granted or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		ok := l.tryLocked()
		var wait time.Duration
		if !ok {
			wait = l.grants[0].Add(window).Sub(l.now())
		}
		l.mu.Unlock()
		if ok {
			return nil
		}
		if wait > pollInterval || wait <= 0 {
			wait = pollInterval
		}
		log.Debug("quota exhausted, waiting for a slot", "wait", wait)
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

func (l *Limiter) tryLocked() bool {
	now := l.now()
	cutoff := now.Add(-window)
	keep := l.grants[:0]
	for _, t := range l.grants {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	l.grants = keep
	if len(l.grants) >= l.perMinute {
		return false
	}
	l.grants = append(l.grants, now)
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

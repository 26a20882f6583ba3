// Package ratelimit holds the client-side request budgets for the
// optimization service.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Limiter is a token bucket shared by one class of calls. After the service
// throttles the client, Hold keeps the bucket closed for as long as the
// service asked.
type Limiter struct {
	scope string
	rate  float64 // tokens per second
	burst float64

	mu        sync.Mutex
	tokens    float64
	updated   time.Time
	holdUntil time.Time
	warnedAt  time.Time
}

// New creates a full limiter for scope.
func New(scope string, rate, burst float64) *Limiter {
	return &Limiter{
		scope:   scope,
		rate:    rate,
		burst:   burst,
		tokens:  burst,
		updated: time.Now(),
	}
}

// NewQueryLimiter creates the limiter shared by all read-only calls.
func NewQueryLimiter() *Limiter {
	return New("query", QueryRatePerSec, QueryBurstCapacity)
}

// NewMutationLimiter creates the limiter shared by submit, retry, export and
// delete.
func NewMutationLimiter() *Limiter {
	return New("mutation", MutationRatePerSec, MutationBurstCapacity)
}

// Wait takes one token. It blocks while the bucket is empty or held, and
// returns ctx.Err() if ctx ends first.
func (l *Limiter) Wait(ctx context.Context) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		d := l.take(time.Now())
		if d == 0 {
			return nil
		}
		l.warnSlow(d)

		if timer == nil {
			timer = time.NewTimer(d)
		} else {
			timer.Reset(d)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Hold closes the limiter for d, capped at MaxHold. A shorter hold never cuts
// a longer one short.
func (l *Limiter) Hold(d time.Duration) {
	if d <= 0 {
		return
	}
	d = min(d, MaxHold)
	until := time.Now().Add(d)

	l.mu.Lock()
	defer l.mu.Unlock()
	if until.After(l.holdUntil) {
		l.holdUntil = until
		log.Debug().Str("scope", l.scope).Dur("hold", d).Msg("request budget held")
	}
}

// HeldFor returns how long the limiter stays closed.
func (l *Limiter) HeldFor() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return max(time.Until(l.holdUntil), 0)
}

// Available returns the tokens in the bucket right now.
func (l *Limiter) Available() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refill(time.Now())
	return l.tokens
}

// take consumes a token and returns 0, or returns how long to wait before
// trying again.
func (l *Limiter) take(now time.Time) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Before(l.holdUntil) {
		return l.holdUntil.Sub(now)
	}
	l.refill(now)
	if l.tokens >= 1 {
		l.tokens--
		return 0
	}
	wait := time.Duration((1 - l.tokens) / l.rate * float64(time.Second))
	return max(wait, time.Millisecond)
}

func (l *Limiter) refill(now time.Time) {
	if elapsed := now.Sub(l.updated); elapsed > 0 {
		l.tokens = min(l.burst, l.tokens+elapsed.Seconds()*l.rate)
		l.updated = now
	}
}

// warnSlow reports long waits, at most once per warnInterval.
func (l *Limiter) warnSlow(d time.Duration) {
	if d < slowWait {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.warnedAt) < warnInterval {
		return
	}
	l.warnedAt = time.Now()
	log.Warn().Str("scope", l.scope).Dur("wait", d).Msg("waiting for request budget")
}

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter implements rate limiting for tokens per minute (TPM) and requests per minute (RPM).
// A zero limit disables that dimension. A nil *Limiter never blocks.
type Limiter struct {
	requests *rate.Limiter
	tokens   *rate.Limiter

	mu         sync.Mutex
	pauseUntil time.Time
}

// NewLimiter creates a new rate limiter with specified TPM and RPM limits
func NewLimiter(tpm, rpm int) *Limiter {
	return &Limiter{
		requests: perMinute(rpm),
		tokens:   perMinute(tpm),
	}
}

func perMinute(n int) *rate.Limiter {
	if n <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(float64(n)/60), n)
}

// Wait blocks until the request can proceed within rate limits
func (l *Limiter) Wait(ctx context.Context, tokensNeeded int) error {
	if l == nil {
		return nil
	}

	if err := l.waitPause(ctx); err != nil {
		return err
	}

	if l.requests != nil {
		if err := l.requests.Wait(ctx); err != nil {
			return ctxErr(ctx, err)
		}
	}

	if l.tokens != nil && tokensNeeded > 0 {
		// A single oversized request may use the whole bucket but never more.
		if burst := l.tokens.Burst(); tokensNeeded > burst {
			tokensNeeded = burst
		}
		if err := l.tokens.WaitN(ctx, tokensNeeded); err != nil {
			return ctxErr(ctx, err)
		}
	}

	return nil
}

// Pause holds every caller of Wait for d, typically after a 429 with Retry-After.
// Overlapping pauses extend to the latest deadline.
func (l *Limiter) Pause(d time.Duration) {
	if l == nil || d <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if until := time.Now().Add(d); until.After(l.pauseUntil) {
		l.pauseUntil = until
	}
}

// PausedFor returns the remaining pause, zero when not paused
func (l *Limiter) PausedFor() time.Duration {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if remaining := time.Until(l.pauseUntil); remaining > 0 {
		return remaining
	}
	return 0
}

// waitPause fails at once with context.DeadlineExceeded when the pause
// outlasts ctx's deadline.
func (l *Limiter) waitPause(ctx context.Context) error {
	for {
		remaining := l.PausedFor()
		if remaining <= 0 {
			return nil
		}
		if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < remaining {
			return context.DeadlineExceeded
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// SetTPM updates the tokens per minute limit
func (l *Limiter) SetTPM(tpm int) {
	if l.tokens == nil || tpm <= 0 {
		l.tokens = perMinute(tpm)
		return
	}
	l.tokens.SetLimit(rate.Limit(float64(tpm) / 60))
	l.tokens.SetBurst(tpm)
}

// SetRPM updates the requests per minute limit
func (l *Limiter) SetRPM(rpm int) {
	if l.requests == nil || rpm <= 0 {
		l.requests = perMinute(rpm)
		return
	}
	l.requests.SetLimit(rate.Limit(float64(rpm) / 60))
	l.requests.SetBurst(rpm)
}

// EstimateTokens gives a rough token count for text, used for TPM accounting
func EstimateTokens(text string) int {
	tokens := len(text) / 4
	if tokens < 100 {
		tokens = 100
	}
	return tokens
}

// rate.Limiter reports "would exceed context deadline" before the deadline
// actually passes. Requests never exceed the burst, so with a deadline set
// that is the only way Wait fails.
func ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, ok := ctx.Deadline(); ok {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}

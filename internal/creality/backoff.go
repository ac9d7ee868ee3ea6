package creality

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrMaxReconnectAttempts is returned when the reconnect attempt budget is
// exhausted.
var ErrMaxReconnectAttempts = errors.New("maximum reconnection attempts reached")

// BackoffConfig tunes the reconnect backoff schedule.
type BackoffConfig struct {
	// InitialDelay is the wait before the first reconnect attempt.
	InitialDelay time.Duration
	// MaxDelay caps the wait between attempts.
	MaxDelay time.Duration
	// Factor multiplies the wait after every attempt.
	Factor float64
	// MaxAttempts limits reconnect attempts (0 = unlimited).
	MaxAttempts int
}

// DefaultBackoffConfig returns the reconnect schedule used against real
// printers: 1s doubling up to 60s, retrying forever. Firmware reboots during
// self-test, so giving up permanently would strand the integration.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Factor:       2.0,
		MaxAttempts:  0,
	}
}

// Backoff tracks reconnect attempts and produces exponentially growing waits.
// Safe for concurrent use.
type Backoff struct {
	cfg      BackoffConfig
	mu       sync.Mutex
	attempts int
	next     time.Duration
}

// NewBackoff creates a Backoff with the given schedule.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{cfg: cfg, next: cfg.InitialDelay}
}

// Reset restores the initial schedule. Call after a successful connect.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attempts = 0
	b.next = b.cfg.InitialDelay
}

// Attempts returns the number of waits taken since the last Reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Wait blocks for the next backoff interval. It returns
// ErrMaxReconnectAttempts once the budget is exhausted, or the context error
// if ctx is done first.
func (b *Backoff) Wait(ctx context.Context) error {
	b.mu.Lock()
	if b.cfg.MaxAttempts > 0 && b.attempts >= b.cfg.MaxAttempts {
		b.mu.Unlock()
		return ErrMaxReconnectAttempts
	}
	b.attempts++
	delay := b.next
	grown := time.Duration(float64(b.next) * b.cfg.Factor)
	if grown > b.cfg.MaxDelay {
		grown = b.cfg.MaxDelay
	}
	b.next = grown
	b.mu.Unlock()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

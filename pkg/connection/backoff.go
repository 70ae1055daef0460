package connection

import (
	"sync"
	"time"
)

// Default backoff settings.
const (
	// DefaultMinBackoff is the initial reconnection delay.
	DefaultMinBackoff = 1 * time.Second

	// DefaultMaxBackoff caps the reconnection delay.
	DefaultMaxBackoff = 30 * time.Second

	// DefaultBackoffIncrease is added to the delay after every failed
	// attempt.
	DefaultBackoffIncrease = 1 * time.Second
)

// Backoff computes additive reconnection delays: each failed attempt
// increases the next delay by a fixed amount up to a cap, and a
// successful connection resets it to the minimum. The delay never
// decreases between failures.
type Backoff struct {
	mu sync.Mutex

	next time.Duration

	min      time.Duration
	max      time.Duration
	increase time.Duration

	attempts int
}

// NewBackoff creates a backoff calculator with default settings.
func NewBackoff() *Backoff {
	return NewBackoffWithConfig(BackoffConfig{})
}

// BackoffConfig allows customizing backoff parameters.
type BackoffConfig struct {
	Min      time.Duration
	Max      time.Duration
	Increase time.Duration
}

// NewBackoffWithConfig creates a backoff calculator with custom settings.
func NewBackoffWithConfig(cfg BackoffConfig) *Backoff {
	if cfg.Min <= 0 {
		cfg.Min = DefaultMinBackoff
	}
	if cfg.Max <= 0 {
		cfg.Max = DefaultMaxBackoff
	}
	// The delay must never decrease between failures
	if cfg.Max < cfg.Min {
		cfg.Max = cfg.Min
	}
	if cfg.Increase <= 0 {
		cfg.Increase = DefaultBackoffIncrease
	}

	return &Backoff{
		next:     cfg.Min,
		min:      cfg.Min,
		max:      cfg.Max,
		increase: cfg.Increase,
	}
}

// Next returns the delay to wait before the next attempt and advances
// the backoff.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	delay := b.next
	b.attempts++

	next := b.next + b.increase
	if next > b.max {
		next = b.max
	}
	b.next = next

	return delay
}

// Peek returns the upcoming delay without advancing.
func (b *Backoff) Peek() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.next
}

// Reset returns the backoff to its minimum delay.
// Call this after a successful connection.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next = b.min
	b.attempts = 0
}

// Attempts returns the number of delays handed out since last reset.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

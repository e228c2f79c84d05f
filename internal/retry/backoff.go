// Package retry computes exponential backoff and tracks when failed
// operations become eligible again.
package retry

import (
	"errors"
	"time"
)

const (
	// DefaultBaseDelay is the delay before the first retry.
	DefaultBaseDelay = 2 * time.Second

	// DefaultMaxAttempts is the number of retries allowed per operation.
	DefaultMaxAttempts = 3
)

// ErrRetriesExhausted is returned when an operation has used all its retries.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Backoff is an exponential backoff policy.
type Backoff struct {
	BaseDelay   time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the 2s base, 3 attempt policy.
func DefaultBackoff() Backoff {
	return Backoff{BaseDelay: DefaultBaseDelay, MaxAttempts: DefaultMaxAttempts}
}

// Delay returns BaseDelay * 2^retryCount.
func (b Backoff) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return b.BaseDelay << uint(retryCount)
}

// Exhausted reports whether an operation with retryCount retries may not be retried again.
func (b Backoff) Exhausted(retryCount int) bool {
	return retryCount >= b.MaxAttempts
}

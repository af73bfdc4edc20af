package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/JakeFAU/proxyfetch/internal/fingerprint"
)

// Fetch failure kinds. Use errors.Is to test for them.
var (
	ErrInvalidURL       = fingerprint.ErrInvalidURL
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrRateLimited      = errors.New("rate limit exceeded")
	ErrAntiBotChallenge = errors.New("anti-bot challenge")
	ErrNetworkFailure   = errors.New("network failure")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// RateLimitedError reports how long the caller should wait before retrying.
type RateLimitedError struct {
	Wait time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%v: retry after %s", ErrRateLimited, e.Wait)
}

// Unwrap returns ErrRateLimited.
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// RetriesExhaustedError ends a fetch whose every attempt failed. Cause is the
// failure of the last attempt.
type RetriesExhaustedError struct {
	Attempts int
	Cause    error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%v after %d attempts: %v", ErrRetriesExhausted, e.Attempts, e.Cause)
}

// Unwrap exposes the last cause.
func (e *RetriesExhaustedError) Unwrap() error {
	return e.Cause
}

// Is matches ErrRetriesExhausted.
func (e *RetriesExhaustedError) Is(target error) bool {
	return target == ErrRetriesExhausted
}

// Package retry implements bounded retries with exponential backoff as an
// explicit state machine, so that attempt accounting and error classification
// can be tested without performing any I/O.
package retry

import (
	"errors"
	"math"
	"time"
)

// Default policy values.
const (
	DefaultMaxAttempts  = 3
	DefaultInitialDelay = time.Second
	DefaultMaxDelay     = 30 * time.Second
	DefaultMultiplier   = 2.0
	DefaultJitter       = 0.25
)

// Policy errors.
var (
	ErrInvalidAttempts   = errors.New("max attempts must be at least 1")
	ErrInvalidDelay      = errors.New("initial delay must not be negative")
	ErrInvalidMaxDelay   = errors.New("max delay must be >= initial delay")
	ErrInvalidMultiplier = errors.New("multiplier must be >= 1")
	ErrInvalidJitter     = errors.New("jitter must be between 0 and 1")
)

// Policy bounds how often and how fast an operation is retried.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int `koanf:"max_attempts"`
	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration `koanf:"initial_delay"`
	// MaxDelay caps the wait between attempts.
	MaxDelay   time.Duration `koanf:"max_delay"`
	Multiplier float64       `koanf:"multiplier"`
	// Jitter is the fraction of the delay to randomize (0.0 to 1.0).
	// A value of 0.25 means the actual delay will be in [delay*0.75, delay*1.25],
	// never above MaxDelay.
	Jitter float64 `koanf:"jitter"`
}

// DefaultPolicy returns the default retry policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  DefaultMaxAttempts,
		InitialDelay: DefaultInitialDelay,
		MaxDelay:     DefaultMaxDelay,
		Multiplier:   DefaultMultiplier,
		Jitter:       DefaultJitter,
	}
}

// Validate checks that the policy is usable.
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return ErrInvalidAttempts
	}
	if p.InitialDelay < 0 {
		return ErrInvalidDelay
	}
	if p.MaxDelay < p.InitialDelay {
		return ErrInvalidMaxDelay
	}
	if p.Multiplier < 1 {
		return ErrInvalidMultiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		return ErrInvalidJitter
	}
	return nil
}

// Backoff returns the delay before the given retry (1 for the first retry).
// r is a uniform random value in [0,1) used for jitter.
func (p Policy) Backoff(retry int, r float64) time.Duration {
	if retry < 1 {
		retry = 1
	}
	delay := math.Min(float64(p.InitialDelay)*math.Pow(p.Multiplier, float64(retry-1)), float64(p.MaxDelay))
	if p.Jitter > 0 {
		delay *= 1 + (2*r-1)*p.Jitter
	}
	return time.Duration(math.Min(delay, float64(p.MaxDelay)))
}

package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// State is the position of a Machine in its lifecycle.
type State string

// Machine states.
const (
	StateReady     State = "ready"     // no attempt finished yet
	StateWaiting   State = "waiting"   // last attempt failed, another is allowed
	StateSucceeded State = "succeeded" // last attempt succeeded
	StateFailed    State = "failed"    // last attempt failed with a non-retryable error
	StateExhausted State = "exhausted" // every allowed attempt failed
)

// Classifier reports whether an error is worth retrying.
type Classifier func(error) bool

// Decision is the outcome of recording one attempt.
type Decision struct {
	Retry bool
	// Delay is the wait before the next attempt when Retry is set.
	Delay time.Duration
	// Attempt is the number of the attempt just recorded, starting at 1.
	Attempt int
}

// Machine tracks attempts for a single operation. It is not safe for concurrent use.
type Machine struct {
	policy    Policy
	retryable Classifier
	rand      func() float64

	attempts int
	lastErr  error
	state    State
}

// MachineOption configures a Machine.
type MachineOption func(*Machine)

// WithRand overrides the jitter source.
func WithRand(r func() float64) MachineOption {
	return func(m *Machine) { m.rand = r }
}

// NewMachine creates a machine for one operation.
// A nil classifier treats every error as retryable.
func NewMachine(policy Policy, retryable Classifier, opts ...MachineOption) *Machine {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	if retryable == nil {
		retryable = func(error) bool { return true }
	}
	m := &Machine{
		policy:    policy,
		retryable: retryable,
		rand:      rand.Float64,
		state:     StateReady,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Next records the result of an attempt and decides whether to try again.
func (m *Machine) Next(err error) Decision {
	m.attempts++
	d := Decision{Attempt: m.attempts}

	if err == nil {
		m.state = StateSucceeded
		return d
	}
	m.lastErr = err

	switch {
	case !m.retryable(err):
		m.state = StateFailed
	case m.attempts >= m.policy.MaxAttempts:
		m.state = StateExhausted
	default:
		m.state = StateWaiting
		d.Retry = true
		d.Delay = m.policy.Backoff(m.attempts, m.rand())
	}
	return d
}

// Attempts returns the number of attempts recorded.
func (m *Machine) Attempts() int { return m.attempts }

// LastErr returns the most recent attempt error, if any.
func (m *Machine) LastErr() error { return m.lastErr }

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Retried reports whether the operation succeeded after at least one failure.
func (m *Machine) Retried() bool {
	return m.state == StateSucceeded && m.attempts > 1
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for d or returns ctx.Err() if the context ends first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails permanently or exhausts the machine.
// It returns the error of the last attempt, or the context error if the
// context ends while waiting between attempts.
func Do(ctx context.Context, m *Machine, sleep SleepFunc, fn func(ctx context.Context, attempt int) error) error {
	if sleep == nil {
		sleep = Sleep
	}
	for {
		err := fn(ctx, m.Attempts()+1)
		d := m.Next(err)
		if !d.Retry {
			return err
		}
		if err := sleep(ctx, d.Delay); err != nil {
			return err
		}
	}
}

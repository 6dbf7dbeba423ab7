package gateway

import (
	"fmt"
	"time"

	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
)

// RateLimitError is returned when admission control rejects a call. No provider call was made.
type RateLimitError struct {
	Info ratelimit.Info
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s: retry after %s", e.Info.Purpose, e.Info.RetryAfter.Round(time.Second))
}

// ExhaustedError is returned when every allowed attempt failed with a transient error.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("generation failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// RejectedError is returned when the provider or the response failed in a way
// retrying cannot fix, such as a 4xx status or malformed output.
type RejectedError struct {
	Attempts int
	Err      error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("generation rejected: %v", e.Err)
}

func (e *RejectedError) Unwrap() error {
	return e.Err
}

// InterruptedError ends a stream that failed after tokens were already delivered.
// Tokens already sent are not retracted.
type InterruptedError struct {
	Received int
	Err      error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("stream interrupted after %d chunks: %v", e.Received, e.Err)
}

func (e *InterruptedError) Unwrap() error {
	return e.Err
}

// InvalidRequestError is returned for requests that cannot be sent to the provider.
type InvalidRequestError struct {
	Message string
}

func (e *InvalidRequestError) Error() string {
	return "invalid generation request: " + e.Message
}

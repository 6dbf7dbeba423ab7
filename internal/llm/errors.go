package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/googleapis/gax-go/v2/apierror"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrMalformedResponse marks provider output that could not be parsed or validated.
// Retrying the same prompt is not expected to fix it within the attempt budget.
var ErrMalformedResponse = errors.New("malformed provider response")

// ErrEmptyPrompt is returned for requests with nothing to generate from.
var ErrEmptyPrompt = errors.New("prompt is empty")

// ProviderError is a failure reported by the generative provider with an HTTP-equivalent status.
type ProviderError struct {
	StatusCode int
	Message    string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (status %d): %s", e.StatusCode, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the status indicates a transient failure.
func (e *ProviderError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// grpcToHTTP maps gRPC status codes returned by the Gemini API to HTTP statuses.
var grpcToHTTP = map[codes.Code]int{
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.FailedPrecondition: http.StatusBadRequest,
	codes.OutOfRange:         http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.Internal:           http.StatusInternalServerError,
	codes.Unknown:            http.StatusInternalServerError,
	codes.DataLoss:           http.StatusInternalServerError,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Unavailable:        http.StatusServiceUnavailable,
	codes.DeadlineExceeded:   http.StatusGatewayTimeout,
}

// Classify converts provider SDK errors into *ProviderError where a status can be determined.
// Other errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	if ae, ok := apierror.FromError(err); ok {
		if code := ae.HTTPCode(); code > 0 {
			return &ProviderError{StatusCode: code, Message: ae.Error(), Err: err}
		}
		if st := ae.GRPCStatus(); st != nil {
			if code, ok := grpcToHTTP[st.Code()]; ok {
				return &ProviderError{StatusCode: code, Message: st.Message(), Err: err}
			}
		}
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.OK {
		if code, ok := grpcToHTTP[st.Code()]; ok {
			return &ProviderError{StatusCode: code, Message: st.Message(), Err: err}
		}
	}
	return err
}

// IsRetryable reports whether a generation failure is transient: network errors,
// attempt timeouts, 5xx and 429 statuses. Other 4xx statuses, malformed responses,
// empty prompts and caller cancellation are permanent. Unrecognized errors are
// treated as transient since the attempt budget bounds them anyway.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) ||
		errors.Is(err, ErrMalformedResponse) ||
		errors.Is(err, ErrEmptyPrompt) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pe *ProviderError
	if errors.As(Classify(err), &pe) {
		return pe.Retryable()
	}

	// Network errors and anything unrecognized.
	return true
}

// StatusCode returns the provider status carried by err, or 0.
func StatusCode(err error) int {
	var pe *ProviderError
	if errors.As(Classify(err), &pe) {
		return pe.StatusCode
	}
	return 0
}

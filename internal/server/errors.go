// Package server provides the HTTP REST API for the grant matcher.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/matching"
	"github.com/jonathan/grant-matcher/internal/types"
)

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// Error codes returned in the "error" field of JSON error bodies.
const (
	codeInvalidRequest     = "invalid_request"
	codeNotFound           = "not_found"
	codeRateLimited        = "rate_limit_exceeded"
	codeGenerationFailed   = "generation_failed"
	codeGenerationRejected = "generation_rejected"
	codeStreamInterrupted  = "generation_interrupted"
	codeUnavailable        = "retrieval_unavailable"
	codeTimeout            = "timeout"
	codeInternal           = "internal_error"
)

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	status, _ := classify(err)
	return status
}

// errorCode returns the machine-readable code for an error.
func errorCode(err error) string {
	_, code := classify(err)
	return code
}

func classify(err error) (int, string) {
	var (
		validation *ErrValidation
		invalid    *types.ValidationError
		input      *matching.InputError
		request    *gateway.InvalidRequestError
		notFound   *matching.NotFoundError
		limited    *gateway.RateLimitError
		exhausted  *gateway.ExhaustedError
		rejected   *gateway.RejectedError
		broken     *gateway.InterruptedError
	)

	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.As(err, &validation), errors.As(err, &invalid),
		errors.As(err, &input), errors.As(err, &request):
		return http.StatusBadRequest, codeInvalidRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound, codeNotFound
	case errors.As(err, &limited):
		return http.StatusTooManyRequests, codeRateLimited
	case errors.As(err, &exhausted):
		return http.StatusBadGateway, codeGenerationFailed
	case errors.As(err, &rejected):
		return http.StatusBadGateway, codeGenerationRejected
	case errors.As(err, &broken):
		return http.StatusBadGateway, codeStreamInterrupted
	case errors.Is(err, matching.ErrRetrievalUnavailable):
		return http.StatusServiceUnavailable, codeUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, codeTimeout
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

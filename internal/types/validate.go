package types

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidationError reports a malformed profile, program or feedback record.
// Validation failures are surfaced immediately and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// Validate validates the CompanyProfile.
func (p *CompanyProfile) Validate() error {
	if p == nil {
		return &ValidationError{Field: "profile", Message: "is required"}
	}
	return toValidationError(validate.Struct(p))
}

// Validate validates the ProgramCandidate, including the consistency of its size bounds.
func (p *ProgramCandidate) Validate() error {
	if p == nil {
		return &ValidationError{Field: "program", Message: "is required"}
	}
	if err := toValidationError(validate.Struct(p)); err != nil {
		return err
	}

	c := p.Criteria
	if c.MaxEmployees > 0 && c.MinEmployees > c.MaxEmployees {
		return &ValidationError{Field: "criteria.max_employees", Message: "must be >= min_employees"}
	}
	if c.MaxRevenue > 0 && c.MinRevenue > c.MaxRevenue {
		return &ValidationError{Field: "criteria.max_revenue", Message: "must be >= min_revenue"}
	}
	return nil
}

// Validate validates the FeedbackRecord.
func (r *FeedbackRecord) Validate() error {
	if r == nil {
		return &ValidationError{Field: "feedback", Message: "is required"}
	}
	return toValidationError(validate.Struct(r))
}

// toValidationError converts the first validator failure into a ValidationError.
func toValidationError(err error) error {
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := fe.Tag()
		if fe.Param() != "" {
			msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
		}
		return &ValidationError{Field: fe.Namespace(), Message: "failed " + msg}
	}

	return &ValidationError{Field: "input", Message: err.Error()}
}

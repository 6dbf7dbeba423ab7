package types

import (
	"time"

	"github.com/google/uuid"
)

// Direction is a user's judgment of whether a surfaced score was too high, accurate, or too low.
type Direction string

const (
	DirectionTooHigh  Direction = "too_high"
	DirectionAccurate Direction = "accurate"
	DirectionTooLow   Direction = "too_low"
)

// Outcome is the optional realized outcome of an application.
type Outcome string

const (
	OutcomeNone       Outcome = ""
	OutcomeNotApplied Outcome = "not_applied"
	OutcomeApplied    Outcome = "applied"
	OutcomeApproved   Outcome = "approved"
	OutcomeRejected   Outcome = "rejected"
)

// FeedbackRecord is a human judgment about a calibrated score.
// Records are immutable except for in-place correction by the same user for the same subject.
type FeedbackRecord struct {
	ID             uuid.UUID `json:"id"`
	UserID         string    `json:"user_id" validate:"required"`
	SubjectID      string    `json:"subject_id" validate:"required"`
	AccuracyRating int       `json:"accuracy_rating" validate:"min=1,max=5"`
	Direction      Direction `json:"direction" validate:"required,oneof=too_high accurate too_low"`
	Outcome        Outcome   `json:"outcome,omitempty" validate:"omitempty,oneof=not_applied applied approved rejected"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// IsDirectional reports whether the record expresses a correction (too high or too low).
func (r *FeedbackRecord) IsDirectional() bool {
	return r.Direction == DirectionTooHigh || r.Direction == DirectionTooLow
}

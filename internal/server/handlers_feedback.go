package server

import (
	"net/http"

	"github.com/jonathan/grant-matcher/internal/types"
)

// FeedbackRequest represents the request body for /feedback
type FeedbackRequest struct {
	UserID         string          `json:"user_id"`
	SubjectID      string          `json:"subject_id"`
	AccuracyRating int             `json:"accuracy_rating"`
	Direction      types.Direction `json:"direction"`
	Outcome        types.Outcome   `json:"outcome,omitempty"`
}

// OffsetResponse represents the response for /feedback/offset
type OffsetResponse struct {
	Offset int `json:"offset"`
}

// handleSubmitFeedback records feedback. A second submission by the same user
// for the same subject corrects the first in place.
func (s *Server) handleSubmitFeedback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Feedback == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "unavailable", "feedback storage is not configured")
		return
	}

	var req FeedbackRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}

	record := &types.FeedbackRecord{
		UserID:         req.UserID,
		SubjectID:      req.SubjectID,
		AccuracyRating: req.AccuracyRating,
		Direction:      req.Direction,
		Outcome:        req.Outcome,
	}
	if err := record.Validate(); err != nil {
		s.writeError(w, err)
		return
	}

	saved, err := s.deps.Feedback.UpsertFeedback(r.Context(), record)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, saved)
}

// handleGetOffset returns the offset the calibrator currently applies
func (s *Server) handleGetOffset(w http.ResponseWriter, r *http.Request) {
	if s.deps.Offsets == nil {
		s.jsonResponse(w, http.StatusOK, OffsetResponse{})
		return
	}
	offset, err := s.deps.Offsets.Offset(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, OffsetResponse{Offset: offset})
}

// handleRecalibrate runs one recalibration cycle immediately
func (s *Server) handleRecalibrate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recalibrator == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "unavailable", "recalibration is not configured")
		return
	}
	summary, err := s.deps.Recalibrator.RunOnce(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, summary)
}

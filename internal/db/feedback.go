package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/grant-matcher/internal/types"
)

// UpsertFeedback records a feedback record. A second submission by the same
// user for the same subject corrects the earlier one in place and keeps its ID
// and CreatedAt. The stored record is returned.
func (db *DB) UpsertFeedback(ctx context.Context, r *types.FeedbackRecord) (*types.FeedbackRecord, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	id := r.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	var outcome *string
	if r.Outcome != types.OutcomeNone {
		s := string(r.Outcome)
		outcome = &s
	}

	out := *r
	err := db.pool.QueryRow(ctx,
		`INSERT INTO match_feedback (id, user_id, subject_id, accuracy_rating, direction, outcome)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (user_id, subject_id) DO UPDATE SET
		     accuracy_rating = EXCLUDED.accuracy_rating,
		     direction = EXCLUDED.direction,
		     outcome = EXCLUDED.outcome,
		     updated_at = NOW()
		 RETURNING id, created_at, updated_at`,
		id, r.UserID, r.SubjectID, r.AccuracyRating, string(r.Direction), outcome,
	).Scan(&out.ID, &out.CreatedAt, &out.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert feedback: %w", err)
	}
	return &out, nil
}

// RecentFeedback returns up to limit feedback records, most recently updated first.
func (db *DB) RecentFeedback(ctx context.Context, limit int) ([]types.FeedbackRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, user_id, subject_id, accuracy_rating, direction, COALESCE(outcome, ''), created_at, updated_at
		 FROM match_feedback
		 ORDER BY updated_at DESC, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query feedback: %w", err)
	}
	defer rows.Close()

	var records []types.FeedbackRecord
	for rows.Next() {
		var r types.FeedbackRecord
		var direction, outcome string
		var createdAt, updatedAt time.Time
		if err := rows.Scan(&r.ID, &r.UserID, &r.SubjectID, &r.AccuracyRating, &direction, &outcome,
			&createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		r.Direction = types.Direction(direction)
		r.Outcome = types.Outcome(outcome)
		r.CreatedAt, r.UpdatedAt = createdAt, updatedAt
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback: %w", err)
	}
	return records, nil
}

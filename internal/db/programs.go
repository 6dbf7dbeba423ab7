package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/grant-matcher/internal/matching"
	"github.com/jonathan/grant-matcher/internal/types"
)

const programColumns = `id, title, category, support_type, support_amount, summary, criteria, deadline`

// GetProgram retrieves a support program by ID. It returns nil, nil if the program does not exist.
func (db *DB) GetProgram(ctx context.Context, id string) (*types.ProgramCandidate, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+programColumns+` FROM support_programs WHERE id = $1`, id)

	p, err := scanProgram(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get program %s: %w", id, err)
	}
	return p, nil
}

// GetPrograms retrieves the programs with the given IDs. Unknown IDs are skipped.
func (db *DB) GetPrograms(ctx context.Context, ids []string) ([]types.ProgramCandidate, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+programColumns+` FROM support_programs WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to get programs: %w", err)
	}
	return collectPrograms(rows)
}

// ListPrograms returns the whole catalog ordered by ID.
func (db *DB) ListPrograms(ctx context.Context) ([]types.ProgramCandidate, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+programColumns+` FROM support_programs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list programs: %w", err)
	}
	return collectPrograms(rows)
}

// UpsertProgram creates or replaces a support program.
func (db *DB) UpsertProgram(ctx context.Context, p *types.ProgramCandidate) error {
	if err := p.Validate(); err != nil {
		return err
	}
	criteria, err := json.Marshal(p.Criteria)
	if err != nil {
		return fmt.Errorf("failed to marshal criteria: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO support_programs (id, title, category, support_type, support_amount, summary, criteria, deadline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE SET
		     title = EXCLUDED.title,
		     category = EXCLUDED.category,
		     support_type = EXCLUDED.support_type,
		     support_amount = EXCLUDED.support_amount,
		     summary = EXCLUDED.summary,
		     criteria = EXCLUDED.criteria,
		     deadline = EXCLUDED.deadline,
		     updated_at = NOW()`,
		p.ID, p.Title, p.Category, p.SupportType, p.SupportAmount, p.Summary, criteria, p.Deadline,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert program %s: %w", p.ID, err)
	}
	return nil
}

// ProgramHit is a full-text search result.
type ProgramHit struct {
	ProgramID string  `json:"program_id"`
	Title     string  `json:"title"`
	Rank      float64 `json:"rank"`
	Headline  string  `json:"headline"`
}

// SearchPrograms runs a full-text search over program titles, categories and
// summaries, best match first.
func (db *DB) SearchPrograms(ctx context.Context, query string, limit int) ([]ProgramHit, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, title, ts_rank(search_vector, q) AS rank,
		        ts_headline('simple', summary, q, 'MaxWords=30, MinWords=10') AS headline
		 FROM support_programs, plainto_tsquery('simple', $1) AS q
		 WHERE search_vector @@ q
		 ORDER BY rank DESC, id
		 LIMIT $2`,
		query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search programs: %w", err)
	}
	defer rows.Close()

	var hits []ProgramHit
	for rows.Next() {
		var h ProgramHit
		var rank float32
		if err := rows.Scan(&h.ProgramID, &h.Title, &rank, &h.Headline); err != nil {
			return nil, fmt.Errorf("failed to scan search hit: %w", err)
		}
		h.Rank = float64(rank)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate search hits: %w", err)
	}
	return hits, nil
}

// SearchKeyword adapts SearchPrograms to the keyword retriever used by ranking.
func (db *DB) SearchKeyword(ctx context.Context, query string, limit int) ([]matching.Hit, error) {
	hits, err := db.SearchPrograms(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return keywordHits(hits), nil
}

func keywordHits(hits []ProgramHit) []matching.Hit {
	out := make([]matching.Hit, len(hits))
	for i, h := range hits {
		out[i] = matching.Hit{ProgramID: h.ProgramID, Snippet: h.Headline}
	}
	return out
}

func collectPrograms(rows pgx.Rows) ([]types.ProgramCandidate, error) {
	defer rows.Close()

	var programs []types.ProgramCandidate
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan program: %w", err)
		}
		programs = append(programs, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate programs: %w", err)
	}
	return programs, nil
}

func scanProgram(row pgx.Row) (*types.ProgramCandidate, error) {
	var p types.ProgramCandidate
	var criteria []byte
	if err := row.Scan(&p.ID, &p.Title, &p.Category, &p.SupportType, &p.SupportAmount,
		&p.Summary, &criteria, &p.Deadline); err != nil {
		return nil, err
	}
	if err := decodeCriteria(criteria, &p.Criteria); err != nil {
		return nil, fmt.Errorf("program %s: %w", p.ID, err)
	}
	return &p, nil
}

func decodeCriteria(raw []byte, c *types.EligibilityCriteria) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("failed to unmarshal criteria: %w", err)
	}
	return nil
}

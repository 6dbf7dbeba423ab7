package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/jonathan/grant-matcher/internal/types"
)

// GetProfile retrieves a company profile by ID. It returns nil, nil if the profile does not exist.
func (db *DB) GetProfile(ctx context.Context, id string) (*types.CompanyProfile, error) {
	var p types.CompanyProfile
	var foundedAt *time.Time
	err := db.pool.QueryRow(ctx,
		`SELECT id, company_type, industry, location, employee_count, annual_revenue,
		        founded_at, certifications, description
		 FROM company_profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.CompanyType, &p.Industry, &p.Location, &p.EmployeeCount, &p.AnnualRevenue,
		&foundedAt, &p.Certifications, &p.Description)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get profile %s: %w", id, err)
	}
	if foundedAt != nil {
		p.FoundedAt = *foundedAt
	}
	return &p, nil
}

// UpsertProfile creates or replaces a company profile.
func (db *DB) UpsertProfile(ctx context.Context, p *types.CompanyProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		return &types.ValidationError{Field: "CompanyProfile.ID", Message: "failed required"}
	}

	var foundedAt *time.Time
	if !p.FoundedAt.IsZero() {
		foundedAt = &p.FoundedAt
	}
	certs := p.Certifications
	if certs == nil {
		certs = []string{}
	}

	_, err := db.pool.Exec(ctx,
		`INSERT INTO company_profiles (id, company_type, industry, location, employee_count,
		                               annual_revenue, founded_at, certifications, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		     company_type = EXCLUDED.company_type,
		     industry = EXCLUDED.industry,
		     location = EXCLUDED.location,
		     employee_count = EXCLUDED.employee_count,
		     annual_revenue = EXCLUDED.annual_revenue,
		     founded_at = EXCLUDED.founded_at,
		     certifications = EXCLUDED.certifications,
		     description = EXCLUDED.description,
		     updated_at = NOW()`,
		p.ID, p.CompanyType, p.Industry, p.Location, p.EmployeeCount,
		p.AnnualRevenue, foundedAt, certs, p.Description,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile %s: %w", p.ID, err)
	}
	return nil
}

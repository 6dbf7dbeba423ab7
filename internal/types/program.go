package types

import "time"

// EligibilityCriteria holds the structured eligibility rules of a support program.
// Empty lists and zero bounds mean "no restriction".
type EligibilityCriteria struct {
	AllowedCompanyTypes    []string `json:"allowed_company_types,omitempty"`
	AllowedRegions         []string `json:"allowed_regions,omitempty"`
	MinEmployees           int      `json:"min_employees,omitempty" validate:"gte=0"`
	MaxEmployees           int      `json:"max_employees,omitempty" validate:"gte=0"`
	MinRevenue             int64    `json:"min_revenue,omitempty" validate:"gte=0"`
	MaxRevenue             int64    `json:"max_revenue,omitempty" validate:"gte=0"`
	RequiredCertifications []string `json:"required_certifications,omitempty"`
}

// ProgramCandidate is a read-only government support program considered for a profile.
type ProgramCandidate struct {
	ID            string              `json:"id" validate:"required"`
	Title         string              `json:"title" validate:"required"`
	Category      string              `json:"category,omitempty"`
	SupportType   string              `json:"support_type,omitempty"`
	SupportAmount string              `json:"support_amount,omitempty"`
	Summary       string              `json:"summary,omitempty"`
	Criteria      EligibilityCriteria `json:"criteria"`
	Deadline      *time.Time          `json:"deadline,omitempty"`
}

// IsClosed reports whether the application deadline has passed at the given time.
// Programs without a deadline are always open.
func (p *ProgramCandidate) IsClosed(at time.Time) bool {
	return p.Deadline != nil && p.Deadline.Before(at)
}

// Package types provides type definitions for structured data used throughout the grant-matcher system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"strings"
	"time"
)

// CompanyProfile is an immutable snapshot of a business profile evaluated against programs.
// It is owned by the caller; the matching engine never persists it.
type CompanyProfile struct {
	ID             string    `json:"id,omitempty"`
	CompanyType    string    `json:"company_type,omitempty"`
	Industry       string    `json:"industry,omitempty" validate:"max=200"`
	Location       string    `json:"location,omitempty" validate:"max=200"`
	EmployeeCount  int       `json:"employee_count" validate:"gte=0"`
	AnnualRevenue  int64     `json:"annual_revenue" validate:"gte=0"`
	FoundedAt      time.Time `json:"founded_at,omitempty"`
	Certifications []string  `json:"certifications,omitempty" validate:"dive,required"`
	Description    string    `json:"description,omitempty"`
}

// profileFieldCount is the number of optional profile fields counted by ProfileCompleteness.
const profileFieldCount = 7

// ProfileCompleteness returns the fraction (0.0-1.0) of optional profile fields that are filled in.
// Certifications are not counted because an empty set is a legitimate answer.
func ProfileCompleteness(p *CompanyProfile) float64 {
	if p == nil {
		return 0
	}

	filled := 0
	if strings.TrimSpace(p.CompanyType) != "" {
		filled++
	}
	if strings.TrimSpace(p.Industry) != "" {
		filled++
	}
	if strings.TrimSpace(p.Location) != "" {
		filled++
	}
	if p.EmployeeCount > 0 {
		filled++
	}
	if p.AnnualRevenue > 0 {
		filled++
	}
	if !p.FoundedAt.IsZero() {
		filled++
	}
	if strings.TrimSpace(p.Description) != "" {
		filled++
	}

	return float64(filled) / float64(profileFieldCount)
}

// HasCertification reports whether the profile holds the named certification (case-insensitive).
func (p *CompanyProfile) HasCertification(name string) bool {
	for _, c := range p.Certifications {
		if strings.EqualFold(strings.TrimSpace(c), strings.TrimSpace(name)) {
			return true
		}
	}
	return false
}

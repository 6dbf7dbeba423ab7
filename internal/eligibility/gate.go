// Package eligibility decides whether a company profile passes a program's eligibility criteria
// before any scoring happens. Evaluation is deterministic and performs no I/O.
package eligibility

import (
	"fmt"
	"strings"

	"github.com/jonathan/grant-matcher/internal/types"
)

// Rule identifies a single eligibility rule.
type Rule string

// Rules in evaluation order. The first failing rule is reported, so the most
// actionable rule for the user comes first.
const (
	RuleCompanyType   Rule = "company_type"
	RuleSize          Rule = "size"
	RuleRegion        Rule = "region"
	RuleCertification Rule = "certification"
)

// nationwide is the region wildcard accepted in AllowedRegions.
const nationwide = "nationwide"

// Verdict is the outcome of an eligibility evaluation.
type Verdict struct {
	Eligible   bool   `json:"eligible"`
	FailedRule Rule   `json:"failed_rule,omitempty"`
	Reason     string `json:"reason,omitempty"`
}

// Pass is the verdict returned when every rule passes.
var Pass = Verdict{Eligible: true}

func fail(rule Rule, format string, args ...any) Verdict {
	return Verdict{Eligible: false, FailedRule: rule, Reason: fmt.Sprintf(format, args...)}
}

// Evaluate checks the profile against the criteria in fixed rule order.
// It never errors: a nil profile fails the first rule that has a restriction.
func Evaluate(profile *types.CompanyProfile, criteria types.EligibilityCriteria) Verdict {
	if profile == nil {
		profile = &types.CompanyProfile{}
	}

	checks := []func(*types.CompanyProfile, types.EligibilityCriteria) (Verdict, bool){
		checkCompanyType,
		checkSize,
		checkRegion,
		checkCertifications,
	}
	for _, check := range checks {
		if v, failed := check(profile, criteria); failed {
			return v
		}
	}
	return Pass
}

func checkCompanyType(p *types.CompanyProfile, c types.EligibilityCriteria) (Verdict, bool) {
	if len(c.AllowedCompanyTypes) == 0 {
		return Pass, false
	}
	for _, allowed := range c.AllowedCompanyTypes {
		if equalFold(allowed, p.CompanyType) || equalFold(allowed, p.Industry) {
			return Pass, false
		}
	}
	return fail(RuleCompanyType, "company type %q is not one of %s",
		firstNonEmpty(p.CompanyType, p.Industry), strings.Join(c.AllowedCompanyTypes, ", ")), true
}

func checkSize(p *types.CompanyProfile, c types.EligibilityCriteria) (Verdict, bool) {
	if c.MinEmployees > 0 && p.EmployeeCount < c.MinEmployees {
		return fail(RuleSize, "employee count %d is below the minimum of %d", p.EmployeeCount, c.MinEmployees), true
	}
	if c.MaxEmployees > 0 && p.EmployeeCount > c.MaxEmployees {
		return fail(RuleSize, "employee count %d exceeds the maximum of %d", p.EmployeeCount, c.MaxEmployees), true
	}
	if c.MinRevenue > 0 && p.AnnualRevenue < c.MinRevenue {
		return fail(RuleSize, "annual revenue %d is below the minimum of %d", p.AnnualRevenue, c.MinRevenue), true
	}
	if c.MaxRevenue > 0 && p.AnnualRevenue > c.MaxRevenue {
		return fail(RuleSize, "annual revenue %d exceeds the maximum of %d", p.AnnualRevenue, c.MaxRevenue), true
	}
	return Pass, false
}

func checkRegion(p *types.CompanyProfile, c types.EligibilityCriteria) (Verdict, bool) {
	if len(c.AllowedRegions) == 0 {
		return Pass, false
	}
	location := strings.ToLower(strings.TrimSpace(p.Location))
	for _, region := range c.AllowedRegions {
		r := strings.ToLower(strings.TrimSpace(region))
		if r == nationwide {
			return Pass, false
		}
		if r != "" && location != "" && strings.Contains(location, r) {
			return Pass, false
		}
	}
	return fail(RuleRegion, "location %q is outside the allowed regions (%s)",
		p.Location, strings.Join(c.AllowedRegions, ", ")), true
}

func checkCertifications(p *types.CompanyProfile, c types.EligibilityCriteria) (Verdict, bool) {
	var missing []string
	for _, cert := range c.RequiredCertifications {
		if strings.TrimSpace(cert) == "" {
			continue
		}
		if !p.HasCertification(cert) {
			missing = append(missing, cert)
		}
	}
	if len(missing) > 0 {
		return fail(RuleCertification, "missing required certifications: %s", strings.Join(missing, ", ")), true
	}
	return Pass, false
}

func equalFold(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a != "" && strings.EqualFold(a, b)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

package matching

import (
	"strconv"
	"strings"

	"github.com/jonathan/grant-matcher/internal/prompts"
	"github.com/jonathan/grant-matcher/internal/types"
)

const (
	promptFile       = "match.json"
	promptScoreMatch = "score-match"
	promptNoContext  = "no-context"
)

const unknownValue = "unknown"

// buildPrompt renders the scoring prompt for one profile and program.
// evidence is the supporting text (documents and retrieval context), possibly empty.
func buildPrompt(profile *types.CompanyProfile, program *types.ProgramCandidate, evidence string) (string, error) {
	if strings.TrimSpace(evidence) == "" {
		noContext, err := prompts.Get(promptFile, promptNoContext)
		if err != nil {
			return "", err
		}
		evidence = noContext
	}

	founded := unknownValue
	if !profile.FoundedAt.IsZero() {
		founded = profile.FoundedAt.Format("2006-01-02")
	}
	certs := "none"
	if len(profile.Certifications) > 0 {
		certs = strings.Join(profile.Certifications, ", ")
	}

	return prompts.Render(promptFile, promptScoreMatch, map[string]string{
		"CompanyType":     orUnknown(profile.CompanyType),
		"Industry":        orUnknown(profile.Industry),
		"Location":        orUnknown(profile.Location),
		"EmployeeCount":   strconv.Itoa(profile.EmployeeCount),
		"AnnualRevenue":   strconv.FormatInt(profile.AnnualRevenue, 10),
		"FoundedAt":       founded,
		"Certifications":  certs,
		"Description":     orUnknown(profile.Description),
		"ProgramTitle":    program.Title,
		"ProgramCategory": orUnknown(program.Category),
		"SupportType":     orUnknown(program.SupportType),
		"SupportAmount":   orUnknown(program.SupportAmount),
		"ProgramSummary":  orUnknown(program.Summary),
		"Context":         evidence,
	})
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return unknownValue
	}
	return s
}

// evidenceText joins non-empty documents and retrieval context into one block.
func evidenceText(documents []string, context string) string {
	var parts []string
	for _, d := range documents {
		if d = strings.TrimSpace(d); d != "" {
			parts = append(parts, d)
		}
	}
	if c := strings.TrimSpace(context); c != "" {
		parts = append(parts, c)
	}
	return strings.Join(parts, "\n\n")
}

func hasDocuments(documents []string) bool {
	for _, d := range documents {
		if strings.TrimSpace(d) != "" {
			return true
		}
	}
	return false
}

package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonathan/grant-matcher/internal/calibration"
	"github.com/jonathan/grant-matcher/internal/eligibility"
	"github.com/jonathan/grant-matcher/internal/feedback"
	"github.com/jonathan/grant-matcher/internal/matching"
	"github.com/jonathan/grant-matcher/internal/ranking"
	"github.com/jonathan/grant-matcher/internal/types"
)

func TestPrintMatch(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	raw := 92
	p.PrintMatch(&matching.Match{
		ProgramID:    "p-1",
		ProgramTitle: "Startup Growth Voucher",
		Eligibility:  eligibility.Pass,
		Score:        91,
		RawScore:     &raw,
		Offset:       3,
		Attempts:     2,
		Signals:      calibration.Signals{HasDocuments: true, ProfileCompleteness: 6.0 / 7.0},
		Trace: []calibration.TraceEntry{
			{Step: calibration.StepRaw, Value: 92},
			{Step: calibration.StepOffset, Value: 91},
		},
		Strengths: []string{"Seoul location", "SaaS focus"},
		Gaps:      []string{"No export history"},
	})
	output := buf.String()

	assert.Contains(t, output, "MATCH RESULT")
	assert.Contains(t, output, "Startup Growth Voucher (p-1)")
	assert.Contains(t, output, "Score:    91 (raw 92, offset +3)")
	assert.Contains(t, output, "Attempts: 2")
	assert.Contains(t, output, "completeness=86%")
	assert.Contains(t, output, "• SaaS focus")
	assert.Contains(t, output, "No export history")
}

func TestPrintMatch_Ineligible(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintMatch(&matching.Match{
		ProgramID:   "p-2",
		Eligibility: eligibility.Verdict{FailedRule: eligibility.RuleRegion, Reason: "location outside Busan"},
	})
	output := buf.String()

	assert.Contains(t, output, "0 (ineligible)")
	assert.Contains(t, output, "region")
	assert.NotContains(t, output, "Signals")
}

func TestPrintMatch_Nil(t *testing.T) {
	var buf bytes.Buffer
	NewPrinter(&buf).PrintMatch(nil)
	assert.Empty(t, buf.String())
}

func TestPrintBatch(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintBatch([]matching.BatchResult{
		{Index: 0, ProgramID: "p-1", Match: &matching.Match{Eligibility: eligibility.Pass, Score: 70}},
		{Index: 1, ProgramID: "p-2", Match: &matching.Match{Eligibility: eligibility.Verdict{FailedRule: eligibility.RuleSize}}},
		{Index: 2, ProgramID: "p-3", Err: errors.New("generation failed")},
	})
	output := buf.String()

	assert.Contains(t, output, "BATCH RESULTS")
	assert.Contains(t, output, "ineligible (size)")
	assert.Contains(t, output, "failed: generation failed")
	assert.Contains(t, output, "2 scored, 1 failed")
	assert.Less(t, strings.Index(output, "p-1"), strings.Index(output, "p-3"))
}

func TestPrintRanking(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	programs := make([]matching.RankedProgram, 7)
	for i := range programs {
		programs[i] = matching.RankedProgram{
			FusedResult: ranking.FusedResult{ID: "p-" + string(rune('a'+i)), Score: 0.03, SemanticRank: i + 1},
		}
	}
	programs[0].Program = &types.ProgramCandidate{ID: "p-a", Title: "Smart Factory Support"}
	programs[0].KeywordRank = 2
	programs[1].Match = &matching.Match{Score: 64}

	p.PrintRanking(&matching.RankResult{Query: "smart factory", Degraded: true, Programs: programs})
	output := buf.String()

	assert.Contains(t, output, "RANKED PROGRAMS")
	assert.Contains(t, output, "Smart Factory Support")
	assert.Contains(t, output, "semantic #1, keyword #2")
	assert.Contains(t, output, "keyword #-")
	assert.Contains(t, output, "Match score: 64")
	assert.Contains(t, output, "single retriever")
	assert.Contains(t, output, "... and 2 more programs")
}

func TestPrintRecalibration(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.PrintRecalibration(feedback.Summary{Offset: -2, Considered: 80, Directional: 20, TooHigh: 14, TooLow: 6, Sufficient: true})
	output := buf.String()
	assert.Contains(t, output, "Offset:      -2")
	assert.Contains(t, output, "too high 14, too low 6")
	assert.NotContains(t, output, "Not enough")

	buf.Reset()
	p.PrintRecalibration(feedback.Summary{Considered: 5, Directional: 3})
	assert.Contains(t, buf.String(), "Not enough directional feedback")
}

func TestPrintBox_TruncatesLongLines(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf)

	p.printBox("TITLE", strings.Repeat("가", 80))
	for _, line := range strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n") {
		assert.Equal(t, boxWidth, len([]rune(line)))
	}
	assert.Contains(t, buf.String(), "...")
}

// Package calibration corrects raw generative relevance scores into the
// 0-100 score shown to users.
package calibration

import (
	"math"
)

// Default calibration parameters.
const (
	DefaultNoPlanPenalty         = 0.15
	DefaultIncompletePenalty     = 0.10
	DefaultCompletenessThreshold = 0.7
	DefaultSquashThreshold       = 85.0
	DefaultSquashFactor          = 0.5

	// MaxOffset bounds the feedback offset in both directions.
	MaxOffset = 10
)

// Config holds the calibration parameters. It is passed by value and never mutated.
type Config struct {
	// NoPlanPenalty is applied when neither documents nor retrieval context were available.
	NoPlanPenalty float64 `koanf:"no_plan_penalty"`
	// IncompletePenalty scales the penalty for profiles below CompletenessThreshold.
	IncompletePenalty     float64 `koanf:"incomplete_penalty"`
	CompletenessThreshold float64 `koanf:"completeness_threshold"`
	// Scores above SquashThreshold are compressed by SquashFactor.
	SquashThreshold float64 `koanf:"squash_threshold"`
	SquashFactor    float64 `koanf:"squash_factor"`
}

// DefaultConfig returns the default calibration parameters.
func DefaultConfig() Config {
	return Config{
		NoPlanPenalty:         DefaultNoPlanPenalty,
		IncompletePenalty:     DefaultIncompletePenalty,
		CompletenessThreshold: DefaultCompletenessThreshold,
		SquashThreshold:       DefaultSquashThreshold,
		SquashFactor:          DefaultSquashFactor,
	}
}

// Signals describe how much supporting evidence backed a raw score.
type Signals struct {
	HasDocuments        bool    `json:"has_documents"`
	HasRetrievalContext bool    `json:"has_retrieval_context"`
	ProfileCompleteness float64 `json:"profile_completeness"`
}

// Input is everything a single calibration needs.
type Input struct {
	Eligible bool
	Raw      int
	Signals  Signals
	Offset   int
}

// Step names a calibration stage in a Trace.
type Step string

// Calibration stages in application order.
const (
	StepRaw        Step = "raw"
	StepNoPlan     Step = "no_plan_penalty"
	StepIncomplete Step = "incomplete_profile_penalty"
	StepSquash     Step = "squash"
	StepOffset     Step = "feedback_offset"
	StepClampRound Step = "clamp_round"
	StepIneligible Step = "ineligible"
)

// TraceEntry records the running value after one stage.
type TraceEntry struct {
	Step  Step    `json:"step"`
	Value float64 `json:"value"`
}

// Calibrate returns the calibrated score in [0,100].
func Calibrate(in Input, cfg Config) int {
	score, _ := CalibrateWithTrace(in, cfg)
	return score
}

// CalibrateWithTrace returns the calibrated score and the value after each stage that applied.
func CalibrateWithTrace(in Input, cfg Config) (int, []TraceEntry) {
	if !in.Eligible {
		return 0, []TraceEntry{{Step: StepIneligible, Value: 0}}
	}

	score := clamp(float64(in.Raw), 0, 100)
	trace := []TraceEntry{{Step: StepRaw, Value: score}}

	if !in.Signals.HasDocuments && !in.Signals.HasRetrievalContext {
		score *= 1 - cfg.NoPlanPenalty
		trace = append(trace, TraceEntry{Step: StepNoPlan, Value: score})
	}

	completeness := clamp(in.Signals.ProfileCompleteness, 0, 1)
	if completeness < cfg.CompletenessThreshold {
		score *= 1 - cfg.IncompletePenalty*(1-completeness)
		trace = append(trace, TraceEntry{Step: StepIncomplete, Value: score})
	}

	if score > cfg.SquashThreshold {
		// Floored so that a half point from compression never rounds back up.
		score = cfg.SquashThreshold + math.Floor((score-cfg.SquashThreshold)*cfg.SquashFactor)
		trace = append(trace, TraceEntry{Step: StepSquash, Value: score})
	}

	if offset := ClampOffset(in.Offset); offset != 0 {
		score += float64(offset)
		trace = append(trace, TraceEntry{Step: StepOffset, Value: score})
	}

	final := int(math.Round(clamp(score, 0, 100)))
	trace = append(trace, TraceEntry{Step: StepClampRound, Value: float64(final)})
	return final, trace
}

// ClampOffset bounds a feedback offset to [-MaxOffset, MaxOffset].
func ClampOffset(offset int) int {
	if offset > MaxOffset {
		return MaxOffset
	}
	if offset < -MaxOffset {
		return -MaxOffset
	}
	return offset
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Package feedback turns accumulated human judgments of score accuracy into a
// bounded, process-wide offset consumed by the score calibrator.
package feedback

import (
	"math"

	"github.com/jonathan/grant-matcher/internal/calibration"
	"github.com/jonathan/grant-matcher/internal/types"
)

// Default aggregation parameters.
const (
	DefaultWindow     = 100
	DefaultMinSamples = 10
)

// maxRating is one above the best accuracy rating, so a rating of 5 still contributes 1.
const maxRating = 6

// Config controls how feedback records are aggregated.
type Config struct {
	// Window is the number of most recent records considered.
	Window int `koanf:"window"`
	// MinSamples is the number of directional records required before a non-zero offset is produced.
	MinSamples int `koanf:"min_samples"`
}

// DefaultConfig returns the default aggregation parameters.
func DefaultConfig() Config {
	return Config{Window: DefaultWindow, MinSamples: DefaultMinSamples}
}

// Summary describes one aggregation.
type Summary struct {
	Offset      int `json:"offset"`
	Considered  int `json:"considered"`
	Directional int `json:"directional"`
	TooHigh     int `json:"too_high"`
	TooLow      int `json:"too_low"`
	// Sufficient is false when fewer than MinSamples directional records were found.
	Sufficient bool `json:"sufficient"`
}

// ComputeOffset returns the feedback offset for records ordered most recent first.
func ComputeOffset(records []types.FeedbackRecord, cfg Config) int {
	return Aggregate(records, cfg).Offset
}

// Aggregate computes the offset for records ordered most recent first, along with the counts behind it.
// Records marked accurate are counted but do not contribute to the mean.
func Aggregate(records []types.FeedbackRecord, cfg Config) Summary {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = DefaultMinSamples
	}
	if len(records) > cfg.Window {
		records = records[:cfg.Window]
	}

	var s Summary
	s.Considered = len(records)

	total := 0
	for _, r := range records {
		if !r.IsDirectional() {
			continue
		}
		s.Directional++
		weight := maxRating - clampRating(r.AccuracyRating)
		if r.Direction == types.DirectionTooHigh {
			total -= weight
			s.TooHigh++
		} else {
			total += weight
			s.TooLow++
		}
	}

	if s.Directional < cfg.MinSamples {
		return s
	}

	s.Sufficient = true
	mean := float64(total) / float64(s.Directional)
	s.Offset = calibration.ClampOffset(int(math.Round(mean)))
	return s
}

func clampRating(r int) int {
	if r < 1 {
		return 1
	}
	if r > 5 {
		return 5
	}
	return r
}

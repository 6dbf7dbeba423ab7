package config

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jonathan/grant-matcher/internal/calibration"
	"github.com/jonathan/grant-matcher/internal/feedback"
	"github.com/jonathan/grant-matcher/internal/ranking"
	"github.com/jonathan/grant-matcher/internal/retry"
)

// Tuning holds the algorithm parameters. Values not present in the tuning file keep their defaults.
type Tuning struct {
	Calibration calibration.Config  `koanf:"calibration"`
	Fusion      ranking.FusionConfig `koanf:"fusion"`
	Feedback    feedback.Config      `koanf:"feedback"`
	Retry       retry.Policy         `koanf:"retry"`
}

// DefaultTuning returns the default algorithm parameters.
func DefaultTuning() *Tuning {
	return &Tuning{
		Calibration: calibration.DefaultConfig(),
		Fusion:      ranking.DefaultFusionConfig(),
		Feedback:    feedback.DefaultConfig(),
		Retry:       retry.DefaultPolicy(),
	}
}

// LoadTuning reads algorithm parameters from a YAML file over the defaults.
// An empty path returns the defaults.
func LoadTuning(path string) (*Tuning, error) {
	t := DefaultTuning()
	if path == "" {
		return t, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load tuning file %s: %w", path, err)
	}
	if err := k.Unmarshal("", t); err != nil {
		return nil, fmt.Errorf("failed to decode tuning file %s: %w", path, err)
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks that every parameter is usable.
func (t *Tuning) Validate() error {
	c := t.Calibration
	if c.NoPlanPenalty < 0 || c.NoPlanPenalty > 1 {
		return fmt.Errorf("tuning error: calibration.no_plan_penalty must be between 0 and 1")
	}
	if c.IncompletePenalty < 0 || c.IncompletePenalty > 1 {
		return fmt.Errorf("tuning error: calibration.incomplete_penalty must be between 0 and 1")
	}
	if c.CompletenessThreshold < 0 || c.CompletenessThreshold > 1 {
		return fmt.Errorf("tuning error: calibration.completeness_threshold must be between 0 and 1")
	}
	if c.SquashThreshold < 0 || c.SquashThreshold > 100 {
		return fmt.Errorf("tuning error: calibration.squash_threshold must be between 0 and 100")
	}
	if c.SquashFactor < 0 || c.SquashFactor > 1 {
		return fmt.Errorf("tuning error: calibration.squash_factor must be between 0 and 1")
	}
	if t.Fusion.K < 0 {
		return fmt.Errorf("tuning error: fusion.k must not be negative")
	}
	if t.Feedback.Window < 1 {
		return fmt.Errorf("tuning error: feedback.window must be at least 1")
	}
	if t.Feedback.MinSamples < 0 {
		return fmt.Errorf("tuning error: feedback.min_samples must not be negative")
	}
	if err := t.Retry.Validate(); err != nil {
		return fmt.Errorf("tuning error: retry: %w", err)
	}
	return nil
}

// Package matching scores and ranks support programs for a company profile.
// It runs the eligibility gate, fuses retrieval results, obtains a raw score
// through the generation gateway and calibrates it with the current feedback offset.
package matching

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonathan/grant-matcher/internal/calibration"
	"github.com/jonathan/grant-matcher/internal/eligibility"
	"github.com/jonathan/grant-matcher/internal/feedback"
	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/llm"
	"github.com/jonathan/grant-matcher/internal/logging"
	"github.com/jonathan/grant-matcher/internal/ranking"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
	"github.com/jonathan/grant-matcher/internal/types"
)

// Default engine limits.
const (
	DefaultRetrievalLimit = 50
	DefaultRankLimit      = 20
)

// Config configures the engine. It is copied on construction.
type Config struct {
	Calibration calibration.Config
	Fusion      ranking.FusionConfig
	// RetrievalLimit is the number of hits requested from each retriever.
	RetrievalLimit int
	// RankLimit is the default number of ranked programs returned.
	RankLimit int
	// Tier is the model tier for single and streamed scoring.
	Tier llm.ModelTier
	// BatchTier is the model tier for batch and ranked scoring.
	BatchTier llm.ModelTier
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Calibration:    calibration.DefaultConfig(),
		Fusion:         ranking.DefaultFusionConfig(),
		RetrievalLimit: DefaultRetrievalLimit,
		RankLimit:      DefaultRankLimit,
		Tier:           llm.TierStandard,
		BatchTier:      llm.TierLite,
	}
}

// Deps are the engine's collaborators. Semantic and Offsets may be nil.
type Deps struct {
	Profiles ProfileStore
	Programs ProgramStore
	Semantic SemanticRetriever
	Keyword  KeywordRetriever
	Offsets  feedback.OffsetStore
}

// Engine orchestrates matching. It holds no per-request state and is safe for concurrent use.
type Engine struct {
	gateway *gateway.Gateway
	deps    Deps
	config  Config
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithClock overrides the time source used for deadline checks.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine.
func NewEngine(gw *gateway.Gateway, deps Deps, config Config, opts ...Option) *Engine {
	if config.RetrievalLimit <= 0 {
		config.RetrievalLimit = DefaultRetrievalLimit
	}
	if config.RankLimit <= 0 {
		config.RankLimit = DefaultRankLimit
	}
	if config.Tier == "" {
		config.Tier = llm.TierStandard
	}
	if config.BatchTier == "" {
		config.BatchTier = llm.TierLite
	}

	e := &Engine{
		gateway: gw,
		deps:    deps,
		config:  config,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.New("matching")
	}
	return e
}

// ScoreRequest asks for the calibrated score of one program for one profile.
// Profile takes precedence over ProfileID, and Program over ProgramID.
type ScoreRequest struct {
	ProfileID string
	Profile   *types.CompanyProfile
	ProgramID string
	Program   *types.ProgramCandidate
	// Documents are supporting business document excerpts, such as a business plan summary.
	Documents []string
	// Context is retrieval-augmented context about the program.
	Context string
}

// Match is a calibrated score with its explanation.
type Match struct {
	ProgramID    string              `json:"program_id"`
	ProgramTitle string              `json:"program_title,omitempty"`
	Eligibility  eligibility.Verdict `json:"eligibility"`
	Score        int                 `json:"score"`
	// RawScore is the provider's score before calibration; nil when no provider call was made.
	RawScore  *int                     `json:"raw_score,omitempty"`
	Rationale string                   `json:"rationale"`
	Strengths []string                 `json:"strengths,omitempty"`
	Gaps      []string                 `json:"gaps,omitempty"`
	Signals   calibration.Signals      `json:"signals"`
	Offset    int                      `json:"offset"`
	Attempts  int                      `json:"attempts,omitempty"`
	Trace     []calibration.TraceEntry `json:"trace,omitempty"`
}

// scoring is a resolved score request.
type scoring struct {
	profile  *types.CompanyProfile
	program  *types.ProgramCandidate
	verdict  eligibility.Verdict
	signals  calibration.Signals
	evidence string
}

// Score evaluates eligibility and, for eligible programs, generates and calibrates
// a score. Ineligible programs score 0 without a provider call. Generation
// failures are returned as errors; a failed generation never produces a score.
func (e *Engine) Score(ctx context.Context, identity string, req ScoreRequest) (*Match, ratelimit.Info, error) {
	s, err := e.resolve(ctx, req)
	if err != nil {
		return nil, ratelimit.Info{}, err
	}
	if !s.verdict.Eligible {
		return e.ineligible(ctx, s), ratelimit.Info{}, nil
	}

	genReq, err := e.generationRequest(s, e.config.Tier)
	if err != nil {
		return nil, ratelimit.Info{}, err
	}

	res, info, err := e.gateway.Generate(ctx, identity, genReq)
	if err != nil {
		return nil, info, err
	}
	return e.calibrate(ctx, s, res), info, nil
}

func (e *Engine) resolve(ctx context.Context, req ScoreRequest) (*scoring, error) {
	profile, err := e.resolveProfile(ctx, req.ProfileID, req.Profile)
	if err != nil {
		return nil, err
	}

	program := req.Program
	if program == nil {
		if req.ProgramID == "" {
			return nil, &InputError{Message: "program or program_id is required"}
		}
		if e.deps.Programs == nil {
			return nil, &NotFoundError{Kind: "program", ID: req.ProgramID}
		}
		program, err = e.deps.Programs.GetProgram(ctx, req.ProgramID)
		if err != nil {
			return nil, err
		}
		if program == nil {
			return nil, &NotFoundError{Kind: "program", ID: req.ProgramID}
		}
	}

	return e.prepare(profile, program, req.Documents, req.Context), nil
}

func (e *Engine) resolveProfile(ctx context.Context, id string, profile *types.CompanyProfile) (*types.CompanyProfile, error) {
	if profile == nil {
		if id == "" {
			return nil, &InputError{Message: "profile or profile_id is required"}
		}
		if e.deps.Profiles == nil {
			return nil, &NotFoundError{Kind: "profile", ID: id}
		}
		p, err := e.deps.Profiles.GetProfile(ctx, id)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, &NotFoundError{Kind: "profile", ID: id}
		}
		profile = p
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

func (e *Engine) prepare(profile *types.CompanyProfile, program *types.ProgramCandidate, documents []string, context string) *scoring {
	return &scoring{
		profile: profile,
		program: program,
		verdict: eligibility.Evaluate(profile, program.Criteria),
		signals: calibration.Signals{
			HasDocuments:        hasDocuments(documents),
			HasRetrievalContext: evidenceText(nil, context) != "",
			ProfileCompleteness: types.ProfileCompleteness(profile),
		},
		evidence: evidenceText(documents, context),
	}
}

func (e *Engine) generationRequest(s *scoring, tier llm.ModelTier) (gateway.Request, error) {
	prompt, err := buildPrompt(s.profile, s.program, s.evidence)
	if err != nil {
		return gateway.Request{}, err
	}
	return gateway.Request{ID: s.program.ID, Prompt: prompt, Tier: tier}, nil
}

// offset reads the current feedback offset. A store failure is logged and treated as 0.
func (e *Engine) offset(ctx context.Context) int {
	if e.deps.Offsets == nil {
		return 0
	}
	offset, err := e.deps.Offsets.Offset(ctx)
	if err != nil {
		e.logger.Warn("feedback offset unavailable, using 0", "error", err)
		return 0
	}
	return offset
}

func (e *Engine) ineligible(ctx context.Context, s *scoring) *Match {
	score, trace := calibration.CalibrateWithTrace(calibration.Input{Eligible: false}, e.config.Calibration)
	return &Match{
		ProgramID:    s.program.ID,
		ProgramTitle: s.program.Title,
		Eligibility:  s.verdict,
		Score:        score,
		Rationale:    s.verdict.Reason,
		Signals:      s.signals,
		Offset:       e.offset(ctx),
		Trace:        trace,
	}
}

func (e *Engine) calibrate(ctx context.Context, s *scoring, res *gateway.Result) *Match {
	offset := e.offset(ctx)
	score, trace := calibration.CalibrateWithTrace(calibration.Input{
		Eligible: true,
		Raw:      res.Score,
		Signals:  s.signals,
		Offset:   offset,
	}, e.config.Calibration)

	raw := res.Score
	return &Match{
		ProgramID:    s.program.ID,
		ProgramTitle: s.program.Title,
		Eligibility:  s.verdict,
		Score:        score,
		RawScore:     &raw,
		Rationale:    res.Rationale,
		Strengths:    res.Strengths,
		Gaps:         res.Gaps,
		Signals:      s.signals,
		Offset:       offset,
		Attempts:     res.Attempts,
		Trace:        trace,
	}
}

// Package gateway wraps every call to the generative provider with admission
// control, bounded retries with backoff, and blocking, streaming and batch
// delivery of parsed match results.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/jonathan/grant-matcher/internal/llm"
	"github.com/jonathan/grant-matcher/internal/logging"
	"github.com/jonathan/grant-matcher/internal/retry"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
)

// DefaultAttemptTimeout bounds a single provider call.
const DefaultAttemptTimeout = 60 * time.Second

// Config configures the gateway. It is copied on construction.
type Config struct {
	Retry retry.Policy
	// AttemptTimeout bounds each provider call; a timed-out attempt counts toward the retry budget.
	AttemptTimeout time.Duration
	Batch          BatchConfig
}

// DefaultConfig returns the default gateway configuration.
func DefaultConfig() Config {
	return Config{
		Retry:          retry.DefaultPolicy(),
		AttemptTimeout: DefaultAttemptTimeout,
		Batch:          DefaultBatchConfig(),
	}
}

// Request is a single generation request.
type Request struct {
	// ID correlates the request in logs and batch results, typically a program ID.
	ID     string
	Prompt string
	Tier   llm.ModelTier
}

// Result is a parsed match result.
type Result struct {
	Score     int      `json:"score"`
	Rationale string   `json:"rationale"`
	Strengths []string `json:"strengths,omitempty"`
	Gaps      []string `json:"gaps,omitempty"`
	// Attempts is the number of provider calls made, including the successful one.
	Attempts int `json:"attempts"`
}

// Retried reports whether the result needed more than one attempt.
func (r *Result) Retried() bool {
	return r != nil && r.Attempts > 1
}

// Gateway is the only component that calls the generative provider.
type Gateway struct {
	client  llm.Client
	limiter *ratelimit.Limiter
	config  Config
	logger  *slog.Logger
	metrics *Metrics
	sleep   retry.SleepFunc
	rand    func() float64
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// WithSleep overrides how the gateway waits between attempts and batch calls.
func WithSleep(sleep retry.SleepFunc) Option {
	return func(g *Gateway) { g.sleep = sleep }
}

// WithRand overrides the jitter source.
func WithRand(r func() float64) Option {
	return func(g *Gateway) { g.rand = r }
}

// New creates a gateway. A nil limiter admits everything.
func New(client llm.Client, limiter *ratelimit.Limiter, config Config, opts ...Option) *Gateway {
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultAttemptTimeout
	}
	if config.Retry.MaxAttempts < 1 {
		config.Retry = retry.DefaultPolicy()
	}
	config.Batch = config.Batch.withDefaults()
	if limiter == nil {
		limiter = ratelimit.NewLimiter(&ratelimit.Config{Enabled: false}, ratelimit.NewMemoryStore(0))
	}

	g := &Gateway{
		client:  client,
		limiter: limiter,
		config:  config,
		sleep:   retry.Sleep,
		rand:    rand.Float64,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = logging.New("gateway")
	}
	if g.metrics == nil {
		g.metrics = NewMetrics()
	}
	return g
}

// Generate admits the call for identity, then calls the provider with retries
// and returns the parsed result. The rate limit Info is returned in every case.
func (g *Gateway) Generate(ctx context.Context, identity string, req Request) (*Result, ratelimit.Info, error) {
	if err := validateRequest(req); err != nil {
		return nil, ratelimit.Info{}, err
	}

	info, err := g.admit(ctx, ratelimit.PurposeGenerate, identity)
	if err != nil {
		return nil, info, err
	}

	res, err := g.generate(ctx, req, "blocking")
	return res, info, err
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &InvalidRequestError{Message: "prompt is empty"}
	}
	return nil
}

func (g *Gateway) admit(ctx context.Context, purpose ratelimit.Purpose, identity string) (ratelimit.Info, error) {
	info := g.limiter.Allow(ctx, purpose, identity)
	if !info.Allowed {
		g.metrics.rateLimited.WithLabelValues(string(purpose)).Inc()
		return info, &RateLimitError{Info: info}
	}
	return info, nil
}

func (g *Gateway) newMachine(ctx context.Context) *retry.Machine {
	return retry.NewMachine(g.config.Retry, func(err error) bool {
		// A cancelled caller is never retried, even if the attempt error looks transient.
		if ctx.Err() != nil {
			return false
		}
		return llm.IsRetryable(err)
	}, retry.WithRand(g.rand))
}

// generate runs the retry loop for an admitted request.
func (g *Gateway) generate(ctx context.Context, req Request, mode string) (*Result, error) {
	start := time.Now()
	m := g.newMachine(ctx)

	var res *Result
	err := retry.Do(ctx, m, g.sleep, func(ctx context.Context, attempt int) error {
		r, err := g.attempt(ctx, req)
		g.recordAttempt(req, attempt, err)
		if err == nil {
			res = r
		}
		return err
	})
	g.metrics.duration.Observe(time.Since(start).Seconds())

	return g.finish(ctx, m, req, mode, res, err)
}

func (g *Gateway) attempt(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, g.config.AttemptTimeout)
	defer cancel()

	text, err := g.client.GenerateJSON(ctx, req.Prompt, tierOrDefault(req.Tier))
	if err != nil {
		return nil, err
	}
	return parseResult(text)
}

func tierOrDefault(t llm.ModelTier) llm.ModelTier {
	if t == "" {
		return llm.TierStandard
	}
	return t
}

func (g *Gateway) recordAttempt(req Request, attempt int, err error) {
	if err == nil {
		g.metrics.attempts.WithLabelValues("success").Inc()
		return
	}
	g.metrics.attempts.WithLabelValues("failure").Inc()
	g.logger.Warn("generation attempt failed",
		"request_id", req.ID,
		"attempt", attempt,
		"max_attempts", g.config.Retry.MaxAttempts,
		"status", llm.StatusCode(err),
		"retryable", llm.IsRetryable(err),
		"error", err)
}

// finish maps the final machine state onto a result or a classified error.
func (g *Gateway) finish(ctx context.Context, m *retry.Machine, req Request, mode string, res *Result, err error) (*Result, error) {
	switch m.State() {
	case retry.StateSucceeded:
		res.Attempts = m.Attempts()
		g.metrics.outcomes.WithLabelValues(mode, outcomeSuccess).Inc()
		if m.Retried() {
			g.metrics.retriedSuccess.Inc()
			g.logger.Info("generation succeeded after retry",
				"request_id", req.ID,
				"mode", mode,
				"attempts", m.Attempts(),
				"last_error", m.LastErr())
		}
		return res, nil

	case retry.StateExhausted:
		g.metrics.outcomes.WithLabelValues(mode, outcomeExhausted).Inc()
		g.logger.Error("generation retries exhausted",
			"request_id", req.ID,
			"mode", mode,
			"attempts", m.Attempts(),
			"error", m.LastErr())
		return nil, &ExhaustedError{Attempts: m.Attempts(), Last: m.LastErr()}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		g.metrics.outcomes.WithLabelValues(mode, outcomeCancelled).Inc()
		return nil, fmt.Errorf("generation cancelled after %d attempts: %w", m.Attempts(), ctxErr)
	}
	if err == nil {
		err = m.LastErr()
	}
	g.metrics.outcomes.WithLabelValues(mode, outcomeRejected).Inc()
	g.logger.Error("generation rejected",
		"request_id", req.ID,
		"mode", mode,
		"attempts", m.Attempts(),
		"status", llm.StatusCode(err),
		"error", err)
	return nil, &RejectedError{Attempts: m.Attempts(), Err: err}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/jonathan/grant-matcher/internal/config"
	"github.com/jonathan/grant-matcher/internal/db"
	"github.com/jonathan/grant-matcher/internal/feedback"
	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/llm"
	"github.com/jonathan/grant-matcher/internal/logging"
	"github.com/jonathan/grant-matcher/internal/matching"
	"github.com/jonathan/grant-matcher/internal/server"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
	"github.com/jonathan/grant-matcher/internal/vectorstore"
)

// app holds every long-lived dependency, built once per command.
type app struct {
	cfg    *config.Config
	tuning *config.Tuning
	logger *slog.Logger

	db      *db.DB
	redis   *redis.Client
	qdrant  *vectorstore.QdrantStore
	llm     llm.Client
	memory  *ratelimit.MemoryStore
	limiter *ratelimit.Limiter
	offsets feedback.OffsetStore

	registry      *prometheus.Registry
	serverMetrics *server.Metrics

	gateway      *gateway.Gateway
	engine       *matching.Engine
	recalibrator *feedback.Recalibrator
	indexer      *vectorstore.Indexer
}

// appOptions selects which optional dependencies a command needs.
type appOptions struct {
	// generation connects the provider client and builds the gateway and engine.
	generation bool
	// migrate applies the schema after connecting.
	migrate bool
}

func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logging.Init(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	tuning, err := config.LoadTuning(cfg.TuningFile)
	if err != nil {
		return nil, err
	}

	a = &app{cfg: cfg, tuning: tuning, logger: logging.New("matcher"), registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if a.db, err = db.Connect(ctx, cfg.DatabaseURL); err != nil {
		return nil, err
	}
	if opts.migrate {
		if err = a.db.Migrate(ctx); err != nil {
			return nil, err
		}
	}

	if err = a.connectRedis(ctx); err != nil {
		return nil, err
	}
	a.buildLimiter()

	feedbackMetrics := feedback.NewMetrics()
	if err = feedbackMetrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("failed to register feedback metrics: %w", err)
	}
	a.recalibrator = feedback.NewRecalibrator(feedback.RecalibratorConfig{
		Interval:    cfg.RecalibrationInterval,
		Timeout:     cfg.RecalibrationTimeout,
		Aggregation: tuning.Feedback,
		Logger:      logging.New("feedback"),
		Metrics:     feedbackMetrics,
	}, a.db, a.offsets)

	a.serverMetrics = server.NewMetrics()
	if err = a.serverMetrics.Register(a.registry); err != nil {
		return nil, fmt.Errorf("failed to register server metrics: %w", err)
	}

	if opts.generation {
		if err = a.buildGeneration(ctx); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// connectRedis connects the shared store when REDIS_URL is set. Without it the
// rate limit counters and the offset live in process memory.
func (a *app) connectRedis(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		a.logger.Warn("REDIS_URL not set, using in-process rate limit counters and offset")
		a.offsets = feedback.NewMemoryOffsetStore()
		return nil
	}

	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.redis = redis.NewClient(opts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.offsets = feedback.NewRedisOffsetStore(a.redis, feedback.DefaultOffsetKey)
	return nil
}

func (a *app) buildLimiter() {
	var store ratelimit.Store
	if a.redis != nil {
		store = ratelimit.NewRedisStore(a.redis)
	} else {
		a.memory = ratelimit.NewMemoryStore(a.cfg.RateLimitCleanupEvery)
		store = a.memory
	}
	a.limiter = ratelimit.NewLimiter(a.cfg.RateLimit(), store, ratelimit.WithLogger(logging.New("ratelimit")))
}

func (a *app) buildGeneration(ctx context.Context) error {
	if a.cfg.GeminiAPIKey == "" {
		return errors.New("GEMINI_API_KEY environment variable is required")
	}

	client, err := llm.NewClient(ctx, a.cfg.LLM(), a.cfg.GeminiAPIKey)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	a.llm = client

	gatewayMetrics := gateway.NewMetrics()
	if err := gatewayMetrics.Register(a.registry); err != nil {
		return fmt.Errorf("failed to register gateway metrics: %w", err)
	}
	a.gateway = gateway.New(client, a.limiter, a.cfg.Gateway(a.tuning),
		gateway.WithLogger(logging.New("gateway")),
		gateway.WithMetrics(gatewayMetrics))

	deps := matching.Deps{
		Profiles: a.db,
		Programs: a.db,
		Keyword:  a.db,
		Offsets:  a.offsets,
	}
	if a.cfg.QdrantURL != "" {
		a.qdrant, err = vectorstore.NewQdrantStore(a.cfg.QdrantURL, a.cfg.QdrantCollection)
		if err != nil {
			return err
		}
		deps.Semantic = vectorstore.NewRetriever(client, a.qdrant)
		a.indexer = vectorstore.NewIndexer(client, a.qdrant, logging.New("vectorstore"))
	} else {
		a.logger.Warn("QDRANT_GRPC_URL not set, ranking uses keyword retrieval only")
	}

	engineConfig := matching.DefaultConfig()
	engineConfig.Calibration = a.tuning.Calibration
	engineConfig.Fusion = a.tuning.Fusion
	a.engine = matching.NewEngine(a.gateway, deps, engineConfig, matching.WithLogger(logging.New("matching")))
	return nil
}

// healthChecks returns the dependency pings served by /health.
func (a *app) healthChecks() map[string]server.HealthCheck {
	checks := map[string]server.HealthCheck{
		"postgres": a.db.Ping,
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.redis.Ping(ctx).Err() }
	}
	return checks
}

// Close releases every connection. It is safe on a partially built app.
func (a *app) Close() {
	if a.recalibrator != nil {
		a.recalibrator.Stop()
	}
	if a.memory != nil {
		a.memory.Stop()
	}
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			a.logger.Warn("failed to close LLM client", "error", err)
		}
	}
	if a.qdrant != nil {
		if err := a.qdrant.Close(); err != nil {
			a.logger.Warn("failed to close qdrant client", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis client", "error", err)
		}
	}
	if a.db != nil {
		a.db.Close()
	}
}

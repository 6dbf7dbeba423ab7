// Package ratelimit provides per-identity sliding-window admission control.
package ratelimit

import (
	"context"
	"log/slog"
	"math"
	"time"
)

// Info contains information about rate limit status.
type Info struct {
	Allowed    bool
	Purpose    Purpose
	Limit      int
	Remaining  int
	ResetTime  time.Time
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (i Info) RetryAfterSeconds() int {
	if i.RetryAfter <= 0 {
		return 0
	}
	return int(math.Ceil(i.RetryAfter.Seconds()))
}

// Limiter admits calls per (purpose, identity) against the configured quotas.
type Limiter struct {
	config *Config
	store  Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger used for store failures and rejections.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// NewLimiter creates a limiter. A nil config uses DefaultConfig; a nil store uses
// an in-memory store without background cleanup.
func NewLimiter(config *Config, store Store, opts ...Option) *Limiter {
	if config == nil {
		config = DefaultConfig()
	}
	if store == nil {
		store = NewMemoryStore(0)
	}
	l := &Limiter{
		config: config,
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow checks and records one call for identity under purpose. Rejected calls
// are not queued. If the counter store fails the call is allowed and the failure logged.
func (l *Limiter) Allow(ctx context.Context, purpose Purpose, identity string) Info {
	if !l.config.Enabled || l.config.Whitelist[identity] {
		return Info{Allowed: true, Purpose: purpose}
	}
	quota := l.config.QuotaFor(purpose)
	if l.config.Blacklist[identity] {
		return l.blocked(purpose, identity, quota)
	}
	if quota.Limit <= 0 || quota.Window <= 0 {
		return Info{Allowed: true, Purpose: purpose}
	}

	now := l.now()
	w, err := l.store.Hit(ctx, l.key(purpose, identity), quota, now)
	if err != nil {
		l.logger.Error("rate limit store unavailable, allowing request",
			"purpose", purpose,
			"identity", identity,
			"error", err)
		return Info{Allowed: true, Purpose: purpose, Limit: quota.Limit, Remaining: quota.Limit - 1, ResetTime: now.Add(quota.Window)}
	}

	info := Info{
		Allowed:   w.Allowed,
		Purpose:   purpose,
		Limit:     quota.Limit,
		Remaining: max(0, quota.Limit-w.Count),
		ResetTime: w.Oldest.Add(quota.Window),
	}
	if !w.Allowed {
		info.RetryAfter = max(0, info.ResetTime.Sub(now))
		l.logger.Warn("rate limit exceeded",
			"purpose", purpose,
			"identity", identity,
			"limit", quota.Limit,
			"retry_after", info.RetryAfter)
	}
	return info
}

// blocked rejects a blacklisted identity for a full window.
func (l *Limiter) blocked(purpose Purpose, identity string, quota Quota) Info {
	window := quota.Window
	if window <= 0 {
		window = time.Minute
	}
	l.logger.Warn("rate limit blacklisted identity",
		"purpose", purpose,
		"identity", identity)
	return Info{
		Allowed:    false,
		Purpose:    purpose,
		Limit:      quota.Limit,
		Remaining:  0,
		ResetTime:  l.now().Add(window),
		RetryAfter: window,
	}
}

func (l *Limiter) key(purpose Purpose, identity string) string {
	return l.config.KeyPrefix + ":" + string(purpose) + ":" + identity
}

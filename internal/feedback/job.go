package feedback

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonathan/grant-matcher/internal/types"
)

// RecordSource returns the most recent feedback records, newest first.
type RecordSource interface {
	RecentFeedback(ctx context.Context, limit int) ([]types.FeedbackRecord, error)
}

// Default job timings.
const (
	DefaultInterval = time.Hour
	DefaultTimeout  = 30 * time.Second
)

// RecalibratorConfig configures the periodic recalibration job.
type RecalibratorConfig struct {
	// Interval between recalibration cycles.
	Interval time.Duration
	// Timeout for a single cycle.
	Timeout     time.Duration
	Aggregation Config
	Logger      *slog.Logger
	Metrics     *Metrics
}

// Recalibrator periodically recomputes the feedback offset and publishes it to an OffsetStore.
// It only reads feedback records.
type Recalibrator struct {
	config RecalibratorConfig
	source RecordSource
	store  OffsetStore

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewRecalibrator creates a recalibration job.
func NewRecalibrator(config RecalibratorConfig, source RecordSource, store OffsetStore) *Recalibrator {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Aggregation.Window <= 0 {
		config.Aggregation.Window = DefaultWindow
	}
	if config.Aggregation.MinSamples <= 0 {
		config.Aggregation.MinSamples = DefaultMinSamples
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Recalibrator{config: config, source: source, store: store}
}

// RunOnce reads the recent feedback window, computes the offset and stores it.
// The previous offset is left untouched if reading the records fails.
func (r *Recalibrator) RunOnce(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	start := time.Now()
	records, err := r.source.RecentFeedback(ctx, r.config.Aggregation.Window)
	if err != nil {
		r.fail(err)
		return Summary{}, fmt.Errorf("failed to load feedback: %w", err)
	}

	summary := Aggregate(records, r.config.Aggregation)
	if err := r.store.SetOffset(ctx, summary.Offset); err != nil {
		r.fail(err)
		return summary, err
	}

	if r.config.Metrics != nil {
		r.config.Metrics.observe(summary, time.Since(start).Seconds())
	}
	r.config.Logger.Info("feedback offset recalibrated",
		"offset", summary.Offset,
		"considered", summary.Considered,
		"directional", summary.Directional,
		"too_high", summary.TooHigh,
		"too_low", summary.TooLow,
		"sufficient", summary.Sufficient)
	return summary, nil
}

func (r *Recalibrator) fail(err error) {
	if r.config.Metrics != nil {
		r.config.Metrics.incErrors()
	}
	r.config.Logger.Error("feedback recalibration failed", "error", err)
}

// Start runs one recalibration immediately and then one per interval in a background goroutine.
// Calling Start on a running job is a no-op. The job can be started again once the loop
// has exited, whether through Stop or through ctx being cancelled.
func (r *Recalibrator) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})

	go r.run(ctx, r.stopCh, r.doneCh)
}

// Stop signals the job to stop and waits for the current cycle to finish.
// It is safe to call concurrently and on a job that is not running.
func (r *Recalibrator) Stop() {
	r.mu.Lock()
	stopCh, doneCh := r.stopCh, r.doneCh
	// Only the first caller closes the stop channel; every caller waits for the loop.
	r.stopCh = nil
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
	}
	if doneCh != nil {
		<-doneCh
	}
}

// IsRunning reports whether the background loop is active.
func (r *Recalibrator) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Recalibrator) run(ctx context.Context, stopCh <-chan struct{}, doneCh chan struct{}) {
	defer func() {
		r.mu.Lock()
		r.running = false
		r.stopCh = nil
		r.doneCh = nil
		r.mu.Unlock()
		close(doneCh)
	}()

	_, _ = r.RunOnce(ctx)

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.config.Logger.Info("feedback recalibration stopping due to context cancellation")
			return
		case <-stopCh:
			r.config.Logger.Info("feedback recalibration stopping due to stop signal")
			return
		case <-ticker.C:
			_, _ = r.RunOnce(ctx)
		}
	}
}

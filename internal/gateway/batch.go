package gateway

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
)

// Default batch pacing.
const (
	DefaultGroupSize      = 3
	DefaultInterCallDelay = time.Second
	DefaultGroupDelay     = 2 * time.Second
)

// BatchConfig paces batch generation. The delays are deliberate backpressure
// towards the provider and apply even when every call succeeds.
type BatchConfig struct {
	// GroupSize is the number of calls in flight together.
	GroupSize int
	// InterCallDelay staggers call starts within a group.
	InterCallDelay time.Duration
	// GroupDelay separates consecutive groups.
	GroupDelay time.Duration
}

// DefaultBatchConfig returns the default batch pacing.
func DefaultBatchConfig() BatchConfig {
	return BatchConfig{
		GroupSize:      DefaultGroupSize,
		InterCallDelay: DefaultInterCallDelay,
		GroupDelay:     DefaultGroupDelay,
	}
}

func (c BatchConfig) withDefaults() BatchConfig {
	if c.GroupSize <= 0 {
		c.GroupSize = DefaultGroupSize
	}
	if c.InterCallDelay < 0 {
		c.InterCallDelay = 0
	}
	if c.GroupDelay < 0 {
		c.GroupDelay = 0
	}
	return c
}

// BatchItem is the outcome for one request of a batch. Exactly one of Result and Err is set.
type BatchItem struct {
	Index  int
	ID     string
	Result *Result
	Err    error
}

// Batch admits the whole batch once for identity, then generates every request
// in paced groups. Items whose retries were exhausted get one more pass in
// smaller groups. Items are returned in request order; per-item failures are
// reported in BatchItem.Err and do not fail the batch.
func (g *Gateway) Batch(ctx context.Context, identity string, reqs []Request) ([]BatchItem, ratelimit.Info, error) {
	if len(reqs) == 0 {
		return nil, ratelimit.Info{}, &InvalidRequestError{Message: "batch is empty"}
	}

	info, err := g.admit(ctx, ratelimit.PurposeBatch, identity)
	if err != nil {
		return nil, info, err
	}

	items := make([]BatchItem, len(reqs))
	pending := make([]int, 0, len(reqs))
	for i, req := range reqs {
		items[i] = BatchItem{Index: i, ID: req.ID}
		if err := validateRequest(req); err != nil {
			items[i].Err = err
			continue
		}
		pending = append(pending, i)
	}

	cfg := g.config.Batch
	g.runGroups(ctx, reqs, items, pending, cfg.GroupSize)

	var failed []int
	for _, i := range pending {
		var exhausted *ExhaustedError
		if errors.As(items[i].Err, &exhausted) {
			failed = append(failed, i)
		}
	}
	if len(failed) > 0 && ctx.Err() == nil {
		g.logger.Info("retrying failed batch items",
			"failed", len(failed),
			"total", len(reqs))
		if err := g.sleep(ctx, cfg.GroupDelay); err == nil {
			g.runGroups(ctx, reqs, items, failed, max(1, cfg.GroupSize/2))
		}
	}

	return items, info, nil
}

// runGroups generates the requests at indices in groups of size, writing each outcome to items.
func (g *Gateway) runGroups(ctx context.Context, reqs []Request, items []BatchItem, indices []int, size int) {
	cfg := g.config.Batch

	for start := 0; start < len(indices); start += size {
		group := indices[start:min(start+size, len(indices))]

		if start > 0 {
			if err := g.sleep(ctx, cfg.GroupDelay); err != nil {
				for _, idx := range indices[start:] {
					items[idx].Result, items[idx].Err = nil, err
				}
				return
			}
		}

		var eg errgroup.Group
		for pos, idx := range group {
			eg.Go(func() error {
				if pos > 0 {
					if err := g.sleep(ctx, time.Duration(pos)*cfg.InterCallDelay); err != nil {
						items[idx].Result, items[idx].Err = nil, err
						return nil
					}
				}
				res, err := g.generate(ctx, reqs[idx], "batch")
				items[idx].Result, items[idx].Err = res, err
				return nil
			})
		}
		_ = eg.Wait()
	}
}

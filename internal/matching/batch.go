package matching

import (
	"context"

	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
	"github.com/jonathan/grant-matcher/internal/types"
)

// BatchRequest scores several programs for one profile.
type BatchRequest struct {
	ProfileID  string
	Profile    *types.CompanyProfile
	ProgramIDs []string
	Documents  []string
	// Contexts holds retrieval context keyed by program ID.
	Contexts map[string]string
}

// BatchResult is the outcome for one program of a batch. Exactly one of Match and Err is set.
type BatchResult struct {
	Index     int    `json:"index"`
	ProgramID string `json:"program_id"`
	Match     *Match `json:"match,omitempty"`
	Err       error  `json:"-"`
}

// ScoreBatch scores the programs in request order. Ineligible and unknown
// programs are settled locally; the eligible rest go through one gateway batch.
func (e *Engine) ScoreBatch(ctx context.Context, identity string, req BatchRequest) ([]BatchResult, ratelimit.Info, error) {
	if len(req.ProgramIDs) == 0 {
		return nil, ratelimit.Info{}, &InputError{Message: "program_ids is required"}
	}
	profile, err := e.resolveProfile(ctx, req.ProfileID, req.Profile)
	if err != nil {
		return nil, ratelimit.Info{}, err
	}

	byID := map[string]*types.ProgramCandidate{}
	if e.deps.Programs != nil {
		programs, err := e.deps.Programs.GetPrograms(ctx, req.ProgramIDs)
		if err != nil {
			return nil, ratelimit.Info{}, err
		}
		for i := range programs {
			byID[programs[i].ID] = &programs[i]
		}
	}

	results := make([]BatchResult, len(req.ProgramIDs))
	scorings := make([]*scoring, len(req.ProgramIDs))
	for i, id := range req.ProgramIDs {
		results[i] = BatchResult{Index: i, ProgramID: id}
		program, ok := byID[id]
		if !ok {
			results[i].Err = &NotFoundError{Kind: "program", ID: id}
			continue
		}
		scorings[i] = e.prepare(profile, program, req.Documents, req.Contexts[id])
	}

	info, err := e.scoreAll(ctx, identity, results, scorings)
	return results, info, err
}

// scoreAll fills results for every non-nil scoring. Eligible programs are sent
// to the gateway as one batch, so a rejected admission fails the whole call.
func (e *Engine) scoreAll(ctx context.Context, identity string, results []BatchResult, scorings []*scoring) (ratelimit.Info, error) {
	var reqs []gateway.Request
	var slots []int
	for i, s := range scorings {
		if s == nil {
			continue
		}
		if !s.verdict.Eligible {
			results[i].Match = e.ineligible(ctx, s)
			continue
		}
		genReq, err := e.generationRequest(s, e.config.BatchTier)
		if err != nil {
			results[i].Err = err
			continue
		}
		reqs = append(reqs, genReq)
		slots = append(slots, i)
	}
	if len(reqs) == 0 {
		return ratelimit.Info{}, nil
	}

	items, info, err := e.gateway.Batch(ctx, identity, reqs)
	if err != nil {
		return info, err
	}
	for j, item := range items {
		i := slots[j]
		if item.Err != nil {
			results[i].Err = item.Err
			continue
		}
		results[i].Match = e.calibrate(ctx, scorings[i], item.Result)
	}

	failed := 0
	for _, i := range slots {
		if results[i].Err != nil {
			failed++
		}
	}
	if failed > 0 {
		e.logger.Warn("batch scoring finished with failures",
			"failed", failed,
			"generated", len(slots))
	}
	return info, nil
}

package matching

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/jonathan/grant-matcher/internal/eligibility"
	"github.com/jonathan/grant-matcher/internal/ranking"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
	"github.com/jonathan/grant-matcher/internal/types"
)

// ErrRetrievalUnavailable is returned when no retriever produced results.
var ErrRetrievalUnavailable = errors.New("retrieval unavailable")

// RankRequest ranks the catalog for a query. Profile or ProfileID is optional;
// with a profile, programs get an eligibility verdict and Query may be empty.
type RankRequest struct {
	Query     string
	ProfileID string
	Profile   *types.CompanyProfile
	// Limit caps the number of programs returned; 0 uses the engine default.
	Limit int
	// ExcludeClosed drops programs whose deadline has passed.
	ExcludeClosed bool
	// ScoreTop scores the first ScoreTop ranked programs through the batch gateway. Requires a profile.
	ScoreTop  int
	Documents []string
}

// RankedProgram is one program in a ranking.
type RankedProgram struct {
	ranking.FusedResult
	Program     *types.ProgramCandidate `json:"program"`
	Eligibility *eligibility.Verdict    `json:"eligibility,omitempty"`
	Match       *Match                  `json:"match,omitempty"`
	Err         error                   `json:"-"`
}

// RankResult is the outcome of Rank.
type RankResult struct {
	Query string `json:"query"`
	// Degraded is set when one retriever failed and the ranking used the other alone.
	Degraded bool            `json:"degraded,omitempty"`
	Programs []RankedProgram `json:"programs"`
}

type retrieval struct {
	semantic []Hit
	keyword  []Hit
	degraded bool
}

// Rank retrieves candidates from both retrievers in parallel, fuses them and
// returns the programs in fused order. When one retriever fails the ranking
// falls back to the other; only when both fail is an error returned.
func (e *Engine) Rank(ctx context.Context, identity string, req RankRequest) (*RankResult, ratelimit.Info, error) {
	var profile *types.CompanyProfile
	if req.Profile != nil || req.ProfileID != "" {
		p, err := e.resolveProfile(ctx, req.ProfileID, req.Profile)
		if err != nil {
			return nil, ratelimit.Info{}, err
		}
		profile = p
	}
	if req.ScoreTop > 0 && profile == nil {
		return nil, ratelimit.Info{}, &InputError{Message: "scoring ranked programs requires a profile"}
	}

	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = profileQuery(profile)
	}
	if query == "" {
		return nil, ratelimit.Info{}, &InputError{Message: "query or profile is required"}
	}

	r, err := e.retrieve(ctx, query)
	if err != nil {
		return nil, ratelimit.Info{}, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = e.config.RankLimit
	}

	fused := ranking.Fuse(hitsToRanked(r.semantic), hitsToRanked(r.keyword), e.config.Fusion)
	if !req.ExcludeClosed {
		// Closed programs are filtered after loading, so only then is the full list needed.
		fused = ranking.TopN(fused, limit)
	}
	programs, err := e.loadPrograms(ctx, fused)
	if err != nil {
		return nil, ratelimit.Info{}, err
	}

	now := e.now()
	ranked := make([]RankedProgram, 0, min(limit, len(fused)))
	for _, f := range fused {
		if len(ranked) == limit {
			break
		}
		program, ok := programs[f.ID]
		if !ok {
			continue
		}
		if req.ExcludeClosed && program.IsClosed(now) {
			continue
		}
		rp := RankedProgram{FusedResult: f, Program: program}
		if profile != nil {
			v := eligibility.Evaluate(profile, program.Criteria)
			rp.Eligibility = &v
		}
		ranked = append(ranked, rp)
	}

	result := &RankResult{Query: query, Degraded: r.degraded, Programs: ranked}

	var info ratelimit.Info
	if req.ScoreTop > 0 && len(ranked) > 0 {
		info, err = e.scoreRanked(ctx, identity, profile, req.Documents, r, ranked[:min(req.ScoreTop, len(ranked))])
		if err != nil {
			return nil, info, err
		}
	}

	e.logger.Debug("ranked programs",
		"query", query,
		"semantic_hits", len(r.semantic),
		"keyword_hits", len(r.keyword),
		"returned", len(ranked),
		"degraded", r.degraded)

	return result, info, nil
}

func (e *Engine) retrieve(ctx context.Context, query string) (*retrieval, error) {
	var (
		r                       retrieval
		semanticErr, keywordErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	if e.deps.Semantic != nil {
		g.Go(func() error {
			r.semantic, semanticErr = e.deps.Semantic.SearchSemantic(gctx, query, e.config.RetrievalLimit)
			return nil
		})
	}
	if e.deps.Keyword != nil {
		g.Go(func() error {
			r.keyword, keywordErr = e.deps.Keyword.SearchKeyword(gctx, query, e.config.RetrievalLimit)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	semanticOK := e.deps.Semantic != nil && semanticErr == nil
	keywordOK := e.deps.Keyword != nil && keywordErr == nil
	if !semanticOK && !keywordOK {
		if err := errors.Join(semanticErr, keywordErr); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRetrievalUnavailable, err)
		}
		return nil, ErrRetrievalUnavailable
	}

	if semanticErr != nil {
		e.logger.Warn("semantic retrieval failed, ranking by keyword only", "error", semanticErr)
		r.semantic, r.degraded = nil, true
	}
	if keywordErr != nil {
		e.logger.Warn("keyword retrieval failed, ranking by semantic similarity only", "error", keywordErr)
		r.keyword, r.degraded = nil, true
	}
	return &r, nil
}

func (e *Engine) loadPrograms(ctx context.Context, fused []ranking.FusedResult) (map[string]*types.ProgramCandidate, error) {
	byID := make(map[string]*types.ProgramCandidate, len(fused))
	if len(fused) == 0 || e.deps.Programs == nil {
		return byID, nil
	}

	ids := make([]string, len(fused))
	for i, f := range fused {
		ids[i] = f.ID
	}
	programs, err := e.deps.Programs.GetPrograms(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load ranked programs: %w", err)
	}
	for i := range programs {
		byID[programs[i].ID] = &programs[i]
	}
	return byID, nil
}

func (e *Engine) scoreRanked(ctx context.Context, identity string, profile *types.CompanyProfile, documents []string, r *retrieval, top []RankedProgram) (ratelimit.Info, error) {
	contexts := snippetContexts(r)
	results := make([]BatchResult, len(top))
	scorings := make([]*scoring, len(top))
	for i := range top {
		results[i] = BatchResult{Index: i, ProgramID: top[i].ID}
		scorings[i] = e.prepare(profile, top[i].Program, documents, contexts[top[i].ID])
	}

	info, err := e.scoreAll(ctx, identity, results, scorings)
	if err != nil {
		return info, err
	}
	for i := range top {
		top[i].Match, top[i].Err = results[i].Match, results[i].Err
	}
	return info, nil
}

func hitsToRanked(hits []Hit) []ranking.RankedItem {
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ProgramID
	}
	return ranking.FromOrderedIDs(ids)
}

// snippetContexts groups retrieval snippets by program, semantic first.
func snippetContexts(r *retrieval) map[string]string {
	parts := map[string][]string{}
	for _, hits := range [][]Hit{r.semantic, r.keyword} {
		for _, h := range hits {
			s := strings.TrimSpace(h.Snippet)
			if s == "" || slices.Contains(parts[h.ProgramID], s) {
				continue
			}
			parts[h.ProgramID] = append(parts[h.ProgramID], s)
		}
	}
	contexts := make(map[string]string, len(parts))
	for id, p := range parts {
		contexts[id] = strings.Join(p, "\n")
	}
	return contexts
}

// profileQuery derives a search query from the profile's descriptive fields.
func profileQuery(p *types.CompanyProfile) string {
	if p == nil {
		return ""
	}
	var parts []string
	for _, s := range []string{p.Industry, p.CompanyType, p.Description} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

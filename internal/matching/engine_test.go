package matching

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/grant-matcher/internal/calibration"
	"github.com/jonathan/grant-matcher/internal/eligibility"
	"github.com/jonathan/grant-matcher/internal/feedback"
	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/llm"
	"github.com/jonathan/grant-matcher/internal/llm/llmtest"
	"github.com/jonathan/grant-matcher/internal/types"
)

// fakeProfiles is an in-memory ProfileStore.
type fakeProfiles map[string]*types.CompanyProfile

func (f fakeProfiles) GetProfile(_ context.Context, id string) (*types.CompanyProfile, error) {
	return f[id], nil
}

// fakePrograms is an in-memory ProgramStore.
type fakePrograms struct {
	programs map[string]types.ProgramCandidate
	err      error
}

func newFakePrograms(programs ...types.ProgramCandidate) *fakePrograms {
	f := &fakePrograms{programs: map[string]types.ProgramCandidate{}}
	for _, p := range programs {
		f.programs[p.ID] = p
	}
	return f
}

func (f *fakePrograms) GetProgram(_ context.Context, id string) (*types.ProgramCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.programs[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (f *fakePrograms) GetPrograms(_ context.Context, ids []string) ([]types.ProgramCandidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []types.ProgramCandidate
	// Reverse order to make sure callers do not rely on store ordering.
	for i := len(ids) - 1; i >= 0; i-- {
		if p, ok := f.programs[ids[i]]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// fakeRetriever serves fixed hits for any query.
type fakeRetriever struct {
	hits []Hit
	err  error
}

func (f *fakeRetriever) SearchSemantic(_ context.Context, _ string, limit int) ([]Hit, error) {
	return f.search(limit)
}

func (f *fakeRetriever) SearchKeyword(_ context.Context, _ string, limit int) ([]Hit, error) {
	return f.search(limit)
}

func (f *fakeRetriever) search(limit int) ([]Hit, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.hits) > limit {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newGateway(client llm.Client) *gateway.Gateway {
	return gateway.New(client, nil, gateway.DefaultConfig(),
		gateway.WithSleep(noSleep),
		gateway.WithLogger(quietLogger()),
		gateway.WithRand(func() float64 { return 0.5 }))
}

func scoreJSON(score int) string {
	return `{"score": ` + strconv.Itoa(score) + `, "rationale": "fits the program", "strengths": ["sector"], "gaps": ["revenue"]}`
}

// fullProfile fills all seven completeness fields.
func fullProfile() *types.CompanyProfile {
	return &types.CompanyProfile{
		ID:             "c1",
		CompanyType:    "startup",
		Industry:       "software",
		Location:       "Seoul Gangnam-gu",
		EmployeeCount:  12,
		AnnualRevenue:  900_000_000,
		FoundedAt:      time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC),
		Certifications: []string{"Venture Business"},
		Description:    "B2B SaaS for logistics scheduling",
	}
}

func seoulProgram() types.ProgramCandidate {
	return types.ProgramCandidate{
		ID:       "p-seoul",
		Title:    "Seoul Startup Growth Voucher",
		Category: "growth",
		Summary:  "Funding for early stage software companies in Seoul",
		Criteria: types.EligibilityCriteria{AllowedRegions: []string{"Seoul"}},
	}
}

func busanProgram() types.ProgramCandidate {
	return types.ProgramCandidate{
		ID:       "p-busan",
		Title:    "Busan Maritime Innovation Fund",
		Criteria: types.EligibilityCriteria{AllowedRegions: []string{"Busan"}},
	}
}

func TestScore_IneligibleSkipsProvider(t *testing.T) {
	client := &llmtest.MockLLMClient{}
	engine := NewEngine(newGateway(client), Deps{}, DefaultConfig(), WithLogger(quietLogger()))

	program := busanProgram()
	match, _, err := engine.Score(context.Background(), "user-1", ScoreRequest{Profile: fullProfile(), Program: &program})
	require.NoError(t, err)

	assert.Equal(t, 0, match.Score)
	assert.False(t, match.Eligibility.Eligible)
	assert.Equal(t, eligibility.RuleRegion, match.Eligibility.FailedRule)
	assert.Contains(t, match.Rationale, "Seoul Gangnam-gu")
	assert.Nil(t, match.RawScore)
	assert.Zero(t, client.Calls())
}

func TestScore_NoEvidencePenalty(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
			assert.Equal(t, llm.TierStandard, tier)
			return scoreJSON(95), nil
		},
	}
	engine := NewEngine(newGateway(client), Deps{Offsets: feedback.NewMemoryOffsetStore()}, DefaultConfig(), WithLogger(quietLogger()))

	program := seoulProgram()
	match, _, err := engine.Score(context.Background(), "user-1", ScoreRequest{Profile: fullProfile(), Program: &program})
	require.NoError(t, err)

	assert.Equal(t, 81, match.Score)
	require.NotNil(t, match.RawScore)
	assert.Equal(t, 95, *match.RawScore)
	assert.False(t, match.Signals.HasDocuments)
	assert.False(t, match.Signals.HasRetrievalContext)
	assert.Equal(t, 1.0, match.Signals.ProfileCompleteness)
	assert.Equal(t, calibration.StepNoPlan, match.Trace[1].Step)
	assert.Equal(t, "fits the program", match.Rationale)

	prompt := client.Prompts()[0]
	assert.Contains(t, prompt, "Seoul Startup Growth Voucher")
	assert.Contains(t, prompt, "B2B SaaS for logistics scheduling")
	assert.Contains(t, prompt, "No supporting documents")
}

func TestScore_DocumentsSquashAndOffset(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
			return scoreJSON(92), nil
		},
	}
	offsets := feedback.NewMemoryOffsetStore()
	require.NoError(t, offsets.SetOffset(context.Background(), 3))
	engine := NewEngine(newGateway(client), Deps{Offsets: offsets}, DefaultConfig(), WithLogger(quietLogger()))

	profile := fullProfile()
	profile.Description = ""
	program := seoulProgram()

	match, _, err := engine.Score(context.Background(), "user-1", ScoreRequest{
		Profile:   profile,
		Program:   &program,
		Documents: []string{"Business plan: expand scheduling product to Japan."},
	})
	require.NoError(t, err)

	assert.Equal(t, 91, match.Score)
	assert.Equal(t, 3, match.Offset)
	assert.True(t, match.Signals.HasDocuments)
	assert.InDelta(t, 6.0/7.0, match.Signals.ProfileCompleteness, 1e-9)
	assert.Contains(t, client.Prompts()[0], "expand scheduling product to Japan")
}

func TestScore_GenerationFailureReturnsNoScore(t *testing.T) {
	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
			return "", &llm.ProviderError{StatusCode: http.StatusServiceUnavailable, Message: "down"}
		},
	}
	engine := NewEngine(newGateway(client), Deps{}, DefaultConfig(), WithLogger(quietLogger()))

	program := seoulProgram()
	match, _, err := engine.Score(context.Background(), "user-1", ScoreRequest{Profile: fullProfile(), Program: &program})
	assert.Nil(t, match)

	var exhausted *gateway.ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts)
}

func TestScore_ResolvesByID(t *testing.T) {
	client := &llmtest.MockLLMClient{}
	deps := Deps{
		Profiles: fakeProfiles{"c1": fullProfile()},
		Programs: newFakePrograms(seoulProgram()),
	}
	engine := NewEngine(newGateway(client), deps, DefaultConfig(), WithLogger(quietLogger()))

	match, _, err := engine.Score(context.Background(), "user-1", ScoreRequest{ProfileID: "c1", ProgramID: "p-seoul"})
	require.NoError(t, err)
	assert.Equal(t, "p-seoul", match.ProgramID)

	_, _, err = engine.Score(context.Background(), "user-1", ScoreRequest{ProfileID: "missing", ProgramID: "p-seoul"})
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "profile", nf.Kind)

	_, _, err = engine.Score(context.Background(), "user-1", ScoreRequest{ProfileID: "c1", ProgramID: "nope"})
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "program", nf.Kind)

	_, _, err = engine.Score(context.Background(), "user-1", ScoreRequest{ProfileID: "c1"})
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
}

func TestScore_InvalidProfile(t *testing.T) {
	engine := NewEngine(newGateway(&llmtest.MockLLMClient{}), Deps{}, DefaultConfig(), WithLogger(quietLogger()))

	program := seoulProgram()
	_, _, err := engine.Score(context.Background(), "user-1", ScoreRequest{
		Profile: &types.CompanyProfile{EmployeeCount: -3},
		Program: &program,
	})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestScoreStream_EndsWithCalibratedMatch(t *testing.T) {
	body := scoreJSON(95)
	client := &llmtest.MockLLMClient{
		GenerateStreamFunc: func(ctx context.Context, prompt string, tier llm.ModelTier) (<-chan llm.StreamChunk, error) {
			return llmtest.StreamOf(body[:15], body[15:]), nil
		},
	}
	engine := NewEngine(newGateway(client), Deps{}, DefaultConfig(), WithLogger(quietLogger()))

	program := seoulProgram()
	events, _, err := engine.ScoreStream(context.Background(), "user-1", ScoreRequest{Profile: fullProfile(), Program: &program})
	require.NoError(t, err)

	var tokens strings.Builder
	var last Event
	for ev := range events {
		if ev.Type == gateway.EventToken {
			tokens.WriteString(ev.Token)
		}
		last = ev
	}

	assert.Equal(t, body, tokens.String())
	require.Equal(t, gateway.EventResult, last.Type)
	assert.Equal(t, 81, last.Match.Score, "streaming and blocking calibrate identically")
}

func TestScoreStream_Ineligible(t *testing.T) {
	client := &llmtest.MockLLMClient{}
	engine := NewEngine(newGateway(client), Deps{}, DefaultConfig(), WithLogger(quietLogger()))

	program := busanProgram()
	events, _, err := engine.ScoreStream(context.Background(), "user-1", ScoreRequest{Profile: fullProfile(), Program: &program})
	require.NoError(t, err)

	ev := <-events
	assert.Equal(t, gateway.EventResult, ev.Type)
	assert.Equal(t, 0, ev.Match.Score)
	_, open := <-events
	assert.False(t, open)
	assert.Zero(t, client.Calls())
}

func TestScoreBatch_OrderAndLocalOutcomes(t *testing.T) {
	other := seoulProgram()
	other.ID = "p-seoul-2"
	other.Title = "Seoul Export Voucher"

	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
			assert.Equal(t, llm.TierLite, tier)
			if strings.Contains(prompt, "Seoul Export Voucher") {
				return scoreJSON(60), nil
			}
			return scoreJSON(70), nil
		},
	}
	deps := Deps{Programs: newFakePrograms(seoulProgram(), busanProgram(), other)}
	engine := NewEngine(newGateway(client), deps, DefaultConfig(), WithLogger(quietLogger()))

	results, _, err := engine.ScoreBatch(context.Background(), "user-1", BatchRequest{
		Profile:    fullProfile(),
		ProgramIDs: []string{"p-busan", "p-seoul", "ghost", "p-seoul-2"},
		Contexts:   map[string]string{"p-seoul": "Round 2 opens in May."},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.Equal(t, "p-busan", results[0].ProgramID)
	assert.Equal(t, 0, results[0].Match.Score)

	assert.True(t, results[1].Match.Signals.HasRetrievalContext)
	assert.Equal(t, 70, results[1].Match.Score)

	var nf *NotFoundError
	assert.ErrorAs(t, results[2].Err, &nf)

	assert.False(t, results[3].Match.Signals.HasRetrievalContext)
	assert.Equal(t, 51, results[3].Match.Score)

	assert.Equal(t, 2, client.Calls())
}

func TestScoreBatch_RequiresPrograms(t *testing.T) {
	engine := NewEngine(newGateway(&llmtest.MockLLMClient{}), Deps{}, DefaultConfig(), WithLogger(quietLogger()))

	_, _, err := engine.ScoreBatch(context.Background(), "user-1", BatchRequest{Profile: fullProfile()})
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)
}

func rankDeps(semantic, keyword *fakeRetriever, programs ...types.ProgramCandidate) Deps {
	deps := Deps{Programs: newFakePrograms(programs...)}
	if semantic != nil {
		deps.Semantic = semantic
	}
	if keyword != nil {
		deps.Keyword = keyword
	}
	return deps
}

func TestRank_FusesBothRetrievers(t *testing.T) {
	a := types.ProgramCandidate{ID: "a", Title: "A"}
	b := types.ProgramCandidate{ID: "b", Title: "B"}
	c := types.ProgramCandidate{ID: "c", Title: "C"}

	semantic := &fakeRetriever{hits: []Hit{{ProgramID: "a"}, {ProgramID: "b"}, {ProgramID: "c"}}}
	keyword := &fakeRetriever{hits: []Hit{{ProgramID: "c"}, {ProgramID: "ghost"}}}
	engine := NewEngine(newGateway(&llmtest.MockLLMClient{}), rankDeps(semantic, keyword, a, b, c), DefaultConfig(), WithLogger(quietLogger()))

	result, _, err := engine.Rank(context.Background(), "user-1", RankRequest{Query: "software voucher"})
	require.NoError(t, err)

	assert.False(t, result.Degraded)
	require.Len(t, result.Programs, 3)
	assert.Equal(t, "c", result.Programs[0].ID)
	assert.Equal(t, "a", result.Programs[1].ID)
	assert.Equal(t, "b", result.Programs[2].ID)
	assert.Equal(t, "C", result.Programs[0].Program.Title)
	assert.Nil(t, result.Programs[0].Eligibility)
}

func TestRank_SemanticFailureFallsBackToKeyword(t *testing.T) {
	a := types.ProgramCandidate{ID: "a", Title: "A"}
	b := types.ProgramCandidate{ID: "b", Title: "B"}

	semantic := &fakeRetriever{err: errors.New("vector store down")}
	keyword := &fakeRetriever{hits: []Hit{{ProgramID: "b"}, {ProgramID: "a"}}}
	engine := NewEngine(newGateway(&llmtest.MockLLMClient{}), rankDeps(semantic, keyword, a, b), DefaultConfig(), WithLogger(quietLogger()))

	result, _, err := engine.Rank(context.Background(), "user-1", RankRequest{Query: "export"})
	require.NoError(t, err)

	assert.True(t, result.Degraded)
	require.Len(t, result.Programs, 2)
	assert.Equal(t, "b", result.Programs[0].ID)
	assert.Zero(t, result.Programs[0].SemanticRank)
	assert.Equal(t, 1, result.Programs[0].KeywordRank)
}

func TestRank_BothRetrieversFail(t *testing.T) {
	semantic := &fakeRetriever{err: errors.New("vector store down")}
	keyword := &fakeRetriever{err: errors.New("database down")}
	engine := NewEngine(newGateway(&llmtest.MockLLMClient{}), rankDeps(semantic, keyword), DefaultConfig(), WithLogger(quietLogger()))

	_, _, err := engine.Rank(context.Background(), "user-1", RankRequest{Query: "export"})
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
}

func TestRank_ExcludeClosedAndLimit(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)
	future := now.Add(24 * time.Hour)

	closed := types.ProgramCandidate{ID: "closed", Title: "Closed", Deadline: &past}
	open1 := types.ProgramCandidate{ID: "open1", Title: "Open 1", Deadline: &future}
	open2 := types.ProgramCandidate{ID: "open2", Title: "Open 2"}

	keyword := &fakeRetriever{hits: []Hit{{ProgramID: "closed"}, {ProgramID: "open1"}, {ProgramID: "open2"}}}
	engine := NewEngine(newGateway(&llmtest.MockLLMClient{}), rankDeps(nil, keyword, closed, open1, open2), DefaultConfig(),
		WithLogger(quietLogger()), WithClock(func() time.Time { return now }))

	result, _, err := engine.Rank(context.Background(), "user-1", RankRequest{Query: "any", ExcludeClosed: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, result.Programs, 1)
	assert.Equal(t, "open1", result.Programs[0].ID)

	result, _, err = engine.Rank(context.Background(), "user-1", RankRequest{Query: "any"})
	require.NoError(t, err)
	assert.Len(t, result.Programs, 3)

	result, _, err = engine.Rank(context.Background(), "user-1", RankRequest{Query: "any", Limit: 2})
	require.NoError(t, err)
	require.Len(t, result.Programs, 2)
	assert.Equal(t, "closed", result.Programs[0].ID)
	assert.Equal(t, "open1", result.Programs[1].ID)
}

func TestRank_ScoresTopWithProfile(t *testing.T) {
	seoul := seoulProgram()
	busan := busanProgram()

	client := &llmtest.MockLLMClient{
		GenerateJSONFunc: func(ctx context.Context, prompt string, tier llm.ModelTier) (string, error) {
			return scoreJSON(70), nil
		},
	}
	semantic := &fakeRetriever{hits: []Hit{{ProgramID: "p-busan"}, {ProgramID: "p-seoul", Snippet: "Early stage software in Seoul"}}}
	keyword := &fakeRetriever{hits: []Hit{{ProgramID: "p-seoul", Snippet: "software companies"}}}
	engine := NewEngine(newGateway(client), rankDeps(semantic, keyword, seoul, busan), DefaultConfig(), WithLogger(quietLogger()))

	result, _, err := engine.Rank(context.Background(), "user-1", RankRequest{Profile: fullProfile(), ScoreTop: 5})
	require.NoError(t, err)

	assert.Equal(t, "software startup B2B SaaS for logistics scheduling", result.Query)
	require.Len(t, result.Programs, 2)

	seoulRanked := result.Programs[0]
	assert.Equal(t, "p-seoul", seoulRanked.ID)
	require.NotNil(t, seoulRanked.Match)
	assert.True(t, seoulRanked.Match.Signals.HasRetrievalContext)
	assert.Equal(t, 70, seoulRanked.Match.Score)

	busanRanked := result.Programs[1]
	require.NotNil(t, busanRanked.Eligibility)
	assert.False(t, busanRanked.Eligibility.Eligible)
	assert.Equal(t, 0, busanRanked.Match.Score)

	assert.Equal(t, 1, client.Calls())
	assert.Contains(t, client.Prompts()[0], "Early stage software in Seoul\nsoftware companies")
}

func TestRank_ScoreTopRequiresProfile(t *testing.T) {
	keyword := &fakeRetriever{}
	engine := NewEngine(newGateway(&llmtest.MockLLMClient{}), rankDeps(nil, keyword), DefaultConfig(), WithLogger(quietLogger()))

	_, _, err := engine.Rank(context.Background(), "user-1", RankRequest{Query: "x", ScoreTop: 3})
	var inputErr *InputError
	require.ErrorAs(t, err, &inputErr)

	_, _, err = engine.Rank(context.Background(), "user-1", RankRequest{})
	require.ErrorAs(t, err, &inputErr)
}

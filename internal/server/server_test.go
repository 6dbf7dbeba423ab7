package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/grant-matcher/internal/feedback"
	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/matching"
	"github.com/jonathan/grant-matcher/internal/ranking"
	"github.com/jonathan/grant-matcher/internal/server/ratelimit"
	"github.com/jonathan/grant-matcher/internal/types"
)

// mockMatcher implements Matcher with overridable functions
type mockMatcher struct {
	ScoreFunc       func(ctx context.Context, identity string, req matching.ScoreRequest) (*matching.Match, ratelimit.Info, error)
	ScoreStreamFunc func(ctx context.Context, identity string, req matching.ScoreRequest) (<-chan matching.Event, ratelimit.Info, error)
	ScoreBatchFunc  func(ctx context.Context, identity string, req matching.BatchRequest) ([]matching.BatchResult, ratelimit.Info, error)
	RankFunc        func(ctx context.Context, identity string, req matching.RankRequest) (*matching.RankResult, ratelimit.Info, error)

	mu         sync.Mutex
	identities []string
}

func (m *mockMatcher) record(identity string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identities = append(m.identities, identity)
}

func (m *mockMatcher) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.identities)
}

func (m *mockMatcher) Score(ctx context.Context, identity string, req matching.ScoreRequest) (*matching.Match, ratelimit.Info, error) {
	m.record(identity)
	return m.ScoreFunc(ctx, identity, req)
}

func (m *mockMatcher) ScoreStream(ctx context.Context, identity string, req matching.ScoreRequest) (<-chan matching.Event, ratelimit.Info, error) {
	m.record(identity)
	return m.ScoreStreamFunc(ctx, identity, req)
}

func (m *mockMatcher) ScoreBatch(ctx context.Context, identity string, req matching.BatchRequest) ([]matching.BatchResult, ratelimit.Info, error) {
	m.record(identity)
	return m.ScoreBatchFunc(ctx, identity, req)
}

func (m *mockMatcher) Rank(ctx context.Context, identity string, req matching.RankRequest) (*matching.RankResult, ratelimit.Info, error) {
	m.record(identity)
	return m.RankFunc(ctx, identity, req)
}

type mockFeedbackStore struct {
	saved []*types.FeedbackRecord
	err   error
}

func (m *mockFeedbackStore) UpsertFeedback(_ context.Context, r *types.FeedbackRecord) (*types.FeedbackRecord, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.saved = append(m.saved, r)
	out := *r
	out.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	out.UpdatedAt = out.CreatedAt
	return &out, nil
}

type mockRecalibrator struct {
	summary feedback.Summary
	err     error
	runs    int
}

func (m *mockRecalibrator) RunOnce(_ context.Context) (feedback.Summary, error) {
	m.runs++
	return m.summary, m.err
}

var resetAt = time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, deps Deps) *Server {
	t.Helper()
	if deps.Logger == nil {
		deps.Logger = quietLogger()
	}
	return New(Config{Port: 0}, deps)
}

func do(s *Server, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	return resp
}

func TestClientID(t *testing.T) {
	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"forwarded chain uses first entry", map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}, "203.0.113.7"},
		{"single forwarded entry", map[string]string{"X-Forwarded-For": " 198.51.100.2 "}, "198.51.100.2"},
		{"real ip fallback", map[string]string{"X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"forwarded wins over real ip", map[string]string{"X-Forwarded-For": "203.0.113.7", "X-Real-IP": "198.51.100.9"}, "203.0.113.7"},
		{"empty forwarded entry falls through", map[string]string{"X-Forwarded-For": " , 10.0.0.1", "X-Real-IP": "198.51.100.9"}, "198.51.100.9"},
		{"no headers", nil, "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, ClientID(req))
		})
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t, Deps{Checks: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return nil },
	}})

	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, map[string]any{"postgres": "ok", "redis": "ok"}, resp["checks"])
}

func TestHealthEndpoint_Degraded(t *testing.T) {
	s := newTestServer(t, Deps{Checks: map[string]HealthCheck{
		"postgres": func(context.Context) error { return nil },
		"redis":    func(context.Context) error { return errors.New("connection refused") },
	}})

	w := do(s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeBody(t, w)
	assert.Equal(t, "degraded", resp["status"])
	checks := resp["checks"].(map[string]any)
	assert.Equal(t, "connection refused", checks["redis"])
}

func TestCORSMiddleware_OPTIONS(t *testing.T) {
	matcher := &mockMatcher{}
	s := newTestServer(t, Deps{Matcher: matcher})

	w := do(s, http.MethodOptions, "/match", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Zero(t, matcher.calls())
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics()
	require.NoError(t, metrics.Register(reg))

	s := newTestServer(t, Deps{Gatherer: reg, Metrics: metrics})
	do(s, http.MethodGet, "/health", "")

	w := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), MetricRequests)
}

func TestMatchEndpoint_Success(t *testing.T) {
	raw := 95
	matcher := &mockMatcher{
		ScoreFunc: func(_ context.Context, _ string, req matching.ScoreRequest) (*matching.Match, ratelimit.Info, error) {
			assert.Equal(t, "profile-1", req.ProfileID)
			assert.Equal(t, "p-1", req.ProgramID)
			assert.Equal(t, []string{"Business plan summary"}, req.Documents)
			return &matching.Match{ProgramID: "p-1", Score: 81, RawScore: &raw, Rationale: "fits"},
				ratelimit.Info{Allowed: true, Limit: 10, Remaining: 9, ResetTime: resetAt}, nil
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher})

	body := `{"profile_id": "profile-1", "program_id": "p-1", "documents": ["Business plan summary"]}`
	w := do(s, http.MethodPost, "/match", body, "X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "10", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(resetAt.UnixMilli(), 10), w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, []string{"203.0.113.7"}, matcher.identities)

	resp := decodeBody(t, w)
	assert.Equal(t, float64(81), resp["score"])
	assert.Equal(t, float64(95), resp["raw_score"])
}

func TestMatchEndpoint_InvalidRequest(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{invalid json}`},
		{"empty body", ``},
		{"unknown field", `{"profile_id": "a", "program_id": "b", "extra": 1}`},
		{"missing profile", `{"program_id": "p-1"}`},
		{"missing program", `{"profile_id": "profile-1"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := &mockMatcher{}
			s := newTestServer(t, Deps{Matcher: matcher})

			w := do(s, http.MethodPost, "/match", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, codeInvalidRequest, decodeBody(t, w)["error"])
			assert.Zero(t, matcher.calls())
		})
	}
}

func TestMatchEndpoint_Errors(t *testing.T) {
	limited := ratelimit.Info{Purpose: ratelimit.PurposeGenerate, Limit: 10, Remaining: 0, ResetTime: resetAt, RetryAfter: 42 * time.Second}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid profile", &types.ValidationError{Field: "EmployeeCount", Message: "gte"}, http.StatusBadRequest, codeInvalidRequest},
		{"unknown program", &matching.NotFoundError{Kind: "program", ID: "p-9"}, http.StatusNotFound, codeNotFound},
		{"rate limited", &gateway.RateLimitError{Info: limited}, http.StatusTooManyRequests, codeRateLimited},
		{"exhausted", &gateway.ExhaustedError{Attempts: 3, Last: errors.New("503")}, http.StatusBadGateway, codeGenerationFailed},
		{"rejected", &gateway.RejectedError{Attempts: 1, Err: errors.New("400")}, http.StatusBadGateway, codeGenerationRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matcher := &mockMatcher{
				ScoreFunc: func(context.Context, string, matching.ScoreRequest) (*matching.Match, ratelimit.Info, error) {
					return nil, limited, tt.err
				},
			}
			s := newTestServer(t, Deps{Matcher: matcher})

			w := do(s, http.MethodPost, "/match", `{"profile_id": "a", "program_id": "b"}`)
			assert.Equal(t, tt.status, w.Code)

			resp := decodeBody(t, w)
			assert.Equal(t, tt.code, resp["error"])
			assert.NotContains(t, resp, "score")
		})
	}
}

func TestMatchEndpoint_RateLimitedHeaders(t *testing.T) {
	info := ratelimit.Info{Purpose: ratelimit.PurposeGenerate, Limit: 10, Remaining: 0, ResetTime: resetAt, RetryAfter: 41500 * time.Millisecond}
	matcher := &mockMatcher{
		ScoreFunc: func(context.Context, string, matching.ScoreRequest) (*matching.Match, ratelimit.Info, error) {
			return nil, info, &gateway.RateLimitError{Info: info}
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher})

	w := do(s, http.MethodPost, "/match", `{"profile_id": "a", "program_id": "b"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "42", w.Header().Get("Retry-After"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	resp := decodeBody(t, w)
	assert.Equal(t, float64(42), resp["retry_after"])
	assert.Equal(t, "generate", resp["purpose"])
}

func streamOf(events ...matching.Event) <-chan matching.Event {
	ch := make(chan matching.Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

func TestMatchStreamEndpoint(t *testing.T) {
	matcher := &mockMatcher{
		ScoreStreamFunc: func(context.Context, string, matching.ScoreRequest) (<-chan matching.Event, ratelimit.Info, error) {
			return streamOf(
				matching.Event{Type: gateway.EventToken, Token: `{"score":`},
				matching.Event{Type: gateway.EventToken, Token: ` 95}`},
				matching.Event{Type: gateway.EventResult, Match: &matching.Match{ProgramID: "p-1", Score: 81}},
			), ratelimit.Info{Allowed: true, Limit: 10, Remaining: 7, ResetTime: resetAt}, nil
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher})

	w := do(s, http.MethodPost, "/match/stream", `{"profile_id": "a", "program_id": "p-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Equal(t, "7", w.Header().Get("X-RateLimit-Remaining"))

	body := w.Body.String()
	assert.Equal(t, 2, strings.Count(body, "event: token\n"))
	assert.Contains(t, body, "event: result\n")
	assert.Contains(t, body, `"score":81`)
	assert.Less(t, strings.Index(body, "event: token"), strings.Index(body, "event: result"))
}

func TestMatchStreamEndpoint_ErrorEvent(t *testing.T) {
	matcher := &mockMatcher{
		ScoreStreamFunc: func(context.Context, string, matching.ScoreRequest) (<-chan matching.Event, ratelimit.Info, error) {
			return streamOf(
				matching.Event{Type: gateway.EventToken, Token: "{"},
				matching.Event{Type: gateway.EventError, Err: &gateway.InterruptedError{Received: 1, Err: errors.New("reset")}},
			), ratelimit.Info{}, nil
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher})

	w := do(s, http.MethodPost, "/match/stream", `{"profile_id": "a", "program_id": "p-1"}`)
	body := w.Body.String()
	assert.Contains(t, body, "event: error\n")
	assert.Contains(t, body, codeStreamInterrupted)
	assert.NotContains(t, body, "event: result")
}

func TestMatchStreamEndpoint_RejectedBeforeStream(t *testing.T) {
	info := ratelimit.Info{Purpose: ratelimit.PurposeGenerate, Limit: 1, ResetTime: resetAt, RetryAfter: time.Minute}
	matcher := &mockMatcher{
		ScoreStreamFunc: func(context.Context, string, matching.ScoreRequest) (<-chan matching.Event, ratelimit.Info, error) {
			return nil, info, &gateway.RateLimitError{Info: info}
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher})

	w := do(s, http.MethodPost, "/match/stream", `{"profile_id": "a", "program_id": "p-1"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
}

func TestMatchBatchEndpoint(t *testing.T) {
	matcher := &mockMatcher{
		ScoreBatchFunc: func(_ context.Context, _ string, req matching.BatchRequest) ([]matching.BatchResult, ratelimit.Info, error) {
			assert.Equal(t, []string{"p-1", "p-2", "p-3"}, req.ProgramIDs)
			assert.Equal(t, "extra context", req.Contexts["p-2"])
			return []matching.BatchResult{
				{Index: 0, ProgramID: "p-1", Match: &matching.Match{ProgramID: "p-1", Score: 70}},
				{Index: 1, ProgramID: "p-2", Err: &gateway.ExhaustedError{Attempts: 3, Last: errors.New("503")}},
				{Index: 2, ProgramID: "p-3", Err: &matching.NotFoundError{Kind: "program", ID: "p-3"}},
			}, ratelimit.Info{Allowed: true, Limit: 5, Remaining: 4, ResetTime: resetAt}, nil
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher})

	body := `{"profile_id": "a", "program_ids": ["p-1", "p-2", "p-3"], "contexts": {"p-2": "extra context"}}`
	w := do(s, http.MethodPost, "/match/batch", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "5", w.Header().Get("X-RateLimit-Limit"))

	var resp BatchMatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 3)
	assert.Equal(t, 2, resp.Failed)
	assert.Equal(t, 70, resp.Results[0].Match.Score)
	assert.Empty(t, resp.Results[0].Error)
	assert.Equal(t, codeGenerationFailed, resp.Results[1].Error)
	assert.Nil(t, resp.Results[1].Match)
	assert.Equal(t, codeNotFound, resp.Results[2].Error)
}

func TestMatchBatchEndpoint_Validation(t *testing.T) {
	ids := make([]string, MaxBatchSize+1)
	for i := range ids {
		ids[i] = "p-" + strconv.Itoa(i)
	}
	tooMany, err := json.Marshal(BatchMatchRequest{ProfileID: "a", ProgramIDs: ids})
	require.NoError(t, err)

	for _, body := range []string{`{"profile_id": "a"}`, `{"program_ids": ["p-1"]}`, string(tooMany)} {
		matcher := &mockMatcher{}
		s := newTestServer(t, Deps{Matcher: matcher})

		w := do(s, http.MethodPost, "/match/batch", body)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Zero(t, matcher.calls())
	}
}

func TestSearchEndpoint(t *testing.T) {
	matcher := &mockMatcher{
		RankFunc: func(_ context.Context, _ string, req matching.RankRequest) (*matching.RankResult, ratelimit.Info, error) {
			assert.Equal(t, "export voucher", req.Query)
			assert.Equal(t, 5, req.Limit)
			assert.True(t, req.ExcludeClosed)
			return &matching.RankResult{
				Query:    req.Query,
				Degraded: true,
				Programs: []matching.RankedProgram{
					{
						FusedResult: ranking.FusedResult{ID: "p-2", Score: 0.0328, SemanticRank: 1, KeywordRank: 1},
						Program:     &types.ProgramCandidate{ID: "p-2", Title: "Export voucher"},
					},
					{
						FusedResult: ranking.FusedResult{ID: "p-7", Score: 0.0161, KeywordRank: 2},
						Program:     &types.ProgramCandidate{ID: "p-7", Title: "Overseas fair"},
						Err:         &gateway.RejectedError{Attempts: 1, Err: errors.New("bad")},
					},
				},
			}, ratelimit.Info{}, nil
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher})

	w := do(s, http.MethodGet, "/programs/search?q=export+voucher&limit=5&exclude_closed=true", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Query    string           `json:"query"`
		Degraded bool             `json:"degraded"`
		Programs []map[string]any `json:"programs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Programs, 2)
	assert.Equal(t, "p-2", resp.Programs[0]["id"])
	assert.Equal(t, float64(1), resp.Programs[0]["semantic_rank"])
	assert.NotContains(t, resp.Programs[0], "error")
	assert.Equal(t, codeGenerationRejected, resp.Programs[1]["error"])
}

func TestSearchEndpoint_Validation(t *testing.T) {
	for _, target := range []string{
		"/programs/search",
		"/programs/search?q=x&limit=-1",
		"/programs/search?q=x&limit=abc",
		"/programs/search?profile_id=a&score_top=21",
	} {
		matcher := &mockMatcher{}
		s := newTestServer(t, Deps{Matcher: matcher})

		w := do(s, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, target)
		assert.Zero(t, matcher.calls())
	}
}

func TestSearchEndpoint_RetrievalUnavailable(t *testing.T) {
	matcher := &mockMatcher{
		RankFunc: func(context.Context, string, matching.RankRequest) (*matching.RankResult, ratelimit.Info, error) {
			return nil, ratelimit.Info{}, matching.ErrRetrievalUnavailable
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher})

	w := do(s, http.MethodGet, "/programs/search?q=x", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, codeUnavailable, decodeBody(t, w)["error"])
}

func TestRateLimitMiddleware_ReadRoutes(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cfg := ratelimit.DefaultConfig()
	cfg.Quotas[ratelimit.PurposeRead] = ratelimit.Quota{Limit: 2, Window: time.Minute}
	limiter := ratelimit.NewLimiter(cfg, ratelimit.NewMemoryStore(0),
		ratelimit.WithClock(func() time.Time { return now }),
		ratelimit.WithLogger(quietLogger()))

	s := newTestServer(t, Deps{Limiter: limiter, Offsets: feedback.NewMemoryOffsetStore()})

	w := do(s, http.MethodGet, "/feedback/offset", "", "X-Real-IP", "198.51.100.9")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(now.Add(time.Minute).UnixMilli(), 10), w.Header().Get("X-RateLimit-Reset"))

	w = do(s, http.MethodGet, "/feedback/offset", "", "X-Real-IP", "198.51.100.9")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodGet, "/feedback/offset", "", "X-Real-IP", "198.51.100.9")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, codeRateLimited, decodeBody(t, w)["error"])

	// Other identities and unlimited routes are unaffected.
	w = do(s, http.MethodGet, "/feedback/offset", "", "X-Real-IP", "198.51.100.10")
	assert.Equal(t, http.StatusOK, w.Code)
	w = do(s, http.MethodGet, "/health", "", "X-Real-IP", "198.51.100.9")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
}

func TestRateLimitMiddleware_GenerationRoutesPassThrough(t *testing.T) {
	cfg := ratelimit.DefaultConfig()
	cfg.Blacklist["203.0.113.7"] = true
	limiter := ratelimit.NewLimiter(cfg, ratelimit.NewMemoryStore(0), ratelimit.WithLogger(quietLogger()))

	matcher := &mockMatcher{
		ScoreFunc: func(context.Context, string, matching.ScoreRequest) (*matching.Match, ratelimit.Info, error) {
			return &matching.Match{Score: 10}, ratelimit.Info{}, nil
		},
	}
	s := newTestServer(t, Deps{Matcher: matcher, Limiter: limiter})

	w := do(s, http.MethodPost, "/match", `{"profile_id": "a", "program_id": "b"}`, "X-Forwarded-For", "203.0.113.7")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, matcher.calls())
}

func TestRateLimitMiddleware_BlacklistedClientGetsHeaders(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cfg := ratelimit.DefaultConfig()
	cfg.Blacklist["203.0.113.7"] = true
	limiter := ratelimit.NewLimiter(cfg, ratelimit.NewMemoryStore(0),
		ratelimit.WithClock(func() time.Time { return now }),
		ratelimit.WithLogger(quietLogger()))

	s := newTestServer(t, Deps{Limiter: limiter, Offsets: feedback.NewMemoryOffsetStore()})

	w := do(s, http.MethodGet, "/feedback/offset", "", "X-Forwarded-For", "203.0.113.7")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, strconv.Itoa(cfg.Quotas[ratelimit.PurposeRead].Limit), w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, strconv.FormatInt(now.Add(time.Minute).UnixMilli(), 10), w.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
}

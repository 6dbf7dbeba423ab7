package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jonathan/grant-matcher/internal/gateway"
	"github.com/jonathan/grant-matcher/internal/matching"
	"github.com/jonathan/grant-matcher/internal/types"
)

// Request limits.
const (
	maxBodyBytes = 1 << 20
	MaxBatchSize = 50
	MaxSearchTop = 20
)

// MatchRequest represents the request body for /match and /match/stream
type MatchRequest struct {
	ProfileID string                  `json:"profile_id,omitempty"`
	Profile   *types.CompanyProfile   `json:"profile,omitempty"`
	ProgramID string                  `json:"program_id,omitempty"`
	Program   *types.ProgramCandidate `json:"program,omitempty"`
	Documents []string                `json:"documents,omitempty"`
	Context   string                  `json:"context,omitempty"`
}

func (m *MatchRequest) validate() error {
	if m.Profile == nil && strings.TrimSpace(m.ProfileID) == "" {
		return &ErrValidation{Field: "profile", Message: "profile or profile_id is required"}
	}
	if m.Program == nil && strings.TrimSpace(m.ProgramID) == "" {
		return &ErrValidation{Field: "program", Message: "program or program_id is required"}
	}
	return nil
}

func (m *MatchRequest) scoreRequest() matching.ScoreRequest {
	return matching.ScoreRequest{
		ProfileID: m.ProfileID,
		Profile:   m.Profile,
		ProgramID: m.ProgramID,
		Program:   m.Program,
		Documents: m.Documents,
		Context:   m.Context,
	}
}

// BatchMatchRequest represents the request body for /match/batch
type BatchMatchRequest struct {
	ProfileID  string                `json:"profile_id,omitempty"`
	Profile    *types.CompanyProfile `json:"profile,omitempty"`
	ProgramIDs []string              `json:"program_ids"`
	Documents  []string              `json:"documents,omitempty"`
	Contexts   map[string]string     `json:"contexts,omitempty"`
}

func (b *BatchMatchRequest) validate() error {
	if b.Profile == nil && strings.TrimSpace(b.ProfileID) == "" {
		return &ErrValidation{Field: "profile", Message: "profile or profile_id is required"}
	}
	if len(b.ProgramIDs) == 0 {
		return &ErrValidation{Field: "program_ids", Message: "at least one program is required"}
	}
	if len(b.ProgramIDs) > MaxBatchSize {
		return &ErrValidation{Field: "program_ids", Message: fmt.Sprintf("at most %d programs per batch", MaxBatchSize)}
	}
	return nil
}

// BatchItemResponse is one entry of the /match/batch response
type BatchItemResponse struct {
	Index     int             `json:"index"`
	ProgramID string          `json:"program_id"`
	Match     *matching.Match `json:"match,omitempty"`
	Error     string          `json:"error,omitempty"`
	Message   string          `json:"message,omitempty"`
}

// BatchMatchResponse represents the response for /match/batch
type BatchMatchResponse struct {
	Results []BatchItemResponse `json:"results"`
	Failed  int                 `json:"failed"`
}

// RankedProgramResponse is one program of the /programs/search response
type RankedProgramResponse struct {
	matching.RankedProgram
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// SearchResponse represents the response for /programs/search
type SearchResponse struct {
	Query    string                  `json:"query"`
	Degraded bool                    `json:"degraded,omitempty"`
	Programs []RankedProgramResponse `json:"programs"`
}

// decodeJSON decodes a bounded JSON body. Unknown fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return &ErrValidation{Field: "body", Message: "request body is required"}
		}
		return &ErrValidation{Field: "body", Message: err.Error()}
	}
	return nil
}

// handleMatch scores one program for one profile
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, err)
		return
	}

	match, info, err := s.deps.Matcher.Score(r.Context(), ClientID(r), req.scoreRequest())
	s.setRateLimitHeaders(w, info)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, match)
}

// handleMatchStream streams generated tokens as SSE, ending with a result or error event
func (s *Server) handleMatchStream(w http.ResponseWriter, r *http.Request) {
	var req MatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, info, err := s.deps.Matcher.ScoreStream(ctx, ClientID(r), req.scoreRequest())
	s.setRateLimitHeaders(w, info)
	if err != nil {
		s.writeError(w, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		cancel()
		drain(events)
		s.errorResponse(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}

	for ev := range events {
		var werr error
		switch ev.Type {
		case gateway.EventToken:
			werr = sse.WriteToken(ev.Token)
		case gateway.EventResult:
			werr = sse.WriteEvent("result", ev.Match)
		default:
			s.logger.Warn("match stream failed", "error", ev.Err)
			sse.WriteError(ev.Err)
		}
		if werr != nil {
			s.logger.Debug("client went away during stream", "error", werr)
			cancel()
			drain(events)
			return
		}
	}
}

func drain[T any](ch <-chan T) {
	for range ch {
	}
}

// handleMatchBatch scores several programs for one profile, in request order
func (s *Server) handleMatchBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchMatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		s.writeError(w, err)
		return
	}

	results, info, err := s.deps.Matcher.ScoreBatch(r.Context(), ClientID(r), matching.BatchRequest{
		ProfileID:  req.ProfileID,
		Profile:    req.Profile,
		ProgramIDs: req.ProgramIDs,
		Documents:  req.Documents,
		Contexts:   req.Contexts,
	})
	s.setRateLimitHeaders(w, info)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := BatchMatchResponse{Results: make([]BatchItemResponse, 0, len(results))}
	for _, res := range results {
		item := BatchItemResponse{Index: res.Index, ProgramID: res.ProgramID, Match: res.Match}
		if res.Err != nil {
			item.Error = errorCode(res.Err)
			item.Message = res.Err.Error()
			resp.Failed++
		}
		resp.Results = append(resp.Results, item)
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// handleSearchPrograms ranks the catalog with hybrid retrieval
func (s *Server) handleSearchPrograms(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := matching.RankRequest{
		Query:         strings.TrimSpace(q.Get("q")),
		ProfileID:     strings.TrimSpace(q.Get("profile_id")),
		ExcludeClosed: q.Get("exclude_closed") == "true",
	}
	if req.Query == "" && req.ProfileID == "" {
		s.writeError(w, &ErrValidation{Field: "q", Message: "q or profile_id is required"})
		return
	}

	var err error
	if req.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ScoreTop, err = intParam(q.Get("score_top"), "score_top"); err != nil {
		s.writeError(w, err)
		return
	}
	if req.ScoreTop > MaxSearchTop {
		s.writeError(w, &ErrValidation{Field: "score_top", Message: fmt.Sprintf("must be <= %d", MaxSearchTop)})
		return
	}

	result, info, err := s.deps.Matcher.Rank(r.Context(), ClientID(r), req)
	if info.Limit > 0 {
		s.setRateLimitHeaders(w, info)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := SearchResponse{
		Query:    result.Query,
		Degraded: result.Degraded,
		Programs: make([]RankedProgramResponse, 0, len(result.Programs)),
	}
	for _, p := range result.Programs {
		item := RankedProgramResponse{RankedProgram: p}
		if p.Err != nil {
			item.Error = errorCode(p.Err)
			item.Message = p.Err.Error()
		}
		resp.Programs = append(resp.Programs, item)
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(raw, field string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, &ErrValidation{Field: field, Message: "must be a non-negative integer"}
	}
	return n, nil
}

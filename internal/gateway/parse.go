package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/jonathan/grant-matcher/internal/llm"
	"github.com/jonathan/grant-matcher/internal/schemas"
)

// matchResponse is the JSON the provider is prompted to return.
type matchResponse struct {
	Score     int      `json:"score"`
	Rationale string   `json:"rationale"`
	Strengths []string `json:"strengths"`
	Gaps      []string `json:"gaps"`
}

// parseResult turns raw provider text into a Result. Both blocking and
// streaming generation finish here.
func parseResult(text string) (*Result, error) {
	cleaned := llm.CleanJSONBlock(text)
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty response", llm.ErrMalformedResponse)
	}

	if err := schemas.ValidateMatchResponse(cleaned); err != nil {
		return nil, fmt.Errorf("%w: %v", llm.ErrMalformedResponse, err)
	}

	var resp matchResponse
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v (content: %s)", llm.ErrMalformedResponse, err, cleaned)
	}

	return &Result{
		Score:     resp.Score,
		Rationale: resp.Rationale,
		Strengths: resp.Strengths,
		Gaps:      resp.Gaps,
	}, nil
}

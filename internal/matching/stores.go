package matching

import (
	"context"
	"fmt"

	"github.com/jonathan/grant-matcher/internal/types"
)

// ProfileStore reads company profiles. GetProfile returns nil, nil when the profile does not exist.
type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*types.CompanyProfile, error)
}

// ProgramStore reads the program catalog. GetProgram returns nil, nil when the
// program does not exist; GetPrograms omits unknown IDs and may return programs in any order.
type ProgramStore interface {
	GetProgram(ctx context.Context, id string) (*types.ProgramCandidate, error)
	GetPrograms(ctx context.Context, ids []string) ([]types.ProgramCandidate, error)
}

// Hit is one retrieval result. Snippet is the matched text, if the retriever returns one.
type Hit struct {
	ProgramID string
	Snippet   string
}

// SemanticRetriever returns programs by embedding similarity, best first.
type SemanticRetriever interface {
	SearchSemantic(ctx context.Context, query string, limit int) ([]Hit, error)
}

// KeywordRetriever returns programs by full-text relevance, best first.
type KeywordRetriever interface {
	SearchKeyword(ctx context.Context, query string, limit int) ([]Hit, error)
}

// NotFoundError is returned when a referenced profile or program does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// InputError is returned for requests missing a profile or program.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return "invalid match request: " + e.Message
}

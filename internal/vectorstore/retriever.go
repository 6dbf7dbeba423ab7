package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jonathan/grant-matcher/internal/logging"
	"github.com/jonathan/grant-matcher/internal/matching"
	"github.com/jonathan/grant-matcher/internal/types"
)

// Embedder turns text into a dense vector. llm.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Index stores and searches program embeddings.
type Index interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, vectors []ProgramVector) error
	Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)
	Delete(ctx context.Context, programIDs []string) error
}

// Retriever serves semantic retrieval for ranking.
type Retriever struct {
	embedder Embedder
	index    Index
}

// NewRetriever creates a semantic retriever.
func NewRetriever(embedder Embedder, index Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// SearchSemantic embeds the query and returns the nearest programs, best first.
func (r *Retriever) SearchSemantic(ctx context.Context, query string, limit int) ([]matching.Hit, error) {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := r.index.Search(ctx, vector, limit)
	if err != nil {
		return nil, err
	}

	hits := make([]matching.Hit, len(results))
	for i, res := range results {
		hits[i] = matching.Hit{ProgramID: res.ProgramID, Snippet: res.Content}
	}
	return hits, nil
}

var _ matching.SemanticRetriever = (*Retriever)(nil)

// Indexer embeds programs and writes them to an Index.
type Indexer struct {
	embedder Embedder
	index    Index
	logger   *slog.Logger
	now      func() time.Time
}

// NewIndexer creates an indexer. A nil logger uses the component default.
func NewIndexer(embedder Embedder, index Index, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = logging.New("vectorstore")
	}
	return &Indexer{embedder: embedder, index: index, logger: logger, now: time.Now}
}

// IndexResult summarizes an indexing run.
type IndexResult struct {
	Indexed int
	Skipped int
	Removed int
}

// IndexPrograms embeds and upserts programs in chunks of batchSize. Programs
// with no indexable text are skipped. Programs past their deadline are removed
// from the index instead. The collection is created on first use.
func (ix *Indexer) IndexPrograms(ctx context.Context, programs []types.ProgramCandidate, batchSize int) (IndexResult, error) {
	if batchSize <= 0 {
		batchSize = 64
	}

	var result IndexResult
	var closed []string
	now := ix.now()
	ensured := false
	pending := make([]ProgramVector, 0, batchSize)

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := ix.index.Upsert(ctx, pending); err != nil {
			return err
		}
		result.Indexed += len(pending)
		pending = pending[:0]
		return nil
	}

	for _, p := range programs {
		if p.IsClosed(now) {
			closed = append(closed, p.ID)
			continue
		}
		content := ProgramText(p)
		if content == "" {
			result.Skipped++
			continue
		}

		vector, err := ix.embedder.Embed(ctx, content)
		if err != nil {
			return result, fmt.Errorf("failed to embed program %s: %w", p.ID, err)
		}
		if !ensured {
			if err := ix.index.EnsureCollection(ctx, len(vector)); err != nil {
				return result, err
			}
			ensured = true
		}

		pending = append(pending, ProgramVector{ProgramID: p.ID, Title: p.Title, Content: content, Vector: vector})
		if len(pending) == batchSize {
			if err := flush(); err != nil {
				return result, err
			}
		}
	}
	if err := flush(); err != nil {
		return result, err
	}
	if err := ix.index.Delete(ctx, closed); err != nil {
		return result, err
	}
	result.Removed = len(closed)

	ix.logger.Info("indexed programs",
		"indexed", result.Indexed,
		"skipped", result.Skipped,
		"removed", result.Removed)
	return result, nil
}

// ProgramText is the text embedded for a program.
func ProgramText(p types.ProgramCandidate) string {
	var parts []string
	for _, s := range []string{p.Title, p.Category, p.SupportType, p.Summary} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

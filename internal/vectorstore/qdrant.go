// Package vectorstore indexes support program embeddings in Qdrant and serves
// semantic retrieval over them.
package vectorstore

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// DefaultCollection is the collection holding program embeddings.
const DefaultCollection = "support_programs"

// Payload fields.
const (
	payloadProgramID = "program_id"
	payloadTitle     = "title"
	payloadContent   = "content"
)

// programNamespace derives stable point IDs from program IDs.
var programNamespace = uuid.MustParse("6f1c2d1e-8a52-4c61-9d0f-4b7e9a3c2f10")

// PointID returns the Qdrant point ID for a program.
func PointID(programID string) string {
	return uuid.NewSHA1(programNamespace, []byte(programID)).String()
}

// ProgramVector is one program embedding to index.
type ProgramVector struct {
	ProgramID string
	Title     string
	Content   string
	Vector    []float32
}

// SearchResult is a similarity search hit.
type SearchResult struct {
	ProgramID string
	Title     string
	Content   string
	Score     float32
}

// QdrantStore stores program embeddings in one Qdrant collection.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore creates a new Qdrant client.
// url should be in format "host:port" (e.g., "localhost:6334")
func NewQdrantStore(url, collection string) (*QdrantStore, error) {
	host, portStr, err := net.SplitHostPort(url)
	if err != nil {
		// If no port specified, assume default
		host = url
		portStr = "6334"
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant url: %w", err)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	if collection == "" {
		collection = DefaultCollection
	}
	return &QdrantStore{client: client, collection: collection}, nil
}

// Close closes the Qdrant client connection
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// EnsureCollection creates the collection with cosine distance if it does not exist.
func (s *QdrantStore) EnsureCollection(ctx context.Context, dimension int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}
	return nil
}

// Upsert inserts or replaces program embeddings.
func (s *QdrantStore) Upsert(ctx context.Context, vectors []ProgramVector) error {
	if len(vectors) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, len(vectors))
	for i, v := range vectors {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(v.ProgramID)),
			Vectors: qdrant.NewVectors(v.Vector...),
			Payload: map[string]*qdrant.Value{
				payloadProgramID: qdrant.NewValueString(v.ProgramID),
				payloadTitle:     qdrant.NewValueString(v.Title),
				payloadContent:   qdrant.NewValueString(v.Content),
			},
		}
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert points: %w", err)
	}
	return nil
}

// Search returns the programs closest to vector, best first.
func (s *QdrantStore) Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	response, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}

	results := make([]SearchResult, 0, len(response))
	for _, point := range response {
		r := SearchResult{Score: point.Score}
		if payload := point.Payload; payload != nil {
			r.ProgramID = payload[payloadProgramID].GetStringValue()
			r.Title = payload[payloadTitle].GetStringValue()
			r.Content = payload[payloadContent].GetStringValue()
		}
		if r.ProgramID == "" {
			continue
		}
		results = append(results, r)
	}
	return results, nil
}

// Delete removes program embeddings. A missing collection has nothing to delete.
func (s *QdrantStore) Delete(ctx context.Context, programIDs []string) error {
	if len(programIDs) == 0 {
		return nil
	}
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}
	if !exists {
		return nil
	}

	ids := make([]*qdrant.PointId, len(programIDs))
	for i, id := range programIDs {
		ids[i] = qdrant.NewIDUUID(PointID(id))
	}
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{Ids: ids},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to delete %d programs: %w", len(programIDs), err)
	}
	return nil
}

var _ Index = (*QdrantStore)(nil)

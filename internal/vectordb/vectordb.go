// Package vectordb defines the vector-index capability used by the vector
// store adapter (C5) and cross-modal matcher (C11), plus a Qdrant-backed
// implementation. The shape mirrors the teacher's adapters/vectordb/qdrant
// package but talks to github.com/qdrant/go-client directly rather than an
// internally extracted module.
package vectordb

import "context"

// DistanceMetric names the similarity measure a collection was created with.
type DistanceMetric string

const (
	DistanceCosine    DistanceMetric = "cosine"
	DistanceDot       DistanceMetric = "dot"
	DistanceEuclidean DistanceMetric = "euclidean"
)

// Point is one vector plus its payload, keyed by ID.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]interface{}
}

// ScoredPoint is a Point with its similarity score against a query vector.
type ScoredPoint struct {
	ID      string
	Score   float64
	Payload map[string]interface{}
	Vector  []float32
}

// SearchOptions narrows a Search call.
type SearchOptions struct {
	Limit          int
	ScoreThreshold float64
	WithPayload    bool
	WithVectors    bool
	Filter         map[string]interface{}
}

// DefaultSearchOptions returns the conventional defaults: top 10, no
// threshold, payload included, vectors excluded.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{Limit: 10, WithPayload: true}
}

// CollectionConfig describes a collection at creation time.
type CollectionConfig struct {
	Name       string
	VectorSize int
	Distance   DistanceMetric
}

// Index is the capability every vector-backed component depends on.
type Index interface {
	CreateCollection(ctx context.Context, cfg CollectionConfig) error
	CollectionExists(ctx context.Context, name string) (bool, error)
	DeleteCollection(ctx context.Context, name string) error

	Upsert(ctx context.Context, collection string, points []Point) error
	Delete(ctx context.Context, collection string, ids []string) error
	Get(ctx context.Context, collection string, ids []string) ([]Point, error)

	Search(ctx context.Context, collection string, query []float32, opts SearchOptions) ([]ScoredPoint, error)

	Count(ctx context.Context, collection string) (int64, error)
	Close() error
}

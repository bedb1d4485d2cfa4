// Package vectorstore implements the vector store adapter (C5): typed
// CRUD plus KNN search over an embedding document, generalized from the
// teacher's internal/database/vector_document_repository.go (document
// CRUD/filter/bulk-create over Postgres) onto the vectordb.Index
// capability, keyed the way the teacher's qdrant adapter keys points.
package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"aimw.dev/aimw/internal/aimwerr"
	"aimw.dev/aimw/internal/vectordb"
)

// Document is one stored embedding plus its provenance and relationships.
type Document struct {
	ID            string
	Vector        []float32
	ContentID     string
	ContentType   string
	Metadata      map[string]interface{}
	Relationships []string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// SearchParams narrows SearchSimilar.
type SearchParams struct {
	Limit            int
	Threshold        float64
	IncludeMetadata  bool
	IncludeVectors   bool
}

// ScoredDocument is a Document with its similarity score.
type ScoredDocument struct {
	Document   Document
	Similarity float64
}

const defaultCollection = "embeddings"
const keyPrefixDefault = "aimw"

// Adapter is the C5 vector store adapter.
type Adapter struct {
	index      vectordb.Index
	collection string
	prefix     string
	log        *logrus.Entry
}

// New builds an Adapter over index, ensuring its collection exists.
func New(ctx context.Context, index vectordb.Index, prefix string, vectorSize int, log *logrus.Entry) (*Adapter, error) {
	if prefix == "" {
		prefix = keyPrefixDefault
	}
	exists, err := index.CollectionExists(ctx, defaultCollection)
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "check embeddings collection")
	}
	if !exists {
		if err := index.CreateCollection(ctx, vectordb.CollectionConfig{
			Name:       defaultCollection,
			VectorSize: vectorSize,
			Distance:   vectordb.DistanceCosine,
		}); err != nil {
			return nil, aimwerr.Wrap(aimwerr.StoreError, err, "create embeddings collection")
		}
	}
	return &Adapter{
		index:      index,
		collection: defaultCollection,
		prefix:     prefix,
		log:        log.WithField("component", "vectorstore"),
	}, nil
}

// docKey returns the Store key a document would occupy, mirroring
// {prefix}:embedding:{id}.
func (a *Adapter) docKey(id string) string {
	return fmt.Sprintf("%s:embedding:%s", a.prefix, id)
}

func toPoint(d Document) vectordb.Point {
	payload := map[string]interface{}{
		"contentId":     d.ContentID,
		"contentType":   d.ContentType,
		"relationships": d.Relationships,
		"createdAt":     d.CreatedAt,
		"updatedAt":     d.UpdatedAt,
	}
	for k, v := range d.Metadata {
		payload["meta_"+k] = v
	}
	return vectordb.Point{ID: d.ID, Vector: d.Vector, Payload: payload}
}

func fromPoint(p vectordb.Point) Document {
	doc := Document{ID: p.ID, Vector: p.Vector, Metadata: map[string]interface{}{}}
	for k, v := range p.Payload {
		switch k {
		case "contentId":
			doc.ContentID, _ = v.(string)
		case "contentType":
			doc.ContentType, _ = v.(string)
		case "relationships":
			if rs, ok := v.([]string); ok {
				doc.Relationships = rs
			} else if rs, ok := v.([]interface{}); ok {
				for _, r := range rs {
					if s, ok := r.(string); ok {
						doc.Relationships = append(doc.Relationships, s)
					}
				}
			}
		case "createdAt":
			if t, ok := v.(time.Time); ok {
				doc.CreatedAt = t
			}
		case "updatedAt":
			if t, ok := v.(time.Time); ok {
				doc.UpdatedAt = t
			}
		default:
			if len(k) > 5 && k[:5] == "meta_" {
				doc.Metadata[k[5:]] = v
			}
		}
	}
	return doc
}

// StoreEmbedding upserts a single document, assigning a UUID when ID is empty.
func (a *Adapter) StoreEmbedding(ctx context.Context, doc Document) (Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	if err := a.index.Upsert(ctx, a.collection, []vectordb.Point{toPoint(doc)}); err != nil {
		return Document{}, aimwerr.Wrap(aimwerr.StoreError, err, "store embedding")
	}
	return doc, nil
}

// StoreBatch upserts many documents in one call, assigning UUIDs where needed.
func (a *Adapter) StoreBatch(ctx context.Context, docs []Document) ([]Document, error) {
	now := time.Now()
	points := make([]vectordb.Point, len(docs))
	out := make([]Document, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		d.UpdatedAt = now
		points[i] = toPoint(d)
		out[i] = d
	}
	if err := a.index.Upsert(ctx, a.collection, points); err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "store embedding batch")
	}
	return out, nil
}

// GetEmbedding retrieves one document by ID.
func (a *Adapter) GetEmbedding(ctx context.Context, id string) (*Document, error) {
	points, err := a.index.Get(ctx, a.collection, []string{id})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "get embedding")
	}
	if len(points) == 0 {
		return nil, aimwerr.Newf(aimwerr.CacheMiss, "embedding %q not found", id)
	}
	doc := fromPoint(points[0])
	return &doc, nil
}

// DeleteEmbedding removes one document by ID.
func (a *Adapter) DeleteEmbedding(ctx context.Context, id string) error {
	if err := a.index.Delete(ctx, a.collection, []string{id}); err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "delete embedding")
	}
	return nil
}

// SearchSimilar runs a KNN search against vector, dropping matches below
// params.Threshold client-side when the index didn't already honor it.
func (a *Adapter) SearchSimilar(ctx context.Context, vector []float32, params SearchParams) ([]ScoredDocument, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 10
	}
	results, err := a.index.Search(ctx, a.collection, vector, vectordb.SearchOptions{
		Limit:          limit,
		ScoreThreshold: params.Threshold,
		WithPayload:    params.IncludeMetadata,
		WithVectors:    params.IncludeVectors,
	})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "search similar embeddings")
	}

	out := make([]ScoredDocument, 0, len(results))
	for _, r := range results {
		if r.Score < params.Threshold {
			continue
		}
		doc := fromPoint(vectordb.Point{ID: r.ID, Vector: r.Vector, Payload: r.Payload})
		out = append(out, ScoredDocument{Document: doc, Similarity: r.Score})
	}
	return out, nil
}

// SearchByContentType runs SearchSimilar filtered to a single contentType.
func (a *Adapter) SearchByContentType(ctx context.Context, vector []float32, contentType string, params SearchParams) ([]ScoredDocument, error) {
	all, err := a.SearchSimilar(ctx, vector, params)
	if err != nil {
		return nil, err
	}
	out := make([]ScoredDocument, 0, len(all))
	for _, d := range all {
		if d.Document.ContentType == contentType {
			out = append(out, d)
		}
	}
	return out, nil
}

// GetByContentId scans stored documents for one matching contentID. The
// Index capability has no native secondary index, so this performs a
// bounded scan via Search with the caller's probeVector and a limit of
// 10000,
// mirroring the teacher's repository-level filter-by-field queries.
func (a *Adapter) GetByContentId(ctx context.Context, contentID string, probeVector []float32) (*Document, error) {
	results, err := a.index.Search(ctx, a.collection, probeVector, vectordb.SearchOptions{
		Limit:       10000,
		WithPayload: true,
		WithVectors: true,
	})
	if err != nil {
		return nil, aimwerr.Wrap(aimwerr.StoreError, err, "scan for content id")
	}
	for _, r := range results {
		doc := fromPoint(vectordb.Point{ID: r.ID, Vector: r.Vector, Payload: r.Payload})
		if doc.ContentID == contentID {
			return &doc, nil
		}
	}
	return nil, aimwerr.Newf(aimwerr.CacheMiss, "no embedding for content id %q", contentID)
}

// UpdateRelationships overwrites the relationship list on an existing document.
func (a *Adapter) UpdateRelationships(ctx context.Context, id string, relationships []string) error {
	doc, err := a.GetEmbedding(ctx, id)
	if err != nil {
		return err
	}
	doc.Relationships = relationships
	doc.UpdatedAt = time.Now()
	if err := a.index.Upsert(ctx, a.collection, []vectordb.Point{toPoint(*doc)}); err != nil {
		return aimwerr.Wrap(aimwerr.StoreError, err, "update relationships")
	}
	return nil
}

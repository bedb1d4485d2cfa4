// Package crossmodal implements the cross-modal matcher (C11): direct KNN
// matching into each target modality, contextual reweighting by tag/path/
// time overlap, optional semantic bridging through a text modality, and
// relationship-type inference — grounded in the same search/scoring shape
// the teacher's qdrant adapter uses for C5, reused here for multi-
// modality fan-out instead of a single collection scan.
package crossmodal

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"aimw.dev/aimw/internal/vectorstore"
)

// MatchOptions tunes one Match call.
type MatchOptions struct {
	SourceModality      string
	SourceTags          []string
	SourcePath          string
	SourceTime          time.Time
	TargetModalities    []string
	SimilarityThreshold float64
	MaxMatchesPerType   int
	EnableBridging      bool
	BridgeModality      string // defaults to "text"
}

// Match is one cross-modal hit.
type Match struct {
	Document         vectorstore.Document
	Score            float64
	RelationshipType string
	Bridged          bool
}

// relationshipTable maps (sourceType, targetType) to a default relationship
// label; pairs absent from the table fall back to "related".
var relationshipTable = map[[2]string]string{
	{"text", "image"}:          "illustrates",
	{"image", "text"}:          "described-by",
	{"text", "audio"}:          "narrated-as",
	{"audio", "text"}:          "transcribed-as",
	{"code", "documentation"}:  "documented-by",
	{"documentation", "code"}:  "documents",
	{"code", "code"}:           "related-implementation",
	{"text", "code"}:           "specifies",
	{"code", "text"}:           "implements-spec",
}

func relationshipFor(sourceType, targetType string, tags []string) string {
	for _, tag := range tags {
		t := strings.ToLower(tag)
		switch {
		case strings.Contains(t, "example"):
			return "example-of"
		case strings.Contains(t, "documentation"):
			return "documented-by"
		case strings.Contains(t, "implementation"):
			return "implements"
		}
	}
	if label, ok := relationshipTable[[2]string{sourceType, targetType}]; ok {
		return label
	}
	return "related"
}

func stringSlice(v interface{}) []string {
	switch tv := v.(type) {
	case []string:
		return tv
	case []interface{}:
		out := make([]string, 0, len(tv))
		for _, e := range tv {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func docTags(d vectorstore.Document) []string {
	if d.Metadata == nil {
		return nil
	}
	return stringSlice(d.Metadata["tags"])
}

func docPath(d vectorstore.Document) string {
	if d.Metadata == nil {
		return ""
	}
	s, _ := d.Metadata["path"].(string)
	return s
}

func tagOverlap(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, t := range a {
		setA[strings.ToLower(t)] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	union := make(map[string]struct{}, len(a)+len(b))
	for t := range setA {
		union[t] = struct{}{}
	}
	for _, t := range b {
		lt := strings.ToLower(t)
		setB[lt] = struct{}{}
		union[lt] = struct{}{}
	}
	var shared int
	for t := range setA {
		if _, ok := setB[t]; ok {
			shared++
		}
	}
	if len(union) == 0 {
		return 0
	}
	return float64(shared) / float64(len(union))
}

func pathOverlap(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	segsA := strings.Split(strings.Trim(a, "/"), "/")
	segsB := strings.Split(strings.Trim(b, "/"), "/")
	n := len(segsA)
	if len(segsB) < n {
		n = len(segsB)
	}
	var common int
	for i := 0; i < n; i++ {
		if segsA[i] != segsB[i] {
			break
		}
		common++
	}
	maxLen := len(segsA)
	if len(segsB) > maxLen {
		maxLen = len(segsB)
	}
	if maxLen == 0 {
		return 0
	}
	return float64(common) / float64(maxLen)
}

func temporalProximity(a, b time.Time) float64 {
	if a.IsZero() || b.IsZero() {
		return 0.5 // neutral when timing is unknown
	}
	hours := math.Abs(a.Sub(b).Hours())
	return 1 / (1 + hours/24)
}

func docCapturedAt(d vectorstore.Document) time.Time {
	if !d.UpdatedAt.IsZero() {
		return d.UpdatedAt
	}
	return d.CreatedAt
}

// contextualFactor combines tag overlap, path overlap, and temporal
// proximity into a single [0,1] relevance multiplier.
func contextualFactor(opts MatchOptions, d vectorstore.Document) float64 {
	tags := tagOverlap(opts.SourceTags, docTags(d))
	path := pathOverlap(opts.SourcePath, docPath(d))
	temporal := temporalProximity(opts.SourceTime, docCapturedAt(d))
	return tags*0.4 + path*0.3 + temporal*0.3
}

// Matcher finds related items across content modalities given a source
// embedding.
type Matcher struct {
	store *vectorstore.Adapter
}

// New builds a Matcher over an existing vector store adapter.
func New(store *vectorstore.Adapter) *Matcher {
	return &Matcher{store: store}
}

// Match runs the direct KNN pass over every target modality, applies
// contextual reweighting, optionally bridges through a text modality when
// direct matches are sparse, and returns the combined, sorted, capped set.
func (m *Matcher) Match(ctx context.Context, sourceVector []float32, opts MatchOptions) ([]Match, error) {
	if opts.MaxMatchesPerType <= 0 {
		opts.MaxMatchesPerType = 5
	}
	if opts.BridgeModality == "" {
		opts.BridgeModality = "text"
	}

	var all []Match

	for _, target := range opts.TargetModalities {
		direct, err := m.store.SearchByContentType(ctx, sourceVector, target, vectorstore.SearchParams{
			Limit:           opts.MaxMatchesPerType * 3,
			Threshold:       opts.SimilarityThreshold,
			IncludeMetadata: true,
			IncludeVectors:  true,
		})
		if err != nil {
			return nil, err
		}

		matched := m.applyContext(opts, direct)

		if opts.EnableBridging && len(matched) < opts.MaxMatchesPerType {
			bridged, err := m.bridge(ctx, sourceVector, target, opts)
			if err != nil {
				return nil, err
			}
			matched = append(matched, bridged...)
		}

		sort.Slice(matched, func(i, j int) bool { return matched[i].Score > matched[j].Score })
		if len(matched) > opts.MaxMatchesPerType {
			matched = matched[:opts.MaxMatchesPerType]
		}
		all = append(all, matched...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	limit := opts.MaxMatchesPerType * len(opts.TargetModalities)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *Matcher) applyContext(opts MatchOptions, hits []vectorstore.ScoredDocument) []Match {
	out := make([]Match, 0, len(hits))
	for _, h := range hits {
		factor := contextualFactor(opts, h.Document)
		if factor < 0.3 {
			continue
		}
		out = append(out, Match{
			Document:         h.Document,
			Score:            h.Similarity * factor,
			RelationshipType: relationshipFor(opts.SourceModality, h.Document.ContentType, docTags(h.Document)),
		})
	}
	return out
}

// bridge searches the bridge modality first, then fans out from each
// bridge hit into the real target modality, combining confidence as
// s1 * s2 * 0.8.
func (m *Matcher) bridge(ctx context.Context, sourceVector []float32, target string, opts MatchOptions) ([]Match, error) {
	bridgeHits, err := m.store.SearchByContentType(ctx, sourceVector, opts.BridgeModality, vectorstore.SearchParams{
		Limit:           opts.MaxMatchesPerType,
		Threshold:       opts.SimilarityThreshold,
		IncludeMetadata: true,
		IncludeVectors:  true,
	})
	if err != nil {
		return nil, err
	}

	var out []Match
	for _, bridgeHit := range bridgeHits {
		if len(bridgeHit.Document.Vector) == 0 {
			continue
		}
		targetHits, err := m.store.SearchByContentType(ctx, bridgeHit.Document.Vector, target, vectorstore.SearchParams{
			Limit:           opts.MaxMatchesPerType,
			Threshold:       opts.SimilarityThreshold,
			IncludeMetadata: true,
			IncludeVectors:  true,
		})
		if err != nil {
			return nil, err
		}
		for _, th := range targetHits {
			factor := contextualFactor(opts, th.Document)
			if factor < 0.3 {
				continue
			}
			confidence := bridgeHit.Similarity * th.Similarity * 0.8
			out = append(out, Match{
				Document:         th.Document,
				Score:            confidence * factor,
				RelationshipType: relationshipFor(opts.SourceModality, th.Document.ContentType, docTags(th.Document)),
				Bridged:          true,
			})
		}
	}
	return out, nil
}

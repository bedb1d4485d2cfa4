package cache

import (
	"regexp"
	"sort"
	"strings"

	"aimw.dev/aimw/internal/models"
)

var (
	punctuationPattern = regexp.MustCompile(`[^\w\s]`)
	whitespacePattern  = regexp.MustCompile(`\s+`)
)

var qaStopWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "is": {}, "are": {}, "of": {}, "to": {}, "in": {}, "for": {}, "and": {},
}

var codeSynonyms = map[string]string{
	"func":      "function",
	"fn":        "function",
	"impl":      "implementation",
	"var":       "variable",
	"arr":       "array",
}

// normalizeQuery applies the module-wide normalization pipeline: lowercase,
// trim, collapse whitespace, strip punctuation, then request-type-specific
// term handling. Idempotent: normalizeQuery(normalizeQuery(q)) == normalizeQuery(q).
func normalizeQuery(query string, reqType models.RequestType) string {
	q := strings.ToLower(strings.TrimSpace(query))
	q = punctuationPattern.ReplaceAllString(q, "")
	q = whitespacePattern.ReplaceAllString(q, " ")
	q = strings.TrimSpace(q)

	words := strings.Split(q, " ")
	filtered := make([]string, 0, len(words))
	for _, w := range words {
		if w == "" {
			continue
		}
		switch reqType {
		case models.RequestQuestionAnswering:
			if _, stop := qaStopWords[w]; stop {
				continue
			}
		case models.RequestCodeGeneration:
			if syn, ok := codeSynonyms[w]; ok {
				w = syn
			}
		}
		filtered = append(filtered, w)
	}
	return strings.Join(filtered, " ")
}

// cacheKey composes the deterministic semantic-cache key: "[model:]normalized[:ctx1:ctx2...]".
func cacheKey(normalized, model string, cacheByModel bool, contextTags []string) string {
	tags := append([]string{}, contextTags...)
	sort.Strings(tags)

	var b strings.Builder
	if cacheByModel && model != "" {
		b.WriteString(model)
		b.WriteString(":")
	}
	b.WriteString(normalized)
	for _, t := range tags {
		b.WriteString(":")
		b.WriteString(t)
	}
	return b.String()
}

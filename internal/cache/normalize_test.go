package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"aimw.dev/aimw/internal/models"
)

func TestNormalizeQueryIdempotent(t *testing.T) {
	inputs := []string{
		"  What IS the Capital of France?  ",
		"Write a func that reverses a string",
		"ALREADY lower case, no punctuation",
	}
	for _, in := range inputs {
		once := normalizeQuery(in, models.RequestQuestionAnswering)
		twice := normalizeQuery(once, models.RequestQuestionAnswering)
		assert.Equal(t, once, twice, "normalization must be idempotent for %q", in)
	}
}

func TestNormalizeQueryStripsStopWordsForQA(t *testing.T) {
	got := normalizeQuery("What is the capital of the France", models.RequestQuestionAnswering)
	assert.NotContains(t, got, " the ")
	assert.Contains(t, got, "capital")
}

func TestNormalizeQueryAppliesCodeSynonyms(t *testing.T) {
	got := normalizeQuery("write a func for this arr", models.RequestCodeGeneration)
	assert.Contains(t, got, "function")
	assert.Contains(t, got, "array")
}

func TestCacheKeyComposition(t *testing.T) {
	k := cacheKey("capital france", "gpt", true, []string{"b", "a"})
	assert.Equal(t, "gpt:capital france:a:b", k)

	k2 := cacheKey("capital france", "gpt", false, nil)
	assert.Equal(t, "capital france", k2)
}

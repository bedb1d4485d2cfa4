package analyzer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"aimw.dev/aimw/internal/models"
)

func TestAnalyzeComplexityBucketsByRequestType(t *testing.T) {
	textReq := models.Request{Type: models.RequestTextGeneration, Content: "hello there"}
	a := Analyze(textReq)
	assert.Equal(t, models.ComplexityLow, a.Complexity)

	codeReq := models.Request{Type: models.RequestCodeGeneration, Content: strings.Repeat("x", 6000) + " complex advanced algorithm"}
	a2 := Analyze(codeReq)
	assert.Equal(t, models.ComplexityHigh, a2.Complexity)
}

func TestAnalyzeEstimatedTokensCappedAt32k(t *testing.T) {
	req := models.Request{Type: models.RequestTextGeneration, Content: strings.Repeat("a", 400000)}
	a := Analyze(req)
	assert.Equal(t, 32000, a.EstimatedTokens)
}

func TestAnalyzeRequiredCapabilitiesIncludesBaseline(t *testing.T) {
	req := models.Request{Type: models.RequestCodeGeneration, Content: "write golang code"}
	a := Analyze(req)
	assert.Contains(t, a.RequiredCapabilities, "code-generation")
	assert.Contains(t, a.RequiredCapabilities, "lang:golang")
}

func TestAnalyzeUrgencyFromPriority(t *testing.T) {
	req := models.Request{
		Type:     models.RequestTextGeneration,
		Content:  "hello",
		Metadata: models.RequestMetadata{Priority: models.PriorityHigh},
	}
	a := Analyze(req)
	assert.Equal(t, models.UrgencyMedium, a.Urgency)
}

func TestAnalyzeUrgencyLowByDefault(t *testing.T) {
	req := models.Request{Type: models.RequestTextGeneration, Content: "hello"}
	a := Analyze(req)
	assert.Equal(t, models.UrgencyLow, a.Urgency)
}

func TestAnalyzeQualityShiftsForCreativeContent(t *testing.T) {
	req := models.Request{Type: models.RequestTextGeneration, Content: "write me a creative story"}
	a := Analyze(req)
	base := typeQualityDefaults[models.RequestTextGeneration]
	assert.Greater(t, a.Quality.Creativity, base.Creativity)
	assert.Less(t, a.Quality.Factuality, base.Factuality)
}

func TestAnalyzeQualityShiftsForFactualContent(t *testing.T) {
	req := models.Request{Type: models.RequestTextGeneration, Content: "give me accurate facts"}
	a := Analyze(req)
	base := typeQualityDefaults[models.RequestTextGeneration]
	assert.Greater(t, a.Quality.Accuracy, base.Accuracy)
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	req := models.Request{Type: models.RequestQuestionAnswering, Content: "what is the capital of france"}
	a1 := Analyze(req)
	a2 := Analyze(req)
	assert.Equal(t, a1, a2)
}

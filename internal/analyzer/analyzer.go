// Package analyzer implements the request analyzer (C8): a pure function
// of a Request and its Context that assigns complexity, token estimate,
// required capabilities, urgency, and quality targets. No teacher file
// implements this directly; it is written fresh in the teacher's
// plain-function, package-init-compiled-regexp style (seen in
// internal/cache/expiration.go's pattern tables).
package analyzer

import (
	"regexp"
	"strings"

	"aimw.dev/aimw/internal/models"
)

var complexityBase = map[models.RequestType]float64{
	models.RequestTextGeneration:     2,
	models.RequestCodeGeneration:     3,
	models.RequestImageAnalysis:      3,
	models.RequestAudioTranscription: 2,
	models.RequestTranslation:        2,
	models.RequestSummarization:      2,
	models.RequestQuestionAnswering:  2,
}

var complexityPatterns = []struct {
	re    *regexp.Regexp
	delta float64
}{
	{regexp.MustCompile(`(?i)complex|advanced`), 2},
	{regexp.MustCompile(`(?i)simple|basic`), -1},
}

var technicalTermPattern = regexp.MustCompile(`(?i)\b(algorithm|architecture|api|database|kubernetes|concurrency|asynchronous|microservice|protocol|encryption)\b`)

var urgencyKeywords = []struct {
	re    *regexp.Regexp
	delta float64
}{
	{regexp.MustCompile(`(?i)emergency`), 3},
	{regexp.MustCompile(`(?i)urgent`), 2},
	{regexp.MustCompile(`(?i)deadline`), 1},
}

var codeLanguagePattern = regexp.MustCompile(`(?i)\b(python|golang|go|javascript|typescript|rust|java|c\+\+)\b`)
var naturalLanguagePattern = regexp.MustCompile(`(?i)\b(french|spanish|german|japanese|mandarin|portuguese)\b`)

var creativePattern = regexp.MustCompile(`(?i)creative|story`)
var factualPattern = regexp.MustCompile(`(?i)fact|accurate`)

var typeCapabilityBaseline = map[models.RequestType][]string{
	models.RequestTextGeneration:     {"text-generation"},
	models.RequestCodeGeneration:     {"code-generation"},
	models.RequestImageAnalysis:      {"vision"},
	models.RequestAudioTranscription: {"audio"},
	models.RequestTranslation:        {"translation"},
	models.RequestSummarization:      {"summarization"},
	models.RequestQuestionAnswering:  {"question-answering"},
}

var typeQualityDefaults = map[models.RequestType]models.QualityRequirements{
	models.RequestTextGeneration:     {Accuracy: 0.7, Creativity: 0.5, Factuality: 0.6},
	models.RequestCodeGeneration:     {Accuracy: 0.9, Creativity: 0.2, Factuality: 0.8},
	models.RequestImageAnalysis:      {Accuracy: 0.85, Creativity: 0.1, Factuality: 0.85},
	models.RequestAudioTranscription: {Accuracy: 0.9, Creativity: 0.1, Factuality: 0.9},
	models.RequestTranslation:        {Accuracy: 0.85, Creativity: 0.2, Factuality: 0.8},
	models.RequestSummarization:      {Accuracy: 0.8, Creativity: 0.2, Factuality: 0.8},
	models.RequestQuestionAnswering:  {Accuracy: 0.85, Creativity: 0.1, Factuality: 0.85},
}

// Analyze derives an Analysis from req and its optional context, matching
// the module-wide contract: pure, deterministic, no I/O.
func Analyze(req models.Request) models.Analysis {
	content := req.Content
	ctx := req.Context

	complexityScore := complexityScore(req.Type, content)
	complexity := bucketComplexity(complexityScore)

	estTokens := estimateTokens(content, ctx)

	caps := requiredCapabilities(req.Type, content)

	urgencyScore := urgencyScore(req.Metadata, ctx)
	urgency := bucketUrgency(urgencyScore)

	quality := qualityRequirements(req.Type, content)

	contextSize := 0
	if ctx != nil {
		contextSize = len(ctx.History)
	}

	expectedLatency := 500 + int(complexityScore)*200

	return models.Analysis{
		Complexity:           complexity,
		ComplexityScore:      complexityScore,
		EstimatedTokens:      estTokens,
		RequiredCapabilities: caps,
		Urgency:              urgency,
		UrgencyScore:         urgencyScore,
		Resource: models.ResourceNeeds{
			CPUWeight:    complexityScore / 10,
			MemoryWeight: float64(estTokens) / 32000,
		},
		ContextSize:       contextSize,
		ExpectedLatencyMs: expectedLatency,
		Quality:           quality,
	}
}

func complexityScore(reqType models.RequestType, content string) float64 {
	score := complexityBase[reqType]

	n := len(content)
	switch {
	case n > 5000:
		score += 2
	case n > 1000:
		score += 1
	}

	for _, p := range complexityPatterns {
		if p.re.MatchString(content) {
			score += p.delta
		}
	}

	matches := technicalTermPattern.FindAllString(content, -1)
	density := float64(len(matches))
	if density > 2 {
		density = 2
	}
	score += density

	if score < 0 {
		score = 0
	}
	return score
}

func bucketComplexity(score float64) models.Complexity {
	switch {
	case score < 3:
		return models.ComplexityLow
	case score < 6:
		return models.ComplexityMedium
	default:
		return models.ComplexityHigh
	}
}

func estimateTokens(content string, ctx *models.RequestContext) int {
	tokens := len(content) / 4

	if ctx != nil {
		historyChars := 0
		for _, h := range ctx.History {
			historyChars += len(h)
		}
		historyTokens := historyChars / 4
		if historyTokens > 4000 {
			historyTokens = 4000
		}
		tokens += historyTokens
	}

	tokens += 16 // small constant for framing/system overhead

	if tokens > 32000 {
		tokens = 32000
	}
	return tokens
}

func requiredCapabilities(reqType models.RequestType, content string) []string {
	caps := append([]string{}, typeCapabilityBaseline[reqType]...)

	for _, p := range complexityPatterns {
		if p.delta > 0 && p.re.MatchString(content) {
			caps = append(caps, "advanced-reasoning")
		}
	}

	for _, lang := range codeLanguagePattern.FindAllString(content, -1) {
		caps = append(caps, "lang:"+strings.ToLower(lang))
	}
	for _, lang := range naturalLanguagePattern.FindAllString(content, -1) {
		caps = append(caps, "nl:"+strings.ToLower(lang))
	}

	return dedupe(caps)
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func urgencyScore(meta models.RequestMetadata, ctx *models.RequestContext) float64 {
	var score float64
	switch meta.Priority {
	case models.PriorityHigh:
		score += 3
	case models.PriorityMedium:
		score += 1.5
	}

	if ctx != nil {
		if ctx.Deadline != nil {
			score += 1
		}
		if ctx.MaxLatencyMs > 0 && ctx.MaxLatencyMs < 1000 {
			score += 2
		}
	}
	if meta.MaxLatencyMs > 0 && meta.MaxLatencyMs < 1000 {
		score += 1
	}

	for _, k := range urgencyKeywords {
		text := ""
		if ctx != nil {
			text = strings.Join(ctx.History, " ")
		}
		if k.re.MatchString(text) {
			score += k.delta
		}
	}

	return score
}

func bucketUrgency(score float64) models.Urgency {
	switch {
	case score < 2:
		return models.UrgencyLow
	case score < 4:
		return models.UrgencyMedium
	default:
		return models.UrgencyHigh
	}
}

func qualityRequirements(reqType models.RequestType, content string) models.QualityRequirements {
	q := typeQualityDefaults[reqType]

	if creativePattern.MatchString(content) {
		q.Creativity += 0.2
		q.Factuality -= 0.2
	}
	if factualPattern.MatchString(content) {
		q.Accuracy += 0.1
		q.Factuality += 0.1
		q.Creativity -= 0.1
	}

	q.Accuracy = clamp01(q.Accuracy)
	q.Creativity = clamp01(q.Creativity)
	q.Factuality = clamp01(q.Factuality)
	return q
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

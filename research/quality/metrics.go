// Package quality implements the response scoring and source-filtering
// validator of spec.md §4.4: a fixed weighted combination of six
// sub-scores, plus classification-driven graduated source filtering.
package quality

import (
	"regexp"
	"strings"
	"time"

	"github.com/fenwicklabs/atomicresearch/research"
)

// Metrics holds the six sub-scores plus the combined Overall score, ported
// from quality_validator.py's QualityMetrics dataclass.
type Metrics struct {
	Completeness      float64
	SourceAttribution float64
	ContentRelevance  float64
	FormatConsistency float64
	ErrorRate         float64
	ResponseTime      time.Duration
	Overall           float64
}

// weights mirror quality_validator.py's __post_init__ combination exactly:
// 0.30 completeness + 0.25 attribution + 0.25 relevance + 0.10 format +
// 0.10*(1-error_rate). response_time contributes no weight of its own; it
// is carried for reporting only, matching the original.
const (
	weightCompleteness = 0.30
	weightAttribution  = 0.25
	weightRelevance    = 0.25
	weightFormat       = 0.10
	weightErrorRate    = 0.10
)

var depthIndicators = []string{"because", "therefore", "however", "additionally", "furthermore", "specifically"}

var citationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[(\d+)\]`),
	regexp.MustCompile(`\(\d+\)`),
	regexp.MustCompile(`(?i)Source \d+`),
}

var errorIndicators = []string{
	"error", "failed", "unable to", "could not", "timeout",
	"fallback", "placeholder", "no results", "try again",
}

var wordPattern = regexp.MustCompile(`\b\w{3,}\b`)

// questionTypeIndicators mirrors the question_types table: if the question
// contains the key anywhere, a bonus applies when the answer contains any
// of its indicator phrases.
var questionTypeIndicators = []struct {
	key        string
	indicators []string
}{
	{"what", []string{"is", "are", "definition", "explanation"}},
	{"how", []string{"process", "method", "way", "steps"}},
	{"why", []string{"because", "reason", "due to", "caused"}},
	{"when", []string{"time", "date", "period", "during"}},
	{"where", []string{"location", "place", "in", "at"}},
}

// Evaluate scores a finished research result against the original question.
// answer and sources come from the Result assembled by the orchestrator;
// responseTime is wall-clock duration for the whole run.
func Evaluate(answer string, question string, sources []research.Source, researchLoopsExecuted int, responseTime time.Duration) Metrics {
	m := Metrics{
		Completeness:      scoreCompleteness(answer),
		SourceAttribution: scoreSourceAttribution(answer, sources),
		ContentRelevance:  scoreContentRelevance(answer, question),
		FormatConsistency: scoreFormatConsistency(answer, sources, researchLoopsExecuted),
		ErrorRate:         scoreErrorRate(answer, sources),
		ResponseTime:      responseTime,
	}
	m.Overall = m.Completeness*weightCompleteness +
		m.SourceAttribution*weightAttribution +
		m.ContentRelevance*weightRelevance +
		m.FormatConsistency*weightFormat +
		(1-m.ErrorRate)*weightErrorRate
	return m
}

// scoreCompleteness combines a length score (saturating at 500 bytes), a
// sentence-count structure score (saturating at 3 sentences), and a
// depth-indicator score (saturating at 3 distinct indicator words found).
func scoreCompleteness(answer string) float64 {
	if answer == "" {
		return 0
	}

	lengthScore := clamp01(float64(len(answer)) / 500)

	sentences := 0
	for _, s := range strings.Split(answer, ".") {
		if strings.TrimSpace(s) != "" {
			sentences++
		}
	}
	structureScore := clamp01(float64(sentences) / 3)

	lower := strings.ToLower(answer)
	depthHits := 0
	for _, word := range depthIndicators {
		if strings.Contains(lower, word) {
			depthHits++
		}
	}
	depthScore := clamp01(float64(depthHits) / 3)

	return lengthScore*0.4 + structureScore*0.3 + depthScore*0.3
}

// scoreSourceAttribution rewards citation markers proportional to source
// count, plus a bonus for sources whose URL literally appears in the text
// (a cheap signal the answer actually referenced a given source directly).
func scoreSourceAttribution(answer string, sources []research.Source) float64 {
	if len(sources) == 0 {
		return 0
	}

	totalCitations := 0
	for _, pattern := range citationPatterns {
		totalCitations += len(pattern.FindAllString(answer, -1))
	}
	citationRatio := clamp01(float64(totalCitations) / float64(len(sources)))

	urlMentions := 0
	for _, s := range sources {
		if s.URL != "" && strings.Contains(answer, s.URL) {
			urlMentions++
		}
	}
	urlScore := float64(urlMentions) / float64(len(sources))

	return citationRatio*0.7 + urlScore*0.3
}

// scoreContentRelevance measures lexical term overlap between question and
// answer, with a small bonus when the question's interrogative type (what/
// how/why/when/where) is echoed by a matching indicator word in the answer.
func scoreContentRelevance(answer, question string) float64 {
	if answer == "" || question == "" {
		return 0
	}

	questionTerms := toTermSet(question)
	answerTerms := toTermSet(answer)
	if len(questionTerms) == 0 {
		return 0
	}

	overlap := 0
	for t := range questionTerms {
		if answerTerms[t] {
			overlap++
		}
	}
	score := float64(overlap) / float64(len(questionTerms))

	lowerQ := strings.ToLower(question)
	lowerA := strings.ToLower(answer)
	for _, qt := range questionTypeIndicators {
		if strings.Contains(lowerQ, qt.key) {
			for _, ind := range qt.indicators {
				if strings.Contains(lowerA, ind) {
					score += 0.2
					break
				}
			}
			break
		}
	}

	return clamp01(score)
}

func toTermSet(s string) map[string]bool {
	terms := wordPattern.FindAllString(strings.ToLower(s), -1)
	set := make(map[string]bool, len(terms))
	for _, t := range terms {
		set[t] = true
	}
	return set
}

// scoreFormatConsistency checks the shape of the assembled Result in place
// of quality_validator.py's raw-dict field/type checks, which have no
// meaning against a typed Go struct: a non-empty answer, a non-negative
// loop count, and at least one source each count as one of three checks.
func scoreFormatConsistency(answer string, sources []research.Source, researchLoopsExecuted int) float64 {
	checks := 0
	const total = 3
	if answer != "" {
		checks++
	}
	if len(sources) > 0 {
		checks++
	}
	if researchLoopsExecuted >= 0 {
		checks++
	}
	return float64(checks) / total
}

// scoreErrorRate counts textual error indicators in the answer plus one
// point for a too-short answer plus one point per fallback-placeholder
// source URL, normalized against a fixed ceiling of 5 — identical to
// quality_validator.py's max_possible_errors convention.
func scoreErrorRate(answer string, sources []research.Source) float64 {
	lower := strings.ToLower(answer)
	count := 0
	for _, ind := range errorIndicators {
		if strings.Contains(lower, ind) {
			count++
		}
	}
	if len(strings.TrimSpace(answer)) < 50 {
		count++
	}
	for _, s := range sources {
		if strings.Contains(s.URL, "example.com") {
			count++
		}
	}
	return clamp01(float64(count) / 5)
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

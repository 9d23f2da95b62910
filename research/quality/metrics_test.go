package quality

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fenwicklabs/atomicresearch/research"
)

func TestEvaluate_EmptyAnswerScoresZeroCompleteness(t *testing.T) {
	m := Evaluate("", "what is the capital of France?", nil, 0, time.Second)
	assert.Zero(t, m.Completeness)
}

func TestEvaluate_WellFormedAnswerScoresHigh(t *testing.T) {
	answer := "Paris is the capital of France [1]. It has been the capital since the 12th century. " +
		"Additionally, it is the largest city in the country. Furthermore, it hosts major institutions. " +
		"Therefore it remains central to French governance. https://en.wikipedia.org/wiki/Paris"
	sources := []research.Source{{Title: "Paris", URL: "https://en.wikipedia.org/wiki/Paris"}}

	m := Evaluate(answer, "what is the capital of France", sources, 1, 2*time.Second)
	assert.Greater(t, m.Completeness, 0.5)
	assert.Greater(t, m.SourceAttribution, 0.5)
	assert.Greater(t, m.ContentRelevance, 0.3)
	assert.Less(t, m.ErrorRate, 0.3)
	assert.Greater(t, m.Overall, 0.4)
}

func TestEvaluate_ErrorIndicatorsRaiseErrorRate(t *testing.T) {
	answer := "Unable to retrieve results, search timeout occurred."
	m := Evaluate(answer, "question", nil, 0, time.Second)
	assert.Greater(t, m.ErrorRate, 0.0)
}

func TestEvaluate_FallbackURLsCountAsErrors(t *testing.T) {
	answer := "Here is a reasonably long placeholder answer that should still count towards errors due to source quality."
	sources := []research.Source{{URL: "https://example.com/search"}}
	m := Evaluate(answer, "question", sources, 0, time.Second)
	assert.Greater(t, m.ErrorRate, 0.0)
}

func TestScoreForTag_KnowledgeIsLowestWeight(t *testing.T) {
	assert.Less(t, ScoreForTag(research.SourceTagKnowledge), ScoreForTag(research.SourceTagGrounding))
	assert.Less(t, ScoreForTag(research.SourceTagKnowledge), ScoreForTag(research.SourceTagCustomWeb))
}

func TestScoreForTag_UnknownTagDefaultsToUnknownWeight(t *testing.T) {
	assert.Equal(t, tagWeight[research.SourceTagUnknown], ScoreForTag(research.SourceTag("not-a-real-tag")))
}

func TestBuildTagIndex_FlattensAllResponses(t *testing.T) {
	responses := []research.SearchResponse{
		{Results: []research.SearchResult{{URL: "https://a.example", Source: research.SourceTagGrounding}}},
		{Results: []research.SearchResult{{URL: "https://b.example", Source: research.SourceTagKnowledge}}},
	}
	idx := BuildTagIndex(responses)
	assert.Equal(t, research.SourceTagGrounding, idx.tagFor("https://a.example"))
	assert.Equal(t, research.SourceTagKnowledge, idx.tagFor("https://b.example"))
	assert.Equal(t, research.SourceTagUnknown, idx.tagFor("https://unseen.example"))
	assert.True(t, idx.HasRealSearch())
	assert.True(t, idx.HasFallback())
}

func TestFilterGraduated_SplitsByThreshold(t *testing.T) {
	sources := []research.Source{
		{URL: "https://real.example"},
		{URL: "https://fallback.example"},
	}
	idx := TagIndex{
		"https://real.example":     research.SourceTagGrounding,
		"https://fallback.example": research.SourceTagKnowledge,
	}

	included, filtered, summary := FilterGraduated(sources, idx, 0.5)
	assert.Len(t, included, 1)
	assert.Len(t, filtered, 1)
	assert.Equal(t, 2, summary.Total)
	assert.Equal(t, 1, summary.Included)
	assert.Equal(t, 1, summary.Filtered)
	assert.False(t, summary.HasRealSearch && !idx.HasRealSearch())
}

func TestFilterGraduated_EmptySourcesIsNoop(t *testing.T) {
	included, filtered, summary := FilterGraduated(nil, TagIndex{}, 0.5)
	assert.Nil(t, included)
	assert.Nil(t, filtered)
	assert.Zero(t, summary.Total)
}

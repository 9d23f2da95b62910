// Package research implements the iterative research orchestrator: query
// generation, parallel web search across a provider cascade, citation
// extraction from grounded LLM responses, quality scoring, and the
// reflect-or-finalize state machine that ties them together.
package research

// Message is one turn in the conversation that seeded a research request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Source is a single attributed document backing part of the final answer.
type Source struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	ShortURL string `json:"short_url,omitempty"`
	Label    string `json:"label,omitempty"`
}

// Segment is the span of answer text a Citation covers, expressed as byte
// offsets into the final answer string.
type Segment struct {
	StartIndex int `json:"start_index"`
	EndIndex   int `json:"end_index"`
}

// Citation links a span of the final answer to the sources that support it.
type Citation struct {
	Segment
	Sources []Source `json:"sources"`
}

// SourceTag records which kind of provider produced a SearchResult. The
// Quality Validator (C4) keys its classification off this tag.
type SourceTag string

const (
	SourceTagGrounding  SourceTag = "grounding"
	SourceTagCustomWeb  SourceTag = "custom_web"
	SourceTagKeyed      SourceTag = "keyed"
	SourceTagKeyless    SourceTag = "keyless"
	SourceTagKnowledge  SourceTag = "knowledge_base_fallback"
	SourceTagUnknown    SourceTag = "unknown"
)

// SearchResult is one item returned by a single provider.
type SearchResult struct {
	Title    string         `json:"title"`
	URL      string         `json:"url"`
	Snippet  string         `json:"snippet"`
	Source   SourceTag      `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchStatus is the outcome of a single provider invocation.
type SearchStatus string

const (
	StatusSuccess   SearchStatus = "success"
	StatusError     SearchStatus = "error"
	StatusNoResults SearchStatus = "no_results"
)

// SearchResponse is the uniform return shape for every provider and for the
// registry's cascaded Search call.
type SearchResponse struct {
	Status        SearchStatus   `json:"status"`
	Results       []SearchResult `json:"results"`
	Query         string         `json:"query"`
	ProviderName  string         `json:"provider_name"`
	Err           string         `json:"error,omitempty"`
	GroundingUsed bool           `json:"grounding_used"`

	// AnswerText is the grounded LLM provider's generated answer with
	// inline [n](url) citation markers already spliced in by the Citation
	// Pipeline. Only the grounded provider populates this; every other
	// provider leaves it empty.
	AnswerText string `json:"answer_text,omitempty"`

	// Citations carries the structured Citation Pipeline output (segment ->
	// supporting sources) for this response. Only the grounded provider
	// populates this.
	Citations []Citation `json:"citations,omitempty"`

	// Raw carries the provider's unparsed response for providers whose
	// output feeds the Citation Pipeline (only the grounded LLM provider
	// populates this). It is never serialized.
	Raw any `json:"-"`
}

// Ok reports whether the response has usable results.
func (r SearchResponse) Ok() bool {
	return r.Status == StatusSuccess && len(r.Results) > 0
}

// ResearchState is the orchestrator's mutable, per-request working set. It is
// never shared across requests and is owned exclusively by the Orchestrator.
type ResearchState struct {
	Messages          []Message
	SearchQueries     []string
	ResearchResults   []string
	SourcesGathered   []Source
	InitialQueryCount int
	MaxResearchLoops  int
	ResearchLoopCount int
	ReasoningModel    string
}

// QualitySummary describes the graduated-filtering outcome of §4.4 (source
// classification/weighting) plus the response scoring engine's six
// sub-scores (completeness/attribution/relevance/format/error-rate,
// combined into Overall) — the two halves of the Quality Validator.
type QualitySummary struct {
	Total         int     `json:"total"`
	Included      int     `json:"included"`
	Filtered      int     `json:"filtered"`
	AverageScore  float64 `json:"average_score"`
	Threshold     float64 `json:"threshold"`
	HasRealSearch bool    `json:"has_real_search"`
	HasFallback   bool    `json:"has_fallback"`

	Completeness      float64 `json:"completeness"`
	SourceAttribution float64 `json:"source_attribution"`
	ContentRelevance  float64 `json:"content_relevance"`
	FormatConsistency float64 `json:"format_consistency"`
	ErrorRate         float64 `json:"error_rate"`
	Overall           float64 `json:"overall"`
}

// PerformanceProfile carries optional timing detail for the response, named
// by spec.md's §4.6/§6 "performance_profile" response field.
type PerformanceProfile struct {
	TotalDurationMS     int64            `json:"total_duration_ms"`
	QueryGenerationMS   int64            `json:"query_generation_ms"`
	SearchBatchMS       []int64          `json:"search_batch_ms"`
	ReflectionMS        []int64          `json:"reflection_ms"`
	FinalizationMS      int64            `json:"finalization_ms"`
	ProviderInvocations map[string]int   `json:"provider_invocations"`
}

// Result is the Orchestrator's externally observable output, mapped onto the
// wire response by the Request Front (C6).
type Result struct {
	RunID                  string              `json:"run_id"`
	FinalAnswer            string              `json:"final_answer"`
	Sources                []Source            `json:"sources"`
	Citations              []Citation          `json:"citations,omitempty"`
	ResearchLoopsExecuted  int                 `json:"research_loops_executed"`
	TotalQueries           int                 `json:"total_queries"`
	QualitySummary         *QualitySummary     `json:"quality_summary,omitempty"`
	PerformanceProfile     *PerformanceProfile `json:"performance_profile,omitempty"`
}

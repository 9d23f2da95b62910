package search

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/fenwicklabs/atomicresearch/research"
)

// knowledgeEntry is one pattern-matched canned response in the fallback
// provider's table.
type knowledgeEntry struct {
	patterns []*regexp.Regexp
	results  []research.SearchResult
}

// FallbackProvider is the knowledge fallback provider of spec.md §4.1:
// always available, matches the query against an ordered table of regex
// patterns and returns the first match's canned results, or a single
// generic placeholder otherwise. It exists so higher layers can assume
// *some* non-empty response even when every other provider is unavailable.
type FallbackProvider struct {
	entries []knowledgeEntry
	logger  *zap.Logger
}

func NewFallbackProvider(logger *zap.Logger) *FallbackProvider {
	return &FallbackProvider{
		entries: defaultKnowledgeBase(),
		logger:  logger,
	}
}

func (p *FallbackProvider) Name() string { return "knowledge_fallback" }

// IsAvailable is always true: this is the provider of last resort.
func (p *FallbackProvider) IsAvailable() bool { return true }

func (p *FallbackProvider) Search(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	p.logger.Info("using knowledge-based fallback", zap.String("query", query))

	results := p.fallbackResults(query, maxResults)
	matched := len(results) > 0 && results[0].Metadata["fallback"] != true

	if matched {
		p.logger.Info("provided fallback results", zap.Int("count", len(results)))
	} else {
		p.logger.Info("generated generic fallback result")
	}

	resp := successResponse(p.Name(), query, results, false, nil)
	return resp, nil
}

// fallbackResults returns the first pattern table entry whose regex matches
// query, or a single generic placeholder result otherwise. The "confidence"
// metadata carried per entry is provider-internal: SPEC_FULL.md §9 keeps it
// out of the Quality Validator's official score, which is computed entirely
// from source classification.
func (p *FallbackProvider) fallbackResults(query string, maxResults int) []research.SearchResult {
	lower := strings.ToLower(query)

	for _, entry := range p.entries {
		for _, pattern := range entry.patterns {
			if pattern.MatchString(lower) {
				results := entry.results
				if len(results) > maxResults {
					results = results[:maxResults]
				}
				out := make([]research.SearchResult, len(results))
				copy(out, results)
				return out
			}
		}
	}

	return []research.SearchResult{{
		Title:   fmt.Sprintf("Information about: %s", query),
		URL:     "https://example.com/search",
		Snippet: fmt.Sprintf("Search results for %q are currently limited. This is a placeholder result from the knowledge base fallback system.", query),
		Source:  research.SourceTagKnowledge,
		Metadata: map[string]any{
			"confidence": 0.1,
			"category":   "generic",
			"fallback":   true,
		},
	}}
}

func defaultKnowledgeBase() []knowledgeEntry {
	mk := func(patterns []string, results []research.SearchResult) knowledgeEntry {
		compiled := make([]*regexp.Regexp, len(patterns))
		for i, p := range patterns {
			compiled[i] = regexp.MustCompile(p)
		}
		for i := range results {
			results[i].Source = research.SourceTagKnowledge
		}
		return knowledgeEntry{patterns: compiled, results: results}
	}

	return []knowledgeEntry{
		mk([]string{`capital.*france`, `france.*capital`, `paris.*france`}, []research.SearchResult{{
			Title:   "Paris - Capital of France",
			URL:     "https://en.wikipedia.org/wiki/Paris",
			Snippet: "Paris is the capital and most populous city of France.",
			Metadata: map[string]any{"confidence": 0.95, "category": "geography"},
		}}),
		mk([]string{`python.*program`, `python.*language`, `^python$`}, []research.SearchResult{{
			Title:   "Python Programming Language",
			URL:     "https://www.python.org/",
			Snippet: "Python is a high-level, interpreted programming language with dynamic semantics.",
			Metadata: map[string]any{"confidence": 0.90, "category": "programming"},
		}}),
		mk([]string{`artificial intelligence`, `\bai\b`, `machine learning`}, []research.SearchResult{{
			Title:   "Artificial Intelligence",
			URL:     "https://en.wikipedia.org/wiki/Artificial_intelligence",
			Snippet: "Artificial Intelligence (AI) is intelligence demonstrated by machines.",
			Metadata: map[string]any{"confidence": 0.85, "category": "technology"},
		}}),
		mk([]string{`climate change`, `global warming`, `greenhouse effect`}, []research.SearchResult{{
			Title:   "Climate Change",
			URL:     "https://en.wikipedia.org/wiki/Climate_change",
			Snippet: "Climate change refers to long-term shifts in global or regional climate patterns.",
			Metadata: map[string]any{"confidence": 0.85, "category": "environment"},
		}}),
		mk([]string{`\binternet\b`, `world wide web`, `\bwww\b`}, []research.SearchResult{{
			Title:   "Internet - Global Network",
			URL:     "https://en.wikipedia.org/wiki/Internet",
			Snippet: "The Internet is a global system of interconnected computer networks.",
			Metadata: map[string]any{"confidence": 0.80, "category": "technology"},
		}}),
	}
}

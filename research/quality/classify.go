package quality

import "github.com/fenwicklabs/atomicresearch/research"

// tagWeight assigns a per-classification quality weight used by graduated
// filtering, carried over from profiling_orchestrator.py's
// _validate_search_quality source_types weighting. SourceTagKnowledge
// always scores lowest since it denotes the knowledge-fallback provider,
// never a live search result; SourceTagUnknown covers sources whose
// originating provider could not be determined (e.g. sources reconstructed
// purely from citation metadata with no matching SearchResult on record).
var tagWeight = map[research.SourceTag]float64{
	research.SourceTagGrounding: 1.0,
	research.SourceTagCustomWeb: 0.8,
	research.SourceTagKeyed:     0.7,
	research.SourceTagKeyless:   0.6,
	research.SourceTagKnowledge: 0.1,
	research.SourceTagUnknown:   0.5,
}

// ScoreForTag returns the fixed quality weight for a source classification.
// This weight, not the fallback provider's own per-entry "confidence"
// metadata, is the single source of truth for a source's quality_score:
// confidence is provider-internal and never substituted in here.
func ScoreForTag(tag research.SourceTag) float64 {
	if w, ok := tagWeight[tag]; ok {
		return w
	}
	return tagWeight[research.SourceTagUnknown]
}

// TagIndex maps a source URL to the SourceTag of the SearchResult it came
// from, built once per research run from every SearchResponse the
// orchestrator collected. Sources with no matching URL classify as
// SourceTagUnknown.
type TagIndex map[string]research.SourceTag

// BuildTagIndex flattens every SearchResult across a batch of responses
// into a URL -> SourceTag lookup. Later results win on URL collision, which
// only matters when two different providers surface the same URL within a
// single run.
func BuildTagIndex(responses []research.SearchResponse) TagIndex {
	idx := make(TagIndex)
	for _, resp := range responses {
		for _, r := range resp.Results {
			if r.URL == "" {
				continue
			}
			idx[r.URL] = r.Source
		}
	}
	return idx
}

func (idx TagIndex) tagFor(url string) research.SourceTag {
	if tag, ok := idx[url]; ok {
		return tag
	}
	return research.SourceTagUnknown
}

// HasRealSearch reports whether any source in the index came from a live
// provider rather than the knowledge fallback.
func (idx TagIndex) HasRealSearch() bool {
	for _, tag := range idx {
		if tag != research.SourceTagKnowledge {
			return true
		}
	}
	return false
}

// HasFallback reports whether the knowledge-fallback provider contributed
// at least one source.
func (idx TagIndex) HasFallback() bool {
	for _, tag := range idx {
		if tag == research.SourceTagKnowledge {
			return true
		}
	}
	return false
}

// FilterGraduated splits sources into included/filtered sets by comparing
// each source's ScoreForTag weight against threshold, and assembles the
// QualitySummary spec.md §4.4 requires for the finalized response. A
// threshold of 0 admits every source (no filtering applied, mirroring the
// non-enhanced classification path for a zero/unset source_quality_filter).
func FilterGraduated(sources []research.Source, idx TagIndex, threshold float64) ([]research.Source, []research.Source, research.QualitySummary) {
	summary := research.QualitySummary{
		Total:         len(sources),
		Threshold:     threshold,
		HasRealSearch: idx.HasRealSearch(),
		HasFallback:   idx.HasFallback(),
	}
	if len(sources) == 0 {
		return nil, nil, summary
	}

	var included, filtered []research.Source
	var scoreSum float64
	for _, s := range sources {
		score := ScoreForTag(idx.tagFor(s.URL))
		scoreSum += score
		if score >= threshold {
			included = append(included, s)
		} else {
			filtered = append(filtered, s)
		}
	}

	summary.Included = len(included)
	summary.Filtered = len(filtered)
	summary.AverageScore = scoreSum / float64(len(sources))
	return included, filtered, summary
}

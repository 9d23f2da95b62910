package citation

import (
	"fmt"
	"sort"
	"strings"
)

// ExtractSources builds one Source per grounding chunk with a non-empty
// URI, per spec.md §4.3 "Source extraction". Empty URIs are skipped; a
// missing title falls back to "Source {n+1}". The ordinal is the chunk's
// position in the parsed metadata, not its position among skipped chunks,
// so ShortURL stays stable if callers re-run extraction.
func ExtractSources(meta GroundingMetadata) []Source {
	sources := make([]Source, 0, len(meta.Chunks))
	for i, chunk := range meta.Chunks {
		if chunk.URI == "" {
			continue
		}
		title := chunk.Title
		if title == "" {
			title = fmt.Sprintf("Source %d", i+1)
		}
		sources = append(sources, Source{
			Title:    title,
			URL:      chunk.URI,
			ShortURL: fmt.Sprintf("grounding-source-%d", i+1),
			Label:    fmt.Sprintf("[%d]", i+1),
		})
	}
	return sources
}

// BuildCitations constructs one Citation per grounding support, repairing
// invalid indices and resolving each support's chunk indices to Sources,
// per spec.md §4.3 "Citation construction".
//
// A support whose repaired indices degenerate to start=end=0 from invalid
// input is omitted entirely (SPEC_FULL.md §9's resolution of the
// zero/zero ambiguity): such a citation carries no information beyond
// "position zero" and is indistinguishable from "no citation". A support
// that legitimately targets start=0 with a non-zero end is a normal
// citation and is kept.
func BuildCitations(meta GroundingMetadata) []Citation {
	sources := ExtractSources(meta)

	citations := make([]Citation, 0, len(meta.Supports))
	for _, s := range meta.Supports {
		start, end, repaired := repairIndices(s.StartIndex, s.EndIndex)
		if repaired && start == 0 && end == 0 {
			continue
		}

		var segs []Source
		for _, idx := range s.ChunkIndices {
			if idx < 0 || idx >= len(meta.Chunks) {
				continue
			}
			chunk := meta.Chunks[idx]
			if chunk.URI == "" {
				continue
			}
			segs = append(segs, resolveSource(sources, chunk))
		}
		if len(segs) == 0 {
			continue
		}

		citations = append(citations, Citation{
			Segment: Segment{StartIndex: start, EndIndex: end},
			Sources: segs,
		})
	}
	return citations
}

func resolveSource(sources []Source, chunk Chunk) Source {
	for _, src := range sources {
		if src.URL == chunk.URI {
			return src
		}
	}
	return Source{Title: chunk.Title, URL: chunk.URI}
}

// repairIndices enforces spec.md §4.3 (ii)/(iii): both indices
// non-negative, end >= start. It reports whether any repair was applied.
func repairIndices(start, end int) (int, int, bool) {
	repaired := false
	if start < 0 {
		start = 0
		repaired = true
	}
	if end < 0 {
		end = 0
		repaired = true
	}
	if end < start {
		end = start
		repaired = true
	}
	return start, end, repaired
}

// marker is one (index, text) insertion produced by InsertMarkers, kept
// internal since callers only need the resulting text.
type marker struct {
	endIndex int
	text     string
}

// InsertMarkers splices inline citation markers into text at each support's
// end offset, iterating in descending end_index order so that earlier
// insertions never shift later positions (spec.md §4.3 "Inline marker
// insertion"). Supports whose end_index falls outside [0, len(text)] or
// whose chunk list resolves to zero URLs are skipped. A response with no
// supports (or none resolving to any URL) returns text unchanged —
// satisfying the idempotence invariant of spec.md §8.
func InsertMarkers(text string, meta GroundingMetadata) string {
	sources := ExtractSources(meta)

	markers := make([]marker, 0, len(meta.Supports))
	for _, s := range meta.Supports {
		if s.EndIndex < 0 || s.EndIndex > len(text) {
			continue
		}
		var refs []string
		for _, idx := range s.ChunkIndices {
			if idx < 0 || idx >= len(meta.Chunks) {
				continue
			}
			chunk := meta.Chunks[idx]
			if chunk.URI == "" {
				continue
			}
			n := ordinalFor(sources, chunk.URI)
			if n == 0 {
				continue
			}
			refs = append(refs, fmt.Sprintf("[%d](%s)", n, chunk.URI))
		}
		if len(refs) == 0 {
			continue
		}
		markers = append(markers, marker{
			endIndex: s.EndIndex,
			text:     " " + strings.Join(refs, ", "),
		})
	}

	if len(markers) == 0 {
		return text
	}

	sort.SliceStable(markers, func(i, j int) bool {
		return markers[i].endIndex > markers[j].endIndex
	})

	out := text
	for _, m := range markers {
		out = out[:m.endIndex] + m.text + out[m.endIndex:]
	}
	return out
}

func ordinalFor(sources []Source, url string) int {
	for i, s := range sources {
		if s.URL == url {
			return i + 1
		}
	}
	return 0
}

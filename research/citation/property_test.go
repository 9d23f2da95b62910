package citation

import (
	"testing"

	"pgregory.net/rapid"
)

// TestProperty_BuildCitationsIndicesAlwaysValid checks spec invariant 3 of
// the pipeline for all inputs: every emitted Citation satisfies
// 0 <= start <= end, and every segment source has a non-empty URL.
func TestProperty_BuildCitationsIndicesAlwaysValid(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		chunkCount := rapid.IntRange(0, 5).Draw(t, "chunkCount")
		chunks := make([]Chunk, chunkCount)
		for i := range chunks {
			if rapid.Bool().Draw(t, "hasURI") {
				chunks[i] = Chunk{URI: rapid.StringMatching(`https://[a-z]{1,8}\.example/[a-z]{0,8}`).Draw(t, "uri")}
			}
		}

		supportCount := rapid.IntRange(0, 5).Draw(t, "supportCount")
		supports := make([]Support, supportCount)
		for i := range supports {
			start := rapid.IntRange(-5, 20).Draw(t, "start")
			end := rapid.IntRange(-5, 20).Draw(t, "end")
			idxCount := rapid.IntRange(0, 3).Draw(t, "idxCount")
			idxs := make([]int, idxCount)
			for j := range idxs {
				idxs[j] = rapid.IntRange(-1, chunkCount).Draw(t, "chunkIdx")
			}
			supports[i] = Support{StartIndex: start, EndIndex: end, ChunkIndices: idxs}
		}

		meta := GroundingMetadata{Chunks: chunks, Supports: supports}
		citations := BuildCitations(meta)

		for _, c := range citations {
			if c.StartIndex < 0 || c.EndIndex < c.StartIndex {
				t.Fatalf("invalid citation indices: %+v", c)
			}
			if len(c.Sources) == 0 {
				t.Fatalf("citation with no sources emitted: %+v", c)
			}
			for _, s := range c.Sources {
				if s.URL == "" {
					t.Fatalf("citation segment with empty URL: %+v", c)
				}
			}
		}
	})
}

// TestProperty_InsertMarkersNeverShrinksPrefix checks the ordering guarantee
// of spec.md §5: inserting markers in descending end_index order never
// disturbs text that precedes every remaining insertion point.
func TestProperty_InsertMarkersNeverShrinksPrefix(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.StringN(0, 40, 60).Draw(t, "text")

		chunks := []Chunk{{URI: "https://a.example"}, {URI: "https://b.example"}}
		supportCount := rapid.IntRange(0, 4).Draw(t, "supportCount")
		supports := make([]Support, supportCount)
		minEnd := len(text)
		for i := range supports {
			end := rapid.IntRange(0, len(text)).Draw(t, "end")
			supports[i] = Support{StartIndex: 0, EndIndex: end, ChunkIndices: []int{i % 2}}
			if end < minEnd {
				minEnd = end
			}
		}

		out := InsertMarkers(text, GroundingMetadata{Chunks: chunks, Supports: supports})
		if len(supports) == 0 {
			if out != text {
				t.Fatalf("no supports but text changed")
			}
			return
		}
		if len(out) < minEnd {
			t.Fatalf("output shorter than smallest insertion point")
		}
		if out[:minEnd] != text[:minEnd] {
			t.Fatalf("prefix before the smallest end_index was disturbed")
		}
	})
}

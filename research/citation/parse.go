package citation

import "google.golang.org/genai"

// ParseGroundingResponse converts a genai response into the well-typed
// GroundingMetadata shape. This is the single place that walks the SDK's
// optional nested fields; everything downstream operates on the parsed
// form only, per spec.md §9's "dynamic attribute access" design note.
func ParseGroundingResponse(resp *genai.GenerateContentResponse) GroundingMetadata {
	meta := GroundingMetadata{}
	if resp == nil || len(resp.Candidates) == 0 {
		return meta
	}

	candidate := resp.Candidates[0]
	meta.Text = candidateText(candidate)

	gm := candidate.GroundingMetadata
	if gm == nil {
		return meta
	}

	for _, c := range gm.GroundingChunks {
		if c == nil || c.Web == nil {
			continue
		}
		meta.Chunks = append(meta.Chunks, Chunk{
			URI:   c.Web.URI,
			Title: c.Web.Title,
		})
	}

	for _, s := range gm.GroundingSupports {
		if s == nil || s.Segment == nil {
			continue
		}
		indices := make([]int, 0, len(s.GroundingChunkIndices))
		for _, idx := range s.GroundingChunkIndices {
			indices = append(indices, int(idx))
		}
		meta.Supports = append(meta.Supports, Support{
			StartIndex:   int(s.Segment.StartIndex),
			EndIndex:     int(s.Segment.EndIndex),
			ChunkIndices: indices,
		})
	}

	return meta
}

func candidateText(c *genai.Candidate) string {
	if c == nil || c.Content == nil {
		return ""
	}
	var text string
	for _, part := range c.Content.Parts {
		if part == nil {
			continue
		}
		text += part.Text
	}
	return text
}

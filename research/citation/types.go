// Package citation implements the Citation Pipeline (C3): parsing grounding
// metadata from a grounded LLM response into a well-typed intermediate
// shape, extracting Sources, constructing Citations, and splicing inline
// citation markers into the answer text.
package citation

import "github.com/fenwicklabs/atomicresearch/research"

// Chunk is one retrieved document backing a grounded answer.
type Chunk struct {
	URI   string
	Title string
}

// Support asserts that a span of the answer text is backed by a set of
// chunks, referenced by index into the parsed response's Chunks slice.
type Support struct {
	StartIndex   int
	EndIndex     int
	ChunkIndices []int
}

// GroundingMetadata is the well-typed intermediate shape spec.md §9 calls
// for: a concrete parsed form of the provider's grounding metadata, built
// once, so the rest of the pipeline never probes an `any`-typed response.
type GroundingMetadata struct {
	Chunks   []Chunk
	Supports []Support
	// Text is the model's raw answer text, captured alongside the
	// metadata so marker insertion has a single coherent input.
	Text string
}

// Source re-exports research.Source for callers that only import citation.
type Source = research.Source

// Citation re-exports research.Citation.
type Citation = research.Citation

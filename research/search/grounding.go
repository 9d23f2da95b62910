package search

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/fenwicklabs/atomicresearch/research"
	"github.com/fenwicklabs/atomicresearch/research/citation"
)

// GroundingProvider is the Grounded LLM provider of spec.md §4.1: it sends
// the query to Gemini with its search tool enabled and parses the response's
// grounding metadata into both a normalized SearchResponse and the raw
// parsed form the Citation Pipeline consumes.
type GroundingProvider struct {
	client *genai.Client
	model  string
	logger *zap.Logger
}

const defaultGroundingModel = "gemini-2.5-flash"

// NewGroundingProvider reads GEMINI_API_KEY (falling back to
// GOOGLE_API_KEY) from the environment. A missing key leaves the provider
// constructed but unavailable, matching the teacher's pattern of never
// failing construction on missing optional configuration.
func NewGroundingProvider(ctx context.Context, model string, logger *zap.Logger) *GroundingProvider {
	if model == "" {
		model = defaultGroundingModel
	}
	p := &GroundingProvider{model: model, logger: logger}

	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		logger.Warn("grounding provider: no GEMINI_API_KEY/GOOGLE_API_KEY, provider disabled")
		return p
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		logger.Error("grounding provider: failed to initialize genai client", zap.Error(err))
		return p
	}
	p.client = client
	return p
}

func (p *GroundingProvider) Name() string { return "gemini_grounding" }

func (p *GroundingProvider) IsAvailable() bool { return p.client != nil }

func (p *GroundingProvider) Search(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	if !p.IsAvailable() {
		return errorResponse(p.Name(), query, "gemini client not available or API key missing"), nil
	}

	logAttempt(p.logger, p.Name(), query, maxResults)

	tool := &genai.Tool{GoogleSearch: &genai.GoogleSearch{}}
	cfg := &genai.GenerateContentConfig{Tools: []*genai.Tool{tool}}

	resp, err := p.client.Models.GenerateContent(ctx, p.model,
		genai.Text(fmt.Sprintf("Provide comprehensive information about: %s", query)),
		cfg,
	)
	if err != nil {
		logError(p.logger, p.Name(), err.Error())
		return errorResponse(p.Name(), query, err.Error()), nil
	}

	parsed := citation.ParseGroundingResponse(resp)
	groundingUsed := len(parsed.Chunks) > 0

	if !groundingUsed {
		p.logger.Debug("grounding provider answered from knowledge, no search performed", zap.String("query", query))
	}

	sources := citation.ExtractSources(parsed)
	results := make([]research.SearchResult, 0, len(sources))
	for i, src := range sources {
		if i >= maxResults {
			break
		}
		results = append(results, research.SearchResult{
			Title:   src.Title,
			URL:     src.URL,
			Source:  research.SourceTagGrounding,
			Snippet: "",
			Metadata: map[string]any{
				"grounding_chunk_index": i,
			},
		})
	}

	if len(results) > 0 {
		logSuccess(p.logger, p.Name(), len(results))
	}

	out := successResponse(p.Name(), query, results, groundingUsed, resp)
	if parsed.Text != "" {
		out.AnswerText = citation.InsertMarkers(parsed.Text, parsed)
	}
	out.Citations = citation.BuildCitations(parsed)
	return out, nil
}

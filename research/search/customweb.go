package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"go.uber.org/zap"

	"github.com/fenwicklabs/atomicresearch/research"
)

// CustomWebProvider is the custom-key web search provider of spec.md §4.1:
// a classic keyed API returning an array of result items, capped at 10
// results per the vendor's limit.
type CustomWebProvider struct {
	apiKey       string
	searchEngine string
	baseURL      string
	httpClient   *SharedHTTPClient
	logger       *zap.Logger
}

// NewCustomWebProvider reads GOOGLE_API_KEY (falling back to
// GEMINI_API_KEY) and GOOGLE_SEARCH_ENGINE_ID from the environment.
func NewCustomWebProvider(httpClient *SharedHTTPClient, logger *zap.Logger) *CustomWebProvider {
	apiKey := os.Getenv("GOOGLE_API_KEY")
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	return &CustomWebProvider{
		apiKey:       apiKey,
		searchEngine: os.Getenv("GOOGLE_SEARCH_ENGINE_ID"),
		baseURL:      "https://www.googleapis.com/customsearch/v1",
		httpClient:   httpClient,
		logger:       logger,
	}
}

func (p *CustomWebProvider) Name() string { return "google_custom" }

func (p *CustomWebProvider) IsAvailable() bool {
	return p.apiKey != "" && p.searchEngine != ""
}

func (p *CustomWebProvider) Search(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	if !p.IsAvailable() {
		return errorResponse(p.Name(), query, "google custom search not configured - missing API key or search engine ID"), nil
	}

	logAttempt(p.logger, p.Name(), query, maxResults)

	if maxResults > 10 {
		maxResults = 10
	}

	q := url.Values{}
	q.Set("key", p.apiKey)
	q.Set("cx", p.searchEngine)
	q.Set("q", query)
	q.Set("num", fmt.Sprintf("%d", maxResults))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return errorResponse(p.Name(), query, err.Error()), nil
	}

	resp, err := p.httpClient.Do(ctx, p.Name(), req)
	if err != nil {
		logError(p.logger, p.Name(), err.Error())
		return errorResponse(p.Name(), query, err.Error()), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		msg := fmt.Sprintf("HTTP %d from google custom search", resp.StatusCode)
		logError(p.logger, p.Name(), msg)
		return errorResponse(p.Name(), query, msg), nil
	}

	var payload struct {
		Items []struct {
			Title       string `json:"title"`
			Link        string `json:"link"`
			Snippet     string `json:"snippet"`
			DisplayLink string `json:"displayLink"`
		} `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		msg := fmt.Sprintf("malformed google custom search payload: %v", err)
		logError(p.logger, p.Name(), msg)
		return errorResponse(p.Name(), query, msg), nil
	}

	results := make([]research.SearchResult, 0, len(payload.Items))
	for _, item := range payload.Items {
		results = append(results, research.SearchResult{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Source:  research.SourceTagCustomWeb,
			Metadata: map[string]any{
				"display_link": item.DisplayLink,
			},
		})
	}

	if len(results) > 0 {
		logSuccess(p.logger, p.Name(), len(results))
	}

	return successResponse(p.Name(), query, results, false, nil), nil
}

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

// SecondaryProvider is the secondary keyed provider of spec.md §4.1:
// identical shape to CustomWebProvider but a different vendor, with a
// per-engine override (google, bing, ...).
type SecondaryProvider struct {
	apiKey     string
	engine     string
	baseURL    string
	httpClient *SharedHTTPClient
	logger     *zap.Logger
}

// NewSecondaryProvider reads SEARCHAPI_API_KEY and an optional
// SEARCHAPI_ENGINE override (defaulting to "google") from the environment.
func NewSecondaryProvider(httpClient *SharedHTTPClient, logger *zap.Logger) *SecondaryProvider {
	engine := os.Getenv("SEARCHAPI_ENGINE")
	if engine == "" {
		engine = "google"
	}
	return &SecondaryProvider{
		apiKey:     os.Getenv("SEARCHAPI_API_KEY"),
		engine:     engine,
		baseURL:    "https://www.searchapi.io/api/v1/search",
		httpClient: httpClient,
		logger:     logger,
	}
}

func (p *SecondaryProvider) Name() string { return "searchapi" }

func (p *SecondaryProvider) IsAvailable() bool { return p.apiKey != "" }

func (p *SecondaryProvider) Search(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	if !p.IsAvailable() {
		return errorResponse(p.Name(), query, "searchapi not configured - missing API key"), nil
	}

	logAttempt(p.logger, p.Name(), query, maxResults)

	q := url.Values{}
	q.Set("engine", p.engine)
	q.Set("q", query)
	q.Set("api_key", p.apiKey)

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

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("searchapi returned status %d", resp.StatusCode)
		logError(p.logger, p.Name(), msg)
		return errorResponse(p.Name(), query, msg), nil
	}

	var payload struct {
		OrganicResults []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic_results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		msg := fmt.Sprintf("malformed searchapi payload: %v", err)
		logError(p.logger, p.Name(), msg)
		return errorResponse(p.Name(), query, msg), nil
	}

	results := make([]research.SearchResult, 0, len(payload.OrganicResults))
	for i, item := range payload.OrganicResults {
		if i >= maxResults {
			break
		}
		results = append(results, research.SearchResult{
			Title:   item.Title,
			URL:     item.Link,
			Snippet: item.Snippet,
			Source:  research.SourceTagKeyed,
		})
	}

	if len(results) > 0 {
		logSuccess(p.logger, p.Name(), len(results))
	}

	return successResponse(p.Name(), query, results, false, nil), nil
}

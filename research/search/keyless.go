package search

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/fenwicklabs/atomicresearch/research"
)

// KeylessProvider is the keyless public provider of spec.md §4.1: no API
// key required, a last-resort live source. It parses both an abstract
// result and related-topic entries; titles may be derived from the URL path
// fragment when absent.
type KeylessProvider struct {
	baseURL    string
	httpClient *SharedHTTPClient
	logger     *zap.Logger
}

func NewKeylessProvider(httpClient *SharedHTTPClient, logger *zap.Logger) *KeylessProvider {
	return &KeylessProvider{
		baseURL:    "https://api.duckduckgo.com/",
		httpClient: httpClient,
		logger:     logger,
	}
}

func (p *KeylessProvider) Name() string { return "duckduckgo" }

// IsAvailable is always true: this provider requires no configuration.
func (p *KeylessProvider) IsAvailable() bool { return true }

func (p *KeylessProvider) Search(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	logAttempt(p.logger, p.Name(), query, maxResults)

	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

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
		msg := fmt.Sprintf("duckduckgo returned status %d", resp.StatusCode)
		logError(p.logger, p.Name(), msg)
		return errorResponse(p.Name(), query, msg), nil
	}

	var payload struct {
		AbstractText string `json:"AbstractText"`
		AbstractURL  string `json:"AbstractURL"`
		Heading      string `json:"Heading"`
		RelatedTopics []struct {
			Text     string `json:"Text"`
			FirstURL string `json:"FirstURL"`
		} `json:"RelatedTopics"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		msg := fmt.Sprintf("malformed duckduckgo payload: %v", err)
		logError(p.logger, p.Name(), msg)
		return errorResponse(p.Name(), query, msg), nil
	}

	var results []research.SearchResult
	if payload.AbstractURL != "" {
		title := payload.Heading
		if title == "" {
			title = titleFromURL(payload.AbstractURL)
		}
		results = append(results, research.SearchResult{
			Title:   title,
			URL:     payload.AbstractURL,
			Snippet: payload.AbstractText,
			Source:  research.SourceTagKeyless,
		})
	}
	for _, rt := range payload.RelatedTopics {
		if len(results) >= maxResults || rt.FirstURL == "" {
			continue
		}
		title := rt.Text
		if title == "" {
			title = titleFromURL(rt.FirstURL)
		}
		results = append(results, research.SearchResult{
			Title:   title,
			URL:     rt.FirstURL,
			Snippet: rt.Text,
			Source:  research.SourceTagKeyless,
		})
	}
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	if len(results) > 0 {
		logSuccess(p.logger, p.Name(), len(results))
	}

	return successResponse(p.Name(), query, results, false, nil), nil
}

// titleFromURL derives a readable title from a URL's last path fragment,
// for results whose API payload omits a title.
func titleFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	fragment := path.Base(u.Path)
	fragment = strings.ReplaceAll(fragment, "_", " ")
	if fragment == "" || fragment == "." || fragment == "/" {
		return u.Host
	}
	return fragment
}

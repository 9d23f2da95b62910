package search

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fenwicklabs/atomicresearch/internal/cache"
	"github.com/fenwicklabs/atomicresearch/research"
)

// Strategy selects among the registered providers for one Search call, per
// spec.md §4.2.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyBestEffort Strategy = "best_effort"
)

// Registry holds the ordered, immutable list of available providers and
// runs the cascade under a configurable Strategy (C2).
type Registry struct {
	providers []Provider
	fallback  Provider
	strategy  Strategy
	logger    *zap.Logger

	cache    *cache.Manager
	cacheTTL time.Duration
}

// SetCache attaches a cache-aside layer in front of Search, keyed on the
// strategy, the query string and maxResults. Caching is best-effort: a cache read/write failure is
// logged and otherwise ignored, never surfaced to the caller. Call before
// the registry serves traffic; not safe to call concurrently with Search.
func (r *Registry) SetCache(m *cache.Manager, ttl time.Duration) {
	r.cache = m
	r.cacheTTL = ttl
}

// NewRegistry queries IsAvailable() on each candidate at construction time;
// unavailable providers are logged and excluded. fallback is always
// appended last and is always included regardless of IsAvailable (the
// knowledge fallback provider's IsAvailable is always true by contract, but
// the registry does not special-case that — it simply never filters
// fallback).
func NewRegistry(strategy Strategy, fallback Provider, logger *zap.Logger, candidates ...Provider) *Registry {
	r := &Registry{strategy: strategy, fallback: fallback, logger: logger}
	for _, c := range candidates {
		if c.IsAvailable() {
			r.providers = append(r.providers, c)
			logger.Info("provider registered", zap.String("provider", c.Name()))
		} else {
			logger.Warn("provider unavailable, excluded", zap.String("provider", c.Name()))
		}
	}
	return r
}

// Search runs the configured strategy's cascade. It never returns a non-nil
// error except when ctx is cancelled/expired before any provider produced a
// usable response.
func (r *Registry) Search(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	r.logger.Info("executing search",
		zap.String("strategy", string(r.strategy)),
		zap.String("query", query),
	)

	cacheKey := r.cacheKey(query, maxResults)
	if r.cache != nil {
		var cached research.SearchResponse
		if err := r.cache.GetJSON(ctx, cacheKey, &cached); err == nil {
			r.logger.Debug("search cache hit", zap.String("query", query))
			return cached, nil
		} else if !cache.IsCacheMiss(err) {
			r.logger.Warn("search cache read failed, proceeding uncached", zap.Error(err))
		}
	}

	var resp research.SearchResponse
	var err error
	switch r.strategy {
	case StrategyParallel:
		resp, err = r.searchParallel(ctx, query, maxResults)
	case StrategyBestEffort:
		resp, err = r.searchBestEffort(ctx, query, maxResults)
	default:
		resp, err = r.searchSequential(ctx, query, maxResults)
	}
	if err == nil && r.cache != nil && resp.Ok() {
		if setErr := r.cache.SetJSON(ctx, cacheKey, resp, r.cacheTTL); setErr != nil {
			r.logger.Warn("search cache write failed", zap.Error(setErr))
		}
	}
	return resp, err
}

func (r *Registry) cacheKey(query string, maxResults int) string {
	return fmt.Sprintf("research:search:%s:%s:%d", r.strategy, query, maxResults)
}

// searchSequential tries providers in registered order, returning the
// first success-with-results. A success with zero results continues to the
// next provider, as does any error. Falls back to the knowledge provider if
// every candidate is exhausted.
func (r *Registry) searchSequential(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	for _, p := range r.providers {
		if err := ctx.Err(); err != nil {
			return research.SearchResponse{}, err
		}
		resp, err := p.Search(ctx, query, maxResults)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return research.SearchResponse{}, ctxErr
			}
			r.logger.Warn("provider failed, trying next", zap.String("provider", p.Name()), zap.Error(err))
			continue
		}
		if resp.Ok() {
			return resp, nil
		}
	}
	return r.useFallback(ctx, query, maxResults)
}

// searchParallel starts every provider concurrently and returns the first
// success-with-results, cancelling the rest. If none win before ctx expires,
// falls back.
func (r *Registry) searchParallel(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	if len(r.providers) == 0 {
		return r.useFallback(ctx, query, maxResults)
	}

	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		resp research.SearchResponse
		err  error
	}
	results := make(chan outcome, len(r.providers))

	var wg sync.WaitGroup
	for _, p := range r.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()
			resp, err := p.Search(cctx, query, maxResults)
			select {
			case results <- outcome{resp, err}:
			case <-cctx.Done():
			}
		}(p)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	for {
		select {
		case <-ctx.Done():
			cancel()
			return r.useFallback(context.Background(), query, maxResults)
		case o, ok := <-results:
			if !ok {
				cancel()
				return r.useFallback(ctx, query, maxResults)
			}
			if o.err == nil && o.resp.Ok() {
				cancel() // observed by every in-flight provider's ctx
				return o.resp, nil
			}
		}
	}
}

// searchBestEffort waits for every provider to complete (or fail) and
// picks the response with the most results, tie-breaking on
// grounding_used=true.
func (r *Registry) searchBestEffort(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	if len(r.providers) == 0 {
		return r.useFallback(ctx, query, maxResults)
	}

	responses := make([]research.SearchResponse, len(r.providers))
	var wg sync.WaitGroup
	for i, p := range r.providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			resp, err := p.Search(ctx, query, maxResults)
			if err == nil {
				responses[i] = resp
			}
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return research.SearchResponse{}, err
	}

	var successful []research.SearchResponse
	for _, resp := range responses {
		if resp.Status == research.StatusSuccess {
			successful = append(successful, resp)
		}
	}
	if len(successful) == 0 {
		return r.useFallback(ctx, query, maxResults)
	}

	best := chooseBest(successful)
	return best, nil
}

// chooseBest implements search_manager.py's _choose_best_response: prefer
// responses with results, sorted by result count descending then
// grounding_used descending; if none have results, the first response wins.
func chooseBest(responses []research.SearchResponse) research.SearchResponse {
	var withResults []research.SearchResponse
	for _, r := range responses {
		if len(r.Results) > 0 {
			withResults = append(withResults, r)
		}
	}
	if len(withResults) == 0 {
		return responses[0]
	}
	sort.SliceStable(withResults, func(i, j int) bool {
		if len(withResults[i].Results) != len(withResults[j].Results) {
			return len(withResults[i].Results) > len(withResults[j].Results)
		}
		return withResults[i].GroundingUsed && !withResults[j].GroundingUsed
	})
	return withResults[0]
}

func (r *Registry) useFallback(ctx context.Context, query string, maxResults int) (research.SearchResponse, error) {
	if r.fallback == nil {
		return errorResponse("search_registry", query, "no fallback provider available"), nil
	}
	r.logger.Info("cascade exhausted, using knowledge fallback", zap.String("query", query))
	return r.fallback.Search(ctx, query, maxResults)
}

// Providers returns the registered (available) candidate list, excluding
// the fallback provider. Exposed for health/status reporting.
func (r *Registry) Providers() []Provider {
	out := make([]Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

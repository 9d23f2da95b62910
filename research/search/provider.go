// Package search implements the Search Provider Cascade: the uniform
// provider contract (C1), the concrete provider adapters, and the registry
// that selects among them under a configurable strategy (C2).
package search

import (
	"context"

	"go.uber.org/zap"

	"github.com/fenwicklabs/atomicresearch/research"
)

// Provider adapts one external search backend to a uniform query→results
// contract. Search must never panic to the caller: every failure is
// reflected in the returned SearchResponse's Status/Err fields. A non-nil
// error return is reserved for context cancellation/deadline propagating
// out of the call.
type Provider interface {
	// Name identifies the provider for logging, metrics, and SourceTag
	// derivation.
	Name() string

	// IsAvailable is pure, cheap, and synchronous: true when the provider
	// has the configuration it needs. It never performs I/O.
	IsAvailable() bool

	// Search executes one query against the backend. It must respect ctx
	// cancellation and the provider's own configured timeout.
	Search(ctx context.Context, query string, maxResults int) (research.SearchResponse, error)
}

// errorResponse builds the uniform error-shaped SearchResponse every
// provider returns on a recovered failure, per spec.md §4.1's taxonomy.
func errorResponse(provider, query, errMsg string) research.SearchResponse {
	return research.SearchResponse{
		Status:       research.StatusError,
		Query:        query,
		ProviderName: provider,
		Err:          errMsg,
	}
}

func successResponse(provider, query string, results []research.SearchResult, groundingUsed bool, raw any) research.SearchResponse {
	status := research.StatusSuccess
	if len(results) == 0 {
		status = research.StatusNoResults
	}
	return research.SearchResponse{
		Status:        status,
		Results:       results,
		Query:         query,
		ProviderName:  provider,
		GroundingUsed: groundingUsed,
		Raw:           raw,
	}
}

// logAttempt and logResult give every concrete provider the same log
// shape, mirroring the teacher's per-call Debug/Info pairing.
func logAttempt(logger *zap.Logger, provider, query string, maxResults int) {
	logger.Debug("search attempt",
		zap.String("provider", provider),
		zap.String("query", query),
		zap.Int("max_results", maxResults),
	)
}

func logSuccess(logger *zap.Logger, provider string, n int) {
	logger.Debug("search succeeded",
		zap.String("provider", provider),
		zap.Int("results", n),
	)
}

func logError(logger *zap.Logger, provider, errMsg string) {
	logger.Warn("search failed, falling back to next provider",
		zap.String("provider", provider),
		zap.String("error", errMsg),
	)
}

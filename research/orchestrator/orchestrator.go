package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fenwicklabs/atomicresearch/internal/ctxkeys"
	"github.com/fenwicklabs/atomicresearch/internal/pool"
	"github.com/fenwicklabs/atomicresearch/research"
	"github.com/fenwicklabs/atomicresearch/research/quality"
	"github.com/fenwicklabs/atomicresearch/research/search"
)

// Config tunes one Orchestrator's concurrency, timeouts, and defaults.
// Per-request overrides (query count, loop count, reasoning model) arrive
// through Run's RunOptions instead, mirroring ResearchState's per-request
// fields in state.py.
type Config struct {
	DefaultQueryCount int
	DefaultMaxLoops   int
	MaxResultsPerQuery int

	PerQueryTimeout time.Duration
	BatchTimeout    time.Duration
	RequestTimeout  time.Duration

	QualityThreshold float64

	PoolWorkers   int
	PoolQueueSize int
}

// DefaultConfig mirrors ResearchState's defaults (initial_search_query_count
// 3, max_research_loops 2) plus concurrency/timeout values sized for the
// bounded worker pool described in spec.md §5.
func DefaultConfig() Config {
	return Config{
		DefaultQueryCount:  3,
		DefaultMaxLoops:    2,
		MaxResultsPerQuery: 5,
		PerQueryTimeout:    15 * time.Second,
		BatchTimeout:       45 * time.Second,
		RequestTimeout:     120 * time.Second,
		QualityThreshold:   0.0,
		PoolWorkers:        16,
		PoolQueueSize:      256,
	}
}

// RunOptions carries the per-request overrides of spec.md's research
// request front (C6): question plus the optional tuning fields the caller
// may supply.
type RunOptions struct {
	// RunID, when set by the caller (e.g. resuming a persisted request),
	// is propagated instead of generating a new one.
	RunID                    string
	Question                string
	InitialSearchQueryCount  int
	MaxResearchLoops         int
	ReasoningModel           string
}

// Orchestrator is a shared, concurrency-safe driver of the GENERATE_QUERIES
// -> SEARCH_BATCH -> REFLECT -> [loop|FINALIZE] -> DONE/FAILED state
// machine. It holds no per-request mutable state: every Run call builds its
// own ResearchState and its own in-process cache, so a single Orchestrator
// safely serves concurrent requests.
type Orchestrator struct {
	registry   *search.Registry
	queryAgent QueryGenerator
	reflector  Reflector
	finalizer  Finalizer
	pool       *pool.GoroutinePool
	cfg        Config
	logger     *zap.Logger
}

func New(registry *search.Registry, queryAgent QueryGenerator, reflector Reflector, finalizer Finalizer, cfg Config, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry:   registry,
		queryAgent: queryAgent,
		reflector:  reflector,
		finalizer:  finalizer,
		pool: pool.NewGoroutinePool(pool.GoroutinePoolConfig{
			MaxWorkers:  cfg.PoolWorkers,
			QueueSize:   cfg.PoolQueueSize,
			IdleTimeout: 60 * time.Second,
		}),
		cfg:    cfg,
		logger: logger,
	}
}

// Close releases the orchestrator's worker pool. Call once at process
// shutdown, not per-request.
func (o *Orchestrator) Close() {
	o.pool.Close()
}

// requestCache holds values derived once per Run call and reused across its
// state-machine steps — spec.md §5's per-request-only cache, a plain
// struct scoped to the call stack rather than anything cross-request.
type requestCache struct {
	currentDate string
}

// Run drives one full research request through the state machine and
// returns the assembled Result. The returned error is non-nil only for
// unrecoverable failures (state FAILED): an error returned by an agent
// aborts the run. The LLM-backed agents absorb their own LLM failures into
// deterministic fallbacks per spec.md §9, and a failing search query
// becomes an error response without aborting its batch.
func (o *Orchestrator) Run(ctx context.Context, opts RunOptions) (research.Result, error) {
	start := time.Now()

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	ctx = ctxkeys.WithRunID(ctx, runID)
	o.logger.Info("research run started", zap.String("run_id", runID), zap.String("question", opts.Question))

	ctx, cancel := context.WithTimeout(ctx, o.cfg.RequestTimeout)
	defer cancel()

	queryCount := opts.InitialSearchQueryCount
	if queryCount <= 0 {
		queryCount = o.cfg.DefaultQueryCount
	}
	maxLoops := opts.MaxResearchLoops
	if maxLoops <= 0 {
		maxLoops = o.cfg.DefaultMaxLoops
	}

	cache := requestCache{currentDate: time.Now().Format("2006-01-02")}

	state := &research.ResearchState{
		Messages:          []research.Message{{Role: "user", Content: opts.Question}},
		InitialQueryCount:  queryCount,
		MaxResearchLoops:  maxLoops,
		ReasoningModel:    opts.ReasoningModel,
	}

	perf := &research.PerformanceProfile{ProviderInvocations: map[string]int{}}
	var allResponses []research.SearchResponse
	var allCitations []research.Citation
	seenURLs := make(map[string]struct{})

	// GENERATE_QUERIES
	qgStart := time.Now()
	qgOut, err := o.queryAgent.Generate(ctx, QueryGenerationInput{
		ResearchTopic:   opts.Question,
		NumberOfQueries: queryCount,
		CurrentDate:     cache.currentDate,
	})
	if err != nil {
		return research.Result{}, fmt.Errorf("orchestration failed at query generation: %w", err)
	}
	perf.QueryGenerationMS = time.Since(qgStart).Milliseconds()
	state.SearchQueries = append(state.SearchQueries, qgOut.Queries...)

	// SEARCH_BATCH (initial)
	sbStart := time.Now()
	responses, err := o.runSearchBatch(ctx, qgOut.Queries)
	if err != nil {
		return research.Result{}, fmt.Errorf("orchestration failed at initial search batch: %w", err)
	}
	perf.SearchBatchMS = append(perf.SearchBatchMS, time.Since(sbStart).Milliseconds())
	allCitations = append(allCitations, collectResponses(state, perf, responses, seenURLs)...)
	allResponses = append(allResponses, responses...)

	// REFLECT, looping until sufficient or MaxResearchLoops is reached.
	// ResearchLoopCount counts every executed reflect pass, including the
	// one that concludes sufficiency (SPEC_FULL.md §8 scenario S1: one
	// reflect pass that is immediately sufficient still executed one loop).
	for state.ResearchLoopCount < state.MaxResearchLoops {
		rStart := time.Now()
		refOut, err := o.reflector.Reflect(ctx, ReflectionInput{
			ResearchTopic: opts.Question,
			Summaries:     state.ResearchResults,
			CurrentLoop:   state.ResearchLoopCount,
		})
		if err != nil {
			return research.Result{}, fmt.Errorf("orchestration failed at reflection: %w", err)
		}
		perf.ReflectionMS = append(perf.ReflectionMS, time.Since(rStart).Milliseconds())
		state.ResearchLoopCount++

		if refOut.IsSufficient || len(refOut.FollowUpQueries) == 0 {
			break
		}

		state.SearchQueries = append(state.SearchQueries, refOut.FollowUpQueries...)

		fbStart := time.Now()
		followResponses, err := o.runSearchBatch(ctx, refOut.FollowUpQueries)
		if err != nil {
			return research.Result{}, fmt.Errorf("orchestration failed at follow-up search batch: %w", err)
		}
		perf.SearchBatchMS = append(perf.SearchBatchMS, time.Since(fbStart).Milliseconds())
		allCitations = append(allCitations, collectResponses(state, perf, followResponses, seenURLs)...)
		allResponses = append(allResponses, followResponses...)
	}

	// FINALIZE
	fStart := time.Now()
	finalOut, err := o.finalizer.Finalize(ctx, FinalizationInput{
		ResearchTopic: opts.Question,
		Summaries:     state.ResearchResults,
		Sources:       state.SourcesGathered,
		CurrentDate:   cache.currentDate,
	})
	if err != nil {
		return research.Result{}, fmt.Errorf("orchestration failed at finalization: %w", err)
	}
	perf.FinalizationMS = time.Since(fStart).Milliseconds()

	tagIndex := quality.BuildTagIndex(allResponses)
	included, _, summary := quality.FilterGraduated(finalOut.UsedSources, tagIndex, o.cfg.QualityThreshold)

	totalDuration := time.Since(start)
	perf.TotalDurationMS = totalDuration.Milliseconds()

	metrics := quality.Evaluate(finalOut.FinalAnswer, opts.Question, included, state.ResearchLoopCount, totalDuration)
	summary.Completeness = metrics.Completeness
	summary.SourceAttribution = metrics.SourceAttribution
	summary.ContentRelevance = metrics.ContentRelevance
	summary.FormatConsistency = metrics.FormatConsistency
	summary.ErrorRate = metrics.ErrorRate
	summary.Overall = metrics.Overall

	o.logger.Info("research run completed",
		zap.String("run_id", runID),
		zap.Int("research_loops_executed", state.ResearchLoopCount),
		zap.Duration("total_duration", totalDuration))

	return research.Result{
		RunID:                  runID,
		FinalAnswer:            finalOut.FinalAnswer,
		Sources:                included,
		Citations:              allCitations,
		ResearchLoopsExecuted:  state.ResearchLoopCount,
		TotalQueries:           len(state.SearchQueries),
		QualitySummary:         &summary,
		PerformanceProfile:     perf,
	}, nil
}

// runSearchBatch executes one SEARCH_BATCH state: every query is dispatched
// concurrently through the bounded worker pool, each wrapped in its own
// per-query deadline nested inside the batch-wide deadline. Per-query
// ordering is preserved by writing into a pre-sized slice at each query's
// dispatch index, regardless of completion order; one query's failure is
// recorded and skipped, never propagated to cancel its siblings.
func (o *Orchestrator) runSearchBatch(ctx context.Context, queries []string) ([]research.SearchResponse, error) {
	if len(queries) == 0 {
		return nil, nil
	}

	batchCtx, cancel := context.WithTimeout(ctx, o.cfg.BatchTimeout)
	defer cancel()

	responses := make([]research.SearchResponse, len(queries))
	g, gctx := errgroup.WithContext(batchCtx)

	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			return o.pool.SubmitWait(gctx, func(taskCtx context.Context) error {
				queryCtx, queryCancel := context.WithTimeout(taskCtx, o.cfg.PerQueryTimeout)
				defer queryCancel()

				resp, err := o.registry.Search(queryCtx, q, o.cfg.MaxResultsPerQuery)
				if err != nil {
					o.logger.Warn("search query failed, continuing batch",
						zap.String("query", q), zap.Error(err))
					resp = research.SearchResponse{Status: research.StatusError, Query: q, Err: err.Error()}
				}
				responses[i] = resp
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("search batch dispatch failed: %w", err)
	}
	return responses, nil
}

// collectResponses folds one batch of SearchResponses into the running
// ResearchState: a synthesized textual summary per successful query plus
// the sources it surfaced, and per-provider invocation counts for the
// performance profile. seenURLs is shared across the whole Run call so
// sources_gathered stays a set keyed by URL with first-wins semantics
// (spec.md §3, §9) — a URL resurfacing in a later reflection loop is
// skipped rather than appended again under a new label.
func collectResponses(state *research.ResearchState, perf *research.PerformanceProfile, responses []research.SearchResponse, seenURLs map[string]struct{}) []research.Citation {
	var citations []research.Citation
	for _, resp := range responses {
		if resp.ProviderName != "" {
			perf.ProviderInvocations[resp.ProviderName]++
		}
		if summary := synthesizeSummary(resp); summary != "" {
			state.ResearchResults = append(state.ResearchResults, summary)
		}
		newSources := sourcesFromResults(resp.Results, len(state.SourcesGathered), seenURLs)
		state.SourcesGathered = append(state.SourcesGathered, newSources...)
		citations = append(citations, resp.Citations...)
	}
	return citations
}

// synthesizeSummary builds a deterministic textual summary of one query's
// search response, in place of an LLM-synthesis pass: numbered
// title/snippet lines, the same shape web_search_agent.py's fallback path
// built its search_context from. When the grounded provider produced a
// citation-marked answer (AnswerText), that text is carried verbatim ahead
// of the numbered lines so its inline [n](url) markers survive unparaphrased
// into research_results, and from there into finalization's fallback path.
func synthesizeSummary(resp research.SearchResponse) string {
	if !resp.Ok() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n", resp.Query)
	if resp.AnswerText != "" {
		fmt.Fprintf(&b, "%s\n", resp.AnswerText)
	}
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "[%d] %s: %s\n", i+1, r.Title, r.Snippet)
	}
	return strings.TrimSpace(b.String())
}

// sourcesFromResults converts raw SearchResults into citable Sources,
// numbering labels continuously from existingCount so labels stay unique
// and stable across every batch gathered in one run. seenURLs dedupes
// against every URL already admitted into sources_gathered in this Run,
// first-wins: a URL already recorded (from this batch or an earlier one)
// is skipped rather than re-added under a new label.
func sourcesFromResults(results []research.SearchResult, existingCount int, seenURLs map[string]struct{}) []research.Source {
	sources := make([]research.Source, 0, len(results))
	for _, r := range results {
		if r.URL == "" {
			continue
		}
		if _, dup := seenURLs[r.URL]; dup {
			continue
		}
		seenURLs[r.URL] = struct{}{}
		idx := existingCount + len(sources) + 1
		sources = append(sources, research.Source{
			Title:    r.Title,
			URL:      r.URL,
			ShortURL: fmt.Sprintf("source-%d", idx),
			Label:    fmt.Sprintf("[%d]", idx),
		})
	}
	return sources
}

package handlers

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fenwicklabs/atomicresearch/api"
	"github.com/fenwicklabs/atomicresearch/research"
	"github.com/fenwicklabs/atomicresearch/research/orchestrator"
	"github.com/fenwicklabs/atomicresearch/research/store"
	"github.com/fenwicklabs/atomicresearch/types"
)

// =============================================================================
// 🔎 研究接口 Handler
// =============================================================================

// ResearchHandler exposes the iterative research orchestrator (C6's request
// front) over HTTP.
type ResearchHandler struct {
	orchestrator *orchestrator.Orchestrator
	store        *store.Store
	logger       *zap.Logger
}

// NewResearchHandler creates a research handler.
func NewResearchHandler(orch *orchestrator.Orchestrator, logger *zap.Logger) *ResearchHandler {
	return &ResearchHandler{orchestrator: orch, logger: logger}
}

// WithStore attaches a persistence layer: every completed run is saved
// after the response body is written, synchronously before the handler
// returns; a save failure is logged and does not change the response.
// A nil store (the default) disables persistence entirely.
func (h *ResearchHandler) WithStore(s *store.Store) *ResearchHandler {
	h.store = s
	return h
}

// HandleHistory 返回最近完成的研究记录列表
// @Summary 研究历史
// @Description 返回最近持久化的研究记录
// @Tags 研究
// @Produce json
// @Success 200 {array} store.Record "研究记录列表"
// @Failure 503 {object} Response "服务不可用"
// @Router /v1/research/history [get]
func (h *ResearchHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		WriteError(w, types.NewError(types.ErrOrchestrationFailed, "research history is not enabled"), h.logger)
		return
	}
	records, err := h.store.List(r.Context(), 20)
	if err != nil {
		WriteError(w, types.NewError(types.ErrOrchestrationFailed, "failed to load research history").WithCause(err), h.logger)
		return
	}
	WriteSuccess(w, records)
}

// HandleResearch 处理研究请求
// @Summary 迭代式研究
// @Description 对给定问题运行查询生成、并行搜索、反思循环与最终合成
// @Tags 研究
// @Accept json
// @Produce json
// @Param request body api.ResearchRequest true "研究请求"
// @Success 200 {object} api.ResearchResponse "研究结果"
// @Failure 400 {object} Response "无效请求"
// @Failure 503 {object} Response "编排失败"
// @Security ApiKeyAuth
// @Router /v1/research [post]
func (h *ResearchHandler) HandleResearch(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}

	var req api.ResearchRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}

	if err := h.validateResearchRequest(&req); err != nil {
		WriteError(w, err, h.logger)
		return
	}

	start := time.Now()
	result, err := h.orchestrator.Run(r.Context(), orchestrator.RunOptions{
		Question:                req.Question,
		InitialSearchQueryCount: req.InitialSearchQueryCount,
		MaxResearchLoops:        req.MaxResearchLoops,
		ReasoningModel:          req.ReasoningModel,
	})
	duration := time.Since(start)

	if err != nil {
		h.handleOrchestrationError(w, err)
		return
	}

	apiResp := h.convertToAPIResponse(&result)

	h.logger.Info("research completed",
		zap.String("run_id", result.RunID),
		zap.Int("research_loops_executed", result.ResearchLoopsExecuted),
		zap.Int("total_queries", result.TotalQueries),
		zap.Int("sources", len(result.Sources)),
		zap.Duration("duration", duration),
	)

	WriteSuccess(w, apiResp)

	if h.store != nil {
		if err := h.store.Save(r.Context(), req.Question, result); err != nil {
			h.logger.Error("failed to persist research record", zap.String("run_id", result.RunID), zap.Error(err))
		}
	}
}

// validateResearchRequest 验证研究请求
func (h *ResearchHandler) validateResearchRequest(req *api.ResearchRequest) *types.Error {
	if req.Question == "" {
		return types.NewError(types.ErrInvalidResearchRequest, "question is required")
	}
	if req.InitialSearchQueryCount < 0 {
		return types.NewError(types.ErrInvalidResearchRequest, "initial_search_query_count must be non-negative")
	}
	if req.MaxResearchLoops < 0 {
		return types.NewError(types.ErrInvalidResearchRequest, "max_research_loops must be non-negative")
	}
	return nil
}

// convertToAPIResponse 转换为 API 响应
func (h *ResearchHandler) convertToAPIResponse(result *research.Result) *api.ResearchResponse {
	sources := make([]api.ResearchSource, len(result.Sources))
	for i, s := range result.Sources {
		sources[i] = api.ResearchSource{
			Title:    s.Title,
			URL:      s.URL,
			ShortURL: s.ShortURL,
			Label:    s.Label,
		}
	}

	citations := make([]api.ResearchCitation, len(result.Citations))
	for i, c := range result.Citations {
		citationSources := make([]api.ResearchSource, len(c.Sources))
		for j, s := range c.Sources {
			citationSources[j] = api.ResearchSource{
				Title:    s.Title,
				URL:      s.URL,
				ShortURL: s.ShortURL,
				Label:    s.Label,
			}
		}
		citations[i] = api.ResearchCitation{
			StartIndex: c.StartIndex,
			EndIndex:   c.EndIndex,
			Sources:    citationSources,
		}
	}

	resp := &api.ResearchResponse{
		RunID:                 result.RunID,
		FinalAnswer:           result.FinalAnswer,
		Sources:               sources,
		Citations:             citations,
		ResearchLoopsExecuted: result.ResearchLoopsExecuted,
		TotalQueries:          result.TotalQueries,
	}

	if result.QualitySummary != nil {
		resp.QualitySummary = &api.ResearchQualitySummary{
			Total:             result.QualitySummary.Total,
			Included:          result.QualitySummary.Included,
			Filtered:          result.QualitySummary.Filtered,
			AverageScore:      result.QualitySummary.AverageScore,
			Threshold:         result.QualitySummary.Threshold,
			HasRealSearch:     result.QualitySummary.HasRealSearch,
			HasFallback:       result.QualitySummary.HasFallback,
			Completeness:      result.QualitySummary.Completeness,
			SourceAttribution: result.QualitySummary.SourceAttribution,
			ContentRelevance:  result.QualitySummary.ContentRelevance,
			FormatConsistency: result.QualitySummary.FormatConsistency,
			ErrorRate:         result.QualitySummary.ErrorRate,
			Overall:           result.QualitySummary.Overall,
		}
	}

	if result.PerformanceProfile != nil {
		resp.PerformanceProfile = &api.ResearchPerformanceProfile{
			TotalDurationMS:     result.PerformanceProfile.TotalDurationMS,
			QueryGenerationMS:   result.PerformanceProfile.QueryGenerationMS,
			SearchBatchMS:       result.PerformanceProfile.SearchBatchMS,
			ReflectionMS:        result.PerformanceProfile.ReflectionMS,
			FinalizationMS:      result.PerformanceProfile.FinalizationMS,
			ProviderInvocations: result.PerformanceProfile.ProviderInvocations,
		}
	}

	return resp
}

// handleOrchestrationError 处理编排错误
func (h *ResearchHandler) handleOrchestrationError(w http.ResponseWriter, err error) {
	if typedErr, ok := err.(*types.Error); ok {
		WriteError(w, typedErr, h.logger)
		return
	}

	orchErr := types.NewError(types.ErrOrchestrationFailed, "research orchestration failed").
		WithCause(err).
		WithRetryable(true)
	WriteError(w, orchErr, h.logger)
}

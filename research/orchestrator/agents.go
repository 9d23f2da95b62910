// Package orchestrator drives the iterative research state machine of
// spec.md §4.5: generate queries, search in parallel, reflect, loop or
// finalize.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/fenwicklabs/atomicresearch/llm"
	"github.com/fenwicklabs/atomicresearch/research"
)

// QueryGenerationInput drives the first state-machine step.
type QueryGenerationInput struct {
	ResearchTopic   string
	NumberOfQueries int
	CurrentDate     string
}

// QueryGenerationOutput is what an LLM (or the deterministic fallback)
// produces for QueryGenerationInput.
type QueryGenerationOutput struct {
	Queries   []string `json:"queries"`
	Rationale string   `json:"rationale"`
}

// ReflectionInput drives the REFLECT state.
type ReflectionInput struct {
	ResearchTopic string
	Summaries     []string
	CurrentLoop   int
}

// ReflectionOutput decides whether another research loop runs.
type ReflectionOutput struct {
	IsSufficient    bool     `json:"is_sufficient"`
	KnowledgeGap    string   `json:"knowledge_gap"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// FinalizationInput drives the FINALIZE state.
type FinalizationInput struct {
	ResearchTopic string
	Summaries     []string
	Sources       []research.Source
	CurrentDate   string
}

// FinalizationOutput is the finished answer plus the subset of Sources the
// model actually drew from.
type FinalizationOutput struct {
	FinalAnswer string
	UsedSources []research.Source
}

// QueryGenerator generates the search queries for one research request.
type QueryGenerator interface {
	Generate(ctx context.Context, input QueryGenerationInput) (QueryGenerationOutput, error)
}

// Reflector decides whether gathered research is sufficient, and if not,
// what follow-up queries to run next.
type Reflector interface {
	Reflect(ctx context.Context, input ReflectionInput) (ReflectionOutput, error)
}

// Finalizer synthesizes the final cited answer from all research summaries.
type Finalizer interface {
	Finalize(ctx context.Context, input FinalizationInput) (FinalizationOutput, error)
}

// llmAgent is the shared implementation behind all three LLM-backed agents:
// build a JSON-only prompt, call the configured llm.Provider, parse the
// response. Each agent's fallback runs on any call or parse failure,
// mirroring the Python agents' handle_agent_errors/_create_fallback_response
// pattern rather than propagating the error to the orchestrator.
type llmAgent struct {
	provider llm.Provider
	model    string
	logger   *zap.Logger
}

func (a *llmAgent) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	req := &llm.ChatRequest{
		Model: a.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
		Temperature: 0.2,
	}
	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("llm returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

const jsonOnlyInstruction = "Respond with a single JSON object and nothing else: no prose, no markdown fences."

// extractJSON strips a leading/trailing markdown code fence if the model
// added one despite instructions, since that is the single most common
// deviation observed from JSON-only prompts.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

// queryGenerationAgent is the LLM-backed QueryGenerator (C5's
// GENERATE_QUERIES step), grounded on query_generation_agent.py.
type queryGenerationAgent struct{ llmAgent }

func NewQueryGenerationAgent(provider llm.Provider, model string, logger *zap.Logger) QueryGenerator {
	return &queryGenerationAgent{llmAgent{provider, model, logger}}
}

func (a *queryGenerationAgent) Generate(ctx context.Context, input QueryGenerationInput) (QueryGenerationOutput, error) {
	system := "You are a query generation agent. Analyze the research topic and generate " +
		"effective, diverse search queries covering different aspects of the topic, " +
		"accounting for the current date for temporal relevance. " + jsonOnlyInstruction +
		` Schema: {"queries": string[], "rationale": string}`
	user := fmt.Sprintf("Current date: %s\nResearch topic: %s\nGenerate exactly %d search queries.",
		input.CurrentDate, input.ResearchTopic, input.NumberOfQueries)

	raw, err := a.complete(ctx, system, user)
	if err != nil {
		a.logger.Warn("query generation LLM call failed, using fallback", zap.Error(err))
		return fallbackQueryGeneration(input, err.Error()), nil
	}

	var out QueryGenerationOutput
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil || len(out.Queries) == 0 {
		a.logger.Warn("query generation response malformed, using fallback", zap.Error(err))
		return fallbackQueryGeneration(input, "malformed response"), nil
	}
	return out, nil
}

// fallbackQueryGeneration is the deterministic, topic-derived query list of
// spec.md §9 Open Question 1: three generic angles on the topic, truncated
// to the requested count, ported from query_generation_agent.py's
// _create_fallback_response.
func fallbackQueryGeneration(input QueryGenerationInput, reason string) QueryGenerationOutput {
	topic := input.ResearchTopic
	if topic == "" {
		topic = "general topic"
	}
	count := input.NumberOfQueries
	if count <= 0 {
		count = 3
	}
	queries := []string{
		fmt.Sprintf("What is %s?", topic),
		fmt.Sprintf("Information about %s", topic),
		fmt.Sprintf("Recent developments in %s", topic),
	}
	if count < len(queries) {
		queries = queries[:count]
	}
	return QueryGenerationOutput{
		Queries:   queries,
		Rationale: fmt.Sprintf("Generated basic search queries for: %s (fallback due to: %s)", topic, reason),
	}
}

// reflectionAgent is the LLM-backed Reflector (C5's REFLECT step),
// grounded on reflection_agent.py.
type reflectionAgent struct{ llmAgent }

func NewReflectionAgent(provider llm.Provider, model string, logger *zap.Logger) Reflector {
	return &reflectionAgent{llmAgent{provider, model, logger}}
}

func (a *reflectionAgent) Reflect(ctx context.Context, input ReflectionInput) (ReflectionOutput, error) {
	system := "You are a research reflection agent. Analyze whether the gathered summaries " +
		"sufficiently answer the research topic; if not, identify the knowledge gap and " +
		"propose follow-up search queries. " + jsonOnlyInstruction +
		` Schema: {"is_sufficient": bool, "knowledge_gap": string, "follow_up_queries": string[]}`
	summaries := "No summaries available."
	if len(input.Summaries) > 0 {
		summaries = strings.Join(input.Summaries, "\n")
	}
	user := fmt.Sprintf("Research topic: %s\nLoop: %d\nSummaries:\n%s", input.ResearchTopic, input.CurrentLoop, summaries)

	raw, err := a.complete(ctx, system, user)
	if err != nil {
		a.logger.Warn("reflection LLM call failed, using fallback", zap.Error(err))
		return fallbackReflection(input, err.Error()), nil
	}

	var out ReflectionOutput
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil {
		a.logger.Warn("reflection response malformed, using fallback", zap.Error(err))
		return fallbackReflection(input, "malformed response"), nil
	}
	return out, nil
}

// fallbackReflection mirrors reflection_agent.py's _create_fallback_response:
// sufficient (stop) if any summaries were gathered, otherwise insufficient
// with three generic follow-up queries.
func fallbackReflection(input ReflectionInput, reason string) ReflectionOutput {
	topic := input.ResearchTopic
	if topic == "" {
		topic = "the topic"
	}
	if len(input.Summaries) > 0 {
		return ReflectionOutput{
			IsSufficient: true,
			KnowledgeGap: fmt.Sprintf("Research appears sufficient based on available summaries (fallback due to: %s)", reason),
		}
	}
	return ReflectionOutput{
		IsSufficient: false,
		KnowledgeGap: fmt.Sprintf("No research summaries available for %s. Basic research is needed (fallback due to: %s)", topic, reason),
		FollowUpQueries: []string{
			fmt.Sprintf("What is %s?", topic),
			fmt.Sprintf("Key aspects of %s", topic),
			fmt.Sprintf("Current state of %s", topic),
		},
	}
}

// finalizationAgent is the LLM-backed Finalizer (C5's FINALIZE step),
// grounded on finalization_agent.py. The LLM is asked to cite sources by
// URL rather than echo full Source objects back, which resolveUsedSources
// then maps onto the caller-supplied Source list.
type finalizationAgent struct{ llmAgent }

func NewFinalizationAgent(provider llm.Provider, model string, logger *zap.Logger) Finalizer {
	return &finalizationAgent{llmAgent{provider, model, logger}}
}

type finalizationLLMOutput struct {
	FinalAnswer    string   `json:"final_answer"`
	UsedSourceURLs []string `json:"used_source_urls"`
}

func (a *finalizationAgent) Finalize(ctx context.Context, input FinalizationInput) (FinalizationOutput, error) {
	system := "You are a research finalization agent. Synthesize the research summaries into a " +
		"complete, well-cited answer to the research topic, using inline citation markers like " +
		"[1], [2] that correspond to the order of the provided sources. " + jsonOnlyInstruction +
		` Schema: {"final_answer": string, "used_source_urls": string[]}`
	summaries := "No research summaries available."
	if len(input.Summaries) > 0 {
		summaries = strings.Join(input.Summaries, "\n")
	}
	user := fmt.Sprintf("Current date: %s\nResearch topic: %s\nSummaries:\n%s\nSources:\n%s",
		input.CurrentDate, input.ResearchTopic, summaries, formatSourceList(input.Sources))

	raw, err := a.complete(ctx, system, user)
	if err != nil {
		a.logger.Warn("finalization LLM call failed, using fallback", zap.Error(err))
		return fallbackFinalization(input, err.Error()), nil
	}

	var out finalizationLLMOutput
	if err := json.Unmarshal([]byte(extractJSON(raw)), &out); err != nil || out.FinalAnswer == "" {
		a.logger.Warn("finalization response malformed, using fallback", zap.Error(err))
		return fallbackFinalization(input, "malformed response"), nil
	}
	return FinalizationOutput{
		FinalAnswer: out.FinalAnswer,
		UsedSources: resolveUsedSources(input.Sources, out.UsedSourceURLs),
	}, nil
}

func formatSourceList(sources []research.Source) string {
	if len(sources) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for i, s := range sources {
		fmt.Fprintf(&b, "[%d] %s - %s\n", i+1, s.Title, s.URL)
	}
	return b.String()
}

func resolveUsedSources(sources []research.Source, usedURLs []string) []research.Source {
	if len(usedURLs) == 0 {
		return nil
	}
	byURL := make(map[string]research.Source, len(sources))
	for _, s := range sources {
		byURL[s.URL] = s
	}
	var used []research.Source
	for _, u := range usedURLs {
		if s, ok := byURL[u]; ok {
			used = append(used, s)
		}
	}
	return used
}

// fallbackFinalization mirrors finalization_agent.py's
// _create_fallback_response: build an answer from the first summary (plus
// numbered continuations for the rest), or a generic unable-to-help message
// if no summaries were gathered at all; cites up to three sources.
func fallbackFinalization(input FinalizationInput, reason string) FinalizationOutput {
	topic := input.ResearchTopic
	if topic == "" {
		topic = "the requested topic"
	}

	var answer string
	if len(input.Summaries) > 0 {
		answer = fmt.Sprintf("Based on the research: %s", input.Summaries[0])
		if len(input.Summaries) > 1 {
			var b strings.Builder
			fmt.Fprintf(&b, "\n\nAdditional findings:\n")
			for i, s := range input.Summaries[1:] {
				fmt.Fprintf(&b, "%d. %s\n", i+2, s)
			}
			answer += b.String()
		}
		answer += fmt.Sprintf("\n\n(Note: This is a fallback response due to: %s)", reason)
	} else {
		answer = fmt.Sprintf("Unable to provide comprehensive information about %s. Research data was not available. (Fallback response due to: %s)", topic, reason)
	}

	used := input.Sources
	if len(used) > 3 {
		used = used[:3]
	}
	return FinalizationOutput{FinalAnswer: answer, UsedSources: used}
}

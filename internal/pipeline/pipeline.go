// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/sensorbridge/internal/analysis"
	"github.com/jeranaias/sensorbridge/internal/cache"
	"github.com/jeranaias/sensorbridge/internal/llm"
	"github.com/jeranaias/sensorbridge/internal/telemetry"
	"github.com/jeranaias/sensorbridge/internal/usage"
	"github.com/jeranaias/sensorbridge/internal/util"
)

// =============================================================================
// EXECUTION STATUS
// =============================================================================

// ExecutionStatus marks the milestones a run passes through. The
// trace in State.History records them in order.
type ExecutionStatus string

const (
	StatusQueryAnalyzed        ExecutionStatus = "query_analyzed"
	StatusDataCollected        ExecutionStatus = "data_collected"
	StatusAllMethodsFailed     ExecutionStatus = "all_methods_failed"
	StatusAnalyzed             ExecutionStatus = "analyzed"
	StatusNoDataFallback       ExecutionStatus = "no_data_fallback"
	StatusResponseGenerated    ExecutionStatus = "response_generated"
	StatusUsageLimitReached    ExecutionStatus = "usage_limit_reached"
	StatusFallbackResponse     ExecutionStatus = "fallback_response"
	StatusTimeout              ExecutionStatus = "timeout"
	StatusVerificationComplete ExecutionStatus = "verification_complete"
)

// timeoutResponse is the answer of last resort when the deadline
// expires mid-run.
const timeoutResponse = "Processing your question took too long and was stopped. " +
	"Partial sensor data may have been collected; please try again."

// =============================================================================
// STATE & RESULT
// =============================================================================

// State carries everything accumulated during one run.
type State struct {
	RunID    string                 `json:"run_id"`
	Query    string                 `json:"query"`
	Analysis analysis.QueryAnalysis `json:"analysis"`
	Fetch    telemetry.FetchResult  `json:"fetch"`
	Summary  analysis.Summary       `json:"summary"`
	Response string                 `json:"response"`
	History  []ExecutionStatus      `json:"history"`

	Verification Verification `json:"verification"`
	StartedAt    time.Time    `json:"started_at"`
	FinishedAt   time.Time    `json:"finished_at"`
}

func (s *State) mark(status ExecutionStatus) {
	s.History = append(s.History, status)
}

// last returns the most recent non-verification milestone.
func (s *State) last() ExecutionStatus {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i] != StatusVerificationComplete {
			return s.History[i]
		}
	}
	return ""
}

// Result is the caller-facing outcome of one run. Response is never
// empty, whatever went wrong underneath.
type Result struct {
	Success      bool              `json:"success"`
	Response     string            `json:"response"`
	Status       ExecutionStatus   `json:"status"`
	History      []ExecutionStatus `json:"history"`
	RunID        string            `json:"run_id"`
	Verification Verification      `json:"verification"`
	DataSummary  analysis.Summary  `json:"data_summary"`
	StrategyUsed string            `json:"strategy_used,omitempty"`
	Elapsed      time.Duration     `json:"elapsed"`
}

// =============================================================================
// PIPELINE
// =============================================================================

// dataFetcher is the slice of the connector the pipeline needs.
type dataFetcher interface {
	FetchSensorData(ctx context.Context, hours float64) telemetry.FetchResult
}

// diagnoser is implemented by fetchers that can report acquisition
// health; the connector is one. Used to enrich the answer when every
// fetch strategy has failed.
type diagnoser interface {
	Diagnostics(ctx context.Context) telemetry.Diagnostics
}

// chatClient is the slice of the LLM client the pipeline needs.
type chatClient interface {
	IsConfigured() bool
	Model() string
	Generate(ctx context.Context, system, prompt string) (*llm.ChatResponse, error)
}

// Pipeline wires the collection, analysis, generation, and
// verification stages together. It is safe for concurrent use; each
// Run keeps its state on the stack.
type Pipeline struct {
	fetcher dataFetcher
	cache   *cache.ResultCache
	tracker *usage.Tracker
	chat    chatClient
}

// New creates a pipeline. cache and tracker may be nil, which disables
// caching and quota enforcement respectively (used in tests).
func New(fetcher dataFetcher, c *cache.ResultCache, tracker *usage.Tracker, chat chatClient) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		cache:   c,
		tracker: tracker,
		chat:    chat,
	}
}

// Run executes the full pipeline for one question synchronously. The
// context bounds the whole run; on expiry the result degrades to a
// timeout answer rather than an error.
func (p *Pipeline) Run(ctx context.Context, query string) Result {
	state := &State{
		RunID:     uuid.NewString(),
		Query:     query,
		StartedAt: time.Now().UTC(),
	}
	log.Printf("[pipeline] Run %s: %q", state.RunID, util.TruncateRunes(query, 120))

	p.analyzeQuery(state)

	if !p.expired(ctx, state) {
		p.collectData(ctx, state)
	}
	if !p.expired(ctx, state) && state.Fetch.OK() {
		p.analyzeData(state)
	}
	if !p.expired(ctx, state) {
		p.generateResponse(ctx, state)
	}

	p.verify(state)
	state.FinishedAt = time.Now().UTC()

	return p.finish(state)
}

// expired checks the context at a stage boundary and, on expiry,
// installs the timeout answer exactly once.
func (p *Pipeline) expired(ctx context.Context, state *State) bool {
	if ctx.Err() == nil {
		return false
	}
	if state.last() != StatusTimeout {
		log.Printf("[pipeline] Run %s timed out: %v", state.RunID, ctx.Err())
		state.Response = timeoutResponse
		state.mark(StatusTimeout)
	}
	return true
}

func (p *Pipeline) analyzeQuery(state *State) {
	state.Analysis = analysis.AnalyzeQuery(state.Query)
	state.mark(StatusQueryAnalyzed)
}

func (p *Pipeline) collectData(ctx context.Context, state *State) {
	fetch := func(ctx context.Context) telemetry.FetchResult {
		return p.fetcher.FetchSensorData(ctx, state.Analysis.WindowHours)
	}

	if p.cache != nil {
		key := fmt.Sprintf("sensor_data:%g", state.Analysis.WindowHours)
		state.Fetch = p.cache.GetOrFetch(ctx, key, fetch)
	} else {
		state.Fetch = fetch(ctx)
	}

	if state.Fetch.OK() {
		state.mark(StatusDataCollected)
	} else {
		log.Printf("[pipeline] Run %s: data collection failed: %s", state.RunID, state.Fetch.Error)
		state.mark(StatusAllMethodsFailed)
	}
}

func (p *Pipeline) analyzeData(state *State) {
	state.Summary = analysis.Summarize(state.Fetch.Records, state.Analysis)
	state.mark(StatusAnalyzed)
}

func (p *Pipeline) generateResponse(ctx context.Context, state *State) {
	// Collection failed outright: diagnose what is still answering and
	// hand the user something actionable, not just "no data".
	if !state.Fetch.OK() {
		var diag *telemetry.Diagnostics
		if d, ok := p.fetcher.(diagnoser); ok {
			report := d.Diagnostics(ctx)
			diag = &report
		}
		state.Response = analysis.CollectionFailedResponse(state.Fetch.Error, diag)
		state.mark(StatusNoDataFallback)
		return
	}

	// Reachable but genuinely empty: deterministic fallback, no LLM spend.
	if state.Summary.RecordCount == 0 {
		state.Response = analysis.NoDataResponse(state.Query)
		state.mark(StatusNoDataFallback)
		return
	}

	if p.chat == nil || !p.chat.IsConfigured() {
		state.Response = analysis.FallbackResponse(state.Query, state.Summary)
		state.mark(StatusFallbackResponse)
		return
	}

	prompt := analysis.BuildPrompt(state.Query, state.Summary)
	estimated := llm.EstimateTokens(analysis.SystemPrompt + prompt)

	if p.tracker != nil {
		if allowed, reason := p.tracker.CheckCanMakeRequest(p.chat.Model(), estimated); !allowed {
			log.Printf("[pipeline] Run %s: %s", state.RunID, reason)
			state.Response = analysis.QuotaExceededResponse(reason, state.Query, state.Summary)
			state.mark(StatusUsageLimitReached)
			return
		}
	}

	resp, err := p.chat.Generate(ctx, analysis.SystemPrompt, prompt)
	if err != nil || resp.GetContent() == "" {
		if err != nil {
			log.Printf("[pipeline] Run %s: generation failed: %v", state.RunID, err)
		}
		state.Response = analysis.FallbackResponse(state.Query, state.Summary)
		state.mark(StatusFallbackResponse)
		return
	}

	if p.tracker != nil {
		tokens := resp.Usage.TotalTokens
		if tokens == 0 {
			tokens = estimated
		}
		p.tracker.TrackRequest(p.chat.Model(), tokens)
	}

	state.Response = resp.GetContent()
	state.mark(StatusResponseGenerated)
}

func (p *Pipeline) finish(state *State) Result {
	if state.Response == "" {
		// Should be unreachable; keep the guarantee anyway.
		state.Response = analysis.NoDataResponse(state.Query)
	}

	status := state.last()
	success := status == StatusResponseGenerated ||
		status == StatusFallbackResponse ||
		status == StatusUsageLimitReached

	return Result{
		Success:      success,
		Response:     state.Response,
		Status:       status,
		History:      state.History,
		RunID:        state.RunID,
		Verification: state.Verification,
		DataSummary:  state.Summary,
		StrategyUsed: state.Fetch.StrategyUsed,
		Elapsed:      state.FinishedAt.Sub(state.StartedAt),
	}
}

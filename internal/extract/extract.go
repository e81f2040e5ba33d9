// Package extract runs the LLM extraction passes: vision extraction over
// rasterized presentation pages and batch analysis over spreadsheet cells.
// Every unit submitted produces exactly one result, failed units come back
// empty and tagged rather than aborting the run.
package extract

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/sells-group/deck-audit/internal/model"
	"github.com/sells-group/deck-audit/internal/resilience"
	"github.com/sells-group/deck-audit/pkg/anthropic"
)

// Options tunes both extraction passes.
type Options struct {
	Model       string
	MaxTokens   int64
	Concurrency int           // max in-flight LLM calls, default 3
	UnitDelay   time.Duration // pacing between unit submissions
	Zoom        float64       // page render scale
	BatchSize   int           // max cell records per prompt, default 200
	// MinLikelihood drops cells judged irrelevant to any presentation.
	// Kept low by default so borderline cells still reach the audit.
	MinLikelihood float64
	Disabled      bool // skip LLM calls entirely
	Retry         resilience.RetryConfig
	Breaker       *resilience.CircuitBreaker
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5-20250929"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 8192
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 3
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 200
	}
	if o.MinLikelihood <= 0 {
		o.MinLikelihood = 0.3
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	return o
}

// newLimiter builds the pacing limiter shared by a run's workers. A zero
// delay means no pacing.
func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// callModel issues one LLM call through the retry and breaker layers.
func callModel(ctx context.Context, client anthropic.Client, opts Options, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	do := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return client.CreateMessage(ctx, req)
	}

	if opts.Breaker != nil {
		return resilience.DoVal(ctx, opts.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			return resilience.ExecuteVal(ctx, opts.Breaker, do)
		})
	}
	return resilience.DoVal(ctx, opts.Retry, do)
}

// usageFrom converts API usage into pipeline usage with estimated cost.
func usageFrom(u anthropic.TokenUsage, modelID string) model.TokenUsage {
	return model.TokenUsage{
		InputTokens:         int(u.InputTokens),
		OutputTokens:        int(u.OutputTokens),
		CacheCreationTokens: int(u.CacheCreationInputTokens),
		CacheReadTokens:     int(u.CacheReadInputTokens),
		Cost:                u.EstimateCost(modelID),
	}
}

// clamp01 bounds a confidence-like score into [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Package audit cross-validates extracted presentation values against
// spreadsheet sources. Values are audited in small sequential batches, each
// batch is one LLM comparison call, and every submitted value yields exactly
// one verdict no matter what comes back.
package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/deck-audit/internal/llmjson"
	"github.com/sells-group/deck-audit/internal/model"
	"github.com/sells-group/deck-audit/internal/resilience"
	"github.com/sells-group/deck-audit/pkg/anthropic"
)

// Options tunes an audit run.
type Options struct {
	Model        string
	MaxTokens    int64
	BatchSize    int           // values per comparison call, default 5
	CandidateCap int           // spreadsheet candidates per prompt, default 100
	BatchDelay   time.Duration // pacing between batch calls
	Retry        resilience.RetryConfig
	Breaker      *resilience.CircuitBreaker

	// Risk tier thresholds on overall accuracy. LowFloor must exceed
	// MediumFloor; defaults are 85 and 70.
	LowFloor    float64
	MediumFloor float64
}

func (o Options) withDefaults() Options {
	if o.Model == "" {
		o.Model = "claude-sonnet-4-5-20250929"
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 4096
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 5
	}
	if o.CandidateCap <= 0 {
		o.CandidateCap = 100
	}
	if o.LowFloor <= 0 {
		o.LowFloor = 85
	}
	if o.MediumFloor <= 0 {
		o.MediumFloor = 70
	}
	if o.MediumFloor >= o.LowFloor {
		o.MediumFloor = o.LowFloor - 15
	}
	if o.Retry.MaxAttempts == 0 {
		o.Retry = resilience.DefaultRetryConfig()
	}
	return o
}

// ErrNoInput is returned when neither extracted values nor source values
// are present. An audit of nothing is the one failure that blocks a run.
var ErrNoInput = eris.New("audit: no extracted values and no source values")

// Engine runs audits.
type Engine struct {
	client anthropic.Client
	opts   Options
}

// New creates an audit Engine.
func New(client anthropic.Client, opts Options) *Engine {
	return &Engine{client: client, opts: opts.withDefaults()}
}

// Run audits every extracted value against the source candidates. Sources
// must arrive sorted by presentation likelihood descending; only the first
// CandidateCap of them are offered to the model. A batch-level failure
// degrades that batch to unverifiable verdicts and the run continues.
func (e *Engine) Run(ctx context.Context, values []model.ExtractedValue, sources []model.SourceValue) (*model.AuditReport, error) {
	if len(values) == 0 && len(sources) == 0 {
		return nil, ErrNoInput
	}

	report := &model.AuditReport{}

	candidates := sources
	if len(candidates) > e.opts.CandidateCap {
		candidates = candidates[:e.opts.CandidateCap]
	}

	system := []anthropic.SystemBlock{
		{Text: auditSystemText},
		{
			Text:         buildCandidateBlock(candidates),
			CacheControl: &anthropic.CacheControl{TTL: "5m"},
		},
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if e.opts.BatchDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(e.opts.BatchDelay), 1)
	}

	batchNum := 0
	for start := 0; start < len(values); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(values) {
			end = len(values)
		}
		batch := values[start:end]
		batchNum++

		if err := limiter.Wait(ctx); err != nil {
			report.Results = append(report.Results, degradeBatch(batch, batchNum, "audit cancelled before batch ran")...)
			continue
		}

		entries, usage, err := e.auditBatch(ctx, system, batch, batchNum)
		report.TokenUsage.Add(usage)
		if err != nil {
			zap.L().Warn("audit: batch failed",
				zap.Int("batch", batchNum),
				zap.Error(err),
			)
			report.Results = append(report.Results, degradeBatch(batch, batchNum, "batch failed: "+err.Error())...)
			continue
		}

		report.Results = append(report.Results, reconcileBatch(batch, entries, batchNum)...)
	}

	report.Summary = summarize(report.Results, e.opts.LowFloor, e.opts.MediumFloor)
	report.Recommendations = recommendations(report.Summary)

	zap.L().Info("audit: run complete",
		zap.Int("values", report.Summary.TotalValuesChecked),
		zap.Float64("accuracy", report.Summary.OverallAccuracy),
		zap.String("risk", string(report.Summary.RiskAssessment)),
	)
	return report, nil
}

// auditBatch issues one comparison call and decodes its verdicts.
func (e *Engine) auditBatch(ctx context.Context, system []anthropic.SystemBlock, batch []model.ExtractedValue, batchNum int) ([]llmjson.AuditEntry, model.TokenUsage, error) {
	req := anthropic.MessageRequest{
		Model:     e.opts.Model,
		MaxTokens: e.opts.MaxTokens,
		System:    system,
		Messages: []anthropic.Message{
			anthropic.TextMessage("user", buildBatchPrompt(batch)),
		},
	}

	do := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		if e.opts.Breaker != nil {
			return resilience.ExecuteVal(ctx, e.opts.Breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
				return e.client.CreateMessage(ctx, req)
			})
		}
		return e.client.CreateMessage(ctx, req)
	}

	resp, err := resilience.DoVal(ctx, e.opts.Retry, do)
	if err != nil {
		return nil, model.TokenUsage{}, err
	}

	usage := model.TokenUsage{
		InputTokens:         int(resp.Usage.InputTokens),
		OutputTokens:        int(resp.Usage.OutputTokens),
		CacheCreationTokens: int(resp.Usage.CacheCreationInputTokens),
		CacheReadTokens:     int(resp.Usage.CacheReadInputTokens),
		Cost:                resp.Usage.EstimateCost(e.opts.Model),
	}

	payload := llmjson.DecodeAuditBatch(resp.Text(), fmt.Sprintf("audit_batch_%d", batchNum))
	return payload.BatchResults, usage, nil
}

// reconcileBatch pairs verdicts with inputs: by value ID first, then
// positionally for entries with no usable ID. Inputs left unpaired get an
// unverifiable placeholder, so the output length always equals the input
// length.
func reconcileBatch(batch []model.ExtractedValue, entries []llmjson.AuditEntry, batchNum int) []model.AuditResult {
	byID := make(map[string]int, len(entries))
	for i, en := range entries {
		if en.PDFValueID != "" {
			if _, dup := byID[en.PDFValueID]; !dup {
				byID[en.PDFValueID] = i
			}
		}
	}

	claimed := make([]bool, len(entries))
	out := make([]model.AuditResult, 0, len(batch))

	for i, v := range batch {
		idx := -1
		if j, ok := byID[v.ID]; ok && !claimed[j] {
			idx = j
		} else if i < len(entries) && !claimed[i] && entries[i].PDFValueID == "" {
			idx = i
		}

		if idx == -1 {
			out = append(out, placeholderResult(v, batchNum, "no verdict returned for this value"))
			continue
		}
		claimed[idx] = true
		out = append(out, convertEntry(entries[idx], v, batchNum))
	}

	return out
}

// convertEntry maps one model verdict onto the value it judges.
func convertEntry(en llmjson.AuditEntry, v model.ExtractedValue, batchNum int) model.AuditResult {
	res := model.AuditResult{
		PDFValueID:       v.ID,
		PDFValue:         llmjson.String(en.PDFValue),
		PDFContext:       en.PDFContext,
		ValidationStatus: model.ParseValidationStatus(en.ValidationStatus),
		Confidence:       clamp01(llmjson.Float(en.Confidence)),
		AuditReasoning:   en.AuditReasoning,
		BatchNumber:      batchNum,
	}
	if res.PDFValue == "" {
		res.PDFValue = v.RawValue
	}
	if res.PDFContext == "" {
		res.PDFContext = v.BusinessContext.SemanticMeaning
	}
	if en.ExcelMatch != nil {
		res.ExcelMatch = &model.ExcelMatch{
			SourceFile:      en.ExcelMatch.SourceFile,
			CellReference:   en.ExcelMatch.CellReference,
			ExcelValue:      llmjson.String(en.ExcelMatch.ExcelValue),
			MatchConfidence: clamp01(llmjson.Float(en.ExcelMatch.MatchConfidence)),
		}
	}
	return res
}

// degradeBatch turns a whole failed batch into unverifiable verdicts.
func degradeBatch(batch []model.ExtractedValue, batchNum int, reason string) []model.AuditResult {
	out := make([]model.AuditResult, 0, len(batch))
	for _, v := range batch {
		out = append(out, placeholderResult(v, batchNum, reason))
	}
	return out
}

func placeholderResult(v model.ExtractedValue, batchNum int, reason string) model.AuditResult {
	return model.AuditResult{
		PDFValueID:       v.ID,
		PDFValue:         v.RawValue,
		PDFContext:       v.BusinessContext.SemanticMeaning,
		ValidationStatus: model.StatusUnverifiable,
		AuditReasoning:   reason,
		BatchNumber:      batchNum,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const auditSystemText = `You are a financial auditor verifying that presentation values trace back to spreadsheet sources. Respond with strict JSON only: no prose, no markdown fences.`

const batchPromptFmt = `For each presentation value below, find its best matching spreadsheet source from the candidate list in your instructions and classify the comparison.

Presentation values:
%s

Statuses:
- "matched": value agrees with a source cell
- "formatting_difference": same quantity, different display (rounding, units, sign conventions)
- "mismatched": value disagrees with its most plausible source
- "pdf_only": no plausible source exists among the candidates
- "unverifiable": cannot be judged from the available data

Return a JSON object with this exact shape:
{
  "batch_results": [
    {
      "pdf_value_id": "<id from the list above>",
      "pdf_value": "<the presentation value>",
      "pdf_context": "<what it means>",
      "validation_status": "matched|formatting_difference|mismatched|pdf_only|unverifiable",
      "excel_match": {"source_file": "...", "cell_reference": "...", "excel_value": "...", "match_confidence": <0.0-1.0>} or null,
      "confidence": <0.0-1.0>,
      "audit_reasoning": "<one sentence>"
    }
  ]
}

Include exactly one entry per presentation value.`

func buildBatchPrompt(batch []model.ExtractedValue) string {
	var b strings.Builder
	for _, v := range batch {
		fmt.Fprintf(&b, "- id=%s page=%d value=%q normalized=%q type=%s meaning=%q\n",
			v.ID, v.PageNumber, v.RawValue, v.NormalizedValue, v.DataType, v.BusinessContext.SemanticMeaning)
	}
	return fmt.Sprintf(batchPromptFmt, strings.TrimRight(b.String(), "\n"))
}

func buildCandidateBlock(candidates []model.SourceValue) string {
	var b strings.Builder
	b.WriteString("Candidate spreadsheet sources, one per line as file!cell | sheet | value | type | meaning | likelihood:\n")
	for _, s := range candidates {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s | %.2f\n",
			s.Key(), s.SourceSheet, s.Value, s.DataType, s.BusinessContext.SemanticMeaning, s.PresentationLikelihood)
	}
	return b.String()
}

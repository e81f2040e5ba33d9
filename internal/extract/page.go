package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deck-audit/internal/llmjson"
	"github.com/sells-group/deck-audit/internal/model"
	"github.com/sells-group/deck-audit/internal/raster"
	"github.com/sells-group/deck-audit/pkg/anthropic"
)

// PageExtractor runs vision extraction over every page of a presentation.
type PageExtractor struct {
	client anthropic.Client
	doc    raster.Document
	opts   Options
}

// NewPageExtractor creates a PageExtractor.
func NewPageExtractor(client anthropic.Client, doc raster.Document, opts Options) *PageExtractor {
	return &PageExtractor{client: client, doc: doc, opts: opts.withDefaults()}
}

// DocumentResult is the merged outcome of one document extraction.
type DocumentResult struct {
	Values []model.ExtractedValue
	Stats  model.DocumentStats
	Usage  model.TokenUsage
}

// ExtractDocument renders and extracts every page concurrently up to the
// configured ceiling. Individual page failures degrade to empty pages; a
// cancelled context still returns whatever pages completed.
func (e *PageExtractor) ExtractDocument(ctx context.Context, pdfPath string) (*DocumentResult, error) {
	info, err := e.doc.Info(ctx, pdfPath)
	if err != nil {
		return nil, err
	}

	res := &DocumentResult{}
	res.Stats.TotalPages = info.Pages
	res.Stats.ValuesByType = map[model.DataType]int{}

	if e.opts.Disabled {
		res.Stats.ProcessingError = "extraction disabled"
		return res, nil
	}

	system := anthropic.BuildCachedSystemBlocks(pageSystemText)

	// Warm the prompt cache once before fanning out, so concurrent page
	// workers read the cached system prompt instead of each writing it.
	if info.Pages > 1 {
		primer := anthropic.MessageRequest{
			Model:     e.opts.Model,
			MaxTokens: 16,
			System:    system,
			Messages:  []anthropic.Message{anthropic.TextMessage("user", "Reply with {} only.")},
		}
		if resp, perr := anthropic.PrimerRequest(ctx, e.client, primer); perr != nil {
			zap.L().Warn("extract: cache primer failed", zap.Error(perr))
		} else {
			res.Usage.Add(usageFrom(resp.Usage, e.opts.Model))
		}
	}

	pageValues := make([][]model.ExtractedValue, info.Pages)
	usages := make([]model.TokenUsage, info.Pages)
	failed := make([]bool, info.Pages)

	limiter := newLimiter(e.opts.UnitDelay)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)

	for p := 1; p <= info.Pages; p++ {
		g.Go(func() error {
			idx := p - 1

			if err := limiter.Wait(gCtx); err != nil {
				failed[idx] = true
				return nil
			}

			page, err := e.doc.RenderPage(gCtx, pdfPath, p, e.opts.Zoom)
			if err != nil {
				zap.L().Warn("extract: page render failed",
					zap.Int("page", p),
					zap.Error(err),
				)
				failed[idx] = true
				return nil
			}

			req := anthropic.MessageRequest{
				Model:     e.opts.Model,
				MaxTokens: e.opts.MaxTokens,
				System:    system,
				Messages: []anthropic.Message{
					anthropic.VisionMessage(buildPagePrompt(p), page.PNG),
				},
			}

			resp, err := callModel(gCtx, e.client, e.opts, req)
			if err != nil {
				zap.L().Warn("extract: page call failed",
					zap.Int("page", p),
					zap.Error(err),
				)
				failed[idx] = true
				return nil
			}
			usages[idx] = usageFrom(resp.Usage, e.opts.Model)

			payload := llmjson.DecodePage(resp.Text(), fmt.Sprintf("page_%d", p))
			if payload.Err != "" {
				failed[idx] = true
				return nil
			}

			pageValues[idx] = convertPageValues(payload.ExtractedValues, p)
			return nil
		})
	}
	_ = g.Wait()

	for idx := range pageValues {
		res.Values = append(res.Values, pageValues[idx]...)
		res.Usage.Add(usages[idx])
		if failed[idx] {
			res.Stats.PagesFailed++
		}
	}

	tallyDocStats(&res.Stats, res.Values)
	if ctx.Err() != nil {
		res.Stats.ProcessingError = "extraction cancelled before completion"
	}

	zap.L().Info("extract: document complete",
		zap.Int("pages", res.Stats.TotalPages),
		zap.Int("pages_failed", res.Stats.PagesFailed),
		zap.Int("values", res.Stats.TotalValues),
		zap.Float64("estimated_cost_usd", res.Usage.Cost),
	)
	return res, nil
}

// convertPageValues maps a decoded page payload onto domain values with
// document-unique IDs and normalized bounding boxes.
func convertPageValues(vals []llmjson.PageValue, page int) []model.ExtractedValue {
	out := make([]model.ExtractedValue, 0, len(vals))

	for i, v := range vals {
		id := fmt.Sprintf("p%d_v%d", page, i+1)
		if v.ID != "" {
			id = fmt.Sprintf("p%d_%s", page, v.ID)
		}

		ev := model.ExtractedValue{
			ID:              id,
			RawValue:        llmjson.String(v.Value),
			NormalizedValue: llmjson.String(v.NormalizedValue),
			DataType:        model.ParseDataType(v.DataType),
			PageNumber:      page,
			BoundingBox:     boxFrom(v.Coordinates),
			Confidence:      clamp01(llmjson.Float(v.Confidence)),
		}
		if v.BusinessContext != nil {
			ev.BusinessContext = model.BusinessContext{
				SemanticMeaning: v.BusinessContext.SemanticMeaning,
				Category:        v.BusinessContext.BusinessCategory,
			}
		}
		out = append(out, ev)
	}

	return out
}

// boxFrom converts model-supplied coordinates, substituting the default
// box when the payload is malformed or missing.
func boxFrom(c *llmjson.Coordinates) model.BoundingBox {
	if c == nil || len(c.BoundingBox) != 4 {
		return model.DefaultBoundingBox()
	}
	return model.BoundingBox{
		X1: llmjson.Float(c.BoundingBox[0]),
		Y1: llmjson.Float(c.BoundingBox[1]),
		X2: llmjson.Float(c.BoundingBox[2]),
		Y2: llmjson.Float(c.BoundingBox[3]),
	}.Clamp()
}

// tallyDocStats fills the per-type counts and mean confidence.
func tallyDocStats(stats *model.DocumentStats, values []model.ExtractedValue) {
	stats.TotalValues = len(values)

	var confSum float64
	for _, v := range values {
		stats.ValuesByType[v.DataType]++
		confSum += v.Confidence
	}
	if len(values) > 0 {
		stats.MeanConfidence = confSum / float64(len(values))
	}
}

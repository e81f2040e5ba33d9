package extract

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/deck-audit/internal/inventory"
	"github.com/sells-group/deck-audit/internal/llmjson"
	"github.com/sells-group/deck-audit/internal/model"
	"github.com/sells-group/deck-audit/internal/scorer"
	"github.com/sells-group/deck-audit/pkg/anthropic"
)

// CellAnalyzer judges workbook cells for presentation likelihood in
// bounded batches.
type CellAnalyzer struct {
	client    anthropic.Client
	opts      Options
	threshold int
}

// NewCellAnalyzer creates a CellAnalyzer. A non-positive threshold uses
// the scorer default.
func NewCellAnalyzer(client anthropic.Client, opts Options, threshold int) *CellAnalyzer {
	if threshold <= 0 {
		threshold = scorer.DefaultThreshold
	}
	return &CellAnalyzer{client: client, opts: opts.withDefaults(), threshold: threshold}
}

// SheetResult is the outcome of analyzing one sheet.
type SheetResult struct {
	Sources []model.SourceValue
	Stats   model.SheetStats
	Usage   model.TokenUsage
	Failed  bool // every batch degraded to the heuristic
}

// AnalyzeSheet scores and batches the sheet's cells, then judges each
// batch with the LLM. Batches that fail fall back to a formatting
// heuristic so the sheet always yields a result.
func (a *CellAnalyzer) AnalyzeSheet(ctx context.Context, file string, sheet inventory.SheetInventory) SheetResult {
	res := SheetResult{Stats: sheet.Stats}

	high, rest := scorer.Partition(sheet.Cells, a.threshold)
	ordered := append(high, rest...)
	if len(ordered) == 0 {
		return res
	}

	batches := chunkCells(ordered, a.opts.BatchSize)
	results := make([][]model.SourceValue, len(batches))
	usages := make([]model.TokenUsage, len(batches))
	degraded := make([]bool, len(batches))

	if a.opts.Disabled {
		for i, batch := range batches {
			results[i] = a.fallbackBatch(file, sheet.Name, batch)
			degraded[i] = true
		}
	} else {
		system := anthropic.BuildCachedSystemBlocks(cellSystemText)
		limiter := newLimiter(a.opts.UnitDelay)

		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(a.opts.Concurrency)

		for i, batch := range batches {
			g.Go(func() error {
				if err := limiter.Wait(gCtx); err != nil {
					results[i] = a.fallbackBatch(file, sheet.Name, batch)
					degraded[i] = true
					return nil
				}

				req := anthropic.MessageRequest{
					Model:     a.opts.Model,
					MaxTokens: a.opts.MaxTokens,
					System:    system,
					Messages: []anthropic.Message{
						anthropic.TextMessage("user", buildCellPrompt(sheet.Name, file, batch)),
					},
				}

				resp, err := callModel(gCtx, a.client, a.opts, req)
				if err != nil {
					zap.L().Warn("extract: cell batch call failed",
						zap.String("sheet", sheet.Name),
						zap.Int("batch", i+1),
						zap.Error(err),
					)
					results[i] = a.fallbackBatch(file, sheet.Name, batch)
					degraded[i] = true
					return nil
				}
				usages[i] = usageFrom(resp.Usage, a.opts.Model)

				payload := llmjson.DecodeCellBatch(resp.Text(), fmt.Sprintf("%s_batch_%d", sheet.Name, i+1))
				if payload.Err != "" {
					results[i] = a.fallbackBatch(file, sheet.Name, batch)
					degraded[i] = true
					return nil
				}

				results[i] = convertCellAnalyses(payload.BatchAnalysis, file, sheet.Name, batch, a.opts.MinLikelihood)
				return nil
			})
		}
		_ = g.Wait()
	}

	allDegraded := true
	for i := range results {
		res.Sources = append(res.Sources, results[i]...)
		res.Usage.Add(usages[i])
		if !degraded[i] {
			allDegraded = false
		}
	}
	res.Failed = allDegraded

	return res
}

// chunkCells splits cells into batches of at most size.
func chunkCells(cells []model.CellRecord, size int) [][]model.CellRecord {
	var out [][]model.CellRecord
	for len(cells) > size {
		out = append(out, cells[:size])
		cells = cells[size:]
	}
	if len(cells) > 0 {
		out = append(out, cells)
	}
	return out
}

// convertCellAnalyses maps model judgments back onto the batch's cells.
// Entries for unknown references are dropped; likelihood is clamped and
// filtered against the floor.
func convertCellAnalyses(analyses []llmjson.CellAnalysis, file, sheetName string, batch []model.CellRecord, floor float64) []model.SourceValue {
	byRef := make(map[string]model.CellRecord, len(batch))
	for _, c := range batch {
		byRef[c.Ref] = c
	}

	var out []model.SourceValue
	for _, an := range analyses {
		cell, ok := byRef[an.CellReference]
		if !ok {
			continue
		}

		likelihood := clamp01(llmjson.Float(an.PresentationLikelihood))
		if likelihood < floor {
			continue
		}

		value := llmjson.String(an.Value)
		if value == "" {
			value = cell.Text
		}

		out = append(out, model.SourceValue{
			CellReference:          an.CellReference,
			SourceSheet:            sheetName,
			SourceFile:             file,
			Value:                  value,
			DataType:               cellDataType(an.DataType, cell),
			BusinessContext:        model.BusinessContext{SemanticMeaning: an.BusinessContext, Category: an.ValueCategory},
			PresentationLikelihood: likelihood,
		})
	}

	return out
}

// fallbackBatch produces heuristic judgments when the LLM is unavailable:
// the importance score stands in for likelihood, scaled into [0,1].
func (a *CellAnalyzer) fallbackBatch(file, sheetName string, batch []model.CellRecord) []model.SourceValue {
	var out []model.SourceValue
	for _, cell := range batch {
		likelihood := float64(scorer.Score(cell)) / 10
		if likelihood > 0.9 {
			likelihood = 0.9
		}
		if likelihood < a.opts.MinLikelihood {
			continue
		}

		out = append(out, model.SourceValue{
			CellReference:          cell.Ref,
			SourceSheet:            sheetName,
			SourceFile:             file,
			Value:                  cell.Text,
			DataType:               cellDataType("", cell),
			BusinessContext:        model.BusinessContext{SemanticMeaning: "formatting heuristic", Category: "financial"},
			PresentationLikelihood: likelihood,
		})
	}
	return out
}

// cellDataType prefers the model's label and falls back to the cell's own
// format hints.
func cellDataType(label string, cell model.CellRecord) model.DataType {
	if dt := model.ParseDataType(label); dt != model.DataTypeUnknown {
		return dt
	}
	switch {
	case cell.IsCurrency:
		return model.DataTypeCurrency
	case cell.IsPercent:
		return model.DataTypePercentage
	case cell.Kind == model.CellKindDate:
		return model.DataTypeDate
	case cell.Kind == model.CellKindNumeric:
		return model.DataTypeMetric
	default:
		return model.DataTypeUnknown
	}
}

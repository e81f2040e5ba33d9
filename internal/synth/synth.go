// Package synth merges per-unit extraction results into session-level
// collections and quality metrics. Failed units contribute nothing to the
// merge beyond their error counters.
package synth

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sells-group/deck-audit/internal/extract"
	"github.com/sells-group/deck-audit/internal/model"
)

// WorkbookResult is the merged outcome of analyzing one or more sheets.
type WorkbookResult struct {
	Sources    []model.SourceValue
	SheetStats []model.SheetStats
	Stats      model.WorkbookStats
	Usage      model.TokenUsage
}

// Workbook merges per-sheet results: duplicate cells keep the higher
// likelihood judgment, and the merged list is sorted by likelihood
// descending so the audit engine samples the most relevant sources first.
func Workbook(totalSheets, skippedSheets int, results []extract.SheetResult) *WorkbookResult {
	out := &WorkbookResult{}
	out.Stats.TotalSheets = totalSheets
	out.Stats.SheetsSkipped = skippedSheets
	out.Stats.ProcessedSheets = len(results)
	out.Stats.ByCategory = map[string]int{}

	byKey := map[string]model.SourceValue{}
	for _, r := range results {
		out.SheetStats = append(out.SheetStats, r.Stats)
		out.Usage.Add(r.Usage)
		if r.Failed {
			out.Stats.ProcessingErrors++
		}
		for _, s := range r.Sources {
			if prev, ok := byKey[s.Key()]; ok && prev.PresentationLikelihood >= s.PresentationLikelihood {
				continue
			}
			byKey[s.Key()] = s
		}
	}

	out.Sources = make([]model.SourceValue, 0, len(byKey))
	for _, s := range byKey {
		out.Sources = append(out.Sources, s)
	}
	sort.Slice(out.Sources, func(i, j int) bool {
		if out.Sources[i].PresentationLikelihood != out.Sources[j].PresentationLikelihood {
			return out.Sources[i].PresentationLikelihood > out.Sources[j].PresentationLikelihood
		}
		return out.Sources[i].Key() < out.Sources[j].Key()
	})

	for _, s := range out.Sources {
		out.Stats.TotalSources++
		switch {
		case s.PresentationLikelihood >= 0.7:
			out.Stats.HighLikelihood++
		case s.PresentationLikelihood >= 0.4:
			out.Stats.MediumLikelihood++
		}
		if cat := s.BusinessContext.Category; cat != "" {
			out.Stats.ByCategory[cat]++
		}
	}

	return out
}

// PDFSession wraps a document extraction into a persistable session.
func PDFSession(filename string, res *extract.DocumentResult) *model.ExtractionSession {
	return &model.ExtractionSession{
		ID:         uuid.NewString(),
		Kind:       model.SessionKindPDF,
		Filename:   filename,
		Values:     res.Values,
		DocStats:   &res.Stats,
		TokenUsage: res.Usage,
		CreatedAt:  time.Now().UTC(),
	}
}

// ExcelSession wraps a workbook analysis into a persistable session.
func ExcelSession(filename string, res *WorkbookResult) *model.ExtractionSession {
	return &model.ExtractionSession{
		ID:            uuid.NewString(),
		Kind:          model.SessionKindExcel,
		Filename:      filename,
		Sources:       res.Sources,
		WorkbookStats: &res.Stats,
		SheetStats:    res.SheetStats,
		TokenUsage:    res.Usage,
		CreatedAt:     time.Now().UTC(),
	}
}

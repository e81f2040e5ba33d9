// Package scorer ranks spreadsheet cells by how likely they are to feed a
// presentation. Scoring is deterministic and purely local to the cell, so
// large sheets can be triaged before any LLM call is made.
package scorer

import (
	"math"
	"sort"
	"strings"

	"github.com/sells-group/deck-audit/internal/model"
)

// DefaultThreshold is the score at or above which a cell is considered
// high priority.
const DefaultThreshold = 5

// Score computes the presentation-likelihood score for a single cell.
// Higher scores mean the cell looks more like a headline figure: large
// round magnitudes, emphasis formatting, aggregate formulas, and placement
// near the sheet's top-left corner all add weight.
func Score(c model.CellRecord) int {
	score := 0

	if c.Kind == model.CellKindNumeric {
		abs := math.Abs(c.Number)
		switch {
		case abs >= 1_000_000:
			score += 4
		case abs >= 100_000:
			score += 3
		case abs >= 10_000:
			score += 2
		case abs >= 1_000:
			score++
		}
		if abs >= 1_000 && math.Mod(c.Number, 1_000) == 0 {
			score += 2
		}
	}

	if c.Bold {
		score += 3
	}
	if c.FontSize > 12 {
		score++
	}
	if c.IsCurrency {
		score += 2
	}
	if c.IsPercent {
		score += 2
	}
	if c.HasBorders {
		score++
	}
	if c.HasFill {
		score++
	}

	if c.Formula != "" {
		upper := strings.ToUpper(c.Formula)
		if strings.Contains(upper, "SUM") || strings.Contains(upper, "AVERAGE") {
			score++
		}
		if len(c.Formula) > 20 {
			score += 2
		}
	}

	if c.Row <= 3 && c.Col <= 3 {
		score++
	}

	return score
}

// Partition splits cells into high-priority and remaining groups. Cells
// scoring at or above threshold land in the first group, sorted by score
// descending; ties keep their sheet order. The second group preserves
// sheet order untouched so the caller can still walk it positionally.
func Partition(cells []model.CellRecord, threshold int) (high, rest []model.CellRecord) {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	type scored struct {
		cell  model.CellRecord
		score int
	}
	var ranked []scored

	for _, c := range cells {
		s := Score(c)
		if s >= threshold {
			ranked = append(ranked, scored{cell: c, score: s})
		} else {
			rest = append(rest, c)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})
	for _, r := range ranked {
		high = append(high, r.cell)
	}

	return high, rest
}

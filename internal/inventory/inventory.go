// Package inventory walks workbook sheets into flat cell records with the
// formatting hints downstream prioritization needs. Walking is bounded by
// configurable row/column/sheet ceilings so pathological workbooks cannot
// blow up prompt sizes or memory.
package inventory

import (
	"math"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/deck-audit/internal/model"
)

// Limits bounds how much of a workbook is walked.
type Limits struct {
	MaxRows   int
	MaxCols   int
	MaxSheets int
}

// DefaultLimits returns the standard walking ceilings.
func DefaultLimits() Limits {
	return Limits{MaxRows: 1000, MaxCols: 100, MaxSheets: 50}
}

// SheetInventory is the walked contents of one sheet.
type SheetInventory struct {
	Name  string
	Cells []model.CellRecord
	Stats model.SheetStats
}

// WorkbookInventory is the walked contents of one workbook file.
type WorkbookInventory struct {
	Filename string
	Sheets   []SheetInventory
	Skipped  int // sheets beyond the MaxSheets ceiling
}

// Open reads the workbook at path and walks every sheet up to the limits.
func Open(path string, limits Limits) (*WorkbookInventory, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "inventory: open workbook %s", filepath.Base(path))
	}
	return FromFile(f, filepath.Base(path), limits), nil
}

// FromFile walks an already-opened workbook.
func FromFile(f *xlsx.File, filename string, limits Limits) *WorkbookInventory {
	if limits.MaxRows <= 0 || limits.MaxCols <= 0 || limits.MaxSheets <= 0 {
		limits = DefaultLimits()
	}

	inv := &WorkbookInventory{Filename: filename}

	for i, sheet := range f.Sheets {
		if i >= limits.MaxSheets {
			inv.Skipped = len(f.Sheets) - limits.MaxSheets
			zap.L().Warn("inventory: sheet ceiling reached",
				zap.String("file", filename),
				zap.Int("sheets", len(f.Sheets)),
				zap.Int("max_sheets", limits.MaxSheets),
			)
			break
		}
		inv.Sheets = append(inv.Sheets, walkSheet(sheet, limits))
	}

	return inv
}

// walkSheet collects every populated cell within the row/column window.
// A failure on one cell increments the error tally and moves on; it never
// aborts the sheet.
func walkSheet(sheet *xlsx.Sheet, limits Limits) SheetInventory {
	si := SheetInventory{Name: sheet.Name}
	si.Stats.SheetName = sheet.Name
	si.Stats.ActualRows = len(sheet.Rows)
	si.Stats.ActualCols = sheet.MaxCol

	rows := len(sheet.Rows)
	if rows > limits.MaxRows {
		rows = limits.MaxRows
	}
	si.Stats.ScannedRows = rows

	for r := 0; r < rows; r++ {
		row := sheet.Rows[r]

		cols := len(row.Cells)
		if cols > limits.MaxCols {
			cols = limits.MaxCols
		}
		if cols > si.Stats.ScannedCols {
			si.Stats.ScannedCols = cols
		}

		for c := 0; c < cols; c++ {
			rec, ok := readCell(row.Cells[c], r, c, &si.Stats)
			if !ok {
				continue
			}
			si.Cells = append(si.Cells, rec)
			si.Stats.TotalCells++
			switch rec.Kind {
			case model.CellKindNumeric:
				si.Stats.NumericCells++
			case model.CellKindText, model.CellKindDate, model.CellKindBool:
				si.Stats.TextCells++
			}
			if rec.Formula != "" {
				si.Stats.FormulaCells++
			}
		}
	}

	return si
}

// readCell converts one cell into a record. Empty cells return ok=false
// without touching the error tally; cells that blow up while being read
// are tallied and skipped.
func readCell(cell *xlsx.Cell, row, col int, stats *model.SheetStats) (rec model.CellRecord, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			stats.CellErrors++
			ok = false
		}
	}()

	formula := cell.Formula()
	if cell.Value == "" && formula == "" {
		return model.CellRecord{}, false
	}

	rec = model.CellRecord{
		Ref:     xlsx.GetCellIDStringFromCoords(col, row),
		Row:     row + 1,
		Col:     col + 1,
		Text:    cell.Value,
		Formula: formula,
	}

	switch cell.Type() {
	case xlsx.CellTypeNumeric:
		n, err := cell.Float()
		if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
			if cell.Value != "" {
				stats.CellErrors++
			}
			rec.Kind = model.CellKindText
		} else {
			rec.Kind = model.CellKindNumeric
			rec.Number = n
		}
	case xlsx.CellTypeBool:
		rec.Kind = model.CellKindBool
	case xlsx.CellTypeDate:
		rec.Kind = model.CellKindDate
	default:
		rec.Kind = model.CellKindText
	}

	rec.NumberFormat = cell.GetNumberFormat()
	rec.IsCurrency = isCurrencyFormat(rec.NumberFormat)
	rec.IsPercent = strings.Contains(rec.NumberFormat, "%")

	if st := cell.GetStyle(); st != nil {
		rec.Bold = st.Font.Bold
		rec.FontSize = float64(st.Font.Size)
		rec.HasBorders = st.ApplyBorder && hasAnyBorder(st.Border)
		rec.HasFill = st.ApplyFill && st.Fill.PatternType != "" && st.Fill.PatternType != "none"
	}

	return rec, true
}

func isCurrencyFormat(format string) bool {
	if strings.ContainsAny(format, "$€£¥") {
		return true
	}
	return strings.Contains(strings.ToLower(format), "currency")
}

func hasAnyBorder(b xlsx.Border) bool {
	return b.Left != "" || b.Right != "" || b.Top != "" || b.Bottom != ""
}

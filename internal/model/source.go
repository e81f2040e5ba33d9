package model

// CellKind is the coarse type of a spreadsheet cell's content.
type CellKind string

const (
	CellKindNumeric CellKind = "numeric"
	CellKindText    CellKind = "text"
	CellKindDate    CellKind = "date"
	CellKindBool    CellKind = "bool"
)

// CellRecord is one populated spreadsheet cell with the formatting hints the
// importance scorer and the cell-batch prompts need.
type CellRecord struct {
	Ref          string   `json:"cell_ref"` // e.g. "B5"
	Row          int      `json:"row"`      // 1-based
	Col          int      `json:"col"`      // 1-based
	Kind         CellKind `json:"kind"`
	Number       float64  `json:"number,omitempty"` // set when Kind == numeric
	Text         string   `json:"text,omitempty"`   // display text for all kinds
	NumberFormat string   `json:"number_format,omitempty"`
	IsCurrency   bool     `json:"is_currency,omitempty"`
	IsPercent    bool     `json:"is_percent,omitempty"`
	Bold         bool     `json:"bold,omitempty"`
	FontSize     float64  `json:"font_size,omitempty"`
	HasBorders   bool     `json:"has_borders,omitempty"`
	HasFill      bool     `json:"has_fill,omitempty"`
	Formula      string   `json:"formula,omitempty"` // formula text; Number/Text hold the computed value
}

// SourceValue is one spreadsheet datum that presentation values can be
// audited against. Identity within a workbook is (SourceFile, CellReference).
type SourceValue struct {
	CellReference          string          `json:"cell_reference"`
	SourceSheet            string          `json:"source_sheet"`
	SourceFile             string          `json:"source_file"`
	Value                  string          `json:"value"`
	DataType               DataType        `json:"data_type"`
	BusinessContext        BusinessContext `json:"business_context"`
	PresentationLikelihood float64         `json:"presentation_likelihood"`
	UserModified           bool            `json:"user_modified"`
}

// Key returns the natural identity of a source value within a workbook.
func (s SourceValue) Key() string {
	return s.SourceFile + "!" + s.CellReference
}

// SheetStats counts what the cell inventory found on one sheet.
type SheetStats struct {
	SheetName    string `json:"sheet_name"`
	TotalCells   int    `json:"total_cells"`
	NumericCells int    `json:"numeric_cells"`
	TextCells    int    `json:"text_cells"`
	FormulaCells int    `json:"formula_cells"`
	CellErrors   int    `json:"cell_errors"`
	ActualRows   int    `json:"actual_rows"`
	ActualCols   int    `json:"actual_cols"`
	ScannedRows  int    `json:"scanned_rows"`
	ScannedCols  int    `json:"scanned_cols"`
}

// WorkbookStats summarizes a whole workbook analysis.
type WorkbookStats struct {
	TotalSheets      int            `json:"total_sheets"`
	ProcessedSheets  int            `json:"processed_sheets"`
	SheetsSkipped    int            `json:"sheets_skipped"`
	ProcessingErrors int            `json:"processing_errors"`
	TotalSources     int            `json:"total_sources"`
	HighLikelihood   int            `json:"high_likelihood_sources"`   // >= 0.7
	MediumLikelihood int            `json:"medium_likelihood_sources"` // [0.4, 0.7)
	ByCategory       map[string]int `json:"category_breakdown"`
}

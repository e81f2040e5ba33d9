package model

// ValidationStatus is the verdict for one presentation value.
type ValidationStatus string

const (
	StatusMatched        ValidationStatus = "matched"
	StatusMismatched     ValidationStatus = "mismatched"
	StatusFormattingDiff ValidationStatus = "formatting_difference"
	StatusUnverifiable   ValidationStatus = "unverifiable"
	StatusPDFOnly        ValidationStatus = "pdf_only"
)

// ParseValidationStatus maps a free-text status from the model onto a
// ValidationStatus, falling back to unverifiable.
func ParseValidationStatus(s string) ValidationStatus {
	switch ValidationStatus(s) {
	case StatusMatched, StatusMismatched, StatusFormattingDiff,
		StatusUnverifiable, StatusPDFOnly:
		return ValidationStatus(s)
	default:
		return StatusUnverifiable
	}
}

// ExcelMatch identifies the spreadsheet cell an audit verdict refers to.
type ExcelMatch struct {
	SourceFile      string  `json:"source_file"`
	CellReference   string  `json:"cell_reference"`
	ExcelValue      string  `json:"excel_value"`
	MatchConfidence float64 `json:"match_confidence"`
}

// AuditResult is the verdict for one ExtractedValue. Every value submitted
// to the audit engine yields exactly one result; failures degrade to
// unverifiable rather than being dropped.
type AuditResult struct {
	PDFValueID       string           `json:"pdf_value_id"`
	PDFValue         string           `json:"pdf_value"`
	PDFContext       string           `json:"pdf_context,omitempty"`
	ValidationStatus ValidationStatus `json:"validation_status"`
	ExcelMatch       *ExcelMatch      `json:"excel_match,omitempty"` // nil iff status == pdf_only or unverifiable without a candidate
	Confidence       float64          `json:"confidence"`
	AuditReasoning   string           `json:"audit_reasoning"`
	BatchNumber      int              `json:"batch_number"`
}

// RiskLevel tiers the audit outcome.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// AuditSummary aggregates all AuditResults of a session.
type AuditSummary struct {
	TotalValuesChecked    int       `json:"total_values_checked"`
	Matched               int       `json:"matched"`
	Mismatched            int       `json:"mismatched"`
	FormattingDifferences int       `json:"formatting_differences"`
	Unverifiable          int       `json:"unverifiable"`
	PDFOnly               int       `json:"pdf_only"`
	OverallAccuracy       float64   `json:"overall_accuracy"`
	RiskAssessment        RiskLevel `json:"risk_assessment"`
}

// AuditReport is the full output of an audit run: summary, one verdict per
// presentation value, and human-readable recommendations.
type AuditReport struct {
	Summary         AuditSummary  `json:"summary"`
	Results         []AuditResult `json:"detailed_results"`
	Recommendations []string      `json:"recommendations"`
	TokenUsage      TokenUsage    `json:"token_usage"`
}

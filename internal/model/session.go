package model

import "time"

// SessionKind distinguishes the two extraction session flavors.
type SessionKind string

const (
	SessionKindPDF   SessionKind = "pdf"
	SessionKindExcel SessionKind = "excel"
)

// AuditStatus is the lifecycle state of an audit session.
type AuditStatus string

const (
	AuditStatusPending    AuditStatus = "pending"
	AuditStatusInProgress AuditStatus = "in_progress"
	AuditStatusCompleted  AuditStatus = "completed"
	AuditStatusFailed     AuditStatus = "failed"
)

// ExtractionSession is one persisted extraction run over a single file.
// PDF sessions carry Values and DocStats; Excel sessions carry Sources,
// WorkbookStats, and per-sheet stats.
type ExtractionSession struct {
	ID            string           `json:"id"`
	Kind          SessionKind      `json:"kind"`
	Filename      string           `json:"filename"`
	Values        []ExtractedValue `json:"values,omitempty"`
	Sources       []SourceValue    `json:"sources,omitempty"`
	DocStats      *DocumentStats   `json:"doc_stats,omitempty"`
	WorkbookStats *WorkbookStats   `json:"workbook_stats,omitempty"`
	SheetStats    []SheetStats     `json:"sheet_stats,omitempty"`
	TokenUsage    TokenUsage       `json:"token_usage"`
	CreatedAt     time.Time        `json:"created_at"`
}

// AuditSession ties one PDF extraction session to one or more Excel
// extraction sessions and holds the resulting report once completed.
type AuditSession struct {
	ID              string       `json:"id"`
	PDFSessionID    string       `json:"pdf_session_id"`
	ExcelSessionIDs []string     `json:"excel_session_ids"`
	Status          AuditStatus  `json:"status"`
	Report          *AuditReport `json:"report,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

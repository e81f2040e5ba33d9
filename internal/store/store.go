// Package store persists extraction and audit sessions behind a backend
// neutral interface, with SQLite for local runs and Postgres for shared
// deployments.
package store

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"

	"github.com/sells-group/deck-audit/internal/model"
)

// ErrNotFound tags lookups and updates that matched nothing.
var ErrNotFound = eris.New("not found")

// IsNotFound reports whether err stems from a missing row.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// SessionFilter specifies criteria for listing extraction sessions.
type SessionFilter struct {
	Kind   model.SessionKind `json:"kind,omitempty"`
	Limit  int               `json:"limit,omitempty"`
	Offset int               `json:"offset,omitempty"`
}

// Store defines the persistence interface for the audit pipeline.
type Store interface {
	// Extraction sessions
	SaveExtractionSession(ctx context.Context, session *model.ExtractionSession) error
	GetExtractionSession(ctx context.Context, id string) (*model.ExtractionSession, error)
	ListExtractionSessions(ctx context.Context, filter SessionFilter) ([]model.ExtractionSession, error)

	// Reviewer edits. All three are atomic single-statement updates keyed by
	// the value's identity, so two quick edits to the same value cannot
	// interleave field-by-field; the stored value is marked user_modified.
	// PatchExtractedValue merges only the patch's set fields into the stored
	// payload and returns the value after the merge.
	UpdateExtractedValue(ctx context.Context, sessionID string, value model.ExtractedValue) error
	UpdateSourceValue(ctx context.Context, sessionID string, value model.SourceValue) error
	PatchExtractedValue(ctx context.Context, sessionID, valueID string, patch model.ValuePatch) (*model.ExtractedValue, error)

	// Audit sessions
	CreateAuditSession(ctx context.Context, pdfSessionID string, excelSessionIDs []string) (*model.AuditSession, error)
	UpdateAuditStatus(ctx context.Context, id string, status model.AuditStatus) error
	CompleteAuditSession(ctx context.Context, id string, report *model.AuditReport) error
	GetAuditSession(ctx context.Context, id string) (*model.AuditSession, error)
	ListAuditSessions(ctx context.Context, limit int) ([]model.AuditSession, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

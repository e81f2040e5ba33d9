package store

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deck-audit/internal/model"
)

func newTestPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return newPostgresWithPool(mock), mock
}

func TestPostgresStore_SaveExtractionSessionUsesCopy(t *testing.T) {
	s, mock := newTestPostgresStore(t)
	sess := pdfSession()

	mock.ExpectExec("INSERT INTO extraction_sessions").
		WithArgs(sess.ID, "pdf", "deck.pdf",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), sess.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"extracted_values"},
		[]string{"session_id", "value_id", "ord", "payload"}).
		WillReturnResult(2)

	require.NoError(t, s.SaveExtractionSession(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveExcelSessionCopiesSources(t *testing.T) {
	s, mock := newTestPostgresStore(t)
	sess := excelSession()

	mock.ExpectExec("INSERT INTO extraction_sessions").
		WithArgs(sess.ID, "excel", "model.xlsx",
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), sess.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCopyFrom(pgx.Identifier{"source_values"},
		[]string{"session_id", "source_file", "cell_reference", "ord", "payload"}).
		WillReturnResult(2)

	require.NoError(t, s.SaveExtractionSession(context.Background(), sess))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetExtractionSession(t *testing.T) {
	s, mock := newTestPostgresStore(t)
	sess := pdfSession()

	sessionCols := []string{"id", "kind", "filename", "doc_stats", "workbook_stats", "sheet_stats", "token_usage", "created_at"}
	mock.ExpectQuery("SELECT id, kind, filename").
		WithArgs(sess.ID).
		WillReturnRows(pgxmock.NewRows(sessionCols).
			AddRow(sess.ID, "pdf", "deck.pdf",
				`{"total_pages":2}`, nil, nil, `{"input_tokens":1000}`, sess.CreatedAt))
	mock.ExpectQuery("SELECT payload FROM extracted_values").
		WithArgs(sess.ID).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).
			AddRow(`{"id":"p1_v1","raw_value":"$1.2M"}`).
			AddRow(`{"id":"p2_v1","raw_value":"23%"}`))
	mock.ExpectQuery("SELECT payload FROM source_values").
		WithArgs(sess.ID).
		WillReturnRows(pgxmock.NewRows([]string{"payload"}))

	got, err := s.GetExtractionSession(context.Background(), sess.ID)
	require.NoError(t, err)

	assert.Equal(t, model.SessionKindPDF, got.Kind)
	require.NotNil(t, got.DocStats)
	assert.Equal(t, 2, got.DocStats.TotalPages)
	assert.Nil(t, got.WorkbookStats)
	require.Len(t, got.Values, 2)
	assert.Equal(t, "p1_v1", got.Values[0].ID)
	assert.Empty(t, got.Sources)
	assert.Equal(t, 1000, got.TokenUsage.InputTokens)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetMissingSession(t *testing.T) {
	s, mock := newTestPostgresStore(t)

	mock.ExpectQuery("SELECT id, kind, filename").
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetExtractionSession(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestPostgresStore_UpdateExtractedValueNotFound(t *testing.T) {
	s, mock := newTestPostgresStore(t)

	mock.ExpectExec("UPDATE extracted_values SET payload").
		WithArgs(pgxmock.AnyArg(), "sess-1", "ghost").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.UpdateExtractedValue(context.Background(), "sess-1", model.ExtractedValue{ID: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestPostgresStore_PatchExtractedValueSingleStatement(t *testing.T) {
	s, mock := newTestPostgresStore(t)

	normalized := "1250000"
	mock.ExpectQuery("UPDATE extracted_values SET payload = jsonb_set").
		WithArgs("1250000", "sess-1", "p1_v1").
		WillReturnRows(pgxmock.NewRows([]string{"payload"}).
			AddRow(`{"id":"p1_v1","raw_value":"$1.2M","normalized_value":"1250000","user_modified":true}`))

	updated, err := s.PatchExtractedValue(context.Background(), "sess-1", "p1_v1",
		model.ValuePatch{NormalizedValue: &normalized})
	require.NoError(t, err)

	assert.Equal(t, "1250000", updated.NormalizedValue)
	assert.Equal(t, "$1.2M", updated.RawValue)
	assert.True(t, updated.UserModified)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_PatchExtractedValueNotFound(t *testing.T) {
	s, mock := newTestPostgresStore(t)

	meaning := "FY25 revenue"
	mock.ExpectQuery("UPDATE extracted_values SET payload = jsonb_set").
		WithArgs("FY25 revenue", "sess-1", "ghost").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.PatchExtractedValue(context.Background(), "sess-1", "ghost",
		model.ValuePatch{SemanticMeaning: &meaning})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestPostgresStore_AuditSessionLifecycle(t *testing.T) {
	s, mock := newTestPostgresStore(t)
	ctx := context.Background()

	mock.ExpectExec("INSERT INTO audit_sessions").
		WithArgs(pgxmock.AnyArg(), "pdf-1", `["xl-1","xl-2"]`, "pending", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	audit, err := s.CreateAuditSession(ctx, "pdf-1", []string{"xl-1", "xl-2"})
	require.NoError(t, err)
	assert.Equal(t, model.AuditStatusPending, audit.Status)
	assert.Equal(t, []string{"xl-1", "xl-2"}, audit.ExcelSessionIDs)

	mock.ExpectExec("UPDATE audit_sessions SET status").
		WithArgs("in_progress", audit.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, s.UpdateAuditStatus(ctx, audit.ID, model.AuditStatusInProgress))

	mock.ExpectExec("UPDATE audit_sessions SET status").
		WithArgs("completed", pgxmock.AnyArg(), pgxmock.AnyArg(), audit.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	report := &model.AuditReport{
		Summary: model.AuditSummary{TotalValuesChecked: 2, Matched: 2, OverallAccuracy: 100, RiskAssessment: model.RiskLow},
	}
	require.NoError(t, s.CompleteAuditSession(ctx, audit.ID, report))

	assert.NoError(t, mock.ExpectationsWereMet())
}

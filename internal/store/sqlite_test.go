package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deck-audit/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func pdfSession() *model.ExtractionSession {
	return &model.ExtractionSession{
		ID:       uuid.New().String(),
		Kind:     model.SessionKindPDF,
		Filename: "deck.pdf",
		Values: []model.ExtractedValue{
			{
				ID:              "p1_v1",
				RawValue:        "$1.2M",
				NormalizedValue: "1200000",
				DataType:        model.DataTypeCurrency,
				PageNumber:      1,
				BoundingBox:     model.BoundingBox{X1: 0.1, Y1: 0.2, X2: 0.3, Y2: 0.25},
				BusinessContext: model.BusinessContext{SemanticMeaning: "Q3 revenue", Category: "revenue"},
				Confidence:      0.95,
			},
			{
				ID:              "p2_v1",
				RawValue:        "23%",
				NormalizedValue: "0.23",
				DataType:        model.DataTypePercentage,
				PageNumber:      2,
				Confidence:      0.9,
			},
		},
		DocStats: &model.DocumentStats{
			TotalPages:   2,
			TotalValues:  2,
			ValuesByType: map[model.DataType]int{model.DataTypeCurrency: 1, model.DataTypePercentage: 1},
		},
		TokenUsage: model.TokenUsage{InputTokens: 1000, OutputTokens: 200, Cost: 0.01},
		CreatedAt:  time.Now().UTC().Truncate(time.Second),
	}
}

func excelSession() *model.ExtractionSession {
	return &model.ExtractionSession{
		ID:       uuid.New().String(),
		Kind:     model.SessionKindExcel,
		Filename: "model.xlsx",
		Sources: []model.SourceValue{
			{
				CellReference:          "B2",
				SourceSheet:            "Summary",
				SourceFile:             "model.xlsx",
				Value:                  "1200000",
				DataType:               model.DataTypeCurrency,
				PresentationLikelihood: 0.9,
			},
			{
				CellReference:          "C7",
				SourceSheet:            "Summary",
				SourceFile:             "model.xlsx",
				Value:                  "0.23",
				DataType:               model.DataTypePercentage,
				PresentationLikelihood: 0.6,
			},
		},
		WorkbookStats: &model.WorkbookStats{TotalSheets: 1, ProcessedSheets: 1, TotalSources: 2},
		SheetStats:    []model.SheetStats{{SheetName: "Summary", TotalCells: 40, NumericCells: 30}},
		TokenUsage:    model.TokenUsage{InputTokens: 500, OutputTokens: 100},
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func TestSQLiteStore_SaveAndGetPDFSession(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := pdfSession()
	require.NoError(t, s.SaveExtractionSession(ctx, sess))

	got, err := s.GetExtractionSession(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, model.SessionKindPDF, got.Kind)
	assert.Equal(t, "deck.pdf", got.Filename)
	require.Len(t, got.Values, 2)
	assert.Equal(t, "p1_v1", got.Values[0].ID, "values come back in extraction order")
	assert.Equal(t, "p2_v1", got.Values[1].ID)
	assert.Equal(t, model.DataTypeCurrency, got.Values[0].DataType)
	assert.InDelta(t, 0.95, got.Values[0].Confidence, 0.0001)
	require.NotNil(t, got.DocStats)
	assert.Equal(t, 2, got.DocStats.TotalPages)
	assert.Equal(t, 1, got.DocStats.ValuesByType[model.DataTypePercentage])
	assert.Nil(t, got.WorkbookStats)
	assert.Equal(t, 1000, got.TokenUsage.InputTokens)
}

func TestSQLiteStore_SaveAndGetExcelSession(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := excelSession()
	require.NoError(t, s.SaveExtractionSession(ctx, sess))

	got, err := s.GetExtractionSession(ctx, sess.ID)
	require.NoError(t, err)

	assert.Equal(t, model.SessionKindExcel, got.Kind)
	require.Len(t, got.Sources, 2)
	assert.Equal(t, "model.xlsx!B2", got.Sources[0].Key())
	assert.Empty(t, got.Values)
	assert.Nil(t, got.DocStats)
	require.NotNil(t, got.WorkbookStats)
	assert.Equal(t, 2, got.WorkbookStats.TotalSources)
	require.Len(t, got.SheetStats, 1)
	assert.Equal(t, "Summary", got.SheetStats[0].SheetName)
}

func TestSQLiteStore_GetMissingSession(t *testing.T) {
	s := newTestSQLiteStore(t)

	_, err := s.GetExtractionSession(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestSQLiteStore_ListSessionsFiltersByKind(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	pdf := pdfSession()
	excel := excelSession()
	require.NoError(t, s.SaveExtractionSession(ctx, pdf))
	require.NoError(t, s.SaveExtractionSession(ctx, excel))

	all, err := s.ListExtractionSessions(ctx, SessionFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pdfs, err := s.ListExtractionSessions(ctx, SessionFilter{Kind: model.SessionKindPDF})
	require.NoError(t, err)
	require.Len(t, pdfs, 1)
	assert.Equal(t, pdf.ID, pdfs[0].ID)

	limited, err := s.ListExtractionSessions(ctx, SessionFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSQLiteStore_UpdateExtractedValue(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := pdfSession()
	require.NoError(t, s.SaveExtractionSession(ctx, sess))

	edited := sess.Values[0]
	edited.NormalizedValue = "1250000"
	require.NoError(t, s.UpdateExtractedValue(ctx, sess.ID, edited))

	got, err := s.GetExtractionSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "1250000", got.Values[0].NormalizedValue)
	assert.True(t, got.Values[0].UserModified, "reviewer edits are flagged")
	assert.False(t, got.Values[1].UserModified)
}

func TestSQLiteStore_UpdateExtractedValueNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := pdfSession()
	require.NoError(t, s.SaveExtractionSession(ctx, sess))

	err := s.UpdateExtractedValue(ctx, sess.ID, model.ExtractedValue{ID: "ghost"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteStore_PatchExtractedValueMergesSequentialEdits(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := pdfSession()
	require.NoError(t, s.SaveExtractionSession(ctx, sess))

	normalized := "1250000"
	_, err := s.PatchExtractedValue(ctx, sess.ID, "p1_v1", model.ValuePatch{NormalizedValue: &normalized})
	require.NoError(t, err)

	meaning := "FY25 revenue"
	updated, err := s.PatchExtractedValue(ctx, sess.ID, "p1_v1", model.ValuePatch{SemanticMeaning: &meaning})
	require.NoError(t, err)

	assert.Equal(t, "1250000", updated.NormalizedValue, "the first edit survives the second")
	assert.Equal(t, "FY25 revenue", updated.BusinessContext.SemanticMeaning)
	assert.Equal(t, "$1.2M", updated.RawValue, "unpatched fields are untouched")
	assert.True(t, updated.UserModified)

	got, err := s.GetExtractionSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "1250000", got.Values[0].NormalizedValue)
	assert.Equal(t, "FY25 revenue", got.Values[0].BusinessContext.SemanticMeaning)
	assert.False(t, got.Values[1].UserModified)
}

func TestSQLiteStore_PatchExtractedValueNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := pdfSession()
	require.NoError(t, s.SaveExtractionSession(ctx, sess))

	raw := "$9M"
	_, err := s.PatchExtractedValue(ctx, sess.ID, "ghost", model.ValuePatch{RawValue: &raw})
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_UpdateSourceValue(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	sess := excelSession()
	require.NoError(t, s.SaveExtractionSession(ctx, sess))

	edited := sess.Sources[1]
	edited.PresentationLikelihood = 0.95
	require.NoError(t, s.UpdateSourceValue(ctx, sess.ID, edited))

	got, err := s.GetExtractionSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, got.Sources[1].PresentationLikelihood, 0.0001)
	assert.True(t, got.Sources[1].UserModified)
}

func TestSQLiteStore_AuditSessionLifecycle(t *testing.T) {
	s := newTestSQLiteStore(t)
	ctx := context.Background()

	pdf := pdfSession()
	excel := excelSession()
	require.NoError(t, s.SaveExtractionSession(ctx, pdf))
	require.NoError(t, s.SaveExtractionSession(ctx, excel))

	audit, err := s.CreateAuditSession(ctx, pdf.ID, []string{excel.ID})
	require.NoError(t, err)
	assert.Equal(t, model.AuditStatusPending, audit.Status)

	require.NoError(t, s.UpdateAuditStatus(ctx, audit.ID, model.AuditStatusInProgress))

	report := &model.AuditReport{
		Summary: model.AuditSummary{TotalValuesChecked: 2, Matched: 2, OverallAccuracy: 100, RiskAssessment: model.RiskLow},
	}
	require.NoError(t, s.CompleteAuditSession(ctx, audit.ID, report))

	got, err := s.GetAuditSession(ctx, audit.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AuditStatusCompleted, got.Status)
	assert.Equal(t, pdf.ID, got.PDFSessionID)
	assert.Equal(t, []string{excel.ID}, got.ExcelSessionIDs)
	require.NotNil(t, got.Report)
	assert.Equal(t, model.RiskLow, got.Report.Summary.RiskAssessment)
	require.NotNil(t, got.CompletedAt)

	list, err := s.ListAuditSessions(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestSQLiteStore_AuditStatusNotFound(t *testing.T) {
	s := newTestSQLiteStore(t)

	err := s.UpdateAuditStatus(context.Background(), "ghost", model.AuditStatusFailed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

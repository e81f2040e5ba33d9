package audit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deck-audit/internal/model"
	"github.com/sells-group/deck-audit/internal/resilience"
	"github.com/sells-group/deck-audit/pkg/anthropic"
)

type fakeClient struct {
	mu       sync.Mutex
	calls    int
	requests []anthropic.MessageRequest
	reply    func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.reply(call, req)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 200, OutputTokens: 80},
	}
}

func value(id, raw string) model.ExtractedValue {
	return model.ExtractedValue{
		ID:       id,
		RawValue: raw,
		DataType: model.DataTypeCurrency,
		BusinessContext: model.BusinessContext{
			SemanticMeaning: "revenue figure",
		},
		PageNumber: 1,
	}
}

func source(ref string, likelihood float64) model.SourceValue {
	return model.SourceValue{
		CellReference:          ref,
		SourceFile:             "model.xlsx",
		SourceSheet:            "P&L",
		Value:                  "1250000",
		DataType:               model.DataTypeCurrency,
		PresentationLikelihood: likelihood,
	}
}

func TestRun_TwoValuesOneSource(t *testing.T) {
	reply := `{"batch_results": [
		{"pdf_value_id": "p1_v1", "pdf_value": "$1.25M", "validation_status": "formatting_difference",
		 "excel_match": {"source_file": "model.xlsx", "cell_reference": "B2", "excel_value": 1250000, "match_confidence": 0.9},
		 "confidence": 0.88, "audit_reasoning": "same amount, different display"},
		{"pdf_value_id": "p1_v2", "pdf_value": "42%", "validation_status": "pdf_only",
		 "excel_match": null, "confidence": 0.6, "audit_reasoning": "no percentage source found"}
	]}`
	client := &fakeClient{reply: func(int, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(reply), nil
	}}

	eng := New(client, Options{})
	report, err := eng.Run(context.Background(),
		[]model.ExtractedValue{value("p1_v1", "$1.25M"), value("p1_v2", "42%")},
		[]model.SourceValue{source("B2", 0.9)},
	)
	require.NoError(t, err)
	require.Len(t, report.Results, 2)

	first := report.Results[0]
	assert.Equal(t, model.StatusFormattingDiff, first.ValidationStatus)
	require.NotNil(t, first.ExcelMatch)
	assert.Equal(t, "B2", first.ExcelMatch.CellReference)
	assert.Equal(t, "1250000", first.ExcelMatch.ExcelValue)
	assert.InDelta(t, 0.88, first.Confidence, 1e-9)
	assert.Equal(t, 1, first.BatchNumber)

	second := report.Results[1]
	assert.Equal(t, model.StatusPDFOnly, second.ValidationStatus)
	assert.Nil(t, second.ExcelMatch)

	// formatting_difference counts toward accuracy; pdf_only does not.
	assert.InDelta(t, 50.0, report.Summary.OverallAccuracy, 1e-9)
	assert.Equal(t, model.RiskHigh, report.Summary.RiskAssessment)
	assert.NotEmpty(t, report.Recommendations)
	assert.Equal(t, 1, client.calls)
	assert.Positive(t, report.TokenUsage.InputTokens)
}

func TestRun_ExactlyOneResultPerInput(t *testing.T) {
	// Over-count, a duplicate ID, a bogus ID, and a missing verdict all in
	// one reply; reconciliation must still emit 3 results for 3 inputs.
	reply := `{"batch_results": [
		{"pdf_value_id": "a", "validation_status": "matched", "confidence": 0.9},
		{"pdf_value_id": "a", "validation_status": "mismatched", "confidence": 0.2},
		{"pdf_value_id": "nonsense", "validation_status": "matched"},
		{"pdf_value_id": "extra-1", "validation_status": "matched"},
		{"pdf_value_id": "extra-2", "validation_status": "matched"}
	]}`
	client := &fakeClient{reply: func(int, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(reply), nil
	}}

	values := []model.ExtractedValue{value("a", "1"), value("b", "2"), value("c", "3")}
	eng := New(client, Options{})
	report, err := eng.Run(context.Background(), values, nil)
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, "a", report.Results[0].PDFValueID)
	assert.Equal(t, model.StatusMatched, report.Results[0].ValidationStatus)
	assert.Equal(t, model.StatusUnverifiable, report.Results[1].ValidationStatus)
	assert.Equal(t, model.StatusUnverifiable, report.Results[2].ValidationStatus)
	assert.Equal(t, 3, report.Summary.TotalValuesChecked)
}

func TestRun_PositionalFallbackForMissingIDs(t *testing.T) {
	reply := `{"batch_results": [
		{"validation_status": "matched", "confidence": 0.9},
		{"validation_status": "formatting_difference", "confidence": 0.8}
	]}`
	client := &fakeClient{reply: func(int, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(reply), nil
	}}

	values := []model.ExtractedValue{value("x", "1"), value("y", "2")}
	eng := New(client, Options{})
	report, err := eng.Run(context.Background(), values, nil)
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, "x", report.Results[0].PDFValueID)
	assert.Equal(t, model.StatusMatched, report.Results[0].ValidationStatus)
	assert.Equal(t, "y", report.Results[1].PDFValueID)
	assert.Equal(t, model.StatusFormattingDiff, report.Results[1].ValidationStatus)
}

func TestRun_FailedBatchDegradesAndContinues(t *testing.T) {
	client := &fakeClient{reply: func(call int, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if strings.Contains(promptText(req), "id=b1") {
			return nil, eris.New("api exploded")
		}
		return textResponse(`{"batch_results": [{"pdf_value_id": "c1", "validation_status": "matched", "confidence": 0.9}]}`), nil
	}}

	// Batch size 2: batches are [a1 b1], [c1].
	values := []model.ExtractedValue{value("a1", "1"), value("b1", "2"), value("c1", "3")}
	eng := New(client, Options{BatchSize: 2, Retry: noRetry()})
	report, err := eng.Run(context.Background(), values, nil)
	require.NoError(t, err)

	require.Len(t, report.Results, 3)
	assert.Equal(t, model.StatusUnverifiable, report.Results[0].ValidationStatus)
	assert.Contains(t, report.Results[0].AuditReasoning, "api exploded")
	assert.Equal(t, 1, report.Results[0].BatchNumber)
	assert.Equal(t, model.StatusMatched, report.Results[2].ValidationStatus)
	assert.Equal(t, 2, report.Results[2].BatchNumber)
}

func TestRun_CandidateCapBoundsPrompt(t *testing.T) {
	var sources []model.SourceValue
	for i := 0; i < 150; i++ {
		sources = append(sources, source(fmt.Sprintf("B%d", i+2), 0.9))
	}

	client := &fakeClient{reply: func(int, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(`{"batch_results": []}`), nil
	}}

	eng := New(client, Options{})
	_, err := eng.Run(context.Background(), []model.ExtractedValue{value("a", "1")}, sources)
	require.NoError(t, err)

	require.Len(t, client.requests, 1)
	candidates := client.requests[0].System[1].Text
	assert.Equal(t, 100, strings.Count(candidates, "model.xlsx!"))
}

func TestSummarize_AccuracyAndRiskTiers(t *testing.T) {
	mk := func(matched, fmtDiff, mismatched, pdfOnly, unverifiable int) []model.AuditResult {
		var out []model.AuditResult
		add := func(n int, st model.ValidationStatus) {
			for i := 0; i < n; i++ {
				out = append(out, model.AuditResult{ValidationStatus: st})
			}
		}
		add(matched, model.StatusMatched)
		add(fmtDiff, model.StatusFormattingDiff)
		add(mismatched, model.StatusMismatched)
		add(pdfOnly, model.StatusPDFOnly)
		add(unverifiable, model.StatusUnverifiable)
		return out
	}

	s := summarize(mk(8, 1, 1, 0, 0), 85, 70)
	assert.InDelta(t, 90.0, s.OverallAccuracy, 1e-9)
	assert.Equal(t, model.RiskLow, s.RiskAssessment)

	s = summarize(mk(7, 0, 2, 1, 0), 85, 70)
	assert.InDelta(t, 70.0, s.OverallAccuracy, 1e-9)
	assert.Equal(t, model.RiskMedium, s.RiskAssessment)

	s = summarize(mk(3, 0, 4, 2, 1), 85, 70)
	assert.Equal(t, model.RiskHigh, s.RiskAssessment)
	assert.Equal(t, 10, s.TotalValuesChecked)
	assert.Equal(t, 1, s.Unverifiable)

	s = summarize(nil, 85, 70)
	assert.Zero(t, s.OverallAccuracy)
	assert.Equal(t, model.RiskHigh, s.RiskAssessment)
}

func TestRecommendations_ThresholdRules(t *testing.T) {
	recs := recommendations(model.AuditSummary{
		TotalValuesChecked: 10,
		Matched:            4,
		Mismatched:         2,
		PDFOnly:            3,
		Unverifiable:       1,
		OverallAccuracy:    40,
	})
	joined := strings.Join(recs, "\n")
	assert.Contains(t, joined, "manual review")
	assert.Contains(t, joined, "disagree")
	assert.Contains(t, joined, "no spreadsheet source")
	assert.Contains(t, joined, "verified")

	clean := recommendations(model.AuditSummary{
		TotalValuesChecked: 5,
		Matched:            5,
		OverallAccuracy:    100,
	})
	require.Len(t, clean, 1)
	assert.Contains(t, clean[0], "consistent")

	empty := recommendations(model.AuditSummary{})
	require.Len(t, empty, 1)
}

func TestRun_NoInputIsBlockingError(t *testing.T) {
	client := &fakeClient{reply: func(int, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		t.Fatal("no calls expected without input")
		return nil, nil
	}}

	eng := New(client, Options{})
	report, err := eng.Run(context.Background(), nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoInput)
	assert.Nil(t, report)
	assert.Zero(t, client.calls)
}

func TestRun_SourcesWithoutValues(t *testing.T) {
	client := &fakeClient{reply: func(int, anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		t.Fatal("no calls expected without values")
		return nil, nil
	}}

	sources := []model.SourceValue{{SourceFile: "model.xlsx", CellReference: "B2", Value: "1200000"}}
	eng := New(client, Options{})
	report, err := eng.Run(context.Background(), nil, sources)
	require.NoError(t, err)
	assert.Empty(t, report.Results)
	assert.Zero(t, client.calls)
	assert.Equal(t, model.RiskHigh, report.Summary.RiskAssessment)
}

func noRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 1}
}

func promptText(req anthropic.MessageRequest) string {
	var b strings.Builder
	for _, m := range req.Messages {
		for _, p := range m.Parts {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

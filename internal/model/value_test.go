package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBoundingBox_ClampKeepsValidBox(t *testing.T) {
	b := BoundingBox{X1: 0.1, Y1: 0.2, X2: 0.4, Y2: 0.5}
	assert.Equal(t, b, b.Clamp())
}

func TestBoundingBox_ClampOutOfRange(t *testing.T) {
	got := BoundingBox{X1: -0.5, Y1: 0.2, X2: 1.7, Y2: 0.5}.Clamp()
	assert.Equal(t, BoundingBox{X1: 0, Y1: 0.2, X2: 1, Y2: 0.5}, got)
}

func TestBoundingBox_ClampReordersCorners(t *testing.T) {
	got := BoundingBox{X1: 0.6, Y1: 0.8, X2: 0.2, Y2: 0.3}.Clamp()
	assert.Equal(t, BoundingBox{X1: 0.2, Y1: 0.3, X2: 0.6, Y2: 0.8}, got)
}

func TestBoundingBox_ClampExpandsDegenerateBox(t *testing.T) {
	got := BoundingBox{X1: 0.5, Y1: 0.5, X2: 0.5, Y2: 0.5}.Clamp()
	assert.InDelta(t, 0.01, got.X2-got.X1, 1e-9)
	assert.InDelta(t, 0.01, got.Y2-got.Y1, 1e-9)
}

func TestBoundingBox_ClampDegenerateAtEdge(t *testing.T) {
	got := BoundingBox{X1: 1, Y1: 1, X2: 1, Y2: 1}.Clamp()
	assert.Equal(t, BoundingBox{X1: 0.99, Y1: 0.99, X2: 1, Y2: 1}, got)
}

func TestParseDataType(t *testing.T) {
	assert.Equal(t, DataTypeCurrency, ParseDataType("currency"))
	assert.Equal(t, DataTypePercentage, ParseDataType("percentage"))
	assert.Equal(t, DataTypeUnknown, ParseDataType("dollars"))
	assert.Equal(t, DataTypeUnknown, ParseDataType(""))
}

func TestParseValidationStatus(t *testing.T) {
	assert.Equal(t, StatusMatched, ParseValidationStatus("matched"))
	assert.Equal(t, StatusFormattingDiff, ParseValidationStatus("formatting_difference"))
	assert.Equal(t, StatusUnverifiable, ParseValidationStatus("close enough"))
}

func TestTokenUsage_Add(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 20, Cost: 0.01}
	u.Add(TokenUsage{InputTokens: 50, OutputTokens: 10, CacheReadTokens: 300, Cost: 0.005})

	assert.Equal(t, 150, u.InputTokens)
	assert.Equal(t, 30, u.OutputTokens)
	assert.Equal(t, 300, u.CacheReadTokens)
	assert.InDelta(t, 0.015, u.Cost, 1e-9)
}

func TestSourceValue_Key(t *testing.T) {
	s := SourceValue{SourceFile: "model.xlsx", CellReference: "B2"}
	assert.Equal(t, "model.xlsx!B2", s.Key())
}

func TestValuePatch_ApplyMergesOnlySetFields(t *testing.T) {
	v := ExtractedValue{
		ID:              "p1_v1",
		RawValue:        "$1.2M",
		NormalizedValue: "1200000",
		DataType:        DataTypeCurrency,
		BusinessContext: BusinessContext{SemanticMeaning: "Q3 revenue"},
	}

	meaning := "FY25 revenue"
	ValuePatch{SemanticMeaning: &meaning}.Apply(&v)

	assert.Equal(t, "FY25 revenue", v.BusinessContext.SemanticMeaning)
	assert.Equal(t, "$1.2M", v.RawValue)
	assert.Equal(t, "1200000", v.NormalizedValue)
	assert.Equal(t, DataTypeCurrency, v.DataType)
	assert.True(t, v.UserModified)
}

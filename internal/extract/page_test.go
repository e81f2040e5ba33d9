package extract

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/deck-audit/internal/model"
	"github.com/sells-group/deck-audit/internal/raster"
	"github.com/sells-group/deck-audit/pkg/anthropic"
)

// fakeClient answers CreateMessage from a reply function, counting calls.
type fakeClient struct {
	mu    sync.Mutex
	calls int
	reply func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error)
}

func (f *fakeClient) CreateMessage(_ context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.reply(req)
}

func textResponse(text string) *anthropic.MessageResponse {
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: text}},
		Usage:   anthropic.TokenUsage{InputTokens: 100, OutputTokens: 50},
	}
}

// fakeDoc renders fixed-size pages and fails the pages listed in bad.
type fakeDoc struct {
	pages int
	bad   map[int]bool
}

func (d *fakeDoc) Info(context.Context, string) (raster.Info, error) {
	return raster.Info{Pages: d.pages, Width: 612, Height: 792}, nil
}

func (d *fakeDoc) RenderPage(_ context.Context, _ string, page int, _ float64) (*raster.Page, error) {
	if d.bad[page] {
		return nil, &raster.RasterizationError{Page: page, Err: eris.New("corrupt page")}
	}
	return &raster.Page{Number: page, PNG: []byte{0x89}, WidthPx: 1224, HeightPx: 1584}, nil
}

const pageReply = `{"page_number": 1, "extracted_values": [{
	"id": "v1",
	"value": "$1.2M",
	"normalized_value": "1200000",
	"data_type": "currency",
	"coordinates": {"bounding_box": [0.2, 0.3, 0.25, 0.33], "confidence": 0.9},
	"business_context": {"semantic_meaning": "annual recurring revenue", "business_category": "revenue"},
	"confidence": 0.92
}]}`

func TestExtractDocument_BadPageDegrades(t *testing.T) {
	client := &fakeClient{reply: func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if isPrimer(req) {
			return textResponse("{}"), nil
		}
		return textResponse(pageReply), nil
	}}
	doc := &fakeDoc{pages: 3, bad: map[int]bool{2: true}}

	ex := NewPageExtractor(client, doc, Options{Concurrency: 1})
	res, err := ex.ExtractDocument(context.Background(), "deck.pdf")
	require.NoError(t, err)

	assert.Equal(t, 3, res.Stats.TotalPages)
	assert.Equal(t, 1, res.Stats.PagesFailed)
	require.Len(t, res.Values, 2)
	assert.Equal(t, 2, res.Stats.TotalValues)

	// Page order is preserved and IDs are document-unique.
	assert.Equal(t, "p1_v1", res.Values[0].ID)
	assert.Equal(t, "p3_v1", res.Values[1].ID)
	assert.Equal(t, 1, res.Values[0].PageNumber)
	assert.Equal(t, 3, res.Values[1].PageNumber)

	assert.Equal(t, model.DataTypeCurrency, res.Values[0].DataType)
	assert.Equal(t, 2, res.Stats.ValuesByType[model.DataTypeCurrency])
	assert.InDelta(t, 0.92, res.Stats.MeanConfidence, 1e-9)

	// Primer plus two surviving pages.
	assert.Equal(t, 3, client.calls)
	assert.Positive(t, res.Usage.InputTokens)
}

func TestExtractDocument_MalformedBoxGetsDefault(t *testing.T) {
	reply := `{"extracted_values": [
		{"id": "a", "value": "12%", "data_type": "percentage", "coordinates": {"bounding_box": [5, -1, 5, -1]}, "confidence": 0.8},
		{"id": "b", "value": "40", "data_type": "count", "confidence": 0.7}
	]}`
	client := &fakeClient{reply: func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		return textResponse(reply), nil
	}}
	doc := &fakeDoc{pages: 1}

	ex := NewPageExtractor(client, doc, Options{})
	res, err := ex.ExtractDocument(context.Background(), "deck.pdf")
	require.NoError(t, err)
	require.Len(t, res.Values, 2)

	// [5,-1,5,-1] clamps to a degenerate corner point, then expands.
	clamped := res.Values[0].BoundingBox
	assert.InDelta(t, 0.99, clamped.X1, 1e-9)
	assert.InDelta(t, 1.0, clamped.X2, 1e-9)
	assert.InDelta(t, 0.0, clamped.Y1, 1e-9)
	assert.InDelta(t, 0.01, clamped.Y2, 1e-9)

	// Missing coordinates fall back to the fixed default box.
	assert.Equal(t, model.DefaultBoundingBox(), res.Values[1].BoundingBox)
}

func TestExtractDocument_GarbageReplyFailsPageOnly(t *testing.T) {
	client := &fakeClient{reply: func(req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		if isPrimer(req) {
			return textResponse("{}"), nil
		}
		if strings.Contains(promptText(req), "page 1 ") {
			return textResponse("complete garbage, no json"), nil
		}
		return textResponse(pageReply), nil
	}}
	doc := &fakeDoc{pages: 2}

	ex := NewPageExtractor(client, doc, Options{Concurrency: 1})
	res, err := ex.ExtractDocument(context.Background(), "deck.pdf")
	require.NoError(t, err)

	assert.Equal(t, 1, res.Stats.PagesFailed)
	require.Len(t, res.Values, 1)
	assert.Equal(t, 2, res.Values[0].PageNumber)
}

func TestExtractDocument_Disabled(t *testing.T) {
	client := &fakeClient{reply: func(anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
		t.Fatal("no LLM calls expected when disabled")
		return nil, nil
	}}
	doc := &fakeDoc{pages: 4}

	ex := NewPageExtractor(client, doc, Options{Disabled: true})
	res, err := ex.ExtractDocument(context.Background(), "deck.pdf")
	require.NoError(t, err)

	assert.Empty(t, res.Values)
	assert.Equal(t, 4, res.Stats.TotalPages)
	assert.NotEmpty(t, res.Stats.ProcessingError)
	assert.Zero(t, client.calls)
}

func isPrimer(req anthropic.MessageRequest) bool {
	return strings.Contains(promptText(req), "Reply with {} only")
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

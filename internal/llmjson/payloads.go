package llmjson

// Payload shapes are tagged per prompt kind so recovery can target the one
// array key that matters for each. Fields the model tends to emit with
// unstable types (numbers as strings, values of any kind) are declared any
// and converted with Float/String at the call site.

// PagePayload is the reply shape for a PDF page extraction prompt.
type PagePayload struct {
	PageNumber      int         `json:"page_number"`
	ExtractedValues []PageValue `json:"extracted_values"`
	Err             string      `json:"-"`
}

// PageValue is one value the model found on a page.
type PageValue struct {
	ID              string        `json:"id"`
	Value           any           `json:"value"`
	NormalizedValue any           `json:"normalized_value"`
	DataType        string        `json:"data_type"`
	Coordinates     *Coordinates  `json:"coordinates"`
	BusinessContext *ValueContext `json:"business_context"`
	Confidence      any           `json:"confidence"`
}

// Coordinates carries the normalized bounding box for a page value.
type Coordinates struct {
	BoundingBox []any `json:"bounding_box"`
	Confidence  any   `json:"confidence"`
}

// ValueContext is the model's semantic description of a value.
type ValueContext struct {
	SemanticMeaning  string `json:"semantic_meaning"`
	BusinessCategory string `json:"business_category"`
}

// CellBatchPayload is the reply shape for a cell-batch analysis prompt.
type CellBatchPayload struct {
	BatchAnalysis []CellAnalysis `json:"batch_analysis"`
	Err           string         `json:"-"`
}

// CellAnalysis is the model's judgment of one spreadsheet cell.
type CellAnalysis struct {
	CellReference          string `json:"cell_reference"`
	Value                  any    `json:"value"`
	BusinessContext        string `json:"business_context"`
	PresentationLikelihood any    `json:"presentation_likelihood"`
	DataType               string `json:"data_type"`
	ValueCategory          string `json:"value_category"`
	Reasoning              string `json:"reasoning"`
}

// AuditBatchPayload is the reply shape for an audit comparison prompt.
type AuditBatchPayload struct {
	BatchResults []AuditEntry `json:"batch_results"`
	Err          string       `json:"-"`
}

// AuditEntry is the model's verdict for one presentation value.
type AuditEntry struct {
	PDFValueID       string      `json:"pdf_value_id"`
	PDFValue         any         `json:"pdf_value"`
	PDFContext       string      `json:"pdf_context"`
	ValidationStatus string      `json:"validation_status"`
	ExcelMatch       *MatchEntry `json:"excel_match"`
	Confidence       any         `json:"confidence"`
	AuditReasoning   string      `json:"audit_reasoning"`
}

// MatchEntry identifies the spreadsheet cell an audit entry matched.
type MatchEntry struct {
	SourceFile      string `json:"source_file"`
	CellReference   string `json:"cell_reference"`
	ExcelValue      any    `json:"excel_value"`
	MatchConfidence any    `json:"match_confidence"`
}

// DecodePage normalizes a page extraction reply. On total failure the
// fallback has an empty value list and Err set; it never returns an error.
func DecodePage(raw, context string) PagePayload {
	var p PagePayload
	if decode(raw, "extracted_values", context, &p) {
		if p.ExtractedValues == nil {
			p.ExtractedValues = []PageValue{}
		}
		return p
	}
	return PagePayload{
		ExtractedValues: []PageValue{},
		Err:             "response parsing failed for " + context,
	}
}

// DecodeCellBatch normalizes a cell-batch analysis reply.
func DecodeCellBatch(raw, context string) CellBatchPayload {
	var p CellBatchPayload
	ok := decode(raw, "batch_analysis", context, &p)
	if ok && len(p.BatchAnalysis) > 0 {
		return p
	}
	// Some replies use the sheet-level key for the same array.
	var alt struct {
		PotentialSources []CellAnalysis `json:"potential_sources"`
	}
	if decode(raw, "potential_sources", context, &alt) && len(alt.PotentialSources) > 0 {
		return CellBatchPayload{BatchAnalysis: alt.PotentialSources}
	}
	if ok {
		if p.BatchAnalysis == nil {
			p.BatchAnalysis = []CellAnalysis{}
		}
		return p
	}
	return CellBatchPayload{
		BatchAnalysis: []CellAnalysis{},
		Err:           "response parsing failed for " + context,
	}
}

// DecodeAuditBatch normalizes an audit comparison reply.
func DecodeAuditBatch(raw, context string) AuditBatchPayload {
	var p AuditBatchPayload
	if decode(raw, "batch_results", context, &p) {
		if p.BatchResults == nil {
			p.BatchResults = []AuditEntry{}
		}
		return p
	}
	return AuditBatchPayload{
		BatchResults: []AuditEntry{},
		Err:          "response parsing failed for " + context,
	}
}

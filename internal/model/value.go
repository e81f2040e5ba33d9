package model

// DataType classifies an extracted datum.
type DataType string

const (
	DataTypeCurrency   DataType = "currency"
	DataTypePercentage DataType = "percentage"
	DataTypeCount      DataType = "count"
	DataTypeRatio      DataType = "ratio"
	DataTypeDate       DataType = "date"
	DataTypeMetric     DataType = "metric"
	DataTypeUnknown    DataType = "unknown"
)

// ParseDataType maps a free-text type label from the model onto a DataType,
// falling back to unknown for anything unrecognized.
func ParseDataType(s string) DataType {
	switch DataType(s) {
	case DataTypeCurrency, DataTypePercentage, DataTypeCount,
		DataTypeRatio, DataTypeDate, DataTypeMetric:
		return DataType(s)
	default:
		return DataTypeUnknown
	}
}

// minBoxSize is the minimum width and height of a bounding box. Degenerate
// boxes are expanded to this footprint instead of being rejected.
const minBoxSize = 0.01

// BoundingBox locates a value on a page in normalized [0,1] coordinates.
type BoundingBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// DefaultBoundingBox is substituted when the model returns a malformed or
// missing box, so the value is kept rather than dropped.
func DefaultBoundingBox() BoundingBox {
	return BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.2, Y2: 0.2}
}

// Clamp normalizes a box: coordinates clamped into [0,1], reordered so
// X1<=X2 and Y1<=Y2, and expanded to the minimum footprint.
func (b BoundingBox) Clamp() BoundingBox {
	clamp01 := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		if v > 1 {
			return 1
		}
		return v
	}

	x1, y1 := clamp01(b.X1), clamp01(b.Y1)
	x2, y2 := clamp01(b.X2), clamp01(b.Y2)

	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}

	if x2-x1 < minBoxSize {
		x2 = x1 + minBoxSize
		if x2 > 1 {
			x2 = 1
			x1 = 1 - minBoxSize
		}
	}
	if y2-y1 < minBoxSize {
		y2 = y1 + minBoxSize
		if y2 > 1 {
			y2 = 1
			y1 = 1 - minBoxSize
		}
	}

	return BoundingBox{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

// BusinessContext describes what a number means in the source document.
type BusinessContext struct {
	SemanticMeaning string `json:"semantic_meaning"`
	Category        string `json:"category"` // revenue, costs, growth, operational, financial, market
}

// ExtractedValue is one numeric or textual datum pulled from a presentation
// page. Immutable after extraction except for the user-edit fields.
type ExtractedValue struct {
	ID              string          `json:"id"`
	RawValue        string          `json:"raw_value"`
	NormalizedValue string          `json:"normalized_value"`
	DataType        DataType        `json:"data_type"`
	PageNumber      int             `json:"page_number"`
	BoundingBox     BoundingBox     `json:"bounding_box"`
	BusinessContext BusinessContext `json:"business_context"`
	Confidence      float64         `json:"confidence"`
	UserModified    bool            `json:"user_modified"`
}

// ValuePatch is a partial reviewer correction to an ExtractedValue. Nil
// fields are left unchanged.
type ValuePatch struct {
	RawValue        *string   `json:"raw_value,omitempty"`
	NormalizedValue *string   `json:"normalized_value,omitempty"`
	DataType        *DataType `json:"data_type,omitempty"`
	SemanticMeaning *string   `json:"semantic_meaning,omitempty"`
}

// Apply merges the patch into v and marks it user modified.
func (p ValuePatch) Apply(v *ExtractedValue) {
	if p.RawValue != nil {
		v.RawValue = *p.RawValue
	}
	if p.NormalizedValue != nil {
		v.NormalizedValue = *p.NormalizedValue
	}
	if p.DataType != nil {
		v.DataType = *p.DataType
	}
	if p.SemanticMeaning != nil {
		v.BusinessContext.SemanticMeaning = *p.SemanticMeaning
	}
	v.UserModified = true
}

// DocumentStats summarizes extraction quality for a whole document.
type DocumentStats struct {
	TotalPages      int              `json:"total_pages"`
	PagesFailed     int              `json:"pages_failed"`
	TotalValues     int              `json:"total_values"`
	ValuesByType    map[DataType]int `json:"values_by_type"`
	MeanConfidence  float64          `json:"mean_confidence"`
	ProcessingError string           `json:"processing_error,omitempty"`
}

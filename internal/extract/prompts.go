package extract

import (
	"fmt"
	"strings"

	"github.com/sells-group/deck-audit/internal/model"
)

const pageSystemText = `You are a financial analyst extracting business data from investor presentation pages. Respond with strict JSON only: no prose, no markdown fences.`

const cellSystemText = `You are a financial analyst judging which spreadsheet cells feed investor presentations. Respond with strict JSON only: no prose, no markdown fences.`

const pagePromptFmt = `Analyze page %d of a financial presentation and extract every business-relevant value: currency amounts, percentages, counts, ratios, dates, and named metrics. Include values inside charts and tables.

Return a JSON object with this exact shape:
{
  "page_number": %d,
  "extracted_values": [
    {
      "id": "<short unique id>",
      "value": "<value exactly as displayed>",
      "normalized_value": "<plain numeric form, e.g. 1250000>",
      "data_type": "currency|percentage|count|ratio|date|metric",
      "coordinates": {"bounding_box": [x1, y1, x2, y2], "confidence": <0.0-1.0>},
      "business_context": {"semantic_meaning": "<what this value means>", "business_category": "revenue|costs|growth|operational|financial|market"},
      "confidence": <0.0-1.0>
    }
  ]
}

Bounding box coordinates are normalized to [0,1] relative to page width and height, origin at the top-left.`

const cellPromptFmt = `Sheet %q of workbook %q contains the cells below, one per line as
reference | value | number format | formula | formatting hints.

%s

For each cell, judge how likely it is to appear in an investor presentation (headline KPIs, totals, growth rates score high; intermediate calculations score low).

Return a JSON object with this exact shape:
{
  "batch_analysis": [
    {
      "cell_reference": "<reference>",
      "value": "<cell value>",
      "business_context": "<what this cell means>",
      "presentation_likelihood": <0.0-1.0>,
      "data_type": "currency|percentage|count|ratio|date|metric",
      "value_category": "revenue|costs|growth|operational|financial|market",
      "reasoning": "<one sentence>"
    }
  ]
}

Include one entry for every cell listed.`

func buildPagePrompt(page int) string {
	return fmt.Sprintf(pagePromptFmt, page, page)
}

func buildCellPrompt(sheet, file string, cells []model.CellRecord) string {
	var b strings.Builder
	for _, c := range cells {
		fmt.Fprintf(&b, "%s | %s | %s | %s | %s\n",
			c.Ref, c.Text, c.NumberFormat, c.Formula, formatHints(c))
	}
	return fmt.Sprintf(cellPromptFmt, sheet, file, strings.TrimRight(b.String(), "\n"))
}

func formatHints(c model.CellRecord) string {
	var hints []string
	if c.Bold {
		hints = append(hints, "bold")
	}
	if c.FontSize > 12 {
		hints = append(hints, fmt.Sprintf("size=%.0f", c.FontSize))
	}
	if c.IsCurrency {
		hints = append(hints, "currency")
	}
	if c.IsPercent {
		hints = append(hints, "percent")
	}
	if c.HasBorders {
		hints = append(hints, "bordered")
	}
	if c.HasFill {
		hints = append(hints, "filled")
	}
	if len(hints) == 0 {
		return "-"
	}
	return strings.Join(hints, ",")
}

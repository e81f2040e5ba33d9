package audit

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/sells-group/deck-audit/internal/model"
)

// summarize tallies verdicts and tiers the risk. Accuracy counts exact
// matches and formatting differences as agreement.
func summarize(results []model.AuditResult, lowFloor, mediumFloor float64) model.AuditSummary {
	s := model.AuditSummary{TotalValuesChecked: len(results)}

	for _, r := range results {
		switch r.ValidationStatus {
		case model.StatusMatched:
			s.Matched++
		case model.StatusMismatched:
			s.Mismatched++
		case model.StatusFormattingDiff:
			s.FormattingDifferences++
		case model.StatusPDFOnly:
			s.PDFOnly++
		default:
			s.Unverifiable++
		}
	}

	if s.TotalValuesChecked > 0 {
		s.OverallAccuracy = float64(s.Matched+s.FormattingDifferences) / float64(s.TotalValuesChecked) * 100
	}

	switch {
	case s.OverallAccuracy >= lowFloor:
		s.RiskAssessment = model.RiskLow
	case s.OverallAccuracy >= mediumFloor:
		s.RiskAssessment = model.RiskMedium
	default:
		s.RiskAssessment = model.RiskHigh
	}

	return s
}

// recommendations derives reviewer guidance from threshold rules on the
// summary.
func recommendations(s model.AuditSummary) []string {
	p := message.NewPrinter(language.English)
	var recs []string

	if s.TotalValuesChecked == 0 {
		return []string{"No presentation values were available to audit."}
	}

	if s.OverallAccuracy < 75 {
		recs = append(recs, p.Sprintf("Overall accuracy is %.1f%%; a full manual review of the presentation is recommended.", s.OverallAccuracy))
	}
	if s.Mismatched > 0 {
		recs = append(recs, p.Sprintf("%d of %d values disagree with their spreadsheet sources and should be corrected or annotated.", s.Mismatched, s.TotalValuesChecked))
	}
	if float64(s.PDFOnly) > 0.2*float64(s.TotalValuesChecked) {
		recs = append(recs, p.Sprintf("%d values have no spreadsheet source; the workbooks provided may not cover the whole presentation.", s.PDFOnly))
	}
	if s.Unverifiable > 0 {
		recs = append(recs, p.Sprintf("%d values could not be verified automatically and need a manual check.", s.Unverifiable))
	}
	if s.FormattingDifferences > 0 {
		recs = append(recs, p.Sprintf("%d values match their sources but are displayed differently; confirm the rounding and unit conventions are intentional.", s.FormattingDifferences))
	}

	if len(recs) == 0 {
		recs = append(recs, p.Sprintf("All %d presentation values are consistent with their spreadsheet sources.", s.TotalValuesChecked))
	}

	return recs
}

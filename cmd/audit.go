package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deck-audit/internal/audit"
	"github.com/sells-group/deck-audit/internal/model"
)

var auditCmd = &cobra.Command{
	Use:   "audit <pdf-session-id> <excel-session-id>...",
	Short: "Cross-validate a presentation against its source workbooks",
	Long:  "Audits every extracted presentation value against spreadsheet source candidates and persists the resulting report.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pdfID, excelIDs := args[0], args[1:]

		st, err := openStore(ctx, "audit")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		pdfSession, err := st.GetExtractionSession(ctx, pdfID)
		if err != nil {
			return eris.Wrapf(err, "load pdf session %s", pdfID)
		}
		if pdfSession.Kind != model.SessionKindPDF {
			return eris.Errorf("session %s is %s, expected a pdf extraction session", pdfID, pdfSession.Kind)
		}

		var sources []model.SourceValue
		for _, id := range excelIDs {
			excelSession, err := st.GetExtractionSession(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "load excel session %s", id)
			}
			if excelSession.Kind != model.SessionKindExcel {
				return eris.Errorf("session %s is %s, expected an excel extraction session", id, excelSession.Kind)
			}
			sources = append(sources, excelSession.Sources...)
		}

		auditSession, err := st.CreateAuditSession(ctx, pdfID, excelIDs)
		if err != nil {
			return err
		}
		if err := st.UpdateAuditStatus(ctx, auditSession.ID, model.AuditStatusInProgress); err != nil {
			return err
		}

		engine := audit.New(newAnthropicClient(), auditOptions())

		report, err := engine.Run(ctx, pdfSession.Values, sources)
		if err != nil {
			if serr := st.UpdateAuditStatus(ctx, auditSession.ID, model.AuditStatusFailed); serr != nil {
				zap.L().Error("failed to mark audit session failed", zap.Error(serr))
			}
			return eris.Wrap(err, "audit run")
		}

		if err := st.CompleteAuditSession(ctx, auditSession.ID, report); err != nil {
			return err
		}
		zap.L().Info("audit session completed", zap.String("session_id", auditSession.ID))

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}

		formatReport(auditSession.ID, report)
		return nil
	},
}

func formatReport(sessionID string, report *model.AuditReport) {
	s := report.Summary
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Audit session:\t%s\n", sessionID)
	fmt.Fprintf(w, "Values checked:\t%d\n", s.TotalValuesChecked)
	fmt.Fprintf(w, "Matched:\t%d\n", s.Matched)
	fmt.Fprintf(w, "Mismatched:\t%d\n", s.Mismatched)
	fmt.Fprintf(w, "Formatting diffs:\t%d\n", s.FormattingDifferences)
	fmt.Fprintf(w, "Unverifiable:\t%d\n", s.Unverifiable)
	fmt.Fprintf(w, "PDF only:\t%d\n", s.PDFOnly)
	fmt.Fprintf(w, "Accuracy:\t%.1f%%\n", s.OverallAccuracy)
	fmt.Fprintf(w, "Risk:\t%s\n", s.RiskAssessment)
	fmt.Fprintf(w, "Estimated cost:\t$%.4f\n", report.TokenUsage.Cost)
	_ = w.Flush()

	fmt.Println("\nRecommendations:")
	for _, r := range report.Recommendations {
		fmt.Printf("  - %s\n", r)
	}
}

func init() {
	auditCmd.Flags().Bool("json", false, "print the full report as JSON")
	rootCmd.AddCommand(auditCmd)
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/deck-audit/internal/model"
	"github.com/sells-group/deck-audit/internal/store"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect and edit extraction sessions",
	Long:  "Commands for listing sessions, viewing extracted data, and applying reviewer corrections.",
}

// -- sessions list --

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List extraction sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := st.ListExtractionSessions(ctx, store.SessionFilter{
			Kind:  model.SessionKind(kind),
			Limit: limit,
		})
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

// -- sessions show --

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show full details of an extraction session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		session, err := st.GetExtractionSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(session)
	},
}

// -- sessions edit-value --

var sessionsEditValueCmd = &cobra.Command{
	Use:   "edit-value <session-id> <value-id>",
	Short: "Correct an extracted presentation value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sessionID, valueID := args[0], args[1]

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var patch model.ValuePatch
		if raw, _ := cmd.Flags().GetString("raw"); raw != "" {
			patch.RawValue = &raw
		}
		if normalized, _ := cmd.Flags().GetString("normalized"); normalized != "" {
			patch.NormalizedValue = &normalized
		}
		if dataType, _ := cmd.Flags().GetString("type"); dataType != "" {
			dt := model.ParseDataType(dataType)
			patch.DataType = &dt
		}
		if meaning, _ := cmd.Flags().GetString("meaning"); meaning != "" {
			patch.SemanticMeaning = &meaning
		}

		if _, err := st.PatchExtractedValue(ctx, sessionID, valueID, patch); err != nil {
			return eris.Wrap(err, "sessions edit-value")
		}
		fmt.Printf("Updated %s in session %s\n", valueID, sessionID)
		return nil
	},
}

// -- sessions edit-source --

var sessionsEditSourceCmd = &cobra.Command{
	Use:   "edit-source <session-id> <source-file> <cell-ref>",
	Short: "Correct a workbook source value",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		sessionID, sourceFile, cellRef := args[0], args[1], args[2]

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		session, err := st.GetExtractionSession(ctx, sessionID)
		if err != nil {
			return err
		}

		var source *model.SourceValue
		for i := range session.Sources {
			if session.Sources[i].SourceFile == sourceFile && session.Sources[i].CellReference == cellRef {
				source = &session.Sources[i]
				break
			}
		}
		if source == nil {
			return eris.Errorf("source %s!%s not found in session %s", sourceFile, cellRef, sessionID)
		}

		if value, _ := cmd.Flags().GetString("value"); value != "" {
			source.Value = value
		}
		if cmd.Flags().Changed("likelihood") {
			likelihood, _ := cmd.Flags().GetFloat64("likelihood")
			if likelihood < 0 || likelihood > 1 {
				return eris.New("likelihood must be in [0, 1]")
			}
			source.PresentationLikelihood = likelihood
		}
		if dataType, _ := cmd.Flags().GetString("type"); dataType != "" {
			source.DataType = model.ParseDataType(dataType)
		}

		if err := st.UpdateSourceValue(ctx, sessionID, *source); err != nil {
			return err
		}
		fmt.Printf("Updated %s!%s in session %s\n", sourceFile, cellRef, sessionID)
		return nil
	},
}

// -- sessions audits --

var sessionsAuditsCmd = &cobra.Command{
	Use:   "audits",
	Short: "List audit sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "sessions")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		audits, err := st.ListAuditSessions(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "sessions audits")
		}

		if len(audits) == 0 {
			fmt.Fprintln(os.Stderr, "No audit sessions found.")
			return nil
		}

		formatAuditsList(os.Stdout, audits)
		return nil
	},
}

func init() {
	sessionsListCmd.Flags().String("kind", "", "filter by session kind (pdf, excel)")
	sessionsListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionsEditValueCmd.Flags().String("raw", "", "corrected raw value")
	sessionsEditValueCmd.Flags().String("normalized", "", "corrected normalized value")
	sessionsEditValueCmd.Flags().String("type", "", "corrected data type")
	sessionsEditValueCmd.Flags().String("meaning", "", "corrected semantic meaning")

	sessionsEditSourceCmd.Flags().String("value", "", "corrected cell value")
	sessionsEditSourceCmd.Flags().Float64("likelihood", 0, "corrected presentation likelihood")
	sessionsEditSourceCmd.Flags().String("type", "", "corrected data type")

	sessionsAuditsCmd.Flags().Int("limit", 50, "max number of audit sessions to display")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsEditValueCmd)
	sessionsCmd.AddCommand(sessionsEditSourceCmd)
	sessionsCmd.AddCommand(sessionsAuditsCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// formatSessionsList writes a tabular list of extraction sessions to w.
func formatSessionsList(out io.Writer, sessions []model.ExtractionSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKIND\tFILE\tITEMS\tCOST\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t----\t-----\t----\t-------")

	for _, s := range sessions {
		items := len(s.Values)
		if s.Kind == model.SessionKindExcel {
			items = len(s.Sources)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t$%.4f\t%s\n",
			truncateID(s.ID),
			s.Kind,
			s.Filename,
			items,
			s.TokenUsage.Cost,
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// formatAuditsList writes a tabular list of audit sessions to w.
func formatAuditsList(out io.Writer, audits []model.AuditSession) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPDF_SESSION\tSTATUS\tACCURACY\tRISK\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-----------\t------\t--------\t----\t-------")

	for _, a := range audits {
		accuracy, risk := "-", "-"
		if a.Report != nil {
			accuracy = fmt.Sprintf("%.1f%%", a.Report.Summary.OverallAccuracy)
			risk = string(a.Report.Summary.RiskAssessment)
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(a.ID),
			truncateID(a.PDFSessionID),
			a.Status,
			accuracy,
			risk,
			a.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

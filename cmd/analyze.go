package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deck-audit/internal/extract"
	"github.com/sells-group/deck-audit/internal/inventory"
	"github.com/sells-group/deck-audit/internal/synth"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <workbook.xlsx> [more.xlsx...]",
	Short: "Analyze Excel workbooks for presentation source values",
	Long:  "Walks every sheet, scores cells for presentation relevance, judges them in LLM batches, and persists one extraction session per workbook.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		profile, _ := cmd.Flags().GetString("profile")
		profilesPath, _ := cmd.Flags().GetString("profiles")
		if err := applyProfile(profilesPath, profile); err != nil {
			return err
		}

		st, err := openStore(ctx, "analyze")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limits := inventory.Limits{
			MaxRows:   cfg.Extract.MaxRows,
			MaxCols:   cfg.Extract.MaxCols,
			MaxSheets: cfg.Extract.MaxSheets,
		}
		analyzer := extract.NewCellAnalyzer(newAnthropicClient(), extractOptions(), cfg.Extract.ScoreThreshold)

		for _, xlsxPath := range args {
			wb, err := inventory.Open(xlsxPath, limits)
			if err != nil {
				return err
			}

			filename := filepath.Base(xlsxPath)
			results := make([]extract.SheetResult, 0, len(wb.Sheets))
			for _, sheet := range wb.Sheets {
				zap.L().Info("analyzing sheet",
					zap.String("workbook", filename),
					zap.String("sheet", sheet.Name),
					zap.Int("cells", len(sheet.Cells)),
				)
				results = append(results, analyzer.AnalyzeSheet(ctx, filename, sheet))
			}

			wr := synth.Workbook(len(wb.Sheets)+wb.Skipped, wb.Skipped, results)
			session := synth.ExcelSession(filename, wr)
			if err := st.SaveExtractionSession(ctx, session); err != nil {
				return err
			}
			zap.L().Info("analysis session saved", zap.String("session_id", session.ID))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "Workbook:\t%s\n", filename)
			fmt.Fprintf(w, "Session:\t%s\n", session.ID)
			fmt.Fprintf(w, "Sheets:\t%d (%d skipped)\n", wr.Stats.ProcessedSheets, wr.Stats.SheetsSkipped)
			fmt.Fprintf(w, "Sources:\t%d\n", wr.Stats.TotalSources)
			fmt.Fprintf(w, "High likelihood:\t%d\n", wr.Stats.HighLikelihood)
			fmt.Fprintf(w, "Medium likelihood:\t%d\n", wr.Stats.MediumLikelihood)
			if wr.Stats.ProcessingErrors > 0 {
				fmt.Fprintf(w, "Degraded sheets:\t%d\n", wr.Stats.ProcessingErrors)
			}
			fmt.Fprintf(w, "Estimated cost:\t$%.4f\n", wr.Usage.Cost)
			if err := w.Flush(); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	analyzeCmd.Flags().String("profile", "", "extraction profile name")
	analyzeCmd.Flags().String("profiles", "profiles.yaml", "extraction profiles file")
	rootCmd.AddCommand(analyzeCmd)
}

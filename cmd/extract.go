package main

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deck-audit/internal/extract"
	"github.com/sells-group/deck-audit/internal/raster"
	"github.com/sells-group/deck-audit/internal/synth"
)

var extractCmd = &cobra.Command{
	Use:   "extract <deck.pdf>",
	Short: "Extract business values from a PDF presentation",
	Long:  "Rasterizes every page, runs vision extraction over each one, and persists the resulting extraction session.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		pdfPath := args[0]

		profile, _ := cmd.Flags().GetString("profile")
		profilesPath, _ := cmd.Flags().GetString("profiles")
		if err := applyProfile(profilesPath, profile); err != nil {
			return err
		}
		if zoom, _ := cmd.Flags().GetFloat64("zoom"); zoom > 0 {
			cfg.Raster.Zoom = zoom
		}

		st, err := openStore(ctx, "extract")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		doc := raster.NewPoppler(cfg.Raster.PdfToPpmPath, cfg.Raster.PdfInfoPath)
		extractor := extract.NewPageExtractor(newAnthropicClient(), doc, extractOptions())

		res, err := extractor.ExtractDocument(ctx, pdfPath)
		if err != nil {
			return err
		}

		session := synth.PDFSession(filepath.Base(pdfPath), res)
		if err := st.SaveExtractionSession(ctx, session); err != nil {
			return err
		}
		zap.L().Info("extraction session saved", zap.String("session_id", session.ID))

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "Session:\t%s\n", session.ID)
		fmt.Fprintf(w, "Pages:\t%d (%d failed)\n", res.Stats.TotalPages, res.Stats.PagesFailed)
		fmt.Fprintf(w, "Values:\t%d\n", res.Stats.TotalValues)
		fmt.Fprintf(w, "Mean confidence:\t%.2f\n", res.Stats.MeanConfidence)
		fmt.Fprintf(w, "Estimated cost:\t$%.4f\n", res.Usage.Cost)
		if res.Stats.ProcessingError != "" {
			fmt.Fprintf(w, "Warning:\t%s\n", res.Stats.ProcessingError)
		}
		return w.Flush()
	},
}

func init() {
	extractCmd.Flags().String("profile", "", "extraction profile name")
	extractCmd.Flags().String("profiles", "profiles.yaml", "extraction profiles file")
	extractCmd.Flags().Float64("zoom", 0, "page render zoom (default from config)")
	rootCmd.AddCommand(extractCmd)
}

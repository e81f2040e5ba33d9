package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/deck-audit/internal/audit"
	"github.com/sells-group/deck-audit/internal/model"
	"github.com/sells-group/deck-audit/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the review API server",
	Long:  "Serves extraction sessions for review, accepts value corrections, and runs audits on request.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, "serve")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		mux := buildMux(ctx, st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: mux,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting review server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func buildMux(ctx context.Context, st store.Store) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /sessions", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		sessions, err := st.ListExtractionSessions(r.Context(), store.SessionFilter{
			Kind:  model.SessionKind(r.URL.Query().Get("kind")),
			Limit: limit,
		})
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("GET /sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		session, err := st.GetExtractionSession(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	})

	mux.HandleFunc("PATCH /sessions/{id}/values/{valueID}", func(w http.ResponseWriter, r *http.Request) {
		sessionID, valueID := r.PathValue("id"), r.PathValue("valueID")

		var req struct {
			RawValue        *string `json:"raw_value"`
			NormalizedValue *string `json:"normalized_value"`
			DataType        *string `json:"data_type"`
			SemanticMeaning *string `json:"semantic_meaning"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}

		patch := model.ValuePatch{
			RawValue:        req.RawValue,
			NormalizedValue: req.NormalizedValue,
			SemanticMeaning: req.SemanticMeaning,
		}
		if req.DataType != nil {
			dt := model.ParseDataType(*req.DataType)
			patch.DataType = &dt
		}

		// The field merge happens inside the store in one statement, so two
		// quick edits to different fields both land.
		value, err := st.PatchExtractedValue(r.Context(), sessionID, valueID, patch)
		if err != nil {
			if store.IsNotFound(err) {
				writeError(w, http.StatusNotFound, err)
				return
			}
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, value)
	})

	mux.HandleFunc("GET /audits", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		audits, err := st.ListAuditSessions(r.Context(), limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, audits)
	})

	mux.HandleFunc("GET /audits/{id}", func(w http.ResponseWriter, r *http.Request) {
		session, err := st.GetAuditSession(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeJSON(w, http.StatusOK, session)
	})

	mux.HandleFunc("POST /audits", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			PDFSessionID    string   `json:"pdf_session_id"`
			ExcelSessionIDs []string `json:"excel_session_ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.PDFSessionID == "" || len(req.ExcelSessionIDs) == 0 {
			http.Error(w, `{"error":"pdf_session_id and excel_session_ids are required"}`, http.StatusBadRequest)
			return
		}

		pdfSession, err := st.GetExtractionSession(r.Context(), req.PDFSessionID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}

		var sources []model.SourceValue
		for _, id := range req.ExcelSessionIDs {
			excelSession, err := st.GetExtractionSession(r.Context(), id)
			if err != nil {
				writeError(w, http.StatusNotFound, err)
				return
			}
			sources = append(sources, excelSession.Sources...)
		}

		auditSession, err := st.CreateAuditSession(r.Context(), req.PDFSessionID, req.ExcelSessionIDs)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}

		// Run the audit asynchronously against the server's lifetime
		// context, not the request's.
		go runAuditAsync(ctx, st, auditSession.ID, pdfSession.Values, sources)

		writeJSON(w, http.StatusAccepted, map[string]string{
			"audit_session_id": auditSession.ID,
			"status":           string(model.AuditStatusPending),
		})
	})

	return mux
}

// runAuditAsync drives one audit session through its lifecycle.
func runAuditAsync(ctx context.Context, st store.Store, auditID string, values []model.ExtractedValue, sources []model.SourceValue) {
	if err := st.UpdateAuditStatus(ctx, auditID, model.AuditStatusInProgress); err != nil {
		zap.L().Error("audit status update failed", zap.String("audit_id", auditID), zap.Error(err))
		return
	}

	engine := audit.New(newAnthropicClient(), auditOptions())

	report, err := engine.Run(ctx, values, sources)
	if err != nil {
		zap.L().Error("async audit failed", zap.String("audit_id", auditID), zap.Error(err))
		if serr := st.UpdateAuditStatus(ctx, auditID, model.AuditStatusFailed); serr != nil {
			zap.L().Error("failed to mark audit session failed", zap.Error(serr))
		}
		return
	}

	if err := st.CompleteAuditSession(ctx, auditID, report); err != nil {
		zap.L().Error("failed to complete audit session", zap.String("audit_id", auditID), zap.Error(err))
		return
	}
	zap.L().Info("async audit complete",
		zap.String("audit_id", auditID),
		zap.Float64("accuracy", report.Summary.OverallAccuracy),
		zap.String("risk", string(report.Summary.RiskAssessment)),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

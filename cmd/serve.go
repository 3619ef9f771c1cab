package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vecto-labs/triad-cli/internal/ledger"
	"github.com/vecto-labs/triad-cli/internal/model"
	"github.com/vecto-labs/triad-cli/internal/observability"
	"github.com/vecto-labs/triad-cli/internal/safety"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initTriad(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		// Periodic drift and SLA checks run for the server's lifetime.
		checker := observability.NewChecker(env.Monitor, cfg.Observability)
		go checker.Run(ctx)

		router := buildRouter(env)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: router,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// buildRouter assembles the API surface around an initialized environment.
func buildRouter(env *triadEnv) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	allowed := []string{"*"}
	if cfg != nil && cfg.Server.UIOrigin != "" {
		allowed = []string{cfg.Server.UIOrigin}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/blocks", handleBlocks(env))

	r.Route("/api/mlops", func(r chi.Router) {
		r.Get("/observability/metrics", handleMetrics(env))
		r.Get("/observability/drift", handleDrift(env))
		r.Get("/observability/sla", handleSLA(env))
		r.Get("/observability/prometheus", handlePrometheus(env))
		r.Get("/ledger/export", handleExport(env))
		r.Post("/deployment/promote", handlePromote(env))
		r.Post("/deployment/rollback", handleRollback(env))
		r.Get("/deployment/history", handleHistory(env))
	})

	return r
}

func handleBlocks(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var rc model.RideContext
		if err := json.NewDecoder(req.Body).Decode(&rc); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		outcome, err := env.Orchestrator.Execute(req.Context(), rc)
		if err != nil {
			zap.L().Error("pipeline run failed", zap.Error(err))
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}

		if outcome.Failure != nil {
			respondJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"job_id":  outcome.JobID,
				"failure": outcome.Failure,
			})
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"job_id": outcome.JobID,
			"plan":   outcome.Plan,
		})
	}
}

func handleMetrics(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		window := queryInt(req, "window_minutes", 60)
		summary, err := env.Monitor.Summary(req.Context(), window)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, summary)
	}
}

func handleDrift(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		current := queryInt(req, "current_window", cfg.Observability.CurrentWindowMinutes)
		baseline := queryInt(req, "baseline_window", cfg.Observability.BaselineWindowMinutes)
		report, err := env.Monitor.DetectDrift(req.Context(), current, baseline)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, report)
	}
}

func handleSLA(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		window := queryInt(req, "window_minutes", cfg.Observability.BaselineWindowMinutes)
		report, err := env.Monitor.CheckSLA(req.Context(), window)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, report)
	}
}

func handlePrometheus(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		window := queryInt(req, "window_minutes", 60)
		text, err := env.Monitor.PrometheusText(req.Context(), window)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(text))
	}
}

func handleExport(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		filter := ledger.ExportFilter{
			CallType: model.CallType(req.URL.Query().Get("call_type")),
		}
		if since := req.URL.Query().Get("since"); since != "" {
			ts, err := time.Parse(time.RFC3339, since)
			if err != nil {
				respondError(w, http.StatusBadRequest, "invalid since timestamp")
				return
			}
			filter.Since = ts
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		if _, err := env.Ledger.ExportCalls(req.Context(), w, filter); err != nil {
			// Headers already sent, just log.
			zap.L().Error("ledger export failed", zap.Error(err))
		}
	}
}

type promoteRequest struct {
	ModelID        string             `json:"model_id"`
	FromStage      string             `json:"from_stage"`
	ToStage        string             `json:"to_stage"`
	ReleaseToken   string             `json:"release_token,omitempty"`
	EvalMetrics    *model.EvalMetrics `json:"evaluation_metrics,omitempty"`
	EvaluationFile string             `json:"evaluation_file,omitempty"`
}

func handlePromote(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var pr promoteRequest
		if err := json.NewDecoder(req.Body).Decode(&pr); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		metrics := pr.EvalMetrics
		if metrics == nil && pr.EvaluationFile != "" {
			evaluation, err := loadEvaluationFile(pr.EvaluationFile)
			if err != nil {
				respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			metrics = &evaluation.Metrics
		}

		promotion, err := env.Guardrails.Promote(req.Context(), safety.PromotionRequest{
			ModelID:      pr.ModelID,
			From:         safety.Stage(pr.FromStage),
			To:           safety.Stage(pr.ToStage),
			ReleaseToken: pr.ReleaseToken,
			EvalMetrics:  metrics,
		})
		if err != nil {
			respondError(w, promoteStatus(err), err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"success":   true,
			"promotion": promotion,
		})
	}
}

// promoteStatus maps guardrail errors to HTTP status codes.
func promoteStatus(err error) int {
	var invalidErr *safety.InvalidTransitionError
	var missingErr *safety.MissingEvaluationError
	var unauthorizedErr *safety.UnauthorizedPromotionError
	switch {
	case errors.As(err, &unauthorizedErr):
		return http.StatusForbidden
	case errors.As(err, &invalidErr), errors.As(err, &missingErr):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func handleRollback(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var rr struct {
			ModelID string `json:"model_id"`
			Reason  string `json:"reason"`
		}
		if err := json.NewDecoder(req.Body).Decode(&rr); err != nil {
			respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		action, err := env.Guardrails.Rollback(req.Context(), rr.ModelID, rr.Reason)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"success":  true,
			"rollback": action,
		})
	}
}

func handleHistory(env *triadEnv) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		modelID := req.URL.Query().Get("model_id")
		limit := queryInt(req, "limit", 100)

		entries, err := env.Guardrails.History(modelID, limit)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"history": entries})
	}
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func queryInt(req *http.Request, key string, fallback int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

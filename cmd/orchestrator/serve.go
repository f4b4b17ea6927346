package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"nickel_agent/internal/domain"
	sqlitestore "nickel_agent/internal/store/sqlite"
)

var addrFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the analysis HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "http listen address override")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	a.failInterruptedRuns(ctx)

	addr := firstNonEmpty(addrFlag, cfg.Orchestrator.Addr, ":8091")
	server := &http.Server{
		Addr:              addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("orchestrator started",
			zap.String("addr", addr),
			zap.String("db", a.dbPath),
			zap.String("data", a.dataRoot),
			zap.Bool("model_drafting", cfg.Drafts.Enabled()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// failInterruptedRuns marks runs left running by a previous process as failed.
func (a *app) failInterruptedRuns(ctx context.Context) {
	runs, err := a.store.ListRuns(ctx, 500)
	if err != nil {
		a.logger.Warn("list runs for recovery failed", zap.Error(err))
		return
	}
	for _, run := range runs {
		if run.Status != domain.RunStatusRunning {
			continue
		}
		if err := a.store.FailRun(ctx, run.ID, "interrupted before completion"); err != nil {
			a.logger.Warn("mark interrupted run failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
}

func (a *app) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(a.loggingMiddleware)

	r.Get("/healthz", a.handleHealth)
	r.Get("/config", a.handleConfig)
	r.Route("/analyses", func(r chi.Router) {
		r.Get("/", a.handleListAnalyses)
		r.Post("/", a.handleCreateAnalysis)
		r.Route("/{runID}", func(r chi.Router) {
			r.Get("/", a.handleGetAnalysis)
			r.Get("/outputs", a.handleListOutputs)
			r.Get("/decisions", a.handleListDecisions)
		})
	})
	r.Get("/files/changes", a.handleListFileChanges)
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *app) handleConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"path": a.cfg.Path,
		"raw":  a.cfg.Raw,
	})
}

type analysisRequest struct {
	Question string          `json:"question"`
	Baseline json.RawMessage `json:"baseline"`
}

func (a *app) handleCreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysisRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid json body: %w", err))
		return
	}
	baseline, err := decodeBaseline(req.Baseline)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := a.service.Run(r.Context(), strings.TrimSpace(req.Question), baseline)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusCreated, state)
}

// decodeBaseline requires order_qty and current_stock to be present.
func decodeBaseline(raw json.RawMessage) (domain.Baseline, error) {
	if len(raw) == 0 {
		return domain.Baseline{}, fmt.Errorf("baseline is required")
	}
	var present map[string]json.RawMessage
	if err := json.Unmarshal(raw, &present); err != nil {
		return domain.Baseline{}, fmt.Errorf("invalid baseline: %w", err)
	}
	var b domain.Baseline
	if err := json.Unmarshal(raw, &b); err != nil {
		return domain.Baseline{}, fmt.Errorf("invalid baseline: %w", err)
	}
	_, hasStock := present["current_stock"]
	return b, validateBaseline(b, hasStock)
}

func validateBaseline(b domain.Baseline, hasStock bool) error {
	if b.OrderQty <= 0 {
		return fmt.Errorf("baseline order_qty is required and must be positive")
	}
	if !hasStock {
		return fmt.Errorf("baseline current_stock is required")
	}
	if b.CurrentStock < 0 {
		return fmt.Errorf("baseline current_stock must not be negative")
	}
	return nil
}

func (a *app) handleListAnalyses(w http.ResponseWriter, r *http.Request) {
	runs, err := a.store.ListRuns(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (a *app) handleGetAnalysis(w http.ResponseWriter, r *http.Request) {
	run, err := a.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (a *app) handleListOutputs(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListAgentOutputs(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *app) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListRunDecisions(r.Context(), chi.URLParam(r, "runID"), queryInt(r, "limit", 300))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *app) handleListFileChanges(w http.ResponseWriter, r *http.Request) {
	items, err := a.store.ListFileChanges(r.Context(), queryInt(r, "limit", 200))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, sqlitestore.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeError(w, http.StatusInternalServerError, err)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{
		"error": err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func (a *app) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func queryInt(r *http.Request, key string, def int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return def
	}
	return v
}

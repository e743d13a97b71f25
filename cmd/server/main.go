package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/liamcoop/dietrules/internal/config"
	"github.com/liamcoop/dietrules/internal/logger"
	"github.com/liamcoop/dietrules/internal/scheduler"
	"github.com/liamcoop/dietrules/internal/telemetry"
	"github.com/liamcoop/dietrules/rules"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	engine    *rules.Engine
	storeType string
	ping      func(ctx context.Context) error
	rateLimit int
	router    *chi.Mux
}

// ServerOptions configure the HTTP layer around an engine
type ServerOptions struct {
	// StoreType is reported by the health check
	StoreType string

	// Ping checks the backing database; nil means always healthy
	Ping func(ctx context.Context) error

	// RateLimitPerMinute limits API requests per client IP; 0 disables it
	RateLimitPerMinute int
}

func NewServer(engine *rules.Engine, opts ServerOptions) *Server {
	s := &Server{
		engine:    engine,
		storeType: opts.StoreType,
		ping:      opts.Ping,
		rateLimit: opts.RateLimitPerMinute,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(telemetry.Middleware)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if s.rateLimit > 0 {
			r.Use(httprate.LimitByIP(s.rateLimit, time.Minute))
		}

		// Health check
		r.Get("/health", s.handleHealth)

		// Rule management
		r.Route("/rules", func(r chi.Router) {
			r.Post("/", s.handleCreateRule)
			r.Get("/", s.handleListRules)

			r.Route("/{ruleId}", func(r chi.Router) {
				r.Get("/", s.handleGetRule)
				r.Patch("/", s.handleUpdateRule)
				r.Delete("/", s.handleDeleteRule)

				// Execution
				r.Post("/execute", s.handleExecuteRule)
				r.Get("/history", s.handleHistory)
				r.Get("/pending", s.handlePending)
			})
		})

		// Automation
		r.Post("/automation/recurring", s.handleRunRecurring)
		r.Post("/events", s.handleDispatchEvent)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Health check handler
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		if err := s.ping(r.Context()); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, HealthResponse{
				Status: "unhealthy",
				Store:  s.storeType,
				Error:  err.Error(),
			})
			return
		}
	}

	respondJSON(w, http.StatusOK, HealthResponse{
		Status:   "healthy",
		Store:    s.storeType,
		Counters: logger.Counters(),
	})
}

// Create rule handler
func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var rule rules.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	created, err := s.engine.CreateRule(r.Context(), &rule)
	if err != nil {
		respondEngineError(w, "failed to create rule", err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

// List rules handler
func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	coachID := r.URL.Query().Get("coachId")
	if coachID == "" {
		respondError(w, http.StatusBadRequest, "coachId is required", nil)
		return
	}

	list, err := s.engine.ListRules(r.Context(), coachID)
	if err != nil {
		respondEngineError(w, "failed to list rules", err)
		return
	}

	respondJSON(w, http.StatusOK, RulesListResponse{Rules: list})
}

// Get rule handler
func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.engine.GetRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondEngineError(w, "failed to get rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Update rule handler. Absent fields are left untouched.
func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var patch rules.RulePatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	rule, err := s.engine.UpdateRule(r.Context(), chi.URLParam(r, "ruleId"), patch)
	if err != nil {
		respondEngineError(w, "failed to update rule", err)
		return
	}

	respondJSON(w, http.StatusOK, rule)
}

// Delete rule handler
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.DeleteRule(r.Context(), chi.URLParam(r, "ruleId")); err != nil {
		respondEngineError(w, "failed to delete rule", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Execute rule handler
func (s *Server) handleExecuteRule(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.DietID == "" {
		respondError(w, http.StatusBadRequest, "dietId is required", nil)
		return
	}

	opts := rules.ExecuteOptions{
		Confirmed: req.Confirmed,
		Event:     req.Event,
		Trigger:   rules.TriggerManual,
	}
	if req.Day != "" {
		day, ok := rules.ParseWeekday(req.Day)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid day", errors.New(req.Day))
			return
		}
		opts.Day = day
	}

	exec, err := s.engine.ExecuteRule(r.Context(), chi.URLParam(r, "ruleId"), req.DietID, opts)
	if err != nil {
		respondEngineError(w, "failed to execute rule", err)
		return
	}

	respondJSON(w, http.StatusOK, exec)
}

// History handler, most recent first
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.engine.History(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondEngineError(w, "failed to load history", err)
		return
	}

	respondJSON(w, http.StatusOK, HistoryResponse{Executions: history})
}

// Pending confirmations handler
func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	pending, err := s.engine.PendingConfirmations(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		respondEngineError(w, "failed to load pending confirmations", err)
		return
	}

	respondJSON(w, http.StatusOK, PendingResponse{Pending: pending})
}

// Recurring sweep handler
func (s *Server) handleRunRecurring(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	execs, err := s.engine.RunRecurring(r.Context())
	if err != nil {
		respondEngineError(w, "recurring sweep failed", err)
		return
	}

	respondJSON(w, http.StatusOK, SweepResponse{
		Executions: execs,
		Count:      len(execs),
		Duration:   time.Since(startTime).String(),
	})
}

// Event dispatch handler
func (s *Server) handleDispatchEvent(w http.ResponseWriter, r *http.Request) {
	var ev rules.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	result, err := s.engine.DispatchEvent(r.Context(), ev)
	if err != nil {
		respondEngineError(w, "event dispatch failed", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// Helper functions
func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	switch {
	case status >= 500:
		logger.ErrorHttp5xx()
		logger.Error(message, "status", status, "error", err)
	case status >= 400:
		logger.WarnHttp4xx(status)
	}

	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

// respondEngineError maps engine errors to HTTP statuses
func respondEngineError(w http.ResponseWriter, message string, err error) {
	respondError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, rules.ErrRuleNotFound), errors.Is(err, rules.ErrDietNotFound):
		return http.StatusNotFound
	case errors.Is(err, rules.ErrRuleInactive),
		errors.Is(err, rules.ErrRuleOutOfScope),
		errors.Is(err, rules.ErrConfirmationRequired),
		errors.Is(err, rules.ErrRuleExists):
		return http.StatusConflict
	case errors.Is(err, rules.ErrInvalidRule), errors.Is(err, rules.ErrInvalidEvent):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal("invalid config", "error", err)
	}

	if err := logger.Setup(logger.Options{
		Level:           cfg.LogLevel,
		ErrorSampleRate: cfg.ErrorSampleRate,
		OTELEnabled:     cfg.OTELEnabled,
		ServiceName:     cfg.OTELServiceName,
	}); err != nil {
		logger.Warn("logger setup", "error", err)
	}
	telemetry.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to build application", "error", err)
	}
	defer app.Close()

	server := NewServer(app.engine, ServerOptions{
		StoreType:          cfg.StoreType,
		Ping:               app.ping,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	})

	var sched *scheduler.Scheduler
	if cfg.SweepEnabled {
		sched, err = startSweep(ctx, cfg, app.engine)
		if err != nil {
			logger.Fatal("failed to start recurring sweep", "error", err)
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown handling
	go func() {
		logger.Info("server starting", "addr", cfg.HTTPAddr, "env", cfg.AppEnv, "store", cfg.StoreType)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler shutdown", "error", err)
		}
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(shutdownCtx); err != nil {
		slog.Warn("logger shutdown", "error", err)
	}

	logger.Info("server stopped")
}

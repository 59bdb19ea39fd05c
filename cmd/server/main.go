package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/dstrachan/verdict/internal/logger"
	"github.com/dstrachan/verdict/probe"
	"github.com/dstrachan/verdict/validation"
)

type config struct {
	Port        string        `env:"PORT" envDefault:"8080"`
	DatabaseURL string        `env:"DATABASE_URL"`
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	RulesFile   string        `env:"RULES_FILE"`
	Workers     int           `env:"VALIDATE_WORKERS" envDefault:"4"`
	RuleTimeout time.Duration `env:"RULE_TIMEOUT" envDefault:"30s"`
}

type Server struct {
	db       *sql.DB
	registry validation.Registry
	executor *validation.Executor
	router   *chi.Mux
	log      *slog.Logger
}

// NewServer wires the registry (postgres when DATABASE_URL is set, in-memory
// otherwise), the HTTP probe retriever, and the executor.
func NewServer(cfg config, log *slog.Logger) (*Server, error) {
	var db *sql.DB
	var registry validation.Registry

	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
		registry = validation.NewPostgresRegistry(db)
	} else {
		registry = validation.NewInMemoryRegistry()
	}

	srv := newServer(registry, probe.NewHTTPRetriever(nil), log, cfg)
	srv.db = db

	if cfg.RulesFile != "" {
		rules, err := validation.LoadRules(cfg.RulesFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load rule file: %w", err)
		}
		for _, rule := range rules {
			if err := registry.Add(rule); err != nil && !errors.Is(err, validation.ErrDuplicateRule) {
				return nil, fmt.Errorf("failed to register rule %s: %w", rule.ID, err)
			}
		}
		log.Info("loaded rule file", "path", cfg.RulesFile, "rules", len(rules))
	}

	return srv, nil
}

// newServer assembles the server around explicit collaborators; tests use it
// to substitute the registry and retriever.
func newServer(registry validation.Registry, retriever validation.Retriever, log *slog.Logger, cfg config) *Server {
	executor := validation.NewExecutor(registry, retriever,
		validation.WithLogger(log),
		validation.WithWorkers(cfg.Workers),
		validation.WithRuleTimeout(cfg.RuleTimeout),
	)

	s := &Server{
		registry: registry,
		executor: executor,
		log:      log,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)

	r.Route("/api/v1/rules", func(r chi.Router) {
		r.Get("/", s.handleListRules)
		r.Post("/", s.handleCreateRule)
		r.Delete("/", s.handleClearRules)

		r.Route("/{ruleId}", func(r chi.Router) {
			r.Get("/", s.handleGetRule)
			r.Put("/", s.handleUpdateRule)
			r.Delete("/", s.handleDeleteRule)
			r.Post("/enable", s.handleEnableRule)
			r.Post("/disable", s.handleDisableRule)
		})
	})

	r.Post("/api/v1/validate", s.handleValidateAll)
	r.Post("/api/v1/validate/{ruleId}", s.handleValidateRule)

	r.Route("/api/v1/results", func(r chi.Router) {
		r.Get("/", s.handleResults)
		r.Delete("/", s.handleClearResults)
		r.Get("/summary", s.handleSummary)
		r.Get("/export", s.handleExport)
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.db != nil {
		if err := s.db.Ping(); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	var rules []*validation.Rule
	var err error

	switch r.URL.Query().Get("state") {
	case "enabled":
		rules, err = s.registry.ListEnabled()
	case "disabled":
		rules, err = s.registry.ListDisabled()
	default:
		rules, err = s.registry.List()
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list rules", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required", nil)
		return
	}

	rule := req.toRule()
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}

	if err := s.registry.Add(rule); err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, validation.ErrDuplicateRule) {
			status = http.StatusConflict
		}
		respondError(w, status, "failed to add rule", err)
		return
	}

	created, err := s.registry.Get(rule.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load created rule", err)
		return
	}
	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := s.registry.Get(chi.URLParam(r, "ruleId"))
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "ruleId")

	var req rulePatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := s.registry.Update(ruleID, req.toPatch()); err != nil {
		if errors.Is(err, validation.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusBadRequest, "failed to update rule", err)
		return
	}

	rule, err := s.registry.Get(ruleID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load updated rule", err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Remove(chi.URLParam(r, "ruleId")); err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearRules(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Clear(); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to clear rules", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEnableRule(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, true)
}

func (s *Server) handleDisableRule(w http.ResponseWriter, r *http.Request) {
	s.setEnabled(w, r, false)
}

func (s *Server) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	ruleID := chi.URLParam(r, "ruleId")

	var err error
	if enabled {
		err = s.registry.Enable(ruleID)
	} else {
		err = s.registry.Disable(ruleID)
	}
	if err != nil {
		respondError(w, http.StatusNotFound, "rule not found", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"id": ruleID, "enabled": enabled})
}

func (s *Server) handleValidateAll(w http.ResponseWriter, r *http.Request) {
	_, err := s.executor.ValidateAll(r.Context())
	if err != nil {
		if errors.Is(err, validation.ErrRunInFlight) {
			respondError(w, http.StatusConflict, "a validation run is already in flight", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "validation run failed", err)
		return
	}

	respondJSON(w, http.StatusOK, s.executor.Export())
}

func (s *Server) handleValidateRule(w http.ResponseWriter, r *http.Request) {
	result, err := s.executor.ValidateRule(r.Context(), chi.URLParam(r, "ruleId"))
	if err != nil {
		if errors.Is(err, validation.ErrRuleNotFound) {
			respondError(w, http.StatusNotFound, "rule not found", err)
			return
		}
		respondError(w, http.StatusInternalServerError, "validation failed", err)
		return
	}

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	results := s.executor.Results()

	query := r.URL.Query()
	switch query.Get("outcome") {
	case "failed":
		results = validation.FailedResults(results)
	case "passed":
		results = validation.PassedResults(results)
	}
	if sev := query.Get("severity"); sev != "" {
		results = validation.ResultsBySeverity(results, validation.Severity(sev))
	}
	if cat := query.Get("category"); cat != "" {
		results = validation.ResultsByCategory(results, cat)
	}

	respondJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.executor.Summary())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.executor.Export())
}

func (s *Server) handleClearResults(w http.ResponseWriter, r *http.Request) {
	s.executor.ClearResults()
	w.WriteHeader(http.StatusNoContent)
}

func main() {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(os.Stdout, cfg.LogLevel)

	server, err := NewServer(cfg, log)
	if err != nil {
		log.Error("failed to create server", "error", err)
		os.Exit(1)
	}
	if server.db != nil {
		defer server.db.Close()
	}

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("shutdown error", "error", err)
	}
	log.Info("server stopped")
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/liamcoop/fairscore/internal/config"
	"github.com/liamcoop/fairscore/internal/harness"
	"github.com/liamcoop/fairscore/internal/logger"
)

// Server exposes stored runs and on-demand scoring over HTTP.
type Server struct {
	harness *harness.Harness
	router  *chi.Mux
	started time.Time
}

// NewServer creates a server around an initialized harness.
func NewServer(h *harness.Harness) *Server {
	s := &Server{
		harness: h,
		started: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/api/v1/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/api/v1/score", s.handleScore)

	r.Route("/api/v1/runs", func(r chi.Router) {
		r.Get("/", s.handleListRuns)

		r.Route("/{runId}", func(r chi.Router) {
			r.Get("/", s.handleGetRun)
			r.Get("/rows", s.handleListRows)
			r.Get("/summary", s.handleGetSummary)
		})
	})

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// requestLogger logs each request and feeds the logger's HTTP counters.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		switch {
		case status >= 500:
			logger.ErrorHttp5xx()
		case status >= 400:
			logger.WarnHttp4xx(status)
		}

		logger.Logger.Info("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	response := ErrorResponse{Error: message}
	if err != nil {
		response.Details = err.Error()
	}
	respondJSON(w, status, response)
}

func main() {
	configPath := flag.String("config", os.Getenv("FAIRSCORE_CONFIG"), "Path to YAML config")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, err := logger.Setup(ctx, logger.FromEnv("fairscore-server")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Shutdown(context.Background())

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}

	h, err := harness.New(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Fatal("Failed to initialize harness", "error", err)
	}
	defer h.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      NewServer(h),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Logger.Info("Server starting", "port", cfg.Server.Port, "backends", h.Driver().Backends())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", "error", err)
		}
	}()

	<-ctx.Done()

	logger.Logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("Server shutdown error", "error", err)
	}

	logger.Logger.Info("Server stopped")
}

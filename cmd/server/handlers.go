package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/internal/logger"
	"github.com/liamcoop/fairscore/store"
	"github.com/liamcoop/fairscore/verdict"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

var validate = validator.New()

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:   "healthy",
		Store:    "memory",
		Uptime:   uptime(s.started),
		Counters: logger.Counters(),
	}

	for _, b := range s.harness.Backends() {
		st := BackendStatus{Name: b.Name(), Remote: b.Remote(), Ready: true}
		if err := b.Ready(); err != nil {
			st.Ready = false
			st.Reason = err.Error()
		}
		resp.Backends = append(resp.Backends, st)
	}

	status := http.StatusOK
	if db := s.harness.DB(); db != nil {
		resp.Store = "postgres"
		if err := db.PingContext(r.Context()); err != nil {
			resp.Status = "unhealthy"
			resp.Error = err.Error()
			status = http.StatusServiceUnavailable
		}
	}

	respondJSON(w, status, resp)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err)
		return
	}

	truth := verdict.Unknown
	if req.GroundTruth != "" {
		truth, _ = verdict.Lookup(req.GroundTruth)
	}

	rec, err := applicant.FromValues(req.ID, req.Attributes, truth, s.harness.Config().Schema())
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid applicant", err)
		return
	}

	start := time.Now()
	row, skipped, err := s.harness.Driver().Evaluate(r.Context(), rec)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "evaluation interrupted", err)
		return
	}

	respondJSON(w, http.StatusOK, ScoreResponse{
		Row:            row,
		Skipped:        skipped,
		EvaluationTime: time.Since(start).String(),
	})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}

	runs, err := s.harness.Store().ListRuns(r.Context(), min(limit, maxPageSize))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []*store.Run{}
	}

	respondJSON(w, http.StatusOK, RunsListResponse{Runs: runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.harness.Store().GetRun(r.Context(), chi.URLParam(r, "runId"))
	if err != nil {
		respondStoreError(w, "failed to get run", err)
		return
	}
	respondJSON(w, http.StatusOK, run)
}

func (s *Server) handleListRows(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")

	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid offset", err)
		return
	}
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid limit", err)
		return
	}

	rows, err := s.harness.Store().Rows(r.Context(), runID, offset, min(limit, maxPageSize))
	if err != nil {
		respondStoreError(w, "failed to list rows", err)
		return
	}

	respondJSON(w, http.StatusOK, RowsResponse{RunID: runID, Offset: offset, Rows: rows})
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")

	summary, err := s.harness.Store().Summary(r.Context(), runID)
	if err != nil {
		respondStoreError(w, "failed to get summary", err)
		return
	}
	if summary == nil {
		respondError(w, http.StatusConflict, "run has no summary yet", nil)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="`+runID+`.csv"`)
		if err := summary.WriteCSV(w); err != nil {
			logger.Error("Failed to stream summary", "run_id", runID, "error", err)
		}
		return
	}

	respondJSON(w, http.StatusOK, summary)
}

func uptime(since time.Time) string {
	return time.Since(since).Round(time.Second).String()
}

func respondStoreError(w http.ResponseWriter, message string, err error) {
	if errors.Is(err, store.ErrRunNotFound) {
		respondError(w, http.StatusNotFound, "run not found", err)
		return
	}
	respondError(w, http.StatusInternalServerError, message, err)
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New(name + " must not be negative")
	}
	return n, nil
}

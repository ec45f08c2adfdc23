package main

import (
	"github.com/liamcoop/fairscore/evaluation"
	"github.com/liamcoop/fairscore/store"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// BackendStatus reports whether a backend can score.
type BackendStatus struct {
	Name   string `json:"name"`
	Remote bool   `json:"remote"`
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// HealthResponse is returned by GET /api/v1/health.
type HealthResponse struct {
	Status   string           `json:"status"`
	Store    string           `json:"store"`
	Error    string           `json:"error,omitempty"`
	Uptime   string           `json:"uptime"`
	Backends []BackendStatus  `json:"backends"`
	Counters map[string]int64 `json:"counters"`
}

// ScoreRequest is the body of POST /api/v1/score.
type ScoreRequest struct {
	ID         string         `json:"id" validate:"required"`
	Attributes map[string]any `json:"attributes" validate:"required"`
	// GroundTruth is optional: "Good", "Bad" or empty.
	GroundTruth string `json:"ground_truth" validate:"omitempty,oneof=Good Bad good bad"`
}

// ScoreResponse carries one evaluated applicant.
type ScoreResponse struct {
	Row            evaluation.Row              `json:"row"`
	Skipped        []evaluation.SkippedBackend `json:"skipped,omitempty"`
	EvaluationTime string                      `json:"evaluation_time"`
}

// RunsListResponse is returned by GET /api/v1/runs.
type RunsListResponse struct {
	Runs []*store.Run `json:"runs"`
}

// RowsResponse is returned by GET /api/v1/runs/{runId}/rows.
type RowsResponse struct {
	RunID  string           `json:"run_id"`
	Offset int              `json:"offset"`
	Rows   []evaluation.Row `json:"rows"`
}

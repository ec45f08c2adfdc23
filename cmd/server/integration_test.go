//go:build integration

package main

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/liamcoop/fairscore/internal/config"
	"github.com/liamcoop/fairscore/internal/harness"
	"github.com/liamcoop/fairscore/metrics"
	"github.com/liamcoop/fairscore/store"
)

// startPostgres runs PostgreSQL in a container and returns its URL
func startPostgres(t *testing.T) string {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "password",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { postgres.Terminate(ctx) })

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return fmt.Sprintf("postgres://postgres:password@%s:%s/testdb?sslmode=disable", host, port.Port())
}

// TestEndToEnd_RunPersistedAndServed runs an evaluation against Postgres and
// reads it back through the API:
// 1. Build the harness with DATABASE_URL (migrations applied on startup)
// 2. Execute a run
// 3. List, fetch, page rows and read the summary over HTTP
func TestEndToEnd_RunPersistedAndServed(t *testing.T) {
	cfg := config.Default()
	cfg.Data.Path = "../../internal/harness/testdata/applicants.csv"
	cfg.Spacing = -1
	cfg.Backends = []config.BackendConfig{
		{Kind: config.KindClassifier, Artifact: "../../models/benchmark_scorecard.yaml"},
	}
	cfg.Output.Path = t.TempDir() + "/summary.csv"
	cfg.Store.DatabaseURL = startPostgres(t)

	ctx := context.Background()
	h, err := harness.New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("harness.New failed: %v", err)
	}
	defer h.Close()

	if _, ok := h.Store().(*store.PostgresRunStore); !ok {
		t.Fatalf("store is %T, want *store.PostgresRunStore", h.Store())
	}

	applicants, err := h.LoadApplicants("")
	if err != nil {
		t.Fatalf("LoadApplicants failed: %v", err)
	}
	res, err := h.Execute(ctx, applicants, cfg.Data.Path)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	srv := httptest.NewServer(NewServer(h))
	defer srv.Close()
	s := NewServer(h)

	t.Log("Step 1: health reports postgres")
	health := decode[HealthResponse](t, do(t, s, http.MethodGet, "/api/v1/health", nil))
	if health.Store != "postgres" || health.Status != "healthy" {
		t.Errorf("health = %+v", health)
	}

	t.Log("Step 2: run is listed")
	list := decode[RunsListResponse](t, do(t, s, http.MethodGet, "/api/v1/runs", nil))
	if len(list.Runs) != 1 || list.Runs[0].ID != res.Report.RunID || list.Runs[0].Status != store.StatusCompleted {
		t.Fatalf("runs = %+v", list.Runs)
	}

	t.Log("Step 3: rows come back in order")
	rows := decode[RowsResponse](t, do(t, s, http.MethodGet, "/api/v1/runs/"+res.Report.RunID+"/rows", nil))
	if len(rows.Rows) != len(applicants) {
		t.Fatalf("got %d rows, want %d", len(rows.Rows), len(applicants))
	}
	for i, row := range rows.Rows {
		if row.ApplicantID != applicants[i].ID() {
			t.Errorf("row %d is %s, want %s", i, row.ApplicantID, applicants[i].ID())
		}
	}

	t.Log("Step 4: summary matches the run result")
	summary := decode[metrics.Summary](t, do(t, s, http.MethodGet, "/api/v1/runs/"+res.Report.RunID+"/summary", nil))
	if summary.Rows != res.Summary.Rows || summary.Models[0].Accuracy != res.Summary.Models[0].Accuracy {
		t.Errorf("summary = %+v, want %+v", summary, res.Summary)
	}

	t.Log("Step 5: the API answers over a real listener")
	resp, err := http.Get(srv.URL + "/api/v1/runs/" + res.Report.RunID)
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}

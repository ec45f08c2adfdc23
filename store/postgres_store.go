package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/fairscore/evaluation"
	"github.com/liamcoop/fairscore/metrics"
	"github.com/liamcoop/fairscore/verdict"
)

// PostgresRunStore implements RunStore backed by PostgreSQL.
type PostgresRunStore struct {
	db *sql.DB
}

// NewPostgresRunStore creates a store over an open database. The schema is
// created by the migrations package.
func NewPostgresRunStore(db *sql.DB) *PostgresRunStore {
	return &PostgresRunStore{db: db}
}

// BeginRun inserts the run header.
func (s *PostgresRunStore) BeginRun(ctx context.Context, report *evaluation.Report) error {
	backends, skipped, attributes, err := marshalHeader(report)
	if err != nil {
		return err
	}

	var exists bool
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM runs WHERE id = $1)
	`, report.RunID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check run existence: %w", err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrRunExists, report.RunID)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, status, dataset, backends, skipped, attributes, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, report.RunID, StatusRunning, report.Source, backends, skipped, attributes, report.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// AppendRow stores row with the next sequence number of its run.
func (s *PostgresRunStore) AppendRow(ctx context.Context, runID string, row evaluation.Row) error {
	results, err := json.Marshal(row.Results)
	if err != nil {
		return fmt.Errorf("failed to encode row results: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var seq int
	err = tx.QueryRowContext(ctx, `
		UPDATE runs SET row_count = row_count + 1
		WHERE id = $1
		RETURNING row_count
	`, runID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return fmt.Errorf("failed to advance row count: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO evaluation_rows (run_id, seq, applicant_id, ground_truth, results)
		VALUES ($1, $2, $3, $4, $5)
	`, runID, seq, row.ApplicantID, row.GroundTruth.String(), string(results))
	if err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}

	return tx.Commit()
}

// FinishRun sets the terminal status and summary.
func (s *PostgresRunStore) FinishRun(ctx context.Context, runID string, summary *metrics.Summary, runErr error) error {
	status, message := StatusCompleted, ""
	if runErr != nil {
		status, message = StatusFailed, runErr.Error()
	}

	var encoded []byte
	if summary != nil {
		var err error
		if encoded, err = json.Marshal(summary); err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = $1, error = $2, summary = $3, finished_at = $4
		WHERE id = $5
	`, status, message, nullableJSON(encoded), time.Now().UTC(), runID)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	return nil
}

const runColumns = `id, status, dataset, backends, skipped, attributes, row_count, error, started_at, finished_at`

// GetRun retrieves a run header by id.
func (s *PostgresRunStore) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first.
func (s *PostgresRunStore) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+`
		FROM runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Rows returns rows of a run in evaluation order.
func (s *PostgresRunStore) Rows(ctx context.Context, runID string, offset, limit int) ([]evaluation.Row, error) {
	if _, err := s.GetRun(ctx, runID); err != nil {
		return nil, err
	}

	query := `
		SELECT applicant_id, ground_truth, results
		FROM evaluation_rows
		WHERE run_id = $1
		ORDER BY seq ASC
		OFFSET $2`
	args := []any{runID, max(offset, 0)}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rows: %w", err)
	}
	defer rows.Close()

	out := []evaluation.Row{}
	for rows.Next() {
		var (
			r       evaluation.Row
			truth   string
			results []byte
		)
		if err := rows.Scan(&r.ApplicantID, &truth, &results); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if r.GroundTruth, err = verdict.Lookup(truth); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(results, &r.Results); err != nil {
			return nil, fmt.Errorf("failed to decode row results: %w", err)
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return out, nil
}

// Summary returns the stored summary, nil when the run has not finished.
func (s *PostgresRunStore) Summary(ctx context.Context, runID string) (*metrics.Summary, error) {
	var encoded []byte
	err := s.db.QueryRowContext(ctx, `SELECT summary FROM runs WHERE id = $1`, runID).Scan(&encoded)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get summary: %w", err)
	}
	if encoded == nil {
		return nil, nil
	}

	var summary metrics.Summary
	if err := json.Unmarshal(encoded, &summary); err != nil {
		return nil, fmt.Errorf("failed to decode summary: %w", err)
	}
	return &summary, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var (
		run                           Run
		backends, skipped, attributes []byte
		finished                      sql.NullTime
	)
	if err := row.Scan(&run.ID, &run.Status, &run.Dataset, &backends, &skipped, &attributes,
		&run.RowCount, &run.Error, &run.StartedAt, &finished); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(backends, &run.Backends); err != nil {
		return nil, fmt.Errorf("failed to decode backends: %w", err)
	}
	if err := json.Unmarshal(skipped, &run.Skipped); err != nil {
		return nil, fmt.Errorf("failed to decode skipped backends: %w", err)
	}
	if err := json.Unmarshal(attributes, &run.Attributes); err != nil {
		return nil, fmt.Errorf("failed to decode attributes: %w", err)
	}
	if finished.Valid {
		t := finished.Time
		run.FinishedAt = &t
	}
	return &run, nil
}

// marshalHeader encodes the JSONB columns as strings; lib/pq sends []byte as bytea.
func marshalHeader(report *evaluation.Report) (backends, skipped, attributes string, err error) {
	if backends, err = encodeJSON(nonNil(report.Backends)); err != nil {
		return "", "", "", fmt.Errorf("failed to encode backends: %w", err)
	}
	if skipped, err = encodeJSON(nonNil(report.Skipped)); err != nil {
		return "", "", "", fmt.Errorf("failed to encode skipped backends: %w", err)
	}
	if attributes, err = encodeJSON(nonNil(report.Attributes)); err != nil {
		return "", "", "", fmt.Errorf("failed to encode attributes: %w", err)
	}
	return backends, skipped, attributes, nil
}

func encodeJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func nullableJSON(b []byte) any {
	if b == nil {
		return nil
	}
	return string(b)
}

// Package store persists evaluation runs, their rows and summaries.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/liamcoop/fairscore/counterfactual"
	"github.com/liamcoop/fairscore/evaluation"
	"github.com/liamcoop/fairscore/metrics"
)

var (
	// ErrRunNotFound is returned for unknown run ids.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunExists is returned when a run id is recorded twice.
	ErrRunExists = errors.New("run already exists")
)

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Run is the persisted header of an evaluation run.
type Run struct {
	ID         string                      `json:"id"`
	Status     string                      `json:"status"`
	Dataset    string                      `json:"dataset,omitempty"`
	Backends   []string                    `json:"backends"`
	Skipped    []evaluation.SkippedBackend `json:"skipped,omitempty"`
	Attributes []counterfactual.Attribute  `json:"attributes"`
	RowCount   int                         `json:"row_count"`
	Error      string                      `json:"error,omitempty"`
	StartedAt  time.Time                   `json:"started_at"`
	FinishedAt *time.Time                  `json:"finished_at,omitempty"`
}

// RunStore persists runs. It satisfies evaluation.Sink so a driver can stream
// rows into it.
type RunStore interface {
	// BeginRun records a new running run from the report header
	BeginRun(ctx context.Context, report *evaluation.Report) error

	// AppendRow adds the next row of a run
	AppendRow(ctx context.Context, runID string, row evaluation.Row) error

	// FinishRun marks a run completed with its summary, or failed when runErr is set
	FinishRun(ctx context.Context, runID string, summary *metrics.Summary, runErr error) error

	// GetRun returns one run
	GetRun(ctx context.Context, runID string) (*Run, error)

	// ListRuns returns the most recent runs first
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	// Rows returns rows of a run in evaluation order
	Rows(ctx context.Context, runID string, offset, limit int) ([]evaluation.Row, error)

	// Summary returns the stored summary, nil while the run has none
	Summary(ctx context.Context, runID string) (*metrics.Summary, error)
}

var (
	_ RunStore = (*InMemoryRunStore)(nil)
	_ RunStore = (*PostgresRunStore)(nil)

	_ evaluation.Sink = RunStore(nil)
)

// InMemoryRunStore implements RunStore with maps. Thread-safe.
type InMemoryRunStore struct {
	runs      map[string]*Run
	rows      map[string][]evaluation.Row
	summaries map[string]*metrics.Summary
	mu        sync.RWMutex
}

// NewInMemoryRunStore creates an empty store.
func NewInMemoryRunStore() *InMemoryRunStore {
	return &InMemoryRunStore{
		runs:      make(map[string]*Run),
		rows:      make(map[string][]evaluation.Row),
		summaries: make(map[string]*metrics.Summary),
	}
}

func (s *InMemoryRunStore) BeginRun(_ context.Context, report *evaluation.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[report.RunID]; exists {
		return fmt.Errorf("%w: %s", ErrRunExists, report.RunID)
	}

	s.runs[report.RunID] = runFromReport(report)
	return nil
}

func (s *InMemoryRunStore) AppendRow(_ context.Context, runID string, row evaluation.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	s.rows[runID] = append(s.rows[runID], row)
	run.RowCount++
	return nil
}

func (s *InMemoryRunStore) FinishRun(_ context.Context, runID string, summary *metrics.Summary, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, exists := s.runs[runID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	now := time.Now().UTC()
	run.FinishedAt = &now
	run.Status = StatusCompleted
	if runErr != nil {
		run.Status = StatusFailed
		run.Error = runErr.Error()
	}
	if summary != nil {
		copied := summary.Clone()
		s.summaries[runID] = &copied
	}
	return nil
}

func (s *InMemoryRunStore) GetRun(_ context.Context, runID string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, exists := s.runs[runID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return cloneRun(run), nil
}

func (s *InMemoryRunStore) ListRuns(_ context.Context, limit int) ([]*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.After(runs[j].StartedAt)
	})

	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *InMemoryRunStore) Rows(_ context.Context, runID string, offset, limit int) ([]evaluation.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.runs[runID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	rows := s.rows[runID]
	if offset >= len(rows) {
		return []evaluation.Row{}, nil
	}
	rows = rows[max(offset, 0):]
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return slices.Clone(rows), nil
}

func (s *InMemoryRunStore) Summary(_ context.Context, runID string) (*metrics.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, exists := s.runs[runID]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	summary, ok := s.summaries[runID]
	if !ok {
		return nil, nil
	}
	copied := summary.Clone()
	return &copied, nil
}

func runFromReport(report *evaluation.Report) *Run {
	return &Run{
		ID:         report.RunID,
		Status:     StatusRunning,
		Dataset:    report.Source,
		Backends:   slices.Clone(report.Backends),
		Skipped:    slices.Clone(report.Skipped),
		Attributes: slices.Clone(report.Attributes),
		StartedAt:  report.StartedAt,
	}
}

func cloneRun(run *Run) *Run {
	c := *run
	c.Backends = slices.Clone(run.Backends)
	c.Skipped = slices.Clone(run.Skipped)
	c.Attributes = slices.Clone(run.Attributes)
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

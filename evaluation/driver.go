// Package evaluation drives every scoring backend over applicants and their
// counterfactuals, one applicant at a time.
package evaluation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/backend"
	"github.com/liamcoop/fairscore/counterfactual"
	"github.com/liamcoop/fairscore/internal/telemetry"
	"github.com/liamcoop/fairscore/verdict"
)

const progressEvery = 50

// Sink receives a run as it is produced. BeginRun sees the report before any
// row is evaluated.
type Sink interface {
	BeginRun(ctx context.Context, report *Report) error
	AppendRow(ctx context.Context, runID string, row Row) error
}

// Config configures a Driver.
type Config struct {
	Attributes []counterfactual.Attribute
	Logger     *slog.Logger
}

// Driver evaluates applicants. Runs are serialized so one driver can be shared
// without interleaving calls to the same backends. Remote call spacing is
// enforced below the backends by llm.PacedGenerator, once per request.
type Driver struct {
	backends   []backend.Scorer
	generator  *counterfactual.Generator
	attributes []counterfactual.Attribute
	logger     *slog.Logger
	now        func() time.Time
	mu         sync.Mutex
}

// NewDriver validates the attribute list and builds a driver.
func NewDriver(backends []backend.Scorer, generator *counterfactual.Generator, cfg Config) (*Driver, error) {
	if generator == nil {
		return nil, fmt.Errorf("counterfactual generator is required")
	}

	attrs := make([]counterfactual.Attribute, 0, len(cfg.Attributes))
	for _, raw := range cfg.Attributes {
		attr, err := counterfactual.ParseAttribute(string(raw))
		if err != nil {
			return nil, err
		}
		if slices.Contains(attrs, attr) {
			return nil, fmt.Errorf("duplicate protected attribute %q", attr)
		}
		attrs = append(attrs, attr)
	}

	names := make(map[string]bool, len(backends))
	for _, b := range backends {
		if names[b.Name()] {
			return nil, fmt.Errorf("duplicate backend name %q", b.Name())
		}
		names[b.Name()] = true
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Driver{
		backends:   backends,
		generator:  generator,
		attributes: attrs,
		logger:     cfg.Logger,
		now:        time.Now,
	}, nil
}

// Attributes returns the protected attributes tested by the driver.
func (d *Driver) Attributes() []counterfactual.Attribute {
	return append([]counterfactual.Attribute(nil), d.attributes...)
}

// Backends returns the configured backend names, ready or not.
func (d *Driver) Backends() []string {
	names := make([]string, len(d.backends))
	for i, b := range d.backends {
		names[i] = b.Name()
	}
	return names
}

// RunOptions configures one run.
type RunOptions struct {
	// Source names the applicant input in the report.
	Source string
	// Sink, when set, receives rows as soon as they are complete.
	Sink Sink
}

// Run evaluates applicants in order and returns one row per applicant. Backend
// failures never drop a row; only an empty input, a sink failure or a
// cancelled ctx abort the run.
func (d *Driver) Run(ctx context.Context, applicants []applicant.Record, opts RunOptions) (*Report, error) {
	if len(applicants) == 0 {
		return nil, applicant.ErrNoApplicants
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	active, skipped := d.partition()

	report := &Report{
		RunID:      uuid.NewString(),
		Source:     opts.Source,
		StartedAt:  d.now().UTC(),
		Attributes: d.Attributes(),
		Backends:   make([]string, len(active)),
		Skipped:    skipped,
		Rows:       make([]Row, 0, len(applicants)),
	}
	for i, b := range active {
		report.Backends[i] = b.Name()
	}

	sink := opts.Sink
	if sink != nil {
		if err := sink.BeginRun(ctx, report); err != nil {
			telemetry.RecordRun("failed")
			return nil, fmt.Errorf("failed to record run: %w", err)
		}
	}

	d.logger.Info("Starting evaluation run",
		"run_id", report.RunID,
		"applicants", len(applicants),
		"backends", report.Backends,
		"attributes", report.Attributes)

	for i, rec := range applicants {
		row, err := d.evaluate(ctx, active, rec)
		if err != nil {
			telemetry.RecordRun("failed")
			return report, fmt.Errorf("applicant %s: %w", rec.ID(), err)
		}

		if sink != nil {
			if err := sink.AppendRow(ctx, report.RunID, row); err != nil {
				telemetry.RecordRun("failed")
				return report, fmt.Errorf("failed to persist row for %s: %w", rec.ID(), err)
			}
		}

		report.Rows = append(report.Rows, row)
		telemetry.RecordRow()

		if (i+1)%progressEvery == 0 {
			d.logger.Info("Evaluation progress", "run_id", report.RunID, "done", i+1, "total", len(applicants))
		}
	}

	report.FinishedAt = d.now().UTC()
	telemetry.RecordRun("completed")

	d.logger.Info("Evaluation run complete",
		"run_id", report.RunID,
		"rows", len(report.Rows),
		"duration", report.FinishedAt.Sub(report.StartedAt))

	return report, nil
}

// Evaluate scores a single applicant with every ready backend.
func (d *Driver) Evaluate(ctx context.Context, rec applicant.Record) (Row, []SkippedBackend, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	active, skipped := d.partition()
	row, err := d.evaluate(ctx, active, rec)
	return row, skipped, err
}

func (d *Driver) partition() (active []backend.Scorer, skipped []SkippedBackend) {
	for _, b := range d.backends {
		if err := b.Ready(); err != nil {
			reason := "unavailable"
			if errors.Is(err, backend.ErrModelNotLoaded) {
				reason = "model_not_loaded"
			}
			d.logger.Warn("Skipping backend", "backend", b.Name(), "error", err)
			telemetry.RecordSkippedBackend(b.Name(), reason)
			skipped = append(skipped, SkippedBackend{Name: b.Name(), Reason: err.Error()})
			continue
		}
		active = append(active, b)
	}
	return active, skipped
}

func (d *Driver) evaluate(ctx context.Context, active []backend.Scorer, rec applicant.Record) (Row, error) {
	row := Row{
		ApplicantID: rec.ID(),
		GroundTruth: rec.Label(),
		Results:     make([]ModelResult, len(active)),
	}

	for i, b := range active {
		v, err := d.score(ctx, b, rec)
		if err != nil {
			return Row{}, err
		}
		row.Results[i] = ModelResult{
			Backend:         b.Name(),
			Original:        v,
			Counterfactuals: make([]AttributeResult, 0, len(d.attributes)),
		}
	}

	for _, attr := range d.attributes {
		cf, err := d.generator.Counterfactual(rec, attr)
		if err != nil {
			return Row{}, err
		}

		for i, b := range active {
			v, err := d.score(ctx, b, cf.Applicant)
			if err != nil {
				return Row{}, err
			}
			row.Results[i].Counterfactuals = append(row.Results[i].Counterfactuals, AttributeResult{
				Attribute: attr,
				Verdict:   v,
				Changed:   v != row.Results[i].Original,
			})
		}
	}

	return row, nil
}

// score absorbs backend errors into Unknown. Only a cancelled ctx is returned.
func (d *Driver) score(ctx context.Context, b backend.Scorer, rec applicant.Record) (verdict.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return verdict.Unknown, err
	}

	v, err := b.Score(ctx, rec)
	if err != nil {
		d.logger.Warn("Backend failed to score applicant",
			"backend", b.Name(),
			"applicant", rec.ID(),
			"error", err)
		return verdict.Unknown, nil
	}
	return v, nil
}

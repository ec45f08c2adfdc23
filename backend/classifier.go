package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/internal/telemetry"
	"github.com/liamcoop/fairscore/scorecard"
	"github.com/liamcoop/fairscore/verdict"
)

// ClassifierBackend adapts the persisted scorecard.
type ClassifierBackend struct {
	name    string
	model   *scorecard.Model
	loadErr error
}

// NewClassifierBackend loads the artifact at path. A missing artifact is not an
// error here: the backend reports ErrModelNotLoaded from Ready and Score.
// A malformed artifact is returned as an error.
func NewClassifierBackend(name, path string, logger *slog.Logger) (*ClassifierBackend, error) {
	if name == "" {
		name = BenchmarkName
	}
	if logger == nil {
		logger = slog.Default()
	}

	model, err := scorecard.LoadFile(path)
	if errors.Is(err, scorecard.ErrArtifactNotFound) {
		logger.Warn("Classifier artifact not found, backend disabled", "backend", name, "path", path)
		return &ClassifierBackend{name: name, loadErr: fmt.Errorf("%w: %v", ErrModelNotLoaded, err)}, nil
	}
	if err != nil {
		return nil, err
	}

	logger.Info("Loaded classifier", "backend", name, "model", model.Name())
	return &ClassifierBackend{name: name, model: model}, nil
}

// NewClassifierBackendFromModel wraps an already compiled scorecard.
func NewClassifierBackendFromModel(name string, model *scorecard.Model) *ClassifierBackend {
	if name == "" {
		name = BenchmarkName
	}
	if model == nil {
		return &ClassifierBackend{name: name, loadErr: ErrModelNotLoaded}
	}
	return &ClassifierBackend{name: name, model: model}
}

func (b *ClassifierBackend) Name() string { return b.name }

func (b *ClassifierBackend) Remote() bool { return false }

func (b *ClassifierBackend) Ready() error { return b.loadErr }

// Score runs the scorecard on rec. No retries: evaluation is local and deterministic.
func (b *ClassifierBackend) Score(_ context.Context, rec applicant.Record) (verdict.Verdict, error) {
	if b.loadErr != nil {
		return verdict.Unknown, b.loadErr
	}

	start := time.Now()
	pred, err := b.model.Predict(rec)
	if err != nil {
		return verdict.Unknown, fmt.Errorf("%s: %w", b.name, err)
	}

	telemetry.RecordScore(b.name, pred.Verdict.String(), time.Since(start))
	return pred.Verdict, nil
}

// Schema returns the attribute schema the scorecard expects, nil when unloaded.
func (b *ClassifierBackend) Schema() applicant.Schema {
	if b.model == nil {
		return nil
	}
	return b.model.Schema()
}

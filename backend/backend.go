// Package backend exposes every scoring mechanism behind one contract.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/verdict"
)

var (
	// ErrModelNotLoaded is reported by a classifier backend without an artifact.
	ErrModelNotLoaded = errors.New("model not loaded")

	// ErrBackendUnavailable is reported by a text backend whose model variant
	// was never initialized.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Scorer produces a verdict for one applicant.
type Scorer interface {
	// Name is the display name used in reports.
	Name() string

	// Remote reports whether Score issues a rate-limited network call.
	Remote() bool

	// Ready returns ErrModelNotLoaded or ErrBackendUnavailable when the
	// scorer cannot serve requests.
	Ready() error

	// Score returns the verdict for rec. Remote failures are absorbed into an
	// Unknown verdict; only readiness and local errors are returned.
	Score(ctx context.Context, rec applicant.Record) (verdict.Verdict, error)
}

// RemoteCallError describes a failed generation request.
type RemoteCallError struct {
	Backend string
	Err     error
}

func (e *RemoteCallError) Error() string {
	return fmt.Sprintf("An error occurred with the LLM API call: %v", e.Err)
}

func (e *RemoteCallError) Unwrap() error {
	return e.Err
}

// Display names of the standard roster.
const (
	BenchmarkName = "Benchmark ML"
	BaselineName  = "Baseline LLM"
	DebiasedName  = "Debiased LLM"
	FineTunedName = "Fine-Tuned LLM"
)

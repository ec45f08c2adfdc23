package evaluation

import (
	"time"

	"github.com/liamcoop/fairscore/counterfactual"
	"github.com/liamcoop/fairscore/verdict"
)

// AttributeResult is one backend's verdict on one counterfactual.
type AttributeResult struct {
	Attribute counterfactual.Attribute `json:"attribute"`
	Verdict   verdict.Verdict          `json:"verdict"`
	// Changed is true when Verdict differs from the backend's verdict on the
	// original record. Unknown on either side differs from Good and Bad.
	Changed bool `json:"changed"`
}

// ModelResult holds one backend's verdicts for an applicant.
type ModelResult struct {
	Backend         string            `json:"backend"`
	Original        verdict.Verdict   `json:"original"`
	Counterfactuals []AttributeResult `json:"counterfactuals"`
}

// Changed returns the flip flag for attr.
func (m ModelResult) Changed(attr counterfactual.Attribute) (changed, ok bool) {
	for _, r := range m.Counterfactuals {
		if r.Attribute == attr {
			return r.Changed, true
		}
	}
	return false, false
}

// Row is the evaluation of one applicant by every active backend.
type Row struct {
	ApplicantID string          `json:"applicant_id"`
	GroundTruth verdict.Verdict `json:"ground_truth"`
	Results     []ModelResult   `json:"results"`
}

// Result returns the result of the named backend.
func (r Row) Result(backend string) (ModelResult, bool) {
	for _, m := range r.Results {
		if m.Backend == backend {
			return m, true
		}
	}
	return ModelResult{}, false
}

// SkippedBackend is a configured backend that did not take part in a run.
type SkippedBackend struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// Report is the outcome of one run.
type Report struct {
	RunID      string                     `json:"run_id"`
	Source     string                     `json:"source,omitempty"`
	StartedAt  time.Time                  `json:"started_at"`
	FinishedAt time.Time                  `json:"finished_at"`
	Attributes []counterfactual.Attribute `json:"attributes"`
	// Backends lists the active backends in evaluation order.
	Backends []string         `json:"backends"`
	Skipped  []SkippedBackend `json:"skipped,omitempty"`
	Rows     []Row            `json:"rows"`
}

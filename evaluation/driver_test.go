package evaluation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/backend"
	"github.com/liamcoop/fairscore/counterfactual"
	"github.com/liamcoop/fairscore/internal/llm"
	"github.com/liamcoop/fairscore/verdict"
)

// fakeScorer returns verdicts from fn and counts calls.
type fakeScorer struct {
	name  string
	ready error
	fn    func(rec applicant.Record) (verdict.Verdict, error)

	mu    sync.Mutex
	calls int
}

func (f *fakeScorer) Name() string { return f.name }
func (f *fakeScorer) Remote() bool { return false }
func (f *fakeScorer) Ready() error { return f.ready }

func (f *fakeScorer) Score(_ context.Context, rec applicant.Record) (verdict.Verdict, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(rec)
}

func always(v verdict.Verdict) func(applicant.Record) (verdict.Verdict, error) {
	return func(applicant.Record) (verdict.Verdict, error) { return v, nil }
}

func makeApplicants(n int) []applicant.Record {
	recs := make([]applicant.Record, n)
	for i := range recs {
		recs[i] = applicant.New(fmt.Sprintf("a%d", i+1), map[string]any{
			applicant.Age:          40.0 + float64(i),
			applicant.Gender:       "male",
			applicant.Region:       "Kano",
			applicant.CreditAmount: 1000.0 * float64(i+1),
			applicant.Utilization:  0.3,
		}, verdict.FromLabel(i%2 == 1))
	}
	return recs
}

var allAttributes = []counterfactual.Attribute{counterfactual.Age, counterfactual.Gender, counterfactual.Region}

func newTestDriver(t *testing.T, backends []backend.Scorer, attrs []counterfactual.Attribute) *Driver {
	t.Helper()
	d, err := NewDriver(backends, counterfactual.NewGenerator(counterfactual.Config{Seed: 3}), Config{
		Attributes: attrs,
	})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}
	return d
}

// TestRunRowCardinality verifies N applicants give N rows, each carrying one
// flag per backend and attribute
func TestRunRowCardinality(t *testing.T) {
	backends := []backend.Scorer{
		&fakeScorer{name: "one", fn: always(verdict.Good)},
		&fakeScorer{name: "two", fn: always(verdict.Bad)},
	}

	for _, n := range []int{1, 7, 25} {
		t.Run(fmt.Sprintf("%d applicants", n), func(t *testing.T) {
			d := newTestDriver(t, backends, allAttributes)

			report, err := d.Run(context.Background(), makeApplicants(n), RunOptions{})
			if err != nil {
				t.Fatalf("Run failed: %v", err)
			}
			if len(report.Rows) != n {
				t.Fatalf("rows = %d, want %d", len(report.Rows), n)
			}

			for _, row := range report.Rows {
				if len(row.Results) != len(backends) {
					t.Fatalf("row %s has %d results, want %d", row.ApplicantID, len(row.Results), len(backends))
				}
				for _, res := range row.Results {
					if len(res.Counterfactuals) != len(allAttributes) {
						t.Errorf("row %s backend %s has %d flags", row.ApplicantID, res.Backend, len(res.Counterfactuals))
					}
					for _, attr := range allAttributes {
						if _, ok := res.Changed(attr); !ok {
							t.Errorf("row %s backend %s missing flag for %s", row.ApplicantID, res.Backend, attr)
						}
					}
				}
			}
		})
	}
}

func TestRunOrderAndGroundTruth(t *testing.T) {
	d := newTestDriver(t, []backend.Scorer{&fakeScorer{name: "m", fn: always(verdict.Good)}}, allAttributes)
	recs := makeApplicants(4)

	report, err := d.Run(context.Background(), recs, RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i, row := range report.Rows {
		if row.ApplicantID != recs[i].ID() {
			t.Errorf("row %d = %s, want %s", i, row.ApplicantID, recs[i].ID())
		}
		if row.GroundTruth != recs[i].Label() {
			t.Errorf("row %d ground truth = %v, want %v", i, row.GroundTruth, recs[i].Label())
		}
	}
	if report.RunID == "" || report.FinishedAt.Before(report.StartedAt) {
		t.Errorf("report metadata not set: %+v", report)
	}
}

func TestRunFlagsFlipsPerAttribute(t *testing.T) {
	// Bad for female applicants only.
	scorer := &fakeScorer{name: "m", fn: func(rec applicant.Record) (verdict.Verdict, error) {
		if rec.String(applicant.Gender) == "female" {
			return verdict.Bad, nil
		}
		return verdict.Good, nil
	}}
	d := newTestDriver(t, []backend.Scorer{scorer}, allAttributes)

	report, err := d.Run(context.Background(), makeApplicants(1), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	res, _ := report.Rows[0].Result("m")
	want := map[counterfactual.Attribute]bool{
		counterfactual.Age:    false,
		counterfactual.Gender: true,
		counterfactual.Region: false,
	}
	for attr, w := range want {
		if got, _ := res.Changed(attr); got != w {
			t.Errorf("Changed(%s) = %v, want %v", attr, got, w)
		}
	}
	// original + one call per attribute
	if scorer.calls != 1+len(allAttributes) {
		t.Errorf("calls = %d, want %d", scorer.calls, 1+len(allAttributes))
	}
}

// TestRunRemoteFailureDegradesToUnknown verifies a failing remote call for one
// applicant yields Unknown for that cell and later rows are still produced
func TestRunRemoteFailureDegradesToUnknown(t *testing.T) {
	gen := llm.GeneratorFunc(func(ctx context.Context, p string, sel llm.Selector) (string, error) {
		if strings.Contains(p, "Credit Amount: 2,000.00") {
			return "", errors.New("connection reset by peer")
		}
		return "Verdict: Good\nJustification: stable finances", nil
	})
	text := backend.NewTextBackend(gen, backend.TextConfig{
		Variant: backend.Debiased,
		Retry:   backend.RetryConfig{MaxRetries: 1, InitialInterval: time.Millisecond},
	})
	d := newTestDriver(t, []backend.Scorer{text}, []counterfactual.Attribute{counterfactual.Age})

	report, err := d.Run(context.Background(), makeApplicants(3), RunOptions{})
	if err != nil {
		t.Fatalf("remote failure should not abort the run: %v", err)
	}
	if len(report.Rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(report.Rows))
	}

	failed, _ := report.Rows[1].Result(backend.DebiasedName)
	if failed.Original != verdict.Unknown {
		t.Errorf("failed cell = %v, want Unknown", failed.Original)
	}
	for _, i := range []int{0, 2} {
		res, _ := report.Rows[i].Result(backend.DebiasedName)
		if res.Original != verdict.Good {
			t.Errorf("row %d = %v, want Good", i, res.Original)
		}
	}
}

func TestRunBackendErrorsBecomeUnknown(t *testing.T) {
	scorer := &fakeScorer{name: "flaky", fn: func(rec applicant.Record) (verdict.Verdict, error) {
		if rec.ID() == "a1" {
			return verdict.Good, errors.New("feature evaluation failed")
		}
		return verdict.Bad, nil
	}}
	d := newTestDriver(t, []backend.Scorer{scorer}, nil)

	report, err := d.Run(context.Background(), makeApplicants(2), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if res, _ := report.Rows[0].Result("flaky"); res.Original != verdict.Unknown {
		t.Errorf("erroring backend verdict = %v, want Unknown", res.Original)
	}
	if res, _ := report.Rows[1].Result("flaky"); res.Original != verdict.Bad {
		t.Errorf("row 2 verdict = %v, want Bad", res.Original)
	}
}

func TestRunSkipsUnreadyBackends(t *testing.T) {
	missing := &fakeScorer{name: "Benchmark ML", ready: backend.ErrModelNotLoaded, fn: always(verdict.Good)}
	ok := &fakeScorer{name: "ok", fn: always(verdict.Good)}
	d := newTestDriver(t, []backend.Scorer{missing, ok}, allAttributes)

	report, err := d.Run(context.Background(), makeApplicants(2), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(report.Skipped) != 1 || report.Skipped[0].Name != "Benchmark ML" {
		t.Errorf("Skipped = %+v", report.Skipped)
	}
	if len(report.Backends) != 1 || report.Backends[0] != "ok" {
		t.Errorf("Backends = %v", report.Backends)
	}
	if missing.calls != 0 {
		t.Errorf("skipped backend was called %d times", missing.calls)
	}
	if got := d.Backends(); len(got) != 2 {
		t.Errorf("Driver.Backends() = %v, want both configured names", got)
	}
}

func TestRunNoApplicants(t *testing.T) {
	d := newTestDriver(t, []backend.Scorer{&fakeScorer{name: "m", fn: always(verdict.Good)}}, allAttributes)

	if _, err := d.Run(context.Background(), nil, RunOptions{}); !errors.Is(err, applicant.ErrNoApplicants) {
		t.Errorf("Run(nil) = %v, want ErrNoApplicants", err)
	}
}

type recordingSink struct {
	begun []string
	rows  []Row
	fail  bool
}

func (s *recordingSink) BeginRun(_ context.Context, report *Report) error {
	s.begun = append(s.begun, report.RunID)
	return nil
}

func (s *recordingSink) AppendRow(_ context.Context, runID string, row Row) error {
	if s.fail {
		return errors.New("disk full")
	}
	s.rows = append(s.rows, row)
	return nil
}

func TestRunStreamsRowsToSink(t *testing.T) {
	d := newTestDriver(t, []backend.Scorer{&fakeScorer{name: "m", fn: always(verdict.Good)}}, allAttributes)
	sink := &recordingSink{}

	report, err := d.Run(context.Background(), makeApplicants(5), RunOptions{Sink: sink})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(sink.rows) != len(report.Rows) {
		t.Errorf("sink received %d rows, report has %d", len(sink.rows), len(report.Rows))
	}
	if len(sink.begun) != 1 || sink.begun[0] != report.RunID {
		t.Errorf("BeginRun calls = %v, want [%s]", sink.begun, report.RunID)
	}

	_, err = d.Run(context.Background(), makeApplicants(2), RunOptions{Sink: &recordingSink{fail: true}})
	if err == nil {
		t.Error("sink failure should abort the run")
	}
}

// TestRunSpacesRemoteCalls verifies every request reaching the remote model,
// retries included, is at least the spacing apart while local scoring is not
// delayed
func TestRunSpacesRemoteCalls(t *testing.T) {
	const spacing = 40 * time.Millisecond
	var (
		mu     sync.Mutex
		stamps []time.Time
	)
	gen := llm.GeneratorFunc(func(ctx context.Context, p string, sel llm.Selector) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		stamps = append(stamps, time.Now())
		if len(stamps) == 1 {
			return "", errors.New("503 service unavailable")
		}
		return "Verdict: Good", nil
	})
	remote := backend.NewTextBackend(llm.NewPacedGenerator(gen, llm.NewLimiter(spacing)), backend.TextConfig{
		Variant: backend.Debiased,
		Retry:   backend.RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	})
	local := &fakeScorer{name: "local", fn: always(verdict.Good)}

	d, err := NewDriver([]backend.Scorer{local, remote}, counterfactual.NewGenerator(counterfactual.Config{}), Config{
		Attributes: []counterfactual.Attribute{counterfactual.Age},
	})
	if err != nil {
		t.Fatalf("NewDriver failed: %v", err)
	}

	report, err := d.Run(context.Background(), makeApplicants(2), RunOptions{})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := report.Rows[0].Results[1].Original; got != verdict.Good {
		t.Errorf("retried call verdict = %v, want Good", got)
	}

	// 4 scoring calls plus one retry
	if len(stamps) != 5 {
		t.Fatalf("remote calls = %d, want 5", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < spacing-time.Millisecond {
			t.Errorf("remote calls %d and %d only %v apart, want >= %v", i, i+1, gap, spacing)
		}
	}
	if local.calls != 4 {
		t.Errorf("local calls = %d, want 4", local.calls)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	scorer := &fakeScorer{name: "m", fn: func(rec applicant.Record) (verdict.Verdict, error) {
		cancel()
		return verdict.Good, nil
	}}
	d := newTestDriver(t, []backend.Scorer{scorer}, allAttributes)

	report, err := d.Run(ctx, makeApplicants(3), RunOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() = %v, want context.Canceled", err)
	}
	if len(report.Rows) != 0 {
		t.Errorf("cancelled run kept %d rows", len(report.Rows))
	}
}

func TestNewDriverValidation(t *testing.T) {
	gen := counterfactual.NewGenerator(counterfactual.Config{})
	m := &fakeScorer{name: "m", fn: always(verdict.Good)}

	testCases := []struct {
		name     string
		backends []backend.Scorer
		attrs    []counterfactual.Attribute
		target   error
	}{
		{"invalid attribute", []backend.Scorer{m}, []counterfactual.Attribute{"income"}, counterfactual.ErrInvalidAttribute},
		{"duplicate attribute", []backend.Scorer{m}, []counterfactual.Attribute{counterfactual.Age, counterfactual.Age}, nil},
		{"duplicate backend", []backend.Scorer{m, m}, allAttributes, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDriver(tc.backends, gen, Config{Attributes: tc.attrs})
			if err == nil {
				t.Fatal("Expected error")
			}
			if tc.target != nil && !errors.Is(err, tc.target) {
				t.Errorf("error = %v, want %v", err, tc.target)
			}
		})
	}

	if _, err := NewDriver(nil, nil, Config{}); err == nil {
		t.Error("Expected error without generator")
	}
}

func TestEvaluateSingle(t *testing.T) {
	missing := &fakeScorer{name: "down", ready: backend.ErrBackendUnavailable, fn: always(verdict.Good)}
	d := newTestDriver(t, []backend.Scorer{&fakeScorer{name: "m", fn: always(verdict.Bad)}, missing}, allAttributes)

	row, skipped, err := d.Evaluate(context.Background(), makeApplicants(1)[0])
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if len(row.Results) != 1 || row.Results[0].Original != verdict.Bad {
		t.Errorf("Evaluate() results = %+v", row.Results)
	}
	if len(skipped) != 1 || skipped[0].Name != "down" {
		t.Errorf("skipped = %+v", skipped)
	}
}

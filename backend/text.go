package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/internal/llm"
	"github.com/liamcoop/fairscore/internal/telemetry"
	"github.com/liamcoop/fairscore/prompt"
	"github.com/liamcoop/fairscore/verdict"
)

// Variant selects the prompt template and model of a TextBackend.
type Variant int

const (
	// ZeroShot sends the baseline prompt, demographics included, to the base model.
	ZeroShot Variant = iota
	// Debiased sends the debiased prompt to the base model.
	Debiased
	// FineTuned sends the debiased prompt to the fine-tuned deployment.
	FineTuned
)

// ParseVariant accepts the configuration names of the text variants.
func ParseVariant(name string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "zero_shot", "zero-shot", "baseline":
		return ZeroShot, nil
	case "debiased":
		return Debiased, nil
	case "fine_tuned", "fine-tuned", "tuned":
		return FineTuned, nil
	default:
		return 0, fmt.Errorf("unknown text variant %q", name)
	}
}

func (v Variant) String() string {
	switch v {
	case ZeroShot:
		return "zero_shot"
	case Debiased:
		return "debiased"
	case FineTuned:
		return "fine_tuned"
	default:
		return fmt.Sprintf("variant(%d)", int(v))
	}
}

// Template returns the prompt layout of the variant.
func (v Variant) Template() prompt.Template {
	if v == ZeroShot {
		return prompt.Baseline
	}
	return prompt.Debiased
}

// Selector returns the model the variant is served by.
func (v Variant) Selector() llm.Selector {
	if v == FineTuned {
		return llm.Tuned
	}
	return llm.Base
}

// DisplayName returns the report name of the variant.
func (v Variant) DisplayName() string {
	switch v {
	case ZeroShot:
		return BaselineName
	case Debiased:
		return DebiasedName
	case FineTuned:
		return FineTunedName
	default:
		return v.String()
	}
}

// RetryConfig bounds the exponential backoff around one generation request.
type RetryConfig struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryConfig retries twice starting at one second.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      2,
		InitialInterval: time.Second,
		MaxInterval:     10 * time.Second,
	}
}

// TextConfig configures a TextBackend.
type TextConfig struct {
	Variant Variant
	// Name overrides the variant display name.
	Name   string
	Retry  RetryConfig
	Logger *slog.Logger
}

// TextBackend scores applicants by prompting a text-generation model and
// parsing its free-text answer.
type TextBackend struct {
	name      string
	variant   Variant
	generator llm.Generator
	retry     RetryConfig
	logger    *slog.Logger
}

// NewTextBackend creates a backend for cfg.Variant. A nil generator yields a
// backend that reports ErrBackendUnavailable.
func NewTextBackend(generator llm.Generator, cfg TextConfig) *TextBackend {
	if cfg.Name == "" {
		cfg.Name = cfg.Variant.DisplayName()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Retry.InitialInterval <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	return &TextBackend{
		name:      cfg.Name,
		variant:   cfg.Variant,
		generator: generator,
		retry:     cfg.Retry,
		logger:    cfg.Logger,
	}
}

func (b *TextBackend) Name() string { return b.name }

func (b *TextBackend) Remote() bool { return true }

// Variant returns the configured variant.
func (b *TextBackend) Variant() Variant { return b.variant }

// Ready reports whether the variant's model was initialized.
func (b *TextBackend) Ready() error {
	if b.generator == nil {
		return fmt.Errorf("%w: %s has no generator", ErrBackendUnavailable, b.name)
	}
	if err := b.generator.Available(b.variant.Selector()); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBackendUnavailable, b.name, err)
	}
	return nil
}

// Response is the full outcome of one text scoring call.
type Response struct {
	Prompt  string
	Text    string
	Verdict verdict.Verdict
	// Err is set when the remote call failed and Text holds its description.
	Err *RemoteCallError
}

// Respond renders the prompt, calls the model and parses the answer. A failed
// remote call is not returned as an error: Text carries the failure and the
// verdict is Unknown.
func (b *TextBackend) Respond(ctx context.Context, rec applicant.Record) (Response, error) {
	if err := b.Ready(); err != nil {
		return Response{Verdict: verdict.Unknown}, err
	}

	text, err := prompt.Render(b.variant.Template(), rec)
	if err != nil {
		return Response{Verdict: verdict.Unknown}, err
	}

	start := time.Now()
	resp := Response{Prompt: text}

	out, err := b.generate(ctx, text)
	if err != nil {
		resp.Err = &RemoteCallError{Backend: b.name, Err: err}
		// The failure text may contain "bad" (e.g. HTTP 400 Bad Request), so it
		// is kept for display but never parsed.
		resp.Text = resp.Err.Error()
		resp.Verdict = verdict.Unknown
		telemetry.RecordRemoteFailure(b.name)
		b.logger.Warn("Remote scoring call failed",
			"backend", b.name,
			"applicant", rec.ID(),
			"error", err)
	} else {
		resp.Text = out
		resp.Verdict = verdict.Parse(out)
	}

	telemetry.RecordScore(b.name, resp.Verdict.String(), time.Since(start))
	return resp, nil
}

// Score implements Scorer.
func (b *TextBackend) Score(ctx context.Context, rec applicant.Record) (verdict.Verdict, error) {
	resp, err := b.Respond(ctx, rec)
	if err != nil {
		return verdict.Unknown, err
	}
	return resp.Verdict, nil
}

func (b *TextBackend) generate(ctx context.Context, text string) (string, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = b.retry.InitialInterval
	if b.retry.MaxInterval > 0 {
		exp.MaxInterval = b.retry.MaxInterval
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(exp, b.retry.MaxRetries), ctx)
	sel := b.variant.Selector()

	op := func() (string, error) {
		out, err := b.generator.Generate(ctx, text, sel)
		if errors.Is(err, llm.ErrModelUnavailable) {
			return "", backoff.Permanent(err)
		}
		return out, err
	}

	notify := func(err error, wait time.Duration) {
		b.logger.Debug("Retrying generation", "backend", b.name, "wait", wait, "error", err)
	}

	return backoff.RetryNotifyWithData(op, policy, notify)
}

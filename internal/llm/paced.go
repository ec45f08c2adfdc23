package llm

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// DefaultSpacing is the minimum gap between two remote generation requests.
const DefaultSpacing = 1500 * time.Millisecond

// NewLimiter returns a limiter releasing one request per spacing. Zero uses
// DefaultSpacing; a negative spacing disables the gap.
func NewLimiter(spacing time.Duration) *rate.Limiter {
	limit := rate.Inf
	switch {
	case spacing == 0:
		limit = rate.Every(DefaultSpacing)
	case spacing > 0:
		limit = rate.Every(spacing)
	}
	return rate.NewLimiter(limit, 1)
}

// PacedGenerator takes a limiter token before every request it forwards,
// retries included. Wrap it in a CachingGenerator so cache hits skip the wait.
type PacedGenerator struct {
	next    Generator
	limiter *rate.Limiter
}

// NewPacedGenerator wraps next. Generators sharing limiter share its schedule.
func NewPacedGenerator(next Generator, limiter *rate.Limiter) *PacedGenerator {
	return &PacedGenerator{next: next, limiter: limiter}
}

// Available delegates to the wrapped generator.
func (g *PacedGenerator) Available(sel Selector) error {
	return g.next.Available(sel)
}

// Generate waits for the limiter, then calls through.
func (g *PacedGenerator) Generate(ctx context.Context, prompt string, sel Selector) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return g.next.Generate(ctx, prompt, sel)
}

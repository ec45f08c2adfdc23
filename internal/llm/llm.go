// Package llm wraps remote text-generation services behind one call shape.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelUnavailable is returned when a selector has no initialized model.
var ErrModelUnavailable = errors.New("model not available")

// Selector picks which deployed model serves a request.
type Selector int

const (
	// Base is the general-purpose model used for zero-shot and debiased prompts.
	Base Selector = iota
	// Tuned is the fine-tuned deployment, addressed by an opaque endpoint id.
	Tuned
)

func (s Selector) String() string {
	switch s {
	case Base:
		return "base"
	case Tuned:
		return "tuned"
	default:
		return fmt.Sprintf("selector(%d)", int(s))
	}
}

// Generator turns a prompt into free text.
type Generator interface {
	// Generate issues one request and returns the raw response text.
	Generate(ctx context.Context, prompt string, sel Selector) (string, error)

	// Available reports whether sel was initialized. It never makes a remote call.
	Available(sel Selector) error
}

// GeneratorFunc adapts a function to Generator. Every selector is available.
type GeneratorFunc func(ctx context.Context, prompt string, sel Selector) (string, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, prompt string, sel Selector) (string, error) {
	return f(ctx, prompt, sel)
}

// Available always succeeds.
func (f GeneratorFunc) Available(Selector) error {
	return nil
}

// models resolves selectors to model names for the concrete clients.
type models struct {
	base  string
	tuned string
}

func (m models) resolve(sel Selector) (string, error) {
	switch sel {
	case Base:
		if m.base != "" {
			return m.base, nil
		}
	case Tuned:
		if m.tuned != "" {
			return m.tuned, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModelUnavailable, sel)
}

// Package harness builds the evaluation components from configuration and
// runs them end to end.
package harness

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	_ "github.com/lib/pq"

	"github.com/liamcoop/fairscore/applicant"
	"github.com/liamcoop/fairscore/backend"
	"github.com/liamcoop/fairscore/counterfactual"
	"github.com/liamcoop/fairscore/evaluation"
	"github.com/liamcoop/fairscore/internal/config"
	"github.com/liamcoop/fairscore/internal/llm"
	"github.com/liamcoop/fairscore/metrics"
	"github.com/liamcoop/fairscore/migrations"
	"github.com/liamcoop/fairscore/report"
	"github.com/liamcoop/fairscore/store"
)

// ErrSchemaMismatch is returned when a classifier expects attributes the
// applicant schema does not provide.
var ErrSchemaMismatch = errors.New("classifier schema does not match applicant schema")

// Harness holds everything a run needs. It is safe for concurrent use; runs
// are serialized by the driver.
type Harness struct {
	cfg      config.Config
	schema   applicant.Schema
	backends []backend.Scorer
	driver   *evaluation.Driver
	store    store.RunStore
	sink     report.Sink
	logger   *slog.Logger

	db      *sql.DB
	closers []func() error
}

type options struct {
	generator llm.Generator
	store     store.RunStore
	sink      report.Sink
}

// Option customizes New.
type Option func(*options)

// WithGenerator replaces the configured text-generation provider.
func WithGenerator(g llm.Generator) Option {
	return func(o *options) { o.generator = g }
}

// WithStore replaces the configured run store.
func WithStore(s store.RunStore) Option {
	return func(o *options) { o.store = s }
}

// WithSink replaces the configured summary sinks.
func WithSink(s report.Sink) Option {
	return func(o *options) { o.sink = s }
}

// New builds the harness. Backends that cannot be constructed for external
// reasons (missing artifact, missing credentials) are kept but report
// themselves unavailable; invalid artifacts and schema mismatches are errors.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Harness, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	h := &Harness{
		cfg:    cfg,
		schema: cfg.Schema(),
		logger: logger,
	}

	generator := o.generator
	if generator == nil && cfg.UsesText() {
		g, err := newGenerator(ctx, cfg.LLM, logger)
		if err != nil {
			logger.Warn("Text generation unavailable, text backends will be skipped", "provider", cfg.LLM.Provider, "error", err)
		} else {
			generator = g
		}
	}
	if generator != nil {
		// Spacing applies per remote request, so it sits below the cache.
		generator = llm.NewPacedGenerator(generator, llm.NewLimiter(cfg.Spacing))
	}
	if generator != nil && cfg.LLM.Cache.Enabled {
		generator = llm.NewCachingGenerator(generator, llm.NewInMemoryResponseCache(llm.CacheConfig{TTL: cfg.LLM.Cache.TTL}))
	}

	for _, bc := range cfg.Backends {
		b, err := h.newBackend(bc, generator)
		if err != nil {
			return nil, err
		}
		h.backends = append(h.backends, b)
	}

	gen := counterfactual.NewGenerator(counterfactual.Config{
		YoungAge:      cfg.Counterfactual.YoungAge,
		Regions:       cfg.Counterfactual.Regions,
		DefaultRegion: cfg.Counterfactual.DefaultRegion,
		Seed:          cfg.Counterfactual.Seed,
	})

	driver, err := evaluation.NewDriver(h.backends, gen, evaluation.Config{
		Attributes: cfg.ParsedAttributes(),
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}
	h.driver = driver

	h.store = o.store
	if h.store == nil {
		if h.store, err = h.openStore(); err != nil {
			h.Close()
			return nil, err
		}
	}

	h.sink = o.sink
	if h.sink == nil {
		if h.sink, err = h.openSink(ctx); err != nil {
			h.Close()
			return nil, err
		}
	}

	return h, nil
}

func newGenerator(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (llm.Generator, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI:
		return llm.NewOpenAIGenerator(llm.OpenAIConfig{
			APIKey:      cfg.OpenAI.APIKey,
			BaseURL:     cfg.OpenAI.BaseURL,
			BaseModel:   cfg.OpenAI.BaseModel,
			TunedModel:  cfg.OpenAI.TunedModel,
			Temperature: cfg.Temperature,
		}, logger)
	default:
		return llm.NewGeminiGenerator(ctx, llm.GeminiConfig{
			APIKey:        cfg.Gemini.APIKey,
			Project:       cfg.Gemini.Project,
			Location:      cfg.Gemini.Location,
			BaseModel:     cfg.Gemini.BaseModel,
			TunedEndpoint: cfg.Gemini.TunedEndpoint,
			Temperature:   cfg.Temperature,
			BaseURL:       cfg.Gemini.BaseURL,
		}, logger)
	}
}

func (h *Harness) newBackend(bc config.BackendConfig, generator llm.Generator) (backend.Scorer, error) {
	name := bc.DisplayName()

	if bc.Kind == config.KindClassifier {
		b, err := backend.NewClassifierBackend(name, bc.Artifact, h.logger)
		if err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		if err := checkSchema(b.Schema(), h.schema); err != nil {
			return nil, fmt.Errorf("backend %s: %w", name, err)
		}
		return b, nil
	}

	variant, err := backend.ParseVariant(bc.Variant)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", name, err)
	}
	retry := h.cfg.LLM.Retry
	return backend.NewTextBackend(generator, backend.TextConfig{
		Variant: variant,
		Name:    name,
		Retry: backend.RetryConfig{
			MaxRetries:      retry.MaxRetries,
			InitialInterval: retry.InitialInterval,
			MaxInterval:     retry.MaxInterval,
		},
		Logger: h.logger,
	}), nil
}

// checkSchema requires every classifier attribute to exist in the applicant
// schema with the same type. A nil classifier schema means it is not loaded.
func checkSchema(classifier, applicants applicant.Schema) error {
	for name, typeName := range classifier {
		got, ok := applicants[name]
		if !ok {
			return fmt.Errorf("%w: attribute %q missing", ErrSchemaMismatch, name)
		}
		if got != typeName {
			return fmt.Errorf("%w: attribute %q is %s, classifier expects %s", ErrSchemaMismatch, name, got, typeName)
		}
	}
	return nil
}

func (h *Harness) openStore() (store.RunStore, error) {
	url := h.cfg.Store.DatabaseURL
	if url == "" {
		return store.NewInMemoryRunStore(), nil
	}

	if err := migrations.Up(url); err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	h.db = db
	h.closers = append(h.closers, db.Close)
	h.logger.Info("Connected to run database")
	return store.NewPostgresRunStore(db), nil
}

func (h *Harness) openSink(ctx context.Context) (report.Sink, error) {
	sinks := report.Multi{report.FileSink{Path: h.cfg.Output.Path}}

	if gcs := h.cfg.Output.GCS; gcs.Bucket != "" {
		g, err := report.NewGCSSink(ctx, report.GCSConfig{
			Bucket:          gcs.Bucket,
			Prefix:          gcs.Prefix,
			FileName:        filepath.Base(h.cfg.Output.Path),
			CredentialsFile: gcs.CredentialsFile,
		}, h.logger)
		if err != nil {
			return nil, err
		}
		h.closers = append(h.closers, g.Close)
		sinks = append(sinks, g)
	}
	return sinks, nil
}

// Config returns the configuration the harness was built from.
func (h *Harness) Config() config.Config { return h.cfg }

// Driver returns the shared evaluation driver.
func (h *Harness) Driver() *evaluation.Driver { return h.driver }

// Store returns the run store.
func (h *Harness) Store() store.RunStore { return h.store }

// Backends returns the configured backends in roster order.
func (h *Harness) Backends() []backend.Scorer { return h.backends }

// Backend returns the backend with the given display name.
func (h *Harness) Backend(name string) (backend.Scorer, bool) {
	for _, b := range h.backends {
		if b.Name() == name {
			return b, true
		}
	}
	return nil, false
}

// DB returns the database handle, nil when runs are kept in memory.
func (h *Harness) DB() *sql.DB { return h.db }

// LoadApplicants reads the configured applicant table, or path when set.
func (h *Harness) LoadApplicants(path string) ([]applicant.Record, error) {
	if path == "" {
		path = h.cfg.Data.Path
	}
	return applicant.LoadFile(path, applicant.LoadOptions{
		Schema:      h.schema,
		IDColumn:    h.cfg.Data.IDColumn,
		LabelColumn: h.cfg.Data.LabelColumn,
		Limit:       h.cfg.Data.Limit,
	})
}

// Result is the outcome of Execute.
type Result struct {
	Report  *evaluation.Report
	Summary *metrics.Summary
	// Location lists where the summary was published.
	Location string
}

// Execute runs applicants through the driver, persists the run, and publishes
// its summary. A failed run is still marked failed in the store.
func (h *Harness) Execute(ctx context.Context, applicants []applicant.Record, source string) (*Result, error) {
	rep, err := h.driver.Run(ctx, applicants, evaluation.RunOptions{Source: source, Sink: h.store})
	if err != nil {
		if rep != nil {
			// The run context may be the reason for failure.
			if ferr := h.store.FinishRun(context.WithoutCancel(ctx), rep.RunID, nil, err); ferr != nil {
				h.logger.Error("Failed to mark run failed", "run_id", rep.RunID, "error", ferr)
			}
		}
		return nil, err
	}

	summary := metrics.FromReport(rep)
	if err := h.store.FinishRun(ctx, rep.RunID, &summary, nil); err != nil {
		return nil, fmt.Errorf("failed to finish run: %w", err)
	}

	loc, err := h.sink.Publish(ctx, rep.RunID, &summary)
	if err != nil {
		return nil, fmt.Errorf("failed to publish summary: %w", err)
	}
	h.logger.Info("Summary published", "run_id", rep.RunID, "location", loc)

	return &Result{Report: rep, Summary: &summary, Location: loc}, nil
}

// Close releases the database and storage clients.
func (h *Harness) Close() error {
	var errs []error
	for i := len(h.closers) - 1; i >= 0; i-- {
		if err := h.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	h.closers = nil
	return errors.Join(errs...)
}

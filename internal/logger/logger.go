// Package logger configures the process-wide slog logger, optionally bridged
// to OpenTelemetry, and keeps counters of warnings and errors.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"
)

// Options configures Setup.
type Options struct {
	// Level is a level name, TRACE through FATAL. Empty means INFO.
	Level string
	// Format is FormatJSON or FormatText. Ignored when OTEL is set.
	Format string
	// Output defaults to stdout.
	Output io.Writer
	// OTEL exports logs over OTLP/gRPC instead of writing them locally.
	OTEL        bool
	ServiceName string
	// SampleRate logs 1 out of every SampleRate warnings and errors; <= 1 logs all.
	SampleRate int
}

// FromEnv reads LOG_LEVEL, LOG_FORMAT, OTEL_ENABLED, OTEL_SERVICE_NAME and ERROR_SAMPLE_RATE.
func FromEnv(serviceName string) Options {
	opts := Options{
		Level:       os.Getenv("LOG_LEVEL"),
		Format:      strings.ToLower(os.Getenv("LOG_FORMAT")),
		OTEL:        strings.ToLower(os.Getenv("OTEL_ENABLED")) == "true",
		ServiceName: serviceName,
		SampleRate:  1,
	}
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		opts.ServiceName = name
	}
	if s := os.Getenv("ERROR_SAMPLE_RATE"); s != "" {
		if rate, err := strconv.Atoi(s); err == nil && rate > 0 {
			opts.SampleRate = rate
		}
	}
	return opts
}

var (
	// Logger is the configured logger; slog.Default until Setup runs.
	Logger = slog.Default()

	programLevel = new(slog.LevelVar)
	sampleRate   atomic.Int32

	mu           sync.Mutex
	shutdownFunc func(context.Context) error
)

// Counters are incremented regardless of sampling and read by the health endpoint.
var (
	TotalErrors    atomic.Int64
	TotalWarnings  atomic.Int64
	Total5xxErrors atomic.Int64
	Total4xxErrors atomic.Int64
	Total404Errors atomic.Int64
	Total429Errors atomic.Int64
)

func init() {
	sampleRate.Store(1)
}

// Setup installs a logger built from opts as Logger and slog's default.
// When the OTEL exporter cannot be created it falls back to local JSON output.
func Setup(ctx context.Context, opts Options) (*slog.Logger, error) {
	level := LevelInfo
	if opts.Level != "" {
		var err error
		if level, err = ParseLevel(opts.Level); err != nil {
			return nil, err
		}
	}
	programLevel.Set(level)

	rate := opts.SampleRate
	if rate < 1 {
		rate = 1
	}
	sampleRate.Store(int32(rate))

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	var handler slog.Handler
	if opts.OTEL {
		h, shutdown, err := otelHandler(ctx, opts.ServiceName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to setup OTEL logging, falling back to JSON: %v\n", err)
		} else {
			handler = h
			mu.Lock()
			shutdownFunc = shutdown
			mu.Unlock()
		}
	}
	if handler == nil {
		handler = localHandler(out, opts.Format)
	}

	l := slog.New(handler)
	Logger = l
	slog.SetDefault(l)
	return l, nil
}

func localHandler(out io.Writer, format string) slog.Handler {
	opts := &slog.HandlerOptions{Level: programLevel}
	if format == FormatText {
		return slog.NewTextHandler(out, opts)
	}
	return slog.NewJSONHandler(out, opts)
}

func otelHandler(ctx context.Context, serviceName string) (slog.Handler, func(context.Context) error, error) {
	if serviceName == "" {
		serviceName = "fairscore"
	}

	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(serviceName)))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	h := &levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	}
	return h, provider.Shutdown, nil
}

// levelHandler filters an OTEL handler by the program level.
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter, if one was installed.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	fn := shutdownFunc
	shutdownFunc = nil
	mu.Unlock()

	if fn != nil {
		return fn(ctx)
	}
	return nil
}

// SetLevel changes the minimum level at runtime.
func SetLevel(level slog.Level) {
	programLevel.Set(level)
}

// GetLevel returns the current minimum level.
func GetLevel() slog.Level {
	return programLevel.Level()
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToUpper(s) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %s", s)
	}
}

func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.IntN(int(rate)) == 0
}

// Warn counts the warning and logs it subject to sampling.
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error counts the error and logs it subject to sampling.
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs, flushes OTEL and exits with status 1.
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	_ = Shutdown(context.Background())
	os.Exit(1)
}

// ErrorHttp5xx counts a server error response.
func ErrorHttp5xx() {
	Total5xxErrors.Add(1)
	TotalErrors.Add(1)
}

// WarnHttp4xx counts a client error response.
func WarnHttp4xx(status int) {
	Total4xxErrors.Add(1)
	TotalWarnings.Add(1)

	switch status {
	case 404:
		Total404Errors.Add(1)
	case 429:
		Total429Errors.Add(1)
	}
}

// Counters returns a snapshot of the counters keyed by name.
func Counters() map[string]int64 {
	return map[string]int64{
		"errors":   TotalErrors.Load(),
		"warnings": TotalWarnings.Load(),
		"http_5xx": Total5xxErrors.Load(),
		"http_4xx": Total4xxErrors.Load(),
		"http_404": Total404Errors.Load(),
		"http_429": Total429Errors.Load(),
	}
}

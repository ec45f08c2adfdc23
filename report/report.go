// Package report publishes run summaries as CSV files, locally or to Cloud Storage.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/liamcoop/fairscore/metrics"
)

// DefaultFileName is the summary file written when no path is configured.
const DefaultFileName = "final_metrics_results.csv"

// Sink publishes the summary of one run and returns where it went.
type Sink interface {
	Publish(ctx context.Context, runID string, summary *metrics.Summary) (string, error)
}

// FileSink writes the summary CSV to a local path, replacing any previous file.
type FileSink struct {
	Path string
}

// Publish writes the summary to the sink's path.
func (f FileSink) Publish(_ context.Context, _ string, summary *metrics.Summary) (string, error) {
	p := f.Path
	if p == "" {
		p = DefaultFileName
	}

	if dir := filepath.Dir(p); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}

	var buf bytes.Buffer
	if err := summary.WriteCSV(&buf); err != nil {
		return "", err
	}

	// Written beside the target, then renamed into place.
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write summary file: %w", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		return "", fmt.Errorf("failed to move summary file into place: %w", err)
	}
	return p, nil
}

// objectWriter opens a writer for bucket/object.
type objectWriter func(ctx context.Context, bucket, object string) io.WriteCloser

// GCSSink uploads the summary CSV to gs://Bucket/Prefix/<run id>/<file name>.
type GCSSink struct {
	bucket   string
	prefix   string
	fileName string
	open     objectWriter
	client   *storage.Client
	logger   *slog.Logger
}

// GCSConfig configures a GCSSink.
type GCSConfig struct {
	Bucket string
	Prefix string
	// FileName defaults to DefaultFileName.
	FileName string
	// CredentialsFile is a service account key; application default credentials are used when empty.
	CredentialsFile string
}

// NewGCSSink creates a Cloud Storage client for cfg.Bucket.
func NewGCSSink(ctx context.Context, cfg GCSConfig, logger *slog.Logger) (*GCSSink, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("gcs sink requires a bucket")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not readable at %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}

	sink := newGCSSink(cfg, func(ctx context.Context, bucket, object string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		w.ContentType = "text/csv"
		w.CacheControl = "no-cache, no-store, must-revalidate"
		return w
	}, logger)
	sink.client = client
	return sink, nil
}

func newGCSSink(cfg GCSConfig, open objectWriter, logger *slog.Logger) *GCSSink {
	if logger == nil {
		logger = slog.Default()
	}
	fileName := cfg.FileName
	if fileName == "" {
		fileName = DefaultFileName
	}
	return &GCSSink{
		bucket:   cfg.Bucket,
		prefix:   cfg.Prefix,
		fileName: fileName,
		open:     open,
		logger:   logger,
	}
}

// ObjectName returns the object a run's summary is written to.
func (g *GCSSink) ObjectName(runID string) string {
	return path.Join(g.prefix, runID, g.fileName)
}

// Publish uploads the summary and returns its gs:// URI.
func (g *GCSSink) Publish(ctx context.Context, runID string, summary *metrics.Summary) (string, error) {
	object := g.ObjectName(runID)

	// Cancelling the writer's context abandons the upload; Close would
	// commit whatever was written.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w := g.open(ctx, g.bucket, object)

	if err := summary.WriteCSV(w); err != nil {
		cancel()
		return "", fmt.Errorf("failed to write summary to GCS object %s: %w", object, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close GCS writer for %s: %w", object, err)
	}

	uri := fmt.Sprintf("gs://%s/%s", g.bucket, object)
	g.logger.Info("Uploaded summary", "run_id", runID, "uri", uri)
	return uri, nil
}

// Close releases the storage client.
func (g *GCSSink) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

// Multi publishes to every sink in order and stops at the first failure.
type Multi []Sink

// Publish returns the locations joined in sink order.
func (m Multi) Publish(ctx context.Context, runID string, summary *metrics.Summary) (string, error) {
	var locations []string
	for _, s := range m {
		loc, err := s.Publish(ctx, runID, summary)
		if err != nil {
			return "", err
		}
		locations = append(locations, loc)
	}
	return strings.Join(locations, ", "), nil
}

// Package driver converts every configured (data type, split) combination
// of the prediction datasets, one pipeline run after another.
package driver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ajitpratap0/prositlmdb/internal/pipeline"
	"github.com/ajitpratap0/prositlmdb/pkg/config"
	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/logger"
	"github.com/ajitpratap0/prositlmdb/pkg/metrics"
	"github.com/ajitpratap0/prositlmdb/pkg/remote"
	"github.com/ajitpratap0/prositlmdb/pkg/store"
)

// DownloadScript fetches the published prediction datasets.
const DownloadScript = "download_prosit_hdf5.sh"

// Job is one conversion of the run.
type Job struct {
	DataType string `json:"data_type"`
	Split    string `json:"split"`
	Input    string `json:"input"`
	Output   string `json:"output"`
}

// Driver plans and runs the conversions described by a Config.
type Driver struct {
	cfg     *config.Config
	fetcher *remote.Fetcher
	metrics *metrics.Collector
	logger  *zap.Logger
}

// Option customizes a Driver.
type Option func(*Driver)

// WithFetcher replaces the fetcher used for remote inputs.
func WithFetcher(f *remote.Fetcher) Option {
	return func(d *Driver) { d.fetcher = f }
}

// WithMetrics records every pipeline run on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(d *Driver) { d.metrics = c }
}

// New validates cfg and creates a Driver.
func New(cfg *config.Config, log *zap.Logger, opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop()
	}
	d := &Driver{cfg: cfg, logger: log}
	for _, opt := range opts {
		opt(d)
	}
	if d.fetcher == nil {
		d.fetcher = remote.NewFetcher(cfg.Input.CacheDir, log)
	}
	return d, nil
}

// InputPath expands the input path template.
func (d *Driver) InputPath(dataType, split string) string {
	return strings.NewReplacer(
		"{root}", strings.TrimSuffix(d.cfg.Input.Root, "/"),
		"{datatype}", dataType,
		"{split}", split,
	).Replace(d.cfg.Input.PathTemplate)
}

// OutputPath returns the store directory of a combination.
func (d *Driver) OutputPath(dataType, split string) string {
	dir := "prosit_fragmentation_" + dataType
	return filepath.Join(d.cfg.Output.Root, dir, dir+"_"+d.cfg.Output.OutputSplit(split)+".lmdb")
}

// Jobs lists the conversions in run order: data types outer, splits inner.
func (d *Driver) Jobs() []Job {
	jobs := make([]Job, 0, len(d.cfg.Input.DataTypes)*len(d.cfg.Input.Splits))
	for _, dt := range d.cfg.Input.DataTypes {
		for _, split := range d.cfg.Input.Splits {
			jobs = append(jobs, Job{
				DataType: dt,
				Split:    split,
				Input:    d.InputPath(dt, split),
				Output:   d.OutputPath(dt, split),
			})
		}
	}
	return jobs
}

// Check verifies that every input exists. The error lists all missing ones.
func (d *Driver) Check(ctx context.Context, jobs []Job) error {
	var missing []string
	for _, job := range jobs {
		ok, err := d.fetcher.Exists(ctx, job.Input)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, job.Input)
		}
	}
	if len(missing) > 0 {
		return errors.Newf(errors.ErrorTypePathUnavailable,
			"path %s does not exist, download it with %s", missing[0], DownloadScript).
			WithDetail("missing", missing)
	}
	return nil
}

// Run converts every job in order and stops at the first failure. Results
// of the jobs completed before it are returned with the error.
func (d *Driver) Run(ctx context.Context) ([]pipeline.Result, error) {
	runID := uuid.NewString()
	ctx = context.WithValue(ctx, logger.RunIDKey, runID)
	log := logger.FromContext(ctx, d.logger)

	jobs := d.Jobs()
	if err := d.Check(ctx, jobs); err != nil {
		log.Error("input check failed", zap.Error(err))
		return nil, err
	}

	start := time.Now()
	log.Info("starting run", zap.Int("jobs", len(jobs)))

	results := make([]pipeline.Result, 0, len(jobs))
	for _, job := range jobs {
		result, err := d.runJob(ctx, job)
		if err != nil {
			return results, err
		}
		results = append(results, result)
	}

	log.Info("run complete",
		zap.Int("jobs", len(results)),
		zap.Duration("duration", time.Since(start)))
	return results, nil
}

func (d *Driver) runJob(ctx context.Context, job Job) (pipeline.Result, error) {
	log := logger.FromContext(ctx, d.logger).With(
		zap.String("data_type", job.DataType),
		zap.String("split", job.Split))

	input, err := d.fetcher.Fetch(ctx, job.Input)
	if err != nil {
		return pipeline.Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(job.Output), 0o755); err != nil {
		return pipeline.Result{}, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to create output directory").
			WithDetail("path", filepath.Dir(job.Output))
	}

	log.Info("converting", zap.String("input", input), zap.String("output", job.Output))

	p := pipeline.New(pipeline.Config{
		BatchSize: d.cfg.Conversion.BatchSize,
		DataType:  job.DataType,
		Split:     job.Split,
		Store: store.Options{
			MaxSize: d.cfg.Output.MaxStoreSize,
			NoSync:  d.cfg.Output.NoSync,
		},
	}, d.logger, pipeline.WithMetrics(d.metrics))
	return p.ConvertFile(ctx, input, job.Output)
}

// Close releases the fetcher's clients.
func (d *Driver) Close() error {
	return d.fetcher.Close()
}

// Package pipeline converts one columnar prediction dataset into one
// record store.
//
// # Overview
//
// A conversion runs through a fixed sequence of stages:
//
//	Init -> MetadataWritten -> (LoadBatch -> Transform -> WriteBatch)* -> Done
//
// Init checks the source without touching the destination. MetadataWritten
// destroys any previous store and records the example count. Each batch
// window is then loaded column by column, transformed row by row and
// written in ascending index order. Any error ends the run in Failed; the
// partial store is invalid and a re-run recreates it from scratch.
//
// # Basic Usage
//
//	p := pipeline.New(pipeline.Config{BatchSize: 100_000}, logger)
//	result, err := p.ConvertFile(ctx, "prediction_hcd_train.arrow", "out/hcd_train.lmdb")
package pipeline

import (
	"context"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ajitpratap0/prositlmdb/pkg/batch"
	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/formats/columnar"
	"github.com/ajitpratap0/prositlmdb/pkg/logger"
	"github.com/ajitpratap0/prositlmdb/pkg/metrics"
	"github.com/ajitpratap0/prositlmdb/pkg/observability"
	"github.com/ajitpratap0/prositlmdb/pkg/store"
	"github.com/ajitpratap0/prositlmdb/pkg/transform"
)

// DefaultBatchSize is the number of records loaded per window.
const DefaultBatchSize = 100_000

// Config contains pipeline configuration parameters.
type Config struct {
	// BatchSize is the number of records per window (affects memory only)
	BatchSize int
	// DataType and Split label logs and metrics
	DataType string
	Split    string
	// Store configures the default store factory
	Store store.Options
}

// Pipeline converts datasets. It is not safe for concurrent use; run one
// conversion at a time.
type Pipeline struct {
	cfg         Config
	transformer Transformer
	createStore StoreFactory
	metrics     *metrics.Collector
	logger      *zap.Logger
	state       State
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTransformer replaces the default cast table.
func WithTransformer(t Transformer) Option {
	return func(p *Pipeline) { p.transformer = t }
}

// WithStoreFactory replaces the bolt-backed store.
func WithStoreFactory(f StoreFactory) Option {
	return func(p *Pipeline) { p.createStore = f }
}

// WithMetrics records batches and failures on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(p *Pipeline) { p.metrics = c }
}

// New creates a pipeline. A zero BatchSize means DefaultBatchSize; a
// negative one fails every conversion.
func New(cfg Config, log *zap.Logger, opts ...Option) *Pipeline {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Store.Logger = log

	p := &Pipeline{
		cfg:         cfg,
		transformer: transform.Default(),
		logger:      log,
	}
	p.createStore = func(path string, count int) (Store, error) {
		return store.Create(path, count, p.cfg.Store)
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State returns the stage the last conversion reached.
func (p *Pipeline) State() State { return p.state }

// ConvertFile opens input by extension and converts it into a store at dest.
func (p *Pipeline) ConvertFile(ctx context.Context, input, dest string) (Result, error) {
	src, err := columnar.Open(input)
	if err != nil {
		p.fail(err)
		return Result{}, err
	}
	defer src.Close()

	return p.Convert(ctx, src, dest)
}

// Convert writes every row of src into a store at dest.
func (p *Pipeline) Convert(ctx context.Context, src Source, dest string) (result Result, err error) {
	start := time.Now()
	p.state = StateInit

	ctx = p.labelled(ctx)
	log := logger.FromContext(ctx, p.logger).With(zap.String("destination", dest))

	ctx, span := observability.StartSpan(ctx, "convert",
		attribute.String("destination", dest),
		attribute.String("data_type", p.cfg.DataType),
		attribute.String("split", p.cfg.Split))
	defer func() {
		observability.EndSpan(span, err)
		if err != nil {
			log.Error("conversion failed",
				zap.String("state", p.state.String()),
				zap.Error(err))
			p.fail(err)
		}
	}()

	n, fields, err := p.validate(src)
	if err != nil {
		return Result{}, err
	}
	windows, err := batch.Windows(n, p.cfg.BatchSize)
	if err != nil {
		return Result{}, err
	}
	batches, _ := batch.Count(n, p.cfg.BatchSize)

	log.Info("starting conversion",
		zap.Int("num_examples", n),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("batches", batches),
		zap.Strings("fields", fields))

	st, err := p.createStore(dest, n)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	p.state = StateMetadataWritten
	p.metrics.ResetStore(p.cfg.DataType, p.cfg.Split)

	progress := NewProgressReporter(log, n, batches)
	b := 0
	for lo, hi := range windows {
		timer := metrics.NewTimer()
		if err := p.convertWindow(ctx, src, st, fields, lo, hi); err != nil {
			return Result{}, err
		}
		elapsed := timer.Stop()
		p.metrics.ObserveBatch(p.cfg.DataType, p.cfg.Split, hi-lo, elapsed)
		progress.Batch(b, lo, hi, elapsed)
		b++
	}

	p.state = StateDone
	result = Result{
		Path:     dest,
		Records:  n,
		Batches:  batches,
		Fields:   fields,
		Duration: time.Since(start),
	}
	progress.Done(result.Duration)
	return result, nil
}

// validate checks the source and returns its row count and the fields to
// load. Nothing on disk is touched.
func (p *Pipeline) validate(src Source) (int, []string, error) {
	var missing []string
	for _, f := range p.transformer.Required() {
		if !src.Has(f) {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return 0, nil, errors.Newf(errors.ErrorTypeMissingColumn, "source is missing required column %q", missing[0]).
			WithDetail("missing", missing)
	}

	n, err := src.Len(transform.LengthField)
	if err != nil {
		return 0, nil, err
	}

	fields := p.transformer.Loaded(func(f string) bool { return src.Has(f) })
	for _, f := range fields {
		l, err := src.Len(f)
		if err != nil {
			return 0, nil, err
		}
		if l != n {
			return 0, nil, errors.Newf(errors.ErrorTypeValidation, "column %q has %d rows, %q has %d", f, l, transform.LengthField, n).
				WithDetail("column", f)
		}
	}
	return n, fields, nil
}

func (p *Pipeline) convertWindow(ctx context.Context, src Source, st Store, fields []string, lo, hi int) (err error) {
	ctx, span := observability.StartSpan(ctx, "batch",
		attribute.Int("start", lo),
		attribute.Int("end", hi))
	defer func() { observability.EndSpan(span, err) }()

	p.state = StateLoadBatch
	cols := make(map[string]arrow.Array, len(fields))
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for _, f := range fields {
		col, err := src.Slice(ctx, f, lo, hi)
		if err != nil {
			return err
		}
		cols[f] = col
	}

	raw := make(transform.RawRecord, len(fields))
	for i := lo; i < hi; i++ {
		if err := ctx.Err(); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "conversion cancelled").
				WithDetail("index", i)
		}

		p.state = StateTransform
		for f, col := range cols {
			raw[f] = columnar.Row(col, i-lo)
		}
		rec, err := p.transformer.Transform(raw)
		for _, v := range raw {
			v.Release()
		}
		if err != nil {
			return errors.Wrap(err, errors.TypeOf(err), "failed to transform record").
				WithDetail("index", i)
		}

		p.state = StateWriteBatch
		if err := st.Put(i, rec); err != nil {
			return errors.Wrap(err, errors.ErrorTypeStoreIO, "failed to store record").
				WithDetail("key", strconv.Itoa(i))
		}
	}
	return nil
}

func (p *Pipeline) labelled(ctx context.Context) context.Context {
	if p.cfg.DataType != "" {
		ctx = context.WithValue(ctx, logger.DataTypeKey, p.cfg.DataType)
	}
	if p.cfg.Split != "" {
		ctx = context.WithValue(ctx, logger.SplitKey, p.cfg.Split)
	}
	return ctx
}

func (p *Pipeline) fail(err error) {
	p.state = StateFailed
	p.metrics.ObserveError(string(errors.TypeOf(err)))
}

// Package export re-embeds model predictions into the columnar dataset
// they were made for.
//
// The output holds every column of the source plus intensities_pred, a
// fixed-size list of float32 per row. Rows keep their source order; a
// prediction is matched to its row by index.
package export

import (
	"context"
	"os"
	"slices"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"go.uber.org/zap"

	"github.com/ajitpratap0/prositlmdb/pkg/batch"
	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/formats/columnar"
	"github.com/ajitpratap0/prositlmdb/pkg/sequence"
	"github.com/ajitpratap0/prositlmdb/pkg/transform"
)

// PredictionField is the column holding predicted intensities.
const PredictionField = "intensities_pred"

// Summary describes a finished export.
type Summary struct {
	Output   string        `json:"output"`
	Rows     int           `json:"rows"`
	Width    int           `json:"width"`
	Batches  int           `json:"batches"`
	Duration time.Duration `json:"duration"`
}

// Exporter writes predictions next to their source columns.
type Exporter struct {
	batchSize int
	alphabet  *sequence.Alphabet
	mem       memory.Allocator
	logger    *zap.Logger
}

// New creates an Exporter reading the source batchSize rows at a time.
func New(batchSize int, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{
		batchSize: batchSize,
		alphabet:  sequence.Prosit(),
		mem:       memory.DefaultAllocator,
		logger:    log,
	}
}

// Export joins the source dataset at sourcePath with the result file at
// resultsPath and writes the combined dataset to outPath. Any existing
// file at outPath is removed first.
func (e *Exporter) Export(ctx context.Context, sourcePath, resultsPath, outPath string) (Summary, error) {
	for _, p := range []string{sourcePath, resultsPath} {
		if _, err := os.Stat(p); err != nil {
			return Summary{}, errors.Wrap(err, errors.ErrorTypePathUnavailable, "input file does not exist").
				WithDetail("path", p)
		}
	}
	if _, err := columnar.FormatFromPath(outPath); err != nil {
		return Summary{}, err
	}

	src, err := columnar.Open(sourcePath)
	if err != nil {
		return Summary{}, err
	}
	defer src.Close()

	res, err := LoadResults(resultsPath)
	if err != nil {
		return Summary{}, err
	}
	return e.ExportSource(ctx, src, res, outPath)
}

// ExportSource is Export over an open source and loaded results.
func (e *Exporter) ExportSource(ctx context.Context, src columnar.Source, res *Results, outPath string) (Summary, error) {
	start := time.Now()
	log := e.logger.With(zap.String("output", outPath))

	cols := src.Columns()
	if slices.Contains(cols, PredictionField) {
		return Summary{}, errors.Newf(errors.ErrorTypeValidation, "source already has a %q column", PredictionField)
	}
	if !src.Has(transform.LengthField, transform.FieldSequenceInteger) {
		return Summary{}, errors.New(errors.ErrorTypeMissingColumn, "source is missing a required column").
			WithDetail("missing", columnar.Missing(src, transform.LengthField, transform.FieldSequenceInteger))
	}
	n, err := src.Len(transform.LengthField)
	if err != nil {
		return Summary{}, err
	}
	for _, c := range cols {
		l, err := src.Len(c)
		if err != nil {
			return Summary{}, err
		}
		if l != n {
			return Summary{}, errors.Newf(errors.ErrorTypeValidation, "column %q has %d rows, %q has %d", c, l, transform.LengthField, n).
				WithDetail("column", c)
		}
	}

	preds, width, err := res.index(n)
	if err != nil {
		return Summary{}, err
	}
	if err := e.checkSequences(ctx, src, preds); err != nil {
		return Summary{}, err
	}

	schema, err := e.schema(src, cols, width)
	if err != nil {
		return Summary{}, err
	}
	windows, err := batch.Windows(n, e.batchSize)
	if err != nil {
		return Summary{}, err
	}
	batches, _ := batch.Count(n, e.batchSize)

	if err := os.Remove(outPath); err != nil && !os.IsNotExist(err) {
		return Summary{}, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to remove previous output").
			WithDetail("path", outPath)
	}
	w, err := columnar.Create(outPath, schema)
	if err != nil {
		return Summary{}, err
	}

	log.Info("starting export", zap.Int("rows", n), zap.Int("width", width), zap.Int("batches", batches))
	for lo, hi := range windows {
		if err := e.writeWindow(ctx, w, src, schema, preds, width, lo, hi); err != nil {
			_ = w.Close()
			return Summary{}, err
		}
		log.Debug("batch exported", zap.Int("start", lo), zap.Int("end", hi))
	}
	if err := w.Close(); err != nil {
		return Summary{}, err
	}

	summary := Summary{
		Output:   outPath,
		Rows:     n,
		Width:    width,
		Batches:  batches,
		Duration: time.Since(start),
	}
	log.Info("export complete", zap.Duration("duration", summary.Duration))
	return summary, nil
}

// checkSequences verifies that every prediction carrying a peptide encodes
// to the sequence_integer row it claims.
func (e *Exporter) checkSequences(ctx context.Context, src columnar.Source, preds []*Prediction) error {
	windows, err := batch.Windows(len(preds), e.batchSize)
	if err != nil {
		return err
	}
	for lo, hi := range windows {
		col, err := src.Slice(ctx, transform.FieldSequenceInteger, lo, hi)
		if err != nil {
			return err
		}
		err = e.checkWindow(col, preds, lo, hi)
		col.Release()
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Exporter) checkWindow(col arrow.Array, preds []*Prediction, lo, hi int) error {
	for i := lo; i < hi; i++ {
		p := preds[i]
		if p.PeptideSequence == "" {
			continue
		}
		row := columnar.Row(col, i-lo)
		codes, err := columnar.Convert[int64](row)
		row.Release()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "failed to read sequence").WithDetail("index", i)
		}
		want, err := e.alphabet.Encode(p.PeptideSequence, len(codes))
		if err != nil {
			return errors.Wrap(err, errors.TypeOf(err), "failed to encode predicted peptide").WithDetail("index", i)
		}
		if !slices.Equal(want, codes) {
			return errors.Newf(errors.ErrorTypeValidation, "peptide %q does not match the source sequence", p.PeptideSequence).
				WithDetail("index", i)
		}
	}
	return nil
}

func (e *Exporter) schema(src columnar.Source, cols []string, width int) (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(cols)+1)
	for _, c := range cols {
		empty, err := src.Slice(context.Background(), c, 0, 0)
		if err != nil {
			return nil, err
		}
		fields = append(fields, arrow.Field{Name: c, Type: empty.DataType(), Nullable: true})
		empty.Release()
	}
	fields = append(fields, arrow.Field{
		Name:     PredictionField,
		Type:     arrow.FixedSizeListOf(int32(width), arrow.PrimitiveTypes.Float32),
		Nullable: true,
	})
	return arrow.NewSchema(fields, nil), nil
}

func (e *Exporter) writeWindow(ctx context.Context, w columnar.Writer, src columnar.Source, schema *arrow.Schema, preds []*Prediction, width, lo, hi int) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "export cancelled")
	}

	cols := make([]arrow.Array, 0, schema.NumFields())
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	for _, f := range schema.Fields()[:schema.NumFields()-1] {
		col, err := src.Slice(ctx, f.Name, lo, hi)
		if err != nil {
			return err
		}
		cols = append(cols, col)
	}

	b := array.NewFixedSizeListBuilder(e.mem, int32(width), arrow.PrimitiveTypes.Float32)
	defer b.Release()
	vb := b.ValueBuilder().(*array.Float32Builder)
	for _, p := range preds[lo:hi] {
		b.Append(true)
		vb.AppendValues(p.IntensitiesPred, nil)
	}
	cols = append(cols, b.NewArray())

	rec := array.NewRecord(schema, cols, int64(hi-lo))
	defer rec.Release()
	return w.Write(rec)
}

package columnar

import (
	"os"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Writer appends record batches to a columnar file.
type Writer interface {
	Write(rec arrow.Record) error
	Close() error
}

// recordWriter is satisfied by both ipc.FileWriter and pqarrow.FileWriter.
type recordWriter interface {
	Write(rec arrow.Record) error
	Close() error
}

type fileWriter struct {
	path string
	file *os.File
	w    recordWriter
	// schema records are rewritten to before writing; nil writes them as is
	schema *arrow.Schema
}

// Create creates path, truncating any existing file, and returns a writer
// for the format matching its extension. Each Write becomes one record
// batch (Arrow) or one row group (Parquet). Parquet files store
// fixed-size list columns as variable-size lists, which pqarrow reads back
// intact.
func Create(path string, schema *arrow.Schema) (Writer, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path) //nolint:gosec // G304: caller resolves the path
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to create output file").
			WithDetail("path", path)
	}

	var w recordWriter
	var rewrite *arrow.Schema
	switch format {
	case Parquet:
		props := parquet.NewWriterProperties(
			parquet.WithCompression(compress.Codecs.Snappy),
			parquet.WithAllocator(memory.DefaultAllocator),
		)
		if lists := listSchema(schema); !lists.Equal(schema) {
			rewrite = lists
			schema = lists
		}
		w, err = pqarrow.NewFileWriter(schema, f, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	default:
		w, err = ipc.NewFileWriter(f, ipc.WithSchema(schema), ipc.WithAllocator(memory.DefaultAllocator))
	}
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create columnar writer").
			WithDetail("path", path).
			WithDetail("format", string(format))
	}

	return &fileWriter{path: path, file: f, w: w, schema: rewrite}, nil
}

func (w *fileWriter) Write(rec arrow.Record) error {
	if w.schema != nil {
		cols := make([]arrow.Array, rec.NumCols())
		for i, col := range rec.Columns() {
			cols[i] = asList(col, w.schema.Field(i).Type)
		}
		rec = array.NewRecord(w.schema, cols, rec.NumRows())
		for _, c := range cols {
			c.Release()
		}
		defer rec.Release()
	}
	if err := w.w.Write(rec); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to write record batch").
			WithDetail("path", w.path)
	}
	return nil
}

// Close finalizes the file footer and closes the file.
func (w *fileWriter) Close() error {
	err := w.w.Close()
	// the parquet writer closes its sink itself
	if closeErr := w.file.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) && err == nil {
		err = closeErr
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to finalize output file").
			WithDetail("path", w.path)
	}
	return nil
}

// listSchema replaces fixed-size list fields with variable-size lists of
// the same element field.
func listSchema(schema *arrow.Schema) *arrow.Schema {
	fields := make([]arrow.Field, schema.NumFields())
	for i, f := range schema.Fields() {
		if fsl, ok := f.Type.(*arrow.FixedSizeListType); ok {
			f.Type = arrow.ListOfField(fsl.ElemField())
		}
		fields[i] = f
	}
	md := schema.Metadata()
	return arrow.NewSchema(fields, &md)
}

// asList returns a fixed-size list array as a list array of typ sharing
// its validity bitmap and values. Other arrays are returned retained.
func asList(arr arrow.Array, typ arrow.DataType) arrow.Array {
	fsl, ok := arr.(*array.FixedSizeList)
	if !ok {
		arr.Retain()
		return arr
	}
	data := fsl.Data()
	width := fsl.DataType().(*arrow.FixedSizeListType).Len()

	// offsets cover the parent offset so the slice stays zero-copy
	offsets := make([]int32, data.Offset()+data.Len()+1)
	for i := range offsets {
		offsets[i] = int32(i) * width
	}
	offsetsBuf := memory.NewBufferBytes(arrow.Int32Traits.CastToBytes(offsets))

	list := array.NewData(typ, data.Len(),
		[]*memory.Buffer{data.Buffers()[0], offsetsBuf},
		[]arrow.ArrayData{data.Children()[0]},
		data.NullN(), data.Offset())
	defer list.Release()
	return array.MakeFromData(list)
}

package columnar

import (
	"context"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// rowGroupChunk is one column of one decoded row group.
type rowGroupChunk struct {
	rowGroup int
	values   arrow.Array
}

// ParquetSource reads a Parquet file one row group and one column at a
// time.
type ParquetSource struct {
	path string
	// fileReader owns the underlying file and closes it
	fileReader  *file.Reader
	arrowReader *pqarrow.FileReader
	schema      *arrow.Schema
	mem         memory.Allocator

	// offsets[g] is the first row of row group g; offsets[len-1] is the row count
	offsets []int64
	// last row group decoded per field
	cache map[string]rowGroupChunk
	mu    sync.Mutex
}

// OpenParquet opens a Parquet file.
func OpenParquet(path string) (*ParquetSource, error) {
	f, err := openReadAt(path)
	if err != nil {
		return nil, err
	}

	fr, err := file.NewParquetReader(f)
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create Parquet reader").
			WithDetail("path", path)
	}

	mem := memory.NewGoAllocator()
	props := pqarrow.ArrowReadProperties{}
	arrowReader, err := pqarrow.NewFileReader(fr, props, mem)
	if err != nil {
		fr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to create Arrow reader").
			WithDetail("path", path)
	}

	// Columns are mapped from the Parquet schema alone. A stored Arrow
	// schema declaring fixed-size lists makes pqarrow decode their values
	// as nulls; the same columns read as lists are intact.
	manifest, err := pqarrow.NewSchemaManifest(fr.MetaData().Schema, nil, &props)
	if err != nil {
		fr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to map Parquet schema").
			WithDetail("path", path)
	}
	arrowReader.Manifest = manifest

	schema, err := pqarrow.FromParquet(fr.MetaData().Schema, &props, nil)
	if err != nil {
		fr.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to get Arrow schema").
			WithDetail("path", path)
	}

	src := &ParquetSource{
		path:        path,
		fileReader:  fr,
		arrowReader: arrowReader,
		schema:      schema,
		mem:         mem,
		cache:       make(map[string]rowGroupChunk),
	}

	src.offsets = make([]int64, 0, fr.NumRowGroups()+1)
	var rows int64
	for g := 0; g < fr.NumRowGroups(); g++ {
		src.offsets = append(src.offsets, rows)
		rows += fr.MetaData().RowGroup(g).NumRows()
	}
	src.offsets = append(src.offsets, rows)

	return src, nil
}

// Columns returns the column names in schema order.
func (s *ParquetSource) Columns() []string { return fieldNames(s.schema) }

// Has reports whether every field is a column.
func (s *ParquetSource) Has(fields ...string) bool { return hasAll(s.schema, fields) }

// Len returns the row count; all columns of a Parquet file share it.
func (s *ParquetSource) Len(field string) (int, error) {
	if !s.schema.HasField(field) {
		return 0, missingColumn(field)
	}
	return int(s.offsets[len(s.offsets)-1]), nil
}

// NumRowGroups returns the number of row groups in the file.
func (s *ParquetSource) NumRowGroups() int { return len(s.offsets) - 1 }

// Slice returns rows [start, end) of field.
func (s *ParquetSource) Slice(ctx context.Context, field string, start, end int) (arrow.Array, error) {
	idx := s.schema.FieldIndices(field)
	if len(idx) == 0 {
		return nil, missingColumn(field)
	}
	n := int(s.offsets[len(s.offsets)-1])
	if err := checkRange(field, start, end, n); err != nil {
		return nil, err
	}
	if start == end {
		return array.MakeArrayOfNull(s.mem, s.schema.Field(idx[0]).Type, 0), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	first := sort.Search(s.NumRowGroups(), func(g int) bool { return s.offsets[g+1] > int64(start) })

	var chunks []arrow.Array
	defer func() {
		for _, c := range chunks {
			c.Release()
		}
	}()

	for g := first; g < s.NumRowGroups() && s.offsets[g] < int64(end); g++ {
		values, err := s.rowGroup(ctx, field, idx[0], g)
		if err != nil {
			return nil, err
		}
		lo := max(int64(start), s.offsets[g]) - s.offsets[g]
		hi := min(int64(end), s.offsets[g+1]) - s.offsets[g]
		chunks = append(chunks, array.NewSlice(values, lo, hi))
	}

	if len(chunks) == 1 {
		out := chunks[0]
		out.Retain()
		return out, nil
	}
	out, err := array.Concatenate(chunks, s.mem)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to join row groups").
			WithDetail("field", field)
	}
	return out, nil
}

// rowGroup decodes column fieldIdx of row group g, reusing the previous
// decode of the same field when the window has not left it.
func (s *ParquetSource) rowGroup(ctx context.Context, field string, fieldIdx, g int) (arrow.Array, error) {
	if c, ok := s.cache[field]; ok {
		if c.rowGroup == g {
			return c.values, nil
		}
		c.values.Release()
		delete(s.cache, field)
	}

	tbl, err := s.arrowReader.ReadRowGroups(ctx, []int{leafIndex(s.arrowReader.Manifest.Fields[fieldIdx])}, []int{g})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to read row group").
			WithDetail("path", s.path).
			WithDetail("field", field).
			WithDetail("row_group", g)
	}
	defer tbl.Release()

	chunked := tbl.Column(0).Data()
	var values arrow.Array
	if len(chunked.Chunks()) == 1 {
		values = chunked.Chunk(0)
		values.Retain()
	} else {
		values, err = array.Concatenate(chunked.Chunks(), s.mem)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to join column chunks").
				WithDetail("field", field)
		}
	}

	s.cache[field] = rowGroupChunk{rowGroup: g, values: values}
	return values, nil
}

// leafIndex returns the first leaf column under a top-level field. Every
// column this package reads has exactly one leaf.
func leafIndex(f pqarrow.SchemaField) int {
	for len(f.Children) > 0 {
		f = f.Children[0]
	}
	return f.ColIndex
}

// Close releases cached row groups and the file.
func (s *ParquetSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, c := range s.cache {
		c.values.Release()
		delete(s.cache, k)
	}

	if s.fileReader == nil {
		return nil
	}
	err := s.fileReader.Close()
	s.fileReader = nil
	return err
}

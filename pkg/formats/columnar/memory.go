package columnar

import (
	"context"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
)

// MemorySource serves columns already held in memory. Columns may have
// different lengths, which the on-disk formats cannot express.
type MemorySource struct {
	columns map[string]arrow.Array
	order   []string
}

// NewMemorySource wraps columns. It retains every array; Close releases them.
func NewMemorySource(columns map[string]arrow.Array) *MemorySource {
	src := &MemorySource{columns: make(map[string]arrow.Array, len(columns))}
	for name, col := range columns {
		col.Retain()
		src.columns[name] = col
		src.order = append(src.order, name)
	}
	sort.Strings(src.order)
	return src
}

// FromRecord wraps the columns of rec in schema order.
func FromRecord(rec arrow.Record) *MemorySource {
	src := &MemorySource{columns: make(map[string]arrow.Array, rec.NumCols())}
	for i, f := range rec.Schema().Fields() {
		col := rec.Column(i)
		col.Retain()
		src.columns[f.Name] = col
		src.order = append(src.order, f.Name)
	}
	return src
}

// Columns returns the column names.
func (s *MemorySource) Columns() []string { return append([]string(nil), s.order...) }

// Has reports whether every field is a column.
func (s *MemorySource) Has(fields ...string) bool {
	for _, f := range fields {
		if _, ok := s.columns[f]; !ok {
			return false
		}
	}
	return true
}

// Len returns the length of field.
func (s *MemorySource) Len(field string) (int, error) {
	col, ok := s.columns[field]
	if !ok {
		return 0, missingColumn(field)
	}
	return col.Len(), nil
}

// Slice returns a zero-copy view of rows [start, end) of field.
func (s *MemorySource) Slice(_ context.Context, field string, start, end int) (arrow.Array, error) {
	col, ok := s.columns[field]
	if !ok {
		return nil, missingColumn(field)
	}
	if err := checkRange(field, start, end, col.Len()); err != nil {
		return nil, err
	}
	return array.NewSlice(col, int64(start), int64(end)), nil
}

// Close releases the columns.
func (s *MemorySource) Close() error {
	for name, col := range s.columns {
		col.Release()
		delete(s.columns, name)
	}
	return nil
}

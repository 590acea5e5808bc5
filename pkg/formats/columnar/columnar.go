// Package columnar provides lazy, window-addressable access to named
// columns of an on-disk columnar dataset, and writers for the same formats.
//
// A Source never materializes a whole column: Slice returns only the rows
// of the requested window, reading the enclosing record batches or row
// groups on demand.
package columnar

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Format represents a columnar storage format
type Format string

const (
	// Arrow is the Apache Arrow IPC file format (Feather v2)
	Arrow Format = "arrow"
	// Parquet is Apache Parquet format
	Parquet Format = "parquet"
)

// Source is read-only access to the columns of a dataset.
type Source interface {
	// Columns returns the column names in schema order.
	Columns() []string
	// Has reports whether every field is a column of the dataset.
	Has(fields ...string) bool
	// Len returns the number of rows of field.
	Len(field string) (int, error)
	// Slice returns rows [start, end) of field. The caller releases it.
	Slice(ctx context.Context, field string, start, end int) (arrow.Array, error)
	// Close releases the underlying file.
	Close() error
}

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".arrow", ".feather", ".ipc":
		return Arrow, nil
	case ".parquet", ".pq":
		return Parquet, nil
	default:
		return "", errors.Newf(errors.ErrorTypePathUnavailable, "unsupported columnar file extension %q", filepath.Ext(path)).
			WithDetail("path", path)
	}
}

// Open opens path with the Source implementation matching its extension.
func Open(path string) (Source, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePathUnavailable, "source dataset is not readable").
			WithDetail("path", path)
	}

	switch format {
	case Parquet:
		return OpenParquet(path)
	default:
		return OpenArrow(path)
	}
}

// Missing returns the fields that src does not have, in the given order.
func Missing(src Source, fields ...string) []string {
	var missing []string
	for _, f := range fields {
		if !src.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func checkRange(field string, start, end, n int) error {
	if start < 0 || end < start || end > n {
		return errors.Newf(errors.ErrorTypeValidation, "range [%d, %d) outside column %q of length %d", start, end, field, n)
	}
	return nil
}

func hasAll(schema *arrow.Schema, fields []string) bool {
	for _, f := range fields {
		if !schema.HasField(f) {
			return false
		}
	}
	return true
}

func fieldNames(schema *arrow.Schema) []string {
	names := make([]string, 0, schema.NumFields())
	for _, f := range schema.Fields() {
		names = append(names, f.Name)
	}
	return names
}

func missingColumn(field string) error {
	return errors.Newf(errors.ErrorTypeMissingColumn, "column %q not found", field)
}

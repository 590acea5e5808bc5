package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Number is the set of element types a numeric column converts to.
type Number interface {
	~int8 | ~int16 | ~int32 | ~int64 |
		~uint8 | ~uint16 | ~uint32 | ~uint64 |
		~float32 | ~float64
}

// Row returns the values of row i of col. For list columns that is the
// list element; for primitive columns a one-element array. The caller
// releases the result.
func Row(col arrow.Array, i int) arrow.Array {
	if l, ok := col.(array.ListLike); ok {
		start, end := l.ValueOffsets(i)
		return array.NewSlice(l.ListValues(), start, end)
	}
	return array.NewSlice(col, int64(i), int64(i+1))
}

// Convert copies a numeric array into a []T with Go conversion semantics.
// Nulls are rejected; the source formats carry dense arrays.
func Convert[T Number](arr arrow.Array) ([]T, error) {
	if arr.NullN() > 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "%d null values in a dense numeric array", arr.NullN())
	}

	out := make([]T, arr.Len())
	switch a := arr.(type) {
	case *array.Int8:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Int16:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Int32:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Int64:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Uint8:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Uint16:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Uint32:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Uint64:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Float32:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	case *array.Float64:
		for i := range out {
			out[i] = T(a.Value(i))
		}
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "column type %s is not numeric", arr.DataType())
	}
	return out, nil
}

// IsInteger reports whether arr holds signed or unsigned integers.
func IsInteger(arr arrow.Array) bool {
	switch arr.DataType().ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return true
	default:
		return false
	}
}

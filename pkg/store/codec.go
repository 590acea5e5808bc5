package store

import (
	"fmt"

	"github.com/linkedin/goavro/v2"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// recordSchema encodes a record as an Avro map whose values are a union
// of the element types records carry.
const recordSchema = `{
  "type": "map",
  "values": [
    "bytes",
    "string",
    {"type": "record", "name": "Float32Array", "fields": [{"name": "values", "type": {"type": "array", "items": "float"}}]},
    {"type": "record", "name": "Float64Array", "fields": [{"name": "values", "type": {"type": "array", "items": "double"}}]},
    {"type": "record", "name": "Int64Array", "fields": [{"name": "values", "type": {"type": "array", "items": "long"}}]}
  ]
}`

const countSchema = `"long"`

// Union branch names.
const (
	branchBytes   = "bytes"
	branchString  = "string"
	branchFloat32 = "Float32Array"
	branchFloat64 = "Float64Array"
	branchInt64   = "Int64Array"
)

// Codec serializes records and the example count.
//
// Supported value types are []float32, []float64, []int64, []uint8 and
// string. []uint8 is stored as Avro bytes.
type Codec struct {
	record *goavro.Codec
	count  *goavro.Codec
}

// NewCodec compiles the Avro schemas.
func NewCodec() (*Codec, error) {
	record, err := goavro.NewCodec(recordSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create record codec: %w", err)
	}
	count, err := goavro.NewCodec(countSchema)
	if err != nil {
		return nil, fmt.Errorf("failed to create count codec: %w", err)
	}
	return &Codec{record: record, count: count}, nil
}

// EncodeRecord serializes rec.
func (c *Codec) EncodeRecord(rec map[string]any) ([]byte, error) {
	native := make(map[string]interface{}, len(rec))
	for field, v := range rec {
		u, err := toUnion(v)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode record").
				WithDetail("field", field)
		}
		native[field] = u
	}

	buf, err := c.record.BinaryFromNative(nil, native)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode record")
	}
	return buf, nil
}

// DecodeRecord is the inverse of EncodeRecord.
func (c *Codec) DecodeRecord(buf []byte) (map[string]any, error) {
	native, _, err := c.record.NativeFromBinary(buf)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode record")
	}

	m, ok := native.(map[string]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "decoded record is %T, not a map", native)
	}

	rec := make(map[string]any, len(m))
	for field, u := range m {
		v, err := fromUnion(u)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode record").
				WithDetail("field", field)
		}
		rec[field] = v
	}
	return rec, nil
}

// EncodeCount serializes the example count.
func (c *Codec) EncodeCount(n int) ([]byte, error) {
	buf, err := c.count.BinaryFromNative(nil, int64(n))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to encode count")
	}
	return buf, nil
}

// DecodeCount is the inverse of EncodeCount.
func (c *Codec) DecodeCount(buf []byte) (int, error) {
	native, _, err := c.count.NativeFromBinary(buf)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeData, "failed to decode count")
	}
	n, ok := native.(int64)
	if !ok {
		return 0, errors.Newf(errors.ErrorTypeData, "decoded count is %T, not int64", native)
	}
	return int(n), nil
}

func toUnion(v any) (interface{}, error) {
	switch x := v.(type) {
	case []byte:
		return goavro.Union(branchBytes, x), nil
	case string:
		return goavro.Union(branchString, x), nil
	case []float32:
		items := make([]interface{}, len(x))
		for i, f := range x {
			items[i] = f
		}
		return goavro.Union(branchFloat32, map[string]interface{}{"values": items}), nil
	case []float64:
		items := make([]interface{}, len(x))
		for i, f := range x {
			items[i] = f
		}
		return goavro.Union(branchFloat64, map[string]interface{}{"values": items}), nil
	case []int64:
		items := make([]interface{}, len(x))
		for i, n := range x {
			items[i] = n
		}
		return goavro.Union(branchInt64, map[string]interface{}{"values": items}), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T", v)
	}
}

func fromUnion(u interface{}) (any, error) {
	m, ok := u.(map[string]interface{})
	if !ok || len(m) != 1 {
		return nil, errors.Newf(errors.ErrorTypeData, "value is not a union: %T", u)
	}

	var branch string
	var v interface{}
	for b, x := range m {
		branch, v = b, x
	}

	switch branch {
	case branchBytes:
		return branchValue[[]byte](branch, v)
	case branchString:
		return branchValue[string](branch, v)
	case branchFloat32:
		return arrayValues[float32](branch, v)
	case branchFloat64:
		return arrayValues[float64](branch, v)
	case branchInt64:
		return arrayValues[int64](branch, v)
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "unknown union branch %q", branch)
	}
}

func branchValue[T any](branch string, v interface{}) (T, error) {
	x, ok := v.(T)
	if !ok {
		var zero T
		return zero, errors.Newf(errors.ErrorTypeData, "union branch %q holds %T", branch, v)
	}
	return x, nil
}

// arrayValues unpacks the values field of an array record branch.
func arrayValues[T float32 | float64 | int64](branch string, v interface{}) ([]T, error) {
	rec, ok := v.(map[string]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "union branch %q holds %T, not a record", branch, v)
	}
	items, ok := rec["values"].([]interface{})
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeData, "union branch %q has no values array", branch)
	}
	out := make([]T, len(items))
	for i, item := range items {
		x, ok := item.(T)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeData, "union branch %q item %d is %T", branch, i, item)
		}
		out[i] = x
	}
	return out, nil
}

package columnar_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/formats/columnar"
	"github.com/ajitpratap0/prositlmdb/pkg/testutil"
)

func TestFormatFromPath(t *testing.T) {
	tests := []struct {
		path    string
		want    columnar.Format
		wantErr bool
	}{
		{path: "a/prediction_hcd_train.arrow", want: columnar.Arrow},
		{path: "x.feather", want: columnar.Arrow},
		{path: "x.IPC", want: columnar.Arrow},
		{path: "x.parquet", want: columnar.Parquet},
		{path: "x.pq", want: columnar.Parquet},
		{path: "x.hdf5", wantErr: true},
		{path: "noext", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := columnar.FormatFromPath(tt.path)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsType(err, errors.ErrorTypePathUnavailable))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := columnar.Open(filepath.Join(t.TempDir(), "absent.arrow"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePathUnavailable))
}

func TestSourcesSliceAcrossBatches(t *testing.T) {
	ds := testutil.Dataset{Rows: 23, BatchRows: 5, Masses: true}

	for _, name := range []string{"data.arrow", "data.parquet"} {
		t.Run(name, func(t *testing.T) {
			path := ds.WriteTemp(t, name)
			src, err := columnar.Open(path)
			require.NoError(t, err)
			defer src.Close()

			assert.ElementsMatch(t, []string{
				testutil.CollisionEnergy, testutil.PrecursorCharge, testutil.IntensitiesRaw,
				testutil.SequenceInteger, testutil.MassesRaw,
			}, src.Columns())
			assert.True(t, src.Has(testutil.IntensitiesRaw, testutil.MassesRaw))
			assert.False(t, src.Has(testutil.IntensitiesRaw, "nope"))

			n, err := src.Len(testutil.CollisionEnergy)
			require.NoError(t, err)
			assert.Equal(t, 23, n)

			ctx := context.Background()
			// windows that start inside, span and end on batch boundaries
			for _, w := range [][2]int{{0, 4}, {3, 12}, {5, 10}, {20, 23}, {0, 23}} {
				col, err := src.Slice(ctx, testutil.IntensitiesRaw, w[0], w[1])
				require.NoError(t, err)
				require.Equal(t, w[1]-w[0], col.Len())

				for i := w[0]; i < w[1]; i++ {
					row := columnar.Row(col, i-w[0])
					values, err := columnar.Convert[float64](row)
					row.Release()
					require.NoError(t, err)
					require.Len(t, values, testutil.FragmentWidth)
					assert.Equal(t, testutil.IntensityAt(i, 0), values[0])
					assert.Equal(t, testutil.IntensityAt(i, testutil.FragmentWidth-1), values[testutil.FragmentWidth-1])
				}
				col.Release()
			}

			empty, err := src.Slice(ctx, testutil.IntensitiesRaw, 7, 7)
			require.NoError(t, err)
			assert.Equal(t, 0, empty.Len())
			empty.Release()

			_, err = src.Slice(ctx, testutil.IntensitiesRaw, 20, 24)
			assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

			_, err = src.Slice(ctx, "nope", 0, 1)
			assert.True(t, errors.IsType(err, errors.ErrorTypeMissingColumn))

			_, err = src.Len("nope")
			assert.True(t, errors.IsType(err, errors.ErrorTypeMissingColumn))
		})
	}
}

func TestArrowSourceBatchCount(t *testing.T) {
	path := testutil.Dataset{Rows: 10, BatchRows: 3}.WriteTemp(t, "data.arrow")
	src, err := columnar.OpenArrow(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 4, src.NumBatches())
}

func TestParquetSourceRowGroups(t *testing.T) {
	path := testutil.Dataset{Rows: 10, BatchRows: 4}.WriteTemp(t, "data.parquet")
	src, err := columnar.OpenParquet(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 3, src.NumRowGroups())

	col, err := src.Slice(context.Background(), testutil.SequenceInteger, 3, 9)
	require.NoError(t, err)
	defer col.Release()

	row := columnar.Row(col, 0)
	defer row.Release()
	assert.True(t, columnar.IsInteger(row))
}

func TestEmptyDataset(t *testing.T) {
	for _, name := range []string{"empty.arrow", "empty.parquet"} {
		t.Run(name, func(t *testing.T) {
			path := testutil.Dataset{Rows: 0}.WriteTemp(t, name)
			src, err := columnar.Open(path)
			require.NoError(t, err)
			defer src.Close()

			n, err := src.Len(testutil.CollisionEnergy)
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestMemorySource(t *testing.T) {
	mem := memory.NewGoAllocator()
	b := array.NewInt64Builder(mem)
	b.AppendValues([]int64{10, 20, 30, 40}, nil)
	short := b.NewInt64Array()
	b.AppendValues([]int64{1, 2}, nil)
	shorter := b.NewInt64Array()
	b.Release()

	src := columnar.NewMemorySource(map[string]arrow.Array{"a": short, "b": shorter})
	short.Release()
	shorter.Release()
	defer src.Close()

	assert.Equal(t, []string{"a", "b"}, src.Columns())
	n, err := src.Len("b")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	col, err := src.Slice(context.Background(), "a", 1, 3)
	require.NoError(t, err)
	defer col.Release()

	got, err := columnar.Convert[int64](col)
	require.NoError(t, err)
	assert.Equal(t, []int64{20, 30}, got)

	assert.Equal(t, []string{"c"}, columnar.Missing(src, "a", "c", "b"))
}

func TestConvert(t *testing.T) {
	mem := memory.NewGoAllocator()

	fb := array.NewFloat64Builder(mem)
	defer fb.Release()
	fb.AppendValues([]float64{0.5, 1.25, 3}, nil)
	floats := fb.NewFloat64Array()
	defer floats.Release()

	f32, err := columnar.Convert[float32](floats)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 1.25, 3}, f32)

	u8, err := columnar.Convert[uint8](floats)
	require.NoError(t, err)
	assert.Equal(t, []uint8{0, 1, 3}, u8)

	fb.AppendNull()
	withNull := fb.NewFloat64Array()
	defer withNull.Release()
	_, err = columnar.Convert[float32](withNull)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	sb := array.NewStringBuilder(mem)
	defer sb.Release()
	sb.Append("x")
	strs := sb.NewStringArray()
	defer strs.Release()
	_, err = columnar.Convert[float32](strs)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
	assert.False(t, columnar.IsInteger(strs))
}

func TestCreateTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.arrow")
	require.NoError(t, os.WriteFile(path, []byte("stale content that is not arrow"), 0o600))

	testutil.Dataset{Rows: 3}.Write(t, path)

	src, err := columnar.Open(path)
	require.NoError(t, err)
	defer src.Close()
	n, err := src.Len(testutil.SequenceInteger)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestParquetFixedSizeListRoundTrip(t *testing.T) {
	mem := memory.NewGoAllocator()
	typ := arrow.FixedSizeListOf(3, arrow.PrimitiveTypes.Float32)
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: typ}}, nil)

	b := array.NewFixedSizeListBuilder(mem, 3, arrow.PrimitiveTypes.Float32)
	defer b.Release()
	vb := b.ValueBuilder().(*array.Float32Builder)
	for i := 0; i < 4; i++ {
		b.Append(true)
		vb.AppendValues([]float32{float32(3*i + 1), float32(3*i + 2), float32(3*i + 3)}, nil)
	}
	col := b.NewArray()
	defer col.Release()
	rec := array.NewRecord(schema, []arrow.Array{col}, 4)
	defer rec.Release()

	path := filepath.Join(t.TempDir(), "fsl.parquet")
	w, err := columnar.Create(path, schema)
	require.NoError(t, err)
	require.NoError(t, w.Write(rec))
	// a sliced record carries a non-zero array offset
	tail := rec.NewSlice(1, 3)
	require.NoError(t, w.Write(tail))
	tail.Release()
	require.NoError(t, w.Close())

	src, err := columnar.OpenParquet(path)
	require.NoError(t, err)
	defer src.Close()

	n, err := src.Len("v")
	require.NoError(t, err)
	require.Equal(t, 6, n)

	got, err := src.Slice(context.Background(), "v", 0, 6)
	require.NoError(t, err)
	defer got.Release()
	assert.Zero(t, got.NullN())

	want := [][]float32{
		{1, 2, 3}, {4, 5, 6}, {7, 8, 9}, {10, 11, 12},
		{4, 5, 6}, {7, 8, 9},
	}
	for i, w := range want {
		row := columnar.Row(got, i)
		values, err := columnar.Convert[float32](row)
		row.Release()
		require.NoError(t, err, "row %d", i)
		assert.Equal(t, w, values, "row %d", i)
	}
}

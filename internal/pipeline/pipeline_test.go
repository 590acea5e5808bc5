package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/formats/columnar"
	"github.com/ajitpratap0/prositlmdb/pkg/metrics"
	"github.com/ajitpratap0/prositlmdb/pkg/store"
	"github.com/ajitpratap0/prositlmdb/pkg/testutil"
	"github.com/ajitpratap0/prositlmdb/pkg/transform"
)

// memStore records what the pipeline writes.
type memStore struct {
	path   string
	count  int
	keys   []int
	recs   map[int]map[string]any
	closed bool
}

func (s *memStore) Put(index int, rec map[string]any) error {
	s.keys = append(s.keys, index)
	s.recs[index] = rec
	return nil
}

func (s *memStore) Close() error {
	s.closed = true
	return nil
}

func memStoreFactory(stores *[]*memStore) StoreFactory {
	return func(path string, count int) (Store, error) {
		s := &memStore{path: path, count: count, recs: make(map[int]map[string]any)}
		*stores = append(*stores, s)
		return s, nil
	}
}

// recordingSource logs the windows requested per field.
type recordingSource struct {
	Source
	windows [][2]int
}

func (s *recordingSource) Slice(ctx context.Context, field string, start, end int) (arrow.Array, error) {
	if field == transform.FieldCollisionEnergy {
		s.windows = append(s.windows, [2]int{start, end})
	}
	return s.Source.Slice(ctx, field, start, end)
}

func memorySource(t *testing.T, ds testutil.Dataset) *columnar.MemorySource {
	t.Helper()
	rec := ds.Record(t, memory.NewGoAllocator(), 0, ds.Rows)
	defer rec.Release()
	src := columnar.FromRecord(rec)
	t.Cleanup(func() { src.Close() })
	return src
}

// withSequences replaces the sequence column of src's columns.
func withSequences(t *testing.T, ds testutil.Dataset, rows [][]int64) *columnar.MemorySource {
	t.Helper()
	mem := memory.NewGoAllocator()
	rec := ds.Record(t, mem, 0, ds.Rows)
	defer rec.Release()

	lb := array.NewListBuilder(mem, arrow.PrimitiveTypes.Int64)
	defer lb.Release()
	vb := lb.ValueBuilder().(*array.Int64Builder)
	for _, r := range rows {
		lb.Append(true)
		vb.AppendValues(r, nil)
	}
	seq := lb.NewArray()
	defer seq.Release()

	cols := map[string]arrow.Array{}
	for i, f := range rec.Schema().Fields() {
		cols[f.Name] = rec.Column(i)
	}
	cols[transform.FieldSequenceInteger] = seq

	src := columnar.NewMemorySource(cols)
	t.Cleanup(func() { src.Close() })
	return src
}

func TestConvertKeysAndWindows(t *testing.T) {
	var stores []*memStore
	p := New(Config{BatchSize: 2}, testutil.TestLogger(t), WithStoreFactory(memStoreFactory(&stores)))

	src := &recordingSource{Source: memorySource(t, testutil.Dataset{Rows: 5})}
	result, err := p.Convert(testutil.TestContext(t), src, "dest")
	require.NoError(t, err)

	require.Len(t, stores, 1)
	s := stores[0]
	assert.Equal(t, 5, s.count)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, s.keys)
	assert.True(t, s.closed)
	assert.Equal(t, [][2]int{{0, 2}, {2, 4}, {4, 5}}, src.windows)

	assert.Equal(t, 5, result.Records)
	assert.Equal(t, 3, result.Batches)
	assert.Equal(t, StateDone, p.State())

	for i := 0; i < 5; i++ {
		assert.Equal(t, testutil.PeptideAt(i), s.recs[i][transform.FieldPeptideSequence])
		assert.NotContains(t, s.recs[i], transform.FieldSequenceInteger)
	}
}

func TestConvertEmptySource(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "empty.lmdb")
	p := New(Config{BatchSize: 10}, testutil.TestLogger(t))

	result, err := p.Convert(testutil.TestContext(t), memorySource(t, testutil.Dataset{Rows: 0}), dest)
	require.NoError(t, err)
	assert.Zero(t, result.Records)
	assert.Zero(t, result.Batches)

	r, err := store.Open(dest, store.Options{})
	require.NoError(t, err)
	defer r.Close()

	n, err := r.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
	_, err = r.Get(0)
	assert.Error(t, err)
}

func TestConvertFileEndToEnd(t *testing.T) {
	for _, name := range []string{"prediction_hcd_train.arrow", "prediction_hcd_train.parquet"} {
		t.Run(name, func(t *testing.T) {
			ds := testutil.Dataset{Rows: 11, BatchRows: 4, Masses: true}
			input := ds.WriteTemp(t, name)
			dest := filepath.Join(t.TempDir(), "out.lmdb")

			p := New(Config{BatchSize: 3, DataType: "hcd", Split: "train"}, testutil.TestLogger(t))
			result, err := p.ConvertFile(testutil.TestContext(t), input, dest)
			require.NoError(t, err)
			assert.Equal(t, 11, result.Records)
			assert.Contains(t, result.Fields, transform.FieldMassesRaw)

			r, err := store.Open(dest, store.Options{})
			require.NoError(t, err)
			defer r.Close()

			n, err := r.Count()
			require.NoError(t, err)
			assert.Equal(t, 11, n)

			for _, i := range []int{0, 3, 4, 10} {
				rec, err := r.Get(i)
				require.NoError(t, err)
				assert.Equal(t, testutil.PeptideAt(i), rec[transform.FieldPeptideSequence])
				assert.Equal(t, []float32{float32(testutil.EnergyAt(i))}, rec[transform.FieldCollisionEnergy])

				charge := make([]uint8, testutil.ChargeWidth)
				charge[testutil.ChargeAt(i)] = 1
				assert.Equal(t, charge, rec[transform.FieldPrecursorCharge])

				masses, ok := rec[transform.FieldMassesRaw].([]float32)
				require.True(t, ok)
				assert.Equal(t, float32(testutil.MassAt(i, 7)), masses[7])
			}
		})
	}
}

func TestConvertIsIdempotent(t *testing.T) {
	ds := testutil.Dataset{Rows: 7, BatchRows: 3}
	input := ds.WriteTemp(t, "in.arrow")
	dest := filepath.Join(t.TempDir(), "out.lmdb")

	read := func() map[int]map[string]any {
		r, err := store.Open(dest, store.Options{})
		require.NoError(t, err)
		defer r.Close()
		out := map[int]map[string]any{}
		require.NoError(t, r.ForEach(func(i int, rec map[string]any) error {
			out[i] = rec
			return nil
		}))
		return out
	}

	p := New(Config{BatchSize: 2}, testutil.TestLogger(t))
	_, err := p.ConvertFile(testutil.TestContext(t), input, dest)
	require.NoError(t, err)
	first := read()

	_, err = p.ConvertFile(testutil.TestContext(t), input, dest)
	require.NoError(t, err)
	assert.Equal(t, first, read())
	assert.Len(t, first, 7)
}

func TestConvertMissingColumnLeavesDestination(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "out.lmdb")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	marker := filepath.Join(dest, "previous")
	require.NoError(t, os.WriteFile(marker, []byte("keep"), 0o600))

	var stores []*memStore
	p := New(Config{}, testutil.TestLogger(t), WithStoreFactory(memStoreFactory(&stores)))
	src := memorySource(t, testutil.Dataset{Rows: 3, Omit: []string{transform.FieldIntensitiesRaw}})

	_, err := p.Convert(testutil.TestContext(t), src, dest)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingColumn))
	assert.Contains(t, err.Error(), transform.FieldIntensitiesRaw)
	assert.Empty(t, stores)
	assert.FileExists(t, marker)
	assert.Equal(t, StateFailed, p.State())
}

func TestConvertLengthMismatch(t *testing.T) {
	ds := testutil.Dataset{Rows: 4}
	rec := ds.Record(t, memory.NewGoAllocator(), 0, 4)
	defer rec.Release()

	cols := map[string]arrow.Array{}
	for i, f := range rec.Schema().Fields() {
		col := rec.Column(i)
		if f.Name == transform.FieldIntensitiesRaw {
			short := array.NewSlice(col, 0, 3)
			defer short.Release()
			col = short
		}
		cols[f.Name] = col
	}
	src := columnar.NewMemorySource(cols)
	defer src.Close()

	var stores []*memStore
	p := New(Config{}, testutil.TestLogger(t), WithStoreFactory(memStoreFactory(&stores)))
	_, err := p.Convert(testutil.TestContext(t), src, "dest")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Empty(t, stores)
}

func TestConvertInvalidBatchSize(t *testing.T) {
	var stores []*memStore
	p := New(Config{BatchSize: -1}, testutil.TestLogger(t), WithStoreFactory(memStoreFactory(&stores)))
	_, err := p.Convert(testutil.TestContext(t), memorySource(t, testutil.Dataset{Rows: 2}), "dest")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Empty(t, stores)
}

func TestConvertDecodeFailureStopsBeforeRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := metrics.NewCollector(reg)
	require.NoError(t, err)

	ds := testutil.Dataset{Rows: 5}
	src := withSequences(t, ds, [][]int64{{1}, {2, 3}, {4}, {1, 22, 0}, {5}})

	var stores []*memStore
	p := New(Config{BatchSize: 2}, testutil.TestLogger(t),
		WithStoreFactory(memStoreFactory(&stores)),
		WithMetrics(collector))

	_, err = p.Convert(testutil.TestContext(t), src, "dest")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownSequenceCode))

	require.Len(t, stores, 1)
	assert.Equal(t, []int{0, 1, 2}, stores[0].keys)
	assert.True(t, stores[0].closed)
	assert.Equal(t, "A", stores[0].recs[0][transform.FieldPeptideSequence])
	assert.Equal(t, StateFailed, p.State())
}

func TestConvertCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var stores []*memStore
	p := New(Config{BatchSize: 2}, testutil.TestLogger(t), WithStoreFactory(memStoreFactory(&stores)))
	_, err := p.Convert(ctx, memorySource(t, testutil.Dataset{Rows: 3}), "dest")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, stores, 1)
	assert.Empty(t, stores[0].keys)
}

func TestConvertFileMissingInput(t *testing.T) {
	p := New(Config{}, testutil.TestLogger(t))
	_, err := p.ConvertFile(testutil.TestContext(t), filepath.Join(t.TempDir(), "absent.arrow"), "dest")
	assert.True(t, errors.IsType(err, errors.ErrorTypePathUnavailable))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "metadata_written", StateMetadataWritten.String())
	assert.Equal(t, "unknown", State(99).String())
}

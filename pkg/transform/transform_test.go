package transform

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/formats/columnar"
	"github.com/ajitpratap0/prositlmdb/pkg/sequence"
	"github.com/ajitpratap0/prositlmdb/pkg/testutil"
)

// rawRow builds the raw record of row i of ds.
func rawRow(t *testing.T, ds testutil.Dataset, i int) RawRecord {
	t.Helper()
	mem := memory.NewGoAllocator()
	rec := ds.Record(t, mem, i, i+1)
	t.Cleanup(rec.Release)

	raw := make(RawRecord)
	for c, f := range rec.Schema().Fields() {
		row := columnar.Row(rec.Column(c), 0)
		t.Cleanup(row.Release)
		raw[f.Name] = row
	}
	return raw
}

func int64Array(t *testing.T, values ...int64) arrow.Array {
	t.Helper()
	b := array.NewInt64Builder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues(values, nil)
	arr := b.NewArray()
	t.Cleanup(arr.Release)
	return arr
}

func TestTransformCastsAndDecodes(t *testing.T) {
	raw := rawRow(t, testutil.Dataset{Rows: 3, Masses: true}, 2)

	out, err := Default().Transform(raw)
	require.NoError(t, err)

	assert.Equal(t, []float32{float32(testutil.EnergyAt(2))}, out[FieldCollisionEnergy])
	assert.Equal(t, []uint8{0, 0, 1, 0, 0, 0}, out[FieldPrecursorCharge])

	intensities, ok := out[FieldIntensitiesRaw].([]float32)
	require.True(t, ok)
	assert.Len(t, intensities, testutil.FragmentWidth)
	assert.Equal(t, float32(testutil.IntensityAt(2, 5)), intensities[5])

	masses, ok := out[FieldMassesRaw].([]float32)
	require.True(t, ok)
	assert.Equal(t, float32(testutil.MassAt(2, 0)), masses[0])

	assert.Equal(t, testutil.PeptideAt(2), out[FieldPeptideSequence])
	assert.NotContains(t, out, FieldSequenceInteger)
}

func TestTransformOptionalFieldAbsent(t *testing.T) {
	raw := rawRow(t, testutil.Dataset{Rows: 1}, 0)

	out, err := Default().Transform(raw)
	require.NoError(t, err)
	assert.NotContains(t, out, FieldMassesRaw)
	assert.Len(t, out, 4)
}

func TestTransformDoesNotMutateRaw(t *testing.T) {
	raw := rawRow(t, testutil.Dataset{Rows: 1}, 0)
	before := make(RawRecord, len(raw))
	for k, v := range raw {
		before[k] = v
	}

	_, err := Default().Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, before, raw)
	assert.Contains(t, raw, FieldSequenceInteger)
}

func TestTransformDecodesAMX(t *testing.T) {
	raw := rawRow(t, testutil.Dataset{Rows: 1}, 0)
	raw[FieldSequenceInteger] = int64Array(t, 1, 11, 21, 0, 0)

	out, err := Default().Transform(raw)
	require.NoError(t, err)
	assert.Equal(t, "AMX", out[FieldPeptideSequence])
}

func TestTransformUnknownCode(t *testing.T) {
	raw := rawRow(t, testutil.Dataset{Rows: 1}, 0)
	raw[FieldSequenceInteger] = int64Array(t, 1, 22, 0)

	_, err := Default().Transform(raw)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnknownSequenceCode))
}

func TestTransformMissingRequired(t *testing.T) {
	raw := rawRow(t, testutil.Dataset{Rows: 1}, 0)
	delete(raw, FieldIntensitiesRaw)

	_, err := Default().Transform(raw)
	assert.True(t, errors.IsType(err, errors.ErrorTypeMissingColumn))
}

func TestTransformSequenceMustBeInteger(t *testing.T) {
	raw := rawRow(t, testutil.Dataset{Rows: 1}, 0)
	raw[FieldSequenceInteger] = raw[FieldIntensitiesRaw]

	_, err := Default().Transform(raw)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestNewValidatesRules(t *testing.T) {
	tests := []struct {
		name  string
		rules []CastRule
	}{
		{
			name:  "duplicate field",
			rules: []CastRule{{Field: FieldSequenceInteger, Cast: Int64}, {Field: FieldSequenceInteger, Cast: Int64}},
		},
		{
			name:  "unknown cast",
			rules: []CastRule{{Field: FieldSequenceInteger, Cast: "int128"}},
		},
		{
			name:  "no sequence rule",
			rules: []CastRule{{Field: FieldIntensitiesRaw, Cast: Float32}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.rules, sequence.Prosit())
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
		})
	}
}

func TestRequiredAndLoaded(t *testing.T) {
	tr := Default()
	assert.Equal(t, []string{
		FieldCollisionEnergy, FieldPrecursorCharge, FieldIntensitiesRaw, FieldSequenceInteger,
	}, tr.Required())

	none := func(string) bool { return false }
	assert.Equal(t, tr.Required(), tr.Loaded(none))

	all := func(string) bool { return true }
	assert.Contains(t, tr.Loaded(all), FieldMassesRaw)
}

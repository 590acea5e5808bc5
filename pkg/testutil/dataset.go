package testutil

import (
	"path/filepath"
	"slices"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/prositlmdb/pkg/formats/columnar"
	"github.com/ajitpratap0/prositlmdb/pkg/sequence"
)

// Column names of a prediction dataset.
const (
	CollisionEnergy = "collision_energy_aligned_normed"
	PrecursorCharge = "precursor_charge_onehot"
	IntensitiesRaw  = "intensities_raw"
	MassesRaw       = "masses_raw"
	SequenceInteger = "sequence_integer"
)

// Column widths of a prediction dataset.
const (
	ChargeWidth   = 6
	FragmentWidth = 174
	SequenceWidth = 30
	energyWidth   = 1
)

var peptides = []string{"AMX", "PEPTIDEK", "ACDEFGHIKLMNPQRSTVWYX", "K", "LLMXR"}

// PeptideAt returns the peptide encoded in row i of every Dataset.
func PeptideAt(i int) string { return peptides[i%len(peptides)] }

// EnergyAt returns the collision energy of row i.
func EnergyAt(i int) float64 { return 0.25 + float64(i)/100 }

// ChargeAt returns the one-hot charge position of row i.
func ChargeAt(i int) int { return i % ChargeWidth }

// IntensityAt returns fragment j of row i.
func IntensityAt(i, j int) float64 { return float64(i*1000+j) / 1e6 }

// MassAt returns fragment mass j of row i.
func MassAt(i, j int) float64 { return 100 + float64(j) + float64(i)/10 }

// Dataset describes a deterministic prediction dataset. Row values are
// functions of the row index only, so any window can be checked.
type Dataset struct {
	Rows int
	// BatchRows splits the file into record batches or row groups; 0
	// writes a single one.
	BatchRows int
	Masses    bool
	// Omit drops columns, for missing-column cases.
	Omit []string
}

// Schema returns the dataset schema.
func (d Dataset) Schema() *arrow.Schema {
	all := []arrow.Field{
		{Name: CollisionEnergy, Type: arrow.FixedSizeListOf(energyWidth, arrow.PrimitiveTypes.Float64)},
		{Name: PrecursorCharge, Type: arrow.FixedSizeListOf(ChargeWidth, arrow.PrimitiveTypes.Float32)},
		{Name: IntensitiesRaw, Type: arrow.FixedSizeListOf(FragmentWidth, arrow.PrimitiveTypes.Float64)},
		{Name: SequenceInteger, Type: arrow.FixedSizeListOf(SequenceWidth, arrow.PrimitiveTypes.Int32)},
	}
	if d.Masses {
		all = append(all, arrow.Field{Name: MassesRaw, Type: arrow.FixedSizeListOf(FragmentWidth, arrow.PrimitiveTypes.Float64)})
	}

	fields := make([]arrow.Field, 0, len(all))
	for _, f := range all {
		if !slices.Contains(d.Omit, f.Name) {
			fields = append(fields, f)
		}
	}
	return arrow.NewSchema(fields, nil)
}

// Record builds rows [start, end). The caller releases it.
func (d Dataset) Record(t testing.TB, mem memory.Allocator, start, end int) arrow.Record {
	t.Helper()

	schema := d.Schema()
	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for idx, f := range schema.Fields() {
		lb := b.Field(idx).(*array.FixedSizeListBuilder)
		for i := start; i < end; i++ {
			lb.Append(true)
			switch f.Name {
			case CollisionEnergy:
				lb.ValueBuilder().(*array.Float64Builder).Append(EnergyAt(i))
			case PrecursorCharge:
				vb := lb.ValueBuilder().(*array.Float32Builder)
				for j := 0; j < ChargeWidth; j++ {
					if j == ChargeAt(i) {
						vb.Append(1)
					} else {
						vb.Append(0)
					}
				}
			case IntensitiesRaw:
				vb := lb.ValueBuilder().(*array.Float64Builder)
				for j := 0; j < FragmentWidth; j++ {
					vb.Append(IntensityAt(i, j))
				}
			case MassesRaw:
				vb := lb.ValueBuilder().(*array.Float64Builder)
				for j := 0; j < FragmentWidth; j++ {
					vb.Append(MassAt(i, j))
				}
			case SequenceInteger:
				codes, err := sequence.Prosit().Encode(PeptideAt(i), SequenceWidth)
				require.NoError(t, err)
				vb := lb.ValueBuilder().(*array.Int32Builder)
				for _, c := range codes {
					vb.Append(int32(c))
				}
			}
		}
	}
	return b.NewRecord()
}

// Write writes the dataset to path in the format its extension names.
func (d Dataset) Write(t testing.TB, path string) {
	t.Helper()

	w, err := columnar.Create(path, d.Schema())
	require.NoError(t, err)

	step := d.BatchRows
	if step <= 0 {
		step = max(d.Rows, 1)
	}
	mem := memory.NewGoAllocator()
	for start := 0; start < d.Rows; start += step {
		rec := d.Record(t, mem, start, min(start+step, d.Rows))
		err := w.Write(rec)
		rec.Release()
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
}

// WriteTemp writes the dataset into a fresh temp directory under name and
// returns its path.
func (d Dataset) WriteTemp(t testing.TB, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	d.Write(t, path)
	return path
}

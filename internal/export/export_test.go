package export

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/formats/columnar"
	"github.com/ajitpratap0/prositlmdb/pkg/testutil"
)

const predWidth = 4

func predictions(n int) *Results {
	res := &Results{}
	// reverse order; rows are matched by index
	for i := n - 1; i >= 0; i-- {
		pred := make([]float32, predWidth)
		for j := range pred {
			pred[j] = float32(i) + float32(j)/10
		}
		res.Predictions = append(res.Predictions, Prediction{
			Index:           i,
			IntensitiesPred: pred,
			PeptideSequence: testutil.PeptideAt(i),
		})
	}
	return res
}

func writeResults(t *testing.T, dir, name string, res *Results) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, SaveResults(path, res))
	return path
}

func TestLoadResultsCompressed(t *testing.T) {
	dir := t.TempDir()
	want := predictions(3)
	for _, name := range []string{"r.json", "r.json.gz", "r.json.zst", "r.json.lz4", "r.json.s2", "r.json.snappy", "r.json.br"} {
		t.Run(name, func(t *testing.T) {
			got, err := LoadResults(writeResults(t, dir, name, want))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestLoadResultsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"predictions": [`), 0o600))

	_, err := LoadResults(path)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestExport(t *testing.T) {
	for _, out := range []string{"out.arrow", "out.parquet"} {
		t.Run(out, func(t *testing.T) {
			dir := t.TempDir()
			ds := testutil.Dataset{Rows: 11, BatchRows: 4, Masses: true}
			source := ds.WriteTemp(t, "prediction_hcd_ho.arrow")
			results := writeResults(t, dir, "results.json.zst", predictions(ds.Rows))
			outPath := filepath.Join(dir, out)

			summary, err := New(5, testutil.TestLogger(t)).Export(testutil.TestContext(t), source, results, outPath)
			require.NoError(t, err)
			assert.Equal(t, 11, summary.Rows)
			assert.Equal(t, predWidth, summary.Width)
			assert.Equal(t, 3, summary.Batches)

			got, err := columnar.Open(outPath)
			require.NoError(t, err)
			defer got.Close()

			var want []string
			for _, f := range ds.Schema().Fields() {
				want = append(want, f.Name)
			}
			assert.Equal(t, append(want, PredictionField), got.Columns())
			n, err := got.Len(PredictionField)
			require.NoError(t, err)
			assert.Equal(t, 11, n)

			ctx := testutil.TestContext(t)
			preds, err := got.Slice(ctx, PredictionField, 0, n)
			require.NoError(t, err)
			defer preds.Release()
			energy, err := got.Slice(ctx, testutil.CollisionEnergy, 0, n)
			require.NoError(t, err)
			defer energy.Release()

			for i := 0; i < n; i++ {
				row := columnar.Row(preds, i)
				values, err := columnar.Convert[float32](row)
				row.Release()
				require.NoError(t, err)
				assert.Equal(t, []float32{float32(i), float32(i) + 0.1, float32(i) + 0.2, float32(i) + 0.3}, values)

				row = columnar.Row(energy, i)
				ce, err := columnar.Convert[float64](row)
				row.Release()
				require.NoError(t, err)
				assert.Equal(t, []float64{testutil.EnergyAt(i)}, ce)
			}
		})
	}
}

func TestExportReplacesOutput(t *testing.T) {
	dir := t.TempDir()
	source := testutil.Dataset{Rows: 3}.WriteTemp(t, "src.arrow")
	results := writeResults(t, dir, "results.json", predictions(3))
	outPath := filepath.Join(dir, "out.arrow")
	require.NoError(t, os.WriteFile(outPath, []byte("stale"), 0o600))

	_, err := New(2, nil).Export(testutil.TestContext(t), source, results, outPath)
	require.NoError(t, err)

	got, err := columnar.Open(outPath)
	require.NoError(t, err)
	defer got.Close()
	n, err := got.Len(PredictionField)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestExportMissingInputs(t *testing.T) {
	dir := t.TempDir()
	source := testutil.Dataset{Rows: 3}.WriteTemp(t, "src.arrow")
	results := writeResults(t, dir, "results.json", predictions(3))
	ctx := testutil.TestContext(t)

	_, err := New(2, nil).Export(ctx, source, filepath.Join(dir, "absent.json"), filepath.Join(dir, "out.arrow"))
	assert.True(t, errors.IsType(err, errors.ErrorTypePathUnavailable))

	_, err = New(2, nil).Export(ctx, filepath.Join(dir, "absent.arrow"), results, filepath.Join(dir, "out.arrow"))
	assert.True(t, errors.IsType(err, errors.ErrorTypePathUnavailable))
}

func TestExportRejectsInconsistentResults(t *testing.T) {
	cases := map[string]func(r *Results){
		"duplicate index":    func(r *Results) { r.Predictions[0].Index = r.Predictions[1].Index },
		"index out of range": func(r *Results) { r.Predictions[0].Index = 99 },
		"missing row":        func(r *Results) { r.Predictions = r.Predictions[1:] },
		"peptide mismatch":   func(r *Results) { r.Predictions[0].PeptideSequence = "KKK" },
		"ragged width":       func(r *Results) { r.Predictions[2].IntensitiesPred = []float32{1} },
		"empty intensities":  func(r *Results) { r.Predictions[1].IntensitiesPred = nil },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			source := testutil.Dataset{Rows: 5}.WriteTemp(t, "src.arrow")
			res := predictions(5)
			mutate(res)
			results := writeResults(t, dir, "results.json", res)
			outPath := filepath.Join(dir, "out.arrow")
			require.NoError(t, os.WriteFile(outPath, []byte("previous"), 0o600))

			_, err := New(2, nil).Export(testutil.TestContext(t), source, results, outPath)
			require.Error(t, err)

			data, readErr := os.ReadFile(outPath)
			require.NoError(t, readErr)
			assert.Equal(t, "previous", string(data), "rejected results leave the output untouched")
		})
	}
}

func TestExportWithoutPeptides(t *testing.T) {
	dir := t.TempDir()
	source := testutil.Dataset{Rows: 4}.WriteTemp(t, "src.parquet")
	res := predictions(4)
	for i := range res.Predictions {
		res.Predictions[i].PeptideSequence = ""
	}
	results := writeResults(t, dir, "results.json.gz", res)

	summary, err := New(10, nil).Export(testutil.TestContext(t), source, results, filepath.Join(dir, "out.parquet"))
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Batches)
}

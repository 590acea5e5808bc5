package export

import (
	"bufio"
	"os"

	"github.com/goccy/go-json"

	"github.com/ajitpratap0/prositlmdb/pkg/compression"
	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Prediction is the model output for one source row.
type Prediction struct {
	Index           int       `json:"index"`
	IntensitiesPred []float32 `json:"intensities_pred"`
	// PeptideSequence, when set, must match the source row's sequence.
	PeptideSequence string `json:"peptide_sequence,omitempty"`
}

// Results is a result file.
type Results struct {
	Predictions []Prediction `json:"predictions"`
}

// LoadResults reads a JSON result file, decompressing it when its
// extension names a compression algorithm (results.json.zst, ...).
func LoadResults(path string) (*Results, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypePathUnavailable, "result file is not readable").
			WithDetail("path", path)
	}
	defer f.Close()

	r, err := compression.NewReader(bufio.NewReader(f), compression.FromPath(path))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to open result stream").
			WithDetail("path", path)
	}
	defer r.Close()

	var res Results
	if err := json.NewDecoder(r).Decode(&res); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to decode result file").
			WithDetail("path", path)
	}
	return &res, nil
}

// SaveResults writes res to path, compressed according to its extension.
func SaveResults(path string, res *Results) (err error) {
	f, err := os.Create(path) //nolint:gosec // G304: path comes from the operator
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to create result file").
			WithDetail("path", path)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, errors.ErrorTypePathUnavailable, "failed to close result file")
		}
	}()

	buf := bufio.NewWriter(f)
	w, err := compression.NewWriter(buf, compression.FromPath(path), compression.Default)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "failed to open result stream")
	}
	if err := json.NewEncoder(w).Encode(res); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to encode results")
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "failed to flush result stream")
	}
	return buf.Flush()
}

// index orders predictions by source row and checks that every row in
// [0, n) has exactly one, all of the same width.
func (r *Results) index(n int) ([]*Prediction, int, error) {
	if len(r.Predictions) != n {
		return nil, 0, errors.Newf(errors.ErrorTypeValidation, "result has %d predictions for %d source rows", len(r.Predictions), n)
	}

	byRow := make([]*Prediction, n)
	width := -1
	for i := range r.Predictions {
		p := &r.Predictions[i]
		if p.Index < 0 || p.Index >= n {
			return nil, 0, errors.Newf(errors.ErrorTypeValidation, "prediction index %d outside [0, %d)", p.Index, n)
		}
		if byRow[p.Index] != nil {
			return nil, 0, errors.Newf(errors.ErrorTypeValidation, "duplicate prediction for index %d", p.Index)
		}
		if len(p.IntensitiesPred) == 0 {
			return nil, 0, errors.Newf(errors.ErrorTypeData, "prediction %d has no intensities", p.Index)
		}
		if width < 0 {
			width = len(p.IntensitiesPred)
		}
		if len(p.IntensitiesPred) != width {
			return nil, 0, errors.Newf(errors.ErrorTypeData, "prediction %d has %d intensities, expected %d", p.Index, len(p.IntensitiesPred), width)
		}
		byRow[p.Index] = p
	}
	return byRow, max(width, 0), nil
}

// Package transform turns one raw dataset row into a stored record: each
// field is cast to its declared element type and the integer-coded
// peptide is decoded into a string.
package transform

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
	"github.com/ajitpratap0/prositlmdb/pkg/formats/columnar"
	"github.com/ajitpratap0/prositlmdb/pkg/sequence"
)

// Field names of a prediction dataset.
const (
	FieldCollisionEnergy = "collision_energy_aligned_normed"
	FieldPrecursorCharge = "precursor_charge_onehot"
	FieldIntensitiesRaw  = "intensities_raw"
	FieldMassesRaw       = "masses_raw"
	FieldSequenceInteger = "sequence_integer"
	FieldPeptideSequence = "peptide_sequence"
)

// Cast names the element type a field is converted to.
type Cast string

const (
	Float32 Cast = "float32"
	Float64 Cast = "float64"
	Uint8   Cast = "uint8"
	// Int64 is the native integer type.
	Int64 Cast = "int64"
)

// CastRule declares how one field is loaded.
type CastRule struct {
	Field string
	Cast  Cast
	// Optional fields are loaded only when the source has them.
	Optional bool
}

// DefaultRules is the cast table of prediction datasets.
var DefaultRules = []CastRule{
	{Field: FieldCollisionEnergy, Cast: Float32},
	{Field: FieldPrecursorCharge, Cast: Uint8},
	{Field: FieldIntensitiesRaw, Cast: Float32},
	{Field: FieldMassesRaw, Cast: Float32, Optional: true},
	{Field: FieldSequenceInteger, Cast: Int64},
}

// LengthField is the field whose length defines the dataset size.
const LengthField = FieldCollisionEnergy

// RawRecord is one row: field name to the row's values. It is read, never
// modified.
type RawRecord map[string]arrow.Array

// Record is a transformed row ready for the store.
type Record map[string]any

// Transformer applies a cast table and the sequence decode.
type Transformer struct {
	rules    []CastRule
	alphabet *sequence.Alphabet
	// sequence field, consumed by the decode and dropped from output
	sequenceField string
	peptideField  string
}

// New returns a Transformer for rules. rules must name the sequence field.
func New(rules []CastRule, alphabet *sequence.Alphabet) (*Transformer, error) {
	t := &Transformer{
		rules:         rules,
		alphabet:      alphabet,
		sequenceField: FieldSequenceInteger,
		peptideField:  FieldPeptideSequence,
	}

	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		if seen[r.Field] {
			return nil, errors.Newf(errors.ErrorTypeConfig, "field %q has two cast rules", r.Field)
		}
		seen[r.Field] = true
		switch r.Cast {
		case Float32, Float64, Uint8, Int64:
		default:
			return nil, errors.Newf(errors.ErrorTypeConfig, "field %q has unknown cast %q", r.Field, r.Cast)
		}
	}
	if !seen[t.sequenceField] {
		return nil, errors.Newf(errors.ErrorTypeConfig, "cast table has no rule for %q", t.sequenceField)
	}
	return t, nil
}

// Default returns a Transformer with DefaultRules and the Prosit alphabet.
func Default() *Transformer {
	t, err := New(DefaultRules, sequence.Prosit())
	if err != nil {
		panic(err)
	}
	return t
}

// Rules returns the cast table.
func (t *Transformer) Rules() []CastRule { return t.rules }

// Required returns the fields that must be present in a source.
func (t *Transformer) Required() []string {
	var out []string
	for _, r := range t.rules {
		if !r.Optional {
			out = append(out, r.Field)
		}
	}
	return out
}

// Loaded returns the fields to read from a source with the given columns:
// every required field plus the optional ones present.
func (t *Transformer) Loaded(has func(field string) bool) []string {
	var out []string
	for _, r := range t.rules {
		if !r.Optional || has(r.Field) {
			out = append(out, r.Field)
		}
	}
	return out
}

// Transform casts every field of raw that has a rule and decodes the
// sequence. Optional fields absent from raw are skipped; a required field
// absent from raw is an error.
func (t *Transformer) Transform(raw RawRecord) (Record, error) {
	out := make(Record, len(raw))

	for _, r := range t.rules {
		values, ok := raw[r.Field]
		if !ok {
			if r.Optional {
				continue
			}
			return nil, errors.Newf(errors.ErrorTypeMissingColumn, "record has no field %q", r.Field)
		}

		cast, err := castValues(values, r.Cast)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "failed to cast field").
				WithDetail("field", r.Field).
				WithDetail("cast", string(r.Cast))
		}

		if r.Field == t.sequenceField {
			codes, ok := cast.([]int64)
			if !ok {
				return nil, errors.Newf(errors.ErrorTypeConfig, "sequence field must cast to %s", Int64)
			}
			peptide, err := t.alphabet.Decode(codes)
			if err != nil {
				return nil, err
			}
			out[t.peptideField] = peptide
			continue
		}
		out[r.Field] = cast
	}
	return out, nil
}

func castValues(values arrow.Array, cast Cast) (any, error) {
	switch cast {
	case Float32:
		return columnar.Convert[float32](values)
	case Float64:
		return columnar.Convert[float64](values)
	case Uint8:
		return columnar.Convert[uint8](values)
	default:
		if !columnar.IsInteger(values) {
			return nil, errors.Newf(errors.ErrorTypeData, "column type %s is not an integer type", values.DataType())
		}
		return columnar.Convert[int64](values)
	}
}

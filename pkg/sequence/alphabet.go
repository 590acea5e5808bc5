// Package sequence maps between integer-coded peptide sequences and their
// one-letter residue strings.
package sequence

import (
	"strings"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Padding is the code used to fill sequences shorter than the fixed width.
const Padding = 0

// Oxidized is the symbol standing in for oxidized methionine, M(ox).
const Oxidized = 'X'

// Alphabet is an immutable bijection between codes 1..Len() and residue symbols.
type Alphabet struct {
	symbols []byte       // symbols[code-1]
	codes   map[byte]int // symbol -> code
}

// NewAlphabet builds an alphabet where symbols[i] has code i+1.
func NewAlphabet(symbols string) (*Alphabet, error) {
	a := &Alphabet{
		symbols: []byte(symbols),
		codes:   make(map[byte]int, len(symbols)),
	}
	for i, s := range a.symbols {
		if _, dup := a.codes[s]; dup {
			return nil, errors.Newf(errors.ErrorTypeValidation, "symbol %q appears twice in alphabet", s)
		}
		a.codes[s] = i + 1
	}
	return a, nil
}

// prosit is the 20 standard residues plus X for M(ox), in code order.
var prosit = mustAlphabet("ACDEFGHIKLMNPQRSTVWY" + string(Oxidized))

func mustAlphabet(symbols string) *Alphabet {
	a, err := NewAlphabet(symbols)
	if err != nil {
		panic(err)
	}
	return a
}

// Prosit returns the alphabet of the Prosit training data.
func Prosit() *Alphabet { return prosit }

// Len is the number of symbols.
func (a *Alphabet) Len() int { return len(a.symbols) }

// Symbol returns the residue for code.
func (a *Alphabet) Symbol(code int) (byte, bool) {
	if code < 1 || code > len(a.symbols) {
		return 0, false
	}
	return a.symbols[code-1], true
}

// Code returns the code for a residue.
func (a *Alphabet) Code(symbol byte) (int, bool) {
	c, ok := a.codes[symbol]
	return c, ok
}

// Decode concatenates the symbols of codes in order, skipping padding.
// A code outside the alphabet is an ErrorTypeUnknownSequenceCode error;
// nothing is silently dropped.
func (a *Alphabet) Decode(codes []int64) (string, error) {
	var b strings.Builder
	b.Grow(len(codes))
	for pos, c := range codes {
		if c == Padding {
			continue
		}
		s, ok := a.Symbol(int(c))
		if !ok || int64(int(c)) != c {
			return "", errors.Newf(errors.ErrorTypeUnknownSequenceCode, "code %d is not in the alphabet", c).
				WithDetail("position", pos)
		}
		b.WriteByte(s)
	}
	return b.String(), nil
}

// Encode maps peptide to codes, right-padded with Padding to width.
// A width of 0 means no padding.
func (a *Alphabet) Encode(peptide string, width int) ([]int64, error) {
	if width > 0 && len(peptide) > width {
		return nil, errors.Newf(errors.ErrorTypeValidation, "peptide of length %d exceeds width %d", len(peptide), width)
	}
	n := len(peptide)
	if width > n {
		n = width
	}
	out := make([]int64, n)
	for i := 0; i < len(peptide); i++ {
		c, ok := a.Code(peptide[i])
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeUnknownSequenceCode, "symbol %q is not in the alphabet", peptide[i]).
				WithDetail("position", i)
		}
		out[i] = int64(c)
	}
	return out, nil
}

package peptide

// Package peptide maps amino-acid strings onto the fixed-width integer
// vectors consumed by the detectability classifier.

import (
	"errors"
	"strings"
)

// AlphabetVersion identifies the symbol->code table below. Any change to the
// table or to the padding scheme must bump it; the trained model depends on it.
const AlphabetVersion = 1

// DefaultMaxLength is the vector width the shipped model was trained on.
const DefaultMaxLength = 81

// Padding is the code used to fill a vector past the end of the sequence.
const Padding int32 = 0

// Reject is never accepted, even though it is a common placeholder residue.
const Reject = 'X'

var (
	// ErrInvalidSymbol is returned for sequences containing a character outside
	// the alphabet (or the reject symbol).
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrTooLong is returned for valid sequences longer than the vector width.
	ErrTooLong = errors.New("sequence too long")
)

// alphabet is ordered by code: alphabet[i] has code i+1.
const alphabet = "ARNDCQEGHILKMFPOSUTWYV"

var codes [256]int32

func init() {
	for i := 0; i < len(alphabet); i++ {
		codes[alphabet[i]] = int32(i + 1)
	}
}

// Vector is an encoded sequence: codes first, then Padding up to its length.
type Vector []int32

// Code returns the code of r, or 0 when r is not part of the alphabet.
func Code(r rune) int32 {
	if r == Reject || r < 0 || r > 255 {
		return 0
	}
	return codes[r]
}

// Symbol returns the residue for code c, or 0 for padding and unknown codes.
func Symbol(c int32) byte {
	if c < 1 || int(c) > len(alphabet) {
		return 0
	}
	return alphabet[c-1]
}

// Alphabet returns the accepted residues ordered by code.
func Alphabet() string { return alphabet }

// Valid reports whether every character of seq belongs to the alphabet.
func Valid(seq string) bool {
	for _, r := range seq {
		if Code(r) == 0 {
			return false
		}
	}
	return true
}

// Encode converts seq into a Vector of exactly maxLen codes. The symbol check
// runs before the length check, so a sequence failing both reports
// ErrInvalidSymbol.
func Encode(seq string, maxLen int) (Vector, error) {
	if !Valid(seq) {
		return nil, ErrInvalidSymbol
	}
	if len(seq) > maxLen {
		return nil, ErrTooLong
	}
	v := make(Vector, maxLen)
	for i := 0; i < len(seq); i++ {
		v[i] = codes[seq[i]]
	}
	return v, nil
}

// Decode returns the residues of the non-padding prefix of v.
func Decode(v Vector) string {
	var b strings.Builder
	b.Grow(len(v))
	for _, c := range v {
		if c == Padding {
			break
		}
		b.WriteByte(Symbol(c))
	}
	return b.String()
}

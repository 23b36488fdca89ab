package peptide

import (
	"errors"
	"strings"
	"testing"
)

func TestEncodeRoundTrip(t *testing.T) {
	seqs := []string{"", "A", "ACDEFGHIK", Alphabet(), strings.Repeat("V", DefaultMaxLength)}
	for _, s := range seqs {
		v, err := Encode(s, DefaultMaxLength)
		if err != nil {
			t.Fatalf("Encode(%q): unexpected error: %v", s, err)
		}
		if len(v) != DefaultMaxLength {
			t.Fatalf("expected vector length %d, got %d", DefaultMaxLength, len(v))
		}
		if got := Decode(v); got != s {
			t.Fatalf("expected %q after decode, got %q", s, got)
		}
		for i := len(s); i < len(v); i++ {
			if v[i] != Padding {
				t.Fatalf("expected padding at %d, got %d", i, v[i])
			}
		}
	}
}

func TestEncodeCodes(t *testing.T) {
	v, err := Encode("ARV", 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := Vector{1, 2, 22, 0, 0}
	for i := range want {
		if v[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, v)
		}
	}
}

func TestEncodeInvalidSymbol(t *testing.T) {
	cases := []string{"ACDX", "X", "acd", "AC D", "AC*", "ACDÉ", strings.Repeat("A", 100) + "X"}
	for _, s := range cases {
		if _, err := Encode(s, DefaultMaxLength); !errors.Is(err, ErrInvalidSymbol) {
			t.Fatalf("Encode(%q): expected ErrInvalidSymbol, got %v", s, err)
		}
	}
}

func TestEncodeTooLong(t *testing.T) {
	s := strings.Repeat("K", DefaultMaxLength+1)
	if _, err := Encode(s, DefaultMaxLength); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong, got %v", err)
	}
	if _, err := Encode("KKK", 2); !errors.Is(err, ErrTooLong) {
		t.Fatalf("expected ErrTooLong for short max, got %v", err)
	}
}

func TestCodeAndSymbol(t *testing.T) {
	if Code(Reject) != 0 {
		t.Fatalf("reject symbol must not have a code")
	}
	for i := 0; i < len(Alphabet()); i++ {
		c := Code(rune(Alphabet()[i]))
		if c != int32(i+1) {
			t.Fatalf("expected code %d for %c, got %d", i+1, Alphabet()[i], c)
		}
		if Symbol(c) != Alphabet()[i] {
			t.Fatalf("expected symbol %c for %d, got %c", Alphabet()[i], c, Symbol(c))
		}
	}
	if Symbol(0) != 0 || Symbol(23) != 0 {
		t.Fatalf("expected zero symbol for padding and out-of-range codes")
	}
}

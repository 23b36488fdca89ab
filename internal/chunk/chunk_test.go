package chunk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"dmsp/internal/peptide"
)

func writeInput(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "peptides.tsv")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write input: %v", err)
	}
	return p
}

func TestParseLine(t *testing.T) {
	rec, err := ParseLine("P1\tACDEFGHIK\r\n")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Accession != "P1" || rec.Sequence != "ACDEFGHIK" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	for _, bad := range []string{"P1 ACDEFGHIK", "", "a\tb\tc"} {
		if _, err := ParseLine(bad); !errors.Is(err, ErrMalformedLine) {
			t.Fatalf("ParseLine(%q): expected ErrMalformedLine, got %v", bad, err)
		}
	}
}

func TestScanCountsAndOffsets(t *testing.T) {
	cases := []struct {
		content string
		size    int
		lines   int
		chunks  int
	}{
		{"", 2, 0, 0},
		{"a\tA\n", 2, 1, 1},
		{"a\tA", 2, 1, 1},
		{"a\tA\nb\tC\n", 2, 2, 1},
		{"a\tA\nb\tC\nc\tD", 2, 3, 2},
		{"a\tA\nb\tC\nc\tD\nd\tE\n", 2, 4, 2},
	}
	for _, c := range cases {
		idx, err := ScanReader(strings.NewReader(c.content), c.size)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if idx.Lines != c.lines || idx.Chunks() != c.chunks || len(idx.Offsets) != c.chunks {
			t.Fatalf("%q: expected %d lines / %d chunks, got %d / %d (offsets %v)", c.content, c.lines, c.chunks, idx.Lines, idx.Chunks(), idx.Offsets)
		}
	}
	if _, err := ScanReader(strings.NewReader(""), 0); err == nil {
		t.Fatalf("expected error for zero chunk size")
	}
}

func TestWindowsCoverFileOnce(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 23; i++ {
		fmt.Fprintf(&b, "acc%d\tPEPTIDE\n", i)
	}
	idx, err := ScanReader(strings.NewReader(b.String()), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ws := idx.Windows()
	if len(ws) != 5 {
		t.Fatalf("expected 5 windows, got %d", len(ws))
	}
	next := 0
	for _, w := range ws {
		if w.Start != next {
			t.Fatalf("expected window to start at %d, got %d", next, w.Start)
		}
		next = w.End
	}
	if next != 23 || ws[4].Len() != 3 {
		t.Fatalf("expected last window 20-23, got %v", ws[4])
	}
}

func TestLoaderPartitionsChunk(t *testing.T) {
	long := strings.Repeat("A", peptide.DefaultMaxLength+1)
	content := strings.Join([]string{
		"P1\tACDEFGHIK",
		"P2\tACDEFGHIKX",
		"P3\t" + long,
		"P4 missing-tab",
		"P5\tMKWV",
		"P6\t" + long + "X",
	}, "\n") + "\n"
	path := writeInput(t, content)
	idx, err := Scan(path, 4)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	l := &Loader{Index: idx, MaxLen: peptide.DefaultMaxLength}
	ws := idx.Windows()

	b, err := l.Load(ws[0])
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if b.Accepted() != 1 || b.TooLong != 1 || b.Invalid != 2 || b.Malformed != 1 {
		t.Fatalf("unexpected counts: accepted=%d long=%d invalid=%d malformed=%d", b.Accepted(), b.TooLong, b.Invalid, b.Malformed)
	}
	if b.Items[0].Accession != "P1" || b.Items[0].Sequence != "ACDEFGHIK" || peptide.Decode(b.Items[0].Vector) != "ACDEFGHIK" {
		t.Fatalf("unexpected item: %+v", b.Items[0])
	}

	b, err = l.Load(ws[1])
	if err != nil {
		t.Fatalf("load second window: %v", err)
	}
	if b.Accepted() != 1 || b.Items[0].Accession != "P5" || b.Invalid != 1 || b.TooLong != 0 {
		t.Fatalf("unexpected second window: %+v", b)
	}

	for _, w := range ws {
		b, err := l.Load(w)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if b.Accepted()+b.TooLong+b.Invalid != w.Len() {
			t.Fatalf("window %v: counts do not add up to %d", w, w.Len())
		}
		if len(b.Vectors()) != b.Accepted() {
			t.Fatalf("expected one vector per item")
		}
	}
}

func TestReadShortInput(t *testing.T) {
	_, err := Read(strings.NewReader("a\tA\n"), Window{Start: 0, End: 2}, 81)
	if err == nil {
		t.Fatalf("expected error when input ends inside a window")
	}
}

package chunk

// Package chunk reads bounded windows of an accession<TAB>peptide file and
// encodes each line, keeping the accepted records and the reject counts of
// one window together.

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"dmsp/internal/peptide"
)

// DefaultSize is the number of input lines processed per chunk.
const DefaultSize = 100000

// ErrMalformedLine is returned by ParseLine for lines that are not exactly
// two tab-separated fields.
var ErrMalformedLine = errors.New("malformed line")

// Record is one parsed input line.
type Record struct {
	Accession string
	Sequence  string
}

// ParseLine splits an input line into accession and sequence. Trailing
// newline characters are ignored.
func ParseLine(line string) (Record, error) {
	line = strings.TrimRight(line, "\r\n")
	acc, seq, ok := strings.Cut(line, "\t")
	if !ok || strings.Contains(seq, "\t") {
		return Record{}, ErrMalformedLine
	}
	return Record{Accession: acc, Sequence: seq}, nil
}

// Item is an accepted record together with its encoding.
type Item struct {
	Accession string
	Sequence  string
	Vector    peptide.Vector
}

// Batch is the outcome of loading one window.
type Batch struct {
	Window Window
	Items  []Item

	// TooLong counts valid sequences longer than the vector width.
	TooLong int
	// Invalid counts sequences with symbols outside the alphabet, including
	// malformed lines.
	Invalid int
	// Malformed is the part of Invalid caused by lines without exactly one tab.
	Malformed int
}

// Vectors returns the encoded vectors of the accepted items, in input order.
func (b *Batch) Vectors() []peptide.Vector {
	out := make([]peptide.Vector, len(b.Items))
	for i := range b.Items {
		out[i] = b.Items[i].Vector
	}
	return out
}

// Lines is the number of input lines the batch covers.
func (b *Batch) Lines() int { return b.Window.Len() }

// Accepted is the number of records that passed encoding.
func (b *Batch) Accepted() int { return len(b.Items) }

// add classifies one line into the batch.
func (b *Batch) add(line string, maxLen int) {
	rec, err := ParseLine(line)
	if err != nil {
		b.Invalid++
		b.Malformed++
		return
	}
	v, err := peptide.Encode(rec.Sequence, maxLen)
	switch {
	case errors.Is(err, peptide.ErrInvalidSymbol):
		b.Invalid++
	case errors.Is(err, peptide.ErrTooLong):
		b.TooLong++
	default:
		b.Items = append(b.Items, Item{Accession: rec.Accession, Sequence: rec.Sequence, Vector: v})
	}
}

// Read loads w.Len() lines from r, which must be positioned at the first
// line of the window.
func Read(r io.Reader, w Window, maxLen int) (*Batch, error) {
	br := bufio.NewReaderSize(r, 1<<16)
	b := &Batch{Window: w}
	for n := 0; n < w.Len(); n++ {
		line, err := br.ReadString('\n')
		if err == io.EOF {
			if line == "" {
				return nil, fmt.Errorf("window %d-%d ended after %d lines: %w", w.Start, w.End, n, io.ErrUnexpectedEOF)
			}
		} else if err != nil {
			return nil, err
		}
		b.add(line, maxLen)
	}
	return b, nil
}

// Loader reads windows of an indexed file. Every Load re-opens the file and
// seeks to the window offset, so only one window is held in memory.
type Loader struct {
	Index  *Index
	MaxLen int
}

// Load reads and encodes the lines of window w.
func (l *Loader) Load(w Window) (*Batch, error) {
	f, err := os.Open(l.Index.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if _, err := f.Seek(w.Offset, io.SeekStart); err != nil {
		return nil, err
	}
	return Read(f, w, l.MaxLen)
}

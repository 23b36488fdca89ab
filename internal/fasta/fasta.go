package fasta

// Package fasta exports the detectable peptides of a predictions file as
// protein FASTA, one record per accession.

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"dmsp/internal/predict"

	"github.com/biogo/biogo/alphabet"
	biofasta "github.com/biogo/biogo/io/seqio/fasta"
	"github.com/biogo/biogo/seq/linear"
)

// Width is the sequence line width of written records.
const Width = 60

// Record is one FASTA entry.
type Record struct {
	Header   string
	Sequence string
}

// Summary counts what Export wrote.
type Summary struct {
	Rows     int // prediction rows read
	Peptides int // rows labelled detectable
	Records  int // FASTA records written
}

// Group collects detectable peptides from a predictions stream. Peptides of
// the same accession are concatenated in the order they appear, and
// accessions keep the order of their first detectable peptide.
func Group(r io.Reader) ([]Record, Summary, error) {
	var sum Summary
	rd, err := predict.NewReader(r)
	if err != nil {
		return nil, sum, err
	}
	var recs []Record
	var seqs []*strings.Builder
	pos := map[string]int{}
	for {
		row, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, sum, err
		}
		sum.Rows++
		if row.Label != predict.Detectable {
			continue
		}
		sum.Peptides++
		i, ok := pos[row.Accession]
		if !ok {
			i = len(recs)
			pos[row.Accession] = i
			recs = append(recs, Record{Header: row.Accession})
			seqs = append(seqs, &strings.Builder{})
		}
		seqs[i].WriteString(row.Sequence)
	}
	for i := range recs {
		recs[i].Sequence = seqs[i].String()
	}
	sum.Records = len(recs)
	return recs, sum, nil
}

// Write writes recs as FASTA wrapped at Width columns.
func Write(w io.Writer, recs []Record) error {
	fw := biofasta.NewWriter(w, Width)
	for _, rec := range recs {
		s := linear.NewSeq(rec.Header, alphabet.BytesToLetters([]byte(rec.Sequence)), alphabet.Protein)
		if _, err := fw.Write(s); err != nil {
			return fmt.Errorf("write record %s: %w", rec.Header, err)
		}
	}
	return nil
}

// Export reads a predictions file from r and writes the detectable peptides
// to w.
func Export(r io.Reader, w io.Writer) (Summary, error) {
	recs, sum, err := Group(r)
	if err != nil {
		return sum, err
	}
	return sum, Write(w, recs)
}

// read parses FASTA records from r.
func read(r io.Reader) ([]Record, error) {
	fr := biofasta.NewReader(r, linear.NewSeq("", nil, alphabet.Protein))
	var recs []Record
	for {
		s, err := fr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		ls := s.(*linear.Seq)
		header := ls.Name()
		if d := ls.Description(); d != "" {
			header += " " + d
		}
		recs = append(recs, Record{Header: header, Sequence: alphabet.Letters(ls.Seq).String()})
	}
	return recs, nil
}

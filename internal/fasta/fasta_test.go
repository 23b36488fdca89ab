package fasta

import (
	"bytes"
	"strings"
	"testing"

	"dmsp/internal/predict"
)

const predictions = predict.Header + "\n" +
	"P1\tACDEFGHIK\t0.1\t0\n" +
	"P2\tMK\t0.9\t1\n" +
	"P1\tWY\t0.6\t1\n" +
	"P2\tPEPTIDE\t0.5\t1\n" +
	"P1\tLL\t0.7\t1\n"

func TestGroupKeepsFirstSeenOrder(t *testing.T) {
	recs, sum, err := Group(strings.NewReader(predictions))
	if err != nil {
		t.Fatalf("group: %v", err)
	}
	if sum.Rows != 5 || sum.Peptides != 4 || sum.Records != 2 {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if recs[0].Header != "P2" || recs[0].Sequence != "MKPEPTIDE" {
		t.Fatalf("unexpected first record: %+v", recs[0])
	}
	if recs[1].Header != "P1" || recs[1].Sequence != "WYLL" {
		t.Fatalf("unexpected second record: %+v", recs[1])
	}
}

func TestExportWrapsAndReadsBack(t *testing.T) {
	long := strings.Repeat("ACDEFGHIKL", 7)
	in := predict.Header + "\nQ1\t" + long + "\t0.9\t1\n"
	var buf bytes.Buffer
	if _, err := Export(strings.NewReader(in), &buf); err != nil {
		t.Fatalf("export: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 3 || lines[0] != ">Q1" || len(lines[1]) != Width || lines[2] != long[Width:] {
		t.Fatalf("unexpected FASTA:\n%s", buf.String())
	}
	recs, err := read(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(recs) != 1 || recs[0].Header != "Q1" || recs[0].Sequence != long {
		t.Fatalf("unexpected records: %+v", recs)
	}
}

func TestExportNothingDetectable(t *testing.T) {
	var buf bytes.Buffer
	sum, err := Export(strings.NewReader(predict.Header+"\nP1\tA\t0.1\t0\n"), &buf)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if sum.Records != 0 || buf.Len() != 0 {
		t.Fatalf("expected empty output, got %q", buf.String())
	}
}

func TestExportRejectsNonPredictions(t *testing.T) {
	if _, err := Export(strings.NewReader(">seq1\nATGC\n"), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected header error")
	}
}

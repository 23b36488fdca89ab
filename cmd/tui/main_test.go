package main

import (
	"strings"
	"testing"

	"dmsp/internal/predict"
)

func sampleRows() []predict.Row {
	return []predict.Row{
		{Accession: "P1", Sequence: "ACDEFGHIK", Prob: "0.1", Label: "0"},
		{Accession: "P2", Sequence: "MK", Prob: "0.9", Label: "1"},
		{Accession: "P3", Sequence: "WY", Prob: "0.6", Label: "1"},
	}
}

func TestCycleMode(t *testing.T) {
	m := newModel("p.tsv", sampleRows(), false, 81)
	if m.currentMode != modeAll || m.shown != 3 {
		t.Fatalf("expected initial mode all with 3 rows, got %v %d", m.currentMode, m.shown)
	}
	m = m.cycleMode()
	if m.currentMode != modeDetectable || m.shown != 2 {
		t.Fatalf("expected detectable with 2 rows, got %v %d", m.currentMode, m.shown)
	}
	m = m.cycleMode()
	if m.currentMode != modeUndetectable || m.shown != 1 {
		t.Fatalf("expected undetectable with 1 row, got %v %d", m.currentMode, m.shown)
	}
	m = m.cycleMode()
	if m.currentMode != modeAll {
		t.Fatalf("expected all, got %v", m.currentMode)
	}
}

func TestBuildRightLinesWrap(t *testing.T) {
	m := newModel("p.tsv", nil, false, 81)
	m.width = 90
	m.height = 40
	inner := m.width*2/3 - 8
	rec := predict.Row{Accession: "V1", Sequence: strings.Repeat("ACDEFGHIKL", 8), Prob: "0.3", Label: "0"}
	lines := m.buildRightLines(rec)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "1 5 4 7 14 8 9 10 12 11") {
		t.Fatalf("expected encoded vector in detail pane:\n%s", joined)
	}
	seqLines := 0
	for _, l := range lines {
		if strings.Contains(l, ":") {
			continue
		}
		if len(l) > inner {
			t.Fatalf("line not wrapped to pane width %d: %q", inner, l)
		}
		if l != "" && strings.Trim(l, "ACDEFGHIKL") == "" {
			seqLines++
		}
	}
	if seqLines < 2 {
		t.Fatalf("expected the peptide to wrap, got %d lines", seqLines)
	}
}

func TestLoadRowsLimit(t *testing.T) {
	in := predict.Header + "\nP1\tA\t0.1\t0\nP2\tR\t0.9\t1\nP3\tN\t0.6\t1\n"
	rows, truncated, err := loadRows(strings.NewReader(in), 2)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(rows) != 2 || !truncated {
		t.Fatalf("expected 2 rows and truncation, got %d %v", len(rows), truncated)
	}
	rows, truncated, _ = loadRows(strings.NewReader(in), 0)
	if len(rows) != 3 || truncated {
		t.Fatalf("expected all rows, got %d %v", len(rows), truncated)
	}
}

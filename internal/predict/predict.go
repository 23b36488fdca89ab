package predict

// Package predict turns model probabilities into output rows and reads and
// writes the tab-separated predictions file.
//
// The label polarity follows the files produced by earlier versions of the
// tool: the model's positive-class probability p above 0.5 gives label "0",
// anything else (p == 0.5 included) gives label "1", and the Prob column holds
// 1-p.

import (
	"strconv"
	"strings"

	"dmsp/internal/chunk"
)

// Header is the first line of every predictions file.
const Header = "Header\tPeptide\tProb\tDetectability"

// Threshold is compared with a strict greater-than.
const Threshold = 0.5

// Labels.
const (
	Detectable   = "1"
	Undetectable = "0"
)

// Row is one line of the predictions file.
type Row struct {
	Accession string `json:"accession"`
	Sequence  string `json:"sequence"`
	Prob      string `json:"prob"`
	Label     string `json:"label"`
}

// Decide builds the output row for an accepted item and the model's
// probability p.
func Decide(it chunk.Item, p float64) Row {
	label := Detectable
	if p > Threshold {
		label = Undetectable
	}
	return Row{Accession: it.Accession, Sequence: it.Sequence, Prob: FormatProb(1 - p), Label: label}
}

// FormatProb renders v with at most 15 significant digits, so 1-0.9 prints as
// 0.1 rather than 0.09999999999999998. Whole numbers keep a ".0" suffix.
func FormatProb(v float64) string {
	s := strconv.FormatFloat(v, 'g', 15, 64)
	if !strings.ContainsAny(s, ".eIN") {
		s += ".0"
	}
	return s
}

// Assemble pairs each item with its probability. probs must be co-indexed
// with items.
func Assemble(items []chunk.Item, probs []float64) []Row {
	rows := make([]Row, len(items))
	for i := range items {
		rows[i] = Decide(items[i], probs[i])
	}
	return rows
}

// String renders the row without the trailing newline.
func (r Row) String() string {
	return strings.Join([]string{r.Accession, r.Sequence, r.Prob, r.Label}, "\t")
}

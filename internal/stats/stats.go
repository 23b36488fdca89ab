package stats

// Package stats keeps the run-wide accept/reject counters and the per-chunk
// percentages reported after every chunk.

// Counts are the outcomes of one chunk, or of a whole run.
type Counts struct {
	Processed int `json:"processed" toml:"processed"`
	TooLong   int `json:"too_long" toml:"too-long"`
	Invalid   int `json:"invalid" toml:"invalid"`
	// Malformed is the part of Invalid caused by unparseable lines.
	Malformed int `json:"malformed" toml:"malformed"`
}

// Attempted is every line that reached the loader.
func (c Counts) Attempted() int { return c.Processed + c.TooLong + c.Invalid }

// Report is what gets logged after a chunk.
type Report struct {
	Chunk      Counts
	Totals     Counts
	ProcessedP float64
	TooLongP   float64
	InvalidP   float64
}

// Tracker accumulates Counts over a run. The zero value is ready to use.
type Tracker struct {
	totals Counts
	chunks int
}

// Add folds the counts of a finished chunk into the totals and returns the
// chunk's percentages of attempted lines. A chunk with nothing attempted
// reports 0% everywhere.
func (t *Tracker) Add(c Counts) Report {
	t.totals.Processed += c.Processed
	t.totals.TooLong += c.TooLong
	t.totals.Invalid += c.Invalid
	t.totals.Malformed += c.Malformed
	t.chunks++
	return Report{
		Chunk:      c,
		Totals:     t.totals,
		ProcessedP: percent(c.Processed, c.Attempted()),
		TooLongP:   percent(c.TooLong, c.Attempted()),
		InvalidP:   percent(c.Invalid, c.Attempted()),
	}
}

// Totals returns the grand totals so far.
func (t *Tracker) Totals() Counts { return t.totals }

// Chunks returns the number of chunks added.
func (t *Tracker) Chunks() int { return t.chunks }

func percent(n, of int) float64 {
	if of == 0 {
		return 0
	}
	return float64(n) / float64(of) * 100
}

package pipeline

// Package pipeline drives a detectability run: load the model, count the
// input, then for every chunk read, encode, predict, write and report.
// Chunks are processed strictly one after the other.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"dmsp/internal/chunk"
	"dmsp/internal/classifier"
	"dmsp/internal/predict"
	"dmsp/internal/stats"

	"github.com/charmbracelet/log"
)

// Settings is everything a run needs.
type Settings struct {
	Input     string
	Output    string
	ChunkSize int
	MaxLength int
	// Model opens the classifier. It is called exactly once, before the input
	// is read; the driver closes what it returns.
	Model func(ctx context.Context) (classifier.Classifier, error)
}

// Hooks lets callers follow progress (progress bars, run ledgers). Any field
// may be nil.
type Hooks struct {
	OnScan  func(idx *chunk.Index)
	OnChunk func(w chunk.Window, r stats.Report)
}

// Result summarises a finished run.
type Result struct {
	Lines  int
	Chunks int
	Rows   int
	Totals stats.Counts
}

// Stage names used in StageError.
const (
	StageInit    = "init"
	StageLoad    = "load model"
	StageScan    = "scan input"
	StageOutput  = "open output"
	StageRead    = "read chunk"
	StagePredict = "predict chunk"
	StageWrite   = "write chunk"
	StageClose   = "close output"
)

// StageError names the step a run failed in.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string { return e.Stage + ": " + e.Err.Error() }

func (e *StageError) Unwrap() error { return e.Err }

func stageErr(stage string, err error) error { return &StageError{Stage: stage, Err: err} }

func (s Settings) validate() error {
	switch {
	case s.Input == "":
		return errors.New("missing input path")
	case s.Output == "":
		return errors.New("missing output path")
	case s.ChunkSize < 1:
		return fmt.Errorf("chunk size must be positive, got %d", s.ChunkSize)
	case s.MaxLength < 1:
		return fmt.Errorf("max length must be positive, got %d", s.MaxLength)
	case s.Model == nil:
		return errors.New("missing model")
	}
	return nil
}

// Run executes the whole run. On any error the output file holds the header
// and every chunk completed before the failure.
func Run(ctx context.Context, set Settings, logger *log.Logger, hooks Hooks) (res Result, err error) {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	if err := set.validate(); err != nil {
		return res, stageErr(StageInit, err)
	}

	logger.Info("loading model")
	start := time.Now()
	model, err := set.Model(ctx)
	if err != nil {
		return res, stageErr(StageLoad, err)
	}
	defer model.Close()
	logger.Debug("model loaded", "duration_ms", time.Since(start).Milliseconds())

	idx, err := chunk.Scan(set.Input, set.ChunkSize)
	if err != nil {
		return res, stageErr(StageScan, err)
	}
	res.Lines = idx.Lines
	logger.Info("counted input", "path", set.Input, "peptides", idx.Lines, "chunks", idx.Chunks(), "chunk_size", set.ChunkSize)
	if hooks.OnScan != nil {
		hooks.OnScan(idx)
	}

	out, err := predict.Create(set.Output)
	if err != nil {
		return res, stageErr(StageOutput, err)
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = stageErr(StageClose, cerr)
		}
		res.Rows = out.Rows()
	}()

	loader := &chunk.Loader{Index: idx, MaxLen: set.MaxLength}
	var tracker stats.Tracker
	for _, w := range idx.Windows() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		b, err := loader.Load(w)
		if err != nil {
			return res, stageErr(StageRead+" "+w.String(), err)
		}
		if b.Accepted() > 0 {
			probs, err := model.Predict(ctx, b.Vectors())
			if err == nil {
				err = classifier.Validate(b.Accepted(), probs)
			}
			if err != nil {
				return res, stageErr(StagePredict+" "+w.String(), err)
			}
			if err := out.WriteChunk(predict.Assemble(b.Items, probs)); err != nil {
				return res, stageErr(StageWrite+" "+w.String(), err)
			}
		} else {
			logger.Debug("no peptide accepted in chunk, skipping model", "start", w.Start, "end", w.End)
		}

		r := tracker.Add(stats.Counts{Processed: b.Accepted(), TooLong: b.TooLong, Invalid: b.Invalid, Malformed: b.Malformed})
		res.Chunks = tracker.Chunks()
		res.Totals = tracker.Totals()
		logger.Info("processed chunk",
			"start", w.Start, "end", w.End,
			"loaded", b.Accepted(), "loaded_pct", fmt.Sprintf("%.2f", r.ProcessedP),
			"long_skipped", b.TooLong, "long_pct", fmt.Sprintf("%.2f", r.TooLongP),
			"invalid_skipped", b.Invalid, "invalid_pct", fmt.Sprintf("%.2f", r.InvalidP))
		if b.Malformed > 0 {
			logger.Warn("malformed lines counted as invalid", "start", w.Start, "end", w.End, "malformed", b.Malformed)
		}
		if hooks.OnChunk != nil {
			hooks.OnChunk(w, r)
		}
	}

	res.Totals = tracker.Totals()
	logger.Info("finished processing all peptides",
		"chunks", tracker.Chunks(),
		"processed", res.Totals.Processed,
		"long_skipped", res.Totals.TooLong,
		"invalid_skipped", res.Totals.Invalid,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

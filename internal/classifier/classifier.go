package classifier

// Package classifier is the boundary to the trained detectability model. The
// model itself is opaque: it is reached through a serving backend and used as
// a batched function vectors[N][L] -> probabilities[N].

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"dmsp/internal/peptide"
)

// Classifier returns, for each input vector, the probability that the peptide
// belongs to the positive class. Output order matches input order.
type Classifier interface {
	Predict(ctx context.Context, batch []peptide.Vector) ([]float64, error)
	Close() error
}

var (
	// ErrModelLoad wraps every failure to reach or validate the model at start.
	ErrModelLoad = errors.New("model load failed")
	// ErrPredictionCount is returned when the model answers with a different
	// number of probabilities than it was given vectors.
	ErrPredictionCount = errors.New("prediction count mismatch")
	// ErrBadProbability is returned for NaN or out-of-range probabilities.
	ErrBadProbability = errors.New("probability out of range")
)

// Backend names accepted by Load.
const (
	BackendTFServing = "tfserving"
	BackendCommand   = "command"
)

// DefaultMaxBatch bounds the number of vectors sent in one request.
const DefaultMaxBatch = 1024

// Config selects and parameterises a backend.
type Config struct {
	Backend string

	// tfserving
	URL     string
	Name    string
	Version string
	Timeout time.Duration

	// command
	Command string
	Args    []string
	// Stderr receives the child's diagnostics; nil discards them.
	Stderr io.Writer

	// MaxBatch is the largest number of vectors per request (<=0 uses DefaultMaxBatch).
	MaxBatch int
	// OutputIndex selects the element of a per-instance output array.
	OutputIndex int
	// InputLength is the vector width the caller will send; backends that can
	// report the model's expected width reject a mismatch at load time.
	InputLength int
}

// Load connects to the configured backend and verifies the model is usable.
// It is called once per run, before any chunk is read. Every error it returns
// wraps ErrModelLoad.
func Load(ctx context.Context, cfg Config) (Classifier, error) {
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.OutputIndex < 0 {
		return nil, fmt.Errorf("%w: output index %d", ErrModelLoad, cfg.OutputIndex)
	}
	var (
		c   Classifier
		err error
	)
	switch cfg.Backend {
	case BackendTFServing:
		c, err = loadTFServing(ctx, cfg)
	case BackendCommand:
		c, err = loadCommand(ctx, cfg)
	default:
		err = fmt.Errorf("unknown backend %q", cfg.Backend)
	}
	if err != nil {
		if errors.Is(err, ErrModelLoad) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrModelLoad, err)
	}
	return c, nil
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, batch []peptide.Vector) ([]float64, error)

func (f Func) Predict(ctx context.Context, batch []peptide.Vector) ([]float64, error) {
	return f(ctx, batch)
}

func (f Func) Close() error { return nil }

// Validate checks a backend answer against the request size.
func Validate(want int, probs []float64) error {
	if len(probs) != want {
		return fmt.Errorf("%w: sent %d vectors, got %d probabilities", ErrPredictionCount, want, len(probs))
	}
	for i, p := range probs {
		if math.IsNaN(p) || p < 0 || p > 1 {
			return fmt.Errorf("%w: instance %d: %v", ErrBadProbability, i, p)
		}
	}
	return nil
}

// predictRequest is the body shared by both backends.
type predictRequest struct {
	Instances []peptide.Vector `json:"instances"`
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error"`
}

// decodePredictions turns the per-instance outputs into probabilities. An
// instance output is either a number or an array of numbers, in which case
// element idx is used.
func decodePredictions(raw []json.RawMessage, idx int) ([]float64, error) {
	out := make([]float64, len(raw))
	for i, r := range raw {
		var p *float64
		if err := json.Unmarshal(r, &p); err == nil {
			if p == nil {
				return nil, fmt.Errorf("%w: instance %d: null output", ErrBadProbability, i)
			}
			out[i] = *p
			continue
		}
		var arr []*float64
		if err := json.Unmarshal(r, &arr); err != nil {
			return nil, fmt.Errorf("instance %d: unexpected output %s", i, string(r))
		}
		if idx >= len(arr) {
			return nil, fmt.Errorf("instance %d: output index %d out of range (width %d)", i, idx, len(arr))
		}
		if arr[idx] == nil {
			return nil, fmt.Errorf("%w: instance %d: null output at index %d", ErrBadProbability, i, idx)
		}
		out[i] = *arr[idx]
	}
	return out, nil
}

// splitBatch cuts batch into consecutive slices of at most n vectors.
func splitBatch(batch []peptide.Vector, n int) [][]peptide.Vector {
	var parts [][]peptide.Vector
	for i := 0; i < len(batch); i += n {
		end := i + n
		if end > len(batch) {
			end = len(batch)
		}
		parts = append(parts, batch[i:end])
	}
	return parts
}

package classifier

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"dmsp/internal/peptide"
)

// Command runs the model inside a long-lived child process (for example a
// small Python script around the Keras model). The child is started once and
// spoken to over a line protocol:
//
//	child -> {"ready":true,"input_length":81}
//	parent -> {"instances":[[...],...]}
//	child -> {"predictions":[...]} or {"error":"..."}
type Command struct {
	cmd         *exec.Cmd
	stdin       io.WriteCloser
	stdout      *bufio.Reader
	maxBatch    int
	outputIndex int
}

type readyLine struct {
	Ready       bool   `json:"ready"`
	InputLength int    `json:"input_length"`
	Error       string `json:"error"`
}

func loadCommand(ctx context.Context, cfg Config) (*Command, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("command backend needs a command")
	}
	path, err := exec.LookPath(cfg.Command)
	if err != nil {
		return nil, err
	}
	cmd := exec.Command(path, cfg.Args...)
	cmd.Stderr = cfg.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	c := &Command{cmd: cmd, stdin: stdin, stdout: bufio.NewReaderSize(stdout, 1<<16), maxBatch: cfg.MaxBatch, outputIndex: cfg.OutputIndex}

	// the handshake is the model load; give up with the caller's context
	type result struct {
		line []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		line, err := c.stdout.ReadBytes('\n')
		done <- result{line, err}
	}()
	var r result
	select {
	case r = <-done:
	case <-ctx.Done():
		c.kill()
		return nil, ctx.Err()
	}
	if r.err != nil {
		c.kill()
		return nil, fmt.Errorf("%s exited before ready: %v", cfg.Command, r.err)
	}
	var ready readyLine
	if err := json.Unmarshal(r.line, &ready); err != nil {
		c.kill()
		return nil, fmt.Errorf("unexpected ready line %q", strings.TrimSpace(string(r.line)))
	}
	if !ready.Ready {
		c.kill()
		return nil, fmt.Errorf("%s not ready: %s", cfg.Command, ready.Error)
	}
	if cfg.InputLength > 0 && ready.InputLength > 0 && ready.InputLength != cfg.InputLength {
		c.kill()
		return nil, fmt.Errorf("model expects vectors of width %d, encoder produces %d", ready.InputLength, cfg.InputLength)
	}
	return c, nil
}

// Predict writes one request line per sub-batch and reads one answer line.
func (c *Command) Predict(ctx context.Context, batch []peptide.Vector) ([]float64, error) {
	out := make([]float64, 0, len(batch))
	for _, part := range splitBatch(batch, c.maxBatch) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, err := json.Marshal(predictRequest{Instances: part})
		if err != nil {
			return nil, err
		}
		payload = append(payload, '\n')
		if _, err := c.stdin.Write(payload); err != nil {
			return nil, fmt.Errorf("write to model process: %w", err)
		}
		line, err := c.stdout.ReadBytes('\n')
		if err != nil {
			return nil, fmt.Errorf("read from model process: %w", err)
		}
		var resp predictResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("failed to parse model answer: %v", err)
		}
		if resp.Error != "" {
			return nil, fmt.Errorf("model process: %s", resp.Error)
		}
		probs, err := decodePredictions(resp.Predictions, c.outputIndex)
		if err != nil {
			return nil, err
		}
		if err := Validate(len(part), probs); err != nil {
			return nil, err
		}
		out = append(out, probs...)
	}
	return out, nil
}

// Close ends the child by closing its stdin and waits for it to exit.
func (c *Command) Close() error {
	_ = c.stdin.Close()
	return c.cmd.Wait()
}

func (c *Command) kill() {
	_ = c.stdin.Close()
	if c.cmd.Process != nil {
		_ = c.cmd.Process.Kill()
	}
	_ = c.cmd.Wait()
}

package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

// timestampWriter prefixes each flushed line with an RFC3339 timestamp.
type timestampWriter struct {
	w   io.Writer
	buf bytes.Buffer
	mu  sync.Mutex
	now func() time.Time
}

// Write buffers bytes until a newline is found; for each full line, write a timestamped
// line to the underlying writer. Partial lines are kept in the buffer.
func (t *timestampWriter) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.buf.Write(p)
	now := t.now
	if now == nil {
		now = time.Now
	}
	for {
		line, err := t.buf.ReadString('\n')
		if err != nil {
			// put the partial line back
			t.buf.WriteString(line)
			break
		}
		if _, err := t.w.Write([]byte(now().Format(time.RFC3339) + " " + line)); err != nil {
			return n, err
		}
	}
	return n, nil
}

// terminalWriter wraps an io.Writer and exposes an Fd method so libraries that
// inspect the file descriptor (for TTY detection) can work with wrapped writers.
type terminalWriter struct {
	w  io.Writer
	fd uintptr
}

func (tw *terminalWriter) Write(p []byte) (int, error) { return tw.w.Write(p) }

// Fd exposes the underlying file descriptor (e.g., os.Stderr.Fd()).
func (tw *terminalWriter) Fd() uintptr { return tw.fd }

// parseLevel maps a config log_level onto a charm level. Unknown names fall
// back to info and report false.
func parseLevel(s string) (log.Level, bool) {
	switch strings.ToLower(s) {
	case "debug":
		return log.DebugLevel, true
	case "info", "":
		return log.InfoLevel, true
	case "warn", "warning":
		return log.WarnLevel, true
	case "error":
		return log.ErrorLevel, true
	default:
		return log.InfoLevel, false
	}
}

// logSink is where log records go: stderr (or a progress bar area standing in
// for it) plus an optional log file.
type logSink struct {
	out  io.Writer
	file *os.File
}

// openLogSink opens logFile for append when set. A file that cannot be opened
// is reported by the caller and logging continues on stderr only.
func openLogSink(stderr io.Writer, logFile string) (*logSink, error) {
	s := &logSink{out: stderr}
	if logFile == "" {
		return s, nil
	}
	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return s, err
	}
	s.file = f
	// write to both stderr and file so running interactively still shows logs
	s.out = io.MultiWriter(stderr, f)
	return s, nil
}

func (s *logSink) Close() error {
	if s.file == nil {
		return nil
	}
	return s.file.Close()
}

// newLogger builds the timestamped charm logger over w.
func newLogger(w io.Writer, verbose bool, level string) (*log.Logger, bool) {
	// If stderr is a terminal-like device, force colors for libraries that honor FORCE_COLOR.
	if fi, err := os.Stderr.Stat(); err == nil && fi.Mode()&os.ModeCharDevice != 0 {
		_ = os.Setenv("FORCE_COLOR", "1")
	}
	tw := &timestampWriter{w: w}
	logger := log.New(&terminalWriter{w: tw, fd: os.Stderr.Fd()})
	if verbose {
		logger.SetLevel(log.DebugLevel)
		return logger, true
	}
	lvl, ok := parseLevel(level)
	logger.SetLevel(lvl)
	return logger, ok
}

package predict

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrHeader is returned when a predictions file does not start with Header.
var ErrHeader = errors.New("not a predictions file")

// Writer appends rows to a predictions file one chunk at a time. A chunk is
// written with a single write; if that write fails the file is truncated back
// to the end of the previous chunk, so the file never ends in a partial row.
type Writer struct {
	f    *os.File
	size int64
	rows int
	buf  bytes.Buffer
}

// Create truncates path and writes the header line.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	w := &Writer{f: f}
	n, err := f.WriteString(Header + "\n")
	if err != nil {
		f.Close()
		return nil, err
	}
	w.size = int64(n)
	return w, nil
}

// WriteChunk appends rows in order.
func (w *Writer) WriteChunk(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	w.buf.Reset()
	for _, r := range rows {
		w.buf.WriteString(r.Accession)
		w.buf.WriteByte('\t')
		w.buf.WriteString(r.Sequence)
		w.buf.WriteByte('\t')
		w.buf.WriteString(r.Prob)
		w.buf.WriteByte('\t')
		w.buf.WriteString(r.Label)
		w.buf.WriteByte('\n')
	}
	n, err := w.f.Write(w.buf.Bytes())
	if err != nil {
		if terr := w.f.Truncate(w.size); terr != nil {
			return fmt.Errorf("%w (truncate after failed write: %v)", err, terr)
		}
		if _, serr := w.f.Seek(w.size, io.SeekStart); serr != nil {
			return fmt.Errorf("%w (seek after failed write: %v)", err, serr)
		}
		return err
	}
	w.size += int64(n)
	w.rows += len(rows)
	// release the buffer of an unusually large chunk
	if w.buf.Cap() > 64<<20 {
		w.buf = bytes.Buffer{}
	}
	return nil
}

// Rows is the number of rows written so far.
func (w *Writer) Rows() int { return w.rows }

// Close syncs and closes the file. It is safe to call more than once.
func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	serr := f.Sync()
	if err := f.Close(); err != nil {
		return err
	}
	return serr
}

// Reader streams rows back from a predictions file.
type Reader struct {
	br   *bufio.Reader
	line int
}

// NewReader checks the header and returns a Reader positioned at the first row.
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{br: bufio.NewReaderSize(r, 1<<16)}
	h, err := rd.readLine()
	if err != nil {
		if err == io.EOF {
			return nil, ErrHeader
		}
		return nil, err
	}
	if h != Header {
		return nil, fmt.Errorf("%w: unexpected header %q", ErrHeader, h)
	}
	return rd, nil
}

func (rd *Reader) readLine() (string, error) {
	line, err := rd.br.ReadString('\n')
	if err == io.EOF && line != "" {
		err = nil
	}
	if err != nil {
		return "", err
	}
	rd.line++
	return strings.TrimRight(line, "\r\n"), nil
}

// Next returns the next row, or io.EOF after the last one.
func (rd *Reader) Next() (Row, error) {
	line, err := rd.readLine()
	if err != nil {
		return Row{}, err
	}
	f := strings.Split(line, "\t")
	if len(f) != 4 {
		return Row{}, fmt.Errorf("line %d: expected 4 fields, got %d", rd.line, len(f))
	}
	return Row{Accession: f[0], Sequence: f[1], Prob: f[2], Label: f[3]}, nil
}

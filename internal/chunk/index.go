package chunk

import (
	"bytes"
	"fmt"
	"io"
	"os"
)

// Window is the half-open line range [Start, End) of one chunk. Offset is the
// byte position of line Start in the file.
type Window struct {
	Index  int
	Start  int
	End    int
	Offset int64
}

// Len is the number of lines in the window.
func (w Window) Len() int { return w.End - w.Start }

func (w Window) String() string { return fmt.Sprintf("%d-%d", w.Start, w.End) }

// Index is the result of the single counting pass over the input: the total
// number of lines and the byte offset at which every chunk starts.
type Index struct {
	Path      string
	Lines     int
	ChunkSize int
	Offsets   []int64
}

// Scan counts the lines of the file at path and records chunk offsets.
func Scan(path string, chunkSize int) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	idx, err := ScanReader(f, chunkSize)
	if err != nil {
		return nil, err
	}
	idx.Path = path
	return idx, nil
}

// ScanReader is Scan over an arbitrary reader. A final line without a
// trailing newline is counted.
func ScanReader(r io.Reader, chunkSize int) (*Index, error) {
	if chunkSize < 1 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	idx := &Index{ChunkSize: chunkSize, Offsets: []int64{0}}
	buf := make([]byte, 1<<16)
	var pos int64
	var last byte
	for {
		n, err := r.Read(buf)
		block := buf[:n]
		for len(block) > 0 {
			i := bytes.IndexByte(block, '\n')
			if i < 0 {
				pos += int64(len(block))
				break
			}
			pos += int64(i + 1)
			block = block[i+1:]
			idx.Lines++
			if idx.Lines%chunkSize == 0 {
				idx.Offsets = append(idx.Offsets, pos)
			}
		}
		if n > 0 {
			last = buf[n-1]
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
	}
	if pos > 0 && last != '\n' {
		idx.Lines++
	}
	idx.Offsets = idx.Offsets[:idx.Chunks()]
	return idx, nil
}

// Chunks is the number of windows covering the file.
func (idx *Index) Chunks() int {
	return (idx.Lines + idx.ChunkSize - 1) / idx.ChunkSize
}

// Windows returns the contiguous, non-overlapping windows covering every line
// exactly once.
func (idx *Index) Windows() []Window {
	out := make([]Window, 0, idx.Chunks())
	for i := 0; i < idx.Chunks(); i++ {
		start := i * idx.ChunkSize
		end := start + idx.ChunkSize
		if end > idx.Lines {
			end = idx.Lines
		}
		out = append(out, Window{Index: i, Start: start, End: end, Offset: idx.Offsets[i]})
	}
	return out
}

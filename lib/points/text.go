package points

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/phil-mansfield/nbodycheck/lib/kernel"
)

// Comment starts a comment in point files.
const Comment = '#'

// ReadTextFile is ReadText for the file at fname.
func ReadTextFile(fname string, dimIn int) (x, q []float64, err error) {
	f, err := os.Open(fname)
	if err != nil { return nil, nil, err }
	defer f.Close()

	x, q, err = ReadText(f, dimIn)
	if err != nil { return nil, nil, fmt.Errorf("%s: %w", fname, err) }
	return x, q, nil
}

// ReadText reads whitespace-separated points from rd. Each non-empty line has
// kernel.Dim coordinates followed by dimIn strengths. Everything after a
// Comment character is ignored.
func ReadText(rd io.Reader, dimIn int) (x, q []float64, err error) {
	text, err := io.ReadAll(rd)
	if err != nil { return nil, nil, err }

	cols := kernel.Dim + dimIn
	x, q = []float64{ }, []float64{ }
	for i, line := range bytes.Split(text, []byte{ '\n' }) {
		if idx := bytes.IndexByte(line, Comment); idx != -1 {
			line = line[:idx]
		}
		fields := bytes.Fields(line)
		if len(fields) == 0 { continue }

		if len(fields) != cols {
			return nil, nil, fmt.Errorf("line %d has %d columns, but %d are needed",
				i + 1, len(fields), cols)
		}
		for j, field := range fields {
			v, err := strconv.ParseFloat(string(field), 64)
			if err != nil {
				return nil, nil, fmt.Errorf("line %d, column %d: %w", i + 1, j + 1, err)
			}
			if j < kernel.Dim {
				x = append(x, v)
			} else {
				q = append(q, v)
			}
		}
	}
	return x, q, nil
}

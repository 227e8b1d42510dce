package daemon

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
)

// MaxLineSize bounds a single protocol line.
const MaxLineSize = 1 << 20

// LineReader splits a byte stream into newline-terminated lines, buffering
// partial reads until the terminator arrives.
type LineReader struct {
	r   *bufio.Reader
	max int
}

// NewLineReader returns a LineReader reading from r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{r: bufio.NewReader(r), max: MaxLineSize}
}

// ReadLine returns the next non-blank line without its terminator.
// It returns io.EOF when the stream ends on a line boundary and
// io.ErrUnexpectedEOF when it ends inside a line.
func (lr *LineReader) ReadLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := lr.r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > lr.max {
			return nil, ErrLineTooLong
		}

		switch {
		case err == nil:
			line = bytes.TrimRight(line, "\r\n")
			if len(bytes.TrimSpace(line)) == 0 {
				line = line[:0]
				continue
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		case errors.Is(err, io.EOF):
			if len(bytes.TrimSpace(line)) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

// writeLine writes v as one JSON line.
func writeLine(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

package sbs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

// Framer splits a byte stream into newline-terminated lines. Bytes after the
// last newline are kept until a later Feed completes the line.
type Framer struct {
	buf []byte
}

// Feed appends chunk to the pending buffer and returns every complete line.
// Lines are trimmed and empty lines are dropped.
func (f *Framer) Feed(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSpace(string(f.buf[:idx]))
		f.buf = f.buf[idx+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	// Reclaim the consumed prefix once nothing is pending
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

// Pending returns the number of buffered bytes that do not form a complete line yet
func (f *Framer) Pending() int {
	return len(f.buf)
}

// ReadLines reads r until EOF or ctx is done, calling fn for every complete line.
// A clean EOF returns nil; a trailing partial line is discarded.
func ReadLines(ctx context.Context, r io.Reader, bufSize int, fn func(line string)) error {
	if bufSize <= 0 {
		bufSize = 4096
	}

	var framer Framer
	chunk := make([]byte, bufSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.Read(chunk)
		if n > 0 {
			for _, line := range framer.Feed(chunk[:n]) {
				fn(line)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

// Package stream provides line-oriented helpers for newline-delimited
// JSON streams. Records are treated as opaque lines; no JSON parsing
// happens here.
package stream

import (
	"bufio"
	"io"
)

// maxLine bounds a single record. Lines beyond this are a stream error
// rather than a truncation.
const maxLine = 16 * 1024 * 1024

func newScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 64*1024), maxLine)
	return s
}

// Head copies the first n lines from r to w, then stops scanning.
// Reads are buffered, so r may be consumed somewhat past the nth line,
// but it is never drained. On an unbounded stream Head still returns as
// soon as n lines are written.
func Head(r io.Reader, n int, w io.Writer) error {
	if n <= 0 {
		return nil
	}
	bw := bufio.NewWriter(w)
	s := newScanner(r)
	for count := 0; count < n && s.Scan(); count++ {
		if _, err := bw.Write(s.Bytes()); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		return err
	}
	return bw.Flush()
}

// Tail copies the last n lines from r to w. A fixed ring buffer keeps
// memory constant regardless of input size, at the cost of reading the
// whole stream before emitting anything.
func Tail(r io.Reader, n int, w io.Writer) error {
	if n <= 0 {
		return drain(r)
	}

	ring := make([]string, n)
	total := 0
	s := newScanner(r)
	for s.Scan() {
		ring[total%n] = s.Text()
		total++
	}
	if err := s.Err(); err != nil {
		return err
	}

	kept := total
	if kept > n {
		kept = n
	}
	bw := bufio.NewWriter(w)
	for i := total - kept; i < total; i++ {
		if _, err := bw.WriteString(ring[i%n]); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func drain(r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

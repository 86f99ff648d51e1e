package exec

import (
	"bufio"
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Stream exposes the terminal stage's output as a line iterator. Closing
// the stream before exhaustion drives the same close-and-propagate
// shutdown discipline through every upstream stage: the parent's read end
// goes away, the terminal stage takes SIGPIPE on its next write, and
// end-of-pipe cascades up the chain.
type Stream struct {
	p       *Pipeline
	read    *os.File
	scanner *bufio.Scanner
	log     *logrus.Logger

	done    bool
	waited  bool
	waitErr error
}

// Stream spawns the pipeline with the terminal stage's stdout attached to
// a pipe held by the caller. The returned Stream must be closed; Close
// reaps every child regardless of how much output was consumed.
func (p *Pipeline) Stream(ctx context.Context, opts Options) (*Stream, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	if err := p.start(ctx, opts.Stdin, pw, opts.Logger); err != nil {
		pr.Close()
		pw.Close()
		return nil, err
	}
	// The terminal child owns its copy of the write end now.
	pw.Close()

	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return &Stream{p: p, read: pr, scanner: sc, log: opts.Logger}, nil
}

// Scan advances to the next output line. It returns false at end of
// stream or after Close.
func (s *Stream) Scan() bool {
	if s.done {
		return false
	}
	if s.scanner.Scan() {
		return true
	}
	s.done = true
	return false
}

// Text returns the current line without its trailing newline.
func (s *Stream) Text() string {
	return s.scanner.Text()
}

// Err returns the first non-EOF read error.
func (s *Stream) Err() error {
	return s.scanner.Err()
}

// Close releases the caller's read end and waits for every stage. It
// returns the pipeline's aggregate error; end-of-pipe exits caused by the
// early close are expected and suppressed. Close is idempotent.
func (s *Stream) Close() error {
	if s.waited {
		return s.waitErr
	}
	s.waited = true

	if !s.done {
		// Early termination: the terminal stage may still be writing.
		s.p.earlyClose = true
		s.done = true
	}
	s.read.Close()
	s.waitErr = s.p.wait(s.log)
	return s.waitErr
}

// Copy drains the stream to w, preserving line boundaries. It is the
// convenience path for cat-style commands that stream a whole pipeline to
// an output.
func (s *Stream) Copy(w io.Writer) (int64, error) {
	var n int64
	bw := bufio.NewWriter(w)
	for s.Scan() {
		written, err := bw.WriteString(s.Text() + "\n")
		n += int64(written)
		if err != nil {
			return n, err
		}
		// Flush per record to preserve the streaming contract for
		// downstream consumers of our own stdout.
		if err := bw.Flush(); err != nil {
			return n, err
		}
	}
	return n, s.Err()
}

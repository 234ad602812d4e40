package kfmt

import (
	"bytes"
	"io"
)

// PrefixWriter is an io.Writer that wraps another io.Writer and tags each
// line written through it with a prefix such as "[selftest] ". A line may be
// assembled from several Write calls; the prefix is emitted once, before its
// first byte.
type PrefixWriter struct {
	// A writer where all writes get sent to.
	Sink io.Writer

	// The prefix injected at the beginning of each line.
	Prefix []byte

	// midLine is set when the last byte written was not a line feed.
	midLine bool
}

// Write forwards p to the sink, injecting the prefix at the start of every
// line. The returned count covers bytes of p only; prefix bytes are not
// included. Writing stops at the first sink error.
func (w *PrefixWriter) Write(p []byte) (int, error) {
	var written int

	for len(p) != 0 {
		if !w.midLine {
			if _, err := w.Sink.Write(w.Prefix); err != nil {
				return written, err
			}
			w.midLine = true
		}

		lineLen := len(p)
		if eol := bytes.IndexByte(p, '\n'); eol >= 0 {
			lineLen = eol + 1
			w.midLine = false
		}

		n, err := w.Sink.Write(p[:lineLen])
		written += n
		if err != nil {
			return written, err
		}
		p = p[lineLen:]
	}

	return written, nil
}

// Reset discards any partial line state so that the next write starts with
// the prefix.
func (w *PrefixWriter) Reset() {
	w.midLine = false
}

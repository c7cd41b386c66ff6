// Copyright 2015-2021 National Technology & Engineering Solutions of Sandia, LLC (NTESS).
// Under the terms of Contract DE-NA0003525 with NTESS, the U.S. Government retains certain
// rights in this software.

package sftp

import (
	"bufio"
	"io"
)

// translator rewrites the server newline sequence to \n on the way into a
// local file. It is a pure state machine: state counts how far through the
// newline sequence the stream has matched. Because negotiation rejects
// newline sequences with internal self-overlap, flushing the matched prefix
// and retrying the current byte is correct; a self-overlapping sequence
// would need a KMP-style failure function instead.
type translator struct {
	w       io.Writer
	newline []byte
	state   int
}

func newTranslator(w io.Writer, newline string) *translator {
	return &translator{w: w, newline: []byte(newline)}
}

func (t *translator) Write(p []byte) (int, error) {
	// worst case every byte flushes a pending prefix
	out := make([]byte, 0, len(p)+t.state)

	for i := 0; i < len(p); {
		c := p[i]
		if c == t.newline[t.state] {
			t.state++
			if t.state == len(t.newline) {
				out = append(out, '\n')
				t.state = 0
			}
			i++
			continue
		}
		if t.state > 0 {
			// partial match that went nowhere; emit it literally and
			// retry the current byte from scratch
			out = append(out, t.newline[:t.state]...)
			t.state = 0
			continue
		}
		out = append(out, c)
		i++
	}

	if _, err := t.w.Write(out); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Flush emits any pending partial match literally. Call once at end of
// stream; a file is allowed to end mid-almost-newline.
func (t *translator) Flush() error {
	if t.state == 0 {
		return nil
	}
	_, err := t.w.Write(t.newline[:t.state])
	t.state = 0
	return err
}

// readTranslated fills buf from r, expanding each \n to the server newline
// sequence. It never starts a newline it cannot finish in this buffer; the
// \n is pushed back for the next request instead, so a line terminator is
// never split across WRITEs. Negotiation guarantees the buffer can hold at
// least one full newline, so a zero return genuinely means EOF.
func readTranslated(r *bufio.Reader, buf []byte, newline string) (int, error) {
	n := 0
	for n < len(buf) {
		c, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
		if c == '\n' {
			if len(buf)-n < len(newline) {
				if err := r.UnreadByte(); err != nil {
					return n, err
				}
				break
			}
			n += copy(buf[n:], newline)
			continue
		}
		buf[n] = c
		n++
	}
	return n, nil
}

package hub

import "bytes"

const defaultScrollbackSize = 256 * 1024

// scrollback keeps the most recent conversation bytes so a surface that
// connects late can be brought up to date. Only the run loop touches it.
type scrollback struct {
	data []byte
	pos  int
	full bool
}

func newScrollback(capacity int) *scrollback {
	if capacity <= 0 {
		capacity = defaultScrollbackSize
	}
	return &scrollback{data: make([]byte, capacity)}
}

// Write appends p, overwriting the oldest bytes when full.
func (s *scrollback) Write(p []byte) {
	if len(p) >= len(s.data) {
		copy(s.data, p[len(p)-len(s.data):])
		s.pos = 0
		s.full = true
		return
	}
	n := copy(s.data[s.pos:], p)
	if n < len(p) {
		copy(s.data, p[n:])
		s.full = true
	}
	s.pos = (s.pos + len(p)) % len(s.data)
	if s.pos == 0 && len(p) > 0 {
		s.full = true
	}
}

func (s *scrollback) Reset() {
	s.pos = 0
	s.full = false
}

// String returns the buffered text in order. Once the buffer has wrapped
// the partial first line is dropped so replay never starts inside an
// escape sequence.
func (s *scrollback) String() string {
	if !s.full {
		return string(s.data[:s.pos])
	}
	out := make([]byte, 0, len(s.data))
	out = append(out, s.data[s.pos:]...)
	out = append(out, s.data[:s.pos]...)
	if i := bytes.IndexByte(out, '\n'); i >= 0 {
		out = out[i+1:]
	}
	return string(out)
}

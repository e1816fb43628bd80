package parser

import (
	"bytes"
	"log/slog"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	esc = 0x1b

	// TailSize is the number of trailing bytes held back while the buffer
	// contains an escape introducer. It exceeds the longest sequence the
	// interceptor reacts to.
	TailSize = 8

	// MaxPending caps how much output an unterminated escape sequence may
	// hold back before it is force-flushed.
	MaxPending = 4096
)

var (
	// cursorQuery is DSR 6, "report cursor position".
	cursorQuery = []byte("\x1b[6n")
	// cursorReport claims the cursor sits at row 1, column 1.
	cursorReport = []byte("\x1b[1;1R")

	// partialPrompt matches an unterminated line that may still grow into
	// a confirmation prompt, such as "Apply changes? (y/".
	partialPrompt = regexp.MustCompile(`\?\s*[()\[\]A-Za-z/]{0,10}$`)
)

// InterceptorConfig wires an Interceptor to its session.
type InterceptorConfig struct {
	// Respond writes a synthetic reply straight back to the child.
	Respond func([]byte) error
	// Forward receives output that is safe to show.
	Forward func(string)
	// Prompt receives detected interactive prompts instead of Forward.
	Prompt func(Prompt)
	Logger *slog.Logger
}

// Interceptor turns a raw PTY chunk stream into forwarded text. It answers
// cursor-position queries, never splits a query across two forwarded
// fragments, and routes interactive prompts out of band.
//
// Output free of escape bytes is forwarded as soon as it arrives, except an
// unterminated last line that looks like the start of a prompt. Once the
// buffer holds an escape byte, only complete lines ending before the last
// TailSize bytes are forwarded; the rest waits for the next chunk or Flush.
// Forwarded fragments never end inside a UTF-8 sequence until Close.
//
// An Interceptor is owned by a single goroutine and is not safe for
// concurrent use.
type Interceptor struct {
	respond func([]byte) error
	forward func(string)
	prompt  func(Prompt)
	logger  *slog.Logger

	buf     []byte
	answers int
}

func NewInterceptor(cfg InterceptorConfig) *Interceptor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ic := &Interceptor{
		respond: cfg.Respond,
		forward: cfg.Forward,
		prompt:  cfg.Prompt,
		logger:  logger,
	}
	if ic.respond == nil {
		ic.respond = func([]byte) error { return nil }
	}
	if ic.forward == nil {
		ic.forward = func(string) {}
	}
	if ic.prompt == nil {
		ic.prompt = func(Prompt) {}
	}
	return ic
}

// Feed appends a chunk and forwards whatever is now known to be safe.
func (ic *Interceptor) Feed(chunk []byte) {
	ic.buf = append(ic.buf, chunk...)
	ic.answerQueries()
	ic.forwardSafe()
}

// Flush forwards everything held back except a suffix that may still grow
// into a cursor-position query. It bounds the latency added by the tail.
func (ic *Interceptor) Flush() {
	ic.releaseRunes(len(ic.buf) - queryPrefixLen(ic.buf))
}

// Close flushes at end of stream, truncated runes included. A dangling
// partial query is dropped.
func (ic *Interceptor) Close() {
	ic.release(len(ic.buf) - queryPrefixLen(ic.buf))
	ic.buf = nil
}

// Pending returns the number of bytes currently held back.
func (ic *Interceptor) Pending() int { return len(ic.buf) }

// Answered returns how many cursor-position queries have been answered.
func (ic *Interceptor) Answered() int { return ic.answers }

func (ic *Interceptor) answerQueries() {
	for {
		i := bytes.Index(ic.buf, cursorQuery)
		if i < 0 {
			return
		}
		ic.release(i)
		if err := ic.respond(cursorReport); err != nil {
			ic.logger.Warn("failed to answer cursor position query", "error", err)
		}
		ic.answers++
		ic.consume(len(cursorQuery))
	}
}

func (ic *Interceptor) forwardSafe() {
	if len(ic.buf) == 0 {
		return
	}
	if bytes.IndexByte(ic.buf, esc) < 0 {
		cut := len(ic.buf)
		last := bytes.LastIndexByte(ic.buf, '\n') + 1
		if tail := ic.buf[last:]; partialPrompt.Match(tail) {
			if _, ok := Classify(string(tail)); !ok {
				cut = last
			}
		}
		ic.releaseRunes(cut)
		return
	}
	if len(ic.buf) <= TailSize {
		return
	}

	cut := len(ic.buf) - TailSize
	if start := unterminatedAt(ic.buf, cut); start >= 0 {
		cut = start
	}
	// Keep the current line together so prompt detection sees it whole.
	cut = bytes.LastIndexByte(ic.buf[:cut], '\n') + 1
	if len(ic.buf)-cut > MaxPending {
		cut = len(ic.buf) - queryPrefixLen(ic.buf)
		ic.logger.Debug("force-flushing unterminated escape sequence", "bytes", cut)
	}
	ic.releaseRunes(cut)
}

// releaseRunes is release without splitting a UTF-8 sequence at the cut.
func (ic *Interceptor) releaseRunes(n int) {
	if n > 0 {
		n -= partialRuneLen(ic.buf[:n])
	}
	ic.release(n)
}

// release emits the first n buffered bytes and drops them from the buffer.
func (ic *Interceptor) release(n int) {
	if n <= 0 {
		return
	}
	ic.emit(string(ic.buf[:n]))
	ic.consume(n)
}

func (ic *Interceptor) consume(n int) {
	ic.buf = append(ic.buf[:0], ic.buf[n:]...)
}

// emit splits text into lines, diverting prompt lines to the prompt
// callback and forwarding the rest in order.
func (ic *Interceptor) emit(text string) {
	var plain strings.Builder
	for text != "" {
		line := text
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			line = text[:i+1]
		}
		text = text[len(line):]

		if p, ok := Classify(line); ok {
			if plain.Len() > 0 {
				ic.forward(plain.String())
				plain.Reset()
			}
			ic.prompt(p)
			continue
		}
		plain.WriteString(line)
	}
	if plain.Len() > 0 {
		ic.forward(plain.String())
	}
}

// queryPrefixLen returns the length of the longest suffix of buf that is a
// proper prefix of the cursor-position query.
func queryPrefixLen(buf []byte) int {
	k := len(cursorQuery) - 1
	if len(buf) < k {
		k = len(buf)
	}
	for ; k > 0; k-- {
		if bytes.HasSuffix(buf, cursorQuery[:k]) {
			return k
		}
	}
	return 0
}

// partialRuneLen returns the length of an incomplete UTF-8 sequence at the
// end of p. Invalid bytes count as complete.
func partialRuneLen(p []byte) int {
	for i := 1; i < utf8.UTFMax && i <= len(p); i++ {
		b := p[len(p)-i]
		if !utf8.RuneStart(b) {
			continue
		}
		if b >= utf8.RuneSelf && !utf8.FullRune(p[len(p)-i:]) {
			return i
		}
		return 0
	}
	return 0
}

// unterminatedAt returns the index of the escape sequence that is still
// open at cut, or -1 when cut does not fall inside a sequence.
func unterminatedAt(buf []byte, cut int) int {
	start := bytes.LastIndexByte(buf[:cut], esc)
	if start < 0 {
		return -1
	}
	end := sequenceEnd(buf, start)
	if end < 0 || end > cut {
		return start
	}
	return -1
}

// sequenceEnd returns the index just past the escape sequence beginning at
// start, or -1 when the buffer ends before the sequence does.
func sequenceEnd(buf []byte, start int) int {
	if start+1 >= len(buf) {
		return -1
	}
	switch buf[start+1] {
	case '[':
		for i := start + 2; i < len(buf); i++ {
			c := buf[i]
			switch {
			case c >= 0x20 && c <= 0x3f:
				// parameter and intermediate bytes
			case c >= 0x40 && c <= 0x7e:
				return i + 1
			default:
				// Malformed CSI; the sequence ends where it broke.
				return i
			}
		}
		return -1
	case '(', ')', '*', '+', '-', '.', '/', '#', '%':
		// charset designation and friends carry one more byte
		if start+2 >= len(buf) {
			return -1
		}
		return start + 3
	case ']', 'P', '_', '^', 'k':
		for i := start + 2; i < len(buf); i++ {
			if buf[i] == 0x07 && buf[start+1] == ']' {
				return i + 1
			}
			if buf[i] == esc && i+1 < len(buf) && buf[i+1] == '\\' {
				return i + 2
			}
		}
		return -1
	default:
		return start + 2
	}
}

package session

import (
	"sync"

	"github.com/user/aiderterm/internal/parser"
)

type (
	DataHandler   func(text string)
	ExitHandler   func(ExitEvent)
	ErrorHandler  func(error)
	PromptHandler func(parser.Prompt)
)

type subscriber[T any] struct {
	id int
	fn T
}

// handlers is a registration list. Snapshots are taken under the lock and
// invoked without it, so handlers may subscribe or unsubscribe freely.
type handlers[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   []subscriber[T]
}

func (h *handlers[T]) add(fn T) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	id := h.nextID
	h.subs = append(h.subs, subscriber[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			for i, s := range h.subs {
				if s.id == id {
					h.subs = append(h.subs[:i:i], h.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (h *handlers[T]) snapshot() []T {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]T, len(h.subs))
	for i, s := range h.subs {
		out[i] = s.fn
	}
	return out
}

func (h *handlers[T]) clear() {
	h.mu.Lock()
	h.subs = nil
	h.mu.Unlock()
}

// OnData registers a handler for display-safe output. The returned func
// removes it.
func (c *Coordinator) OnData(fn DataHandler) func() { return c.onData.add(fn) }

func (c *Coordinator) OnExit(fn ExitHandler) func() { return c.onExit.add(fn) }

func (c *Coordinator) OnError(fn ErrorHandler) func() { return c.onError.add(fn) }

func (c *Coordinator) OnPrompt(fn PromptHandler) func() { return c.onPrompt.add(fn) }

func (c *Coordinator) emitData(text string) {
	for _, fn := range c.onData.snapshot() {
		c.guard("data", func() { fn(text) })
	}
}

func (c *Coordinator) emitExit(ev ExitEvent) {
	for _, fn := range c.onExit.snapshot() {
		c.guard("exit", func() { fn(ev) })
	}
}

func (c *Coordinator) emitPrompt(p parser.Prompt) {
	for _, fn := range c.onPrompt.snapshot() {
		c.guard("prompt", func() { fn(p) })
	}
}

func (c *Coordinator) emitError(err error) {
	for _, fn := range c.onError.snapshot() {
		c.guard("error", func() { fn(err) })
	}
}

// guard runs one handler. A panic is logged and, unless it came from an
// error handler, reported to the error handlers.
func (c *Coordinator) guard(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("session callback panicked", "event", event, "panic", r)
			if event != "error" {
				c.emitError(&CallbackError{Event: event, Value: r})
			}
		}
	}()
	fn()
}

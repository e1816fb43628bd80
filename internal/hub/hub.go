// Package hub relays named-command envelopes between the coordinator and
// any number of connected display surfaces.
package hub

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
)

const defaultBatchInterval = 30 * time.Millisecond

// Handler receives every inbound envelope. A returned error is sent back
// to the originating client as an error envelope.
type Handler func(ctx context.Context, client *Client, msg ClientMessage) error

type Options struct {
	Token          string
	BatchInterval  time.Duration
	ScrollbackSize int
	Logger         *slog.Logger
}

type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan hubBroadcast
	token      string
	logger     *slog.Logger
	mu         sync.RWMutex

	handlerMu sync.RWMutex
	handler   Handler

	// outMu orders everything placed on broadcast so batched conversation
	// text is never overtaken by a later envelope.
	outMu        sync.Mutex
	rateLimiter  *RateLimiter
	batchEnabled atomic.Bool

	// Replay state, owned by the run loop.
	history    *scrollback
	lastPrompt []byte

	running atomic.Bool
}

func New(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := opts.BatchInterval
	if interval <= 0 {
		interval = defaultBatchInterval
	}
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan hubBroadcast, 1024),
		token:      opts.Token,
		logger:     logger.With("component", "hub"),
		history:    newScrollback(opts.ScrollbackSize),
	}
	h.rateLimiter = NewRateLimiter(interval, h.FlushPendingOutput)
	h.batchEnabled.Store(true)
	return h
}

func (h *Hub) SetHandler(fn Handler) {
	h.handlerMu.Lock()
	h.handler = fn
	h.handlerMu.Unlock()
}

func (h *Hub) SetBatchEnabled(enabled bool) {
	h.batchEnabled.Store(enabled)
	if !enabled {
		h.FlushPendingOutput()
	}
}

func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer h.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for _, c := range h.clients {
				c.closeSend()
			}
			h.clients = make(map[string]*Client)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.replay(client)
			go client.writePump(ctx)
			go client.readPump(ctx)
			h.logger.Info("client connected", "client_id", client.id, "total", h.ClientCount())

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("client disconnected", "client_id", client.id, "total", h.ClientCount())

		case msg := <-h.broadcast:
			h.track(msg)
			h.broadcastToClients(msg.data)
		}
	}
}

// track keeps scrollback and the visible prompt in step with what clients
// have been sent.
func (h *Hub) track(msg hubBroadcast) {
	switch msg.kind {
	case outboundConversation:
		h.history.Write([]byte(msg.text))
	case outboundClear:
		h.history.Reset()
		h.lastPrompt = nil
	case outboundShowPrompt:
		h.lastPrompt = msg.data
	case outboundHidePrompt:
		h.lastPrompt = nil
	}
}

// replay brings a newly registered client up to date.
func (h *Hub) replay(c *Client) {
	var pending [][]byte
	if text := h.history.String(); text != "" {
		if data, err := json.Marshal(ConversationMessage{Command: CmdUpdateConversation, Text: text}); err == nil {
			pending = append(pending, data)
		}
	}
	if h.lastPrompt != nil {
		pending = append(pending, h.lastPrompt)
	}
	for _, data := range pending {
		c.enqueue(data)
	}
}

func (h *Hub) broadcastToClients(data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		if !c.enqueue(data) {
			h.logger.Warn("client send buffer full, dropping message", "client_id", c.id)
		}
	}
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(h.token)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	client := newClient(conn, h)
	select {
	case h.register <- client:
	default:
		h.logger.Warn("hub not accepting connections")
		conn.Close(websocket.StatusTryAgainLater, "server busy")
	}
}

// UpdateConversation queues transcript text. Consecutive updates within the
// batch interval are sent as one envelope.
func (h *Hub) UpdateConversation(text string) {
	if text == "" {
		return
	}
	if h.batchEnabled.Load() {
		h.rateLimiter.Add(text)
		return
	}
	h.outMu.Lock()
	defer h.outMu.Unlock()
	h.enqueue(ConversationMessage{Command: CmdUpdateConversation, Text: text}, outboundConversation, text)
}

func (h *Hub) ClearTerminal() {
	h.send(CommandMessage{Command: CmdClearTerminal}, outboundClear)
}

func (h *Hub) ShowPrompt(text string, options []string, kind string) {
	h.send(PromptMessage{Command: CmdShowInteractivePrompt, PromptText: text, Options: options, Kind: kind}, outboundShowPrompt)
}

func (h *Hub) HidePrompt() {
	h.send(CommandMessage{Command: CmdHideInteractivePrompt}, outboundHidePrompt)
}

// Broadcast sends any other envelope to every client, after pending
// conversation text.
func (h *Hub) Broadcast(msg any) {
	h.send(msg, outboundPlain)
}

func (h *Hub) send(msg any, kind outboundKind) {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	h.flushLocked()
	h.enqueue(msg, kind, "")
}

// FlushPendingOutput sends batched conversation text now.
func (h *Hub) FlushPendingOutput() {
	h.outMu.Lock()
	defer h.outMu.Unlock()
	h.flushLocked()
}

func (h *Hub) flushLocked() {
	if text := h.rateLimiter.Take(); text != "" {
		h.enqueue(ConversationMessage{Command: CmdUpdateConversation, Text: text}, outboundConversation, text)
	}
}

func (h *Hub) enqueue(msg any, kind outboundKind, text string) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode envelope", "error", err)
		return
	}
	select {
	case h.broadcast <- hubBroadcast{data: data, kind: kind, text: text}:
	default:
		h.logger.Warn("broadcast channel full, dropping message")
	}
}

// Send writes one envelope to a single client.
func (h *Hub) Send(client *Client, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode envelope", "error", err)
		return
	}
	if !client.enqueue(data) {
		h.logger.Warn("client send buffer full, dropping message", "client_id", client.id)
	}
}

func (h *Hub) SendError(client *Client, message string) {
	h.Send(client, ErrorMessage{Command: CmdError, Message: message})
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) dispatch(ctx context.Context, c *Client, msg ClientMessage) {
	h.handlerMu.RLock()
	fn := h.handler
	h.handlerMu.RUnlock()

	if fn == nil {
		h.SendError(c, "no handler for command: "+msg.Command)
		return
	}
	if err := fn(ctx, c, msg); err != nil {
		h.logger.Warn("command failed", "client_id", c.id, "command", msg.Command, "error", err)
		h.SendError(c, err.Error())
	}
}

func (h *Hub) unregisterClient(c *Client) {
	if !h.running.Load() {
		c.conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	select {
	case h.unregister <- c:
	default:
		h.logger.Warn("unregister channel full, forcing close", "client_id", c.id)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}
}

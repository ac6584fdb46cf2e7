// Package ws implements the live event stream over WebSocket. Every
// relayed event is fanned out to the connected clients whose kind filter
// matches it.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
)

const (
	sendBuffer   = 64
	writeTimeout = 5 * time.Second
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// conn is one subscribed client. Writes happen on the conn's own
// goroutine; a client whose buffer fills up is disconnected.
type conn struct {
	ws     *websocket.Conn
	send   chan []byte
	kinds  map[string]bool // empty means all
	cancel context.CancelFunc
}

func (c *conn) wants(kind string) bool {
	return len(c.kinds) == 0 || c.kinds[kind]
}

// Hub manages all active WebSocket connections.
type Hub struct {
	mu             sync.RWMutex
	conns          map[*conn]struct{}
	originPatterns []string
}

// NewHub creates a hub. originPatterns restricts browser origins; a
// single "*" or an empty list accepts any origin.
func NewHub(originPatterns ...string) *Hub {
	return &Hub{
		conns:          make(map[*conn]struct{}),
		originPatterns: originPatterns,
	}
}

// HandleWS upgrades the request. The optional "kinds" query parameter is
// a comma-separated list of event kinds to receive.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	opts := &websocket.AcceptOptions{}
	if len(h.originPatterns) == 0 || (len(h.originPatterns) == 1 && h.originPatterns[0] == "*") {
		opts.InsecureSkipVerify = true
	} else {
		opts.OriginPatterns = h.originPatterns
	}
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	c := &conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		kinds:  parseKinds(r.URL.Query().Get("kinds")),
		cancel: cancel,
	}

	h.mu.Lock()
	h.conns[c] = struct{}{}
	h.mu.Unlock()

	slog.Info("event stream connected", "remote", r.RemoteAddr, "kinds", len(c.kinds))

	go h.writeLoop(ctx, c)
	go func() {
		defer h.remove(c)
		for {
			if _, _, err := ws.Read(ctx); err != nil {
				return
			}
		}
	}()
}

func (h *Hub) writeLoop(ctx context.Context, c *conn) {
	defer func() {
		_ = c.ws.Close(websocket.StatusNormalClosure, "")
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.ws.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				slog.Debug("websocket write failed", "error", err)
				h.remove(c)
				return
			}
		}
	}
}

// Broadcast queues msg for every client interested in msg.Type.
func (h *Hub) Broadcast(_ context.Context, msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("websocket marshal failed", "error", err)
		return
	}

	var slow []*conn
	h.mu.RLock()
	for c := range h.conns {
		if !c.wants(msg.Type) {
			continue
		}
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("event stream client too slow, disconnecting")
		h.remove(c)
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		c.cancel()
		delete(h.conns, c)
	}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Info("event stream disconnected")
	}
}

func parseKinds(s string) map[string]bool {
	if s == "" {
		return nil
	}
	kinds := make(map[string]bool)
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			kinds[k] = true
		}
	}
	return kinds
}

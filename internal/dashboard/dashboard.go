// Package dashboard pushes the assistant's live status to browser dashboards
// over websockets and accepts mode toggles from them.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/MrWong99/valet/internal/state"
)

// sendBuffer is how many status frames may queue for a slow client before
// it is dropped.
const sendBuffer = 16

// Status is the frame broadcast to every client.
type Status struct {
	Mode         state.Mode `json:"mode"`
	Gaming       bool       `json:"gamingMode"`
	Conversation bool       `json:"conversationalMode"`
	Muted        bool       `json:"muted"`
	Listening    bool       `json:"listening"`
}

func statusOf(s state.Snapshot) Status {
	mode := s.Mode
	if s.Gaming {
		mode = state.ModeIdle
	}
	return Status{
		Mode:         mode,
		Gaming:       s.Gaming,
		Conversation: s.Conversation,
		Muted:        s.Muted,
		Listening:    s.Listening,
	}
}

// Command is a message received from a client.
type Command struct {
	Toggle string `json:"toggle"`
}

// Option configures a [Hub].
type Option func(*Hub)

// WithOriginPatterns allows cross-origin dashboards, e.g. "localhost:*".
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Hub) { h.origins = patterns }
}

// Hub is an http.Handler that upgrades requests to websockets and fans out
// status changes.
type Hub struct {
	st      *state.State
	origins []string

	mu      sync.Mutex
	clients map[*client]struct{}
	last    Status
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// New creates a Hub.
func New(st *state.State, opts ...Option) *Hub {
	h := &Hub{st: st, clients: make(map[*client]struct{})}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Clients returns the number of connected dashboards.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run broadcasts a status frame whenever the shared state changes, until ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	for {
		changed := h.st.Changed()
		h.publish(statusOf(h.st.Snapshot()))
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case <-changed:
		}
	}
}

func (h *Hub) publish(s Status) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s == h.last {
		return
	}
	h.last = s
	data, err := json.Marshal(s)
	if err != nil {
		slog.Error("dashboard: encode status", "err", err)
		return
	}
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("dashboard: dropping slow client")
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

// ServeHTTP implements http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("dashboard: accept failed", "err", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	initial, err := json.Marshal(statusOf(h.st.Snapshot()))
	if err != nil {
		h.mu.Unlock()
		conn.Close(websocket.StatusInternalError, "encode")
		return
	}
	c.send <- initial
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Info("dashboard: client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.readLoop(ctx, cancel, c)

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				h.drop(c)
				return
			}
		case <-ctx.Done():
			h.drop(c)
			return
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, cancel context.CancelFunc, c *client) {
	defer cancel()
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusNormalClosure && !errors.Is(err, context.Canceled) {
				slog.Debug("dashboard: read", "err", err)
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil || cmd.Toggle == "" {
			slog.Debug("dashboard: ignoring message", "data", string(data))
			continue
		}
		if err := h.st.Toggle(cmd.Toggle); err != nil {
			slog.Warn("dashboard: toggle", "mode", cmd.Toggle, "err", err)
			continue
		}
		slog.Info("dashboard: toggled", "mode", cmd.Toggle)
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// Command types accepted from clients.
const (
	CommandStartCall = "start_call"
	CommandEndCall   = "end_call"
)

const (
	defaultSendBuffer = 64
	defaultPingEvery  = 30 * time.Second
	writeTimeout      = 5 * time.Second
)

// Controller executes the commands that clients send over the socket. ctx
// bounds the command itself, not the lifetime of the call it starts.
type Controller interface {
	StartCall(ctx context.Context) error
	EndCall(ctx context.Context) error
}

// Command is a client-to-server message.
type Command struct {
	Type string `json:"type"`
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithController routes start_call/end_call commands to c. Without a
// controller, commands are answered with an error event.
func WithController(c Controller) HubOption {
	return func(h *Hub) { h.ctrl = c }
}

// WithOriginPatterns sets the accepted Origin host patterns. Same-origin
// requests are always accepted.
func WithOriginPatterns(patterns ...string) HubOption {
	return func(h *Hub) { h.origins = append([]string(nil), patterns...) }
}

// WithSendBuffer sets how many events may queue per client before the
// client is disconnected as too slow.
func WithSendBuffer(n int) HubOption {
	return func(h *Hub) {
		if n > 0 {
			h.sendBuffer = n
		}
	}
}

// WithPingInterval sets the keepalive ping period. Zero disables pings.
func WithPingInterval(d time.Duration) HubOption {
	return func(h *Hub) { h.pingEvery = d }
}

var _ Sink = (*Hub)(nil)
var _ http.Handler = (*Hub)(nil)

// Hub is a [Sink] that broadcasts events as JSON text messages to every
// connected WebSocket client. Publish never blocks: a client whose queue is
// full is dropped.
type Hub struct {
	ctrl       Controller
	origins    []string
	sendBuffer int
	pingEvery  time.Duration

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) drop(code websocket.StatusCode, reason string) {
	c.once.Do(func() {
		close(c.send)
		_ = c.conn.Close(code, reason)
	})
}

// NewHub returns an empty Hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		sendBuffer: defaultSendBuffer,
		pingEvery:  defaultPingEvery,
		clients:    make(map[*client]struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish implements [Sink].
func (h *Hub) Publish(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Warn("events: marshal event", "type", e.Type, "err", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			delete(h.clients, c)
			go c.drop(websocket.StatusPolicyViolation, "client too slow")
		}
	}
}

// Close disconnects every client and rejects new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	cs := h.clients
	h.clients = make(map[*client]struct{})
	h.closed = true
	h.mu.Unlock()
	for c := range cs {
		c.drop(websocket.StatusGoingAway, "server shutting down")
	}
	return nil
}

// ServeHTTP upgrades the request and serves the client until it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.Debug("events: websocket accept failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, h.sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	slog.Debug("events: client connected", "remote", r.RemoteAddr)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)

	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.drop(websocket.StatusNormalClosure, "")
	slog.Debug("events: client disconnected", "remote", r.RemoteAddr)
}

func (h *Hub) writeLoop(ctx context.Context, c *client) {
	var ping <-chan time.Time
	if h.pingEvery > 0 {
		t := time.NewTicker(h.pingEvery)
		defer t.Stop()
		ping = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		case <-ping:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageText {
			continue
		}
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			h.reply(c, Event{Type: TypeError, Reason: "malformed command", Timestamp: time.Now()})
			continue
		}
		if err := h.dispatch(ctx, cmd); err != nil {
			h.reply(c, Event{Type: TypeError, Reason: err.Error(), Timestamp: time.Now()})
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, cmd Command) error {
	if h.ctrl == nil {
		return errors.New("commands are not accepted")
	}
	switch cmd.Type {
	case CommandStartCall:
		return h.ctrl.StartCall(ctx)
	case CommandEndCall:
		return h.ctrl.EndCall(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd.Type)
	}
}

// reply queues an event for a single client.
func (h *Hub) reply(c *client, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// =============================================================================
// relay.go - Websocket Event Relay
// =============================================================================
//
// With --relay, every event the console dispatches is also encoded as JSON
// and pushed to websocket clients connected at /events:
//
//	{"content_type":"text/event-plain","headers":{"Event-Name":"HEARTBEAT",...},"body":""}
//
// Each websocket client gets its own buffered send channel drained by a
// write pump goroutine. A client that cannot keep up is disconnected rather
// than slowing the dispatcher down.
//
// =============================================================================

package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hnimminh/redfs/eslprotocol"
)

const (
	relayPath = "/events"

	relaySendBuffer = 256

	relayWriteTimeout = 5 * time.Second
)

// relayMessage is the JSON form of one event.
type relayMessage struct {
	ContentType string            `json:"content_type"`
	Name        string            `json:"name,omitempty"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body,omitempty"`
}

type relayClient struct {
	conn  *websocket.Conn
	send  chan []byte
	relay *Relay
}

func (c *relayClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(relayWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.relay.removeClient(c)
			return
		}
	}
}

// Relay broadcasts events to websocket clients. It implements
// eslprotocol.Handler so it can be registered with a client directly.
type Relay struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*relayClient]struct{}

	server *http.Server
}

// NewRelay creates a relay with no listener. Use Listen to serve it, or
// mount Handler on an existing server.
func NewRelay(logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		logger:  logger.With("component", "relay"),
		clients: make(map[*relayClient]struct{}),
		upgrader: websocket.Upgrader{
			// Read-only feed for local tooling.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP handler serving the websocket endpoint.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(relayPath, r.handleWS)
	return mux
}

// Listen serves the relay on addr in the background and returns the bound
// address.
func (r *Relay) Listen(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	r.server = &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("relay server stopped", "err", err)
		}
	}()

	return ln.Addr().String(), nil
}

// Close stops the listener, if any, and disconnects every client.
func (r *Relay) Close() error {
	var err error
	if r.server != nil {
		err = r.server.Close()
	}

	r.mu.Lock()
	for c := range r.clients {
		delete(r.clients, c)
		close(c.send)
	}
	r.mu.Unlock()
	return err
}

func (r *Relay) handleWS(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("websocket upgrade failed", "remote", req.RemoteAddr, "err", err)
		return
	}

	c := &relayClient{
		conn:  conn,
		send:  make(chan []byte, relaySendBuffer),
		relay: r,
	}
	r.mu.Lock()
	r.clients[c] = struct{}{}
	r.mu.Unlock()
	go c.writePump()

	r.logger.Info("relay client connected", "remote", req.RemoteAddr)

	// Reads only detect the peer going away.
	go func() {
		defer func() {
			r.removeClient(c)
			r.logger.Info("relay client disconnected", "remote", req.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (r *Relay) removeClient(c *relayClient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; ok {
		delete(r.clients, c)
		close(c.send)
	}
}

// ClientCount returns the number of connected websocket clients.
func (r *Relay) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// HandleEvent encodes ev and queues it for every client.
func (r *Relay) HandleEvent(ev *eslprotocol.Event) error {
	data, err := json.Marshal(relayMessage{
		ContentType: ev.ContentType(),
		Name:        ev.Name(),
		Headers:     ev.Headers(),
		Body:        ev.BodyText(),
	})
	if err != nil {
		return err
	}

	r.mu.RLock()
	clients := make([]*relayClient, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.RUnlock()

	for _, c := range clients {
		r.deliver(c, data)
	}
	return nil
}

// deliver queues data for c, disconnecting it when its buffer is full.
func (r *Relay) deliver(c *relayClient, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
		r.logger.Warn("relay client too slow, disconnecting")
		delete(r.clients, c)
		close(c.send)
	}
}

// String names the relay in handler logs.
func (r *Relay) String() string {
	return "relay"
}

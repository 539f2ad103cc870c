// Package serve hosts the fernspielctl remote control: a WebSocket server
// that accepts phonebook uploads, synthetic dial input and resets, and
// broadcasts every evaluator event to all connected clients.
//
// The protocol is fernspielctl 0.2.0: text frames holding single YAML
// documents, negotiated through the WebSocket subprotocol token
// "fernspielctl". Binary frames and malformed documents close the offending
// connection; the server keeps running.
package serve

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/rs/xid"

	"github.com/fernspielapparat/fernspielapparat/internal/machine"
	"github.com/fernspielapparat/fernspielapparat/internal/observe"
)

// Subprotocol is the WebSocket subprotocol token of the remote control
// protocol. Connections that do not select it are refused.
const Subprotocol = "fernspielctl"

const (
	// requestQueueSize bounds unhandled requests before new frames block.
	requestQueueSize = 64

	// clientQueueSize bounds undelivered events per client. A client that
	// falls this far behind is disconnected.
	clientQueueSize = 64
)

// Server relays requests from remote clients to the evaluator and events
// back to every client. Mount [Server.Handler] on an HTTP mux and consume
// [Server.Requests] from the tick loop.
type Server struct {
	requests chan Request

	mu      sync.Mutex
	clients map[string]*client
	closed  bool
}

// client is one accepted fernspielctl connection.
type client struct {
	id     string
	conn   *websocket.Conn
	events chan []byte
	done   chan struct{}
	once   sync.Once
}

// New creates a server without any listeners; the HTTP server hosting
// [Server.Handler] is owned by the caller.
func New() *Server {
	return &Server{
		requests: make(chan Request, requestQueueSize),
		clients:  make(map[string]*client),
	}
}

// Requests returns the stream of decoded remote commands, consumed by the
// tick loop.
func (s *Server) Requests() <-chan Request {
	return s.requests
}

// Handler returns the WebSocket accept endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.accept)
}

// Publish delivers an evaluator event to every connected client, in
// emission order per client. A client whose queue is full is disconnected
// rather than allowed to stall the others.
func (s *Server) Publish(ev machine.Event) {
	frame, err := encodeEvent(ev)
	if err != nil {
		slog.Error("failed to encode event, not broadcasting", "err", err)
		return
	}

	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		select {
		case c.events <- frame:
		case <-c.done:
		default:
			slog.Warn("remote client too slow, disconnecting", "client", c.id)
			c.shutdown()
		}
	}
}

// Close disconnects every client orderly. The request channel stays open;
// pending requests may still be drained.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	clients := make([]*client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
	return nil
}

// accept upgrades an incoming connection, negotiates the subprotocol and
// runs the session until the client disconnects or misbehaves.
func (s *Server) accept(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
		// The editor webapp connects from another origin.
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Debug("rejected websocket connection", "remote", r.RemoteAddr, "err", err)
		return
	}
	if conn.Subprotocol() != Subprotocol {
		conn.Close(websocket.StatusPolicyViolation, "subprotocol "+Subprotocol+" is required")
		return
	}

	c := &client{
		id:     xid.New().String(),
		conn:   conn,
		events: make(chan []byte, clientQueueSize),
		done:   make(chan struct{}),
	}
	if !s.register(c) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer s.unregister(c)

	slog.Info("fernspielctl client connected", "client", c.id, "remote", r.RemoteAddr)
	metrics := observe.DefaultMetrics()
	metrics.RecordConnection(r.Context(), +1)
	defer metrics.RecordConnection(context.Background(), -1)

	go c.writeLoop()
	s.readLoop(c)
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c.id] = c
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c.id)
	s.mu.Unlock()
	c.shutdown()
}

// readLoop consumes frames until the client disconnects or sends something
// the protocol forbids. Ping frames are answered with matching pongs by the
// websocket library during Read.
func (s *Server) readLoop(c *client) {
	ctx := context.Background()
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				slog.Debug("fernspielctl client disconnected orderly", "client", c.id)
			} else if !errors.Is(err, context.Canceled) {
				slog.Debug("fernspielctl connection aborted", "client", c.id, "err", err)
			}
			return
		}
		if typ != websocket.MessageText {
			slog.Warn("closing connection after binary frame", "client", c.id)
			c.conn.Close(websocket.StatusUnsupportedData, "only text frames are supported")
			return
		}

		req, err := decodeRequest(data)
		if err != nil {
			// Parse failures close the offending connection orderly and
			// are never broadcast.
			slog.Warn("closing connection after invalid request", "client", c.id, "err", err)
			c.conn.Close(websocket.StatusPolicyViolation, "corrupt or unsupported message")
			return
		}
		s.requests <- req
	}
}

// writeLoop delivers queued event frames to the client.
func (c *client) writeLoop() {
	ctx := context.Background()
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.events:
			if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
				slog.Debug("failed to send event, dropping client", "client", c.id, "err", err)
				c.shutdown()
				return
			}
		}
	}
}

func (c *client) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close(websocket.StatusNormalClosure, "")
	})
}

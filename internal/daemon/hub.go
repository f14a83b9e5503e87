package daemon

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"praxis/internal/logging"
	"praxis/internal/processor"
)

// Time allowed to write a snapshot before the client counts as dead.
const hubWriteWait = 10 * time.Second

// Snapshots queued per client before a non-reading client is dropped.
const hubSendBuffer = 8

// statusHub pushes a fresh queue snapshot to every websocket subscriber
// whenever the queue mutates. Each client gets its own writer goroutine;
// Broadcast only enqueues, so a stalled subscriber can never block the
// processing loop.
type statusHub struct {
	logger   *slog.Logger
	snapshot func(ctx context.Context) (processor.Snapshot, error)
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*hubClient]struct{}
	closed  bool
}

// hubClient serializes all writes to one connection through its send
// channel; gorilla/websocket forbids concurrent writers on a Conn.
type hubClient struct {
	conn *websocket.Conn
	send chan processor.Snapshot

	once sync.Once
	done chan struct{}
}

func (c *hubClient) shutdown() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func newStatusHub(logger *slog.Logger, snapshot func(context.Context) (processor.Snapshot, error)) *statusHub {
	return &statusHub{
		logger:   logging.NewComponentLogger(logger, "status-hub"),
		snapshot: snapshot,
		upgrader: websocket.Upgrader{
			// The API binds to loopback by default and is token-gated when
			// exposed, so origin checks add nothing here.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients: make(map[*hubClient]struct{}),
	}
}

// ServeHTTP upgrades the connection, sends an initial snapshot, and keeps
// the client registered until it disconnects.
func (h *statusHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", logging.Error(err))
		return
	}

	client := &hubClient{
		conn: conn,
		send: make(chan processor.Snapshot, hubSendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[client] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", logging.Int("clients", total))

	if snap, err := h.snapshot(r.Context()); err == nil {
		client.send <- snap
	} else {
		h.logger.Debug("snapshot unavailable for websocket push", logging.Error(err))
	}

	go h.writeLoop(client)
	go h.readLoop(client)
}

// Broadcast enqueues the current snapshot for all connected clients.
// Clients whose send buffer is full are dropped rather than waited on.
func (h *statusHub) Broadcast() {
	h.mu.Lock()
	count := len(h.clients)
	h.mu.Unlock()
	if count == 0 {
		return
	}

	snap, err := h.snapshot(context.Background())
	if err != nil {
		h.logger.Debug("snapshot unavailable for websocket push", logging.Error(err))
		return
	}

	h.mu.Lock()
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()

	for _, client := range clients {
		select {
		case client.send <- snap:
		default:
			h.logger.Debug("dropping slow websocket client")
			h.drop(client)
		}
	}
}

// Close disconnects every client and rejects future registrations.
func (h *statusHub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*hubClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*hubClient]struct{})
	h.mu.Unlock()

	for _, client := range clients {
		client.shutdown()
	}
}

func (h *statusHub) writeLoop(client *hubClient) {
	defer h.drop(client)
	for {
		select {
		case <-client.done:
			return
		case snap := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
			if err := client.conn.WriteJSON(snap); err != nil {
				h.logger.Debug("websocket write failed", logging.Error(err))
				return
			}
		}
	}
}

func (h *statusHub) readLoop(client *hubClient) {
	defer h.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *statusHub) drop(client *hubClient) {
	h.mu.Lock()
	delete(h.clients, client)
	h.mu.Unlock()
	client.shutdown()
}

package internal

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// heartbeatInterval is how often the hub sweeps every connection for
// liveness, per spec component A.
const heartbeatInterval = 30 * time.Second

// Hub is the connection layer: it accepts WebSocket upgrades, tracks every
// live connection for the heartbeat sweep, and delegates decoded frames
// and disconnects to the caller-supplied callbacks. It knows nothing about
// rooms or the protocol — that's the dispatcher's job.
type Hub struct {
	logger   *slog.Logger
	upgrader websocket.Upgrader

	onMessage    func(*Connection, []byte)
	onDisconnect func(*Connection)

	mu          sync.Mutex
	connections map[*Connection]struct{}

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewHub creates a Hub. onMessage is invoked for every frame that passes
// rate limiting, in arrival order per connection. onDisconnect is invoked
// exactly once per connection when it closes, for any reason.
func NewHub(onMessage func(*Connection, []byte), onDisconnect func(*Connection), logger *slog.Logger) *Hub {
	h := &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		onMessage:    onMessage,
		onDisconnect: onDisconnect,
		connections:  make(map[*Connection]struct{}),
		stopCh:       make(chan struct{}),
	}

	h.wg.Add(1)
	go h.heartbeatLoop()

	return h
}

// ServeWS upgrades the request and spins up the read/write pumps for the
// new connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newConnection(ws, h.logger)

	h.mu.Lock()
	h.connections[c] = struct{}{}
	h.mu.Unlock()

	go c.writePump()
	go c.readPump(h.onMessage, func(conn *Connection) {
		h.unregister(conn)
		h.onDisconnect(conn)
	})
}

func (h *Hub) unregister(c *Connection) {
	h.mu.Lock()
	delete(h.connections, c)
	h.mu.Unlock()
}

// heartbeatLoop runs the periodic liveness sweep until Stop is called.
func (h *Hub) heartbeatLoop() {
	defer h.wg.Done()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.sweep()
		case <-h.stopCh:
			return
		}
	}
}

// sweep marks every connection "not alive" and pings it, except a
// connection that was already "not alive" from the previous sweep — that
// one never answered the last ping and is forcibly closed instead.
func (h *Hub) sweep() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if !c.alive.Swap(false) {
			c.Close()
			continue
		}
		if err := c.ping(); err != nil {
			c.Close()
		}
	}
}

// Stop halts the heartbeat sweep and closes every tracked connection.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()

	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.connections))
	for c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}

	h.logger.Info("connection layer stopped")
}

// ConnectionCount reports the number of live connections, for /stats.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.connections)
}

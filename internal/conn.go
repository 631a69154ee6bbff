package internal

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// maxFrameBytes caps a single inbound WebSocket frame.
const maxFrameBytes = 64 * 1024

// sendQueueSize bounds each connection's outbound buffer; a consumer that
// can't keep up gets disconnected instead of backpressuring the room.
const sendQueueSize = 256

// writeWait bounds a single outbound write or ping.
const writeWait = 10 * time.Second

// Role is which protocol role, if any, a connection has claimed.
type Role int

const (
	RoleNone Role = iota
	RoleHost
	RolePlayer
)

// Connection wraps one accepted WebSocket and the bookkeeping the
// dispatcher needs to route and authorize messages against it. A
// Connection starts unbound (RoleNone) and is bound to a room/session once
// create_room, join, reconnect_host, or restore_room succeeds.
type Connection struct {
	ws      *websocket.Conn
	send    chan []byte
	limiter *connLimiter
	alive   atomic.Bool
	logger  *slog.Logger

	closeOnce sync.Once

	mu            sync.Mutex
	roomCode      string
	sessionID     string
	role          Role
	createdRoom   bool // true once this connection has created a room
	lastRestoreAt time.Time
}

func newConnection(ws *websocket.Conn, logger *slog.Logger) *Connection {
	c := &Connection{
		ws:      ws,
		send:    make(chan []byte, sendQueueSize),
		limiter: newConnLimiter(),
		logger:  logger,
	}
	c.alive.Store(true)
	return c
}

// Bind records the room/session/role a connection has authenticated as.
func (c *Connection) Bind(roomCode, sessionID string, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomCode = roomCode
	c.sessionID = sessionID
	c.role = role
}

// Binding returns the connection's current room/session/role.
func (c *Connection) Binding() (roomCode, sessionID string, role Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomCode, c.sessionID, c.role
}

func (c *Connection) markCreatedRoom() {
	c.mu.Lock()
	c.createdRoom = true
	c.mu.Unlock()
}

func (c *Connection) hasCreatedRoom() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.createdRoom
}

// checkRestoreRate enforces RESTORE_MIN_INTERVAL per connection, updating
// the last-attempt timestamp as a side effect when it allows the attempt.
func (c *Connection) checkRestoreRate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if !c.lastRestoreAt.IsZero() && now.Sub(c.lastRestoreAt) < restoreMinInterval {
		return false
	}
	c.lastRestoreAt = now
	return true
}

// SendJSON marshals v and enqueues it for delivery. A full send queue means
// a stalled consumer; the connection is closed rather than letting it
// backpressure the room it's in.
func (c *Connection) SendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("marshal outbound frame failed", "error", err)
		return
	}

	select {
	case c.send <- data:
	default:
		c.logger.Warn("send queue full, closing connection")
		c.Close()
	}
}

// SendError surfaces a recoverable protocol error to this connection only.
func (c *Connection) SendError(kind ErrorKind) {
	c.SendJSON(map[string]any{"type": "error", "message": kind.Message()})
}

// Close is idempotent: it closes the send queue, which lets writePump
// drain it and shut down the socket. It does not notify the hub or
// dispatcher itself; that happens once, when readPump exits after the
// socket is gone.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// readPump decodes frames in arrival order and hands each to onMessage,
// enforcing the per-connection rate limit first. onDisconnect runs exactly
// once when the loop exits, however it exits.
func (c *Connection) readPump(onMessage func(*Connection, []byte), onDisconnect func(*Connection)) {
	defer func() {
		onDisconnect(c)
		c.Close()
	}()

	c.ws.SetReadLimit(maxFrameBytes)
	c.ws.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		messageType, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		ok, breach, forceClose := c.limiter.Allow()
		if forceClose {
			c.SendError(ErrKindRateLimited)
			return
		}
		if breach {
			c.SendError(ErrKindRateLimited)
			continue
		}
		if !ok {
			continue
		}

		onMessage(c, payload)
	}
}

// writePump owns the socket's data writes: it writes queued messages and,
// once the queue is closed, a final close frame. Heartbeat pings are sent
// separately by ping as control frames.
func (c *Connection) writePump() {
	defer func() {
		_ = c.ws.Close()
	}()

	for msg := range c.send {
		if err := c.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return
		}
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}

	deadline := time.Now().Add(time.Second)
	if err := c.ws.SetWriteDeadline(deadline); err == nil {
		_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}

// ping sends a low-level ping control frame, used by the heartbeat sweep.
// WriteControl is safe to call concurrently with writePump's writes.
func (c *Connection) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

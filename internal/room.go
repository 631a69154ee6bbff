package internal

import (
	"log/slog"
	"sync"
	"time"
)

// MaxPlayersPerRoom bounds Room.Players at all times (invariant 5).
const MaxPlayersPerRoom = 240

// RoomMaxAge is the absolute lifetime of a room from creation/restoration.
const RoomMaxAge = 2 * time.Hour

// HostDisconnectGrace is how long a room survives after its host channel
// closes before the room is terminated for lack of a reconnect.
const HostDisconnectGrace = 5 * time.Minute

// Player is one participant's server-side record. Score is authoritative
// on the host; the room only mirrors it so a reconnecting player can be
// told their current total.
type Player struct {
	SessionID   string
	Name        string
	Score       float64
	JoinedAt    time.Time
	IsConnected bool

	conn *Connection
}

// Room is the runtime container for one quiz session. All mutation of a
// given Room is serialized behind mu — handlers never observe a partially
// applied operation on the same room, though independent rooms may be
// mutated concurrently.
type Room struct {
	Code          string
	HostSessionID string
	CreatedAt     time.Time

	// QuestionStartTime is the zero Time when no question is active.
	// Invariant 7: only the server ever writes this field.
	QuestionStartTime    time.Time
	CurrentQuestionIndex int

	Players map[string]*Player

	mu sync.RWMutex

	hostConn *Connection

	expiryTimer         *time.Timer
	hostDisconnectTimer *time.Timer

	registry *Registry
	logger   *slog.Logger
}

// newRoom constructs a Room with its expiry timer armed. registry is kept
// so timer callbacks can perform the structural-identity-guarded removal
// described in the design notes.
func newRoom(code, hostSessionID string, registry *Registry, logger *slog.Logger) *Room {
	r := &Room{
		Code:          code,
		HostSessionID: hostSessionID,
		CreatedAt:     time.Now(),
		Players:       make(map[string]*Player),
		registry:      registry,
		logger:        logger,
	}
	r.armExpiry()
	return r
}

func (r *Room) armExpiry() {
	r.expiryTimer = time.AfterFunc(RoomMaxAge, func() { r.onExpire() })
}

func (r *Room) onExpire() {
	r.logger.Info("room expired", "room_code", r.Code)
	r.terminateIfCurrent("expired")
}

// terminateIfCurrent broadcasts quiz_terminated and removes the room from
// the registry, but only if the registry still maps r.Code to this exact
// Room instance — guarding against the rare case where the code was
// recycled into a new room between the timer firing and this running.
func (r *Room) terminateIfCurrent(reason string) {
	if current, ok := r.registry.Get(r.Code); !ok || current != r {
		return
	}

	r.mu.Lock()
	if r.expiryTimer != nil {
		r.expiryTimer.Stop()
	}
	if r.hostDisconnectTimer != nil {
		r.hostDisconnectTimer.Stop()
	}
	conns := r.allConnsLocked()
	r.mu.Unlock()

	for _, c := range conns {
		c.SendJSON(map[string]any{"type": "quiz_terminated"})
	}

	r.registry.Delete(r.Code, r)
	r.logger.Info("room removed", "room_code", r.Code, "reason", reason)
}

// allConnsLocked collects the host and every connected player's connection.
// Caller must hold r.mu.
func (r *Room) allConnsLocked() []*Connection {
	conns := make([]*Connection, 0, len(r.Players)+1)
	if r.hostConn != nil {
		conns = append(conns, r.hostConn)
	}
	for _, p := range r.Players {
		if p.conn != nil {
			conns = append(conns, p.conn)
		}
	}
	return conns
}

// AttachHost binds conn as this room's host channel and cancels any armed
// host-disconnect grace timer.
func (r *Room) AttachHost(conn *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hostConn = conn
	if r.hostDisconnectTimer != nil {
		r.hostDisconnectTimer.Stop()
		r.hostDisconnectTimer = nil
	}
}

// DetachHost clears the host channel and arms the disconnect grace timer.
// Invariant 5: hostDisconnectTimer is active iff hostChannel is absent and
// the room has not been terminated — callers only reach here from an
// active room, and the timer is cancelled by AttachHost or terminate.
func (r *Room) DetachHost() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.hostConn = nil
	if r.hostDisconnectTimer != nil {
		r.hostDisconnectTimer.Stop()
	}
	r.hostDisconnectTimer = time.AfterFunc(HostDisconnectGrace, func() { r.onHostDisconnectTimeout() })
}

func (r *Room) onHostDisconnectTimeout() {
	r.mu.RLock()
	stillAbsent := r.hostConn == nil
	r.mu.RUnlock()

	if !stillAbsent {
		return
	}

	r.logger.Info("host grace period expired", "room_code", r.Code)
	r.terminateIfCurrent("host_disconnect_timeout")
}

// HasHost reports whether a host channel is currently attached.
func (r *Room) HasHost() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostConn != nil
}

// PlayerCount returns the number of players ever recorded in the room
// (connected or not).
func (r *Room) PlayerCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.Players)
}

// FindPlayer returns a shallow copy of the player record, if any.
func (r *Room) FindPlayer(sessionID string) (Player, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.Players[sessionID]
	if !ok {
		return Player{}, false
	}
	return *p, true
}

// AddNewPlayer creates a fresh player bound to conn, enforcing the
// MaxPlayersPerRoom capacity invariant. Returns the player count after the
// add on success.
func (r *Room) AddNewPlayer(sessionID, name string, conn *Connection) (Player, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Players) >= MaxPlayersPerRoom {
		return Player{}, 0, errRoomNotJoinable
	}

	p := &Player{
		SessionID:   sessionID,
		Name:        name,
		Score:       0,
		JoinedAt:    time.Now(),
		IsConnected: true,
		conn:        conn,
	}
	r.Players[sessionID] = p
	return *p, len(r.Players), nil
}

// RebindPlayer reattaches conn to an existing player (reconnect-by-id) and
// marks it connected. Returns the player count after the rebind.
func (r *Room) RebindPlayer(sessionID string, conn *Connection) (Player, int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.Players[sessionID]
	if !ok {
		return Player{}, 0, false
	}
	p.conn = conn
	p.IsConnected = true
	return *p, len(r.Players), true
}

// DetachPlayer marks a player disconnected without removing it — players
// are never removed from a live room, per the lifecycle invariant.
func (r *Room) DetachPlayer(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.Players[sessionID]
	if !ok || p.conn == nil {
		return
	}
	p.conn = nil
	p.IsConnected = false
}

// RestorePlayer seeds a disconnected player from a host-supplied snapshot
// during restore_room. Unlike AddNewPlayer there is no live connection yet
// — the player must rejoin with its original sessionID to reattach one.
func (r *Room) RestorePlayer(sessionID, name string, score float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.Players) >= MaxPlayersPerRoom {
		return
	}
	r.Players[sessionID] = &Player{
		SessionID:   sessionID,
		Name:        name,
		Score:       score,
		JoinedAt:    time.Now(),
		IsConnected: false,
	}
}

// Snapshot returns the host-facing player list used on reconnect/restore
// responses, in map-iteration order.
func (r *Room) Snapshot() []map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]map[string]any, 0, len(r.Players))
	for _, p := range r.Players {
		out = append(out, map[string]any{
			"sessionId":   p.SessionID,
			"name":        p.Name,
			"score":       p.Score,
			"isConnected": p.IsConnected,
		})
	}
	return out
}

// StartQuestion records the server-authoritative question start time and
// index, then returns the set of connected player connections to
// broadcast to. Invariant 7 lives here: startTime is always time.Now(),
// never client-influenced.
func (r *Room) StartQuestion(index int) (startTime time.Time, conns []*Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	startTime = time.Now()
	r.QuestionStartTime = startTime
	r.CurrentQuestionIndex = index

	for _, p := range r.Players {
		if p.conn != nil {
			conns = append(conns, p.conn)
		}
	}
	return startTime, conns
}

// ElapsedSinceQuestionStart computes the server-side elapsed time for an
// answer submission. ok is false if no question is currently active.
func (r *Room) ElapsedSinceQuestionStart() (elapsed time.Duration, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.QuestionStartTime.IsZero() {
		return 0, false
	}
	return time.Since(r.QuestionStartTime), true
}

// ApplyScores updates player.Score for every valid, existing entry in
// scores and returns the current question index plus a snapshot of every
// player (so the caller can build personalized result frames against a
// single consistent view).
func (r *Room) ApplyScores(scores map[string]float64) (questionIndex int, players []Player) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for sessionID, score := range scores {
		p, ok := r.Players[sessionID]
		if !ok {
			continue
		}
		if v, valid := sanitizeScore(score); valid {
			p.Score = v
		}
	}

	players = make([]Player, 0, len(r.Players))
	for _, p := range r.Players {
		players = append(players, *p)
	}
	return r.CurrentQuestionIndex, players
}

// HostConn returns the currently attached host connection, or nil.
func (r *Room) HostConn() *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostConn
}

// PlayerConn returns the currently attached connection for a player, or
// nil if the player doesn't exist or isn't connected.
func (r *Room) PlayerConn(sessionID string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.Players[sessionID]
	if !ok {
		return nil
	}
	return p.conn
}

// Terminate ends the room immediately (host-initiated).
func (r *Room) Terminate(reason string) {
	r.terminateIfCurrent(reason)
}

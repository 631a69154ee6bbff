package internal

import (
	"encoding/json"
	"time"
)

// restoreMinInterval bounds how often a single connection may attempt
// restore_room, independent of the general per-connection rate limit.
const restoreMinInterval = 5 * time.Second

// defaultQuestionDuration is used when start_question omits duration or
// supplies something unparsable.
const defaultQuestionDuration = 30

// maxQuestionDuration is the upper bound (seconds) on a valid duration;
// anything outside (0, maxQuestionDuration] falls back to the default.
const maxQuestionDuration = 80

const (
	maxQuestionLen  = 4000
	maxOptionsCount = 20
	maxOptionLen    = 500
	maxAnswerLen    = 20
)

type reconnectHostMsg struct {
	RoomCode  string `json:"roomId"`
	SessionID string `json:"sessionId"`
}

type restoreRoomMsg struct {
	RoomCode  string                `json:"roomId"`
	SessionID string                `json:"sessionId"`
	Players   []leaderboardEntryMsg `json:"players"`
}

type leaderboardEntryMsg struct {
	SessionID string  `json:"sessionId"`
	Name      string  `json:"name"`
	Score     float64 `json:"score"`
}

type joinMsg struct {
	RoomCode  string `json:"roomCode"`
	SessionID string `json:"sessionId"`
	Name      string `json:"playerName"`
}

type submitAnswerMsg struct {
	SessionID  string          `json:"sessionId"`
	AnswerData json.RawMessage `json:"answerData"`
	AnswerTime json.RawMessage `json:"answerTime"`
}

type startQuestionMsg struct {
	Index    int             `json:"index"`
	Total    int             `json:"total"`
	Question json.RawMessage `json:"question"`
	Options  json.RawMessage `json:"options"`
	Duration json.RawMessage `json:"duration"`
}

type sendResultsMsg struct {
	Correct      json.RawMessage       `json:"correct"`
	IsFinal      bool                  `json:"isFinal"`
	PlayerScores map[string]float64    `json:"playerScores"`
	Leaderboard  []leaderboardEntryMsg `json:"leaderboard"`
}

// handleCreateRoom mints a fresh room code and binds the caller as host.
// A connection may only ever create one room; a second attempt on the same
// connection is rejected rather than silently minting a second room for it.
func (d *Dispatcher) handleCreateRoom(c *Connection) {
	if c.hasCreatedRoom() {
		c.SendError(ErrKindAlreadyHostingRoom)
		return
	}

	sessionID := generateSessionID()
	room, err := d.registry.CreateRoom(sessionID)
	if err != nil {
		d.logger.Error("create_room failed", "error", err)
		c.SendError(ErrKindRoomNotActive)
		return
	}

	room.AttachHost(c)
	c.Bind(room.Code, sessionID, RoleHost)
	c.markCreatedRoom()

	c.SendJSON(map[string]any{
		"type":      "room_created",
		"roomId":    room.Code,
		"sessionId": sessionID,
	})
}

// handleReconnectHost reattaches a host connection to an existing room by
// roomId+sessionId, cancelling any armed disconnect-grace timer. If the
// room is unknown, the host is told to send restore_room instead.
func (d *Dispatcher) handleReconnectHost(c *Connection, msg reconnectHostMsg) {
	roomCode := sanitizeRoomCode(msg.RoomCode)
	sessionID := sanitizeSessionID(msg.SessionID)
	if roomCode == "" || sessionID == "" {
		c.SendError(ErrKindInvalidSession)
		return
	}

	room, ok := d.registry.Get(roomCode)
	if !ok {
		c.SendJSON(map[string]any{
			"type":      "room_not_found_try_restore",
			"roomId":    roomCode,
			"sessionId": sessionID,
		})
		return
	}
	if room.HostSessionID != sessionID {
		c.SendError(ErrKindInvalidSession)
		return
	}

	room.AttachHost(c)
	c.Bind(room.Code, sessionID, RoleHost)
	c.markCreatedRoom()

	sendHostReconnected(c, room, false)
}

// handleRestoreRoom lets a host re-establish a room from a client-side
// snapshot after the server lost all memory of it (e.g. a restart). If the
// requested roomId is free it's reused verbatim; if taken by an unrelated
// room a fresh code is minted instead. Rate-limited per connection on top
// of the general frame limiter, since a snapshot restore is comparatively
// expensive to apply.
func (d *Dispatcher) handleRestoreRoom(c *Connection, msg restoreRoomMsg) {
	if !c.checkRestoreRate() {
		c.SendError(ErrKindRestoreRateLimit)
		return
	}

	roomCode := sanitizeRoomCode(msg.RoomCode)
	sessionID := sanitizeSessionID(msg.SessionID)
	if sessionID == "" {
		sessionID = generateSessionID()
	}

	if roomCode != "" {
		if existing, ok := d.registry.Get(roomCode); ok {
			if existing.HostSessionID == sessionID {
				existing.AttachHost(c)
				c.Bind(existing.Code, sessionID, RoleHost)
				c.markCreatedRoom()
				sendHostReconnected(c, existing, true)
				return
			}
		}
	}

	var room *Room
	var err error
	if roomCode != "" {
		room, err = d.registry.CreateRoomWithCode(roomCode, sessionID)
	} else {
		room, err = d.registry.CreateRoom(sessionID)
	}
	if err != nil {
		d.logger.Error("restore_room failed", "error", err)
		c.SendError(ErrKindRoomNotActive)
		return
	}

	for _, p := range sanitizeLeaderboard(msg.Players) {
		room.RestorePlayer(p["sessionId"].(string), p["name"].(string), p["score"].(float64))
	}

	room.AttachHost(c)
	c.Bind(room.Code, sessionID, RoleHost)
	c.markCreatedRoom()

	sendHostReconnected(c, room, true)
}

// sendHostReconnected emits the host_reconnected frame shared by
// reconnect_host and restore_room; only isRestored distinguishes the two.
func sendHostReconnected(c *Connection, room *Room, isRestored bool) {
	c.SendJSON(map[string]any{
		"type":       "host_reconnected",
		"roomId":     room.Code,
		"players":    room.Snapshot(),
		"isRestored": isRestored,
	})
}

// handleJoin admits a player into a room, either as a brand new
// participant or by rebinding an existing sessionId to a fresh connection.
func (d *Dispatcher) handleJoin(c *Connection, msg joinMsg) {
	roomCode := sanitizeRoomCode(msg.RoomCode)
	if roomCode == "" {
		c.SendError(ErrKindRoomNotFound)
		return
	}

	room, ok := d.registry.Get(roomCode)
	if !ok {
		c.SendError(ErrKindRoomNotFound)
		return
	}
	if !room.HasHost() {
		c.SendError(ErrKindRoomNotActive)
		return
	}

	name := sanitizeName(msg.Name)

	if sessionID := sanitizeSessionID(msg.SessionID); sessionID != "" {
		if p, count, rebound := room.RebindPlayer(sessionID, c); rebound {
			c.Bind(room.Code, sessionID, RolePlayer)
			c.SendJSON(map[string]any{
				"type":        "joined",
				"sessionId":   sessionID,
				"score":       p.Score,
				"playerName":  p.Name,
				"isReconnect": true,
			})
			if host := room.HostConn(); host != nil {
				host.SendJSON(map[string]any{
					"type":        "player_reconnected",
					"sessionId":   sessionID,
					"name":        p.Name,
					"score":       p.Score,
					"playerCount": count,
				})
			}
			return
		}
	}

	sessionID := generateSessionID()
	p, count, err := room.AddNewPlayer(sessionID, name, c)
	if err != nil {
		c.SendError(ErrKindRoomFull)
		return
	}
	c.Bind(room.Code, sessionID, RolePlayer)

	c.SendJSON(map[string]any{
		"type":        "joined",
		"sessionId":   sessionID,
		"score":       p.Score,
		"playerName":  p.Name,
		"isReconnect": false,
	})

	if host := room.HostConn(); host != nil {
		host.SendJSON(map[string]any{
			"type":        "player_joined",
			"sessionId":   sessionID,
			"name":        p.Name,
			"playerCount": count,
		})
	}
}

// handleSubmitAnswer relays a player's answer to the host, attaching the
// server-computed elapsed time so the host never has to trust a client
// timestamp. A connection bound to a room that has no record of its player
// gets PlayerNotFound. Silently dropped if the connection isn't bound as a
// player, if its room no longer exists, if no question is currently open,
// or if answerData is not an integer array of at most maxAnswerLen entries.
func (d *Dispatcher) handleSubmitAnswer(c *Connection, msg submitAnswerMsg) {
	roomCode, sessionID, role := c.Binding()
	if role != RolePlayer {
		return
	}

	room, ok := d.registry.Get(roomCode)
	if !ok {
		return
	}
	player, ok := room.FindPlayer(sessionID)
	if !ok {
		c.SendError(ErrKindPlayerNotFound)
		return
	}

	elapsed, active := room.ElapsedSinceQuestionStart()
	if !active {
		return
	}

	var answer []int
	if err := json.Unmarshal(msg.AnswerData, &answer); err != nil {
		return
	}
	if len(answer) > maxAnswerLen {
		return
	}

	host := room.HostConn()
	if host == nil {
		return
	}

	host.SendJSON(map[string]any{
		"type":       "player_answered",
		"sessionId":  sessionID,
		"name":       player.Name,
		"answerData": json.RawMessage(msg.AnswerData),
		"answerTime": time.Now().UnixMilli(),
		"elapsedMs":  elapsed.Milliseconds(),
	})
}

// handleStartQuestion broadcasts a new question to every connected player,
// stamping the server-authoritative start time. question/options are
// forwarded opaquely (the relay doesn't interpret quiz content); duration
// is clamped to a sane range and defaulted if missing or malformed.
func (d *Dispatcher) handleStartQuestion(room *Room, msg startQuestionMsg) {
	if len(msg.Question) > maxQuestionLen {
		return
	}

	duration := clampDuration(msg.Duration)
	startTime, conns := room.StartQuestion(msg.Index)

	frame := map[string]any{
		"type":      "question",
		"index":     msg.Index,
		"total":     msg.Total,
		"question":  json.RawMessage(msg.Question),
		"options":   json.RawMessage(msg.Options),
		"duration":  duration,
		"startTime": startTime.UnixMilli(),
	}
	for _, conn := range conns {
		conn.SendJSON(frame)
	}
}

// clampDuration parses an optional duration field (seconds), falling back
// to defaultQuestionDuration when absent, unparsable, or out of range.
func clampDuration(raw json.RawMessage) int {
	if len(raw) == 0 {
		return defaultQuestionDuration
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return defaultQuestionDuration
	}
	if v <= 0 || v > maxQuestionDuration {
		return defaultQuestionDuration
	}
	return v
}

// handleSendResults applies the host's authoritative score update to every
// named player and pushes each connected player a personalized result frame
// carrying the correct answer, finality, leaderboard, and their own updated
// score. Players without a live connection get no frame.
func (d *Dispatcher) handleSendResults(room *Room, msg sendResultsMsg) {
	questionIndex, players := room.ApplyScores(msg.PlayerScores)
	leaderboard := sanitizeNameScoreList(msg.Leaderboard)

	for _, p := range players {
		conn := room.PlayerConn(p.SessionID)
		if conn == nil {
			continue
		}
		conn.SendJSON(map[string]any{
			"type":          "result",
			"correct":       json.RawMessage(msg.Correct),
			"isFinal":       msg.IsFinal,
			"questionIndex": questionIndex,
			"leaderboard":   leaderboard,
			"playerScore":   p.Score,
		})
	}
}

// handleTerminate ends the room immediately at the host's request.
func (d *Dispatcher) handleTerminate(room *Room) {
	room.Terminate("host_requested")
}

// sanitizeLeaderboard trims and validates a client-supplied player list,
// dropping entries with no usable sessionId rather than failing the whole
// restore_room request.
func sanitizeLeaderboard(entries []leaderboardEntryMsg) []map[string]any {
	out := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		sid := sanitizeSessionID(e.SessionID)
		if sid == "" {
			continue
		}
		score, valid := sanitizeScore(e.Score)
		if !valid {
			score = 0
		}
		out = append(out, map[string]any{
			"sessionId": sid,
			"name":      sanitizeName(e.Name),
			"score":     score,
		})
	}
	return out
}

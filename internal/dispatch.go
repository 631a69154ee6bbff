package internal

import (
	"encoding/json"
	"log/slog"
)

// Dispatcher is component E: it decodes frames, authorizes host-only verbs,
// and routes to the handler methods in handlers.go. It never touches a
// Room directly beyond what the handlers need — Room state mutation stays
// in room.go.
type Dispatcher struct {
	registry *Registry
	logger   *slog.Logger
}

// NewDispatcher builds a Dispatcher bound to the given room registry.
func NewDispatcher(registry *Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{registry: registry, logger: logger}
}

type frameEnvelope struct {
	Type string `json:"type"`
}

// Dispatch decodes one frame and routes it. A JSON parse failure or a
// missing type is the only case that reports MalformedFrame — every other
// validation failure either reports a more specific ErrorKind or drops
// the frame silently, per the verb's own policy.
func (d *Dispatcher) Dispatch(c *Connection, raw []byte) {
	var env frameEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		c.SendError(ErrKindMalformedFrame)
		return
	}

	switch env.Type {
	case "create_room":
		d.handleCreateRoom(c)

	case "reconnect_host":
		var msg reconnectHostMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.SendError(ErrKindMalformedFrame)
			return
		}
		d.handleReconnectHost(c, msg)

	case "restore_room":
		var msg restoreRoomMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.SendError(ErrKindMalformedFrame)
			return
		}
		d.handleRestoreRoom(c, msg)

	case "join":
		var msg joinMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.SendError(ErrKindMalformedFrame)
			return
		}
		d.handleJoin(c, msg)

	case "submit_answer":
		var msg submitAnswerMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		d.handleSubmitAnswer(c, msg)

	case "start_question":
		room, ok := d.authorizeHost(c)
		if !ok {
			return
		}
		var msg startQuestionMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		d.handleStartQuestion(room, msg)

	case "send_results":
		room, ok := d.authorizeHost(c)
		if !ok {
			return
		}
		var msg sendResultsMsg
		if err := json.Unmarshal(raw, &msg); err != nil {
			return
		}
		d.handleSendResults(room, msg)

	case "terminate":
		room, ok := d.authorizeHost(c)
		if !ok {
			return
		}
		d.handleTerminate(room)

	default:
		d.logger.Debug("unknown message type, ignoring", "type", env.Type)
	}
}

// authorizeHost reports whether c is bound as host of a registered room
// with that room's host session id. A mismatch here is never reported to the caller — an
// unauthorized probe gets silence, not a distinguishing error.
func (d *Dispatcher) authorizeHost(c *Connection) (*Room, bool) {
	roomCode, sessionID, role := c.Binding()
	if role != RoleHost {
		return nil, false
	}
	room, ok := d.registry.Get(roomCode)
	if !ok || room.HostSessionID != sessionID {
		return nil, false
	}
	return room, true
}

// HandleDisconnect is the hub's onDisconnect callback: it updates room
// state for whichever role the connection had claimed, if any.
func (d *Dispatcher) HandleDisconnect(c *Connection) {
	roomCode, sessionID, role := c.Binding()
	if role == RoleNone {
		return
	}

	room, ok := d.registry.Get(roomCode)
	if !ok {
		return
	}

	switch role {
	case RoleHost:
		if room.HostConn() == c {
			room.DetachHost()
			d.logger.Info("host disconnected, grace period armed", "room_code", roomCode)
		}
	case RolePlayer:
		if room.PlayerConn(sessionID) == c {
			room.DetachPlayer(sessionID)
			if host := room.HostConn(); host != nil {
				if p, ok := room.FindPlayer(sessionID); ok {
					host.SendJSON(map[string]any{
						"type":        "player_left",
						"sessionId":   sessionID,
						"name":        p.Name,
						"playerCount": room.PlayerCount(),
					})
				}
			}
		}
	}
}

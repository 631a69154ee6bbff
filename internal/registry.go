package internal

import (
	"log/slog"
	"sync"
)

// Registry is the process-wide roomCode -> Room map. Lookups, inserts, and
// removals are atomic with respect to each other; mutation of a Room's own
// state (players, timing) is the Room's own responsibility, not the
// registry's.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]*Room
	logger *slog.Logger
}

// NewRegistry creates an empty room registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		rooms:  make(map[string]*Room),
		logger: logger,
	}
}

// CreateRoom mints a fresh room code, retrying on collision, and inserts a
// new Room hosted by hostSessionID.
func (g *Registry) CreateRoom(hostSessionID string) (*Room, error) {
	for attempt := 0; attempt < maxRoomCodeGenerationAttempts; attempt++ {
		code, err := generateRoomCode()
		if err != nil {
			return nil, err
		}

		room := newRoom(code, hostSessionID, g, g.logger)
		if err := g.insert(code, room); err != nil {
			continue
		}
		return room, nil
	}
	return nil, errCodeExists
}

// CreateRoomWithCode inserts a new Room under a caller-chosen code,
// retrying with a freshly minted code if it collides. Used by restore_room
// when the requested roomId is already taken by an unrelated room.
func (g *Registry) CreateRoomWithCode(code, hostSessionID string) (*Room, error) {
	room := newRoom(code, hostSessionID, g, g.logger)
	if err := g.insert(code, room); err == nil {
		return room, nil
	}
	return g.CreateRoom(hostSessionID)
}

func (g *Registry) insert(code string, room *Room) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.rooms[code]; exists {
		return errCodeExists
	}
	g.rooms[code] = room
	return nil
}

// Get looks up a room by code.
func (g *Registry) Get(code string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.rooms[code]
	return room, ok
}

// Delete removes code from the registry, but only if it currently maps to
// exactly room — structural identity, not just code equality, guards
// against a timer racing a room that has already been replaced.
func (g *Registry) Delete(code string, room *Room) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	current, ok := g.rooms[code]
	if !ok || current != room {
		return false
	}
	delete(g.rooms, code)
	return true
}

// Rooms returns a snapshot slice of every currently registered room, for
// the /stats endpoint.
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		out = append(out, room)
	}
	return out
}

// Stats summarizes the registry for operator-facing /stats output.
func (g *Registry) Stats() map[string]any {
	rooms := g.Rooms()

	totalPlayers := 0
	connectedPlayers := 0
	for _, room := range rooms {
		room.mu.RLock()
		totalPlayers += len(room.Players)
		for _, p := range room.Players {
			if p.IsConnected {
				connectedPlayers++
			}
		}
		room.mu.RUnlock()
	}

	return map[string]any{
		"rooms":             len(rooms),
		"total_players":     totalPlayers,
		"connected_players": connectedPlayers,
	}
}

// Shutdown broadcasts quiz_terminated to every room's connections and
// empties the registry. Used by the lifecycle manager on graceful
// shutdown; unlike terminateIfCurrent this doesn't need the structural
// identity guard since the whole registry is being torn down at once.
func (g *Registry) Shutdown() {
	g.mu.Lock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, room := range g.rooms {
		rooms = append(rooms, room)
	}
	g.rooms = make(map[string]*Room)
	g.mu.Unlock()

	for _, room := range rooms {
		room.mu.Lock()
		if room.expiryTimer != nil {
			room.expiryTimer.Stop()
		}
		if room.hostDisconnectTimer != nil {
			room.hostDisconnectTimer.Stop()
		}
		conns := room.allConnsLocked()
		room.mu.Unlock()

		for _, c := range conns {
			c.SendJSON(map[string]any{"type": "quiz_terminated"})
		}
	}

	g.logger.Info("registry shut down", "rooms_terminated", len(rooms))
}

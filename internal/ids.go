package internal

import (
	"crypto/rand"
	"math/big"
	"strings"

	"github.com/google/uuid"
)

// roomCodeAlphabet is deliberately the full uppercase alphanumeric set, not
// an ambiguity-reduced subset — the spec fixes the code format at
// [A-Z0-9], so trimming characters would shrink the code space the birthday
// bound in the design notes already assumes.
const roomCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

const roomCodeLength = 4

// sessionIDPrefix lets the server (and clients) format-check a session id
// cheaply without a registry lookup.
const sessionIDPrefix = "sess-"

// maxRoomCodeGenerationAttempts bounds the registry-insert retry loop so a
// nearly-full code space degrades with an error instead of spinning.
const maxRoomCodeGenerationAttempts = 32

// generateRoomCode draws a uniform random 4-character code over the 36-
// character alphabet. Collision with the registry is the caller's concern.
func generateRoomCode() (string, error) {
	b := make([]byte, roomCodeLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(roomCodeAlphabet))))
		if err != nil {
			return "", err
		}
		b[i] = roomCodeAlphabet[n.Int64()]
	}
	return string(b), nil
}

// generateSessionID mints an opaque, prefixed, UUID-grade session token.
// Host tokens and player tokens share this scheme; role is tracked on the
// connection, not encoded in the token.
func generateSessionID() string {
	return sessionIDPrefix + uuid.NewString()
}

// isWellFormedSessionID reports whether s matches the server's mint format.
// It does not check whether the session actually exists anywhere — that is
// a registry/room lookup, not a format check.
func isWellFormedSessionID(s string) bool {
	if !strings.HasPrefix(s, sessionIDPrefix) {
		return false
	}
	suffix := strings.TrimPrefix(s, sessionIDPrefix)
	if _, err := uuid.Parse(suffix); err != nil {
		return false
	}
	return len(s) <= 64
}

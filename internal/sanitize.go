package internal

import (
	"math"
	"regexp"
	"strings"
)

// maxNameLength caps sanitized player names at 50 Unicode scalar values.
const maxNameLength = 50

// defaultPlayerName is used whenever sanitization leaves an empty name.
const defaultPlayerName = "Spieler"

// maxRoomCodeInputLength bounds the client-supplied room code before it is
// even looked up, so a pathological string can't be held onto as a map key
// probe indefinitely.
const maxRoomCodeInputLength = 32

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// sanitizeName trims, strips HTML tags and control characters (0x00–0x1F
// and 0x7F; 0x80–0x9F are kept), and
// caps the result at maxNameLength runes. An empty result falls back to
// defaultPlayerName.
func sanitizeName(raw string) string {
	s := strings.TrimSpace(raw)
	s = htmlTagPattern.ReplaceAllString(s, "")
	s = stripControlChars(s)
	s = strings.TrimSpace(s)

	if len(s) == 0 {
		return defaultPlayerName
	}

	runes := []rune(s)
	if len(runes) > maxNameLength {
		runes = runes[:maxNameLength]
	}

	result := string(runes)
	if result == "" {
		return defaultPlayerName
	}
	return result
}

func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if (r >= 0x00 && r <= 0x1F) || r == 0x7F {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// sanitizeScore reports whether v is an acceptable player score: a
// non-negative finite number. The returned value is v itself — there is
// nothing to clamp once it passes the check.
func sanitizeScore(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

// sanitizeRoomCode normalizes a client-supplied room code for lookup:
// uppercase, strip surrounding/interior spaces, bound the length.
func sanitizeRoomCode(raw string) string {
	s := strings.ToUpper(strings.ReplaceAll(raw, " ", ""))
	if len(s) > maxRoomCodeInputLength {
		s = s[:maxRoomCodeInputLength]
	}
	return s
}

// sanitizeSessionID returns the session id if it is well-formed, or "" —
// any deviation from the mint format is treated as absent per the spec.
func sanitizeSessionID(raw string) string {
	if isWellFormedSessionID(raw) {
		return raw
	}
	return ""
}

// nameScoreEntry is a sanitized {name, score} leaderboard row, as sent on
// the send_results leaderboard (unlike restore_room's player snapshot, it
// carries no sessionId).
type nameScoreEntry struct {
	Name  string  `json:"name"`
	Score float64 `json:"score"`
}

// sanitizeNameScoreList sanitizes a host-supplied leaderboard down to
// MaxPlayersPerRoom entries, each name/score-normalized.
func sanitizeNameScoreList(entries []leaderboardEntryMsg) []nameScoreEntry {
	if len(entries) > MaxPlayersPerRoom {
		entries = entries[:MaxPlayersPerRoom]
	}
	out := make([]nameScoreEntry, 0, len(entries))
	for _, e := range entries {
		score, valid := sanitizeScore(e.Score)
		if !valid {
			score = 0
		}
		out = append(out, nameScoreEntry{Name: sanitizeName(e.Name), Score: score})
	}
	return out
}

package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// DefaultNarrationTTL is the default lifetime of a cached narration clip
const DefaultNarrationTTL = 24 * time.Hour

// NarrationCacheEntry memoizes a generated narration asset.
// Entries are immutable once created - the content for a given key never
// changes; only AccessCount/LastAccessedAt mutate on read. Entries past
// ExpiresAt are logically absent and only the reaper deletes them.
type NarrationCacheEntry struct {
	ID         string `json:"id" badgerhold:"key"`
	UserID     string `json:"user_id" badgerholdIndex:"UserID"`
	StepID     string `json:"step_id"`
	ScriptHash string `json:"script_hash"`

	AudioURL      string  `json:"audio_url"`
	AudioDuration float64 `json:"audio_duration,omitempty"`

	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      time.Time  `json:"expires_at"`
	AccessCount    int        `json:"access_count"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`
}

// ScriptHash fingerprints the exact narration text plus voice identifier.
// The NUL separator keeps (script="ab", voice="c") distinct from
// (script="a", voice="bc").
func ScriptHash(script, voiceID string) string {
	h := sha256.New()
	h.Write([]byte(script))
	h.Write([]byte{0})
	h.Write([]byte(voiceID))
	return hex.EncodeToString(h.Sum(nil))
}

// NarrationCacheKey is the composite lookup key for an entry
func NarrationCacheKey(userID, stepID, scriptHash string) string {
	return userID + ":" + stepID + ":" + scriptHash
}

// IsExpired reports whether the entry is logically absent at the given time
func (e *NarrationCacheEntry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Touch records a cache read
func (e *NarrationCacheEntry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessedAt = &now
}

package common

import (
	"github.com/google/uuid"
)

// NewNarrationID generates a unique narration cache entry ID
// Format: nar_<uuid>
func NewNarrationID() string {
	return "nar_" + uuid.New().String()
}

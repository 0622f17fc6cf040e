package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Interaction is one answered question.
type Interaction struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Source    string    `json:"source"`
	Question  string    `json:"question"`
	Mode      string    `json:"mode"`
	Code      string    `json:"code,omitempty"`
	RawResult string    `json:"raw_result,omitempty"`
	Narrative string    `json:"narrative"`
	Failed    bool      `json:"failed"`
	ElapsedMS int64     `json:"elapsed_ms"`
}

// Classification is a cached enrichment result for one communication text.
type Classification struct {
	DenialCategory string
	Tone           string
}

// HashText returns the cache key used for per-text rows.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

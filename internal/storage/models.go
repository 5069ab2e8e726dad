package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Result is one persisted research payload. Rows are append-only and
// deliberately not deduplicated; two submissions for the same topic
// legitimately produce two rows.
type Result struct {
	ID          string    `json:"id"`
	Feature     string    `json:"feature"`
	Topic       string    `json:"topic"`
	ParamsJSON  string    `json:"params"`
	RequestKey  string    `json:"request_key,omitempty"`
	PayloadJSON string    `json:"payload"`
	CreatedAt   time.Time `json:"created_at"`
}

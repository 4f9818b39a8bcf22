package store

import (
	"errors"

	"blinkd/internal/domain"
)

// ErrNotFound is returned when no bearer token is persisted; absence
// means "logged out".
var ErrNotFound = errors.New("not found")

// Store is the persisted local state of the agent: the bearer token and
// the pending blink queue, both surviving restarts. The persisted queue
// is the authoritative mirror of in-memory state after every mutation,
// so SaveQueue always rewrites the whole sequence.
type Store interface {
	// LoadQueue returns the persisted queue in insertion order plus the
	// number of elements dropped because they could not be decoded.
	// Absent or corrupt state yields an empty queue, not an error.
	LoadQueue() ([]domain.BlinkRecord, int, error)
	SaveQueue([]domain.BlinkRecord) error

	LoadToken() (string, error)
	SaveToken(token string) error
	DeleteToken() error
}

package storage

import (
	"context"
	"fmt"
)

// Backend persists manager state. Implementations must make Save atomic:
// a crash mid-save leaves either the previous or the new state readable,
// never a torn document.
type Backend interface {
	// Load reads the persisted state, returning an empty state when
	// nothing has been persisted yet for the network.
	Load(ctx context.Context) (*State, error)

	// Save durably writes the full state.
	Save(ctx context.Context, state *State) error

	// Close releases any underlying resources.
	Close() error
}

// PersistenceError reports a failed store write. The in-memory state stays
// authoritative for the running process but will not survive a restart.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence %s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

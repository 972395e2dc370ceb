package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// FileBackend persists state as one JSON file per deployment network.
type FileBackend struct {
	path    string
	network string
}

// NewFileBackend creates a backend writing to dir/<network>.state.json.
func NewFileBackend(dir, network string) (*FileBackend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, &PersistenceError{Op: "init", Err: err}
	}
	return &FileBackend{
		path:    filepath.Join(dir, fmt.Sprintf("%s.state.json", network)),
		network: network,
	}, nil
}

// Path returns the backing file path.
func (b *FileBackend) Path() string {
	return b.path
}

// Load reads and decodes the state file. A missing file yields an empty
// state: first run on a fresh deployment.
func (b *FileBackend) Load(ctx context.Context) (*State, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		slog.Info("No persisted state found, starting empty",
			"path", b.path,
			"network", b.network,
		)
		return NewState(b.network), nil
	}
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}

	state, err := DecodeState(data)
	if err != nil {
		return nil, &PersistenceError{Op: "load", Err: err}
	}
	if state.Network == "" {
		state.Network = b.network
	}
	return state, nil
}

// Save writes the state through a temp file and rename so a crash cannot
// leave a torn document behind.
func (b *FileBackend) Save(ctx context.Context, state *State) error {
	data, err := EncodeState(state)
	if err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return &PersistenceError{Op: "save", Err: err}
	}
	return nil
}

// Close is a no-op for the file backend.
func (b *FileBackend) Close() error {
	return nil
}

// Package status holds the bridge's single sync status record, its
// check-and-set transitions and optional on-disk persistence.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"
)

//go:generate mockgen -destination=mocks/mock_persistence.go -package=mocks -source=persistence.go Persistence

const (
	// StatusFileName is the name of the status file
	StatusFileName = "status.json"

	// stateDirName is the application directory under the XDG state home
	stateDirName = "joplin-bridge"
)

// ErrLocked is returned when another bridge already owns the status file
var ErrLocked = errors.New("status file is locked by another process")

// Persistence stores the sync status outside the process
type Persistence interface {
	// Save replaces the stored status
	Save(ctx context.Context, status SyncStatus) error

	// Load returns the stored status, or the zero status if nothing was stored yet
	Load(ctx context.Context) (SyncStatus, error)
}

// DefaultStatusPath returns $XDG_STATE_HOME/joplin-bridge/status.json
func DefaultStatusPath() string {
	return filepath.Join(xdg.StateHome, stateDirName, StatusFileName)
}

// FilePersistence implements Persistence on a JSON file. The file is replaced
// atomically on every save, and an advisory lock next to it keeps a second
// bridge from sharing the same state.
type FilePersistence struct {
	path string
	lock *flock.Flock
}

// OpenFilePersistence creates the parent directory and takes the lock for path.
// Close releases it.
func OpenFilePersistence(path string) (*FilePersistence, error) {
	if path == "" {
		path = DefaultStatusPath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create status directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock status file: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	return &FilePersistence{path: path, lock: lock}, nil
}

// Path returns the status file location
func (f *FilePersistence) Path() string {
	return f.path
}

// Save writes the status to a temporary file and renames it into place.
func (f *FilePersistence) Save(_ context.Context, status SyncStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status data: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary status file: %w", err)
	}

	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename status file: %w", err)
	}

	return nil
}

// Load reads the status file. A missing file is the first run and yields the zero status.
func (f *FilePersistence) Load(_ context.Context) (SyncStatus, error) {
	// #nosec G304 -- path comes from configuration, not from requests
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return SyncStatus{}, nil
		}
		return SyncStatus{}, fmt.Errorf("failed to read status file: %w", err)
	}

	var status SyncStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return SyncStatus{}, fmt.Errorf("failed to unmarshal status data: %w", err)
	}
	return status, nil
}

// Close releases the lock
func (f *FilePersistence) Close() error {
	return f.lock.Unlock()
}

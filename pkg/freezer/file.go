package freezer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/atomic"

	"github.com/withregard/regard-go/pkg/event"
)

// FileStore keeps one JSON snapshot per key at <dir>/<organization>/<product>.json.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create freeze directory %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the snapshot file for key.
func (s *FileStore) Path(key event.Key) string {
	return filepath.Join(s.dir, key.Organization, key.Product+".json")
}

func (s *FileStore) Save(_ context.Context, key event.Key, events []event.Event) error {
	if err := key.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.Path(key)
	if len(events) == 0 {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove frozen events: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(snapshot{Version: snapshotVersion, Key: key, Events: events})
	if err != nil {
		return fmt.Errorf("failed to marshal frozen events: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create freeze directory: %w", err)
	}

	// atomic.WriteFile writes to a temporary file and renames it over path,
	// so a failure leaves the previous snapshot in place.
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write frozen events: %w", err)
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, key event.Key) ([]event.Event, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.Path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read frozen events: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, s.Path(key), err)
	}
	if snap.Version != snapshotVersion {
		return nil, false, fmt.Errorf("%w: %s: unsupported version %d", ErrCorrupt, s.Path(key), snap.Version)
	}
	return snap.Events, true, nil
}

// Package identity supplies the user and session identifiers attached to
// events.
package identity

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/natefinch/atomic"
)

// Provider hands out a persisted user ID and a per-process session ID.
//
// The user ID is read (or generated) lazily on first use and survives
// restarts until Forget is called. The session ID is generated once per
// Provider.
type Provider struct {
	path string

	mu        sync.Mutex
	userID    string
	sessionID string
}

// NewProvider persists the user ID at path. An empty path keeps the user ID
// in memory only.
func NewProvider(path string) *Provider {
	return &Provider{
		path:      path,
		sessionID: uuid.New().String(),
	}
}

func (p *Provider) SessionID() string {
	return p.sessionID
}

// UserID returns the persisted user ID, creating one if needed. If the ID
// cannot be saved, a fresh ID is still returned for this process.
func (p *Provider) UserID() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.userID != "" {
		return p.userID
	}

	if id, err := p.read(); err == nil && id != "" {
		p.userID = id
		return id
	}

	p.userID = uuid.New().String()
	if err := p.save(p.userID); err != nil {
		slog.Debug("Failed to persist user id, it will not survive restarts", "path", p.path, "error", err)
	}
	return p.userID
}

// Forget clears the user ID so the next UserID call generates a new one.
func (p *Provider) Forget() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.userID = ""
	if p.path == "" {
		return nil
	}
	if err := os.Remove(p.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove user id: %w", err)
	}
	return nil
}

func (p *Provider) read() (string, error) {
	if p.path == "" {
		return "", nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (p *Provider) save(id string) error {
	if p.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		return err
	}
	if err := atomic.WriteFile(p.path, bytes.NewReader([]byte(id))); err != nil {
		return err
	}
	return os.Chmod(p.path, 0o600)
}

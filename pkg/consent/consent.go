// Package consent implements the opt-in/opt-out state that decides whether
// events are recorded at all.
package consent

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-yaml"
	atomicfile "github.com/natefinch/atomic"
)

// State is the user's data collection consent.
type State int32

const (
	// Unset means the user has made no choice yet. It records nothing.
	Unset State = iota
	OptedIn
	OptedOut
)

func (s State) String() string {
	switch s {
	case OptedIn:
		return "opted-in"
	case OptedOut:
		return "opted-out"
	default:
		return "unset"
	}
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	switch string(text) {
	case "opted-in":
		*s = OptedIn
	case "opted-out":
		*s = OptedOut
	case "unset", "":
		*s = Unset
	default:
		return fmt.Errorf("unknown consent state %q", text)
	}
	return nil
}

type stateFile struct {
	State     string    `yaml:"state"`
	UpdatedAt time.Time `yaml:"updated_at"`
}

// Gate holds the consent state. Reads are a single atomic load so the
// recording path never contends with transitions.
//
// A Gate created with NewFileGate persists every transition so that a choice
// made once (including OptInByDefault) survives restarts.
type Gate struct {
	state atomic.Int32

	mu     sync.Mutex
	path   string
	logger *slog.Logger
}

// NewGate returns an in-memory gate in the Unset state.
func NewGate() *Gate {
	return &Gate{logger: slog.Default()}
}

// NewFileGate returns a gate backed by the file at path. A missing file means
// Unset.
func NewFileGate(path string) (*Gate, error) {
	g := &Gate{path: filepath.Clean(path), logger: slog.Default()}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// SetLogger replaces the logger used for persistence and watch failures.
func (g *Gate) SetLogger(logger *slog.Logger) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logger = logger
}

// Path returns the backing file, or "" for an in-memory gate.
func (g *Gate) Path() string {
	return g.path
}

func (g *Gate) State() State {
	return State(g.state.Load())
}

// ShouldRecord reports whether events may be recorded.
func (g *Gate) ShouldRecord() bool {
	return g.State() == OptedIn
}

// OptIn opts the user in. It reports whether the state changed.
func (g *Gate) OptIn() bool {
	return g.transition(func(State) (State, bool) { return OptedIn, true })
}

// OptOut opts the user out. It reports whether the state changed.
func (g *Gate) OptOut() bool {
	return g.transition(func(State) (State, bool) { return OptedOut, true })
}

// OptInByDefault opts the user in only if no choice has been made yet.
func (g *Gate) OptInByDefault() bool {
	return g.transition(func(cur State) (State, bool) {
		if cur != Unset {
			return cur, false
		}
		return OptedIn, true
	})
}

func (g *Gate) transition(next func(State) (State, bool)) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur := g.State()
	to, ok := next(cur)
	if !ok || to == cur {
		return false
	}
	g.state.Store(int32(to))

	if g.path != "" {
		if err := g.save(to); err != nil {
			g.logger.Warn("Failed to persist consent state", "path", g.path, "state", to, "error", err)
		}
	}
	return true
}

func (g *Gate) save(s State) error {
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(stateFile{State: s.String(), UpdatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal consent state: %w", err)
	}
	return atomicfile.WriteFile(g.path, bytes.NewReader(data))
}

// Reload re-reads the backing file. It is a no-op for in-memory gates.
func (g *Gate) Reload() error {
	if g.path == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	data, err := os.ReadFile(g.path)
	if errors.Is(err, os.ErrNotExist) {
		g.state.Store(int32(Unset))
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read consent file: %w", err)
	}

	var f stateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse consent file %s: %w", g.path, err)
	}
	var s State
	if err := s.UnmarshalText([]byte(f.State)); err != nil {
		return fmt.Errorf("failed to parse consent file %s: %w", g.path, err)
	}
	g.state.Store(int32(s))
	return nil
}

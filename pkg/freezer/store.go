// Package freezer stores snapshots of pending events so they survive process
// restarts.
//
// A snapshot is always written as a whole: readers see either the previous
// snapshot or the new one, never a mix. Saving an empty snapshot removes it.
package freezer

import (
	"context"
	"errors"

	"github.com/withregard/regard-go/pkg/event"
)

// ErrCorrupt is returned by Load when a snapshot exists but cannot be decoded.
var ErrCorrupt = errors.New("frozen snapshot is corrupt")

// Store is a durable snapshot store keyed by tracker identity.
type Store interface {
	// Save replaces the snapshot for key with events, in order.
	Save(ctx context.Context, key event.Key, events []event.Event) error
	// Load returns the snapshot for key. found is false when there is none.
	Load(ctx context.Context, key event.Key) (events []event.Event, found bool, err error)
}

// snapshot is the document FileStore writes.
type snapshot struct {
	Version int           `json:"version"`
	Key     event.Key     `json:"key"`
	Events  []event.Event `json:"events"`
}

const snapshotVersion = 1

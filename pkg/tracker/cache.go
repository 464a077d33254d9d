package tracker

import (
	"sync"
	"time"

	"github.com/withregard/regard-go/pkg/event"
)

type cached struct {
	event      event.Event
	recordedAt time.Time
}

// eventCache is the ordered in-memory buffer of events that have not been
// confirmed as delivered. Every method is atomic with respect to the others,
// so a snapshot always reflects a state the cache actually had.
type eventCache struct {
	mu      sync.RWMutex
	entries []cached
}

func (c *eventCache) append(e event.Event, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = append(c.entries, cached{event: e, recordedAt: at})
}

// seed puts restored events in front of anything already cached. Events that
// are already present are skipped.
func (c *eventCache) seed(events []event.Event, fallback time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	present := make(map[string]struct{}, len(c.entries))
	for _, e := range c.entries {
		present[e.event.ID] = struct{}{}
	}

	restored := make([]cached, 0, len(events)+len(c.entries))
	for _, e := range events {
		if _, ok := present[e.ID]; ok {
			continue
		}
		present[e.ID] = struct{}{}
		at, err := e.Time()
		if err != nil {
			at = fallback
		}
		restored = append(restored, cached{event: e, recordedAt: at})
	}
	n := len(restored)
	c.entries = append(restored, c.entries...)
	return n
}

// snapshot returns the cached events, oldest first.
func (c *eventCache) snapshot() []event.Event {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]event.Event, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.event
	}
	return out
}

func (c *eventCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// oldest returns when the oldest cached event was recorded.
func (c *eventCache) oldest() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return time.Time{}, false
	}
	return c.entries[0].recordedAt, true
}

// remove drops exactly the events whose IDs are in batch and keeps the order
// of the rest.
func (c *eventCache) remove(batch []event.Event) int {
	ids := make(map[string]struct{}, len(batch))
	for _, e := range batch {
		ids[e.ID] = struct{}{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.entries[:0]
	for _, e := range c.entries {
		if _, sent := ids[e.event.ID]; !sent {
			kept = append(kept, e)
		}
	}
	removed := len(c.entries) - len(kept)
	clear(c.entries[len(kept):])
	c.entries = kept
	return removed
}

func (c *eventCache) clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.entries)
	c.entries = nil
	return n
}

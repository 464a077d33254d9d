// Package event defines the records a tracker buffers, freezes and sends.
package event

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the ISO-8601 layout used for event timestamps.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is a single recorded occurrence. Events are values and are never
// modified after creation.
type Event struct {
	ID         string     `json:"id"`
	Name       string     `json:"event"`
	Properties Properties `json:"properties,omitempty"`
	Timestamp  string     `json:"timestamp"`
	UserID     string     `json:"user_id,omitempty"`
	SessionID  string     `json:"session_id,omitempty"`
}

// New builds an event stamped with t and a fresh ID.
func New(name string, props Properties, t time.Time, userID, sessionID string) Event {
	return Event{
		ID:         uuid.New().String(),
		Name:       name,
		Properties: props,
		Timestamp:  FormatTime(t),
		UserID:     userID,
		SessionID:  sessionID,
	}
}

// FormatTime formats t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Time parses the event timestamp.
func (e Event) Time() (time.Time, error) {
	return time.Parse(TimeLayout, e.Timestamp)
}

// Validate checks that the event can be sent.
func (e Event) Validate() error {
	if e.ID == "" {
		return errors.New("event has no id")
	}
	if strings.TrimSpace(e.Name) == "" {
		return errors.New("event name cannot be empty")
	}
	if _, err := e.Time(); err != nil {
		return fmt.Errorf("event %s: invalid timestamp %q: %w", e.ID, e.Timestamp, err)
	}
	return nil
}

// Key identifies the product and organization a tracker records for.
type Key struct {
	Product      string `json:"product"`
	Organization string `json:"organization"`
}

func (k Key) String() string {
	return k.Organization + "/" + k.Product
}

// Validate checks that both parts of the key are usable as path segments.
func (k Key) Validate() error {
	for name, v := range map[string]string{"product": k.Product, "organization": k.Organization} {
		if strings.TrimSpace(v) == "" {
			return fmt.Errorf("%s cannot be empty", name)
		}
		if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
			return fmt.Errorf("invalid %s %q", name, v)
		}
	}
	return nil
}

// Names returns the event names in order.
func Names(events []Event) []string {
	names := make([]string, len(events))
	for i, e := range events {
		names[i] = e.Name
	}
	return names
}

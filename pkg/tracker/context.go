package tracker

import "context"

// contextKey is a type for context keys to avoid collisions
type contextKey string

const trackerContextKey contextKey = "regard_tracker"

// WithTracker adds a tracker to the context
func WithTracker(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, trackerContextKey, t)
}

// FromContext retrieves the tracker from context, falling back to Default.
func FromContext(ctx context.Context) *Tracker {
	if t, ok := ctx.Value(trackerContextKey).(*Tracker); ok && t != nil {
		return t
	}
	return Default()
}

// TrackContext records an event on the tracker carried by ctx.
func TrackContext(ctx context.Context, name string, props map[string]any) {
	FromContext(ctx).Track(name, props)
}

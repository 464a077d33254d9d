// Package tracker records product events on the client, keeps them safe on
// disk, and delivers them in batches.
//
// A Tracker owns an ordered event cache and two lanes. The recording lane
// appends events and freezes the cache to a freezer.Store; the sending lane
// delivers snapshots of the cache through a Transport. Nothing is recorded
// unless the consent gate is opted in, and events leave the cache only after
// the transport confirmed them.
//
// Track never blocks on disk or network I/O:
//
//	t, err := tracker.New(ctx, "my-app", "my-company", tracker.WithTransport(tr))
//	t.OptIn()
//	t.Track("login", nil)
//	t.Track("purchase", map[string]any{"amount": "9.99"})
//	err = t.Flush(ctx)
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/withregard/regard-go/pkg/consent"
	"github.com/withregard/regard-go/pkg/event"
	"github.com/withregard/regard-go/pkg/freezer"
	"github.com/withregard/regard-go/pkg/identity"
	"github.com/withregard/regard-go/pkg/transport"
)

// ErrClosed is returned by operations on a closed tracker.
var ErrClosed = errors.New("tracker is closed")

var errNoTransport = errors.New("no transport configured")

// Transport delivers a batch of events. A nil error means the whole batch was
// accepted.
type Transport interface {
	SendBatch(ctx context.Context, events []event.Event) error
}

// Identity supplies the IDs attached to recorded events.
type Identity interface {
	UserID() string
	SessionID() string
	Forget() error
}

// Stats is a point-in-time view of a tracker.
type Stats struct {
	Key        event.Key
	Enabled    bool
	Consent    consent.State
	Pending    int
	LastFreeze time.Time
	LastFlush  time.Time
	LastError  string
}

// Tracker records, freezes and sends events for one product.
type Tracker struct {
	key           event.Key
	store         freezer.Store
	transport     Transport
	identity      Identity
	gate          *consent.Gate
	thresholds    Thresholds
	flushInterval time.Duration
	now           func() time.Time
	baseLogger    *slog.Logger
	logger        *trackerLogger
	disabled      bool
	closers       []io.Closer

	cache     eventCache
	recording *lane
	sending   *lane

	// storeMu serializes store writes so a freeze and a post-send removal
	// never interleave.
	storeMu sync.Mutex

	// Owned by the recording lane.
	unfrozen    int
	freezeTimer *time.Timer

	// storeDirty is set when a store write outside a freeze failed, so the
	// snapshot may still hold sent or discarded events.
	storeDirty atomic.Bool

	// ctx bounds background work and ends with Close.
	ctx    context.Context
	cancel context.CancelFunc

	flushPending atomic.Bool
	closed       atomic.Bool
	stop         chan struct{}

	statsMu    sync.Mutex
	lastFreeze time.Time
	lastFlush  time.Time
	lastErr    error
}

// New creates a tracker for product in organization and restores any events
// frozen by a previous run.
func New(ctx context.Context, product, organization string, opts ...Option) (*Tracker, error) {
	key := event.Key{Product: product, Organization: organization}
	if err := key.Validate(); err != nil {
		return nil, err
	}

	t := &Tracker{
		key:           key,
		thresholds:    DefaultThresholds,
		flushInterval: DefaultFlushInterval,
		now:           time.Now,
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.baseLogger == nil {
		t.baseLogger = slog.Default()
	}
	t.logger = newTrackerLogger(t.baseLogger)
	if t.store == nil {
		t.store = freezer.NewMemoryStore()
	}
	if t.gate == nil {
		t.gate = consent.NewGate()
		t.gate.SetLogger(t.baseLogger)
	}
	if t.identity == nil {
		t.identity = identity.NewProvider("")
	}
	if t.transport == nil {
		t.transport = noTransport{}
	}
	t.lastFreeze = t.now()
	t.ctx, t.cancel = context.WithCancel(context.WithoutCancel(ctx))

	if !t.disabled {
		t.restore(ctx)
	}

	t.recording = newLane("recording", t.logger)
	t.sending = newLane("sending", t.logger)

	if t.flushInterval > 0 && !t.disabled {
		go t.tick()
	}

	t.logger.Debug("Tracker created",
		"key", key.String(),
		"consent", t.gate.State().String(),
		"pending", t.cache.len(),
		"disabled", t.disabled)

	return t, nil
}

// Key identifies the tracker.
func (t *Tracker) Key() event.Key {
	return t.key
}

func (t *Tracker) restore(ctx context.Context) {
	events, found, err := t.store.Load(ctx, t.key)
	if err != nil {
		t.logger.Warn("Failed to restore frozen events, starting empty", "key", t.key.String(), "error", err)
		return
	}
	if !found {
		return
	}
	n := t.cache.seed(events, t.now())
	t.logger.Debug("Restored frozen events", "key", t.key.String(), "events", n)
}

func (t *Tracker) accepting() bool {
	return !t.disabled && !t.closed.Load() && t.gate.ShouldRecord()
}

// Track records an event named name. It is a no-op unless the user opted in.
// Events with unsupported property values are dropped with a warning.
func (t *Tracker) Track(name string, props map[string]any) {
	if !t.accepting() {
		return
	}
	if strings.TrimSpace(name) == "" {
		t.logger.Warn("Dropping event without a name")
		return
	}
	p, err := event.FromMap(props)
	if err != nil {
		t.logger.Warn("Dropping event with unsupported properties", "event", name, "error", err)
		return
	}

	at := t.now()
	t.recording.submit(func() {
		e := event.New(name, p, at, t.identity.UserID(), t.identity.SessionID())
		t.record(e, at)
	})
}

// CacheEvent records a prebuilt event. Like Track it is a no-op unless the
// user opted in.
func (t *Tracker) CacheEvent(e event.Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	if !t.accepting() {
		return nil
	}

	at := t.now()
	t.recording.submit(func() {
		t.record(e, at)
	})
	return nil
}

// record runs on the recording lane.
func (t *Tracker) record(e event.Event, at time.Time) {
	t.cache.append(e, at)
	t.unfrozen++

	t.logger.Debug("Recorded event", "event", e.Name, "id", e.ID, "pending", t.cache.len())

	if t.unfrozen >= t.thresholds.FreezeEvents || t.now().Sub(t.lastFrozen()) >= t.thresholds.FreezeAge {
		_ = t.freezeNow(t.ctx)
	} else {
		t.armFreeze()
	}

	if t.cache.len() >= t.thresholds.FlushEvents {
		t.scheduleFlush()
	}
}

// armFreeze runs on the recording lane.
func (t *Tracker) armFreeze() {
	if t.freezeTimer != nil || t.closed.Load() {
		return
	}
	t.freezeTimer = time.AfterFunc(t.thresholds.FreezeAge, func() {
		t.recording.submit(t.delayedFreeze)
	})
}

func (t *Tracker) delayedFreeze() {
	t.freezeTimer = nil
	if t.needsFreeze() {
		if err := t.freezeNow(t.ctx); err != nil && t.storeDirty.Load() {
			t.armFreeze()
		}
	}
}

// needsFreeze reports whether the store is behind the cache.
func (t *Tracker) needsFreeze() bool {
	return t.unfrozen > 0 || t.storeDirty.Load()
}

// markStoreDirty must be called with storeMu held. The next freeze rewrites
// the snapshot from the cache.
func (t *Tracker) markStoreDirty() {
	t.storeDirty.Store(true)
	t.recording.submit(t.armFreeze)
}

// freezeNow runs on the recording lane.
func (t *Tracker) freezeNow(ctx context.Context) error {
	t.storeMu.Lock()
	defer t.storeMu.Unlock()

	events := t.cache.snapshot()
	if err := t.store.Save(ctx, t.key, events); err != nil {
		t.logger.Warn("Failed to freeze events", "events", len(events), "error", err)
		return fmt.Errorf("failed to freeze %d events: %w", len(events), err)
	}
	t.unfrozen = 0
	t.storeDirty.Store(false)

	t.statsMu.Lock()
	t.lastFreeze = t.now()
	t.statsMu.Unlock()

	t.logger.Debug("Froze events", "events", len(events))
	return nil
}

func (t *Tracker) lastFrozen() time.Time {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()
	return t.lastFreeze
}

// Freeze saves the whole cache to the store once every event recorded before
// the call has been appended.
func (t *Tracker) Freeze(ctx context.Context) error {
	if t.disabled {
		return nil
	}
	var err error
	if doErr := t.recording.do(ctx, func() { err = t.freezeNow(ctx) }); doErr != nil {
		return doErr
	}
	return err
}

// Flush sends every cached event in one batch. On success exactly the sent
// events leave the cache and the store; on failure nothing is removed.
func (t *Tracker) Flush(ctx context.Context) error {
	return t.flush(ctx, false)
}

// FlushIfOldEnough flushes only when the oldest cached event is older than
// FlushAge or the cache holds at least FlushEvents events.
func (t *Tracker) FlushIfOldEnough(ctx context.Context) error {
	return t.flush(ctx, true)
}

func (t *Tracker) flush(ctx context.Context, onlyIfDue bool) error {
	if t.disabled {
		return nil
	}
	// Wait for records that are still being appended.
	if err := t.recording.do(ctx, func() {}); err != nil {
		return err
	}
	var err error
	if doErr := t.sending.do(ctx, func() { err = t.flushCached(ctx, onlyIfDue) }); doErr != nil {
		return doErr
	}
	return err
}

func (t *Tracker) due() bool {
	n := t.cache.len()
	if n == 0 {
		return false
	}
	if n >= t.thresholds.FlushEvents {
		return true
	}
	oldest, ok := t.cache.oldest()
	return ok && t.now().Sub(oldest) >= t.thresholds.FlushAge
}

// flushCached runs on the sending lane.
func (t *Tracker) flushCached(ctx context.Context, onlyIfDue bool) error {
	if onlyIfDue && !t.due() {
		return nil
	}
	if !t.gate.ShouldRecord() {
		t.logger.Debug("Not sending events without consent", "consent", t.gate.State().String())
		return nil
	}

	batch := t.cache.snapshot()
	if len(batch) == 0 {
		return nil
	}

	err := t.transport.SendBatch(ctx, batch)
	t.sent(err)
	if err != nil {
		if transport.IsRetryable(err) {
			t.logger.Debug("Failed to send events, will retry", "events", len(batch), "error", err)
		} else {
			t.logger.Warn("Batch rejected, events kept", "events", len(batch), "error", err)
		}
		return fmt.Errorf("failed to send %d events: %w", len(batch), err)
	}

	t.storeMu.Lock()
	defer t.storeMu.Unlock()

	removed := t.cache.remove(batch)
	remaining := t.cache.snapshot()
	if err := t.store.Save(context.WithoutCancel(ctx), t.key, remaining); err != nil {
		t.logger.Warn("Failed to update frozen events after send, will retry", "error", err)
		t.markStoreDirty()
	} else {
		t.storeDirty.Store(false)
	}

	t.logger.Debug("Sent events", "events", removed, "remaining", len(remaining))
	return nil
}

func (t *Tracker) sent(err error) {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	t.lastErr = err
	if err == nil {
		t.lastFlush = t.now()
	}
}

// scheduleFlush queues at most one pending background flush check.
func (t *Tracker) scheduleFlush() {
	if !t.flushPending.CompareAndSwap(false, true) {
		return
	}
	ok := t.sending.submit(func() {
		t.flushPending.Store(false)
		_ = t.flushCached(t.ctx, true)
	})
	if !ok {
		t.flushPending.Store(false)
	}
}

func (t *Tracker) tick() {
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.scheduleFlush()
		}
	}
}

// SendBatch delivers events directly, in order, without touching the cache.
// It is a no-op unless the user opted in.
func (t *Tracker) SendBatch(ctx context.Context, events []event.Event) error {
	if len(events) == 0 || !t.accepting() {
		return nil
	}
	var err error
	if doErr := t.sending.do(ctx, func() {
		err = t.transport.SendBatch(ctx, events)
		t.sent(err)
	}); doErr != nil {
		return doErr
	}
	return err
}

// SendEvent delivers a single event directly.
func (t *Tracker) SendEvent(ctx context.Context, e event.Event) error {
	return t.SendBatch(ctx, []event.Event{e})
}

// OptIn enables recording. It reports whether the state changed.
func (t *Tracker) OptIn() bool {
	changed := t.gate.OptIn()
	if changed {
		t.logger.Info("User opted in")
	}
	return changed
}

// OptInByDefault opts in only if the user never made a choice.
func (t *Tracker) OptInByDefault() bool {
	changed := t.gate.OptInByDefault()
	if changed {
		t.logger.Info("User opted in by default")
	}
	return changed
}

// OptOut disables recording and discards events that were not sent yet.
func (t *Tracker) OptOut() bool {
	changed := t.gate.OptOut()
	if changed {
		t.logger.Info("User opted out")
	}
	if !t.disabled && !t.recording.submit(t.purge) {
		t.purge()
	}
	return changed
}

func (t *Tracker) purge() {
	t.storeMu.Lock()
	defer t.storeMu.Unlock()

	n := t.cache.clear()
	if err := t.store.Save(t.ctx, t.key, nil); err != nil {
		t.logger.Warn("Failed to discard frozen events, will retry", "error", err)
		t.markStoreDirty()
		return
	}
	t.storeDirty.Store(false)
	if n > 0 {
		t.logger.Debug("Discarded pending events", "events", n)
	}
}

// ForgetUserID drops the persisted user ID. Later events carry a new one.
func (t *Tracker) ForgetUserID() error {
	if err := t.identity.Forget(); err != nil {
		return fmt.Errorf("failed to forget user id: %w", err)
	}
	t.logger.Debug("Forgot user id")
	return nil
}

// Consent returns the current consent state.
func (t *Tracker) Consent() consent.State {
	return t.gate.State()
}

func (t *Tracker) Stats() Stats {
	t.statsMu.Lock()
	defer t.statsMu.Unlock()

	s := Stats{
		Key:        t.key,
		Enabled:    !t.disabled,
		Consent:    t.gate.State(),
		Pending:    t.cache.len(),
		LastFreeze: t.lastFreeze,
		LastFlush:  t.lastFlush,
	}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s
}

// Close freezes any unfrozen events and stops the tracker. Events tracked
// after Close are dropped.
func (t *Tracker) Close(ctx context.Context) (err error) {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(t.stop)
	defer t.cancel()
	defer func() {
		var closeErrs []error
		for _, c := range t.closers {
			closeErrs = append(closeErrs, c.Close())
		}
		err = errors.Join(err, errors.Join(closeErrs...))
	}()

	var freezeErr error
	doErr := t.recording.do(ctx, func() {
		if t.freezeTimer != nil {
			t.freezeTimer.Stop()
			t.freezeTimer = nil
		}
		if t.needsFreeze() {
			freezeErr = t.freezeNow(ctx)
		}
	})
	t.recording.close()
	t.sending.close()
	if doErr != nil {
		return doErr
	}

	if err := errors.Join(t.recording.wait(ctx), t.sending.wait(ctx)); err != nil {
		return err
	}
	return freezeErr
}

type noTransport struct{}

func (noTransport) SendBatch(context.Context, []event.Event) error {
	return errNoTransport
}

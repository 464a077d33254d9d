package tracker

import (
	"context"
	"fmt"
	"sync"
)

// lane runs tasks one at a time, in submission order, on its own goroutine.
//
// The queue is unbounded so that submitting never blocks the caller. A
// buffered signal channel of size 1 coalesces wake-ups.
type lane struct {
	name   string
	logger *trackerLogger

	mu     sync.Mutex
	tasks  []func()
	closed bool
	signal chan struct{}
	done   chan struct{}
}

func newLane(name string, logger *trackerLogger) *lane {
	l := &lane{
		name:   name,
		logger: logger,
		tasks:  make([]func(), 0, 16),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go l.run()
	return l
}

// submit queues fn. It returns false if the lane is closed.
func (l *lane) submit(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return false
	}
	l.tasks = append(l.tasks, fn)
	l.wake()
	return true
}

// do queues fn and waits for it to finish or for ctx to be done. If ctx ends
// first, fn still runs later.
//
// do must not be called from a task running on the same lane.
func (l *lane) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.submit(func() {
		defer close(finished)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting tasks. Tasks already queued still run.
func (l *lane) close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	l.wake()
}

// wait blocks until the lane has drained after close.
func (l *lane) wait(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *lane) wake() {
	select {
	case l.signal <- struct{}{}:
	default:
	}
}

func (l *lane) next() (func(), bool) {
	for {
		l.mu.Lock()
		if len(l.tasks) > 0 {
			task := l.tasks[0]
			l.tasks[0] = nil
			l.tasks = l.tasks[1:]
			l.mu.Unlock()
			return task, true
		}
		closed := l.closed
		l.mu.Unlock()

		if closed {
			return nil, false
		}
		<-l.signal
	}
}

func (l *lane) run() {
	defer close(l.done)

	for {
		task, ok := l.next()
		if !ok {
			return
		}
		l.exec(task)
	}
}

func (l *lane) exec(task func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Task panicked", "lane", l.name, "panic", fmt.Sprint(r))
		}
	}()
	task()
}

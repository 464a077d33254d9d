package consent

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the gate whenever its backing file changes, so that a choice
// made by another process (for example `regard opt-out`) applies to a running
// tracker. It returns once the watcher is installed; watching stops when ctx
// is done.
func (g *Gate) Watch(ctx context.Context) error {
	if g.path == "" {
		return errors.New("cannot watch an in-memory consent gate")
	}

	// Watch the directory: atomic saves replace the file by renaming a
	// temporary one over it.
	dir := filepath.Dir(g.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go g.watchLoop(ctx, watcher)
	return nil
}

func (g *Gate) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != g.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			before := g.State()
			if err := g.Reload(); err != nil {
				g.logger.Debug("Failed to reload consent file", "path", g.path, "error", err)
				continue
			}
			if after := g.State(); after != before {
				g.logger.Debug("Consent state changed on disk", "from", before, "to", after)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			g.logger.Debug("Consent watcher error", "error", err)
		}
	}
}

package registry

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/ehrlich-b/perch/internal/logger"
)

// Watch recounts message caches when history files change outside the
// daemon (manual edits, sync tools). Runs until ctx is cancelled.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(r.history.Dir()); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			name := filepath.Base(ev.Name)
			if !strings.HasSuffix(name, ".md") {
				continue
			}
			id := strings.TrimSuffix(name, ".md")
			if _, err := r.Ensure(id); err != nil {
				logger.Warn("registry: watch ensure failed", "session", id, "error", err)
				continue
			}
			if _, err := r.RecountMessages(id); err != nil {
				logger.Warn("registry: watch recount failed", "session", id, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("registry: watcher error", "error", err)
		}
	}
}

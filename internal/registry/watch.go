package registry

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 100 * time.Millisecond

// LoadFile replaces the active catalog with the default catalog merged with path.
func (r *Registry) LoadFile(path string) error {
	c, err := LoadCatalogFile(path)
	if err != nil {
		return err
	}
	r.SetCatalog(c)
	r.logger.Info("Catalog loaded", "path", path, "rules", len(c.Rules), "aggregators", len(c.Aggregators))
	return nil
}

// Watch reloads path whenever it is written until ctx is done. onReload runs after
// each successful reload. A bad file keeps the previous catalog.
func (r *Registry) Watch(ctx context.Context, path string, onReload func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("catalog watcher: %w", err)
	}
	// watch the directory so that editors replacing the file are seen
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("catalog watcher: %w", err)
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(event.Name) != filepath.Base(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					if err := r.LoadFile(path); err != nil {
						r.logger.Error("Catalog reload failed", "path", path, "error", err)
						return
					}
					if onReload != nil {
						onReload()
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.logger.Warn("Catalog watcher error", "error", err)
			}
		}
	}()

	return nil
}

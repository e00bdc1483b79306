package routing

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mrmushfiq/llm0-router/internal/shared/logger"
)

const catalogDebounce = 200 * time.Millisecond

// WatchCatalog reloads the catalog file at path whenever it changes and
// installs it on svc. A file that fails to load is logged and the previous
// catalog stays in place. WatchCatalog blocks until ctx is done.
func WatchCatalog(ctx context.Context, path string, svc *ConfigService) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory to catch editors that replace the file
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	reload := make(chan struct{}, 1)
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filepath.Base(path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(catalogDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})

		case <-reload:
			catalog, err := LoadCatalog(path)
			if err != nil {
				logger.Error("routing catalog reload failed", "path", path, "error", err)
				continue
			}
			svc.SetCatalog(catalog)
			logger.Info("routing catalog reloaded", "path", path)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("catalog watcher error", "error", err)
		}
	}
}

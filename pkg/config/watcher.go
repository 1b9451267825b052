package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig initializes a filesystem watcher for the specified files.
// It returns a channel that emits the changed file's base name after a
// debounce window, so callers can reload only what changed (system.json is
// hot-reloadable; config.json needs a restart). The watcher runs in a
// goroutine until the context is canceled.
func WatchConfig(ctx context.Context, files ...string) <-chan string {
	reloadCh := make(chan string, 1) // Buffer 1 so we don't block sender

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create fsnotify watcher", "error", err)
		return reloadCh
	}

	for _, file := range files {
		absPath, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Could not resolve absolute path for watch file", "file", file)
			continue
		}
		if err := watcher.Add(absPath); err != nil {
			slog.Warn("Could not watch file", "file", file, "error", err)
		} else {
			slog.Debug("Watching configuration file", "file", file)
		}
	}

	go func() {
		defer watcher.Close()
		defer close(reloadCh)

		// Debounce: the timer lives on this goroutine so a late fire can
		// never race the channel close.
		debounce := time.NewTimer(time.Hour)
		if !debounce.Stop() {
			<-debounce.C
		}
		defer debounce.Stop()
		var changed string

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				// We only care about file modifications or recreations (like Vim/nano atomic saves)
				if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
					changed = filepath.Base(event.Name)
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(500 * time.Millisecond)
				}
			case <-debounce.C:
				slog.Info("Configuration change detected", "file", changed)
				// Non-blocking send
				select {
				case reloadCh <- changed:
				default:
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Watcher encountered an error", "error", err)
			}
		}
	}()

	return reloadCh
}

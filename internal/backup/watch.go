package backup

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/desertthunder/sheetsync/internal/tasks"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long Watch waits after the last change before importing.
const DefaultDebounce = 2 * time.Second

// Watch imports the snapshot at path every time it changes, until ctx ends.
//
// The parent directory is watched so that editors replacing the file are seen. Bursts of events
// within debounce trigger one import. onApply, when set, receives every import result.
func (s *Service) Watch(ctx context.Context, path string, policy tasks.Policy, debounce time.Duration, onApply func(*tasks.ApplyResult, error)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	target := filepath.Clean(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(target), err)
	}
	s.logger.Info("Watching snapshot", "path", target, "policy", policy, "debounce", debounce)

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	run := func() {
		result, err := s.ImportFile(ctx, target, policy, nil)
		if err != nil {
			s.logger.Error("Snapshot import failed", "path", target, "error", err)
		}
		if onApply != nil {
			onApply(result, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			s.logger.Debug("Snapshot changed", "op", ev.Op)
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, run)

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("Watcher error", "error", err)
		}
	}
}

package schedule

import (
	"context"
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watch reloads the job set whenever the schedules directory changes.
// Events are debounced so an editor's write-then-rename counts once.
func (s *Scheduler) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.Dir()); err != nil {
		// The directory may not exist yet; watching is best effort.
		slog.Debug("schedule: cannot watch schedules dir", "dir", s.Dir(), "error", err)
		return nil
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) &&
				!event.Op.Has(fsnotify.Remove) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				slog.Info("schedule: change detected", "file", event.Name)
				if _, err := s.Reload(); err != nil {
					slog.Warn("schedule: reload failed", "error", err)
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("schedule: watcher error", "error", err)
		}
	}
}

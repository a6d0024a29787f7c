package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long to wait for more filesystem events before
// resyncing; editors fire several events per save.
const watchDebounce = 500 * time.Millisecond

// Watch resyncs the catalog whenever files under the catalog directory
// change. Blocks until ctx is cancelled. Events are debounced so a burst
// of writes triggers a single sync.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.config.Dir); err != nil {
		return fmt.Errorf("watch %s: %w", l.config.Dir, err)
	}

	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(watchDebounce)
				timerC = timer.C
			} else {
				timer.Reset(watchDebounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("Catalog watch error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			if err := l.Sync(ctx); err != nil {
				l.logger.Error("Catalog resync failed", "error", err)
			}
		}
	}
}

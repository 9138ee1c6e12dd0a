package processor

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"loanlens/internal/transcript"
)

// Watcher monitors the transcript directory for files written by tools
// other than this service and hands them to the processor.
type Watcher struct {
	dir       string
	processor *Processor
	debounce  time.Duration
	logger    *zap.Logger
}

func NewWatcher(dir string, processor *Processor, logger *zap.Logger) *Watcher {
	return &Watcher{dir: dir, processor: processor, debounce: 500 * time.Millisecond, logger: logger}
}

// Start adds the directory to a new fsnotify watcher and processes events
// until ctx is done. Bursts of writes to one file are coalesced.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create transcript dir: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		return fmt.Errorf("failed to watch %s: %w", w.dir, err)
	}

	w.logger.Info("Watching transcript directory", zap.String("dir", w.dir))

	go func() {
		defer fw.Close()

		pending := map[string]struct{}{}
		timer := time.NewTimer(w.debounce)
		timer.Stop()
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-fw.Events:
				if !ok {
					return
				}
				if evt.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
					continue
				}
				if _, ok := transcript.CallIDFromPath(evt.Name); !ok {
					continue
				}
				pending[evt.Name] = struct{}{}
				timer.Reset(w.debounce)
			case <-timer.C:
				w.flush(ctx, pending)
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.logger.Error("Transcript watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	imported := 0
	for path := range pending {
		delete(pending, path)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		ok, err := w.processor.ImportTranscript(ctx, path)
		if err != nil {
			w.logger.Error("Failed to import transcript", zap.String("path", path), zap.Error(err))
			continue
		}
		if ok {
			imported++
		}
	}
	if imported > 0 {
		w.processor.Trigger()
	}
}

// Backfill imports transcript files that were already in the directory
// before the watcher started.
func (w *Watcher) Backfill(ctx context.Context) error {
	store := transcript.NewStore(w.dir, 1, w.logger)
	ids, err := store.List()
	if err != nil {
		return err
	}
	pending := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		path, err := store.PathFor(id)
		if err != nil {
			continue
		}
		pending[path] = struct{}{}
	}
	w.flush(ctx, pending)
	return nil
}

package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"wsb-sentiment/internal/logger"
)

// RunFunc is one incremental labeling pass.
type RunFunc func(ctx context.Context) error

// Watcher reruns the labeling pipeline whenever the input dataset changes.
type Watcher struct {
	path     string
	debounce time.Duration
	run      RunFunc
}

func New(path string, debounce time.Duration, run RunFunc) *Watcher {
	return &Watcher{path: path, debounce: debounce, run: run}
}

// Run makes an initial pass and then another one each time writes to the
// input have been quiet for the debounce interval. It returns nil when ctx
// is cancelled and the pass's error if a pass fails.
func (w *Watcher) Run(ctx context.Context) error {
	target, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory: scrapers and editors often replace the file.
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	if err := w.pass(ctx); err != nil {
		return err
	}

	timer := time.NewTimer(w.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(evt.Name)
			if name != target || evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			logger.Debug(ctx, "Input changed", "path", w.path, "op", evt.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn(ctx, "Watcher error", "error", err.Error())
		case <-timer.C:
			if err := w.pass(ctx); err != nil {
				return err
			}
		}
	}
}

func (w *Watcher) pass(ctx context.Context) error {
	op := logger.StartOperation(ctx, "watch.Pass", "input", w.path)
	err := w.run(op.GetContext())
	if ctx.Err() != nil {
		op.End("cancelled", true)
		return nil
	}
	if err != nil {
		op.EndWithError(err)
		return err
	}
	op.End()
	return nil
}

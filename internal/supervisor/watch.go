package supervisor

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"locus-desktop/internal/logger"
)

// binaryWatcher watches the directory holding the backend binary, since
// installers usually replace the file by rename rather than write in place.
type binaryWatcher struct {
	path     string
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func()
}

func newBinaryWatcher(path string, debounce time.Duration, onChange func()) (*binaryWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, err
	}

	return &binaryWatcher{
		path:     abs,
		watcher:  w,
		debounce: debounce,
		onChange: onChange,
	}, nil
}

func (b *binaryWatcher) run(ctx context.Context, log logger.Logger) {
	defer b.watcher.Close()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != b.path || !ev.Has(fsnotify.Create|fsnotify.Write) {
				continue
			}
			log.Debug("supervisor", "backend binary changed", map[string]interface{}{
				"path": ev.Name,
				"op":   ev.Op.String(),
			})
			if timer == nil {
				timer = time.NewTimer(b.debounce)
			} else {
				timer.Reset(b.debounce)
			}
			fire = timer.C

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			log.Warning("supervisor", "binary watch error", map[string]interface{}{"error": err.Error()})

		case <-fire:
			fire = nil
			log.Info("supervisor", "backend binary replaced, restarting", map[string]interface{}{"path": b.path})
			b.onChange()
		}
	}
}

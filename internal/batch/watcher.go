package batch

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/jnoonan94/ccd-intro/internal/fits"
)

// Watcher monitors a folder and emits the path of every FITS file that
// appears in it. Solved outputs are ignored so the watcher does not chase
// its own results.
type Watcher struct {
	watcher  *fsnotify.Watcher
	Events   chan string
	log      *slog.Logger
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, log *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	w := &Watcher{
		watcher: fw,
		Events:  make(chan string, 64),
		log:     log,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Stop shuts the watcher down and closes the Events channel.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) loop() {
	defer close(w.Events)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&fsnotify.Create == 0 {
				continue
			}
			name := filepath.Base(event.Name)
			if !fits.IsFITSPath(name) || IsSolvedName(name) {
				continue
			}
			select {
			case w.Events <- event.Name:
			default:
				w.log.Warn("watch buffer full, dropping event", "file", event.Name)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("watch error", "error", err)
		}
	}
}

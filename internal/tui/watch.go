package tui

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tessro/tether/internal/logging"
)

// StatusChangedMsg is sent when the daemon rewrites or removes its status
// file.
type StatusChangedMsg struct{}

// watchErrMsg carries a watcher failure into the view.
type watchErrMsg struct{ err error }

// StatusWatcher turns filesystem events on the daemon status file into
// Bubbletea messages.
type StatusWatcher struct {
	w    *fsnotify.Watcher
	path string
	out  chan any
	done chan struct{}
}

// WatchStatus watches the status file at path. The parent directory is
// watched rather than the file, since the daemon replaces the file by
// renaming over it.
func WatchStatus(path string) (*StatusWatcher, error) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create status directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	sw := &StatusWatcher{
		w:    w,
		path: path,
		out:  make(chan any, 1),
		done: make(chan struct{}),
	}
	go sw.loop()
	return sw, nil
}

func (sw *StatusWatcher) loop() {
	defer close(sw.done)
	defer logging.LogPanic("status-watcher", nil)

	for {
		select {
		case ev, ok := <-sw.w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != sw.path {
				continue
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
				continue
			}
			sw.send(StatusChangedMsg{})
		case err, ok := <-sw.w.Errors:
			if !ok {
				return
			}
			sw.send(watchErrMsg{err: err})
		}
	}
}

// send delivers msg unless one is already pending. Pending change
// notifications coalesce.
func (sw *StatusWatcher) send(msg any) {
	select {
	case sw.out <- msg:
	default:
	}
}

// Changes returns the channel of StatusChangedMsg and watcher errors.
func (sw *StatusWatcher) Changes() <-chan any {
	return sw.out
}

// Close stops watching.
func (sw *StatusWatcher) Close() error {
	err := sw.w.Close()
	<-sw.done
	return err
}

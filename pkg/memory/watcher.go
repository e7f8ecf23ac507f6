package memory

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// watcherDebounce coalesces a burst of saves (an editor writing a
// file in several small chunks) into a single dirty flag.
const watcherDebounce = 500 * time.Millisecond

// noteWatcher flags the index dirty shortly after a markdown note
// under the watched directory changes on disk, so notes edited outside
// of writeMemoryNote still get picked up by the next Recall's resync.
// Only the Manager holds one.
type noteWatcher struct {
	fs   *fsnotify.Watcher
	done chan struct{}
}

// newNoteWatcher watches dir and calls onDirty once per settled burst
// of markdown changes.
func newNoteWatcher(dir string, logger zerolog.Logger, onDirty func()) (*noteWatcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}

	w := &noteWatcher{fs: fs, done: make(chan struct{})}
	go w.loop(logger, onDirty)
	return w, nil
}

// Close tears the watcher down; the event loop exits when the
// underlying streams close.
func (w *noteWatcher) Close() error {
	close(w.done)
	return w.fs.Close()
}

// loop consumes filesystem events, debouncing inside the select: each
// relevant event re-arms the timer, and only the timer firing reports
// dirty. Holding the debounce here instead of in a detached callback
// means no timer can fire after Close.
func (w *noteWatcher) loop(logger zerolog.Logger, onDirty func()) {
	debounce := time.NewTimer(watcherDebounce)
	if !debounce.Stop() {
		<-debounce.C
	}
	armed := false

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !isNoteChange(ev) {
				continue
			}
			logger.Debug().Str("note", filepath.Base(ev.Name)).Str("op", ev.Op.String()).
				Msg("note changed on disk")
			if armed && !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(watcherDebounce)
			armed = true

		case <-debounce.C:
			armed = false
			onDirty()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Msg("note watcher error")

		case <-w.done:
			return
		}
	}
}

// isNoteChange reports whether ev is a content-affecting change to a
// markdown file.
func isNoteChange(ev fsnotify.Event) bool {
	if !strings.EqualFold(filepath.Ext(ev.Name), ".md") {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0
}

package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces bursts of filesystem events (editors often
// write a file in several syscalls, or rename a temp file into place)
// into a single reload.
const debounceDelay = 250 * time.Millisecond

// Watcher watches a single config file for write and create events (a
// create covers a temp file renamed into place) and emits the newly
// loaded Config on Reloads whenever the file parses
// successfully. Parse failures are logged and swallowed; the caller's live
// config stays in force.
type Watcher struct {
	fsw    *fsnotify.Watcher
	path   string
	reload chan Config
	done   chan struct{}
}

// NewWatcher starts watching the directory containing path. path itself
// need not exist yet; events are filtered down to its basename.
func NewWatcher(path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return nil, err
	}

	w := &Watcher{
		fsw:    fsw,
		path:   path,
		reload: make(chan Config),
		done:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Reloads returns the channel of successfully parsed configs. The watcher
// sends at most one config per debounce window.
func (w *Watcher) Reloads() <-chan Config {
	return w.reload
}

// Close stops watching. It is safe to call once.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)

	base := filepath.Base(w.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != base {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(debounceDelay)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			cfg, err := Load(w.path)
			if err != nil {
				log.Printf("config: reload %s: %v", w.path, err)
				continue
			}
			w.reload <- cfg

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("config: watch error: %v", err)
		}
	}
}

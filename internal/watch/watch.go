// Package watch reruns a reload function when files in a directory change,
// coalescing bursts of events into one call.
package watch

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Filter decides whether an event should trigger a reload.
type Filter func(event fsnotify.Event) bool

// Watcher owns an fsnotify watch on one directory.
type Watcher struct {
	fs     *fsnotify.Watcher
	filter Filter
	reload func() error
	delay  time.Duration
	logger zerolog.Logger

	mu      sync.Mutex
	pending *time.Timer

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Dir watches dir and calls reload delay after the last matching event. The
// caller performs its own initial load.
func Dir(dir string, delay time.Duration, filter Filter, reload func() error, logger zerolog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		fs:     fs,
		filter: filter,
		reload: reload,
		delay:  delay,
		logger: logger,
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Close stops watching. A reload already running is not interrupted.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		if w.pending != nil {
			w.pending.Stop()
			w.pending = nil
		}
		w.mu.Unlock()

		w.closeErr = w.fs.Close()
		w.wg.Wait()
	})
	return w.closeErr
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.filter == nil || w.filter(event) {
				w.schedule()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		case <-w.done:
			return
		}
	}
}

func (w *Watcher) schedule() {
	select {
	case <-w.done:
		return
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.pending != nil {
		w.pending.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(w.delay, func() {
		if err := w.reload(); err != nil {
			w.logger.Warn().Err(err).Msg("reload failed")
		}

		w.mu.Lock()
		if w.pending == timer {
			w.pending = nil
		}
		w.mu.Unlock()
	})
	w.pending = timer
}

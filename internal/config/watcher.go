package config

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk and hands each
// successfully parsed config to a callback. A config that fails to parse is
// dropped; the previous one stays in effect.
type Watcher struct {
	path     string
	debounce time.Duration
	onReload func(*Config)
	logger   *slog.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	stopped chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long file events are folded together before a
// reload. Editors tend to save in bursts. Default is 500ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

func NewWatcher(path string, onReload func(*Config), logger *slog.Logger, opts ...WatcherOption) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		path:     path,
		debounce: 500 * time.Millisecond,
		onReload: onReload,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw != nil {
		return errors.New("config watcher already started")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.path); err != nil {
		_ = fsw.Close()
		return err
	}
	w.fsw = fsw
	w.stopped = make(chan struct{})
	w.logger.Info("watching config file", "path", w.path, "debounce", w.debounce)
	go w.loop(fsw, w.stopped)
	return nil
}

// Stop closes the watcher and waits for the event loop to drain.
// Safe to call more than once or before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	fsw := w.fsw
	stopped := w.stopped
	w.fsw = nil
	w.mu.Unlock()
	if fsw == nil {
		return
	}
	_ = fsw.Close()
	<-stopped
}

func (w *Watcher) loop(fsw *fsnotify.Watcher, stopped chan struct{}) {
	defer close(stopped)
	var timer *time.Timer
	var timerC <-chan time.Time
	for {
		select {
		case ev, ok := <-fsw.Events:
			if !ok {
				if timer != nil {
					timer.Stop()
				}
				return
			}
			// Write covers in-place saves; Create covers editors that
			// replace the file.
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.NewTimer(w.debounce)
			timerC = timer.C
		case <-timerC:
			timerC = nil
			w.reload()
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	c, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	w.logger.Info("config reloaded", "path", w.path, "workers", len(c.Workers))
	w.onReload(c)
}

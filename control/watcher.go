// File: control/watcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Config file watching with debounced reload dispatch.

package control

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// reloadDebounce coalesces the write bursts editors and atomic-rename
// writers produce into a single reload.
const reloadDebounce = 100 * time.Millisecond

// ReloadCallback runs with the freshly loaded config after a change.
type ReloadCallback func(cfg *FileConfig)

// Watcher reloads a config file on change and notifies subscribers.
type Watcher struct {
	path      string
	fsWatcher *fsnotify.Watcher
	log       zerolog.Logger

	mu        sync.Mutex
	current   *FileConfig
	callbacks []ReloadCallback
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewWatcher loads path once and starts watching its directory (so
// atomic-rename rewrites are observed too).
func NewWatcher(path string, log zerolog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", path, err)
	}
	w := &Watcher{
		path:      path,
		fsWatcher: fw,
		log:       log,
		current:   cfg,
		stopCh:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Current returns the most recently loaded config.
func (w *Watcher) Current() *FileConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// OnReload registers a callback invoked after each successful reload.
func (w *Watcher) OnReload(fn ReloadCallback) {
	w.mu.Lock()
	w.callbacks = append(w.callbacks, fn)
	w.mu.Unlock()
}

// Close stops watching.
func (w *Watcher) Close() error {
	w.stopOnce.Do(func() { close(w.stopCh) })
	return w.fsWatcher.Close()
}

func (w *Watcher) run() {
	var pending *time.Timer
	reload := make(chan struct{}, 1)
	for {
		select {
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			w.reload()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("config watcher error")
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// Keep the previous config; a half-written file is not a reason
		// to drop a running setup.
		w.log.Error().Err(err).Str("path", w.path).Msg("config reload failed")
		return
	}
	w.mu.Lock()
	w.current = cfg
	callbacks := append([]ReloadCallback(nil), w.callbacks...)
	w.mu.Unlock()
	w.log.Info().Str("path", w.path).Msg("config reloaded")
	for _, fn := range callbacks {
		fn(cfg)
	}
}

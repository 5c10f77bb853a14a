package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback is called with the freshly loaded configuration after
// the config file changes on disk
type ReloadCallback func(cfg *Config)

// Watcher reloads the configuration when its file changes. Writes are
// debounced because editors and atomic saves fire several events per save.
type Watcher struct {
	loader   *Loader
	path     string
	watcher  *fsnotify.Watcher
	onReload ReloadCallback
	debounce time.Duration

	timerMu  sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for the loader's config file
func NewWatcher(loader *Loader, onReload ReloadCallback) (*Watcher, error) {
	path, err := loader.GetConfigPath()
	if err != nil {
		return nil, err
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		loader:   loader,
		path:     path,
		watcher:  fw,
		onReload: onReload,
		debounce: 100 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins watching the config file's directory. Watching the
// directory rather than the file survives atomic replace-on-save.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	go w.loop()
	return nil
}

// Stop stops the watcher
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.scheduleReload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		cfg, err := w.loader.Load()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to reload config, keeping previous")
			return
		}
		if err := cfg.Validate(); err != nil {
			log.Warn().Err(err).Msg("Reloaded config is invalid, keeping previous")
			return
		}
		log.Info().Str("path", w.path).Msg("Configuration reloaded")
		w.onReload(cfg)
	})
}

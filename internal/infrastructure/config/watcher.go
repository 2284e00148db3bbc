package config

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/pkg/safego"
)

// Watcher hot-reloads one config file. It watches the parent directory
// because editors replace files via rename, which drops a watch on the
// file itself.
type Watcher struct {
	path   string
	logger *zap.Logger

	mu      sync.RWMutex
	current *Config

	fs     *fsnotify.Watcher
	onLoad func(*Config)
}

// NewWatcher loads path once and starts watching it. onLoad, when
// non-nil, runs after every successful reload.
func NewWatcher(path string, logger *zap.Logger, onLoad func(*Config)) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(filepath.Dir(path)); err != nil {
		fs.Close()
		return nil, err
	}

	w := &Watcher{
		path:    path,
		logger:  logger.With(zap.String("component", "config-watcher")),
		current: cfg,
		fs:      fs,
		onLoad:  onLoad,
	}
	safego.Go(w.logger, "config-watcher", w.loop)
	return w, nil
}

// Config returns the most recently loaded configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		// A half-written or invalid file keeps the previous config.
		w.logger.Warn("Config reload failed, keeping previous",
			zap.String("path", w.path),
			zap.Error(err),
		)
		return
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	w.logger.Info("Config reloaded", zap.String("path", w.path))
	if w.onLoad != nil {
		w.onLoad(cfg)
	}
}

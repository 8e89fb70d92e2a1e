package config

import (
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"kptv-proxy/work/logger"
)

// Watcher reloads dir's config files on any change and swaps the process's
// active *Config via atomic.Pointer, never by mutating fields in place
// (spec §9 "hot-reload swaps by generation counter, never by mutation in
// place"). Grounded on fsnotify's watch-loop idiom as used elsewhere in
// the retrieved corpus for config directories (ManuGH-xg2g), applied here
// to config.yml/source.yml/mapping.yml (or mapping.d/)/api-proxy.yml.
type Watcher struct {
	dir     string
	fsw     *fsnotify.Watcher
	current atomic.Pointer[Config]
	log     *logger.Logger
	onSwap  func(*Config)
}

// NewWatcher performs the initial load and starts watching dir for
// changes. onSwap, if non-nil, is invoked with each newly loaded Config
// after a successful reload (the composition root uses it to rebuild
// derived state: compiled filters/mappers, pipeline TargetSpecs).
func NewWatcher(dir string, log *logger.Logger, onSwap func(*Config)) (*Watcher, error) {
	if log == nil {
		log = logger.NewWithPrefix("INFO", "config-watcher")
	}
	cfg, err := loadFromDir(dir, log)
	if err != nil {
		return nil, err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	if cfg.Global.MappingDir != "" {
		if err := fsw.Add(filepath.Join(dir, cfg.Global.MappingDir)); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	w := &Watcher{dir: dir, fsw: fsw, log: log, onSwap: onSwap}
	w.current.Store(cfg)
	go w.run()
	return w, nil
}

// Current returns the active Config. Safe for concurrent use with reload.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// Reload forces an immediate re-read of dir, outside the fsnotify event
// loop, for the admin API's manual reload action.
func (w *Watcher) Reload() {
	w.reload()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Error("{config/watch - run} watch error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := loadFromDir(w.dir, w.log)
	if err != nil {
		w.log.Warn("{config/watch - reload} keeping previous config: %v", err)
		return
	}
	prev := w.current.Load()
	cfg.Generation = prev.Generation + 1
	w.current.Store(cfg)
	w.log.Info("{config/watch - reload} config reloaded (generation %d)", cfg.Generation)
	if w.onSwap != nil {
		w.onSwap(cfg)
	}
}

// Close stops the watcher's fsnotify loop.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

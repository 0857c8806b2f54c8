package config

import (
	"os"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the logging and memory.context_limit sections of a
// config file. It never touches provider credentials: a reload only copies
// those two sections onto the live Config, everything else requires a
// restart. Watch failures degrade to a no-op — the process keeps running on
// its last-loaded config, which matches the propagation policy that
// ambient/infrastructure setup failures never become fatal to the caller.
type Watcher struct {
	mu       sync.Mutex
	path     string
	log      *zap.Logger
	cfg      *Config
	onReload func(Logging, int)
	fsw      *fsnotify.Watcher
	closed   chan struct{}
}

// WatchConfigFile starts watching path for changes and applies reloadable
// sections onto cfg as they change. onReload, if non-nil, is called with the
// freshly reloaded Logging section and memory.context_limit after cfg is
// updated, so the owner can push the change into already-running components
// (e.g. a live log level, an injector's token budget) that hold copies of
// those values rather than a pointer into cfg. Returns a no-op Watcher
// (never an error) if the watch cannot be established, since this is a
// best-effort feature.
func WatchConfigFile(path string, cfg *Config, log *zap.Logger, onReload func(Logging, int)) *Watcher {
	w := &Watcher{path: path, log: log, cfg: cfg, onReload: onReload, closed: make(chan struct{})}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		log.Warn("config watch disabled: could not create fsnotify watcher", zap.Error(err))
		return w
	}
	if err := fsw.Add(path); err != nil {
		log.Warn("config watch disabled: could not watch file", zap.String("path", path), zap.Error(err))
		fsw.Close()
		return w
	}
	w.fsw = fsw

	go w.loop()
	return w
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", zap.Error(err))
		case <-w.closed:
			return
		}
	}
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.log.Warn("config reload failed to read file", zap.Error(err))
		return
	}

	var reloaded Config
	reloaded = Defaults()
	if err := decodeInto(w.path, data, &reloaded); err != nil {
		w.log.Warn("config reload failed to parse file", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.cfg.Logging = reloaded.Logging
	w.cfg.Memory.ContextLimit = reloaded.Memory.ContextLimit
	w.mu.Unlock()

	if w.onReload != nil {
		w.onReload(reloaded.Logging, reloaded.Memory.ContextLimit)
	}
	w.log.Info("config hot-reloaded logging and memory.context_limit sections")
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.closed)
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

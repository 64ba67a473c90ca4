package config

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"

	honeylink "github.com/honeylink/core"
)

// debounceDuration coalesces rapid successive fsnotify events (editors
// often write via temp-file-then-rename) into a single reload.
const debounceDuration = 500 * time.Millisecond

// Holder holds a validated Config with atomic hot-reload: non-security
// sensitive fields may change at runtime by editing the backing file,
// while reads never observe a partially-applied config.
type Holder struct {
	path     string
	current  atomic.Pointer[Config]
	watcher  *fsnotify.Watcher
	log      *log.Entry
	mu       sync.Mutex
	watching chan struct{}

	listenersMu sync.Mutex
	listeners   []chan<- Config
}

// NewHolder loads path via Load and returns a Holder wrapping the
// result.
func NewHolder(path string) (*Holder, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	h := &Holder{
		path: path,
		log:  log.WithField(trace.Component, honeylink.Component("config")),
	}
	h.current.Store(&cfg)
	return h, nil
}

// Get returns the current configuration snapshot.
func (h *Holder) Get() Config {
	return *h.current.Load()
}

// Reload re-reads the backing file and env overrides; if the result
// fails validation the previous configuration is retained and an error
// is returned, so a bad edit never takes a running daemon down.
func (h *Holder) Reload() error {
	next, err := Load(h.path)
	if err != nil {
		h.log.WithError(err).Warn("config reload failed, keeping previous configuration")
		return trace.Wrap(err)
	}
	h.current.Store(&next)
	h.notify(next)
	h.log.Info("configuration reloaded")
	return nil
}

// Subscribe registers ch to receive every successfully reloaded Config.
// The caller owns ch and is responsible for draining it.
func (h *Holder) Subscribe(ch chan<- Config) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg Config) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
		}
	}
}

// Watch starts watching the config file's directory for changes,
// debouncing bursts of events into a single Reload call. A no-op if
// Holder was constructed with an empty path (ENV-only configuration).
func (h *Holder) Watch(ctx context.Context) error {
	if h.path == "" {
		h.log.Info("config file watching disabled, using ENV-only configuration")
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watcher != nil {
		return trace.AlreadyExists("config watcher already running")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return trace.Wrap(err, "creating config watcher")
	}
	dir := filepath.Dir(h.path)
	base := filepath.Base(h.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return trace.Wrap(err, "watching config directory %s", dir)
	}
	h.watcher = w
	h.watching = make(chan struct{})
	go h.watchLoop(ctx, base)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, base string) {
	var timer *time.Timer
	defer h.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			close(h.watching)
			return
		case ev, ok := <-h.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounceDuration, func() {
				if err := h.Reload(); err != nil {
					h.log.WithError(err).Error("automatic config reload failed")
				}
			})
		case err, ok := <-h.watcher.Errors:
			if !ok {
				return
			}
			h.log.WithError(err).Warn("config watcher error")
		}
	}
}

// Stop stops the file watcher, if running.
func (h *Holder) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.watcher == nil {
		return
	}
	h.watcher.Close()
	h.watcher = nil
}

package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the Watcher waits after the last file
// system event before it reloads the file.
const DefaultWatchDebounce = 200 * time.Millisecond

// kubeletDataDir is the symlink kubelet swaps when a mounted ConfigMap changes.
const kubeletDataDir = "..data"

// Watcher reloads a configuration file when it changes on disk.
//
// The parent directory is watched rather than the file itself, so that
// atomic replacements (rename over the file, or the symlink swap of a
// mounted ConfigMap) are seen. Invalid configurations are logged and
// ignored; the last valid one stays in effect.
type Watcher struct {
	path     string
	logger   *slog.Logger
	onChange func(*Config)
	onError  func(error)
	debounce time.Duration

	last [sha256.Size]byte
}

// NewWatcher creates a Watcher for path. current is the content the running
// configuration was loaded from; onChange is only called for content that
// differs from it.
func NewWatcher(path string, current []byte, onChange func(*Config), logger *slog.Logger) *Watcher {
	return &Watcher{
		path:     filepath.Clean(path),
		logger:   logger.With("component", "config-watcher"),
		onChange: onChange,
		debounce: DefaultWatchDebounce,
		last:     sha256.Sum256(current),
	}
}

// OnError registers a callback for configurations that failed to load.
func (w *Watcher) OnError(fn func(error)) {
	w.onError = fn
}

// Run watches the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	w.logger.Debug("watching configuration file", "path", w.path)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("configuration file watch error", "error", err)

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	name := filepath.Clean(ev.Name)
	return name == w.path || filepath.Base(name) == kubeletDataDir
}

func (w *Watcher) reload() {
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.fail(fmt.Errorf("failed to read config file: %w", err))
		return
	}

	sum := sha256.Sum256(data)
	if sum == w.last {
		return
	}

	cfg, err := LoadConfig(string(data))
	if err == nil {
		err = ValidateStructure(cfg)
	}
	if err != nil {
		w.fail(err)
		return
	}

	w.last = sum
	w.logger.Info("configuration file changed", "path", w.path)
	w.onChange(cfg)
}

func (w *Watcher) fail(err error) {
	w.logger.Warn("ignoring invalid configuration", "path", w.path, "error", err)
	if w.onError != nil {
		w.onError(err)
	}
}

package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"forumsearch/pkg/auth"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// PolicyUpdater receives reloaded rate-limit policies
type PolicyUpdater interface {
	UpdatePolicies(policies map[auth.Action]auth.Policy) error
}

// Watcher reloads rate-limit policies when the config file changes. An
// invalid file is logged and the running policies are kept.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	updater  PolicyUpdater
	logger   *zap.Logger
	debounce time.Duration

	mu       sync.Mutex
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
	started  bool
	reloads  int
}

// NewWatcher watches path and pushes policies into updater
func NewWatcher(path string, updater PolicyUpdater, logger *zap.Logger) (*Watcher, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	// Watch the directory so atomic saves (write to temp, rename) are seen
	if err := fw.Add(filepath.Dir(path)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:     path,
		watcher:  fw,
		updater:  updater,
		logger:   logger,
		debounce: 100 * time.Millisecond,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching in a goroutine
func (w *Watcher) Start() {
	w.mu.Lock()
	w.started = true
	w.mu.Unlock()

	go w.watchLoop()
	w.logger.Info("Configuration watcher started", zap.String("path", w.path))
}

// Stop stops watching and waits for the loop to exit
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.watcher.Close()

		w.mu.Lock()
		started := w.started
		w.mu.Unlock()
		if started {
			<-w.doneCh
		}
		w.logger.Info("Configuration watcher stopped")
	})
}

// Reloads returns how many reloads were applied
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) watchLoop() {
	defer close(w.doneCh)

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.Reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))
		}
	}
}

// Reload re-reads the file and applies its policies
func (w *Watcher) Reload() {
	w.logger.Info("Configuration file changed, reloading", zap.String("path", w.path))

	policies, err := ReadPolicies(w.path)
	if err != nil {
		w.logger.Error("Invalid configuration, keeping current policies", zap.Error(err))
		return
	}
	if err := w.updater.UpdatePolicies(policies); err != nil {
		w.logger.Error("Rate limit policies rejected, keeping current", zap.Error(err))
		return
	}

	w.mu.Lock()
	w.reloads++
	w.mu.Unlock()

	fields := make([]zap.Field, 0, len(policies))
	for action, p := range policies {
		fields = append(fields, zap.String(string(action), fmt.Sprintf("%d/%s block %s", p.Requests, p.Window, p.Block)))
	}
	w.logger.Info("Rate limit policies reloaded", fields...)
}

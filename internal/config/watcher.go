package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"vitalis/internal/logging"
)

// ThresholdWatcher watches a threshold-override YAML file and hot-reloads
// it. Threshold tuning is the one config surface operators adjust at
// runtime; everything else requires a restart.
type ThresholdWatcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	path        string
	overrides   map[string]ThresholdOverride
	debounce    time.Duration
	lastEvent   time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	ReloadCount int
}

// NewThresholdWatcher creates a watcher for the given override file. The
// file may not exist yet; the watcher monitors its directory.
func NewThresholdWatcher(path string, initial map[string]ThresholdOverride) (*ThresholdWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	ov := make(map[string]ThresholdOverride, len(initial))
	for k, v := range initial {
		ov[k] = v
	}
	return &ThresholdWatcher{
		watcher:   watcher,
		path:      path,
		overrides: ov,
		debounce:  500 * time.Millisecond,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Override returns the current override for a metric key, if any.
func (tw *ThresholdWatcher) Override(metricKey string) (ThresholdOverride, bool) {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	ov, ok := tw.overrides[metricKey]
	return ov, ok
}

// Snapshot returns a copy of all current overrides.
func (tw *ThresholdWatcher) Snapshot() map[string]ThresholdOverride {
	tw.mu.RLock()
	defer tw.mu.RUnlock()
	out := make(map[string]ThresholdOverride, len(tw.overrides))
	for k, v := range tw.overrides {
		out[k] = v
	}
	return out
}

// Start begins watching. Non-blocking.
func (tw *ThresholdWatcher) Start(ctx context.Context) error {
	tw.mu.Lock()
	if tw.running {
		tw.mu.Unlock()
		return nil
	}
	tw.running = true
	tw.mu.Unlock()

	dir := filepath.Dir(tw.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		logging.Get(logging.CategoryBoot).Warn("ThresholdWatcher: failed to create dir %s: %v", dir, err)
	}
	if err := tw.watcher.Add(dir); err != nil {
		return err
	}

	// Initial load if the file already exists.
	tw.reload()

	go tw.run(ctx)
	return nil
}

func (tw *ThresholdWatcher) run(ctx context.Context) {
	defer close(tw.doneCh)
	log := logging.Get(logging.CategoryBoot)
	for {
		select {
		case <-ctx.Done():
			return
		case <-tw.stopCh:
			return
		case ev, ok := <-tw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(tw.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			now := time.Now()
			tw.mu.Lock()
			tooSoon := now.Sub(tw.lastEvent) < tw.debounce
			tw.lastEvent = now
			tw.mu.Unlock()
			if tooSoon {
				continue
			}
			tw.reload()
		case err, ok := <-tw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("ThresholdWatcher: watch error: %v", err)
		}
	}
}

func (tw *ThresholdWatcher) reload() {
	log := logging.Get(logging.CategoryBoot)
	data, err := os.ReadFile(tw.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn("ThresholdWatcher: read %s: %v", tw.path, err)
		}
		return
	}
	var parsed map[string]ThresholdOverride
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		// Keep the last good overrides on parse failure.
		log.Warn("ThresholdWatcher: parse %s: %v (keeping previous overrides)", tw.path, err)
		return
	}
	tw.mu.Lock()
	tw.overrides = parsed
	tw.ReloadCount++
	tw.mu.Unlock()
	log.Info("ThresholdWatcher: reloaded %d metric overrides from %s", len(parsed), tw.path)
}

// Stop stops the watcher and waits for the goroutine to exit.
func (tw *ThresholdWatcher) Stop() {
	tw.mu.Lock()
	if !tw.running {
		tw.mu.Unlock()
		return
	}
	tw.running = false
	tw.mu.Unlock()

	close(tw.stopCh)
	tw.watcher.Close()
	<-tw.doneCh
}

// Package config - watcher.go provides config file hot-reload support.
//
// The watcher polls the config file for changes (stat-based, every 5 seconds)
// and notifies registered callbacks when portfolio parameters change.
//
// Only portfolio configuration is reloadable. Database URL, trading mode,
// and other structural settings require an engine restart.
package config

import (
	"encoding/json"
	"log"
	"os"
	"sync"
	"time"
)

// ConfigWatcher monitors the config file for changes and invokes callbacks
// when portfolio-related fields change. It uses stat-based polling (no
// external dependencies like fsnotify required).
type ConfigWatcher struct {
	path     string
	logger   *log.Logger
	mu       sync.RWMutex
	current  *Config
	lastMod  time.Time
	onChange []func(old, new *Config)
	done     chan struct{}
	stopped  bool
}

// NewConfigWatcher creates a watcher for the given config file path.
// initial is the currently loaded config. The watcher does not start
// until Start() is called.
func NewConfigWatcher(path string, initial *Config, logger *log.Logger) *ConfigWatcher {
	if logger == nil {
		logger = log.New(log.Writer(), "", log.LstdFlags)
	}
	return &ConfigWatcher{
		path:    path,
		logger:  logger,
		current: initial,
		done:    make(chan struct{}),
	}
}

// OnChange registers a callback that will be called when the config file
// changes and the new config passes validation. Multiple callbacks may
// be registered. Callbacks receive the old and new config values.
//
// Only portfolio config changes trigger callbacks. Changes to database URL
// or trading mode are ignored (they require a restart).
func (w *ConfigWatcher) OnChange(fn func(old, new *Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start begins polling the config file for changes. It returns immediately;
// the watcher runs in a background goroutine. Returns an error if the
// initial file stat fails.
func (w *ConfigWatcher) Start() error {
	info, err := os.Stat(w.path)
	if err != nil {
		return err
	}
	w.lastMod = info.ModTime()
	w.logger.Printf("[config-watcher] watching %s for changes (poll interval: 5s)", w.path)

	go w.pollLoop()
	return nil
}

// Stop stops the config watcher. Safe to call multiple times.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		w.stopped = true
		close(w.done)
		w.logger.Println("[config-watcher] stopped")
	}
}

// Current returns the most recently loaded valid config.
func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// ────────────────────────────────────────────────────────────────────
// Internal
// ────────────────────────────────────────────────────────────────────

func (w *ConfigWatcher) pollLoop() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.checkForChanges()
		}
	}
}

func (w *ConfigWatcher) checkForChanges() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] stat error: %v", err)
		return
	}

	if !info.ModTime().After(w.lastMod) {
		return // file hasn't changed
	}
	w.lastMod = info.ModTime()

	// Read and parse new config.
	data, err := os.ReadFile(w.path)
	if err != nil {
		w.logger.Printf("[config-watcher] read error: %v", err)
		return
	}

	var newCfg Config
	if err := json.Unmarshal(data, &newCfg); err != nil {
		w.logger.Printf("[config-watcher] parse error (keeping old config): %v", err)
		return
	}

	// Validate the new config.
	if err := newCfg.Validate(); err != nil {
		w.logger.Printf("[config-watcher] validation error (keeping old config): %v", err)
		return
	}

	// Check if portfolio-related fields actually changed.
	w.mu.RLock()
	oldCfg := w.current
	w.mu.RUnlock()

	if !portfolioConfigChanged(oldCfg.Portfolio, newCfg.Portfolio) {
		w.logger.Printf("[config-watcher] file changed but portfolio config unchanged, skipping")
		return
	}

	// Log what changed.
	w.logPortfolioChanges(oldCfg.Portfolio, newCfg.Portfolio)

	// Apply the new config and notify callbacks.
	w.mu.Lock()
	w.current = &newCfg
	callbacks := make([]func(old, new *Config), len(w.onChange))
	copy(callbacks, w.onChange)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(oldCfg, &newCfg)
	}
}

// portfolioConfigChanged returns true if any reloadable field changed.
func portfolioConfigChanged(old, new PortfolioConfig) bool {
	return old != new
}

func (w *ConfigWatcher) logPortfolioChanges(old, new PortfolioConfig) {
	if old.MaxSlots != new.MaxSlots {
		w.logger.Printf("[config-watcher] max_slots: %d -> %d", old.MaxSlots, new.MaxSlots)
	}
	if old.RotationMinScoreDelta != new.RotationMinScoreDelta {
		w.logger.Printf("[config-watcher] rotation_min_score_delta: %.3f -> %.3f", old.RotationMinScoreDelta, new.RotationMinScoreDelta)
	}
	if old.RotationLossPriorityPct != new.RotationLossPriorityPct {
		w.logger.Printf("[config-watcher] rotation_loss_priority_pct: %.2f -> %.2f", old.RotationLossPriorityPct, new.RotationLossPriorityPct)
	}
	if old.RotationMaxPerCycle != new.RotationMaxPerCycle {
		w.logger.Printf("[config-watcher] rotation_max_per_cycle: %d -> %d", old.RotationMaxPerCycle, new.RotationMaxPerCycle)
	}
	if old.RotationMinHoldingHours != new.RotationMinHoldingHours {
		w.logger.Printf("[config-watcher] rotation_min_holding_hours: %.1f -> %.1f", old.RotationMinHoldingHours, new.RotationMinHoldingHours)
	}
	if old.RotationCooldownHours != new.RotationCooldownHours {
		w.logger.Printf("[config-watcher] rotation_reentry_cooldown_hours: %.1f -> %.1f", old.RotationCooldownHours, new.RotationCooldownHours)
	}
}

// Package autosave orchestrates draft persistence: debounced and periodic
// saves, an in-flight concurrency guard, local fallback when the remote
// store is unreachable, and reconnect bulk-sync of cached snapshots.
package autosave

import "time"

// Config holds coordinator configuration.
type Config struct {
	AutoSaveInterval time.Duration // Periodic safety-net save (default: 30 seconds)
	DebounceDelay    time.Duration // Pause before committing an edit (default: 5 seconds)
	RequeueDelay     time.Duration // Delay before running a stashed edit (default: 100 ms)
	Enabled          bool          // When false, no timers run and RequestSave is a no-op
}

// DefaultConfig returns default coordinator configuration.
func DefaultConfig() *Config {
	return &Config{
		AutoSaveInterval: 30 * time.Second,
		DebounceDelay:    5 * time.Second,
		RequeueDelay:     100 * time.Millisecond,
		Enabled:          true,
	}
}

// fillDefaults replaces zero durations with defaults.
func (c *Config) fillDefaults() {
	defaults := DefaultConfig()
	if c.AutoSaveInterval <= 0 {
		c.AutoSaveInterval = defaults.AutoSaveInterval
	}
	if c.DebounceDelay <= 0 {
		c.DebounceDelay = defaults.DebounceDelay
	}
	if c.RequeueDelay <= 0 {
		c.RequeueDelay = defaults.RequeueDelay
	}
}

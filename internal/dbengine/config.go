package dbengine

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// RetryPolicy configures with_retry's attempt budget and backoff shape.
type RetryPolicy struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
}

// DefaultRetryPolicy is the production retry policy: three attempts, 50ms
// initial delay, doubling up to 2s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      50 * time.Millisecond,
		MaxDelay:          2 * time.Second,
		BackoffMultiplier: 2,
	}
}

// Config is the immutable-per-instance set of engine configuration options
// described in the external interface: file path, pragmas, timeouts, and
// the graceful-degradation switch.
type Config struct {
	Path                string
	BusyTimeoutMs       int
	EnableWAL           bool
	CacheSizePages      int
	PageSize            int
	OperationTimeout    time.Duration
	QueueTimeout        time.Duration
	TestMode            bool
	GracefulDegradation bool
	RetryPolicy         RetryPolicy

	// MaxConcurrentReads bounds how many query() calls may be in flight
	// against the connection at once. Zero means unlimited: readers are
	// bounded only by whatever concurrency the underlying SQLite build
	// itself allows.
	MaxConcurrentReads int64
}

// DefaultConfig returns production defaults for an engine rooted at path.
func DefaultConfig(path string) Config {
	return Config{
		Path:             path,
		BusyTimeoutMs:    5000,
		EnableWAL:        true,
		CacheSizePages:   -2000, // negative: SQLite interprets as KB of cache
		PageSize:         4096,
		OperationTimeout: 5 * time.Second,
		QueueTimeout:     10 * time.Second,
		RetryPolicy:      DefaultRetryPolicy(),
	}
}

// TestConfig returns the shorter defaults test_mode selects: the same
// topology as DefaultConfig but with timeouts and retry delays cut down so
// that unit tests exercising timeouts and retry exhaustion run in
// milliseconds, not seconds.
func TestConfig(path string) Config {
	cfg := DefaultConfig(path)
	cfg.TestMode = true
	cfg.OperationTimeout = 500 * time.Millisecond
	cfg.QueueTimeout = 500 * time.Millisecond
	cfg.RetryPolicy = RetryPolicy{
		MaxAttempts:       3,
		InitialDelay:      5 * time.Millisecond,
		MaxDelay:          50 * time.Millisecond,
		BackoffMultiplier: 2,
	}
	return cfg
}

func (c *Config) setDefaults() {
	d := DefaultConfig(c.Path)
	if c.BusyTimeoutMs == 0 {
		c.BusyTimeoutMs = d.BusyTimeoutMs
	}
	if c.CacheSizePages == 0 {
		c.CacheSizePages = d.CacheSizePages
	}
	if c.PageSize == 0 {
		c.PageSize = d.PageSize
	}
	if c.OperationTimeout == 0 {
		c.OperationTimeout = d.OperationTimeout
	}
	if c.QueueTimeout == 0 {
		c.QueueTimeout = d.QueueTimeout
	}
	if c.RetryPolicy.MaxAttempts == 0 {
		c.RetryPolicy = d.RetryPolicy
	}
}

// FileConfig is the shape of the optional TOML defaults file. Numeric fields
// left zero fall back to Config's own defaults via setDefaults; the
// retry_policy table falls back as a whole, and only when max_attempts is
// zero. Boolean fields are taken as written, so an absent enable_wal turns
// WAL off.
type FileConfig struct {
	Path                string `toml:"path"`
	BusyTimeoutMs       int    `toml:"busy_timeout_ms"`
	EnableWAL           bool   `toml:"enable_wal"`
	CacheSizePages      int    `toml:"cache_size_pages"`
	PageSize            int    `toml:"page_size"`
	OperationTimeoutMs  int    `toml:"operation_timeout_ms"`
	QueueTimeoutMs      int    `toml:"queue_timeout_ms"`
	GracefulDegradation bool   `toml:"graceful_degradation"`
	RetryPolicy         struct {
		MaxAttempts       int     `toml:"max_attempts"`
		InitialDelayMs    int     `toml:"initial_delay_ms"`
		MaxDelayMs        int     `toml:"max_delay_ms"`
		BackoffMultiplier float64 `toml:"backoff_multiplier"`
	} `toml:"retry_policy"`
}

// LoadConfigFile reads and decodes a TOML defaults file, the format the
// rest of this codebase's configuration layer already uses.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	if _, err := os.Stat(path); err != nil {
		return fc, err
	}
	_, err := toml.DecodeFile(path, &fc)
	return fc, err
}

// Config converts the decoded file into an engine Config, applying
// setDefaults for anything the file left unset.
func (fc FileConfig) Config() Config {
	cfg := Config{
		Path:                fc.Path,
		BusyTimeoutMs:       fc.BusyTimeoutMs,
		EnableWAL:           fc.EnableWAL,
		CacheSizePages:      fc.CacheSizePages,
		PageSize:            fc.PageSize,
		OperationTimeout:    time.Duration(fc.OperationTimeoutMs) * time.Millisecond,
		QueueTimeout:        time.Duration(fc.QueueTimeoutMs) * time.Millisecond,
		GracefulDegradation: fc.GracefulDegradation,
		RetryPolicy: RetryPolicy{
			MaxAttempts:       fc.RetryPolicy.MaxAttempts,
			InitialDelay:      time.Duration(fc.RetryPolicy.InitialDelayMs) * time.Millisecond,
			MaxDelay:          time.Duration(fc.RetryPolicy.MaxDelayMs) * time.Millisecond,
			BackoffMultiplier: fc.RetryPolicy.BackoffMultiplier,
		},
	}
	cfg.setDefaults()
	return cfg
}

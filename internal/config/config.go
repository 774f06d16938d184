package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/harrison/sentinel/internal/models"
	"gopkg.in/yaml.v3"
)

// StoreConfig describes how to reach the external analytics store
type StoreConfig struct {
	// URL is the base URL of the store REST API
	URL string `yaml:"url"`

	// Timeout bounds every individual request
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the number of retries after the first attempt for retryable failures
	MaxRetries int `yaml:"max_retries"`

	// Backoff is the initial retry delay; it doubles per attempt up to MaxBackoff
	Backoff time.Duration `yaml:"backoff"`

	// MaxBackoff caps the retry delay
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// SpoolConfig controls the local outbox for records that must not be lost
type SpoolConfig struct {
	// Enabled turns on spooling of at-least-once records that fail delivery
	Enabled bool `yaml:"enabled"`

	// Path is the SQLite database file (empty = $SENTINEL_HOME/spool/outbox.db)
	Path string `yaml:"path"`

	// DrainRate is the replay rate in records per second
	DrainRate float64 `yaml:"drain_rate"`

	// DrainBurst is the limiter burst size
	DrainBurst int `yaml:"drain_burst"`

	// MaxAttempts drops a record after this many failed replays (0 = never)
	MaxAttempts int `yaml:"max_attempts"`
}

// LogConfig controls console and file logging
type LogConfig struct {
	// Level sets the logging verbosity (trace, debug, info, warn, error)
	Level string `yaml:"level"`

	// Dir is the directory where run logs are written
	Dir string `yaml:"dir"`

	// MaxSizeMB rotates the long-running log after this size
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files to keep
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays deletes rotated files older than this
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files
	Compress bool `yaml:"compress"`
}

// SLAConfig holds the service-level thresholds the components are measured against
type SLAConfig struct {
	Validation       time.Duration `yaml:"validation"`        // Validation call latency
	MonitoringReport time.Duration `yaml:"monitoring_report"` // Sample to store acknowledgement
	ChaosRecovery    time.Duration `yaml:"chaos_recovery"`    // Recovery time for a successful experiment
	MTTD             time.Duration `yaml:"mttd"`              // Mean time to detect
	MTTR             time.Duration `yaml:"mttr"`              // Mean time to recover
	SuccessRate      float64       `yaml:"success_rate"`      // Workflow success rate floor (0-1)
	TestCoverage     float64       `yaml:"test_coverage"`     // Test pass ratio floor (0-1)
}

// ValidationConfig tunes the agent health check
type ValidationConfig struct {
	// PingTimeout bounds a single agent ping
	PingTimeout time.Duration `yaml:"ping_timeout"`

	// LatencyLimit marks an agent degraded when ping latency exceeds it
	LatencyLimit time.Duration `yaml:"latency_limit"`

	// UtilizationLimit marks an agent overloaded at or above this CPU or memory percent
	UtilizationLimit float64 `yaml:"utilization_limit"`
}

// ChaosConfig controls failure injection and recovery observation
type ChaosConfig struct {
	// RecoveryTimeout bounds the wait for recovery
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`

	// PollInterval is how often recovery predicates are checked
	PollInterval time.Duration `yaml:"poll_interval"`

	// DefaultDuration is the fault duration when none is given
	DefaultDuration time.Duration `yaml:"default_duration"`

	// LockDir holds per-target lock files shared between processes (empty = in-process only)
	LockDir string `yaml:"lock_dir"`

	// ResourceThreshold is the utilization percent under which an exhausted resource counts as recovered
	ResourceThreshold float64 `yaml:"resource_threshold"`

	// Commands maps an experiment kind to the shell command that injects it.
	// Templates may reference {{.Target}}, {{.Agent}}, {{.Resource}}, {{.Rate}} and {{.Seconds}}.
	Commands map[string]string `yaml:"commands"`
}

// ThresholdConfig raises an alert when a metric exceeds Above
type ThresholdConfig struct {
	Metric   string          `yaml:"metric"`
	Above    float64         `yaml:"above"`
	Severity models.Severity `yaml:"severity"`
	Message  string          `yaml:"message"`
}

// InfluxConfig enables mirroring metric batches to InfluxDB when URL is set
type InfluxConfig struct {
	URL    string `yaml:"url"`
	Token  string `yaml:"token"`
	Org    string `yaml:"org"`
	Bucket string `yaml:"bucket"`
}

// MonitorConfig controls the monitoring loops
type MonitorConfig struct {
	MetricsInterval time.Duration     `yaml:"metrics_interval"`
	LogsInterval    time.Duration     `yaml:"logs_interval"`
	LogBufferSize   int               `yaml:"log_buffer_size"`
	AlertCooldown   time.Duration     `yaml:"alert_cooldown"`
	MetricsAddr     string            `yaml:"metrics_addr"` // Prometheus listen address (empty = disabled)
	Workflows       []string          `yaml:"workflows"`    // workflow ids whose store executions feed the app gauges
	StatsWindow     time.Duration     `yaml:"stats_window"`
	Thresholds      []ThresholdConfig `yaml:"thresholds"`
	Influx          InfluxConfig      `yaml:"influx"`
}

// Config represents sentinel configuration options
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Spool      SpoolConfig      `yaml:"spool"`
	Log        LogConfig        `yaml:"log"`
	SLA        SLAConfig        `yaml:"sla"`
	Validation ValidationConfig `yaml:"validation"`
	Chaos      ChaosConfig      `yaml:"chaos"`
	Monitor    MonitorConfig    `yaml:"monitor"`
}

// DefaultThresholds are the alert rules used when the config file sets none
func DefaultThresholds() []ThresholdConfig {
	return []ThresholdConfig{
		{Metric: "system.cpu.percent", Above: 90, Severity: models.SeverityWarning, Message: "cpu utilization high"},
		{Metric: "system.memory.percent", Above: 90, Severity: models.SeverityWarning, Message: "memory utilization high"},
		{Metric: "system.disk.percent", Above: 95, Severity: models.SeverityError, Message: "disk almost full"},
		{Metric: "app.error_rate", Above: 0.05, Severity: models.SeverityError, Message: "workflow error rate above 5%"},
		{Metric: "app.workflow_latency_p99", Above: 300, Severity: models.SeverityCritical, Message: "p99 workflow latency above 5m"},
	}
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			URL:        "http://localhost:8080",
			Timeout:    10 * time.Second,
			MaxRetries: 3,
			Backoff:    200 * time.Millisecond,
			MaxBackoff: 5 * time.Second,
		},
		Spool: SpoolConfig{
			Enabled:     true,
			DrainRate:   20,
			DrainBurst:  5,
			MaxAttempts: 50,
		},
		Log: LogConfig{
			Level:      "info",
			Dir:        ".sentinel/logs",
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 14,
		},
		SLA: SLAConfig{
			Validation:       100 * time.Millisecond,
			MonitoringReport: 5 * time.Second,
			ChaosRecovery:    models.DefaultRecoverySLA,
			MTTD:             2 * time.Minute,
			MTTR:             5 * time.Minute,
			SuccessRate:      0.95,
			TestCoverage:     0.80,
		},
		Validation: ValidationConfig{
			PingTimeout:      2 * time.Second,
			LatencyLimit:     100 * time.Millisecond,
			UtilizationLimit: 90,
		},
		Chaos: ChaosConfig{
			RecoveryTimeout:   5 * time.Minute,
			PollInterval:      time.Second,
			DefaultDuration:   10 * time.Second,
			ResourceThreshold: 80,
		},
		Monitor: MonitorConfig{
			MetricsInterval: 10 * time.Second,
			LogsInterval:    5 * time.Second,
			LogBufferSize:   1000,
			AlertCooldown:   time.Minute,
			StatsWindow:     5 * time.Minute,
			Thresholds:      DefaultThresholds(),
		},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Keys present in the file overwrite the defaults; absent keys keep them.
	// Durations are written as Go duration strings ("30s", "5m").
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .sentinel/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	configPath := filepath.Join(dir, ".sentinel", "config.yaml")
	return LoadConfig(configPath)
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(storeURL *string, logLevel *string, logDir *string, metricsAddr *string) {
	if storeURL != nil {
		c.Store.URL = *storeURL
	}
	if logLevel != nil {
		c.Log.Level = *logLevel
	}
	if logDir != nil {
		c.Log.Dir = *logDir
	}
	if metricsAddr != nil {
		c.Monitor.MetricsAddr = *metricsAddr
	}
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	if c.Store.URL == "" {
		return fmt.Errorf("store.url cannot be empty")
	}
	if c.Store.Timeout <= 0 {
		return fmt.Errorf("store.timeout must be > 0, got %v", c.Store.Timeout)
	}
	if c.Store.MaxRetries < 0 {
		return fmt.Errorf("store.max_retries must be >= 0, got %d", c.Store.MaxRetries)
	}
	if c.Store.Backoff < 0 || c.Store.MaxBackoff < c.Store.Backoff {
		return fmt.Errorf("store.backoff must be >= 0 and <= store.max_backoff")
	}

	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log.level %q, must be one of: trace, debug, info, warn, error", c.Log.Level)
	}

	if c.Spool.Enabled {
		if c.Spool.DrainRate <= 0 {
			return fmt.Errorf("spool.drain_rate must be > 0, got %v", c.Spool.DrainRate)
		}
		if c.Spool.DrainBurst <= 0 {
			return fmt.Errorf("spool.drain_burst must be > 0, got %d", c.Spool.DrainBurst)
		}
		if c.Spool.MaxAttempts < 0 {
			return fmt.Errorf("spool.max_attempts must be >= 0, got %d", c.Spool.MaxAttempts)
		}
	}

	if c.SLA.SuccessRate < 0 || c.SLA.SuccessRate > 1 {
		return fmt.Errorf("sla.success_rate must be within [0,1], got %v", c.SLA.SuccessRate)
	}
	if c.SLA.TestCoverage < 0 || c.SLA.TestCoverage > 1 {
		return fmt.Errorf("sla.test_coverage must be within [0,1], got %v", c.SLA.TestCoverage)
	}
	if c.SLA.ChaosRecovery <= 0 {
		return fmt.Errorf("sla.chaos_recovery must be > 0, got %v", c.SLA.ChaosRecovery)
	}

	if c.Validation.PingTimeout <= 0 {
		return fmt.Errorf("validation.ping_timeout must be > 0, got %v", c.Validation.PingTimeout)
	}
	if c.Validation.UtilizationLimit <= 0 || c.Validation.UtilizationLimit > 100 {
		return fmt.Errorf("validation.utilization_limit must be within (0,100], got %v", c.Validation.UtilizationLimit)
	}

	if c.Chaos.RecoveryTimeout <= 0 {
		return fmt.Errorf("chaos.recovery_timeout must be > 0, got %v", c.Chaos.RecoveryTimeout)
	}
	if c.Chaos.PollInterval <= 0 || c.Chaos.PollInterval > c.Chaos.RecoveryTimeout {
		return fmt.Errorf("chaos.poll_interval must be > 0 and <= chaos.recovery_timeout, got %v", c.Chaos.PollInterval)
	}
	for kind := range c.Chaos.Commands {
		if _, err := models.ParseExperimentKind(kind); err != nil {
			return fmt.Errorf("chaos.commands: %w", err)
		}
	}

	if c.Monitor.MetricsInterval <= 0 {
		return fmt.Errorf("monitor.metrics_interval must be > 0, got %v", c.Monitor.MetricsInterval)
	}
	if c.Monitor.LogsInterval <= 0 {
		return fmt.Errorf("monitor.logs_interval must be > 0, got %v", c.Monitor.LogsInterval)
	}
	if c.Monitor.LogBufferSize <= 0 {
		return fmt.Errorf("monitor.log_buffer_size must be > 0, got %d", c.Monitor.LogBufferSize)
	}
	if c.Monitor.StatsWindow <= 0 {
		return fmt.Errorf("monitor.stats_window must be > 0, got %v", c.Monitor.StatsWindow)
	}
	for i, th := range c.Monitor.Thresholds {
		if th.Metric == "" {
			return fmt.Errorf("monitor.thresholds[%d].metric cannot be empty", i)
		}
	}
	if c.Monitor.Influx.URL != "" && (c.Monitor.Influx.Org == "" || c.Monitor.Influx.Bucket == "") {
		return fmt.Errorf("monitor.influx requires org and bucket when url is set")
	}

	return nil
}

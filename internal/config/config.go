// Package config parses and validates chainkeeper's YAML configuration
// file, mirroring the upstream web3 backend's struct-of-structs shape
// (pkg/config.Config) but with the top-level keys spec.md §6 names.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chainkeeper/chainkeeper/internal/models"
	"github.com/chainkeeper/chainkeeper/internal/logger"
)

// Config is the top-level chainkeeper configuration.
type Config struct {
	Networks        map[string]models.Network        `yaml:"networks"`
	Datafeeds       []models.Datafeed                 `yaml:"datafeeds"`
	DatabaseCleanup DatabaseCleanupConfig              `yaml:"database_cleanup"`
	KeyStorage      KeyStorageConfig                   `yaml:"key_storage"`
	Metrics         MetricsConfig                      `yaml:"metrics"`
	GasPriceFeeds   GasPriceFeedsConfig                `yaml:"gas_price_feeds"`
	ScheduledTasks  []RawScheduledTask                 `yaml:"scheduled_tasks"`
	EventMonitors   []models.EventMonitorDef           `yaml:"event_monitors"`
	Logging         LoggingConfig                      `yaml:"logging"`
}

// DatabaseCleanupConfig is accepted for compatibility with the original
// configuration surface; chainkeeper does not implement persistence
// (spec.md §1 Non-goals), so this is parsed but otherwise unused.
type DatabaseCleanupConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Interval        time.Duration `yaml:"interval"`
	RetentionPeriod time.Duration `yaml:"retention_period"`
}

// KeyStorageConfig selects and configures the secret store backend.
type KeyStorageConfig struct {
	Backend   string        `yaml:"backend"` // env | keyring | vault
	CacheTTL  time.Duration `yaml:"cache_ttl"`
	VaultAddr string        `yaml:"vault_addr,omitempty"`
	VaultPath string        `yaml:"vault_path,omitempty"`
	VaultToken string       `yaml:"vault_token,omitempty"`
}

// MetricsConfig configures the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    int    `yaml:"port"`
	Path    string `yaml:"path"`
}

// GasPriceFeedsConfig configures the gas-price/USD oracle (component C).
type GasPriceFeedsConfig struct {
	Enabled           bool              `yaml:"enabled"`
	UpdateFrequencySecs int             `yaml:"update_frequency_secs"`
	Provider          string            `yaml:"provider"`
	CacheTTLSecs      int               `yaml:"cache_ttl_secs"`
	FallbackToCache   bool              `yaml:"fallback_to_cache"`
	PersistToDatabase bool              `yaml:"persist_to_database"`
	APIBaseURL        string            `yaml:"api_base_url,omitempty"`
	APIKey            string            `yaml:"api_key,omitempty"`
	NetworkTokenIDs   map[string]string `yaml:"network_token_ids"`
}

// UpdateFrequency returns the configured refresh interval.
func (c GasPriceFeedsConfig) UpdateFrequency() time.Duration {
	return time.Duration(c.UpdateFrequencySecs) * time.Second
}

// CacheTTL returns the configured cache TTL.
func (c GasPriceFeedsConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// RawScheduledTask is the YAML shape of a scheduled task; CheckCondition
// is a tagged union that yaml.v3 cannot unmarshal directly into
// models.ScheduledTaskDef, so it is decoded here and converted with
// ToDef.
type RawScheduledTask struct {
	Name            string             `yaml:"name"`
	Network         string             `yaml:"network"`
	CronExpr        string             `yaml:"cron_expr"`
	Property        *models.PropertyCheck `yaml:"property,omitempty"`
	Function        *models.FunctionCheck `yaml:"function,omitempty"`
	TargetCall      models.TargetCall  `yaml:"target_call"`
	MaxGasPriceGwei *float64           `yaml:"max_gas_price_gwei,omitempty"`
}

// ToDef converts the raw YAML shape into the runtime model.
func (r RawScheduledTask) ToDef() models.ScheduledTaskDef {
	var cond *models.CheckCondition
	if r.Property != nil || r.Function != nil {
		cond = &models.CheckCondition{Property: r.Property, Function: r.Function}
	}
	return models.ScheduledTaskDef{
		Name:            r.Name,
		Network:         r.Network,
		CronExpr:        r.CronExpr,
		CheckCondition:  cond,
		TargetCall:      r.TargetCall,
		MaxGasPriceGwei: r.MaxGasPriceGwei,
	}
}

// LoggingConfig configures the process-wide logger.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	JSONFormat bool   `yaml:"json_format"`
}

// Load reads and strictly parses a YAML config file, rejecting unknown
// top-level and nested keys (spec.md §6: "Unknown keys are rejected"),
// then validates every datafeed and event monitor.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.expandEventMonitorEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in the ambient defaults spec.md §6 names for keys
// left unset in the YAML document (the metrics port, most notably).
func (c *Config) applyDefaults() {
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9090
	}
}

// ResolvePath returns the config path to load: the explicit path if
// non-empty, otherwise the CHAINKEEPER_CONFIG environment variable,
// otherwise "config.yaml".
func ResolvePath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if v, ok := os.LookupEnv("CHAINKEEPER_CONFIG"); ok && v != "" {
		return v
	}
	return "config.yaml"
}

// expandEventMonitorEnv substitutes ${NAME}-form references in webhook
// URLs and header values from the process environment, leaving
// references to undefined variables untouched (spec.md §8: "${X} is
// replaced when X is defined and otherwise left literal").
func (c *Config) expandEventMonitorEnv() {
	for i := range c.EventMonitors {
		m := &c.EventMonitors[i]
		m.Webhook.URL = expandEnvLiteral(m.Webhook.URL)
		for k, v := range m.Webhook.Headers {
			m.Webhook.Headers[k] = expandEnvLiteral(v)
		}
	}
}

func expandEnvLiteral(s string) string {
	return os.Expand(s, func(name string) string {
		if v, ok := os.LookupEnv(name); ok {
			return v
		}
		return "${" + name + "}"
	})
}

// Validate checks cross-field invariants and delegates per-entry
// validation to the model types.
func (c *Config) Validate() error {
	for _, f := range c.Datafeeds {
		if err := f.Validate(); err != nil {
			return err
		}
		if _, ok := c.Networks[f.Network]; !ok {
			return fmt.Errorf("datafeed %s: unknown network %q", f.Name, f.Network)
		}
	}
	for _, m := range c.EventMonitors {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, ok := c.Networks[m.Network]; !ok {
			return fmt.Errorf("event_monitor %s: unknown network %q", m.Name, m.Network)
		}
	}
	for _, t := range c.ScheduledTasks {
		if _, ok := c.Networks[t.Network]; !ok {
			return fmt.Errorf("scheduled_task %s: unknown network %q", t.Name, t.Network)
		}
	}
	return nil
}

// LoggerConfig builds a logger.Config from the Logging section.
func (c *Config) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.ParseLevel(c.Logging.Level)
	cfg.JSONFormat = c.Logging.JSONFormat
	cfg.Colorized = !c.Logging.JSONFormat
	return cfg
}

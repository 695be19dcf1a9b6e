package config

import (
	"fmt"
	"os"

	"traffic-observer/src/models"

	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

// Defaults for the tunable business parameters. Deployments override them in
// YAML; the code never hard-codes thresholds anywhere else.
const (
	DefaultDayStartHour      = 9
	DefaultOutlierWindowSize = 48
	DefaultOutlierMultiplier = 10.0
	DefaultOutlierMinCount   = 100
	DefaultCacheTTLSeconds   = 1800
	DefaultCacheMaxEntries   = 128
	DefaultMaxRetries        = 3
	DefaultETLIntervalSec    = 300
	DefaultQueryTimeoutSec   = 30
	DefaultWatermark         = "1900-01-01 00:00:00"
	DefaultErrorLogLimit     = 100
)

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new MConfig instance from YAML file
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	// 2. Unmarshal data into the models struct
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}

	config := &Config{MConfig: &modelConfig}
	config.applyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

func (c *Config) applyDefaults() {
	if c.Outlier.WindowSize == 0 {
		c.Outlier.WindowSize = DefaultOutlierWindowSize
	}
	if c.Outlier.Multiplier == 0 {
		c.Outlier.Multiplier = DefaultOutlierMultiplier
	}
	if c.Outlier.MinCount == 0 {
		c.Outlier.MinCount = DefaultOutlierMinCount
	}
	if c.Cache.Backend == "" {
		c.Cache.Backend = "memory"
	}
	if c.Cache.TTLSeconds == 0 {
		c.Cache.TTLSeconds = DefaultCacheTTLSeconds
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = DefaultCacheMaxEntries
	}
	if c.ETL.MaxRetries == 0 {
		c.ETL.MaxRetries = DefaultMaxRetries
	}
	if c.ETL.DefaultWatermark == "" {
		c.ETL.DefaultWatermark = DefaultWatermark
	}
	if c.ETL.ErrorLogLimit == 0 {
		c.ETL.ErrorLogLimit = DefaultErrorLogLimit
	}
	if c.ETL.IntervalSec == 0 {
		c.ETL.IntervalSec = DefaultETLIntervalSec
	}
	if c.Source.QueryTimeoutSec == 0 {
		c.Source.QueryTimeoutSec = DefaultQueryTimeoutSec
	}
	if c.Business.DayStartHour == 0 {
		c.Business.DayStartHour = DefaultDayStartHour
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	// Validate App configuration (Flattened)
	if c.Name == "" {
		return fmt.Errorf("application name cannot be empty")
	}

	// Validate Server configuration (Flattened)
	if c.Host == "" {
		return fmt.Errorf("server host cannot be empty")
	}
	if c.Port <= 1024 || c.Port > 65535 {
		return fmt.Errorf("invalid server port number: %d (must be between 1025 and 65535)", c.Port)
	}

	// Validate Storage configuration
	if c.Storage.DBPath == "" {
		return fmt.Errorf("analytical store path cannot be empty")
	}

	// Validate Source configuration
	if c.Source.ConnectionString == "" {
		return fmt.Errorf("source connection string cannot be empty")
	}
	if c.Source.TrafficTable == "" || c.Source.ErrorTable == "" || c.Source.StoreTable == "" {
		return fmt.Errorf("source table names cannot be empty")
	}
	if c.Source.QueryTimeoutSec <= 0 {
		return fmt.Errorf("source query timeout must be greater than 0")
	}

	// Validate business-day rules. A day-start offset of a full day or more
	// would shift records across more than one business day.
	if c.Business.DayStartHour < 0 || c.Business.DayStartHour >= 24 {
		return fmt.Errorf("day start hour must be in [0, 24), got %d", c.Business.DayStartHour)
	}
	for storeID, offset := range c.Business.StoreOffsetsMin {
		if offset <= -24*60 || offset >= 24*60 {
			return fmt.Errorf("store %d offset %d minutes exceeds one day", storeID, offset)
		}
	}

	// Validate outlier rules
	if c.Outlier.WindowSize <= 0 {
		return fmt.Errorf("outlier window size must be greater than 0")
	}
	if c.Outlier.Multiplier <= 1 {
		return fmt.Errorf("outlier multiplier must be greater than 1")
	}
	if c.Outlier.MinCount < 0 {
		return fmt.Errorf("outlier min count cannot be negative")
	}

	// Validate cache configuration
	if c.Cache.Backend != "memory" && c.Cache.Backend != "redis" {
		return fmt.Errorf("unknown cache backend %q (want memory or redis)", c.Cache.Backend)
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		return fmt.Errorf("redis address cannot be empty for the redis cache backend")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache TTL must be greater than 0")
	}

	// Validate ETL configuration
	if c.ETL.MaxRetries < 1 {
		return fmt.Errorf("etl max retries must be at least 1")
	}
	if c.ETL.IntervalSec <= 0 {
		return fmt.Errorf("etl interval must be greater than 0")
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	// 1. Marshal the struct to YAML
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	// 2. Write to file (0644 permissions)
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}

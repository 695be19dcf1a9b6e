package models

// MConfig Structure
type MConfig struct {
	Name     string          `yaml:"name"`
	Host     string          `yaml:"host"`
	Port     int             `yaml:"port"`
	LogLevel string          `yaml:"log_level"`
	Source   MSourceConfig   `yaml:"source"`
	Storage  MStorageConfig  `yaml:"storage"`
	Business MBusinessConfig `yaml:"business"`
	Outlier  MOutlierConfig  `yaml:"outlier"`
	Cache    MCacheConfig    `yaml:"cache"`
	ETL      METLConfig      `yaml:"etl"`
}

// MSourceConfig describes the external relational store the counters push to.
type MSourceConfig struct {
	ConnectionString string `yaml:"connection_string"`
	TrafficTable     string `yaml:"traffic_table"`
	ErrorTable       string `yaml:"error_table"`
	StoreTable       string `yaml:"store_table"`
	QueryTimeoutSec  int    `yaml:"query_timeout_seconds"`
}

type MStorageConfig struct {
	DBPath string `yaml:"db_path"`
}

// MBusinessConfig holds the business-day rules. A store's operational day may
// run past midnight, so readings before DayStartHour belong to the previous
// business day. StoreOffsetsMin corrects per-store device clock drift, in
// minutes.
type MBusinessConfig struct {
	DayStartHour    int           `yaml:"day_start_hour"`
	StoreOffsetsMin map[int64]int `yaml:"store_offsets_minutes"`
}

// MOutlierConfig controls the trailing rolling-average outlier flagging.
// A reading is flagged when it exceeds Multiplier times the rolling average
// of the previous WindowSize readings for the same store and is above
// MinCount.
type MOutlierConfig struct {
	WindowSize int     `yaml:"window_size"`
	Multiplier float64 `yaml:"multiplier"`
	MinCount   int64   `yaml:"min_count"`
}

type MCacheConfig struct {
	Backend    string `yaml:"backend"` // "memory" or "redis"
	RedisAddr  string `yaml:"redis_addr"`
	TTLSeconds int    `yaml:"ttl_seconds"`
	MaxEntries int    `yaml:"max_entries"`
}

type METLConfig struct {
	MaxRetries       int    `yaml:"max_retries"`
	DefaultWatermark string `yaml:"default_watermark"` // e.g. "1900-01-01 00:00:00"
	ErrorLogLimit    int    `yaml:"error_log_limit"`
	IntervalSec      int    `yaml:"interval_seconds"` // periodic load cadence in serve mode
}

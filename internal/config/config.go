package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Server    ServerConfig
	Logging   LoggingConfig
	Warehouse WarehouseConfig
	Analyst   AnalystConfig
	Receiver  ReceiverConfig
	Ingest    IngestConfig
	Cache     CacheConfig
}

// ServerConfig holds the HTTP server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

// LoggingConfig holds the logging configuration
type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// WarehouseConfig holds the warehouse connection configuration.
// Driver selects between the Snowflake SQL REST API ("snowflake") and a
// local SQLite file ("sqlite") for development.
type WarehouseConfig struct {
	Driver         string `mapstructure:"driver"`
	Account        string `mapstructure:"account"`
	User           string `mapstructure:"user"`
	Role           string `mapstructure:"role"`
	Warehouse      string `mapstructure:"warehouse"`
	Database       string `mapstructure:"database"`
	Schema         string `mapstructure:"schema"`
	Table          string `mapstructure:"table"`
	Pipe           string `mapstructure:"pipe"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
	SQLitePath     string `mapstructure:"sqlite_path"`
}

// AnalystConfig holds the natural-language analyst configuration.
// Provider selects between the Cortex Analyst REST API ("cortex") and an
// OpenAI-compatible chat endpoint ("chat") for development.
type AnalystConfig struct {
	Provider       string `mapstructure:"provider"`
	SemanticView   string `mapstructure:"semantic_view"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
}

// Timeout returns the analyst request timeout.
func (c AnalystConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ReceiverConfig holds the ADS-B receiver polling configuration
type ReceiverConfig struct {
	URL string `mapstructure:"url"`
}

// IngestConfig holds the collector loop configuration
type IngestConfig struct {
	BatchSize       int    `mapstructure:"batch_size"`
	IntervalSeconds int    `mapstructure:"interval_seconds"`
	Fast            bool   `mapstructure:"fast"`
	ChannelName     string `mapstructure:"channel_name"`
}

// CacheConfig holds the dashboard read-cache configuration. An empty
// RedisAddr selects the in-memory cache.
type CacheConfig struct {
	RedisAddr  string `mapstructure:"redis_addr"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// TTL returns the cache entry lifetime.
func (c CacheConfig) TTL() time.Duration {
	if c.TTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TTLSeconds) * time.Second
}

// Load loads the configuration from the config.yaml file. The CONFIG_PATH
// environment variable overrides the file location; SKYBOARD_* environment
// variables override individual keys.
func Load() (*Config, error) {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		viper.SetConfigFile(path)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("skyboard")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("warehouse.driver", "sqlite")
	viper.SetDefault("warehouse.sqlite_path", "skyboard.db")
	viper.SetDefault("warehouse.table", "ADSB_AIRCRAFT_DATA")
	viper.SetDefault("analyst.provider", "cortex")
	viper.SetDefault("analyst.timeout_seconds", 30)
	viper.SetDefault("receiver.url", "http://localhost:8080/data/aircraft.json")
	viper.SetDefault("ingest.batch_size", 1)
	viper.SetDefault("ingest.interval_seconds", 3)
	viper.SetDefault("ingest.channel_name", "ADSB_CHNL")
	viper.SetDefault("cache.ttl_seconds", 60)

	if err := viper.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	BackendCSV      = "csv"
	BackendPostgres = "postgres"
)

type Config struct {
	Port                    int           `koanf:"port"`
	UploadDir               string        `koanf:"upload_dir"`
	StoreBackend            string        `koanf:"store_backend"`
	DatabaseURL             string        `koanf:"database_url"`
	IngestOnUpload          bool          `koanf:"ingest_on_upload"`
	MaxUploadBytes          int64         `koanf:"max_upload_bytes"`
	MaxConcurrentFiles      int           `koanf:"max_concurrent_files"`
	NumParserWorkers        int           `koanf:"num_parser_workers"`
	NumDBWorkers            int           `koanf:"num_db_workers"`
	DBBatchSize             int           `koanf:"db_batch_size"`
	ResultsChannelSize      int           `koanf:"results_channel_size"`
	LogLevel                string        `koanf:"log_level"`
	LogFormat               string        `koanf:"log_format"`
	CORSOrigins             []string      `koanf:"cors_origins"`
	RateLimitRequests       int           `koanf:"rate_limit_requests"`
	RateLimitWindow         time.Duration `koanf:"rate_limit_window"`
	ShutdownTimeout         time.Duration `koanf:"shutdown_timeout"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerTimeout          time.Duration `koanf:"breaker_timeout"`
}

func defaultConfig() *Config {
	return &Config{
		Port:                    5001,
		UploadDir:               "uploads",
		StoreBackend:            BackendCSV,
		IngestOnUpload:          true,
		MaxUploadBytes:          32 << 20,
		MaxConcurrentFiles:      0,
		NumParserWorkers:        7,
		NumDBWorkers:            2,
		DBBatchSize:             5000,
		ResultsChannelSize:      10000,
		LogLevel:                "info",
		LogFormat:               "json",
		CORSOrigins:             []string{"*"},
		RateLimitRequests:       0,
		RateLimitWindow:         time.Minute,
		ShutdownTimeout:         10 * time.Second,
		BreakerFailureThreshold: 5,
		BreakerTimeout:          30 * time.Second,
	}
}

// envAliases maps legacy variable names onto config keys.
var envAliases = map[string]string{
	"supabase_db_url": "database_url",
	"api_port":        "port",
}

// New builds the configuration from defaults overlaid with environment variables.
func New() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	known := make(map[string]bool)
	for _, key := range k.Keys() {
		known[key] = true
	}

	// Aliases load first so the canonical variable wins when both are set.
	aliasProvider := env.Provider("", ".", func(key string) string {
		return envAliases[strings.ToLower(key)]
	})
	if err := k.Load(aliasProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment aliases: %w", err)
	}

	envProvider := env.Provider("", ".", func(key string) string {
		key = strings.ToLower(key)
		if known[key] {
			return key
		}
		return ""
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := splitListValue(k, "cors_origins"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// splitListValue turns a comma separated environment value into a list.
func splitListValue(k *koanf.Koanf, path string) error {
	raw, ok := k.Get(path).(string)
	if !ok {
		return nil
	}

	values := make([]string, 0)
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			values = append(values, part)
		}
	}
	if err := k.Set(path, values); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

func (c *Config) Validate() error {
	c.StoreBackend = strings.ToLower(strings.TrimSpace(c.StoreBackend))
	switch c.StoreBackend {
	case BackendCSV:
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is not set")
		}
	default:
		return fmt.Errorf("invalid value for STORE_BACKEND: expected csv or postgres, got '%s'", c.StoreBackend)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid value for PORT: %d", c.Port)
	}
	if c.UploadDir == "" {
		return fmt.Errorf("UPLOAD_DIR must not be empty")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("invalid value for MAX_UPLOAD_BYTES: %d", c.MaxUploadBytes)
	}
	if c.MaxConcurrentFiles < 0 {
		return fmt.Errorf("invalid value for MAX_CONCURRENT_FILES: %d", c.MaxConcurrentFiles)
	}
	if c.NumParserWorkers < 1 {
		return fmt.Errorf("invalid value for NUM_PARSER_WORKERS: %d", c.NumParserWorkers)
	}
	if c.NumDBWorkers < 1 {
		return fmt.Errorf("invalid value for NUM_DB_WORKERS: %d", c.NumDBWorkers)
	}
	if c.DBBatchSize < 1 {
		return fmt.Errorf("invalid value for DB_BATCH_SIZE: %d", c.DBBatchSize)
	}
	if c.ResultsChannelSize < 0 {
		return fmt.Errorf("invalid value for RESULTS_CHANNEL_SIZE: %d", c.ResultsChannelSize)
	}
	if c.RateLimitRequests < 0 {
		return fmt.Errorf("invalid value for RATE_LIMIT_REQUESTS: %d", c.RateLimitRequests)
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

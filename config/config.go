package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Marketlake MarketlakeConfig `yaml:"marketlake"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	API        APIConfig        `yaml:"api"`
	Planner    PlannerConfig    `yaml:"planner"`
	Worker     WorkerConfig     `yaml:"worker"`
	Storage    StorageConfig    `yaml:"storage"`
	Logging    LoggingConfig    `yaml:"logging"`
}

type MarketlakeConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type APIConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Key            string               `yaml:"key"`
	Timeout        time.Duration        `yaml:"timeout"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
	Retry          RetryConfig          `yaml:"retry"`
	ConnectionPool ConnectionPoolConfig `yaml:"connection_pool"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseDelay      time.Duration `yaml:"base_delay"`
	MaxDelay       time.Duration `yaml:"max_delay"`
	RateLimitFloor time.Duration `yaml:"rate_limit_floor"`
}

type ConnectionPoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	MaxConnsPerHost int           `yaml:"max_conns_per_host"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

type PlannerConfig struct {
	Interval     time.Duration `yaml:"interval"`
	WindowSize   time.Duration `yaml:"window_size"`
	SafetyLag    time.Duration `yaml:"safety_lag"`
	MaxLookback  time.Duration `yaml:"max_lookback"`
	Symbols      []string      `yaml:"symbols"`
	SymbolsS3URI string        `yaml:"symbols_s3_uri"`
}

type WorkerConfig struct {
	MaxWorkers   int `yaml:"max_workers"`
	TaskBuffer   int `yaml:"task_buffer"`
	ResultBuffer int `yaml:"result_buffer"`
}

type StorageConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	BronzePrefix    string `yaml:"bronze_prefix"`
	MetaPrefix      string `yaml:"meta_prefix"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

type LoggingConfig struct {
	Level         string `yaml:"level"`
	Format        string `yaml:"format"`
	Output        string `yaml:"output"`
	MaxAge        int    `yaml:"max_age"`
	DashboardName string `yaml:"dashboard_name"`
}

const defaultConfigPath = "config/config.yml"

// configEnvPaths maps production-like environments to their dedicated
// configuration files when no explicit path was given.
var configEnvPaths = map[string]string{
	environmentProduction: "config/config.production.yml",
	environmentStaging:    "config/config.staging.yml",
}

func LoadConfig(path string) (*Config, error) {
	path = resolveEnvSpecificPath(path, defaultConfigPath, configEnvPaths)

	// Read configuration file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Config{
		Metrics: MetricsConfig{Namespace: "Marketlake"},
		API: APIConfig{
			Timeout:   15 * time.Second,
			RateLimit: RateLimitConfig{RequestsPerSecond: 1.25, BurstSize: 2},
			Retry: RetryConfig{
				MaxAttempts:    3,
				BaseDelay:      500 * time.Millisecond,
				MaxDelay:       30 * time.Second,
				RateLimitFloor: 5 * time.Second,
			},
		},
		Planner: PlannerConfig{
			Interval:    time.Hour,
			WindowSize:  time.Hour,
			SafetyLag:   15 * time.Minute,
			MaxLookback: 720 * time.Hour,
		},
		Worker: WorkerConfig{MaxWorkers: 4, TaskBuffer: 256, ResultBuffer: 256},
		Storage: StorageConfig{S3: S3Config{
			BronzePrefix: "data/bronze",
			MetaPrefix:   "data/meta",
		}},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Override API settings from environment variables if available
	if v := os.Getenv("ALPHA_API_KEY"); v != "" {
		config.API.Key = strings.TrimSpace(v)
	}
	if v := os.Getenv("ALPHA_API_URL"); v != "" {
		config.API.BaseURL = strings.TrimSpace(v)
	}

	// Override S3 settings from environment variables if available
	if config.Storage.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			config.Storage.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			config.Storage.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			config.Storage.S3.Region = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BRONZE_BUCKET"); v != "" {
			config.Storage.S3.Bucket = strings.TrimSpace(v)
		}
		if v := os.Getenv("S3_BRONZE_PREFIX"); v != "" {
			config.Storage.S3.BronzePrefix = strings.TrimSpace(v)
		}
	}

	config.Storage.S3.Bucket = strings.TrimSpace(config.Storage.S3.Bucket)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

func validateConfig(cfg *Config) error {
	if cfg.Marketlake.Name == "" {
		return fmt.Errorf("marketlake.name is required")
	}

	if cfg.Marketlake.Version == "" {
		return fmt.Errorf("marketlake.version is required")
	}

	if cfg.API.BaseURL == "" {
		return fmt.Errorf("api.base_url is required")
	}
	if cfg.API.Key == "" {
		return fmt.Errorf("api.key is required (yaml or ALPHA_API_KEY)")
	}
	if cfg.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be greater than 0")
	}
	if cfg.API.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.rate_limit.requests_per_second must be greater than 0")
	}
	if cfg.API.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("api.retry.max_attempts must be greater than 0")
	}
	if cfg.API.Retry.BaseDelay <= 0 || cfg.API.Retry.MaxDelay < cfg.API.Retry.BaseDelay {
		return fmt.Errorf("api.retry delays are invalid: base=%s max=%s",
			cfg.API.Retry.BaseDelay, cfg.API.Retry.MaxDelay)
	}

	if cfg.Planner.WindowSize <= 0 {
		return fmt.Errorf("planner.window_size must be greater than 0")
	}
	if cfg.Planner.SafetyLag < 0 {
		return fmt.Errorf("planner.safety_lag must not be negative")
	}
	if cfg.Planner.MaxLookback < cfg.Planner.WindowSize {
		return fmt.Errorf("planner.max_lookback must cover at least one window")
	}
	if len(cfg.Planner.Symbols) == 0 && cfg.Planner.SymbolsS3URI == "" {
		return fmt.Errorf("planner.symbols or planner.symbols_s3_uri is required")
	}

	if cfg.Worker.MaxWorkers <= 0 {
		return fmt.Errorf("worker.max_workers must be greater than 0")
	}

	if cfg.Storage.S3.Enabled {
		if cfg.Storage.S3.Bucket == "" {
			return fmt.Errorf("storage.s3.bucket is required when S3 is enabled")
		}
		if cfg.Storage.S3.Region == "" {
			return fmt.Errorf("storage.s3.region is required when S3 is enabled")
		}
		if !isValidS3Bucket(cfg.Storage.S3.Bucket) {
			return fmt.Errorf("storage.s3.bucket '%s' is invalid", cfg.Storage.S3.Bucket)
		}
		if env := AppEnvironment(); IsProductionLike(env) &&
			(cfg.Storage.S3.AccessKeyID == "" || cfg.Storage.S3.SecretAccessKey == "") {
			return fmt.Errorf("storage.s3 credentials are required in %s", env)
		}
	}

	return nil
}

var s3BucketRegexp = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

func isValidS3Bucket(name string) bool {
	if len(name) < 3 || len(name) > 63 {
		return false
	}
	if strings.Contains(name, "..") || strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".") {
		return false
	}
	return s3BucketRegexp.MatchString(name)
}

package themeadapt

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Yozuusan/Adtest-sub000/inference"
	"github.com/Yozuusan/Adtest-sub000/observability"
	"github.com/Yozuusan/Adtest-sub000/snapshot"
)

// Config holds the adaptation service configuration.
type Config struct {
	// DBPath is a SQLite path; DatabaseURL, when set, selects Postgres.
	DBPath      string `yaml:"db_path"`
	DatabaseURL string `yaml:"database_url"`
	// DBPool bounds the Postgres connection pool. Zero keeps the defaults.
	DBPool PoolConfig `yaml:"db_pool"`
	// ObsDBPath holds view events and metrics. Empty disables them.
	ObsDBPath string                        `yaml:"obs_db_path"`
	Retention observability.RetentionConfig `yaml:"retention"`

	Cache     CacheConfig          `yaml:"cache"`
	Inference InferenceConfig      `yaml:"inference"`
	Archive   snapshot.MinIOConfig `yaml:"archive"`
	HTTP      HTTPConfig           `yaml:"http"`
	Jobs      JobsConfig           `yaml:"jobs"`
}

// JobsConfig enables asynchronous mapping jobs. Empty DBPath disables them.
type JobsConfig struct {
	DBPath      string        `yaml:"db_path"`
	Workers     int           `yaml:"workers"`
	Visibility  time.Duration `yaml:"visibility"`
	MaxAttempts int           `yaml:"max_attempts"`
	// Retain is how long finished jobs stay readable.
	Retain time.Duration `yaml:"retain"`
}

// PoolConfig sizes a Postgres pool.
type PoolConfig struct {
	MaxOpen  int           `yaml:"max_open"`
	MaxIdle  int           `yaml:"max_idle"`
	Lifetime time.Duration `yaml:"lifetime"`
}

// CacheConfig selects the adapter cache.
type CacheConfig struct {
	Kind      string        `yaml:"kind"` // lru, redis or none
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl"`
	Size      int           `yaml:"size"`
}

// InferenceConfig selects and tunes the inference backend.
type InferenceConfig struct {
	Provider string `yaml:"provider"` // genai, openai, remote or none
	Model    string `yaml:"model"`
	APIKey   string `yaml:"api_key"`
	// Endpoint is the OpenAI-compatible base URL or, for remote, the worker URL.
	Endpoint string `yaml:"endpoint"`
	// AllowPrivate lets a remote worker live on a private network.
	AllowPrivate bool `yaml:"allow_private"`

	inference.Config `yaml:",inline"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
	// Origins allowed to call the API from storefront pages.
	Origins []string `yaml:"origins"`
	// RatePerSecond and Burst bound each client; zero disables limiting.
	RatePerSecond float64 `yaml:"rate_per_second"`
	Burst         int     `yaml:"burst"`
	MaxBody       int64   `yaml:"max_body"`
}

func (c *Config) defaults() {
	if c.DBPath == "" {
		c.DBPath = "themeadapt.db"
	}
	if c.Cache.Kind == "" {
		c.Cache.Kind = "lru"
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = 7 * 24 * time.Hour
	}
	if c.Cache.Size <= 0 {
		c.Cache.Size = 1024
	}
	if c.Inference.Provider == "" {
		c.Inference.Provider = "none"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.Jobs.Workers <= 0 {
		c.Jobs.Workers = 2
	}
	if c.Jobs.Retain <= 0 {
		c.Jobs.Retain = 7 * 24 * time.Hour
	}
	if c.Retention.ViewEventsDays == 0 && c.Retention.MetricsDays == 0 {
		c.Retention.ViewEventsDays = 90
		c.Retention.MetricsDays = 30
	}
}

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.Cache.Kind {
	case "lru", "none":
	case "redis":
		if c.Cache.RedisAddr == "" {
			return fmt.Errorf("themeadapt: cache kind redis needs redis_addr")
		}
	default:
		return fmt.Errorf("themeadapt: unknown cache kind %q", c.Cache.Kind)
	}
	if c.DBPool.MaxOpen > 0 && c.DBPool.MaxIdle > c.DBPool.MaxOpen {
		return fmt.Errorf("themeadapt: db_pool max_idle %d exceeds max_open %d", c.DBPool.MaxIdle, c.DBPool.MaxOpen)
	}
	switch c.Inference.Provider {
	case "none":
	case "genai", "openai":
		if c.Inference.APIKey == "" {
			return fmt.Errorf("themeadapt: inference provider %s needs api_key", c.Inference.Provider)
		}
		if c.Inference.Provider == "openai" && c.Inference.Endpoint == "" {
			return fmt.Errorf("themeadapt: inference provider openai needs endpoint")
		}
	case "remote":
		if c.Inference.Endpoint == "" {
			return fmt.Errorf("themeadapt: inference provider remote needs endpoint")
		}
	default:
		return fmt.Errorf("themeadapt: unknown inference provider %q", c.Inference.Provider)
	}
	return nil
}

// LoadConfigFile reads a YAML config file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("themeadapt: parse %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from ADTEST_* environment variables.
func (c *Config) ApplyEnv() {
	envString("ADTEST_DB_PATH", &c.DBPath)
	envString("ADTEST_DATABASE_URL", &c.DatabaseURL)
	envString("ADTEST_OBS_DB_PATH", &c.ObsDBPath)
	envString("ADTEST_CACHE_KIND", &c.Cache.Kind)
	envString("ADTEST_REDIS_ADDR", &c.Cache.RedisAddr)
	envDuration("ADTEST_CACHE_TTL", &c.Cache.TTL)
	envString("ADTEST_INFERENCE_PROVIDER", &c.Inference.Provider)
	envString("ADTEST_INFERENCE_MODEL", &c.Inference.Model)
	envString("ADTEST_INFERENCE_API_KEY", &c.Inference.APIKey)
	envString("ADTEST_INFERENCE_ENDPOINT", &c.Inference.Endpoint)
	envInt("ADTEST_MAX_SELECTORS", &c.Inference.MaxSelectors)
	envFloat("ADTEST_CONFIDENCE_THRESHOLD", &c.Inference.ConfidenceThreshold)
	envDuration("ADTEST_INFERENCE_TIMEOUT", &c.Inference.Timeout)
	envInt("ADTEST_INFERENCE_RETRIES", &c.Inference.Retries)
	envString("ADTEST_MINIO_ENDPOINT", &c.Archive.Endpoint)
	envString("ADTEST_MINIO_ACCESS_KEY", &c.Archive.AccessKey)
	envString("ADTEST_MINIO_SECRET_KEY", &c.Archive.SecretKey)
	envString("ADTEST_MINIO_BUCKET", &c.Archive.Bucket)
	envString("ADTEST_HTTP_ADDR", &c.HTTP.Addr)
	if v := os.Getenv("ADTEST_HTTP_ORIGINS"); v != "" {
		c.HTTP.Origins = strings.Split(v, ",")
	}
	envString("ADTEST_JOBS_DB_PATH", &c.Jobs.DBPath)
	envInt("ADTEST_JOBS_WORKERS", &c.Jobs.Workers)
	envFloat("ADTEST_HTTP_RATE", &c.HTTP.RatePerSecond)
	envInt("ADTEST_HTTP_BURST", &c.HTTP.Burst)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		*dst = v
	}
}

func envDuration(key string, dst *time.Duration) {
	if v, err := time.ParseDuration(os.Getenv(key)); err == nil {
		*dst = v
	}
}

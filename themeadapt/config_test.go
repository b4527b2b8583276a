package themeadapt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "adaptd.yaml")
	os.WriteFile(path, []byte(`
db_path: /var/lib/adtest/adapters.db
cache:
  kind: redis
  redis_addr: localhost:6379
  ttl: 24h
inference:
  provider: openai
  endpoint: https://llm.internal/v1
  api_key: sk-test
  model: small
  max_selectors: 6
  confidence_threshold: 0.8
archive:
  endpoint: minio:9000
  bucket: snapshots
http:
  addr: :9090
  origins: ["https://shop.example.com"]
  rate_per_second: 20
`), 0o644)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("LoadConfigFile: %v", err)
	}
	cfg.defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Cache.TTL != 24*time.Hour || cfg.Cache.Size != 1024 {
		t.Errorf("cache = %+v", cfg.Cache)
	}
	if cfg.Inference.MaxSelectors != 6 || cfg.Inference.ConfidenceThreshold != 0.8 {
		t.Errorf("inference tuning = %+v", cfg.Inference.Config)
	}
	if cfg.Archive.Bucket != "snapshots" || cfg.HTTP.Addr != ":9090" || len(cfg.HTTP.Origins) != 1 {
		t.Errorf("archive/http = %+v / %+v", cfg.Archive, cfg.HTTP)
	}
}

func TestLoadConfigFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("cache: [not, a, map"), 0o644)
	if _, err := LoadConfigFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestDefaults(t *testing.T) {
	var cfg Config
	cfg.defaults()
	if cfg.DBPath != "themeadapt.db" || cfg.Cache.Kind != "lru" || cfg.Cache.TTL != 7*24*time.Hour ||
		cfg.Inference.Provider != "none" || cfg.HTTP.Addr != ":8080" {
		t.Errorf("defaults = %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"unknown cache", func(c *Config) { c.Cache.Kind = "memcached" }, "unknown cache kind"},
		{"redis without addr", func(c *Config) { c.Cache.Kind = "redis" }, "redis_addr"},
		{"genai without key", func(c *Config) { c.Inference.Provider = "genai" }, "api_key"},
		{"openai without endpoint", func(c *Config) { c.Inference.Provider = "openai"; c.Inference.APIKey = "k" }, "endpoint"},
		{"remote without endpoint", func(c *Config) { c.Inference.Provider = "remote" }, "endpoint"},
		{"unknown provider", func(c *Config) { c.Inference.Provider = "oracle" }, "unknown inference provider"},
		{"pool idle over open", func(c *Config) { c.DBPool = PoolConfig{MaxOpen: 2, MaxIdle: 5} }, "max_idle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			cfg.defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("ADTEST_DB_PATH", "/tmp/env.db")
	t.Setenv("ADTEST_CACHE_TTL", "2h")
	t.Setenv("ADTEST_MAX_SELECTORS", "4")
	t.Setenv("ADTEST_CONFIDENCE_THRESHOLD", "0.9")
	t.Setenv("ADTEST_HTTP_ORIGINS", "https://a.example.com,https://b.example.com")
	t.Setenv("ADTEST_INFERENCE_TIMEOUT", "not-a-duration")

	cfg := Config{}
	cfg.Inference.Timeout = 5 * time.Second
	cfg.ApplyEnv()
	if cfg.DBPath != "/tmp/env.db" || cfg.Cache.TTL != 2*time.Hour {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Inference.MaxSelectors != 4 || cfg.Inference.ConfidenceThreshold != 0.9 {
		t.Errorf("inference = %+v", cfg.Inference.Config)
	}
	if len(cfg.HTTP.Origins) != 2 {
		t.Errorf("origins = %v", cfg.HTTP.Origins)
	}
	if cfg.Inference.Timeout != 5*time.Second {
		t.Errorf("invalid duration overrode timeout: %v", cfg.Inference.Timeout)
	}
}

func TestOpen_SQLiteHeuristic(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{
		DBPath:    filepath.Join(dir, "adapters.db"),
		ObsDBPath: filepath.Join(dir, "obs", "obs.db"),
	}
	svc, err := Open(t.Context(), cfg, quietLogger())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer svc.Close()

	res, err := svc.MapHTML(t.Context(), "soap-shop", "", productPage, false)
	if err != nil {
		t.Fatalf("MapHTML: %v", err)
	}
	if res.Adapter.Source != "heuristic" {
		t.Errorf("source = %q", res.Adapter.Source)
	}
	if svc.views == nil {
		t.Error("view logger not wired")
	}
}

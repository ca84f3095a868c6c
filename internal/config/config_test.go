package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var now = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newFlags(t *testing.T) (*Config, *pflag.FlagSet) {
	t.Helper()
	cfg := DefaultConfig(now)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs, &cfg)
	return &cfg, fs
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig(now)
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Fiscal.StartYear != 1994 || cfg.Fiscal.EndYear != 2025 {
		t.Errorf("year range = %d..%d, want 1994..2025", cfg.Fiscal.StartYear, cfg.Fiscal.EndYear)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"batch size", func(c *Config) { c.Fetch.BatchSize = 0 }, "fetch.batch-size"},
		{"concurrency", func(c *Config) { c.Fetch.Concurrency = -1 }, "fetch.concurrency"},
		{"year range", func(c *Config) { c.Fiscal.StartYear = 2030 }, "fiscal.start-year"},
		{"backend", func(c *Config) { c.Cache.Backend = "redis" }, "cache.backend"},
		{"s3 bucket", func(c *Config) { c.Cache.Backend = BackendS3 }, "cache.s3-bucket"},
		{"bolt path", func(c *Config) { c.Cache.Path = "" }, "cache.path"},
		{"driver", func(c *Config) { c.Store.Driver = "mysql" }, "Driver"},
		{"welfare path", func(c *Config) { c.Welfare.DetailPath = "" }, "welfare paths"},
		{"refresh", func(c *Config) { c.RefreshInterval = -time.Second }, "refresh-interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(now)
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "opendata.toml")
	file := `
refresh-interval = "1h"

[fetch]
batch-size = 500
concurrency = 4

[cache]
backend = "memory"
`
	if err := os.WriteFile(path, []byte(file), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv("OPENDATA_FETCH_CONCURRENCY", "8")
	t.Setenv("OPENDATA_STORE_DSN", "env.db")

	cfg, fs := newFlags(t)
	if err := fs.Parse([]string{"--config", path, "--store.dsn", "flag.db"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := Load(viper.New(), fs); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Fetch.BatchSize != 500 {
		t.Errorf("BatchSize = %d, want 500 from file", cfg.Fetch.BatchSize)
	}
	if cfg.Fetch.Concurrency != 8 {
		t.Errorf("Concurrency = %d, want 8 from env", cfg.Fetch.Concurrency)
	}
	if cfg.Store.DSN != "flag.db" {
		t.Errorf("DSN = %q, want flag.db from flag", cfg.Store.DSN)
	}
	if cfg.Cache.Backend != BackendMemory {
		t.Errorf("Backend = %q, want memory", cfg.Cache.Backend)
	}
	if cfg.RefreshInterval != time.Hour {
		t.Errorf("RefreshInterval = %v, want 1h", cfg.RefreshInterval)
	}
	if cfg.Fetch.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want default 30s", cfg.Fetch.Timeout)
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("[fetch]\nbatchsize = 1\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	_, fs := newFlags(t)
	if err := fs.Parse([]string{"--config", path}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	err := Load(viper.New(), fs)
	if err == nil || !strings.Contains(err.Error(), "fetch.batchsize") {
		t.Errorf("Load error = %v, want invalid option fetch.batchsize", err)
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg := DefaultConfig(now)
	cfg.Fetch.BatchSize = 10
	fc := cfg.FetchConfig("http://x", "http://x/doc", "k")
	if fc.BatchSize != 10 || fc.DescriptionURL != "http://x/doc" || fc.APIKey != "k" {
		t.Errorf("FetchConfig = %+v", fc)
	}
	if err := fc.Validate(); err != nil {
		t.Errorf("fetch Validate: %v", err)
	}
	sc := cfg.StoreConfig()
	if sc.Driver != cfg.Store.Driver || sc.BatchRows != cfg.Store.BatchRows {
		t.Errorf("StoreConfig = %+v", sc)
	}
	if got := cfg.SnapshotConfig().TTL; got != cfg.Cache.TTL {
		t.Errorf("SnapshotConfig TTL = %v, want %v", got, cfg.Cache.TTL)
	}
}

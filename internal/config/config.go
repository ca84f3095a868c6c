// Package config holds the process configuration. Values are layered from
// defaults, a TOML or YAML file, OPENDATA_ environment variables and
// command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/eunmann/opendata-ingest/pkg/fetch"
	"github.com/eunmann/opendata-ingest/pkg/fiscal"
	"github.com/eunmann/opendata-ingest/pkg/snapshot"
	"github.com/eunmann/opendata-ingest/pkg/sqlstore"
	"github.com/eunmann/opendata-ingest/pkg/welfare"
)

// Cache backends.
const (
	BackendBolt   = "bolt"
	BackendMemory = "memory"
	BackendS3     = "s3"
)

// Upstream defaults.
const (
	DefaultFiscalBaseURL  = "http://openapi.openfiscaldata.go.kr"
	DefaultWelfareBaseURL = "http://api.odcloud.kr/api"
	DefaultWelfareSwagger = "https://infuser.odcloud.kr/api/stages/44436/api-docs?1684891964110"
)

// Config is the full process configuration.
type Config struct {
	Log     LogConfig
	Fetch   FetchConfig
	Fiscal  FiscalConfig
	Welfare WelfareConfig
	Cache   CacheConfig
	Store   StoreConfig

	// RefreshInterval is the period of forced reloads in watch mode. Zero
	// disables them.
	RefreshInterval time.Duration
	// MetricsAddr serves Prometheus metrics when set.
	MetricsAddr string
}

// LogConfig controls the process logger.
type LogConfig struct {
	Debug bool
	Human bool
}

// FetchConfig bounds upstream requests.
type FetchConfig struct {
	BatchSize   int
	Concurrency int
	Timeout     time.Duration
}

// FiscalConfig describes the budget expenditure API.
type FiscalConfig struct {
	BaseURL    string
	SwaggerURL string
	APIKey     string
	Path       string
	StartYear  int
	EndYear    int
}

// WelfareConfig describes the welfare service catalog API.
type WelfareConfig struct {
	BaseURL        string
	SwaggerURL     string
	APIKey         string
	ListPath       string
	DetailPath     string
	ConditionsPath string
}

// Paths returns the welfare endpoints in join order.
func (w WelfareConfig) Paths() []string {
	return []string{w.ListPath, w.DetailPath, w.ConditionsPath}
}

// CacheConfig selects and configures the snapshot backend.
type CacheConfig struct {
	Backend       string
	Path          string
	TTL           time.Duration
	KeyPrefix     string
	MemoryEntries int
	S3Bucket      string
	S3Prefix      string
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	Driver      string
	DSN         string
	Synchronous string
	MmapSize    int64
	CacheSizeKB int
	BatchRows   int
}

// DefaultConfig returns the defaults relative to now.
func DefaultConfig(now time.Time) Config {
	store := sqlstore.DefaultConfig("opendata.db")
	return Config{
		Fetch: FetchConfig{
			BatchSize:   fetch.DefaultBatchSize,
			Concurrency: fetch.DefaultConcurrency,
			Timeout:     fetch.DefaultTimeout,
		},
		Fiscal: FiscalConfig{
			BaseURL:   DefaultFiscalBaseURL,
			Path:      fiscal.Path,
			StartYear: now.Year() - 30,
			EndYear:   now.Year() + 1,
		},
		Welfare: WelfareConfig{
			BaseURL:        DefaultWelfareBaseURL,
			SwaggerURL:     DefaultWelfareSwagger,
			ListPath:       welfare.PathList,
			DetailPath:     welfare.PathDetail,
			ConditionsPath: welfare.PathConditions,
		},
		Cache: CacheConfig{
			Backend:       BackendBolt,
			Path:          "snapshots.db",
			TTL:           snapshot.DefaultTTL,
			MemoryEntries: 64,
		},
		Store: StoreConfig{
			Driver:      store.Driver,
			DSN:         store.DSN,
			Synchronous: store.Synchronous,
			MmapSize:    store.MmapSize,
			CacheSizeKB: store.CacheSizeKB,
			BatchRows:   store.BatchRows,
		},
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	var errs []error
	if c.Fetch.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("fetch.batch-size must be positive, got %d", c.Fetch.BatchSize))
	}
	if c.Fetch.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("fetch.concurrency must be positive, got %d", c.Fetch.Concurrency))
	}
	if c.Fetch.Timeout < 0 {
		errs = append(errs, fmt.Errorf("fetch.timeout must be non-negative, got %v", c.Fetch.Timeout))
	}
	if c.Fiscal.BaseURL == "" {
		errs = append(errs, errors.New("fiscal.base-url is required"))
	}
	if c.Fiscal.StartYear > c.Fiscal.EndYear {
		errs = append(errs, fmt.Errorf("fiscal.start-year %d is after fiscal.end-year %d", c.Fiscal.StartYear, c.Fiscal.EndYear))
	}
	if c.Welfare.BaseURL == "" {
		errs = append(errs, errors.New("welfare.base-url is required"))
	}
	for _, p := range c.Welfare.Paths() {
		if p == "" {
			errs = append(errs, errors.New("welfare paths must not be empty"))
			break
		}
	}
	switch c.Cache.Backend {
	case BackendBolt:
		if c.Cache.Path == "" {
			errs = append(errs, errors.New("cache.path is required for the bolt backend"))
		}
	case BackendMemory:
		if c.Cache.MemoryEntries < 0 {
			errs = append(errs, fmt.Errorf("cache.memory-entries must be non-negative, got %d", c.Cache.MemoryEntries))
		}
	case BackendS3:
		if c.Cache.S3Bucket == "" {
			errs = append(errs, errors.New("cache.s3-bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid cache.backend %q: must be %s, %s or %s", c.Cache.Backend, BackendBolt, BackendMemory, BackendS3))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must be non-negative, got %v", c.Cache.TTL))
	}
	store := c.StoreConfig()
	if err := store.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("store: %w", err))
	}
	if c.RefreshInterval < 0 {
		errs = append(errs, fmt.Errorf("refresh-interval must be non-negative, got %v", c.RefreshInterval))
	}
	return errors.Join(errs...)
}

// FetchConfig returns the fetcher configuration for one upstream.
func (c *Config) FetchConfig(baseURL, swaggerURL, apiKey string) fetch.Config {
	fc := fetch.DefaultConfig(baseURL)
	fc.DescriptionURL = swaggerURL
	fc.APIKey = apiKey
	fc.BatchSize = c.Fetch.BatchSize
	fc.Concurrency = c.Fetch.Concurrency
	fc.Timeout = c.Fetch.Timeout
	return fc
}

// StoreConfig returns the relational store configuration.
func (c *Config) StoreConfig() sqlstore.Config {
	return sqlstore.Config{
		Driver:      c.Store.Driver,
		DSN:         c.Store.DSN,
		Synchronous: c.Store.Synchronous,
		MmapSize:    c.Store.MmapSize,
		CacheSizeKB: c.Store.CacheSizeKB,
		BatchRows:   c.Store.BatchRows,
	}
}

// SnapshotConfig returns the snapshot cache configuration.
func (c *Config) SnapshotConfig() snapshot.Config {
	return snapshot.Config{TTL: c.Cache.TTL, KeyPrefix: c.Cache.KeyPrefix}
}

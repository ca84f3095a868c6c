// Package fetch retrieves every record of a paginated JSON REST endpoint.
// A count probe learns the total, then pages are fetched concurrently under a
// shared in-flight limit and concatenated in page order.
package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Defaults for Config.
const (
	DefaultBatchSize   = 1000
	DefaultConcurrency = 20
	DefaultTimeout     = 30 * time.Second
)

// Keys names request parameters and response fields.
type Keys struct {
	// Page is the page-number request parameter.
	Page string
	// PerPage is the page-size request parameter.
	PerPage string
	// DefaultKey is the query parameter carrying the API key when the
	// description declares no security definition.
	DefaultKey string
	// Year is the partition parameter for year-sharded fetches.
	Year string
	// TotalCount is the response field holding the record count.
	TotalCount string
	// Data is the response field holding the page's records.
	Data string
}

// DefaultKeys returns the keys used by odcloud-style APIs.
func DefaultKeys() Keys {
	return Keys{
		Page:       "page",
		PerPage:    "perPage",
		DefaultKey: "Key",
		Year:       "FSCL_YY",
		TotalCount: "totalCount",
		Data:       "data",
	}
}

func (k Keys) withDefaults() Keys {
	d := DefaultKeys()
	if k.Page == "" {
		k.Page = d.Page
	}
	if k.PerPage == "" {
		k.PerPage = d.PerPage
	}
	if k.DefaultKey == "" {
		k.DefaultKey = d.DefaultKey
	}
	if k.Year == "" {
		k.Year = d.Year
	}
	if k.TotalCount == "" {
		k.TotalCount = d.TotalCount
	}
	if k.Data == "" {
		k.Data = d.Data
	}
	return k
}

// Config configures a Fetcher.
type Config struct {
	// BaseURL is prepended to every endpoint path.
	BaseURL string
	// DescriptionURL optionally points at a Swagger document used to hydrate
	// the path registry and credential placement.
	DescriptionURL string
	// APIKey is placed per the description's security definitions.
	APIKey string
	// BatchSize is the page size used for the fan-out (default 1000).
	BatchSize int
	// Concurrency bounds in-flight requests per call (default 20).
	Concurrency int
	// Timeout applies to every outbound request (default 30s).
	Timeout time.Duration
	// Keys names request and response fields.
	Keys Keys
	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// DefaultConfig returns a configuration with the standard limits.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:     baseURL,
		BatchSize:   DefaultBatchSize,
		Concurrency: DefaultConcurrency,
		Timeout:     DefaultTimeout,
		Keys:        DefaultKeys(),
	}
}

// Validate checks configuration values.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("BaseURL is required")
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("BatchSize must be non-negative, got %d", c.BatchSize)
	}
	if c.Concurrency < 0 {
		return fmt.Errorf("Concurrency must be non-negative, got %d", c.Concurrency)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("Timeout must be non-negative, got %v", c.Timeout)
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.Concurrency == 0 {
		c.Concurrency = DefaultConcurrency
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	c.Keys = c.Keys.withDefaults()
	return c
}

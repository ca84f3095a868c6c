package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "OPENDATA"

// ConfigFlag names the flag holding the config file path.
const ConfigFlag = "config"

// Flags registers one flag per configuration value on fs. Each flag writes
// into c and takes its current value as the default.
func Flags(fs *pflag.FlagSet, c *Config) {
	fs.StringP(ConfigFlag, "c", "", "Configuration file to read from (TOML or YAML).")

	fs.BoolVar(&c.Log.Debug, "debug", c.Log.Debug, "Enable debug logging.")
	fs.BoolVar(&c.Log.Human, "human", c.Log.Human, "Human-readable console logs.")

	fs.IntVar(&c.Fetch.BatchSize, "fetch.batch-size", c.Fetch.BatchSize, "Records per page request.")
	fs.IntVar(&c.Fetch.Concurrency, "fetch.concurrency", c.Fetch.Concurrency, "Maximum in-flight requests per fetch.")
	fs.DurationVar(&c.Fetch.Timeout, "fetch.timeout", c.Fetch.Timeout, "Per-request timeout.")

	fs.StringVar(&c.Fiscal.BaseURL, "fiscal.base-url", c.Fiscal.BaseURL, "Budget API base URL.")
	fs.StringVar(&c.Fiscal.SwaggerURL, "fiscal.swagger-url", c.Fiscal.SwaggerURL, "Budget API description document.")
	fs.StringVar(&c.Fiscal.APIKey, "fiscal.api-key", c.Fiscal.APIKey, "Budget API key.")
	fs.StringVar(&c.Fiscal.Path, "fiscal.path", c.Fiscal.Path, "Budget expenditure endpoint.")
	fs.IntVar(&c.Fiscal.StartYear, "fiscal.start-year", c.Fiscal.StartYear, "First fiscal year fetched.")
	fs.IntVar(&c.Fiscal.EndYear, "fiscal.end-year", c.Fiscal.EndYear, "Last fiscal year fetched.")

	fs.StringVar(&c.Welfare.BaseURL, "welfare.base-url", c.Welfare.BaseURL, "Welfare API base URL.")
	fs.StringVar(&c.Welfare.SwaggerURL, "welfare.swagger-url", c.Welfare.SwaggerURL, "Welfare API description document.")
	fs.StringVar(&c.Welfare.APIKey, "welfare.api-key", c.Welfare.APIKey, "Welfare API key.")
	fs.StringVar(&c.Welfare.ListPath, "welfare.list-path", c.Welfare.ListPath, "Service list endpoint.")
	fs.StringVar(&c.Welfare.DetailPath, "welfare.detail-path", c.Welfare.DetailPath, "Service detail endpoint.")
	fs.StringVar(&c.Welfare.ConditionsPath, "welfare.conditions-path", c.Welfare.ConditionsPath, "Support conditions endpoint.")

	fs.StringVar(&c.Cache.Backend, "cache.backend", c.Cache.Backend, "Snapshot backend: bolt, memory or s3.")
	fs.StringVar(&c.Cache.Path, "cache.path", c.Cache.Path, "Bolt database file.")
	fs.DurationVar(&c.Cache.TTL, "cache.ttl", c.Cache.TTL, "Snapshot lifetime.")
	fs.StringVar(&c.Cache.KeyPrefix, "cache.key-prefix", c.Cache.KeyPrefix, "Prefix for every snapshot key.")
	fs.IntVar(&c.Cache.MemoryEntries, "cache.memory-entries", c.Cache.MemoryEntries, "Entries kept by the memory backend.")
	fs.StringVar(&c.Cache.S3Bucket, "cache.s3-bucket", c.Cache.S3Bucket, "Bucket of the s3 backend.")
	fs.StringVar(&c.Cache.S3Prefix, "cache.s3-prefix", c.Cache.S3Prefix, "Object key prefix of the s3 backend.")

	fs.StringVar(&c.Store.Driver, "store.driver", c.Store.Driver, "Relational store driver: sqlite3 or postgres.")
	fs.StringVar(&c.Store.DSN, "store.dsn", c.Store.DSN, "SQLite file or Postgres connection string.")
	fs.StringVar(&c.Store.Synchronous, "store.synchronous", c.Store.Synchronous, "SQLite synchronous pragma.")
	fs.Int64Var(&c.Store.MmapSize, "store.mmap-size", c.Store.MmapSize, "SQLite mmap size in bytes.")
	fs.IntVar(&c.Store.CacheSizeKB, "store.cache-size-kb", c.Store.CacheSizeKB, "SQLite page cache in KB.")
	fs.IntVar(&c.Store.BatchRows, "store.batch-rows", c.Store.BatchRows, "Rows per INSERT statement.")

	fs.DurationVar(&c.RefreshInterval, "refresh-interval", c.RefreshInterval, "Forced reload period in watch mode; 0 disables.")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Address serving Prometheus metrics.")
}

// Load applies the config file and environment to every flag in flags that
// was not set on the command line. Environment variables are the upper-cased
// flag names with dots and dashes replaced by underscores, prefixed with
// OPENDATA_.
func Load(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	valid := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		valid[f.Name] = true
	})

	if path := v.GetString(ConfigFlag); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read configuration file %q: %w", path, err)
		}
		for _, key := range v.AllKeys() {
			if !valid[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			return
		}
		if err := f.Value.Set(v.GetString(f.Name)); err != nil {
			flagErr = fmt.Errorf("set %s: %w", f.Name, err)
		}
	})
	return flagErr
}

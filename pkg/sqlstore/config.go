package sqlstore

import "fmt"

// Driver names accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// DefaultBatchRows is the number of rows per multi-row INSERT statement.
const DefaultBatchRows = 256

// Config holds configuration for the relational store.
type Config struct {
	// Driver is "sqlite3" or "postgres".
	Driver string
	// DSN is a file path for sqlite3 or a connection string for postgres.
	DSN string
	// Synchronous sets the SQLite synchronous pragma (OFF, NORMAL, FULL).
	Synchronous string
	// MmapSize is the SQLite mmap size in bytes.
	MmapSize int64
	// CacheSizeKB is the SQLite page cache size in KB.
	CacheSizeKB int
	// BatchRows caps rows per INSERT statement.
	BatchRows int
}

// DefaultConfig returns a SQLite configuration for the database at path.
func DefaultConfig(path string) Config {
	return Config{
		Driver:      DriverSQLite,
		DSN:         path,
		Synchronous: "NORMAL",
		MmapSize:    268435456, // 256MB
		CacheSizeKB: 65536,     // 64MB
		BatchRows:   DefaultBatchRows,
	}
}

// Validate checks configuration values and returns an error for invalid settings.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("invalid Driver %q: must be %s or %s", c.Driver, DriverSQLite, DriverPostgres)
	}
	if c.DSN == "" {
		return fmt.Errorf("DSN is required")
	}
	switch c.Synchronous {
	case "", "OFF", "NORMAL", "FULL":
	default:
		return fmt.Errorf("invalid Synchronous value %q: must be OFF, NORMAL, or FULL", c.Synchronous)
	}
	if c.MmapSize < 0 {
		return fmt.Errorf("MmapSize must be non-negative, got %d", c.MmapSize)
	}
	if c.CacheSizeKB < 0 {
		return fmt.Errorf("CacheSizeKB must be non-negative, got %d", c.CacheSizeKB)
	}
	if c.BatchRows < 0 {
		return fmt.Errorf("BatchRows must be non-negative, got %d", c.BatchRows)
	}
	return nil
}

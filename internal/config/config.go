// Package config handles loading and validating websqlite3 configuration
// from a YAML (or JSON, since JSON is a YAML subset) file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConnectionConfig describes how to open the underlying SQLite database.
type ConnectionConfig struct {
	Database         string        `yaml:"database"`
	Timeout          time.Duration `yaml:"timeout"`
	CheckSameThread  bool          `yaml:"check_same_thread"`
	IsolationLevel   string        `yaml:"isolation_level"`
	CachedStatements int           `yaml:"cached_statements"`
	URI              bool          `yaml:"uri"`
}

// seconds decodes a YAML scalar expressed in fractional seconds — the
// config schema in spec.md §6 documents every duration field as "float
// seconds" (e.g. `timeout: 5.0`), not the raw nanosecond int64 that
// time.Duration unmarshals as by default.
type seconds time.Duration

func (s *seconds) UnmarshalYAML(value *yaml.Node) error {
	var f float64
	if err := value.Decode(&f); err != nil {
		return fmt.Errorf("decoding duration as seconds: %w", err)
	}
	*s = seconds(f * float64(time.Second))
	return nil
}

// PoolConfig describes the bounded connection pool and the priority
// executor built on top of it.
type PoolConfig struct {
	MinSize           int           `yaml:"min_size"`
	MaxSize           int           `yaml:"max_size"`
	MaxQueries        int           `yaml:"max_queries"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
	PoolRecycle       time.Duration `yaml:"pool_recycle"`
	Echo              bool          `yaml:"echo"`
}

// ServerConfig is reserved for a future network front-end (spec.md §9,
// Open Question 1). The core treats it as accepted-and-ignored; only the
// optional CLI wrapper reads Port, to pick HTTP ports for health and
// metrics endpoints.
type ServerConfig struct {
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	Charset    string `yaml:"charset"`
	Autocommit bool   `yaml:"autocommit"`
}

// Config is the root configuration structure.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Pool       PoolConfig       `yaml:"pool"`
	Server     ServerConfig     `yaml:"server"`
}

// rawConnectionConfig mirrors ConnectionConfig but decodes its duration
// field as float seconds rather than a raw nanosecond int64.
type rawConnectionConfig struct {
	Database         string  `yaml:"database"`
	Timeout          seconds `yaml:"timeout"`
	CheckSameThread  bool    `yaml:"check_same_thread"`
	IsolationLevel   string  `yaml:"isolation_level"`
	CachedStatements int     `yaml:"cached_statements"`
	URI              bool    `yaml:"uri"`
}

// rawPoolConfig mirrors PoolConfig but with a pointer MinSize, so Load
// can tell "min_size omitted from the file" apart from "min_size: 0"
// (spec.md §8: min_size=0 is a valid boundary value, not a zero value
// to paper over with a default), and with duration fields decoded as
// float seconds rather than raw nanosecond int64s.
type rawPoolConfig struct {
	MinSize           *int    `yaml:"min_size"`
	MaxSize           int     `yaml:"max_size"`
	MaxQueries        int     `yaml:"max_queries"`
	MaxIdleTime       seconds `yaml:"max_idle_time"`
	ConnectionTimeout seconds `yaml:"connection_timeout"`
	PoolRecycle       seconds `yaml:"pool_recycle"`
	Echo              bool    `yaml:"echo"`
}

type rawConfig struct {
	Connection rawConnectionConfig `yaml:"connection"`
	Pool       rawPoolConfig       `yaml:"pool"`
	Server     ServerConfig        `yaml:"server"`
}

// Load reads and parses a configuration file, validates mandatory
// fields, and applies defaults for everything left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var raw rawConfig
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg := Config{
		Connection: ConnectionConfig{
			Database:         raw.Connection.Database,
			Timeout:          time.Duration(raw.Connection.Timeout),
			CheckSameThread:  raw.Connection.CheckSameThread,
			IsolationLevel:   raw.Connection.IsolationLevel,
			CachedStatements: raw.Connection.CachedStatements,
			URI:              raw.Connection.URI,
		},
		Server: raw.Server,
		Pool: PoolConfig{
			MaxSize:           raw.Pool.MaxSize,
			MaxQueries:        raw.Pool.MaxQueries,
			MaxIdleTime:       time.Duration(raw.Pool.MaxIdleTime),
			ConnectionTimeout: time.Duration(raw.Pool.ConnectionTimeout),
			PoolRecycle:       time.Duration(raw.Pool.PoolRecycle),
			Echo:              raw.Pool.Echo,
		},
	}
	minSizeSet := raw.Pool.MinSize != nil
	if minSizeSet {
		cfg.Pool.MinSize = *raw.Pool.MinSize
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	cfg.applyDefaults(minSizeSet)
	return &cfg, nil
}

// Validate checks mandatory fields and cross-field invariants.
func (c *Config) Validate() error {
	if c.Connection.Database == "" {
		return fmt.Errorf("connection.database is required")
	}
	if c.Pool.MinSize < 0 {
		return fmt.Errorf("pool.min_size must be >= 0")
	}
	if c.Pool.MaxSize != 0 && c.Pool.MaxSize < c.Pool.MinSize {
		return fmt.Errorf("pool.max_size (%d) must be >= pool.min_size (%d)", c.Pool.MaxSize, c.Pool.MinSize)
	}
	if c.Pool.MaxQueries < 0 {
		return fmt.Errorf("pool.max_queries must be >= 0")
	}
	switch c.Connection.IsolationLevel {
	case "", "DEFERRED", "IMMEDIATE", "EXCLUSIVE":
	default:
		return fmt.Errorf("connection.isolation_level must be one of DEFERRED|IMMEDIATE|EXCLUSIVE, got %q", c.Connection.IsolationLevel)
	}
	return nil
}

// ApplyDefaults fills in reasonable defaults for unset optional fields.
// Called directly (not via Load), a zero min_size always defaults to 1
// since a bare Config can't distinguish "zero value" from "explicitly
// 0" — Load uses applyDefaults directly to preserve that distinction
// from the YAML source. A non-zero min_size is kept.
func (c *Config) ApplyDefaults() {
	c.applyDefaults(c.Pool.MinSize != 0)
}

func (c *Config) applyDefaults(minSizeSet bool) {
	if c.Connection.Timeout == 0 {
		c.Connection.Timeout = 5 * time.Second
	}
	if c.Connection.CachedStatements == 0 {
		c.Connection.CachedStatements = 128
	}

	if !minSizeSet {
		c.Pool.MinSize = 1
	}
	if c.Pool.MaxSize == 0 {
		c.Pool.MaxSize = 10
	}
	if c.Pool.MaxIdleTime == 0 {
		c.Pool.MaxIdleTime = 600 * time.Second
	}
	if c.Pool.ConnectionTimeout == 0 {
		c.Pool.ConnectionTimeout = 30 * time.Second
	}
	// PoolRecycle: 0 means never, so it is intentionally not defaulted.

	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
}

// DSN returns the database/sql data source name for the configured
// SQLite database. When uri is set, database is treated as a sqlite3
// URI filename (mode=ro, cache=shared, etc., per the driver's own DSN
// syntax) and given the "file:" prefix it requires if missing;
// otherwise database is passed through unchanged as a plain path (or
// ":memory:").
func (c *Config) DSN() string {
	if c.Connection.URI && !strings.HasPrefix(c.Connection.Database, "file:") {
		return "file:" + c.Connection.Database
	}
	return c.Connection.Database
}

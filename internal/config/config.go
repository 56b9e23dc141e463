package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/slotexec/internal/env"
	"github.com/loykin/slotexec/internal/logger"
	"github.com/loykin/slotexec/internal/slot"
)

// EnvPrefix prefixes environment overrides, e.g. SLOTEXEC_SLOTS_SIZE=8.
const EnvPrefix = "SLOTEXEC"

// Config represents the top-level TOML structure.
type Config struct {
	Slots     SlotsConfig     `toml:"slots" mapstructure:"slots"`
	Engine    EngineConfig    `toml:"engine" mapstructure:"engine"`
	Execution ExecutionConfig `toml:"execution" mapstructure:"execution"`
	History   HistoryConfig   `toml:"history" mapstructure:"history"`
	Log       logger.Config   `toml:"log" mapstructure:"log"`
	Server    ServerConfig    `toml:"server" mapstructure:"server"`
	Metrics   MetricsConfig   `toml:"metrics" mapstructure:"metrics"`
}

// SlotsConfig selects the slot table backend. An empty DSN keeps the table
// in process memory.
type SlotsConfig struct {
	Size        int    `toml:"size" mapstructure:"size"`
	DSN         string `toml:"dsn" mapstructure:"dsn"`
	TablePrefix string `toml:"table_prefix" mapstructure:"table_prefix"`
}

// EngineConfig selects the database statements run against.
type EngineConfig struct {
	DSN          string `toml:"dsn" mapstructure:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns" mapstructure:"max_open_conns"`
}

// ExecutionConfig bounds statement execution. Timeout 0 disables the bound.
type ExecutionConfig struct {
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
	ReleaseTimeout time.Duration `toml:"release_timeout" mapstructure:"release_timeout"`
}

// HistoryConfig lists history sink DSNs (sqlite, postgres, clickhouse,
// opensearch).
type HistoryConfig struct {
	DSNs []string `toml:"dsns" mapstructure:"dsns"`
}

type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	RateLimit     float64    `toml:"rate_limit" mapstructure:"rate_limit"` // requests per second, 0 = unlimited
	RateBurst     int        `toml:"rate_burst" mapstructure:"rate_burst"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenTLS describes the self-signed certificate created when
// AutoGenerate is set and Dir holds no certificate yet.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Slots:     SlotsConfig{Size: slot.DefaultSize},
		Engine:    EngineConfig{DSN: "sqlite://:memory:"},
		Execution: ExecutionConfig{ReleaseTimeout: 5 * time.Second},
		Log:       logger.Config{Level: "info", Format: logger.FormatText},
		Server:    ServerConfig{Listen: "127.0.0.1:8480", BasePath: "/api", RateBurst: 1},
		Metrics:   MetricsConfig{Listen: "127.0.0.1:9480"},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("slots.size", d.Slots.Size)
	v.SetDefault("slots.dsn", d.Slots.DSN)
	v.SetDefault("slots.table_prefix", d.Slots.TablePrefix)
	v.SetDefault("engine.dsn", d.Engine.DSN)
	v.SetDefault("engine.max_open_conns", d.Engine.MaxOpenConns)
	v.SetDefault("execution.timeout", d.Execution.Timeout)
	v.SetDefault("execution.release_timeout", d.Execution.ReleaseTimeout)
	v.SetDefault("history.dsns", []string{})
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.show_time", d.Log.ShowTime)
	v.SetDefault("log.file.path", "")
	v.SetDefault("server.listen", d.Server.Listen)
	v.SetDefault("server.base_path", d.Server.BasePath)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)
	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.listen", d.Metrics.Listen)
}

// Load reads a TOML file on top of Default and applies SLOTEXEC_*
// environment overrides. An empty path loads defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.ExpandEnv(env.New())
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ExpandEnv resolves ${VAR} references in every DSN.
func (c *Config) ExpandEnv(e *env.Env) {
	c.Slots.DSN = e.Expand(c.Slots.DSN)
	c.Engine.DSN = e.Expand(c.Engine.DSN)
	c.History.DSNs = e.ExpandAll(c.History.DSNs)
}

// Validate checks values Load cannot default.
func (c *Config) Validate() error {
	if c.Slots.Size <= 0 {
		return fmt.Errorf("slots.size must be positive, got %d", c.Slots.Size)
	}
	if strings.TrimSpace(c.Engine.DSN) == "" {
		return errors.New("engine.dsn is required")
	}
	if c.Execution.Timeout < 0 || c.Execution.ReleaseTimeout < 0 {
		return errors.New("execution timeouts must not be negative")
	}
	if c.Server.RateLimit < 0 {
		return errors.New("server.rate_limit must not be negative")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("server.base_path must start with '/', got %q", c.Server.BasePath)
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
			return errors.New("server.tls requires cert_file and key_file, or dir")
		}
	}
	return nil
}

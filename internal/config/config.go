// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/eugener/xssgate/internal/jsonp"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Retention RetentionConfig `yaml:"retention"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	JSONP     jsonp.Options   `yaml:"jsonp"` // main scope, inherited by every route
	Routes    []RouteEntry    `yaml:"routes"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DNSCache        bool          `yaml:"dns_cache"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// AdminConfig protects the admin API. An empty key disables it.
type AdminConfig struct {
	Key string `yaml:"key"`
}

// RetentionConfig controls pruning of the decision log.
type RetentionConfig struct {
	Decisions time.Duration `yaml:"decisions"` // 0 = keep forever
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// RouteEntry maps a path prefix to an upstream.
type RouteEntry struct {
	Name        string        `yaml:"name"`
	Prefix      string        `yaml:"prefix"`
	Upstream    string        `yaml:"upstream"`
	StripPrefix bool          `yaml:"strip_prefix"`
	Timeout     time.Duration `yaml:"timeout"`
	JSONP       jsonp.Options `yaml:"jsonp"` // route scope, merged over the main scope
}

// SlogLevel maps Level to a slog level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// RouteJSONP returns the effective JSONP configuration of route r.
func (c *Config) RouteJSONP(r RouteEntry) (*jsonp.Config, error) {
	cfg, err := jsonp.Merge(c.JSONP, r.JSONP).Resolve()
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", r.Name, err)
	}
	return cfg, nil
}

// Validate reports every configuration problem it finds.
func (c *Config) Validate() error {
	var errs []error
	names := make(map[string]bool, len(c.Routes))
	prefixes := make(map[string]bool, len(c.Routes))

	for i, r := range c.Routes {
		if r.Name == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: name is required", i))
		} else if names[r.Name] {
			errs = append(errs, fmt.Errorf("routes[%d]: duplicate name %q", i, r.Name))
		}
		names[r.Name] = true

		if !strings.HasPrefix(r.Prefix, "/") {
			errs = append(errs, fmt.Errorf("routes[%d]: prefix %q must start with /", i, r.Prefix))
		} else if p := NormalizePrefix(r.Prefix); prefixes[p] {
			errs = append(errs, fmt.Errorf("routes[%d]: duplicate prefix %q", i, r.Prefix))
		} else {
			prefixes[p] = true
		}

		u, err := url.Parse(r.Upstream)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("routes[%d]: upstream: %w", i, err))
		case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
			errs = append(errs, fmt.Errorf("routes[%d]: upstream %q must be an absolute http(s) URL", i, r.Upstream))
		}

		if _, err := c.RouteJSONP(r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NormalizePrefix strips trailing slashes; "/" stays "/".
func NormalizePrefix(p string) string {
	if t := strings.TrimRight(p, "/"); t != "" {
		return t
	}
	return "/"
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads, parses and validates a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "xssgate.db",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Retention: RetentionConfig{
			Decisions: 7 * 24 * time.Hour,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Package config loads service settings from the environment, optionally
// overlaid by a YAML file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds everything the server and geoctl need at startup.
type Config struct {
	DatabaseURL string `yaml:"database_url"`
	Port        string `yaml:"port"`
	PGSSLMode   string `yaml:"pgsslmode"`

	ScratchDir         string        `yaml:"scratch_dir"`
	MaxUploadBytes     int64         `yaml:"max_upload_bytes"`
	MaxExtractBytes    int64         `yaml:"max_extract_bytes"`
	LoadTimeout        time.Duration `yaml:"load_timeout"`
	Shp2pgsqlPath      string        `yaml:"shp2pgsql_path"`
	PsqlPath           string        `yaml:"psql_path"`
	GeometryColumn     string        `yaml:"geometry_column"`
	MaxConcurrentLoads int64         `yaml:"max_concurrent_loads"`

	JWTSecret          string   `yaml:"jwt_secret"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
	UploadRateRPS      float64  `yaml:"upload_rate_rps"`
	UploadRateBurst    int      `yaml:"upload_rate_burst"`

	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text or json

	SweepSchedule string        `yaml:"sweep_schedule"`
	SweepMaxAge   time.Duration `yaml:"sweep_max_age"`
}

// Defaults returns the configuration used when nothing is set.
func Defaults() *Config {
	return &Config{
		Port:               "5050",
		ScratchDir:         os.TempDir() + "/geoingest",
		MaxUploadBytes:     200 << 20,
		MaxExtractBytes:    2 << 30,
		LoadTimeout:        10 * time.Minute,
		Shp2pgsqlPath:      "shp2pgsql",
		PsqlPath:           "psql",
		GeometryColumn:     "geom",
		MaxConcurrentLoads: 4,
		UploadRateRPS:      1,
		UploadRateBurst:    5,
		LogLevel:           "info",
		LogFormat:          "text",
		SweepSchedule:      "@every 15m",
		SweepMaxAge:        2 * time.Hour,
	}
}

// Load starts from Defaults, applies the YAML file named by GEOINGEST_CONFIG
// if any, then environment variables, and validates the result.
func Load() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("GEOINGEST_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.UnmarshalWithOptions(raw, c, yaml.Strict()); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	setString(&c.DatabaseURL, "DATABASE_URL")
	setString(&c.Port, "PORT")
	setString(&c.PGSSLMode, "PGSSLMODE")
	setString(&c.ScratchDir, "SCRATCH_DIR")
	setString(&c.Shp2pgsqlPath, "SHP2PGSQL_PATH")
	setString(&c.PsqlPath, "PSQL_PATH")
	setString(&c.GeometryColumn, "GEOMETRY_COLUMN")
	setString(&c.JWTSecret, "JWT_SECRET")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.LogFormat, "LOG_FORMAT")
	setString(&c.SweepSchedule, "SWEEP_SCHEDULE")

	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.CORSAllowedOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				c.CORSAllowedOrigins = append(c.CORSAllowedOrigins, o)
			}
		}
	}

	var errs []error
	parse := func(key string, fn func(string) error) {
		if v := os.Getenv(key); v != "" {
			if err := fn(v); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
			}
		}
	}
	parse("MAX_UPLOAD_BYTES", func(v string) (err error) {
		c.MaxUploadBytes, err = strconv.ParseInt(v, 10, 64)
		return
	})
	parse("MAX_EXTRACT_BYTES", func(v string) (err error) {
		c.MaxExtractBytes, err = strconv.ParseInt(v, 10, 64)
		return
	})
	parse("MAX_CONCURRENT_LOADS", func(v string) (err error) {
		c.MaxConcurrentLoads, err = strconv.ParseInt(v, 10, 64)
		return
	})
	parse("LOAD_TIMEOUT", func(v string) (err error) {
		c.LoadTimeout, err = time.ParseDuration(v)
		return
	})
	parse("SWEEP_MAX_AGE", func(v string) (err error) {
		c.SweepMaxAge, err = time.ParseDuration(v)
		return
	})
	parse("UPLOAD_RATE_RPS", func(v string) (err error) {
		c.UploadRateRPS, err = strconv.ParseFloat(v, 64)
		return
	})
	parse("UPLOAD_RATE_BURST", func(v string) (err error) {
		c.UploadRateBurst, err = strconv.Atoi(v)
		return
	})
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks required settings and value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.ScratchDir == "" {
		errs = append(errs, errors.New("SCRATCH_DIR must not be empty"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be positive"))
	}
	if c.MaxExtractBytes < c.MaxUploadBytes {
		errs = append(errs, errors.New("MAX_EXTRACT_BYTES must be at least MAX_UPLOAD_BYTES"))
	}
	if c.LoadTimeout <= 0 {
		errs = append(errs, errors.New("LOAD_TIMEOUT must be positive"))
	}
	if c.MaxConcurrentLoads < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENT_LOADS must be at least 1"))
	}
	if c.GeometryColumn == "" {
		errs = append(errs, errors.New("GEOMETRY_COLUMN must not be empty"))
	}
	if c.SweepMaxAge <= c.LoadTimeout {
		errs = append(errs, errors.New("SWEEP_MAX_AGE must exceed LOAD_TIMEOUT"))
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q: want text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

// SlogLevel maps LogLevel to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
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

// NewLogger builds the process logger on stderr.
func (c *Config) NewLogger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

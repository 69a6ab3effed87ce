// Package config loads the service configuration from YAML, applies
// environment overrides and validates the result.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	TfL     TfLConfig     `yaml:"tfl"`
	Poller  PollerConfig  `yaml:"poller"`
	History HistoryConfig `yaml:"history"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`

	// CORSOrigins lists origins allowed to call the API. "*" allows any.
	// Empty means same-origin only.
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,required"`

	// StaticDir is served at / with an index.html fallback. Empty disables it.
	StaticDir string `yaml:"static_dir"`

	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" validate:"gt=0"`
}

// StorageConfig selects and tunes the interval store.
type StorageConfig struct {
	// Backend is badger (durable) or memory (lost on restart).
	Backend string `yaml:"backend" validate:"oneof=badger memory"`

	Path           string        `yaml:"path" validate:"required_if=Backend badger"`
	MaxMemoryMB    int64         `yaml:"max_memory_mb" validate:"gte=0"`
	MaxConnections int64         `yaml:"max_connections" validate:"gte=1,lte=64"`
	MaxStorageGB   int64         `yaml:"max_storage_gb" validate:"gte=1"`
	GCInterval     time.Duration `yaml:"gc_interval" validate:"gt=0"`
}

// TfLConfig configures the feed client.
type TfLConfig struct {
	BaseURL      string        `yaml:"base_url" validate:"required,url"`
	APIKey       string        `yaml:"api_key"`
	LineModes    []string      `yaml:"line_modes" validate:"min=1,dive,required"`
	StationModes []string      `yaml:"station_modes" validate:"dive,required"`
	Timeout      time.Duration `yaml:"timeout" validate:"gt=0"`
	MaxRetries   uint64        `yaml:"max_retries" validate:"lte=10"`
	DetailsTTL   time.Duration `yaml:"details_ttl" validate:"gt=0"`
}

// PollerConfig configures the sampling loop.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval" validate:"gte=1s"`
}

// HistoryConfig configures change detection and the query window.
type HistoryConfig struct {
	MaxWindow time.Duration `yaml:"max_window" validate:"gt=0"`

	// Ignored fields never count as a material change, at any depth.
	LineIgnoredFields    []string `yaml:"line_ignored_fields"`
	StationIgnoredFields []string `yaml:"station_ignored_fields"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level       string `yaml:"level" validate:"oneof=debug info warn error"`
	Development bool   `yaml:"development"`
}

var validate = validator.New()

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("config: read file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse yaml: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Defaults returns a Config that runs the service with no file at all.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         DefaultPort,
			StaticDir:    DefaultStaticDir,
			ReadTimeout:  ServerReadTimeout,
			WriteTimeout: ServerWriteTimeout,
			IdleTimeout:  ServerIdleTimeout,
		},
		Storage: StorageConfig{
			Backend:        "badger",
			Path:           DefaultDataDir,
			MaxMemoryMB:    DefaultMaxMemoryMB,
			MaxConnections: DefaultMaxConnections,
			MaxStorageGB:   DefaultMaxStorageGB,
			GCInterval:     BadgerGCInterval,
		},
		TfL: TfLConfig{
			BaseURL:    TfLBaseURL,
			LineModes:  []string{"tube", "dlr", "overground", "elizabeth-line"},
			Timeout:    TfLTimeout,
			MaxRetries: TfLMaxRetries,
			DetailsTTL: StationDetailTTL,
		},
		Poller: PollerConfig{
			Interval: PollInterval,
		},
		History: HistoryConfig{
			MaxWindow:         MaxHistoryWindow,
			LineIgnoredFields: []string{"created", "modified"},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// applyEnv overrides file values with TFL_API_KEY and PORT when set.
func applyEnv(cfg *Config) {
	if key := os.Getenv("TFL_API_KEY"); key != "" {
		cfg.TfL.APIKey = key
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.Server.Port = port
	}
}

// StationModesOrLines returns the modes polled for station data, falling
// back to the line modes.
func (c TfLConfig) StationModesOrLines() []string {
	if len(c.StationModes) > 0 {
		return c.StationModes
	}
	return c.LineModes
}

// MaxStorageBytes returns the storage limit in bytes.
func (c StorageConfig) MaxStorageBytes() int64 {
	return c.MaxStorageGB * 1024 * 1024 * 1024
}

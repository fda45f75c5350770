// Package config provides YAML-based configuration for the inspector CLI and dev backend.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	// Client configuration (upload + polling)
	Client ClientConfig `yaml:"client"`

	// Viewer configuration
	Viewer ViewerConfig `yaml:"viewer"`

	// Development backend configuration
	Server ServerConfig `yaml:"server"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig contains settings for talking to the analysis backend
type ClientConfig struct {
	APIBase              string `yaml:"api_base"`
	UploadTimeoutSeconds int    `yaml:"upload_timeout_seconds"`
	PollIntervalMs       int    `yaml:"poll_interval_ms"`
}

// ViewerConfig contains headless viewer settings
type ViewerConfig struct {
	Width            int     `yaml:"width"`
	Height           int     `yaml:"height"`
	DevicePixelRatio float64 `yaml:"device_pixel_ratio"`
	BackgroundColor  string  `yaml:"background_color"`
	AssetDirectory   string  `yaml:"asset_directory"`
	ResizeDebounceMs int     `yaml:"resize_debounce_ms"`
	SnapshotDir      string  `yaml:"snapshot_directory"`
}

// ServerConfig contains dev backend HTTP settings
type ServerConfig struct {
	Port                   int     `yaml:"port"`
	BindAddress            string  `yaml:"bind_address"`
	DataDirectory          string  `yaml:"data_directory"`
	UploadsDirectory       string  `yaml:"uploads_directory"`
	BodyLimit              string  `yaml:"body_limit"`
	ReadTimeoutSeconds     int     `yaml:"read_timeout_seconds"`
	WriteTimeoutSeconds    int     `yaml:"write_timeout_seconds"`
	EnableCORS             bool    `yaml:"enable_cors"`
	AllowOrigins           string  `yaml:"allow_origins"`
	EnableRequestLogging   bool    `yaml:"enable_request_logging"`
	JobRetentionMinutes    int     `yaml:"job_retention_minutes"`
	CleanupIntervalMinutes int     `yaml:"cleanup_interval_minutes"`
	FixtureReport          string  `yaml:"fixture_report"`
	UploadRateLimit        float64 `yaml:"upload_rate_limit"` // uploads/s per client IP, 0 disables
}

// LoggingConfig contains logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "console"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Client: ClientConfig{
			APIBase:              "http://localhost:8000",
			UploadTimeoutSeconds: 120,
			PollIntervalMs:       2000,
		},
		Viewer: ViewerConfig{
			Width:            960,
			Height:           520,
			DevicePixelRatio: 1,
			BackgroundColor:  "#f6f9fc",
			AssetDirectory:   "./web-ifc",
			ResizeDebounceMs: 50,
			SnapshotDir:      ".",
		},
		Server: ServerConfig{
			Port:                   8000,
			BindAddress:            "0.0.0.0",
			DataDirectory:          "./data",
			UploadsDirectory:       "./data/uploads",
			BodyLimit:              "512M",
			ReadTimeoutSeconds:     30,
			WriteTimeoutSeconds:    30,
			EnableCORS:             true,
			AllowOrigins:           "*",
			EnableRequestLogging:   true,
			JobRetentionMinutes:    30,
			CleanupIntervalMinutes: 5,
			UploadRateLimit:        5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the defaults.
func LoadConfig(configPath string) (*AppConfig, error) {
	config := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
			// defaults
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			config.resolvePaths(filepath.Dir(configPath))
		}
	}

	config.applyEnvironmentOverrides()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadOrCreate loads the configuration, writing the defaults to configPath on first run.
func LoadOrCreate(configPath string) (*AppConfig, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}
	return LoadConfig(configPath)
}

// Save saves the configuration to a YAML file
func (c *AppConfig) Save(configPath string) error {
	output, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# Model inspector configuration\n# This file is auto-generated on first run\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate rejects values that cannot work at all.
func (c *AppConfig) Validate() error {
	if c.Client.APIBase == "" {
		return fmt.Errorf("client.api_base must not be empty")
	}
	if c.Client.UploadTimeoutSeconds <= 0 {
		return fmt.Errorf("client.upload_timeout_seconds must be positive, got %d", c.Client.UploadTimeoutSeconds)
	}
	if _, err := ParseColor(c.Viewer.BackgroundColor); err != nil {
		return fmt.Errorf("viewer.background_color: %w", err)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.UploadRateLimit < 0 {
		return fmt.Errorf("server.upload_rate_limit must not be negative, got %g", c.Server.UploadRateLimit)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if base := os.Getenv("INSPECTOR_API_BASE"); base != "" {
		c.Client.APIBase = base
	}

	if interval := os.Getenv("INSPECTOR_POLL_INTERVAL_MS"); interval != "" {
		if ms, err := strconv.Atoi(interval); err == nil {
			c.Client.PollIntervalMs = ms
		}
	}

	if level := os.Getenv("INSPECTOR_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Server.DataDirectory = dataDir
		c.Server.UploadsDirectory = filepath.Join(dataDir, "uploads")
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
	resolve(&c.Server.DataDirectory)
	resolve(&c.Server.UploadsDirectory)
	resolve(&c.Server.FixtureReport)
	resolve(&c.Viewer.AssetDirectory)
	resolve(&c.Viewer.SnapshotDir)
}

// UploadTimeout returns the hard ceiling for one upload.
func (c *AppConfig) UploadTimeout() time.Duration {
	return time.Duration(c.Client.UploadTimeoutSeconds) * time.Second
}

// PollInterval returns the configured poll interval.
func (c *AppConfig) PollInterval() time.Duration {
	return time.Duration(c.Client.PollIntervalMs) * time.Millisecond
}

// ResizeDebounce returns the delay applied to the initial resize.
func (c *AppConfig) ResizeDebounce() time.Duration {
	return time.Duration(c.Viewer.ResizeDebounceMs) * time.Millisecond
}

// BackgroundColor returns the parsed viewer background colour.
func (c *AppConfig) BackgroundColor() uint32 {
	color, _ := ParseColor(c.Viewer.BackgroundColor)
	return color
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Server.DataDirectory,
		c.Server.UploadsDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// ParseColor parses "#rrggbb", "rrggbb" or "0xrrggbb" into a 24-bit colour.
func ParseColor(s string) (uint32, error) {
	trimmed := strings.TrimSpace(strings.ToLower(s))
	trimmed = strings.TrimPrefix(trimmed, "#")
	trimmed = strings.TrimPrefix(trimmed, "0x")
	if len(trimmed) != 6 {
		return 0, fmt.Errorf("invalid colour %q", s)
	}
	v, err := strconv.ParseUint(trimmed, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid colour %q: %w", s, err)
	}
	return uint32(v), nil
}

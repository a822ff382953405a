// Package config provides configuration management for webtuner using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort       = 8080
	defaultServerTimeout    = 30 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultTunerCount       = 1
	defaultBaseControlPort  = 9222
	defaultBaseDisplay      = 99
	defaultIdleTimeout      = 5 * time.Minute
	defaultStartupDeadline  = 90 * time.Second
	defaultCaptureWidth     = 1280
	defaultCaptureHeight    = 720
	defaultFramerate        = 30
	defaultVideoBitrate     = "4000k"
	defaultAudioBitrate     = "128k"
	defaultSegmentTime      = 4
	defaultListSize         = 5
	defaultWatchdogInterval = 5 * time.Second
	defaultWatchdogSamples  = 3
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Tuners   TunersConfig   `mapstructure:"tuners"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Guide    GuideConfig    `mapstructure:"guide"`
	Settings SettingsConfig `mapstructure:"settings"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// TunersConfig holds tuner pool configuration.
type TunersConfig struct {
	Count           int           `mapstructure:"count"`
	BaseControlPort int           `mapstructure:"base_control_port"`
	BaseDisplay     int           `mapstructure:"base_display"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	StartupDeadline time.Duration `mapstructure:"startup_deadline"`
}

// CaptureConfig holds encoder and segmenter configuration.
type CaptureConfig struct {
	FFmpegPath       string        `mapstructure:"ffmpeg_path"`
	Width            int           `mapstructure:"width"`
	Height           int           `mapstructure:"height"`
	Framerate        int           `mapstructure:"framerate"`
	VideoBitrate     string        `mapstructure:"video_bitrate"`
	AudioBitrate     string        `mapstructure:"audio_bitrate"`
	AudioDevice      string        `mapstructure:"audio_device"`
	SegmentTime      int           `mapstructure:"segment_time"`
	ListSize         int           `mapstructure:"list_size"`
	OutputRoot       string        `mapstructure:"output_root"`
	WatchdogInterval time.Duration `mapstructure:"watchdog_interval"`
	WatchdogSamples  int           `mapstructure:"watchdog_samples"`
}

// BrowserConfig holds browser control-plane configuration.
type BrowserConfig struct {
	ProfileRoot     string `mapstructure:"profile_root"`
	CredentialsPath string `mapstructure:"credentials_path"`
	GuideURL        string `mapstructure:"guide_url"`
}

// CatalogConfig holds channel catalog configuration.
type CatalogConfig struct {
	Path string `mapstructure:"path"`
}

// GuideConfig holds the external guide collaborator configuration.
type GuideConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	RefreshCron string `mapstructure:"refresh_cron"`
}

// SettingsConfig holds the persisted settings snapshot location.
type SettingsConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with WEBTUNER_ using underscores for nesting.
// Example: WEBTUNER_TUNERS_COUNT=4.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/webtuner")
		v.AddConfigPath("$HOME/.webtuner")
	}

	v.SetEnvPrefix("WEBTUNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", time.Duration(0)) // streaming responses must not time out
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)

	// Tuner pool defaults
	v.SetDefault("tuners.count", defaultTunerCount)
	v.SetDefault("tuners.base_control_port", defaultBaseControlPort)
	v.SetDefault("tuners.base_display", defaultBaseDisplay)
	v.SetDefault("tuners.idle_timeout", defaultIdleTimeout)
	v.SetDefault("tuners.startup_deadline", defaultStartupDeadline)

	// Capture defaults
	v.SetDefault("capture.ffmpeg_path", "ffmpeg")
	v.SetDefault("capture.width", defaultCaptureWidth)
	v.SetDefault("capture.height", defaultCaptureHeight)
	v.SetDefault("capture.framerate", defaultFramerate)
	v.SetDefault("capture.video_bitrate", defaultVideoBitrate)
	v.SetDefault("capture.audio_bitrate", defaultAudioBitrate)
	v.SetDefault("capture.audio_device", "")
	v.SetDefault("capture.segment_time", defaultSegmentTime)
	v.SetDefault("capture.list_size", defaultListSize)
	v.SetDefault("capture.output_root", "./data/hls")
	v.SetDefault("capture.watchdog_interval", defaultWatchdogInterval)
	v.SetDefault("capture.watchdog_samples", defaultWatchdogSamples)

	// Browser defaults
	v.SetDefault("browser.profile_root", "./data/profiles")
	v.SetDefault("browser.credentials_path", "./data/credentials.json")
	v.SetDefault("browser.guide_url", "https://stream.directv.com/guide")

	// Catalog defaults
	v.SetDefault("catalog.path", "./data/catalog.db")

	// Guide collaborator defaults
	v.SetDefault("guide.endpoint", "")
	v.SetDefault("guide.refresh_cron", "")

	// Settings snapshot defaults
	v.SetDefault("settings.path", "./data/settings.yaml")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	if c.Tuners.Count < 1 {
		return fmt.Errorf("tuners.count must be at least 1")
	}
	if c.Tuners.BaseControlPort < 1 || c.Tuners.BaseControlPort+c.Tuners.Count-1 > maxPort {
		return fmt.Errorf("tuners.base_control_port must leave room for %d sequential ports", c.Tuners.Count)
	}
	if c.Tuners.BaseDisplay < 0 {
		return fmt.Errorf("tuners.base_display must not be negative")
	}
	if c.Tuners.IdleTimeout <= 0 {
		return fmt.Errorf("tuners.idle_timeout must be positive")
	}

	if c.Capture.Width < 1 || c.Capture.Height < 1 {
		return fmt.Errorf("capture resolution must be positive")
	}
	if c.Capture.SegmentTime < 1 {
		return fmt.Errorf("capture.segment_time must be at least 1 second")
	}
	if c.Capture.ListSize < 1 {
		return fmt.Errorf("capture.list_size must be at least 1 segment")
	}
	if c.Capture.OutputRoot == "" {
		return fmt.Errorf("capture.output_root is required")
	}

	if c.Browser.ProfileRoot == "" {
		return fmt.Errorf("browser.profile_root is required")
	}
	if c.Catalog.Path == "" {
		return fmt.Errorf("catalog.path is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ControlEndpoint returns the control-plane websocket endpoint for tuner i.
func (c *TunersConfig) ControlEndpoint(i int) string {
	return fmt.Sprintf("ws://127.0.0.1:%d", c.BaseControlPort+i)
}

// DisplayID returns the virtual display number for tuner i.
func (c *TunersConfig) DisplayID(i int) int {
	return c.BaseDisplay + i
}

// TunerOutputDir returns the segment output directory for tuner i.
func (c *CaptureConfig) TunerOutputDir(i int) string {
	return filepath.Join(c.OutputRoot, fmt.Sprintf("tuner%d", i))
}

// TunerProfileDir returns the browser profile directory for tuner i.
func (c *BrowserConfig) TunerProfileDir(i int) string {
	return filepath.Join(c.ProfileRoot, fmt.Sprintf("tuner%d", i))
}

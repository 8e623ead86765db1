// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger" yaml:"logger"`
	Driver       DriverConfig       `mapstructure:"driver" yaml:"driver"`
	Network      NetworkConfig      `mapstructure:"network" yaml:"network"`
	Endpoints    EndpointsConfig    `mapstructure:"endpoints" yaml:"endpoints"`
	Capabilities CapabilitiesConfig `mapstructure:"capabilities" yaml:"capabilities"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// DriverConfig controls where the driver is installed and how it is started.
type DriverConfig struct {
	// InstallDir holds the raw and patched executables. "~" is expanded.
	InstallDir        string        `mapstructure:"install_dir" yaml:"install_dir"`
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	HandshakeInterval time.Duration `mapstructure:"handshake_interval" yaml:"handshake_interval"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	PortMin           int           `mapstructure:"port_min" yaml:"port_min"`
	PortMax           int           `mapstructure:"port_max" yaml:"port_max"`
	// BrowserVersion skips the installed-browser probe when set.
	BrowserVersion     string        `mapstructure:"browser_version" yaml:"browser_version"`
	CDPVersionFallback bool          `mapstructure:"cdp_version_fallback" yaml:"cdp_version_fallback"`
	LogPath            string        `mapstructure:"log_path" yaml:"log_path"`
	AcquireTimeout     time.Duration `mapstructure:"acquire_timeout" yaml:"acquire_timeout"`
}

// ProxyConfig defines the configuration for an outbound proxy.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Address string `mapstructure:"address" yaml:"address"`
}

// NetworkConfig tunes the HTTP client used for driver downloads.
type NetworkConfig struct {
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	UserAgent       string        `mapstructure:"user_agent" yaml:"user_agent"`
	IgnoreTLSErrors bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	Proxy           ProxyConfig   `mapstructure:"proxy" yaml:"proxy"`
}

// EndpointsConfig lists the externally owned download services.
type EndpointsConfig struct {
	MilestoneManifestURL string `mapstructure:"milestone_manifest_url" yaml:"milestone_manifest_url"`
	LegacyBaseURL        string `mapstructure:"legacy_base_url" yaml:"legacy_base_url"`
	CfTDownloadBaseURL   string `mapstructure:"cft_download_base_url" yaml:"cft_download_base_url"`
}

// PositionConfig is an optional window position in screen coordinates.
type PositionConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	X       int  `mapstructure:"x" yaml:"x"`
	Y       int  `mapstructure:"y" yaml:"y"`
}

// CapabilitiesConfig mirrors the browser launch options.
type CapabilitiesConfig struct {
	NoSandbox                       bool   `mapstructure:"no_sandbox" yaml:"no_sandbox"`
	DisableDevShmUsage              bool   `mapstructure:"disable_dev_shm_usage" yaml:"disable_dev_shm_usage"`
	WindowWidth                     int    `mapstructure:"window_width" yaml:"window_width"`
	WindowHeight                    int    `mapstructure:"window_height" yaml:"window_height"`
	UserAgent                       string `mapstructure:"user_agent" yaml:"user_agent"`
	HideAutomationIndicators        bool   `mapstructure:"hide_automation_indicators" yaml:"hide_automation_indicators"`
	DisableSearchEngineChoiceScreen bool   `mapstructure:"disable_search_engine_choice_screen" yaml:"disable_search_engine_choice_screen"`
	Offscreen                       bool   `mapstructure:"offscreen" yaml:"offscreen"`
	Headless                        bool   `mapstructure:"headless" yaml:"headless"`
	// WindowPosition takes precedence over Offscreen when enabled.
	WindowPosition PositionConfig `mapstructure:"window_position" yaml:"window_position"`
}

// DefaultUserAgent is the desktop Chrome user agent presented by launched browsers.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "stealthdriver")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Driver --
	v.SetDefault("driver.install_dir", ".")
	v.SetDefault("driver.max_attempts", 15)
	v.SetDefault("driver.handshake_interval", "250ms")
	v.SetDefault("driver.attempt_timeout", "20s")
	v.SetDefault("driver.port_min", 2000)
	v.SetDefault("driver.port_max", 5000)
	v.SetDefault("driver.browser_version", "")
	v.SetDefault("driver.cdp_version_fallback", false)
	v.SetDefault("driver.log_path", "")
	v.SetDefault("driver.acquire_timeout", "2m")

	// -- Network --
	v.SetDefault("network.timeout", "60s")
	v.SetDefault("network.rate_limit", 5.0)
	v.SetDefault("network.user_agent", "stealthdriver/1.0")
	v.SetDefault("network.ignore_tls_errors", false)
	v.SetDefault("network.proxy.enabled", false)

	// -- Endpoints --
	v.SetDefault("endpoints.milestone_manifest_url", "https://googlechromelabs.github.io/chrome-for-testing/latest-versions-per-milestone.json")
	v.SetDefault("endpoints.legacy_base_url", "https://chromedriver.storage.googleapis.com")
	v.SetDefault("endpoints.cft_download_base_url", "https://storage.googleapis.com/chrome-for-testing-public")

	// -- Capabilities --
	v.SetDefault("capabilities.no_sandbox", true)
	v.SetDefault("capabilities.disable_dev_shm_usage", true)
	v.SetDefault("capabilities.window_width", 1920)
	v.SetDefault("capabilities.window_height", 1080)
	v.SetDefault("capabilities.user_agent", DefaultUserAgent)
	v.SetDefault("capabilities.hide_automation_indicators", true)
	v.SetDefault("capabilities.disable_search_engine_choice_screen", true)
	v.SetDefault("capabilities.offscreen", false)
	v.SetDefault("capabilities.window_position.enabled", false)
	v.SetDefault("capabilities.window_position.x", 0)
	v.SetDefault("capabilities.window_position.y", 0)
	v.SetDefault("capabilities.headless", false)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	dir, err := homedir.Expand(cfg.Driver.InstallDir)
	if err != nil {
		return nil, fmt.Errorf("expanding driver.install_dir: %w", err)
	}
	cfg.Driver.InstallDir = dir

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Driver.Validate(); err != nil {
		return fmt.Errorf("driver configuration invalid: %w", err)
	}
	if c.Network.RateLimit < 0 {
		return fmt.Errorf("network.rate_limit must not be negative")
	}
	if c.Network.Proxy.Enabled && c.Network.Proxy.Address == "" {
		return fmt.Errorf("network.proxy.address is required when the proxy is enabled")
	}
	if err := c.Endpoints.Validate(); err != nil {
		return fmt.Errorf("endpoints configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the driver settings.
func (d *DriverConfig) Validate() error {
	if d.InstallDir == "" {
		return fmt.Errorf("install_dir must not be empty")
	}
	if d.MaxAttempts <= 0 {
		return fmt.Errorf("max_attempts must be greater than 0")
	}
	if d.HandshakeInterval < 0 {
		return fmt.Errorf("handshake_interval must not be negative")
	}
	if d.AttemptTimeout <= 0 {
		return fmt.Errorf("attempt_timeout must be greater than 0")
	}
	if d.AcquireTimeout <= 0 {
		return fmt.Errorf("acquire_timeout must be greater than 0")
	}
	if d.PortMin < 1 || d.PortMax > 65536 || d.PortMin >= d.PortMax {
		return fmt.Errorf("port range [%d, %d) is invalid", d.PortMin, d.PortMax)
	}
	return nil
}

// Validate checks that every endpoint is an http(s) URL.
func (e *EndpointsConfig) Validate() error {
	for name, u := range map[string]string{
		"milestone_manifest_url": e.MilestoneManifestURL,
		"legacy_base_url":        e.LegacyBaseURL,
		"cft_download_base_url":  e.CfTDownloadBaseURL,
	} {
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("%s must be an http(s) URL, got %q", name, u)
		}
	}
	return nil
}

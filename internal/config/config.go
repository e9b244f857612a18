// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// ErrInvalidConfig wraps every validation failure so callers can test for it.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the entire application configuration.
type Config struct {
	Logger  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	Browser BrowserConfig `mapstructure:"browser" yaml:"browser"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Flow    FlowConfig    `mapstructure:"flow" yaml:"flow"`
	Assist  AssistConfig  `mapstructure:"assist" yaml:"assist"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
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

// ColorConfig defines the color names for different log levels.
type ColorConfig struct {
	Debug string `mapstructure:"debug" yaml:"debug"`
	Info  string `mapstructure:"info" yaml:"info"`
	Warn  string `mapstructure:"warn" yaml:"warn"`
	Error string `mapstructure:"error" yaml:"error"`
}

// BrowserConfig controls how formpilot reaches a Chromium instance.
// When RemoteURL is set an already running browser is attached to over its
// DevTools endpoint; otherwise a browser process is launched.
type BrowserConfig struct {
	RemoteURL      string        `mapstructure:"remote_url" yaml:"remote_url"`
	Headless       bool          `mapstructure:"headless" yaml:"headless"`
	UserDataDir    string        `mapstructure:"user_data_dir" yaml:"user_data_dir"`
	Args           []string      `mapstructure:"args" yaml:"args"`
	StartURL       string        `mapstructure:"start_url" yaml:"start_url"`
	TabURLContains string        `mapstructure:"tab_url_contains" yaml:"tab_url_contains"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
}

// StoreConfig points at the external record store.
type StoreConfig struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
	Burst     int           `mapstructure:"burst" yaml:"burst"`
}

// FlowConfig carries the site specific constants used by the stage orchestrator.
type FlowConfig struct {
	PollInterval        time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	FrameTimeout        time.Duration `mapstructure:"frame_timeout" yaml:"frame_timeout"`
	PaymentFrameTimeout time.Duration `mapstructure:"payment_frame_timeout" yaml:"payment_frame_timeout"`
	HeaderFrameURL      string        `mapstructure:"header_frame_url" yaml:"header_frame_url"`
	PaymentFrameURL     string        `mapstructure:"payment_frame_url" yaml:"payment_frame_url"`
	TicketListID        string        `mapstructure:"ticket_list_id" yaml:"ticket_list_id"`
	TicketExpandDelay   time.Duration `mapstructure:"ticket_expand_delay" yaml:"ticket_expand_delay"`
	PaymentAutoSubmit   bool          `mapstructure:"payment_auto_submit" yaml:"payment_auto_submit"`
}

// AssistConfig configures the page assistant loop.
type AssistConfig struct {
	Interval       time.Duration `mapstructure:"interval" yaml:"interval"`
	SaveDelay      time.Duration `mapstructure:"save_delay" yaml:"save_delay"`
	SignupPassword string        `mapstructure:"signup_password" yaml:"-"`
	FanCountry     string        `mapstructure:"fan_country" yaml:"fan_country"`
	BallotID       string        `mapstructure:"ballot_id" yaml:"ballot_id"`
}

// ServerConfig configures the activation endpoint used by `formpilot serve`.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
}

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
	v.SetDefault("logger.service_name", "formpilot")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")

	// -- Browser --
	v.SetDefault("browser.remote_url", "")
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.user_data_dir", "~/.formpilot/chrome")
	v.SetDefault("browser.args", []string{})
	v.SetDefault("browser.start_url", "")
	v.SetDefault("browser.tab_url_contains", "tickets.fifa.com")
	v.SetDefault("browser.connect_timeout", "30s")

	// -- Store --
	v.SetDefault("store.base_url", "http://localhost:3000/api")
	v.SetDefault("store.timeout", "10s")
	v.SetDefault("store.rate_limit", 5.0)
	v.SetDefault("store.burst", 2)

	// -- Flow --
	v.SetDefault("flow.poll_interval", "250ms")
	v.SetDefault("flow.frame_timeout", "15s")
	v.SetDefault("flow.payment_frame_timeout", "15s")
	v.SetDefault("flow.header_frame_url", "fifa-fwc26-us.tickets.fifa.com/api/1/resources/custom/en/header.html")
	v.SetDefault("flow.payment_frame_url", "payment-p8.secutix.com/alias")
	v.SetDefault("flow.ticket_list_id", "stx-lt-product-subscription-10229225515651")
	v.SetDefault("flow.ticket_expand_delay", "500ms")
	v.SetDefault("flow.payment_auto_submit", false)

	// -- Assist --
	v.SetDefault("assist.interval", "1s")
	v.SetDefault("assist.save_delay", "1s")
	v.SetDefault("assist.signup_password", "")
	v.SetDefault("assist.fan_country", "USA")
	v.SetDefault("assist.ballot_id", "stx-ballot-selection-details-10229650558900")

	// -- Server --
	v.SetDefault("server.listen_addr", "127.0.0.1:8787")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// The signup password is a secret; keep it out of config files.
	_ = v.BindEnv("assist.signup_password", "FORMPILOT_SIGNUP_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandPaths resolves "~" in filesystem paths.
func (c *Config) expandPaths() error {
	var err error
	if c.Logger.LogFile, err = homedir.Expand(c.Logger.LogFile); err != nil {
		return fmt.Errorf("could not resolve logger.log_file %q: %w", c.Logger.LogFile, err)
	}
	if c.Browser.UserDataDir, err = homedir.Expand(c.Browser.UserDataDir); err != nil {
		return fmt.Errorf("could not resolve browser.user_data_dir %q: %w", c.Browser.UserDataDir, err)
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Flow.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Assist.Interval <= 0 {
		return fmt.Errorf("%w: assist.interval must be a positive duration", ErrInvalidConfig)
	}
	if c.Browser.RemoteURL != "" {
		if _, err := url.ParseRequestURI(c.Browser.RemoteURL); err != nil {
			return fmt.Errorf("%w: browser.remote_url: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Validate checks the store settings.
func (s StoreConfig) Validate() error {
	if s.BaseURL == "" {
		return errors.New("store.base_url is required")
	}
	if _, err := url.ParseRequestURI(s.BaseURL); err != nil {
		return fmt.Errorf("store.base_url: %w", err)
	}
	if s.Timeout <= 0 {
		return errors.New("store.timeout must be a positive duration")
	}
	if s.RateLimit < 0 {
		return errors.New("store.rate_limit must not be negative")
	}
	return nil
}

// Validate checks the flow settings.
func (f FlowConfig) Validate() error {
	if f.PollInterval <= 0 {
		return errors.New("flow.poll_interval must be a positive duration")
	}
	if f.FrameTimeout <= 0 || f.PaymentFrameTimeout <= 0 {
		return errors.New("flow.frame_timeout and flow.payment_frame_timeout must be positive durations")
	}
	if f.HeaderFrameURL == "" || f.PaymentFrameURL == "" {
		return errors.New("flow.header_frame_url and flow.payment_frame_url are required")
	}
	if f.TicketListID == "" {
		return errors.New("flow.ticket_list_id is required")
	}
	if f.TicketExpandDelay < 0 {
		return errors.New("flow.ticket_expand_delay must not be negative")
	}
	return nil
}

// File: internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Database() DatabaseConfig
	Browser() BrowserConfig
	Stream() StreamConfig
	Executor() ExecutorConfig
	Checkpoint() CheckpointConfig
	Store() StoreConfig
	Server() ServerConfig
	Inspector() InspectorConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserNavigationTimeout(d time.Duration)

	// Executor Setters
	SetExecutorSafeRun(bool)
	SetExecutorHumanTyping(bool)

	// Server Setters
	SetServerListen(addr string)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	BrowserCfg    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
	StreamCfg     StreamConfig     `mapstructure:"stream" yaml:"stream"`
	ExecutorCfg   ExecutorConfig   `mapstructure:"executor" yaml:"executor"`
	CheckpointCfg CheckpointConfig `mapstructure:"checkpoint" yaml:"checkpoint"`
	StoreCfg      StoreConfig      `mapstructure:"store" yaml:"store"`
	ServerCfg     ServerConfig     `mapstructure:"server" yaml:"server"`
	InspectorCfg  InspectorConfig  `mapstructure:"inspector" yaml:"inspector"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Browser() BrowserConfig       { return c.BrowserCfg }
func (c *Config) Stream() StreamConfig         { return c.StreamCfg }
func (c *Config) Executor() ExecutorConfig     { return c.ExecutorCfg }
func (c *Config) Checkpoint() CheckpointConfig { return c.CheckpointCfg }
func (c *Config) Store() StoreConfig           { return c.StoreCfg }
func (c *Config) Server() ServerConfig         { return c.ServerCfg }
func (c *Config) Inspector() InspectorConfig   { return c.InspectorCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool) { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserNavigationTimeout(d time.Duration) {
	c.BrowserCfg.NavigationTimeout = d
}
func (c *Config) SetExecutorSafeRun(b bool)     { c.ExecutorCfg.SafeRun = b }
func (c *Config) SetExecutorHumanTyping(b bool) { c.ExecutorCfg.HumanTyping = b }
func (c *Config) SetServerListen(addr string)   { c.ServerCfg.Listen = addr }

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

// DatabaseConfig holds the database connection details.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"url"`
}

// BrowserConfig holds settings for the browser process owned by each session.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	ViewportWidth     int           `mapstructure:"viewport_width" yaml:"viewport_width"`
	ViewportHeight    int           `mapstructure:"viewport_height" yaml:"viewport_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	GrantGeolocation  bool          `mapstructure:"grant_geolocation" yaml:"grant_geolocation"`
}

// StreamConfig tunes the screenshot streaming channel.
type StreamConfig struct {
	FrameInterval  time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
	FrameBurst     int           `mapstructure:"frame_burst" yaml:"frame_burst"`
	FrameQuality   int           `mapstructure:"frame_quality" yaml:"frame_quality"`
	SendBuffer     int           `mapstructure:"send_buffer" yaml:"send_buffer"`
	WriteWait      time.Duration `mapstructure:"write_wait" yaml:"write_wait"`
	PongWait       time.Duration `mapstructure:"pong_wait" yaml:"pong_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size" yaml:"max_message_size"`
}

// ExecutorConfig holds the timing and behavior knobs of the plan executor.
type ExecutorConfig struct {
	PageReadyTimeout      time.Duration `mapstructure:"page_ready_timeout" yaml:"page_ready_timeout"`
	IndicatorTimeout      time.Duration `mapstructure:"indicator_timeout" yaml:"indicator_timeout"`
	IndicatorCheckTimeout time.Duration `mapstructure:"indicator_check_timeout" yaml:"indicator_check_timeout"`
	PollInterval          time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	HumanTyping           bool          `mapstructure:"human_typing" yaml:"human_typing"`
	TypeDelayMin          time.Duration `mapstructure:"type_delay_min" yaml:"type_delay_min"`
	TypeDelayMax          time.Duration `mapstructure:"type_delay_max" yaml:"type_delay_max"`
	SafeRun               bool          `mapstructure:"safe_run" yaml:"safe_run"`
	DefaultMaxIterations  int           `mapstructure:"default_max_iterations" yaml:"default_max_iterations"`
}

// CheckpointConfig selects the medium the repair checkpoint is persisted to.
type CheckpointConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Key    string `mapstructure:"key" yaml:"key"`
	Path   string `mapstructure:"path" yaml:"path"`
}

// StoreConfig configures where execution history and inspector artifacts live.
type StoreConfig struct {
	Driver       string `mapstructure:"driver" yaml:"driver"`
	Dir          string `mapstructure:"dir" yaml:"dir"`
	HistoryLimit int    `mapstructure:"history_limit" yaml:"history_limit"`
}

// ServerConfig configures the HTTP session control surface.
type ServerConfig struct {
	Listen          string        `mapstructure:"listen" yaml:"listen"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"jwt_secret"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// InspectorConfig configures the passive recorder.
type InspectorConfig struct {
	Output    string `mapstructure:"output" yaml:"output"`
	TextLimit int    `mapstructure:"text_limit" yaml:"text_limit"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
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
	v.SetDefault("logger.log_file", "formpilot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Browser --
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.viewport_width", 1280)
	v.SetDefault("browser.viewport_height", 720)
	v.SetDefault("browser.navigation_timeout", "30s")
	v.SetDefault("browser.grant_geolocation", true)

	// -- Stream --
	v.SetDefault("stream.frame_interval", "100ms")
	v.SetDefault("stream.frame_burst", 1)
	v.SetDefault("stream.frame_quality", 0)
	v.SetDefault("stream.send_buffer", 4)
	v.SetDefault("stream.write_wait", "10s")
	v.SetDefault("stream.pong_wait", "60s")
	v.SetDefault("stream.max_message_size", 4096)

	// -- Executor --
	v.SetDefault("executor.page_ready_timeout", "30s")
	v.SetDefault("executor.indicator_timeout", "10s")
	v.SetDefault("executor.indicator_check_timeout", "2s")
	v.SetDefault("executor.poll_interval", "250ms")
	v.SetDefault("executor.human_typing", true)
	v.SetDefault("executor.type_delay_min", "50ms")
	v.SetDefault("executor.type_delay_max", "150ms")
	v.SetDefault("executor.safe_run", false)
	v.SetDefault("executor.default_max_iterations", 50)

	// -- Checkpoint --
	v.SetDefault("checkpoint.driver", "file")
	v.SetDefault("checkpoint.key", "formpilot_repair_state")
	v.SetDefault("checkpoint.path", "~/.formpilot/checkpoints")

	// -- Store --
	v.SetDefault("store.driver", "file")
	v.SetDefault("store.dir", "~/.formpilot")
	v.SetDefault("store.history_limit", 50)

	// -- Server --
	v.SetDefault("server.listen", "127.0.0.1:8765")
	v.SetDefault("server.shutdown_timeout", "15s")

	// -- Inspector --
	v.SetDefault("inspector.output", "data/inspect-log.json")
	v.SetDefault("inspector.text_limit", 120)
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Secrets are never expected in the config file.
	_ = v.BindEnv("server.jwt_secret", "FORMPILOT_JWT_SECRET")
	_ = v.BindEnv("database.url", "FORMPILOT_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.expandPaths(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) expandPaths() error {
	for _, p := range []*string{&c.CheckpointCfg.Path, &c.StoreCfg.Dir, &c.InspectorCfg.Output, &c.LoggerCfg.LogFile} {
		if *p == "" {
			continue
		}
		expanded, err := homedir.Expand(*p)
		if err != nil {
			return fmt.Errorf("failed to expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	return nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.BrowserCfg.ViewportWidth <= 0 || c.BrowserCfg.ViewportHeight <= 0 {
		return fmt.Errorf("browser.viewport_width and browser.viewport_height must be positive integers")
	}
	if c.BrowserCfg.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be a positive duration")
	}
	if c.StreamCfg.FrameInterval <= 0 {
		return fmt.Errorf("stream.frame_interval must be a positive duration")
	}
	if c.StreamCfg.SendBuffer <= 0 {
		return fmt.Errorf("stream.send_buffer must be a positive integer")
	}
	if c.ExecutorCfg.PollInterval <= 0 {
		return fmt.Errorf("executor.poll_interval must be a positive duration")
	}
	if c.ExecutorCfg.TypeDelayMax < c.ExecutorCfg.TypeDelayMin {
		return fmt.Errorf("executor.type_delay_max must not be lower than executor.type_delay_min")
	}
	if c.ExecutorCfg.DefaultMaxIterations <= 0 {
		return fmt.Errorf("executor.default_max_iterations must be a positive integer")
	}
	if c.StoreCfg.HistoryLimit <= 0 {
		return fmt.Errorf("store.history_limit must be a positive integer")
	}

	switch c.CheckpointCfg.Driver {
	case "file", "sqlite":
		if c.CheckpointCfg.Path == "" {
			return fmt.Errorf("checkpoint.path is required for the %s driver", c.CheckpointCfg.Driver)
		}
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required for the postgres checkpoint driver")
		}
	default:
		return fmt.Errorf("unknown checkpoint.driver %q", c.CheckpointCfg.Driver)
	}

	switch c.StoreCfg.Driver {
	case "file":
	case "postgres":
		if c.DatabaseCfg.URL == "" {
			return fmt.Errorf("database.url is required for the postgres store driver")
		}
	default:
		return fmt.Errorf("unknown store.driver %q", c.StoreCfg.Driver)
	}

	if c.CheckpointCfg.Key == "" {
		return fmt.Errorf("checkpoint.key must not be empty")
	}
	return nil
}

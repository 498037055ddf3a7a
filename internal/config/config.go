// ABOUTME: Configuration loading and parsing for relaydesk
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete relaydesk configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Bot      BotConfig      `yaml:"bot"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`

	TokenTTL time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TokenTTLRaw string `yaml:"token_ttl"`
}

// BotConfig holds bot transport configuration
type BotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	APIBase string `yaml:"api_base"`

	PollTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	PollTimeoutRaw string `yaml:"poll_timeout"`
}

// DeliveryConfig holds live delivery timing configuration
type DeliveryConfig struct {
	SendTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	SendTimeoutRaw string `yaml:"send_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults applied after parsing
const (
	DefaultAPIBase     = "https://api.telegram.org"
	DefaultPollTimeout = 30 * time.Second
	DefaultSendTimeout = 3 * time.Second
	DefaultTokenTTL    = 12 * time.Hour
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Bot.Enabled && c.Bot.Token == "" {
		return fmt.Errorf("bot.token is required when the bot is enabled")
	}

	return nil
}

// applyDefaults fills in values the file may omit
func (c *Config) applyDefaults() {
	if c.Bot.APIBase == "" {
		c.Bot.APIBase = DefaultAPIBase
	}
	if c.Bot.PollTimeout == 0 {
		c.Bot.PollTimeout = DefaultPollTimeout
	}
	if c.Delivery.SendTimeout == 0 {
		c.Delivery.SendTimeout = DefaultSendTimeout
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bot.PollTimeoutRaw != "" {
		cfg.Bot.PollTimeout, err = time.ParseDuration(cfg.Bot.PollTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing poll_timeout %q: %w", cfg.Bot.PollTimeoutRaw, err)
		}
	}

	if cfg.Delivery.SendTimeoutRaw != "" {
		cfg.Delivery.SendTimeout, err = time.ParseDuration(cfg.Delivery.SendTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing send_timeout %q: %w", cfg.Delivery.SendTimeoutRaw, err)
		}
	}

	if cfg.Auth.TokenTTLRaw != "" {
		cfg.Auth.TokenTTL, err = time.ParseDuration(cfg.Auth.TokenTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing token_ttl %q: %w", cfg.Auth.TokenTTLRaw, err)
		}
	}

	return nil
}

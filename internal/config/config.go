// Package config provides configuration management for villa.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfigNotFound indicates no usable config file was found.
var ErrConfigNotFound = errors.New("config not found")

// Config matches the structure of villa.json
type Config struct {
	Bots      []BotConfig     `json:"bots" yaml:"bots" mapstructure:"bots" validate:"required,min=1,dive"`
	API       APIConfig       `json:"api" yaml:"api" mapstructure:"api"`
	Heartbeat HeartbeatConfig `json:"heartbeat" yaml:"heartbeat" mapstructure:"heartbeat"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway" mapstructure:"gateway"`
	Reconnect ReconnectConfig `json:"reconnect" yaml:"reconnect" mapstructure:"reconnect"`
	Status    StatusConfig    `json:"status" yaml:"status" mapstructure:"status"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging" mapstructure:"logging"`
}

// BotConfig is one bot identity. Secret and PubKey may reference the
// environment as ${NAME}. PubKey is the PEM public key that verifies HTTP
// callbacks; without it the bot's callback endpoint rejects every request.
type BotConfig struct {
	Name         string            `json:"name" yaml:"name" mapstructure:"name" validate:"required"`
	BotID        string            `json:"botId" yaml:"botId" mapstructure:"botId" validate:"required"`
	Secret       string            `json:"secret" yaml:"secret" mapstructure:"secret" validate:"required"`
	LoginVillaID string            `json:"loginVillaId" yaml:"loginVillaId" mapstructure:"loginVillaId" validate:"omitempty,numeric"`
	Region       string            `json:"region" yaml:"region" mapstructure:"region"`
	Meta         map[string]string `json:"meta" yaml:"meta" mapstructure:"meta"`
	PubKey       string            `json:"pubKey" yaml:"pubKey" mapstructure:"pubKey"`
	Disabled     bool              `json:"disabled" yaml:"disabled" mapstructure:"disabled"`
}

type APIConfig struct {
	BaseURL        string        `json:"baseUrl" yaml:"baseUrl" mapstructure:"baseUrl" validate:"required,url"`
	RequestTimeout time.Duration `json:"requestTimeout" yaml:"requestTimeout" mapstructure:"requestTimeout" validate:"gte=0"`
	ConnectTimeout time.Duration `json:"connectTimeout" yaml:"connectTimeout" mapstructure:"connectTimeout" validate:"gte=0"`
	SocketTimeout  time.Duration `json:"socketTimeout" yaml:"socketTimeout" mapstructure:"socketTimeout" validate:"gte=0"`
}

type HeartbeatConfig struct {
	IntervalSeconds int `json:"intervalSeconds" yaml:"intervalSeconds" mapstructure:"intervalSeconds" validate:"gte=1"`
}

// Interval returns the heartbeat interval as a duration.
func (h HeartbeatConfig) Interval() time.Duration {
	return time.Duration(h.IntervalSeconds) * time.Second
}

type GatewayConfig struct {
	// MaxFrameSize caps one inbound gateway message in bytes.
	MaxFrameSize int64 `json:"maxFrameSize" yaml:"maxFrameSize" mapstructure:"maxFrameSize" validate:"gte=0"`
}

type ReconnectConfig struct {
	InitialInterval  time.Duration `json:"initialInterval" yaml:"initialInterval" mapstructure:"initialInterval" validate:"gte=0"`
	MaxInterval      time.Duration `json:"maxInterval" yaml:"maxInterval" mapstructure:"maxInterval" validate:"gte=0"`
	MaxElapsedTime   time.Duration `json:"maxElapsedTime" yaml:"maxElapsedTime" mapstructure:"maxElapsedTime" validate:"gte=0"`
	MinCycleInterval time.Duration `json:"minCycleInterval" yaml:"minCycleInterval" mapstructure:"minCycleInterval" validate:"gte=0"`
}

type StatusConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Bind    string `json:"bind" yaml:"bind" mapstructure:"bind"`
	Port    int    `json:"port" yaml:"port" mapstructure:"port" validate:"gte=0,lte=65535"`
}

// Addr returns the listen address of the status server. "loopback" binds
// 127.0.0.1 and "all" binds every interface.
func (s StatusConfig) Addr() string {
	host := s.Bind
	switch host {
	case "", "loopback":
		host = "127.0.0.1"
	case "all":
		host = ""
	}
	return fmt.Sprintf("%s:%d", host, s.Port)
}

type LoggingConfig struct {
	Verbose bool `json:"verbose" yaml:"verbose" mapstructure:"verbose"`
}

// StateDir returns the villa state directory path.
// Can be overridden via VILLA_STATE_DIR environment variable.
// Default: ~/.villa
func StateDir() string {
	if override := strings.TrimSpace(os.Getenv("VILLA_STATE_DIR")); override != "" {
		return expandPath(override)
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ".villa"
	}
	return filepath.Join(home, ".villa")
}

// ConfigPath returns the default config file path.
// Can be overridden via VILLA_CONFIG_PATH environment variable.
// Default: ~/.villa/villa.json
func ConfigPath() string {
	if override := strings.TrimSpace(os.Getenv("VILLA_CONFIG_PATH")); override != "" {
		return expandPath(override)
	}
	return filepath.Join(StateDir(), "villa.json")
}

// LockPath returns the single-instance lock file used by `villa run`.
func LockPath() string {
	return filepath.Join(StateDir(), "villa.lock")
}

// expandPath expands ~ to home directory and resolves the path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = strings.Replace(path, "~", home, 1)
		}
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return absPath
}

// LoadViper loads the configuration into a Viper instance.
func LoadViper() (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	if configPath := strings.TrimSpace(os.Getenv("VILLA_CONFIG_PATH")); configPath != "" {
		expandedPath := expandPath(configPath)
		fileInfo, err := os.Stat(expandedPath)
		if err == nil && fileInfo.IsDir() {
			v.SetConfigName("villa")
			v.AddConfigPath(expandedPath)
		} else {
			v.SetConfigFile(expandedPath)
		}
	} else {
		v.SetConfigName("villa")
		v.AddConfigPath(StateDir())
	}

	v.SetEnvPrefix("VILLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist) {
			return nil, ErrConfigNotFound
		}
		return nil, err
	}
	return v, nil
}

// Load reads the configuration from file or environment variables.
func Load() (*Config, error) {
	v, err := LoadViper()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	expandEnvVars(&cfg)
	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("api.baseUrl", "https://bbs-api.miyoushe.com")
	v.SetDefault("heartbeat.intervalSeconds", 20)
	v.SetDefault("gateway.maxFrameSize", 4<<20)

	v.SetDefault("reconnect.initialInterval", "1s")
	v.SetDefault("reconnect.maxInterval", "1m")
	v.SetDefault("reconnect.minCycleInterval", "1s")

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.bind", "loopback")
	v.SetDefault("status.port", 18790)
}

// expandEnvVars expands environment variables in bot credentials.
func expandEnvVars(cfg *Config) {
	for i := range cfg.Bots {
		cfg.Bots[i].BotID = os.ExpandEnv(cfg.Bots[i].BotID)
		cfg.Bots[i].Secret = os.ExpandEnv(cfg.Bots[i].Secret)
		cfg.Bots[i].PubKey = os.ExpandEnv(cfg.Bots[i].PubKey)
	}
}

// Save saves the configuration to ConfigPath as JSON.
func Save(cfg *Config) error {
	configPath := ConfigPath()
	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(configPath, data, 0600)
}

var validate = validator.New()

// Validate checks the config for structural and semantic errors.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	names := make(map[string]bool, len(c.Bots))
	for _, b := range c.Bots {
		if names[b.Name] {
			return fmt.Errorf("duplicate bot name '%s'", b.Name)
		}
		names[b.Name] = true
	}
	return nil
}

// Bot returns the bot named name.
func (c *Config) Bot(name string) (BotConfig, bool) {
	for _, b := range c.Bots {
		if b.Name == name {
			return b, true
		}
	}
	return BotConfig{}, false
}

// Redacted returns a copy with secrets masked, for display.
func (c *Config) Redacted() *Config {
	out := *c
	out.Bots = make([]BotConfig, len(c.Bots))
	for i, b := range c.Bots {
		if b.Secret != "" {
			b.Secret = "********"
		}
		out.Bots[i] = b
	}
	return &out
}

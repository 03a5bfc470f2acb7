package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ConfigDir is the dot directory under the root that holds config,
// credentials and the tracking database.
const ConfigDir = ".plugtrack"

// Config represents the complete plugtrack configuration (v1 schema)
type Config struct {
	Version int    `json:"version" mapstructure:"version"`
	RootDir string `json:"rootDir" mapstructure:"rootDir"`

	Forge   ForgeConfig   `json:"forge" mapstructure:"forge"`
	Poll    PollConfig    `json:"poll" mapstructure:"poll"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// ForgeConfig contains forge API configuration
type ForgeConfig struct {
	APIBaseURL     string `json:"apiBaseUrl" mapstructure:"apiBaseUrl"`
	PrimaryRepo    string `json:"primaryRepo" mapstructure:"primaryRepo"`
	ComponentsRoot string `json:"componentsRoot" mapstructure:"componentsRoot"`
}

// PollConfig contains reconciliation loop configuration
type PollConfig struct {
	IntervalSeconds  int `json:"intervalSeconds" mapstructure:"intervalSeconds"`
	FailureThreshold int `json:"failureThreshold" mapstructure:"failureThreshold"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		RootDir: ".",
		Forge: ForgeConfig{
			APIBaseURL:     "https://api.github.com",
			PrimaryRepo:    "home-assistant/core",
			ComponentsRoot: "homeassistant/components",
		},
		Poll: PollConfig{
			IntervalSeconds:  300,
			FailureThreshold: 3,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .plugtrack/config.json
func LoadConfig(rootDir string) (*Config, error) {
	v := viper.New()

	v.SetDefault("version", 1)
	v.SetDefault("rootDir", ".")
	v.SetDefault("forge.apiBaseUrl", "https://api.github.com")
	v.SetDefault("forge.primaryRepo", "home-assistant/core")
	v.SetDefault("forge.componentsRoot", "homeassistant/components")
	v.SetDefault("poll.intervalSeconds", 300)
	v.SetDefault("poll.failureThreshold", 3)
	v.SetDefault("logging.format", "human")
	v.SetDefault("logging.level", "info")

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(rootDir, ConfigDir))

	if err := v.ReadInConfig(); err != nil {
		// If config doesn't exist, return default config
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			cfg := DefaultConfig()
			cfg.RootDir = rootDir
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if cfg.RootDir == "." || cfg.RootDir == "" {
		cfg.RootDir = rootDir
	}

	return &cfg, nil
}

// Save writes the configuration to .plugtrack/config.json
func (c *Config) Save(rootDir string) error {
	dir := filepath.Join(rootDir, ConfigDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 1 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Forge.APIBaseURL == "" {
		return &ConfigError{Field: "forge.apiBaseUrl", Message: "must not be empty"}
	}
	if c.Forge.PrimaryRepo == "" {
		return &ConfigError{Field: "forge.primaryRepo", Message: "must not be empty"}
	}
	if c.Poll.IntervalSeconds <= 0 {
		return &ConfigError{Field: "poll.intervalSeconds", Message: "must be positive"}
	}
	if c.Poll.FailureThreshold <= 0 {
		return &ConfigError{Field: "poll.failureThreshold", Message: "must be positive"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

// Package config loads Parley configuration from ~/.parley/config.yaml with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the Parley chat service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	LLM         LLMConfig         `mapstructure:"llm" yaml:"llm"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store" yaml:"vector_store"`
	Data        DataConfig        `mapstructure:"data" yaml:"data"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// ServerConfig contains the HTTP API listen settings.
type ServerConfig struct {
	// Host is the listen address (default: 127.0.0.1)
	Host string `mapstructure:"host" yaml:"host"`
	// Port is the listen port (default: 8091)
	Port int `mapstructure:"port" yaml:"port"`
}

// LLMConfig contains configuration for model backends.
type LLMConfig struct {
	// DefaultProvider is used for auxiliary calls (title generation, sub-agent
	// routing) when a request's user settings don't name one.
	DefaultProvider string `mapstructure:"default_provider" yaml:"default_provider"`
	// Providers maps provider keys to their backend configuration.
	Providers map[string]ProviderConfig `mapstructure:"providers" yaml:"providers"`
}

// ProviderConfig contains configuration for a single model backend.
type ProviderConfig struct {
	// Endpoint is the API base URL (primarily used for local backends).
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`
	// APIKey is the authentication key for the backend.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// Model is the default model for this backend.
	Model string `mapstructure:"model" yaml:"model,omitempty"`
	// TimeoutSec bounds a single completion call (default: 120).
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// Timeout returns the configured call timeout.
func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(p.TimeoutSec) * time.Second
}

// VectorStoreConfig contains the external knowledge-store connection.
type VectorStoreConfig struct {
	// Endpoint is the vector store service URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`
	// APIKey authenticates query calls.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// TimeoutSec bounds a single query (default: 30).
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec,omitempty"`
}

// DataConfig contains local storage settings.
type DataConfig struct {
	// Dir is the directory holding the sqlite database (default: ~/.parley).
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error").
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file.
	File string `mapstructure:"file" yaml:"file,omitempty"`
}

// Default returns the configuration used when no file exists yet.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".parley")

	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8091,
		},
		LLM: LLMConfig{
			DefaultProvider: "ollama",
			Providers: map[string]ProviderConfig{
				"ollama": {
					Endpoint: "http://127.0.0.1:11434",
					Model:    "llama3",
				},
				"openai": {
					Endpoint: "https://api.openai.com/v1",
					Model:    "gpt-4o-mini",
				},
				"anthropic": {
					Endpoint: "https://api.anthropic.com",
					Model:    "claude-3-5-sonnet-20241022",
				},
			},
		},
		VectorStore: VectorStoreConfig{
			Endpoint: "http://127.0.0.1:8511",
		},
		Data: DataConfig{
			Dir: dataDir,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "parley.log"),
		},
	}
}

// Load reads configuration from the default location (~/.parley/config.yaml).
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}
	return LoadFromPath(filepath.Join(homeDir, ".parley", "config.yaml"))
}

// LoadFromPath reads configuration from an explicit file path, creating a
// default config file when none exists.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeConfigFile(path, Default()); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Environment variable overrides.
	// Example: PARLEY_LLM_PROVIDERS_OPENAI_API_KEY
	v.SetEnvPrefix("PARLEY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Data.Dir = expandPath(cfg.Data.Dir)
	cfg.Logging.File = expandPath(cfg.Logging.File)

	return &cfg, nil
}

// writeConfigFile serializes cfg to path as YAML.
func writeConfigFile(path string, cfg *Config) error {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

// expandPath replaces a leading ~ with the user's home directory.
func expandPath(path string) string {
	if path == "" || !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
}

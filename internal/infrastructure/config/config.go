// Package config loads the layered runtime configuration: defaults,
// then the global ~/.skiff/config.yaml, then a project-local
// config.yaml, then SKIFF_* environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/skiff-ai/skiff/internal/domain/entity"
)

// Config is the full runtime configuration.
type Config struct {
	Server    ServerConfig              `mapstructure:"server"`
	Database  DatabaseConfig            `mapstructure:"database"`
	Log       LogConfig                 `mapstructure:"log"`
	Agent     AgentConfig               `mapstructure:"agent"`
	Model     ModelConfig               `mapstructure:"model"`
	Providers map[string]ProviderConfig `mapstructure:"providers"`
	Runner    RunnerConfig              `mapstructure:"runner"`
	EventBus  EventBusConfig            `mapstructure:"event_bus"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release
}

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig selects the transcript store backend.
type DatabaseConfig struct {
	Type string `mapstructure:"type"` // sqlite, postgres, memory
	DSN  string `mapstructure:"dsn"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"` // json, console
	OutputPath string `mapstructure:"output_path"`
}

// AgentConfig holds per-session loop settings.
type AgentConfig struct {
	SystemPrompt  string           `mapstructure:"system_prompt"`
	Workspace     string           `mapstructure:"workspace"`
	MaxTurns      int              `mapstructure:"max_turns"`
	ParallelTools int              `mapstructure:"parallel_tools"`
	Compaction    CompactionConfig `mapstructure:"compaction"`
}

// CompactionConfig tunes transcript folding.
type CompactionConfig struct {
	ContextLimit int     `mapstructure:"context_limit"`
	TriggerRatio float64 `mapstructure:"trigger_ratio"`
	KeepRecent   int     `mapstructure:"keep_recent"`
}

// ModelConfig names the default model sessions run on.
type ModelConfig struct {
	ID              string  `mapstructure:"id"`
	Provider        string  `mapstructure:"provider"` // openai, openaiCodex, anthropic
	BaseURL         string  `mapstructure:"base_url"`
	Temperature     float64 `mapstructure:"temperature"`
	MaxTokens       int     `mapstructure:"max_tokens"`
	ReasoningEffort string  `mapstructure:"reasoning_effort"`
}

// Entity converts the config into the domain model descriptor.
func (c ModelConfig) Entity() (entity.Model, error) {
	provider, err := entity.ParseProvider(c.Provider)
	if err != nil {
		return entity.Model{}, err
	}
	return entity.Model{ID: c.ID, Provider: provider, BaseURL: c.BaseURL}, nil
}

// ProviderConfig carries per-provider credentials. Keys may also come
// from the provider's environment variable.
type ProviderConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
}

// RunnerConfig configures the external tool-runner connection.
type RunnerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	URL          string `mapstructure:"url"`
	ManifestPath string `mapstructure:"manifest_path"`
}

// EventBusConfig tunes per-subscriber backlog.
type EventBusConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// Load reads the layered configuration. An explicit path skips the
// search and reads only that file (plus defaults and env).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		// Global layer: ~/.skiff/config.yaml.
		v.AddConfigPath(filepath.Join(os.Getenv("HOME"), ".skiff"))
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read global config: %w", err)
			}
		}

		// Project layer overrides the global one.
		for _, localDir := range []string{"./config", "."} {
			localPath := filepath.Join(localDir, "config.yaml")
			if _, err := os.Stat(localPath); err == nil {
				local := viper.New()
				local.SetConfigFile(localPath)
				if err := local.ReadInConfig(); err != nil {
					return nil, fmt.Errorf("read local config: %w", err)
				}
				if err := v.MergeConfigMap(local.AllSettings()); err != nil {
					return nil, fmt.Errorf("merge local config: %w", err)
				}
				break
			}
		}
	}

	v.SetEnvPrefix("SKIFF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Model.ID == "" {
		return fmt.Errorf("model.id is required")
	}
	if _, err := entity.ParseProvider(c.Model.Provider); err != nil {
		return fmt.Errorf("model.provider: %w", err)
	}
	switch c.Database.Type {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database.type %q", c.Database.Type)
	}
	if c.Runner.Enabled && c.Runner.URL == "" {
		return fmt.Errorf("runner.url is required when runner.enabled")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8700)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.dsn", "skiff.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("agent.max_turns", 0)
	v.SetDefault("agent.parallel_tools", 1)
	v.SetDefault("agent.compaction.context_limit", 128000)
	v.SetDefault("agent.compaction.trigger_ratio", 0.85)
	v.SetDefault("agent.compaction.keep_recent", 10)

	v.SetDefault("model.id", "gpt-5.1")
	v.SetDefault("model.provider", "openai")

	v.SetDefault("event_bus.buffer", 1024)
}

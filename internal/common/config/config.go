// Package config provides configuration management for agentdeck.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentdeck.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Storage      StorageConfig      `mapstructure:"storage"`
	NATS         NATSConfig         `mapstructure:"nats"`
	Claude       ClaudeConfig       `mapstructure:"claude"`
	Gemini       GeminiConfig       `mapstructure:"gemini"`
	Instructions InstructionsConfig `mapstructure:"instructions"`
	Instance     InstanceConfig     `mapstructure:"instance"`
	Queue        QueueConfig        `mapstructure:"queue"`
	MCP          MCPConfig          `mapstructure:"mcp"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	ReadTimeout  int      `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int      `mapstructure:"writeTimeout"` // in seconds
	CORSOrigins  []string `mapstructure:"corsOrigins"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Type is one of: memory, sqlite, postgres.
	Type string `mapstructure:"type"`

	// Path is the sqlite database file path (sqlite only).
	Path string `mapstructure:"path"`

	// DSN is the postgres connection string (postgres only).
	DSN string `mapstructure:"dsn"`

	MaxConns int `mapstructure:"maxConns"`
	MinConns int `mapstructure:"minConns"`
}

// NATSConfig holds NATS messaging configuration.
// An empty URL selects the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClusterID     string `mapstructure:"clusterId"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ClaudeConfig holds the claude-code provider configuration.
type ClaudeConfig struct {
	// Adapter selects how claude-code agents run: "python-proxy" streams
	// through the HTTP-SSE sidecar, "sdk" spawns the CLI directly.
	Adapter  string `mapstructure:"adapter"`
	ProxyURL string `mapstructure:"proxyUrl"`
	APIKey   string `mapstructure:"apiKey"`
}

// GeminiConfig holds the gemini-cli provider configuration.
type GeminiConfig struct {
	APIKey string `mapstructure:"apiKey"`
}

// InstructionsConfig holds the instruction file locations swapped around
// each launch.
type InstructionsConfig struct {
	UserPath    string `mapstructure:"userPath"`
	ProjectPath string `mapstructure:"projectPath"`
}

// InstanceConfig holds single-instance lock configuration.
type InstanceConfig struct {
	LockPath string `mapstructure:"lockPath"`
}

// QueueConfig holds launch queue configuration.
type QueueConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// MCPConfig holds the embedded MCP facade server configuration.
type MCPConfig struct {
	ServerEnabled bool `mapstructure:"serverEnabled"`
	ServerPort    int  `mapstructure:"serverPort"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	// Check if running in Kubernetes
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	// Check for explicit production environment
	if env := os.Getenv("AGENTDECK_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	// Default to text format for terminal use (more readable than JSON)
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)
	v.SetDefault("server.corsOrigins", []string{"*"})

	// Storage defaults
	v.SetDefault("storage.type", "sqlite")
	v.SetDefault("storage.path", "./agentdeck.db")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.maxConns", 25)
	v.SetDefault("storage.minConns", 5)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clusterId", "agentdeck-cluster")
	v.SetDefault("nats.clientId", "agentdeck-engine")
	v.SetDefault("nats.maxReconnects", 10)

	// Claude provider defaults
	v.SetDefault("claude.adapter", "python-proxy")
	v.SetDefault("claude.proxyUrl", "http://localhost:8000")
	v.SetDefault("claude.apiKey", "")

	// Gemini provider defaults
	v.SetDefault("gemini.apiKey", "")

	// Instruction file defaults
	v.SetDefault("instructions.userPath", "~/.claude/CLAUDE.md")
	v.SetDefault("instructions.projectPath", "./CLAUDE.md")

	// Instance lock defaults
	v.SetDefault("instance.lockPath", "./agentdeck.pid")

	// Queue defaults
	v.SetDefault("queue.capacity", 64)

	// MCP facade defaults
	v.SetDefault("mcp.serverEnabled", true)
	v.SetDefault("mcp.serverPort", 9090)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix AGENTDECK_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/agentdeck/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("AGENTDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for the documented plain env vars. AutomaticEnv does
	// not handle camelCase to SNAKE_CASE conversion, and these variables are
	// part of the engine's published surface without the prefix.
	_ = v.BindEnv("server.port", "PORT", "AGENTDECK_SERVER_PORT")
	_ = v.BindEnv("claude.adapter", "CLAUDE_ADAPTER", "AGENTDECK_CLAUDE_ADAPTER")
	_ = v.BindEnv("claude.proxyUrl", "CLAUDE_PROXY_URL", "AGENTDECK_CLAUDE_PROXY_URL")
	_ = v.BindEnv("claude.apiKey", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("gemini.apiKey", "GEMINI_API_KEY")
	_ = v.BindEnv("storage.type", "REPOSITORY_TYPE", "AGENTDECK_STORAGE_TYPE")
	_ = v.BindEnv("storage.path", "DATABASE_PATH", "AGENTDECK_STORAGE_PATH")
	_ = v.BindEnv("storage.dsn", "DATABASE_URL", "AGENTDECK_STORAGE_DSN")
	_ = v.BindEnv("instance.lockPath", "PID_FILE_PATH", "AGENTDECK_INSTANCE_LOCK_PATH")
	_ = v.BindEnv("instructions.userPath", "AGENTDECK_INSTRUCTIONS_USER_PATH")
	_ = v.BindEnv("instructions.projectPath", "AGENTDECK_INSTRUCTIONS_PROJECT_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentdeck/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validStorage := map[string]bool{"memory": true, "sqlite": true, "postgres": true}
	if !validStorage[strings.ToLower(cfg.Storage.Type)] {
		errs = append(errs, "storage.type must be one of: memory, sqlite, postgres")
	}
	if strings.EqualFold(cfg.Storage.Type, "sqlite") && cfg.Storage.Path == "" {
		errs = append(errs, "storage.path is required when storage.type is sqlite")
	}
	if strings.EqualFold(cfg.Storage.Type, "postgres") && cfg.Storage.DSN == "" {
		errs = append(errs, "storage.dsn is required when storage.type is postgres")
	}

	validAdapters := map[string]bool{"python-proxy": true, "sdk": true}
	if !validAdapters[strings.ToLower(cfg.Claude.Adapter)] {
		errs = append(errs, "claude.adapter must be one of: python-proxy, sdk")
	}

	if cfg.Queue.Capacity <= 0 {
		errs = append(errs, "queue.capacity must be positive")
	}

	if cfg.MCP.ServerEnabled && (cfg.MCP.ServerPort <= 0 || cfg.MCP.ServerPort > 65535) {
		errs = append(errs, "mcp.serverPort must be between 1 and 65535")
	}

	// Logging validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

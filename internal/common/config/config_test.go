package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

// loadIsolated loads config from an empty temp dir so a developer's local
// config.yaml never leaks into the assertions.
func loadIsolated(t *testing.T) (*Config, error) {
	t.Helper()
	return LoadWithPath(t.TempDir())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadIsolated(t)
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, "./agentdeck.db", cfg.Storage.Path)
	assert.Equal(t, "", cfg.NATS.URL)
	assert.Equal(t, "python-proxy", cfg.Claude.Adapter)
	assert.Equal(t, "http://localhost:8000", cfg.Claude.ProxyURL)
	assert.Equal(t, "~/.claude/CLAUDE.md", cfg.Instructions.UserPath)
	assert.Equal(t, "./CLAUDE.md", cfg.Instructions.ProjectPath)
	assert.Equal(t, "./agentdeck.pid", cfg.Instance.LockPath)
	assert.Equal(t, 64, cfg.Queue.Capacity)
	assert.Equal(t, 9090, cfg.MCP.ServerPort)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestPlainEnvVars(t *testing.T) {
	t.Setenv("PORT", "4100")
	t.Setenv("CLAUDE_ADAPTER", "sdk")
	t.Setenv("CLAUDE_PROXY_URL", "http://proxy:9000")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("REPOSITORY_TYPE", "memory")
	t.Setenv("DATABASE_PATH", "/var/lib/deck.db")
	t.Setenv("DATABASE_URL", "postgres://u:p@db/agentdeck")
	t.Setenv("PID_FILE_PATH", "/run/agentdeck.pid")

	cfg, err := loadIsolated(t)
	require.NoError(t, err)

	assert.Equal(t, 4100, cfg.Server.Port)
	assert.Equal(t, "sdk", cfg.Claude.Adapter)
	assert.Equal(t, "http://proxy:9000", cfg.Claude.ProxyURL)
	assert.Equal(t, "sk-test", cfg.Claude.APIKey)
	assert.Equal(t, "memory", cfg.Storage.Type)
	assert.Equal(t, "/var/lib/deck.db", cfg.Storage.Path)
	assert.Equal(t, "postgres://u:p@db/agentdeck", cfg.Storage.DSN)
	assert.Equal(t, "/run/agentdeck.pid", cfg.Instance.LockPath)
}

func TestPrefixedEnvVars(t *testing.T) {
	t.Setenv("AGENTDECK_NATS_URL", "nats://localhost:4222")
	t.Setenv("AGENTDECK_LOGGING_LEVEL", "debug")

	cfg, err := loadIsolated(t)
	require.NoError(t, err)

	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	doc, err := yaml.Marshal(map[string]any{
		"server": map[string]any{
			"port":        5151,
			"corsOrigins": []string{"https://deck.example"},
		},
		"queue":  map[string]any{"capacity": 8},
		"claude": map[string]any{"adapter": "sdk"},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), doc, 0644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)

	assert.Equal(t, 5151, cfg.Server.Port)
	assert.Equal(t, 8, cfg.Queue.Capacity)
	assert.Equal(t, []string{"https://deck.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "sdk", cfg.Claude.Adapter)
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		want  string
	}{
		{"bad port", "PORT", "99999", "server.port"},
		{"bad storage type", "REPOSITORY_TYPE", "cassandra", "storage.type"},
		{"bad adapter", "CLAUDE_ADAPTER", "grpc", "claude.adapter"},
		{"bad level", "AGENTDECK_LOGGING_LEVEL", "verbose", "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := loadIsolated(t)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTimeoutDurations(t *testing.T) {
	cfg, err := loadIsolated(t)
	require.NoError(t, err)

	assert.Equal(t, cfg.Server.ReadTimeoutDuration().Seconds(), float64(cfg.Server.ReadTimeout))
	assert.Equal(t, cfg.Server.WriteTimeoutDuration().Seconds(), float64(cfg.Server.WriteTimeout))
}

// 配置加载器测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearLegacyEnv 屏蔽宿主机可能存在的兼容环境变量
func clearLegacyEnv(t *testing.T) {
	t.Helper()
	for key := range legacyEnv {
		t.Setenv(key, "")
	}
}

func TestLoader_LoadDefaults(t *testing.T) {
	clearLegacyEnv(t)

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.HTTPPort)
	assert.Equal(t, "memory", cfg.Task.Journal)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	clearLegacyEnv(t)

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	yamlContent := `
server:
  http_port: 8888
  api_keys: ["k1", "k2"]
browser:
  cdp_url: "ws://chrome:3000"
  token: "secret"
agent:
  max_steps: 12
  run_timeout: 90s
task:
  journal: redis
  archive_enabled: true
database:
  driver: sqlite
  name: ":memory:"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0o644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"k1", "k2"}, cfg.Server.APIKeys)
	assert.Equal(t, "ws://chrome:3000", cfg.Browser.CDPURL)
	assert.Equal(t, "secret", cfg.Browser.Token)
	assert.Equal(t, 12, cfg.Agent.MaxSteps)
	assert.Equal(t, 90*time.Second, cfg.Agent.RunTimeout)
	assert.Equal(t, "redis", cfg.Task.Journal)
	assert.True(t, cfg.Task.ArchiveEnabled)
	// 未出现在 YAML 中的字段保留默认值
	assert.Equal(t, 9091, cfg.Server.MetricsPort)
	require.NoError(t, cfg.Validate())
}

func TestLoader_MissingFileUsesDefaults(t *testing.T) {
	clearLegacyEnv(t)

	cfg, err := NewLoader().WithConfigPath(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server, cfg.Server)
}

func TestLoader_InvalidYAML(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server: [unclosed"), 0o644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestLoader_EnvOverrides(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("OPERATORNEXT_SERVER_HTTP_PORT", "9000")
	t.Setenv("OPERATORNEXT_SERVER_CORS_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("OPERATORNEXT_AGENT_RUN_TIMEOUT", "5m")
	t.Setenv("OPERATORNEXT_LLM_TEMPERATURE", "0.3")
	t.Setenv("OPERATORNEXT_SERVER_JWT_ENABLED", "true")
	t.Setenv("OPERATORNEXT_SERVER_JWT_SECRET", "s3cret")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSAllowedOrigins)
	assert.Equal(t, 5*time.Minute, cfg.Agent.RunTimeout)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 1e-9)
	assert.True(t, cfg.Server.JWT.Enabled)
	assert.Equal(t, "s3cret", cfg.Server.JWT.Secret)
}

func TestLoader_LegacyEnvFallback(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("OPENAI_API_BASE", "http://llm.local/v1")
	t.Setenv("OPENAI_MODEL", "qwen-vl")
	t.Setenv("BROWSER_CDP_URL", "ws://legacy:13000")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "http://llm.local/v1", cfg.LLM.BaseURL)
	assert.Equal(t, "qwen-vl", cfg.LLM.Model)
	assert.Equal(t, "ws://legacy:13000", cfg.Browser.CDPURL)

	// 带前缀的变量优先
	t.Setenv("OPERATORNEXT_LLM_MODEL", "gpt-4o-mini")
	cfg, err = NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	clearLegacyEnv(t)
	t.Setenv("OPERATORNEXT_SERVER_HTTP_PORT", "not-a-number")

	_, err := NewLoader().Load()
	assert.Error(t, err)
}

func TestLoader_Validator(t *testing.T) {
	clearLegacyEnv(t)

	_, err := NewLoader().WithValidator(func(c *Config) error {
		return c.Validate()
	}).Load()
	require.NoError(t, err)

	called := false
	_, err = NewLoader().WithValidator(func(c *Config) error {
		called = true
		return assert.AnError
	}).Load()
	assert.True(t, called)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }, "invalid HTTP port"},
		{"no steps", func(c *Config) { c.Agent.MaxSteps = 0 }, "max_steps"},
		{"unknown journal", func(c *Config) { c.Task.Journal = "kafka" }, "task.journal"},
		{"archive driver", func(c *Config) {
			c.Task.ArchiveEnabled = true
			c.Database.Driver = "oracle"
		}, "database driver"},
		{"jwt without key", func(c *Config) { c.Server.JWT.Enabled = true }, "jwt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	pg := DatabaseConfig{Driver: "postgres", Host: "db", Port: 5432, User: "u", Password: "p", Name: "n", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=n sslmode=disable", pg.DSN())

	my := DatabaseConfig{Driver: "mysql", Host: "db", Port: 3306, User: "u", Password: "p", Name: "n"}
	assert.Equal(t, "u:p@tcp(db:3306)/n?parseTime=true", my.DSN())

	lite := DatabaseConfig{Driver: "sqlite", Name: "file.db"}
	assert.Equal(t, "file.db", lite.DSN())

	assert.Empty(t, (&DatabaseConfig{Driver: "oracle"}).DSN())
}

// =============================================================================
// 📦 OperatorNext 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Browser:   DefaultBrowserConfig(),
		LLM:       DefaultLLMConfig(),
		Agent:     DefaultAgentConfig(),
		Task:      DefaultTaskConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:           8000,
		MetricsPort:        9091,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		ShutdownTimeout:    15 * time.Second,
		CORSAllowedOrigins: []string{"*"},
		RateLimitRPS:       50,
		RateLimitBurst:     100,
	}
}

// DefaultBrowserConfig 返回默认远程浏览器配置
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		CDPURL:          "ws://localhost:13000/playwright/chromium",
		ViewportWidth:   1280,
		ViewportHeight:  1100,
		Timeout:         30 * time.Second,
		RemoteDebugPort: 9222,
		ContainerName:   "chrome-1",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4o",
		Timeout:     2 * time.Minute,
		Temperature: 0,
		MaxRetries:  2,
	}
}

// DefaultAgentConfig 返回默认 Agent 配置
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxSteps:          100,
		MaxActionsPerStep: 10,
		MaxContentTokens:  4000,
		RunTimeout:        0,
	}
}

// DefaultTaskConfig 返回默认任务流水线配置
func DefaultTaskConfig() TaskConfig {
	return TaskConfig{
		Journal:        "memory",
		JournalTTL:     24 * time.Hour,
		ArchiveEnabled: false,
		WSWriteTimeout: 10 * time.Second,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "operatornext:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Port:            5432,
		User:            "operatornext",
		Name:            "operatornext.db",
		SSLMode:         "disable",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
		AutoMigrate:     true,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "operatornext",
		SampleRate:   0.1,
	}
}

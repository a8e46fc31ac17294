// Package config loads and validates the orchestration engine's
// configuration: orchestrator/drift tuning knobs, database/cache/bus
// connection settings, the analytical agent fleet, and the external API
// surface.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds infrastructure-level application configuration. The agent
// fleet itself (eleven analysis agents, consensus voting, synthesis/critique
// LLM tuning) lives in AgentConfig, loaded separately via LoadAgentConfig so
// operators can edit agent behavior without touching connection settings.
type Config struct {
	App          AppConfig          `mapstructure:"app"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Drift        DriftConfig        `mapstructure:"drift"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	ToolCaller   ToolCallerConfig   `mapstructure:"tool_caller"`
	Vault        VaultSettings      `mapstructure:"vault"`
	API          APIConfig          `mapstructure:"api"`
	Monitoring   MonitoringConfig   `mapstructure:"monitoring"`
}

// AppConfig contains application-level settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Version     string `mapstructure:"version"`
	Environment string `mapstructure:"environment"` // development, staging, production
	LogLevel    string `mapstructure:"log_level"`
}

// OrchestratorConfig mirrors orchestrator.Config, spec §4.2/§5.
type OrchestratorConfig struct {
	PerRunParallelism int           `mapstructure:"per_run_parallelism"`
	GlobalParallelism int           `mapstructure:"global_parallelism"`
	RunTimeout        time.Duration `mapstructure:"run_timeout"`
	AccountValue      float64       `mapstructure:"account_value"`
}

// DriftConfig mirrors drift.Config, spec §4.7/§5.
type DriftConfig struct {
	TickInterval time.Duration `mapstructure:"tick_interval"`
	ActiveWindow time.Duration `mapstructure:"active_window"`
}

// DatabaseConfig contains PostgreSQL connection settings used as the final
// fallback DSN beneath Vault and DATABASE_URL (see internal/secrets).
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN renders the Postgres connection string this config describes.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// RedisConfig contains cache settings.
type RedisConfig struct {
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	DB         int           `mapstructure:"db"`
	QuoteTTL   time.Duration `mapstructure:"quote_ttl"`
	HistoryTTL time.Duration `mapstructure:"history_ttl"`
}

// Addr renders the "host:port" address this config describes.
func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NATSConfig contains message bus settings.
type NATSConfig struct {
	URL             string `mapstructure:"url"`
	EnableJetStream bool   `mapstructure:"enable_jetstream"`
}

// ToolCallerConfig configures the MCP client every agent implementation
// shares to reach market-data, search, and LLM-backed tool servers.
type ToolCallerConfig struct {
	ClientName    string         `mapstructure:"client_name"`
	ClientVersion string         `mapstructure:"client_version"`
	CallTimeout   time.Duration  `mapstructure:"call_timeout"`
	Servers       []MCPServerRef `mapstructure:"servers"`
}

// MCPServerRef describes one MCP server connection an agent may reach
// through toolcaller.Client, mirroring toolcaller.ServerConfig.
type MCPServerRef struct {
	Name    string            `mapstructure:"name"`
	Kind    string            `mapstructure:"kind"` // "stdio" or "sse"
	Command string            `mapstructure:"command"`
	Args    []string          `mapstructure:"args"`
	Env     map[string]string `mapstructure:"env"`
	URL     string            `mapstructure:"url"`
}

// VaultSettings mirrors secrets.Config's mapstructure-bound fields.
type VaultSettings struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	AuthMethod string `mapstructure:"auth_method"`
	MountPath  string `mapstructure:"mount_path"`
	SecretPath string `mapstructure:"secret_path"`
	Namespace  string `mapstructure:"namespace"`
}

// APIConfig contains REST/SSE/WS API settings.
type APIConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// Addr renders the "host:port" address the API server binds to.
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MonitoringConfig contains Prometheus settings.
type MonitoringConfig struct {
	PrometheusPort int  `mapstructure:"prometheus_port"`
	EnableMetrics  bool `mapstructure:"enable_metrics"`
}

// Load reads configuration from configPath (or ./configs/config.yaml /
// ./config.yaml when empty), applies environment variable overrides under
// the STOCKRESEARCH_ prefix, and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("STOCKRESEARCH")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stockresearch")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	v.SetDefault("orchestrator.per_run_parallelism", 10)
	v.SetDefault("orchestrator.global_parallelism", 64)
	v.SetDefault("orchestrator.run_timeout", "180s")
	v.SetDefault("orchestrator.account_value", 100_000.0)

	v.SetDefault("drift.tick_interval", "300s")
	v.SetDefault("drift.active_window", "24h")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "stockresearch")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.quote_ttl", "15s")
	v.SetDefault("redis.history_ttl", "5m")

	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("nats.enable_jetstream", false)

	v.SetDefault("tool_caller.client_name", "stockresearch-orchestrator")
	v.SetDefault("tool_caller.client_version", "0.1.0")
	v.SetDefault("tool_caller.call_timeout", "60s")

	v.SetDefault("vault.enabled", false)
	v.SetDefault("vault.address", "http://localhost:8200")
	v.SetDefault("vault.auth_method", "token")
	v.SetDefault("vault.mount_path", "secret")
	v.SetDefault("vault.secret_path", "stockresearch/production")

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)

	v.SetDefault("monitoring.prometheus_port", 9100)
	v.SetDefault("monitoring.enable_metrics", true)
}

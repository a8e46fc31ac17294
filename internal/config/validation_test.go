package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getValidConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "stockresearch",
			Version:     "0.1.0",
			Environment: "development",
			LogLevel:    "info",
		},
		Orchestrator: OrchestratorConfig{
			PerRunParallelism: 10,
			GlobalParallelism: 64,
			RunTimeout:        180 * time.Second,
			AccountValue:      100_000,
		},
		Drift: DriftConfig{
			TickInterval: 300 * time.Second,
			ActiveWindow: 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "secure_password",
			Database: "stockresearch",
			SSLMode:  "disable",
		},
		Redis: RedisConfig{
			Host:       "localhost",
			Port:       6379,
			DB:         0,
			QuoteTTL:   15 * time.Second,
			HistoryTTL: 5 * time.Minute,
		},
		NATS: NATSConfig{
			URL:             "nats://localhost:4222",
			EnableJetStream: false,
		},
		ToolCaller: ToolCallerConfig{
			ClientName:    "stockresearch-orchestrator",
			ClientVersion: "0.1.0",
			CallTimeout:   60 * time.Second,
			Servers: []MCPServerRef{
				{Name: "market-data", Kind: "stdio", Command: "./bin/market-data-server"},
			},
		},
		Vault: VaultSettings{
			Enabled: false,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Monitoring: MonitoringConfig{
			PrometheusPort: 9100,
			EnableMetrics:  true,
		},
	}
}

func TestValidateValidConfigPasses(t *testing.T) {
	cfg := getValidConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsMissingAppName(t *testing.T) {
	cfg := getValidConfig()
	cfg.App.Name = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.name")
}

func TestValidateRejectsInvalidEnvironment(t *testing.T) {
	cfg := getValidConfig()
	cfg.App.Environment = "sandbox"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.environment")
}

func TestValidateRejectsMissingDatabaseHost(t *testing.T) {
	cfg := getValidConfig()
	cfg.Database.Host = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.host")
}

func TestValidateRejectsInvalidSSLMode(t *testing.T) {
	cfg := getValidConfig()
	cfg.Database.SSLMode = "nope"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.ssl_mode")
}

func TestValidateRejectsInvalidNATSURL(t *testing.T) {
	cfg := getValidConfig()
	cfg.NATS.URL = "http://localhost:4222"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats.url")
}

func TestValidateRejectsToolCallerServerMissingCommand(t *testing.T) {
	cfg := getValidConfig()
	cfg.ToolCaller.Servers[0].Command = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool_caller.servers[0].command")
}

func TestValidateRejectsGlobalParallelismBelowPerRun(t *testing.T) {
	cfg := getValidConfig()
	cfg.Orchestrator.GlobalParallelism = 5
	cfg.Orchestrator.PerRunParallelism = 10
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "orchestrator.global_parallelism")
}

func TestValidateRejectsNonPositiveDriftTickInterval(t *testing.T) {
	cfg := getValidConfig()
	cfg.Drift.TickInterval = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "drift.tick_interval")
}

func TestValidateRejectsVaultEnabledWithoutAddress(t *testing.T) {
	cfg := getValidConfig()
	cfg.Vault.Enabled = true
	cfg.Vault.Address = ""
	cfg.Vault.AuthMethod = "token"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault.address")
}

func TestValidateRejectsInvalidAPIPort(t *testing.T) {
	cfg := getValidConfig()
	cfg.API.Port = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api.port")
}

func TestValidateProductionRequiresVault(t *testing.T) {
	cfg := getValidConfig()
	cfg.App.Environment = "production"
	cfg.Database.SSLMode = "require"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vault.enabled")
}

func TestValidateProductionRejectsDisabledSSL(t *testing.T) {
	cfg := getValidConfig()
	cfg.App.Environment = "production"
	cfg.Vault.Enabled = true
	cfg.Vault.Address = "http://vault:8200"
	cfg.Vault.AuthMethod = "token"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.ssl_mode")
}

func TestValidationErrorsFormatsNumberedList(t *testing.T) {
	errs := ValidationErrors{
		{Field: "a.b", Message: "first problem"},
		{Field: "c.d", Message: "second problem"},
	}
	msg := errs.Error()
	assert.Contains(t, msg, "1. a.b: first problem")
	assert.Contains(t, msg, "2. c.d: second problem")
}

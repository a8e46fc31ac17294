package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ValidatorOptions contains options for configuration validation.
type ValidatorOptions struct {
	VerifyConnectivity bool // check database/Redis/NATS connectivity
	Timeout            time.Duration
}

// DefaultValidatorOptions returns default validator options for startup.
func DefaultValidatorOptions() ValidatorOptions {
	return ValidatorOptions{
		VerifyConnectivity: true,
		Timeout:            5 * time.Second,
	}
}

// Validator handles configuration validation at startup.
type Validator struct {
	config  *Config
	options ValidatorOptions
}

// NewValidator creates a new configuration validator.
func NewValidator(config *Config, options ValidatorOptions) *Validator {
	return &Validator{config: config, options: options}
}

// ValidateStartup performs comprehensive startup validation. This should be
// called before starting any services.
func (v *Validator) ValidateStartup(ctx context.Context) error {
	log.Info().Msg("validating configuration")

	if err := v.validateProductionRequirements(); err != nil {
		return fmt.Errorf("production requirements validation failed: %w", err)
	}

	if err := v.validateEnvironmentVariables(); err != nil {
		return fmt.Errorf("environment variable validation failed: %w", err)
	}

	if v.options.VerifyConnectivity {
		if err := v.checkDatabaseConnectivity(ctx); err != nil {
			return fmt.Errorf("database connectivity check failed: %w", err)
		}
		if err := v.checkRedisConnectivity(ctx); err != nil {
			return fmt.Errorf("redis connectivity check failed: %w", err)
		}
		if err := v.checkNATSConnectivity(ctx); err != nil {
			return fmt.Errorf("nats connectivity check failed: %w", err)
		}
	}

	log.Info().Msg("configuration validation completed successfully")
	return nil
}

// validateProductionRequirements checks production-specific security
// requirements: Vault enabled with a complete auth configuration, TLS on the
// database connection, and no placeholder credentials.
func (v *Validator) validateProductionRequirements() error {
	appEnv := strings.ToLower(os.Getenv("STOCKRESEARCH_APP_ENVIRONMENT"))
	isProduction := appEnv == "production" || appEnv == "prod" || v.config.App.Environment == "production"

	if !isProduction {
		log.Info().Str("environment", appEnv).Msg("non-production environment, skipping production requirements")
		return nil
	}

	log.Info().Msg("production environment detected, enforcing production security requirements")

	var errors []string

	vaultEnabled := strings.ToLower(os.Getenv("VAULT_ENABLED"))
	if vaultEnabled != "true" && vaultEnabled != "1" && !v.config.Vault.Enabled {
		errors = append(errors, "Vault must be enabled in production (set VAULT_ENABLED=true)")
	}

	if v.config.Vault.Enabled {
		if v.config.Vault.Address == "" {
			errors = append(errors, "vault.address must be set when Vault is enabled")
		}
		switch v.config.Vault.AuthMethod {
		case "kubernetes":
			tokenPath := "/var/run/secrets/kubernetes.io/serviceaccount/token"
			if _, err := os.Stat(tokenPath); os.IsNotExist(err) {
				errors = append(errors, fmt.Sprintf("kubernetes service account token not found at %s", tokenPath))
			}
		case "token":
			if os.Getenv("VAULT_TOKEN") == "" {
				errors = append(errors, "VAULT_TOKEN must be set when using token auth method")
			}
		case "approle":
			if os.Getenv("VAULT_ROLE_ID") == "" || os.Getenv("VAULT_SECRET_ID") == "" {
				errors = append(errors, "VAULT_ROLE_ID and VAULT_SECRET_ID must be set when using approle auth method")
			}
		default:
			errors = append(errors, fmt.Sprintf("unknown vault.auth_method %q, must be kubernetes, token, or approle", v.config.Vault.AuthMethod))
		}
	}

	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		if strings.Contains(databaseURL, "sslmode=disable") {
			errors = append(errors, "database SSL cannot be disabled in production (sslmode=disable found in DATABASE_URL)")
		}
	} else if v.config.Database.SSLMode == "disable" {
		errors = append(errors, "database.ssl_mode cannot be disable in production")
	}

	for _, envVar := range []string{"POSTGRES_PASSWORD", "GRAFANA_ADMIN_PASSWORD"} {
		if val := os.Getenv(envVar); val != "" && isPlaceholderValue(val) {
			errors = append(errors, fmt.Sprintf("%s cannot be a placeholder value in production", envVar))
		}
	}

	if len(errors) > 0 {
		var errMsg strings.Builder
		errMsg.WriteString("production security requirements not met:\n\n")
		for i, err := range errors {
			errMsg.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err))
		}
		return fmt.Errorf("%s", errMsg.String())
	}

	log.Info().Msg("production security requirements validated successfully")
	return nil
}

// validateEnvironmentVariables checks that required connection settings are
// resolvable from either the config file or the environment.
func (v *Validator) validateEnvironmentVariables() error {
	missing := make(map[string]string)

	if os.Getenv("DATABASE_URL") == "" && v.config.Database.Host == "" {
		missing["DATABASE_URL or database.host"] = "database connection is not configured"
	}
	if os.Getenv("REDIS_ADDR") == "" && v.config.Redis.Host == "" {
		missing["REDIS_ADDR or redis.host"] = "redis connection is not configured"
	}
	if os.Getenv("NATS_URL") == "" && v.config.NATS.URL == "" {
		missing["NATS_URL or nats.url"] = "nats connection is not configured"
	}

	if len(missing) > 0 {
		var errMsg strings.Builder
		errMsg.WriteString("required connection settings are missing:\n\n")
		for name, description := range missing {
			errMsg.WriteString(fmt.Sprintf("  - %s: %s\n", name, description))
		}
		return fmt.Errorf("%s", errMsg.String())
	}

	log.Info().Msg("environment variable validation passed")
	return nil
}

// checkDatabaseConnectivity tests database connection with timeout.
func (v *Validator) checkDatabaseConnectivity(ctx context.Context) error {
	log.Info().Msg("checking database connectivity")

	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		connString = v.config.Database.DSN()
	}

	pool, err := pgxpool.New(connCtx, connString)
	if err != nil {
		return fmt.Errorf("create database connection pool: %w", err)
	}
	defer pool.Close()

	if err := pool.Ping(connCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}

	log.Info().Str("host", v.config.Database.Host).Int("port", v.config.Database.Port).Msg("database connectivity check passed")
	return nil
}

// checkRedisConnectivity tests Redis connection with timeout.
func (v *Validator) checkRedisConnectivity(ctx context.Context) error {
	log.Info().Msg("checking redis connectivity")

	connCtx, cancel := context.WithTimeout(ctx, v.options.Timeout)
	defer cancel()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = v.config.Redis.Addr()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       v.config.Redis.DB,
	})
	defer client.Close()

	if err := client.Ping(connCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}

	log.Info().Str("addr", addr).Int("db", v.config.Redis.DB).Msg("redis connectivity check passed")
	return nil
}

// checkNATSConnectivity tests the message bus connection with timeout.
func (v *Validator) checkNATSConnectivity(ctx context.Context) error {
	log.Info().Msg("checking nats connectivity")

	url := os.Getenv("NATS_URL")
	if url == "" {
		url = v.config.NATS.URL
	}

	nc, err := nats.Connect(url, nats.Timeout(v.options.Timeout))
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer nc.Close()

	log.Info().Str("url", url).Msg("nats connectivity check passed")
	return nil
}

// isPlaceholderValue checks if a value is likely a placeholder.
func isPlaceholderValue(value string) bool {
	lowerValue := strings.ToLower(value)
	placeholders := []string{"your_api_key", "your_secret", "changeme", "placeholder", "example", "test", "sample", "demo"}
	for _, placeholder := range placeholders {
		if strings.Contains(lowerValue, placeholder) {
			return true
		}
	}
	return false
}

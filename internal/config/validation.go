package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n\n", len(ve)))
	for i, err := range ve {
		sb.WriteString(fmt.Sprintf("  %d. %s: %s\n", i+1, err.Field, err.Message))
	}
	sb.WriteString("\nPlease fix the above errors and try again.\n")
	return sb.String()
}

// Validate performs comprehensive configuration validation.
func (c *Config) Validate() error {
	var errors ValidationErrors

	errors = append(errors, c.validateApp()...)
	errors = append(errors, c.validateDatabase()...)
	errors = append(errors, c.validateRedis()...)
	errors = append(errors, c.validateNATS()...)
	errors = append(errors, c.validateToolCaller()...)
	errors = append(errors, c.validateOrchestrator()...)
	errors = append(errors, c.validateDrift()...)
	errors = append(errors, c.validateVault()...)
	errors = append(errors, c.validateAPI()...)
	errors = append(errors, c.validateEnvironmentRequirements()...)

	if len(errors) > 0 {
		return errors
	}
	return nil
}

func (c *Config) validateApp() ValidationErrors {
	var errors ValidationErrors

	if c.App.Name == "" {
		errors = append(errors, ValidationError{Field: "app.name", Message: "application name is required"})
	}

	if c.App.Environment == "" {
		errors = append(errors, ValidationError{Field: "app.environment", Message: "environment is required (development, staging, or production)"})
	} else {
		validEnvs := []string{"development", "staging", "production"}
		valid := false
		for _, env := range validEnvs {
			if c.App.Environment == env {
				valid = true
				break
			}
		}
		if !valid {
			errors = append(errors, ValidationError{
				Field:   "app.environment",
				Message: fmt.Sprintf("invalid environment %q, must be one of: %v", c.App.Environment, validEnvs),
			})
		}
	}

	if c.App.LogLevel == "" {
		errors = append(errors, ValidationError{Field: "app.log_level", Message: "log level is required (debug, info, warn, error)"})
	}

	return errors
}

func (c *Config) validateDatabase() ValidationErrors {
	var errors ValidationErrors

	if c.Database.Host == "" {
		errors = append(errors, ValidationError{Field: "database.host", Message: "database host is required"})
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		errors = append(errors, ValidationError{Field: "database.port", Message: "database port must be between 1 and 65535"})
	}
	if c.Database.Database == "" {
		errors = append(errors, ValidationError{Field: "database.database", Message: "database name is required"})
	}
	if c.Database.User == "" {
		errors = append(errors, ValidationError{Field: "database.user", Message: "database user is required"})
	}
	validSSLModes := []string{"disable", "require", "verify-ca", "verify-full"}
	valid := false
	for _, m := range validSSLModes {
		if c.Database.SSLMode == m {
			valid = true
			break
		}
	}
	if !valid {
		errors = append(errors, ValidationError{
			Field:   "database.ssl_mode",
			Message: fmt.Sprintf("invalid ssl_mode %q, must be one of: %v", c.Database.SSLMode, validSSLModes),
		})
	}

	return errors
}

func (c *Config) validateRedis() ValidationErrors {
	var errors ValidationErrors

	if c.Redis.Host == "" {
		errors = append(errors, ValidationError{Field: "redis.host", Message: "redis host is required"})
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errors = append(errors, ValidationError{Field: "redis.port", Message: "redis port must be between 1 and 65535"})
	}
	if c.Redis.QuoteTTL <= 0 {
		errors = append(errors, ValidationError{Field: "redis.quote_ttl", Message: "quote_ttl must be positive"})
	}
	if c.Redis.HistoryTTL <= 0 {
		errors = append(errors, ValidationError{Field: "redis.history_ttl", Message: "history_ttl must be positive"})
	}

	return errors
}

func (c *Config) validateNATS() ValidationErrors {
	var errors ValidationErrors

	if c.NATS.URL == "" {
		errors = append(errors, ValidationError{Field: "nats.url", Message: "nats url is required"})
	} else if !strings.HasPrefix(c.NATS.URL, "nats://") && !strings.HasPrefix(c.NATS.URL, "tls://") {
		errors = append(errors, ValidationError{Field: "nats.url", Message: "nats url must start with nats:// or tls://"})
	}

	return errors
}

func (c *Config) validateToolCaller() ValidationErrors {
	var errors ValidationErrors

	if c.ToolCaller.ClientName == "" {
		errors = append(errors, ValidationError{Field: "tool_caller.client_name", Message: "client_name is required"})
	}
	if c.ToolCaller.CallTimeout <= 0 {
		errors = append(errors, ValidationError{Field: "tool_caller.call_timeout", Message: "call_timeout must be positive"})
	}
	for i, server := range c.ToolCaller.Servers {
		if server.Name == "" {
			errors = append(errors, ValidationError{Field: fmt.Sprintf("tool_caller.servers[%d].name", i), Message: "server name is required"})
		}
		switch server.Kind {
		case "stdio":
			if server.Command == "" {
				errors = append(errors, ValidationError{Field: fmt.Sprintf("tool_caller.servers[%d].command", i), Message: "stdio servers require a command"})
			}
		case "sse":
			if server.URL == "" {
				errors = append(errors, ValidationError{Field: fmt.Sprintf("tool_caller.servers[%d].url", i), Message: "sse servers require a url"})
			}
		default:
			errors = append(errors, ValidationError{Field: fmt.Sprintf("tool_caller.servers[%d].kind", i), Message: fmt.Sprintf("unknown kind %q, must be stdio or sse", server.Kind)})
		}
	}

	return errors
}

func (c *Config) validateOrchestrator() ValidationErrors {
	var errors ValidationErrors

	if c.Orchestrator.PerRunParallelism <= 0 {
		errors = append(errors, ValidationError{Field: "orchestrator.per_run_parallelism", Message: "per_run_parallelism must be positive"})
	}
	if c.Orchestrator.GlobalParallelism < c.Orchestrator.PerRunParallelism {
		errors = append(errors, ValidationError{Field: "orchestrator.global_parallelism", Message: "global_parallelism must be at least per_run_parallelism"})
	}
	if c.Orchestrator.RunTimeout <= 0 {
		errors = append(errors, ValidationError{Field: "orchestrator.run_timeout", Message: "run_timeout must be positive"})
	}
	if c.Orchestrator.AccountValue <= 0 {
		errors = append(errors, ValidationError{Field: "orchestrator.account_value", Message: "account_value must be positive"})
	}

	return errors
}

func (c *Config) validateDrift() ValidationErrors {
	var errors ValidationErrors

	if c.Drift.TickInterval <= 0 {
		errors = append(errors, ValidationError{Field: "drift.tick_interval", Message: "tick_interval must be positive"})
	}
	if c.Drift.ActiveWindow <= 0 {
		errors = append(errors, ValidationError{Field: "drift.active_window", Message: "active_window must be positive"})
	}

	return errors
}

func (c *Config) validateVault() ValidationErrors {
	var errors ValidationErrors

	if !c.Vault.Enabled {
		return errors
	}
	if c.Vault.Address == "" {
		errors = append(errors, ValidationError{Field: "vault.address", Message: "vault address is required when vault is enabled"})
	}
	validMethods := []string{"token", "kubernetes", "approle"}
	valid := false
	for _, m := range validMethods {
		if c.Vault.AuthMethod == m {
			valid = true
			break
		}
	}
	if !valid {
		errors = append(errors, ValidationError{
			Field:   "vault.auth_method",
			Message: fmt.Sprintf("invalid auth_method %q, must be one of: %v", c.Vault.AuthMethod, validMethods),
		})
	}

	return errors
}

func (c *Config) validateAPI() ValidationErrors {
	var errors ValidationErrors

	if c.API.Port <= 0 || c.API.Port > 65535 {
		errors = append(errors, ValidationError{Field: "api.port", Message: "api port must be between 1 and 65535"})
	}

	return errors
}

func (c *Config) validateEnvironmentRequirements() ValidationErrors {
	var errors ValidationErrors

	if c.App.Environment != "production" {
		return errors
	}

	if c.Database.SSLMode == "disable" {
		errors = append(errors, ValidationError{Field: "database.ssl_mode", Message: "production requires database.ssl_mode other than disable"})
	}
	if !c.Vault.Enabled {
		errors = append(errors, ValidationError{Field: "vault.enabled", Message: "production requires Vault-backed secret resolution"})
	}
	if c.App.LogLevel == "debug" {
		errors = append(errors, ValidationError{Field: "app.log_level", Message: "production should not run at debug log level"})
	}

	return errors
}

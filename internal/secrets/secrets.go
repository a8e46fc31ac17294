// Package secrets resolves database, cache, and bus credentials from
// HashiCorp Vault, falling back to environment variables when Vault is
// disabled or a path is missing.
package secrets

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Config configures Vault access. When Enabled is false, every Resolver
// method falls straight through to its environment-variable fallback.
type Config struct {
	Enabled    bool
	Address    string
	Token      string
	AuthMethod string // "token", "kubernetes", "approle"
	MountPath  string // KV v2 mount, default "secret"
	SecretPath string // base path under the mount, e.g. "stockresearch/production"
	Namespace  string
}

// FromEnv builds a Config from VAULT_* environment variables.
func FromEnv() Config {
	if os.Getenv("VAULT_ENABLED") != "true" {
		return Config{Enabled: false}
	}
	return Config{
		Enabled:    true,
		Address:    envOrDefault("VAULT_ADDR", "http://localhost:8200"),
		Token:      os.Getenv("VAULT_TOKEN"),
		AuthMethod: envOrDefault("VAULT_AUTH_METHOD", "token"),
		MountPath:  envOrDefault("VAULT_MOUNT_PATH", "secret"),
		SecretPath: envOrDefault("VAULT_SECRET_PATH", "stockresearch/production"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Resolver reads secrets from Vault (when enabled) and falls back to
// environment variables otherwise.
type Resolver struct {
	cfg    Config
	client *vault.Client
}

// NewResolver builds a Resolver, authenticating to Vault if cfg.Enabled.
func NewResolver(cfg Config) (*Resolver, error) {
	r := &Resolver{cfg: cfg}
	if !cfg.Enabled {
		log.Info().Msg("secrets: Vault disabled, resolving from environment")
		return r, nil
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address
	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("secrets: create vault client: %w", err)
	}
	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthMethod {
	case "token", "":
		token := cfg.Token
		if token == "" {
			token = os.Getenv("VAULT_TOKEN")
		}
		if token == "" {
			return nil, fmt.Errorf("secrets: VAULT_TOKEN not set for token authentication")
		}
		client.SetToken(token)
	case "kubernetes":
		if err := authenticateKubernetes(client); err != nil {
			return nil, fmt.Errorf("secrets: kubernetes authentication: %w", err)
		}
	case "approle":
		if err := authenticateAppRole(client); err != nil {
			return nil, fmt.Errorf("secrets: approle authentication: %w", err)
		}
	default:
		return nil, fmt.Errorf("secrets: unsupported auth method %q", cfg.AuthMethod)
	}

	r.client = client
	log.Info().Str("address", cfg.Address).Str("auth_method", cfg.AuthMethod).Msg("secrets: Vault client ready")
	return r, nil
}

// get reads a KV v2 secret relative to cfg.SecretPath.
func (r *Resolver) get(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", r.cfg.MountPath, r.cfg.SecretPath, path)
	secret, err := r.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("secrets: read %s: %w", fullPath, err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secrets: not found at %s", fullPath)
	}
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

func stringField(data map[string]interface{}, key string) (string, bool) {
	v, ok := data[key].(string)
	return v, ok
}

// DatabaseURL resolves the Postgres connection string: Vault's
// "database" secret (host/port/database/user/password/sslmode) if
// enabled, else DATABASE_URL, else fallback (typically built from a
// config file's database defaults, e.g. DatabaseConfig.DSN()).
func (r *Resolver) DatabaseURL(ctx context.Context, fallback string) (string, error) {
	if r.cfg.Enabled {
		if data, err := r.get(ctx, "database"); err == nil {
			host, _ := stringField(data, "host")
			port, _ := stringField(data, "port")
			database, _ := stringField(data, "database")
			user, ok := stringField(data, "username")
			if !ok {
				user, _ = stringField(data, "user")
			}
			password, _ := stringField(data, "password")
			sslmode, ok := stringField(data, "sslmode")
			if !ok {
				sslmode = "disable"
			}
			if host != "" && database != "" {
				return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, database, sslmode), nil
			}
		} else {
			log.Debug().Err(err).Msg("secrets: could not load database config from Vault, falling back to env")
		}
	}

	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", fmt.Errorf("secrets: DATABASE_URL not set and Vault credentials not available")
}

// RedisAddress resolves the cache's "host:port" address.
func (r *Resolver) RedisAddress(ctx context.Context, fallback string) (string, error) {
	if r.cfg.Enabled {
		if data, err := r.get(ctx, "redis"); err == nil {
			host, _ := stringField(data, "host")
			port, _ := stringField(data, "port")
			if host != "" {
				return fmt.Sprintf("%s:%s", host, port), nil
			}
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr, nil
	}
	if fallback != "" {
		return fallback, nil
	}
	return "localhost:6379", nil
}

// RedisPassword resolves the cache password, empty when unset.
func (r *Resolver) RedisPassword(ctx context.Context) string {
	if r.cfg.Enabled {
		if data, err := r.get(ctx, "redis"); err == nil {
			if pw, ok := stringField(data, "password"); ok {
				return pw
			}
		}
	}
	return os.Getenv("REDIS_PASSWORD")
}

// NATSURL resolves the message bus URL.
func (r *Resolver) NATSURL(ctx context.Context, fallback string) string {
	if r.cfg.Enabled {
		if data, err := r.get(ctx, "nats"); err == nil {
			if url, ok := stringField(data, "url"); ok {
				return url
			}
		}
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		return url
	}
	if fallback != "" {
		return fallback
	}
	return "nats://localhost:4222"
}

func authenticateKubernetes(client *vault.Client) error {
	jwtPath := "/var/run/secrets/kubernetes.io/serviceaccount/token"
	jwt, err := os.ReadFile(jwtPath)
	if err != nil {
		return fmt.Errorf("read service account token: %w", err)
	}

	role := os.Getenv("VAULT_K8S_ROLE")
	if role == "" {
		role = "stockresearch"
	}

	secret, err := client.Logical().Write("auth/kubernetes/login", map[string]interface{}{
		"jwt":  string(jwt),
		"role": role,
	})
	if err != nil {
		return fmt.Errorf("login with kubernetes auth: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("kubernetes authentication returned no token")
	}
	client.SetToken(secret.Auth.ClientToken)
	return nil
}

func authenticateAppRole(client *vault.Client) error {
	roleID := os.Getenv("VAULT_ROLE_ID")
	secretID := os.Getenv("VAULT_SECRET_ID")
	if roleID == "" || secretID == "" {
		return fmt.Errorf("VAULT_ROLE_ID and VAULT_SECRET_ID must be set for AppRole authentication")
	}

	secret, err := client.Logical().Write("auth/approle/login", map[string]interface{}{
		"role_id":   roleID,
		"secret_id": secretID,
	})
	if err != nil {
		return fmt.Errorf("login with approle: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("approle authentication returned no token")
	}
	client.SetToken(secret.Auth.ClientToken)
	return nil
}

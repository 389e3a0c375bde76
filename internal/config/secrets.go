package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strings"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// Placeholder values that must never reach a production run
var commonPlaceholders = []string{
	"changeme",
	"please_change_me",
	"your_password",
	"password",
	"secret",
	"postgres",
	"stratlab",
	"example",
}

// IsPlaceholder reports whether a secret looks like a placeholder value
func IsPlaceholder(secret string) bool {
	lower := strings.ToLower(secret)
	for _, p := range commonPlaceholders {
		if lower == p {
			return true
		}
	}
	return false
}

// validateProductionSecrets rejects placeholder credentials in production
func (c *Config) validateProductionSecrets() ValidationErrors {
	var errors ValidationErrors
	if c.App.Environment != "production" {
		return errors
	}

	for field, dsn := range map[string]string{
		"data.database_url":    c.Data.DatabaseURL,
		"storage.database_url": c.Storage.DatabaseURL,
	} {
		if dsn == "" {
			continue
		}
		u, err := url.Parse(dsn)
		if err != nil || u.User == nil {
			continue
		}
		if password, ok := u.User.Password(); ok && IsPlaceholder(password) {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: "Database password cannot be a placeholder value in production",
			})
		}
	}

	if c.Storage.RedisPassword != "" && IsPlaceholder(c.Storage.RedisPassword) {
		errors = append(errors, ValidationError{
			Field:   "storage.redis_password",
			Message: "Redis password cannot be a placeholder value in production",
		})
	}

	return errors
}

// ================================================
// HashiCorp Vault Integration
// ================================================

// VaultConfig holds Vault connection configuration
type VaultConfig struct {
	Enabled    bool
	Address    string
	Token      string
	AuthMethod string // token or approle
	MountPath  string
	SecretPath string // base path of the optimizer secrets, e.g. stratlab/production
	Namespace  string
}

// VaultClient wraps the Vault client for secret reads
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates an authenticated Vault client
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}

	if cfg.Namespace != "" {
		client.SetNamespace(cfg.Namespace)
	}

	switch cfg.AuthMethod {
	case "token", "":
		if cfg.Token == "" {
			cfg.Token = os.Getenv("VAULT_TOKEN")
		}
		if cfg.Token == "" {
			return nil, fmt.Errorf("VAULT_TOKEN not set for token authentication")
		}
		client.SetToken(cfg.Token)

	case "approle":
		if err := authenticateAppRole(client); err != nil {
			return nil, fmt.Errorf("AppRole authentication failed: %w", err)
		}

	default:
		return nil, fmt.Errorf("unsupported Vault auth method: %s", cfg.AuthMethod)
	}

	log.Info().
		Str("address", cfg.Address).
		Str("auth_method", cfg.AuthMethod).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecret reads the secret at path, relative to the configured SecretPath
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	log.Debug().Str("path", fullPath).Msg("Reading secret from Vault")

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from Vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests the payload under "data"
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// LoadSecretsFromVault fills database URLs and the Redis password from Vault.
// Values already set in the configuration are only replaced by non-empty secrets.
func LoadSecretsFromVault(ctx context.Context, cfg *Config, vaultCfg VaultConfig) error {
	if !vaultCfg.Enabled {
		log.Debug().Msg("Vault integration disabled, using configuration and environment for secrets")
		return nil
	}

	vc, err := NewVaultClient(vaultCfg)
	if err != nil {
		return fmt.Errorf("failed to create Vault client: %w", err)
	}

	secrets, err := vc.GetSecret(ctx, "storage")
	if err != nil {
		return err
	}

	if v, ok := secrets["database_url"].(string); ok && v != "" {
		cfg.Storage.DatabaseURL = v
		log.Info().Msg("Loaded storage database URL from Vault")
	}
	if v, ok := secrets["redis_password"].(string); ok && v != "" {
		cfg.Storage.RedisPassword = v
		log.Info().Msg("Loaded Redis password from Vault")
	}
	if v, ok := secrets["data_database_url"].(string); ok && v != "" {
		cfg.Data.DatabaseURL = v
		log.Info().Msg("Loaded market data database URL from Vault")
	}

	return nil
}

// authenticateAppRole performs AppRole authentication
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
		return fmt.Errorf("failed to login with AppRole: %w", err)
	}
	if secret == nil || secret.Auth == nil {
		return fmt.Errorf("AppRole authentication returned no token")
	}

	client.SetToken(secret.Auth.ClientToken)
	log.Info().Msg("Authenticated to Vault using AppRole")
	return nil
}

// GetVaultConfigFromEnv creates VaultConfig from environment variables
func GetVaultConfigFromEnv() VaultConfig {
	if os.Getenv("VAULT_ENABLED") != "true" {
		return VaultConfig{Enabled: false}
	}

	return VaultConfig{
		Enabled:    true,
		Address:    getEnvOrDefault("VAULT_ADDR", "http://localhost:8200"),
		Token:      os.Getenv("VAULT_TOKEN"),
		AuthMethod: getEnvOrDefault("VAULT_AUTH_METHOD", "token"),
		MountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "secret"),
		SecretPath: getEnvOrDefault("VAULT_SECRET_PATH", "stratlab/production"),
		Namespace:  os.Getenv("VAULT_NAMESPACE"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

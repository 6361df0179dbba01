package config

import (
	"context"
	"fmt"
	"os"

	vault "github.com/hashicorp/vault/api"
	"github.com/rs/zerolog/log"
)

// VaultConfig contains the Vault connection settings.
type VaultConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Address    string `mapstructure:"address"`
	AuthMethod string `mapstructure:"auth_method"` // "token"
	Token      string `mapstructure:"token"`
	Namespace  string `mapstructure:"namespace"`
	MountPath  string `mapstructure:"mount_path"`  // KV v2 mount, e.g. "secret"
	SecretPath string `mapstructure:"secret_path"` // base path, e.g. "helmsman"
}

// VaultClient wraps the Vault API client for secret retrieval.
type VaultClient struct {
	client *vault.Client
	config VaultConfig
}

// NewVaultClient creates and authenticates a Vault client.
func NewVaultClient(cfg VaultConfig) (*VaultClient, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("vault is not enabled in configuration")
	}

	vaultCfg := vault.DefaultConfig()
	vaultCfg.Address = cfg.Address

	client, err := vault.NewClient(vaultCfg)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
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
	default:
		return nil, fmt.Errorf("unsupported vault auth method: %s", cfg.AuthMethod)
	}

	log.Info().
		Str("address", cfg.Address).
		Str("mount_path", cfg.MountPath).
		Str("secret_path", cfg.SecretPath).
		Msg("Vault client initialized")

	return &VaultClient{client: client, config: cfg}, nil
}

// GetSecret reads a secret map relative to the configured base path.
func (vc *VaultClient) GetSecret(ctx context.Context, path string) (map[string]interface{}, error) {
	fullPath := fmt.Sprintf("%s/data/%s/%s", vc.config.MountPath, vc.config.SecretPath, path)

	secret, err := vc.client.Logical().ReadWithContext(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("read secret from vault: %w", err)
	}
	if secret == nil {
		return nil, fmt.Errorf("secret not found at path: %s", fullPath)
	}

	// KV v2 nests the payload under "data".
	if data, ok := secret.Data["data"].(map[string]interface{}); ok {
		return data, nil
	}
	return secret.Data, nil
}

// GetSecretString reads a single string value.
func (vc *VaultClient) GetSecretString(ctx context.Context, path, key string) (string, error) {
	data, err := vc.GetSecret(ctx, path)
	if err != nil {
		return "", err
	}
	value, ok := data[key].(string)
	if !ok {
		return "", fmt.Errorf("secret key %q not found or not a string at path: %s", key, path)
	}
	return value, nil
}

// LoadSecrets fills secret-bearing config fields from Vault when enabled;
// otherwise environment variables already applied by viper stand.
func LoadSecrets(ctx context.Context, cfg *Config) error {
	if !cfg.Vault.Enabled {
		log.Info().Msg("Vault disabled, secrets come from environment")
		return nil
	}

	vc, err := NewVaultClient(cfg.Vault)
	if err != nil {
		return fmt.Errorf("vault setup: %w", err)
	}

	if cfg.Telegram.Enabled {
		token, err := vc.GetSecretString(ctx, "telegram", "token")
		if err != nil {
			log.Warn().Err(err).Msg("Telegram token not found in Vault, keeping configured value")
		} else {
			cfg.Telegram.Token = token
		}
	}
	return nil
}

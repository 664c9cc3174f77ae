package services

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/vault/api"
	"go.uber.org/zap"

	"github.com/Minimalist03/fediversaopuzzle/internal/config"
)

// VaultClient loads service secrets from HashiCorp Vault
type VaultClient struct {
	client *api.Client
	logger *zap.Logger
}

// NewVaultClient creates a new Vault client
func NewVaultClient(baseURL, token string, logger *zap.Logger) (*VaultClient, error) {
	cfg := &api.Config{
		Address:    baseURL,
		HttpClient: &http.Client{Timeout: 30 * time.Second},
	}

	client, err := api.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultClient{client: client, logger: logger.Named("vault")}, nil
}

// GetSecret reads the key/value data stored at path
func (v *VaultClient) GetSecret(path string) (map[string]interface{}, error) {
	secret, err := v.client.Logical().Read(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret from %s: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("no secret data found at %s", path)
	}
	return secret.Data, nil
}

// ApplySecrets overlays secrets stored under puzzle/<service>/ onto cfg.
// Missing paths are skipped. It returns how many values were applied.
func (v *VaultClient) ApplySecrets(cfg *config.Config, serviceName string) int {
	applied := 0
	set := func(dst *string, data map[string]interface{}, key string) {
		if val, ok := data[key].(string); ok && val != "" {
			*dst = val
			applied++
		}
	}

	if data, err := v.GetSecret(fmt.Sprintf("puzzle/%s/database", serviceName)); err == nil {
		set(&cfg.Database.Host, data, "host")
		set(&cfg.Database.User, data, "user")
		set(&cfg.Database.Password, data, "password")
		set(&cfg.Database.Name, data, "name")
		set(&cfg.Database.SSLMode, data, "ssl_mode")
		if port, ok := data["port"].(string); ok {
			if p, err := strconv.Atoi(port); err == nil {
				cfg.Database.Port = p
				applied++
			}
		}
	} else {
		v.logger.Warn("Failed to load database credentials from Vault", zap.Error(err))
	}

	if data, err := v.GetSecret(fmt.Sprintf("puzzle/%s/redis", serviceName)); err == nil {
		set(&cfg.Redis.Addr, data, "addr")
		set(&cfg.Redis.Password, data, "password")
	} else {
		v.logger.Warn("Failed to load Redis credentials from Vault", zap.Error(err))
	}

	if data, err := v.GetSecret(fmt.Sprintf("puzzle/%s/identity", serviceName)); err == nil {
		set(&cfg.Identity.SupabaseURL, data, "supabase_url")
		set(&cfg.Identity.SupabaseServiceKey, data, "service_role_key")
	} else {
		v.logger.Warn("Failed to load identity secrets from Vault", zap.Error(err))
	}

	if data, err := v.GetSecret(fmt.Sprintf("puzzle/%s/webhook", serviceName)); err == nil {
		set(&cfg.Webhook.Secret, data, "secret")
		set(&cfg.Stripe.WebhookSecret, data, "stripe_webhook_secret")
		set(&cfg.API.Key, data, "api_key")
	} else {
		v.logger.Warn("Failed to load webhook secrets from Vault", zap.Error(err))
	}

	return applied
}

// HealthCheck checks if Vault is accessible
func (v *VaultClient) HealthCheck() error {
	if _, err := v.client.Sys().Health(); err != nil {
		return fmt.Errorf("Vault health check failed: %w", err)
	}
	return nil
}

package vault

import (
	"context"
	"fmt"

	"github.com/hashicorp/vault/api"

	"aether-trading-bot/config"
)

// Credentials are the live exchange keys stored in Vault KV v2
type Credentials struct {
	APIKey    string `json:"api_key"`
	SecretKey string `json:"secret_key"`
}

// Client wraps the HashiCorp Vault client for credential lookup
type Client struct {
	client *api.Client
	cfg    config.VaultConfig
}

// NewClient creates a Vault client. Disabled configuration returns nil
// (no error) so callers fall back to environment credentials.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	vaultConfig := api.DefaultConfig()
	vaultConfig.Address = cfg.Address

	client, err := api.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	client.SetToken(cfg.Token)

	return &Client{client: client, cfg: cfg}, nil
}

// FetchCredentials reads the exchange keys from the configured KV v2
// path
func (c *Client) FetchCredentials(ctx context.Context) (*Credentials, error) {
	secret, err := c.client.KVv2(c.cfg.Mount).Get(ctx, c.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("read vault secret %s/%s: %w", c.cfg.Mount, c.cfg.Path, err)
	}

	creds := &Credentials{}
	if v, ok := secret.Data["api_key"].(string); ok {
		creds.APIKey = v
	}
	if v, ok := secret.Data["secret_key"].(string); ok {
		creds.SecretKey = v
	}
	if creds.APIKey == "" || creds.SecretKey == "" {
		return nil, fmt.Errorf("vault secret %s/%s missing api_key or secret_key", c.cfg.Mount, c.cfg.Path)
	}
	return creds, nil
}

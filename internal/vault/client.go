// Package vault stores per-user exchange credentials in HashiCorp Vault's
// KV-v2 engine, with an in-memory cache so the executor's hot path doesn't
// round-trip to Vault on every decision cycle.
package vault

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/vault/api"

	"tradingcore/config"
)

// ExchangeCredentialData holds one user's credentials for one exchange
// account. The executor reads this, uses it for exactly one decision cycle,
// and never persists it outside this package's cache.
type ExchangeCredentialData struct {
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
	Exchange  string `json:"exchange"`
	IsTestnet bool   `json:"is_testnet"`
}

// Client wraps a Vault KV-v2 mount with a read-through cache.
type Client struct {
	client *api.Client
	config config.VaultConfig

	mu           sync.RWMutex
	cache        map[string]*ExchangeCredentialData
	cacheEnabled bool
}

// NewClient builds a Vault client from cfg. If cfg.Enabled is false, the
// returned client operates cache-only, which is the stance integration
// tests and local development run with.
func NewClient(cfg config.VaultConfig) (*Client, error) {
	c := &Client{
		config:       cfg,
		cache:        make(map[string]*ExchangeCredentialData),
		cacheEnabled: true,
	}

	if !cfg.Enabled {
		return c, nil
	}

	vc := api.DefaultConfig()
	vc.Address = cfg.Address

	if cfg.TLSEnabled && cfg.CACert != "" {
		if err := vc.ConfigureTLS(&api.TLSConfig{CACert: cfg.CACert}); err != nil {
			return nil, fmt.Errorf("vault: configuring TLS: %w", err)
		}
	}

	client, err := api.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("vault: creating client: %w", err)
	}
	client.SetToken(cfg.Token)
	c.client = client

	return c, nil
}

// NewMockClient returns a disabled-vault client usable as a test double.
func NewMockClient() *Client {
	return &Client{
		config:       config.VaultConfig{Enabled: false},
		cache:        make(map[string]*ExchangeCredentialData),
		cacheEnabled: true,
	}
}

// StoreCredential writes a user's exchange credential to Vault (or the
// cache only, if Vault is disabled).
func (c *Client) StoreCredential(ctx context.Context, userID string, data *ExchangeCredentialData) error {
	if c.config.Enabled && c.client != nil {
		secretData := map[string]interface{}{
			"api_key":    data.APIKey,
			"api_secret": data.APISecret,
			"exchange":   data.Exchange,
			"is_testnet": data.IsTestnet,
		}
		_, err := c.client.KVv2(c.config.MountPath).Put(ctx, c.secretPath(userID, data.Exchange, data.IsTestnet), secretData)
		if err != nil {
			return fmt.Errorf("vault: storing credential: %w", err)
		}
	}

	c.mu.Lock()
	c.cache[c.cacheKey(userID, data.Exchange, data.IsTestnet)] = data
	c.mu.Unlock()

	return nil
}

// GetCredential returns a user's exchange credential, cache-first.
func (c *Client) GetCredential(ctx context.Context, userID, exchange string, isTestnet bool) (*ExchangeCredentialData, error) {
	key := c.cacheKey(userID, exchange, isTestnet)

	if c.cacheEnabled {
		c.mu.RLock()
		if cached, ok := c.cache[key]; ok {
			c.mu.RUnlock()
			return cached, nil
		}
		c.mu.RUnlock()
	}

	if !c.config.Enabled || c.client == nil {
		return nil, fmt.Errorf("vault: no credential cached for user %s exchange %s and vault is disabled", userID, exchange)
	}

	secret, err := c.client.KVv2(c.config.MountPath).Get(ctx, c.secretPath(userID, exchange, isTestnet))
	if err != nil {
		return nil, fmt.Errorf("vault: reading credential: %w", err)
	}

	data := &ExchangeCredentialData{
		APIKey:    getString(secret.Data, "api_key"),
		APISecret: getString(secret.Data, "api_secret"),
		Exchange:  getString(secret.Data, "exchange"),
		IsTestnet: getBool(secret.Data, "is_testnet"),
	}

	c.mu.Lock()
	c.cache[key] = data
	c.mu.Unlock()

	return data, nil
}

// DeleteCredential removes a credential from Vault and the cache.
func (c *Client) DeleteCredential(ctx context.Context, userID, exchange string, isTestnet bool) error {
	if c.config.Enabled && c.client != nil {
		if err := c.client.KVv2(c.config.MountPath).Delete(ctx, c.secretPath(userID, exchange, isTestnet)); err != nil {
			return fmt.Errorf("vault: deleting credential: %w", err)
		}
	}

	c.mu.Lock()
	delete(c.cache, c.cacheKey(userID, exchange, isTestnet))
	c.mu.Unlock()

	return nil
}

// RotateCredential replaces an existing credential; it is a StoreCredential
// under a name that documents intent at call sites.
func (c *Client) RotateCredential(ctx context.Context, userID string, data *ExchangeCredentialData) error {
	return c.StoreCredential(ctx, userID, data)
}

// ListUserKeys returns the exchange/testnet key names stored for a user.
func (c *Client) ListUserKeys(ctx context.Context, userID string) ([]string, error) {
	if !c.config.Enabled || c.client == nil {
		return nil, fmt.Errorf("vault: disabled, cannot list keys")
	}

	path := fmt.Sprintf("%s/metadata/%s/%s", c.config.MountPath, c.config.SecretPath, userID)
	secret, err := c.client.Logical().ListWithContext(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("vault: listing keys: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}

	raw, ok := secret.Data["keys"].([]interface{})
	if !ok {
		return nil, nil
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		if s, ok := k.(string); ok {
			keys = append(keys, s)
		}
	}
	return keys, nil
}

// ClearCache wipes all cached credentials.
func (c *Client) ClearCache() {
	c.mu.Lock()
	c.cache = make(map[string]*ExchangeCredentialData)
	c.mu.Unlock()
}

// InvalidateCacheForUser drops one user's cached credential for an exchange.
func (c *Client) InvalidateCacheForUser(userID, exchange string, isTestnet bool) {
	c.mu.Lock()
	delete(c.cache, c.cacheKey(userID, exchange, isTestnet))
	c.mu.Unlock()
}

// SetCacheEnabled toggles the read-through cache; tests disable it to force
// every read through Vault.
func (c *Client) SetCacheEnabled(enabled bool) {
	c.mu.Lock()
	c.cacheEnabled = enabled
	c.mu.Unlock()
}

// IsEnabled reports whether this client is backed by a live Vault server.
func (c *Client) IsEnabled() bool {
	return c.config.Enabled
}

// Health checks that Vault is reachable and unsealed.
func (c *Client) Health(ctx context.Context) error {
	if !c.config.Enabled || c.client == nil {
		return nil
	}
	health, err := c.client.Sys().HealthWithContext(ctx)
	if err != nil {
		return fmt.Errorf("vault: health check: %w", err)
	}
	if health.Sealed {
		return fmt.Errorf("vault: sealed")
	}
	return nil
}

func (c *Client) secretPath(userID, exchange string, isTestnet bool) string {
	return fmt.Sprintf("%s/%s/%s", c.config.SecretPath, userID, networkSuffix(exchange, isTestnet))
}

func (c *Client) cacheKey(userID, exchange string, isTestnet bool) string {
	return fmt.Sprintf("%s/%s", userID, networkSuffix(exchange, isTestnet))
}

func networkSuffix(exchange string, isTestnet bool) string {
	if isTestnet {
		return exchange + "_testnet"
	}
	return exchange + "_mainnet"
}

func getString(m map[string]interface{}, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getBool(m map[string]interface{}, key string) bool {
	if v, ok := m[key].(bool); ok {
		return v
	}
	return false
}

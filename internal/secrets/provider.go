package secrets

import (
	"context"
	"fmt"
	"os"

	"lunara-sentinel/config"
	"lunara-sentinel/internal/logging"

	"github.com/hashicorp/vault/api"
)

// Provider resolves operational secrets. Environment variables are the
// primary source; a Vault KV v2 mount can back them when configured.
type Provider struct {
	cfg   config.VaultConfig
	vault *api.Client
}

func NewProvider(cfg config.VaultConfig) (*Provider, error) {
	p := &Provider{cfg: cfg}

	if cfg.Addr != "" {
		vaultConfig := api.DefaultConfig()
		vaultConfig.Address = cfg.Addr

		client, err := api.NewClient(vaultConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create vault client: %w", err)
		}
		client.SetToken(cfg.Token)
		p.vault = client
	}
	return p, nil
}

// SlipEncryptionKey returns the symmetric secret protecting trade slips.
// Environment variables are probed in the configured precedence order; the
// first non-empty value wins. With Vault configured, the secret path is
// consulted before giving up. An empty result is a deployment error the
// caller must treat as fatal.
func (p *Provider) SlipEncryptionKey(ctx context.Context, envVars []string) string {
	log := logging.Component("secrets")

	for _, name := range envVars {
		if v := os.Getenv(name); v != "" {
			if name != envVars[0] {
				log.Warn().Str("env_var", name).Msg("using fallback encryption key source")
			}
			return v
		}
	}

	if p.vault != nil && p.cfg.SecretPath != "" {
		secret, err := p.vault.KVv2("secret").Get(ctx, p.cfg.SecretPath)
		if err != nil {
			log.Error().Err(err).Str("path", p.cfg.SecretPath).Msg("vault lookup failed")
			return ""
		}
		if v, ok := secret.Data["slip_encryption_key"].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

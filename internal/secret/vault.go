package secret

import (
	"context"
	"fmt"

	"github.com/cybershell/backy/internal/config"
	vault "github.com/hashicorp/vault/api"
)

// KV engine versions accepted in vault.keys[].type.
const (
	KVv1 = "KVv1"
	KVv2 = "KVv2"
)

// VaultBackend reads secrets from HashiCorp Vault KV engines.
type VaultBackend struct {
	client *vault.Client
}

// NewVaultBackend creates a client for the configured address and token.
func NewVaultBackend(cfg config.VaultConfig) (*VaultBackend, error) {
	vc := vault.DefaultConfig()
	if cfg.Address != "" {
		vc.Address = cfg.Address
	}
	client, err := vault.NewClient(vc)
	if err != nil {
		return nil, fmt.Errorf("create vault client: %w", err)
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("no vault token: set vault.token or VAULT_TOKEN")
	}
	client.SetToken(cfg.Token)
	return &VaultBackend{client: client}, nil
}

// Fetch reads key.Field (defaulting to key.Name) from the secret at key.Path.
func (b *VaultBackend) Fetch(ctx context.Context, key config.VaultKey) (string, error) {
	var (
		s   *vault.KVSecret
		err error
	)
	switch key.ValueType {
	case KVv2:
		s, err = b.client.KVv2(key.MountPath).Get(ctx, key.Path)
	case KVv1:
		s, err = b.client.KVv1(key.MountPath).Get(ctx, key.Path)
	default:
		return "", fmt.Errorf("type %q for key %s not known, valid types are KVv1 or KVv2", key.ValueType, key.Name)
	}
	if err != nil {
		return "", fmt.Errorf("read %s/%s: %w", key.MountPath, key.Path, err)
	}

	field := key.Field
	if field == "" {
		field = key.Name
	}
	raw, ok := s.Data[field]
	if !ok {
		return "", fmt.Errorf("field %s not present in %s/%s", field, key.MountPath, key.Path)
	}
	v, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("field %s in %s/%s is %T, not a string", field, key.MountPath, key.Path, raw)
	}
	return v, nil
}

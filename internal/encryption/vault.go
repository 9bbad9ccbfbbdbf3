package encryption

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const VaultType = "vault"

const defaultTransitMount = "transit"

type vaultSettings struct {
	// Address of the Vault server. Falls back to VAULT_ADDR.
	Address string `mapstructure:"address"`

	// Token used for Transit calls. Falls back to VAULT_TOKEN.
	Token string `mapstructure:"token"`

	// Mount is the path the Transit secrets engine is mounted at.
	Mount string `mapstructure:"mount"`

	// Key is the name of the Transit key wrapping data keys.
	Key string `mapstructure:"key"`

	Timeout time.Duration `mapstructure:"timeout"`
}

// VaultKeyWrapper wraps data keys with a Vault Transit key.
type VaultKeyWrapper struct {
	client *api.Client
	mount  string
	key    string
}

var _ KeyWrapper = (*VaultKeyWrapper)(nil)

func NewVaultFromConfig(_ context.Context, cfg config.BackendConfig) (core.Encrypter, error) {
	var s vaultSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	if s.Key == "" {
		return nil, fmt.Errorf("vault encryption missing 'key'")
	}
	if s.Mount == "" {
		s.Mount = defaultTransitMount
	}

	vcfg := api.DefaultConfig()
	if vcfg.Error != nil {
		return nil, fmt.Errorf("reading vault environment: %w", vcfg.Error)
	}
	if s.Address != "" {
		vcfg.Address = s.Address
	}
	if s.Timeout > 0 {
		vcfg.Timeout = s.Timeout
	}

	client, err := api.NewClient(vcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	if s.Token != "" {
		client.SetToken(s.Token)
	}

	return NewEnvelopeEncrypter(VaultType, NewVaultKeyWrapper(client, s.Mount, s.Key)), nil
}

func NewVaultKeyWrapper(client *api.Client, mount, key string) *VaultKeyWrapper {
	return &VaultKeyWrapper{
		client: client,
		mount:  strings.Trim(mount, "/"),
		key:    key,
	}
}

func (w *VaultKeyWrapper) WrapKey(ctx context.Context, dataKey, aad []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/encrypt/%s", w.mount, w.key)
	secret, err := w.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"plaintext": base64.StdEncoding.EncodeToString(dataKey),
	})
	if err != nil {
		return nil, fmt.Errorf("transit encrypt at %q: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit encrypt at %q returned no data", path)
	}
	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok || ciphertext == "" {
		return nil, fmt.Errorf("transit encrypt at %q returned no ciphertext", path)
	}
	return []byte(ciphertext), nil
}

func (w *VaultKeyWrapper) UnwrapKey(ctx context.Context, wrappedKey, aad []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", w.mount, w.key)
	secret, err := w.client.Logical().WriteWithContext(ctx, path, map[string]any{
		"ciphertext": string(wrappedKey),
	})
	if err != nil {
		var respErr *api.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusBadRequest {
			// vault rejects ciphertexts it cannot open with a 400
			return nil, fmt.Errorf("%w: %v", core.ErrDecryption, err)
		}
		return nil, fmt.Errorf("transit decrypt at %q: %w", path, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("transit decrypt at %q returned no data", path)
	}
	encoded, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("transit decrypt at %q returned no plaintext", path)
	}
	dataKey, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecryption, err)
	}
	return dataKey, nil
}

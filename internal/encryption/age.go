package encryption

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const AgeType = "age"

type ageSettings struct {
	// Identity is an inline X25519 identity (AGE-SECRET-KEY-1...).
	Identity string `mapstructure:"identity"`

	// IdentityFile is an age identity file with a single X25519 identity.
	IdentityFile string `mapstructure:"identity_file"`
}

// AgeKeyWrapper wraps data keys to an age X25519 recipient.
type AgeKeyWrapper struct {
	identity  *age.X25519Identity
	recipient *age.X25519Recipient
}

var _ KeyWrapper = (*AgeKeyWrapper)(nil)

func NewAgeFromConfig(_ context.Context, cfg config.BackendConfig) (core.Encrypter, error) {
	var s ageSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}

	var identity *age.X25519Identity
	switch {
	case s.Identity != "" && s.IdentityFile != "":
		return nil, fmt.Errorf("age encryption accepts either 'identity' or 'identity_file', not both")
	case s.Identity != "":
		id, err := age.ParseX25519Identity(strings.TrimSpace(s.Identity))
		if err != nil {
			return nil, fmt.Errorf("parsing age identity: %w", err)
		}
		identity = id
	case s.IdentityFile != "":
		id, err := loadAgeIdentityFile(s.IdentityFile)
		if err != nil {
			return nil, err
		}
		identity = id
	default:
		return nil, fmt.Errorf("age encryption missing 'identity' or 'identity_file'")
	}

	return NewEnvelopeEncrypter(AgeType, NewAgeKeyWrapper(identity)), nil
}

func loadAgeIdentityFile(path string) (*age.X25519Identity, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening age identity file: %w", err)
	}
	defer f.Close()

	identities, err := age.ParseIdentities(f)
	if err != nil {
		return nil, fmt.Errorf("parsing age identity file: %w", err)
	}
	if len(identities) != 1 {
		return nil, fmt.Errorf("age identity file must contain exactly one identity, found %d", len(identities))
	}
	id, ok := identities[0].(*age.X25519Identity)
	if !ok {
		return nil, fmt.Errorf("age identity file must contain an X25519 identity")
	}
	return id, nil
}

func NewAgeKeyWrapper(identity *age.X25519Identity) *AgeKeyWrapper {
	return &AgeKeyWrapper{
		identity:  identity,
		recipient: identity.Recipient(),
	}
}

// WrapKey encrypts the data key to the recipient. The aad is bound by the payload cipher.
func (w *AgeKeyWrapper) WrapKey(_ context.Context, dataKey, _ []byte) ([]byte, error) {
	var buf bytes.Buffer
	wc, err := age.Encrypt(&buf, w.recipient)
	if err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if _, err := wc.Write(dataKey); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	if err := wc.Close(); err != nil {
		return nil, fmt.Errorf("age encrypt: %w", err)
	}
	return buf.Bytes(), nil
}

func (w *AgeKeyWrapper) UnwrapKey(_ context.Context, wrappedKey, _ []byte) ([]byte, error) {
	r, err := age.Decrypt(bytes.NewReader(wrappedKey), w.identity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecryption, err)
	}
	dataKey, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecryption, err)
	}
	return dataKey, nil
}

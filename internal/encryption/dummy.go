package encryption

import (
	"context"
	"slices"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const DummyType = "dummy"

// DummyEncrypter returns payloads unchanged. Only for tests and local development.
type DummyEncrypter struct{}

var _ core.Encrypter = DummyEncrypter{}

func NewDummyFromConfig(_ context.Context, cfg config.BackendConfig) (core.Encrypter, error) {
	var s struct{}
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	return DummyEncrypter{}, nil
}

func (DummyEncrypter) Name() string {
	return DummyType
}

func (DummyEncrypter) Encrypt(_ context.Context, plaintext, _ []byte) ([]byte, error) {
	return slices.Clone(plaintext), nil
}

func (DummyEncrypter) Decrypt(_ context.Context, ciphertext, _ []byte) ([]byte, error) {
	return slices.Clone(ciphertext), nil
}

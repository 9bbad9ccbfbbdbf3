package encryption

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const LocalType = "local"

// kekInfo separates the derived key from other uses of the same master key.
const kekInfo = "trustbroker session key wrap v1"

// minMasterKeySize is the minimum accepted master key length in bytes.
const minMasterKeySize = 32

type localSettings struct {
	// Key is a base64 encoded master key.
	Key string `mapstructure:"key"`

	// KeyFile is a file containing a base64 encoded master key.
	KeyFile string `mapstructure:"key_file"`
}

// LocalKeyWrapper wraps data keys with a key derived from a local master key.
type LocalKeyWrapper struct {
	kek []byte
}

var _ KeyWrapper = (*LocalKeyWrapper)(nil)

func NewLocalFromConfig(_ context.Context, cfg config.BackendConfig) (core.Encrypter, error) {
	var s localSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}

	encoded := s.Key
	switch {
	case s.Key != "" && s.KeyFile != "":
		return nil, fmt.Errorf("local encryption accepts either 'key' or 'key_file', not both")
	case s.KeyFile != "":
		data, err := os.ReadFile(s.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading key file: %w", err)
		}
		encoded = string(data)
	case s.Key == "":
		return nil, fmt.Errorf("local encryption missing 'key' or 'key_file'")
	}

	master, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, fmt.Errorf("decoding master key: %w", err)
	}

	wrapper, err := NewLocalKeyWrapper(master)
	if err != nil {
		return nil, err
	}
	return NewEnvelopeEncrypter(LocalType, wrapper), nil
}

// NewLocalKeyWrapper derives the key encryption key from master using HKDF-SHA256.
func NewLocalKeyWrapper(master []byte) (*LocalKeyWrapper, error) {
	if len(master) < minMasterKeySize {
		return nil, fmt.Errorf("master key must be at least %d bytes, got %d", minMasterKeySize, len(master))
	}
	kek := make([]byte, dataKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(kekInfo)), kek); err != nil {
		return nil, fmt.Errorf("deriving key encryption key: %w", err)
	}
	return &LocalKeyWrapper{kek: kek}, nil
}

func (w *LocalKeyWrapper) WrapKey(_ context.Context, dataKey, aad []byte) ([]byte, error) {
	nonce, ciphertext, err := seal(w.kek, dataKey, aad)
	if err != nil {
		return nil, err
	}
	return append(nonce, ciphertext...), nil
}

func (w *LocalKeyWrapper) UnwrapKey(_ context.Context, wrappedKey, aad []byte) ([]byte, error) {
	const nonceSize = 24
	if len(wrappedKey) <= nonceSize {
		return nil, fmt.Errorf("%w: wrapped key too short", core.ErrDecryption)
	}
	return open(w.kek, wrappedKey[:nonceSize], wrappedKey[nonceSize:], aad)
}

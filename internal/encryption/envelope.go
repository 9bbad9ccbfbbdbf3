package encryption

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/darmiel/trustbroker/internal/core"
)

// envelopeVersion identifies the envelope layout. Bump when the layout or the
// payload cipher changes.
const envelopeVersion = 1

// dataKeySize is the size of the per-payload data key (XChaCha20-Poly1305 key size).
const dataKeySize = chacha20poly1305.KeySize

// KeyWrapper wraps and unwraps data keys with a key encryption key managed elsewhere.
type KeyWrapper interface {
	WrapKey(ctx context.Context, dataKey, aad []byte) ([]byte, error)

	// UnwrapKey returns core.ErrDecryption (possibly wrapped) when the wrapped key
	// cannot be opened. Other errors are transport or configuration failures.
	UnwrapKey(ctx context.Context, wrappedKey, aad []byte) ([]byte, error)
}

// envelope is the serialized form of an encrypted payload.
type envelope struct {
	_          struct{} `cbor:",toarray"`
	Version    uint8
	WrappedKey []byte
	Nonce      []byte
	Ciphertext []byte
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: creating encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyEnforcedAPF,
		IndefLength: cbor.IndefLengthForbidden,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: creating decoder mode: %v", err))
	}
}

// EnvelopeEncrypter encrypts every payload with a fresh data key and stores the
// data key wrapped by a KeyWrapper next to the ciphertext.
type EnvelopeEncrypter struct {
	name    string
	wrapper KeyWrapper
}

var _ core.Encrypter = (*EnvelopeEncrypter)(nil)

func NewEnvelopeEncrypter(name string, wrapper KeyWrapper) *EnvelopeEncrypter {
	return &EnvelopeEncrypter{
		name:    name,
		wrapper: wrapper,
	}
}

func (e *EnvelopeEncrypter) Name() string {
	return e.name
}

func (e *EnvelopeEncrypter) Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	dataKey := make([]byte, dataKeySize)
	if _, err := rand.Read(dataKey); err != nil {
		return nil, fmt.Errorf("generating data key: %w", err)
	}

	nonce, ciphertext, err := seal(dataKey, plaintext, aad)
	if err != nil {
		return nil, err
	}

	wrapped, err := e.wrapper.WrapKey(ctx, dataKey, aad)
	if err != nil {
		return nil, fmt.Errorf("wrapping data key with %s: %w", e.name, err)
	}

	out, err := encMode.Marshal(envelope{
		Version:    envelopeVersion,
		WrappedKey: wrapped,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding envelope: %w", err)
	}
	return out, nil
}

func (e *EnvelopeEncrypter) Decrypt(ctx context.Context, data, aad []byte) ([]byte, error) {
	var env envelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: malformed envelope", core.ErrDecryption)
	}
	if env.Version != envelopeVersion {
		return nil, fmt.Errorf("%w: unsupported envelope version %d", core.ErrDecryption, env.Version)
	}

	dataKey, err := e.wrapper.UnwrapKey(ctx, env.WrappedKey, aad)
	if err != nil {
		if errors.Is(err, core.ErrDecryption) {
			return nil, err
		}
		return nil, fmt.Errorf("unwrapping data key with %s: %w", e.name, err)
	}
	if len(dataKey) != dataKeySize {
		return nil, fmt.Errorf("%w: unexpected data key size", core.ErrDecryption)
	}

	return open(dataKey, env.Nonce, env.Ciphertext, aad)
}

// seal encrypts plaintext with XChaCha20-Poly1305 under key, binding aad.
func seal(key, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, nil, fmt.Errorf("creating cipher: %w", err)
	}
	nonce = make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}
	return nonce, aead.Seal(nil, nonce, plaintext, aad), nil
}

// open reverses seal. Any failure is reported as core.ErrDecryption.
func open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrDecryption, err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("%w: bad nonce size", core.ErrDecryption)
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, core.ErrDecryption
	}
	return plaintext, nil
}

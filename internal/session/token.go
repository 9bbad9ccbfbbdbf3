package session

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

const tokenVersion = 1

// maxTokenSize bounds the decoded size of a session token.
const maxTokenSize = 16 << 10

var errMalformedToken = errors.New("malformed session token")

// tokenEnvelope is the decoded form of the string handed to clients.
// Sealed is the encrypted payload, bound to ID as additional data.
type tokenEnvelope struct {
	_       struct{} `cbor:",toarray"`
	Version uint8
	ID      string
	Sealed  []byte
}

// payload is the sealed content of a session token.
type payload struct {
	ID        string   `cbor:"1,keyasint"`
	Owner     string   `cbor:"2,keyasint"`
	Renewer   string   `cbor:"3,keyasint,omitempty"`
	Target    string   `cbor:"4,keyasint,omitempty"`
	Scopes    []string `cbor:"5,keyasint,omitempty"`
	ExpiresAt int64    `cbor:"6,keyasint"`
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
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: 4,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor: creating decoder mode: %v", err))
	}
}

func encodeToken(id string, sealed []byte) (string, error) {
	data, err := encMode.Marshal(tokenEnvelope{
		Version: tokenVersion,
		ID:      id,
		Sealed:  sealed,
	})
	if err != nil {
		return "", fmt.Errorf("encoding session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeToken(token string) (tokenEnvelope, error) {
	var env tokenEnvelope
	if token == "" || base64.RawURLEncoding.DecodedLen(len(token)) > maxTokenSize {
		return env, errMalformedToken
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return env, errMalformedToken
	}
	if err := decMode.Unmarshal(data, &env); err != nil {
		return env, errMalformedToken
	}
	if env.Version != tokenVersion || env.ID == "" || len(env.Sealed) == 0 {
		return env, errMalformedToken
	}
	return env, nil
}

func encodePayload(p payload) ([]byte, error) {
	return encMode.Marshal(p)
}

func decodePayload(data []byte) (payload, error) {
	var p payload
	if err := decMode.Unmarshal(data, &p); err != nil {
		return p, errMalformedToken
	}
	return p, nil
}

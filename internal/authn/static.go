package authn

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const StaticType = "static"

var _ core.Authenticator = (*StaticAuthenticator)(nil)

// StaticAuthenticator maps fixed bearer credentials to principals.
// Meant for local development and tests.
type StaticAuthenticator struct {
	credentials map[string]core.Principal
}

type staticSettings struct {
	// Credentials maps a bearer credential to the principal it authenticates.
	Credentials map[string]string `mapstructure:"credentials"`
}

func NewStatic(credentials map[string]core.Principal) *StaticAuthenticator {
	return &StaticAuthenticator{credentials: credentials}
}

func NewStaticFromConfig(_ context.Context, cfg config.BackendConfig) (core.Authenticator, error) {
	var s staticSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	creds := make(map[string]core.Principal, len(s.Credentials))
	for credential, principal := range s.Credentials {
		if principal == "" {
			return nil, fmt.Errorf("static credential maps to an empty principal")
		}
		creds[credential] = core.Principal(principal)
	}
	return NewStatic(creds), nil
}

func (s *StaticAuthenticator) Name() string {
	return StaticType
}

func (s *StaticAuthenticator) Scheme() string {
	return SchemeBearer
}

func (s *StaticAuthenticator) AuthenticateUser(_ context.Context, rawCredential []byte) (core.Principal, error) {
	if len(rawCredential) == 0 {
		return "", core.Unauthenticated(nil, "Missing credential")
	}
	// compare against every entry so lookups take the same time for known and unknown credentials
	var found core.Principal
	for credential, principal := range s.credentials {
		if subtle.ConstantTimeCompare([]byte(credential), rawCredential) == 1 {
			found = principal
		}
	}
	if found == "" {
		return "", core.Unauthenticated(nil, "Invalid credential")
	}
	return found, nil
}

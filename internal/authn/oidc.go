package authn

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const OIDCType = "oidc"

var _ core.Authenticator = (*OIDCAuthenticator)(nil)

// OIDCAuthenticator authenticates callers presenting an OIDC ID token.
// The principal is taken from a configurable claim.
type OIDCAuthenticator struct {
	verifier *oidc.IDTokenVerifier
	claim    string
}

type oidcSettings struct {
	IssuerURL string `mapstructure:"issuer_url"`
	// ClientID is the expected audience.
	ClientID string `mapstructure:"client_id"`
	// PrincipalClaim names the claim used as principal. Defaults to "email".
	PrincipalClaim string `mapstructure:"principal_claim"`
}

func NewOIDC(verifier *oidc.IDTokenVerifier, claim string) *OIDCAuthenticator {
	if claim == "" {
		claim = "email"
	}
	return &OIDCAuthenticator{
		verifier: verifier,
		claim:    claim,
	}
}

func NewOIDCFromConfig(ctx context.Context, cfg config.BackendConfig) (core.Authenticator, error) {
	var s oidcSettings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	if s.IssuerURL == "" {
		return nil, fmt.Errorf("oidc authentication missing 'issuer_url'")
	}
	if s.ClientID == "" {
		return nil, fmt.Errorf("oidc authentication missing 'client_id'")
	}

	provider, err := oidc.NewProvider(ctx, s.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("creating oidc provider for '%s': %w", s.IssuerURL, err)
	}
	verifier := provider.Verifier(&oidc.Config{
		ClientID: s.ClientID,
	})
	return NewOIDC(verifier, s.PrincipalClaim), nil
}

func (o *OIDCAuthenticator) Name() string {
	return OIDCType
}

func (o *OIDCAuthenticator) Scheme() string {
	return SchemeBearer
}

func (o *OIDCAuthenticator) AuthenticateUser(ctx context.Context, rawCredential []byte) (core.Principal, error) {
	if len(rawCredential) == 0 {
		return "", core.Unauthenticated(nil, "Missing credential")
	}
	idToken, err := o.verifier.Verify(ctx, string(rawCredential))
	if err != nil {
		return "", core.Unauthenticated(err, "OIDC verification failed")
	}

	var claims map[string]any
	if err := idToken.Claims(&claims); err != nil {
		return "", core.Unauthenticated(err, "Extracting OIDC claims failed")
	}

	value, ok := claims[o.claim].(string)
	if !ok || value == "" {
		return "", core.Unauthenticated(nil, "Claim '%s' missing or not a string", o.claim)
	}
	return core.Principal(value), nil
}

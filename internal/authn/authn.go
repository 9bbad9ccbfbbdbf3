package authn

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/backends"
	"github.com/darmiel/trustbroker/internal/core"
)

const (
	SchemeNegotiate = "Negotiate"
	SchemeBearer    = "Bearer"
)

// Factories lists the authentication backends selectable in the configuration.
var Factories = map[string]backends.Factory[core.Authenticator]{
	KerberosType: NewKerberosFromConfig,
	OIDCType:     NewOIDCFromConfig,
	StaticType:   NewStaticFromConfig,
}

type principalKey struct{}

// WithPrincipal returns a context carrying the authenticated principal.
func WithPrincipal(ctx context.Context, p core.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal stored by WithPrincipal.
func PrincipalFromContext(ctx context.Context) (core.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(core.Principal)
	return p, ok && p != ""
}

// ParseAuthorization splits an Authorization header into scheme and credential.
func ParseAuthorization(header string) (scheme, credential string) {
	header = strings.TrimSpace(header)
	scheme, credential, _ = strings.Cut(header, " ")
	return scheme, strings.TrimSpace(credential)
}

// Authenticate extracts the credential for the backend's scheme from an Authorization header,
// authenticates it and tags the request logger with the principal.
// The returned context carries the principal.
func Authenticate(ctx context.Context, backend core.Authenticator, header string) (context.Context, core.Principal, error) {
	scheme, credential := ParseAuthorization(header)
	if credential == "" || !strings.EqualFold(scheme, backend.Scheme()) {
		return ctx, "", core.Unauthenticated(nil, "Missing %s credential", backend.Scheme())
	}

	raw := []byte(credential)
	if strings.EqualFold(scheme, SchemeNegotiate) {
		decoded, err := base64.StdEncoding.DecodeString(credential)
		if err != nil {
			return ctx, "", core.Unauthenticated(err, "Malformed %s credential", backend.Scheme())
		}
		raw = decoded
	}

	principal, err := backend.AuthenticateUser(ctx, raw)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Str("backend", backend.Name()).Msg("authentication failed")
		if core.IsKind(err, core.KindInternal) {
			return ctx, "", err
		}
		return ctx, "", core.Unauthenticated(err, "Authentication failed")
	}

	log.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("principal", principal.String())
	})
	return WithPrincipal(ctx, principal), principal, nil
}

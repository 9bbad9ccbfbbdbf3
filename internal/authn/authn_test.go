package authn

import (
	"bytes"
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

func TestStaticAuthenticator(t *testing.T) {
	auth, err := NewStaticFromConfig(context.Background(), config.BackendConfig{
		Type: StaticType,
		Settings: map[string]any{
			"credentials": map[string]any{
				"alice-secret": "alice@EXAMPLE.COM",
				"hive-secret":  "hive/testhost@EXAMPLE.COM",
			},
		},
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		cred     string
		want     core.Principal
		wantKind core.Kind
	}{
		{name: "user", cred: "alice-secret", want: "alice@EXAMPLE.COM"},
		{name: "service", cred: "hive-secret", want: "hive/testhost@EXAMPLE.COM"},
		{name: "unknown", cred: "nope", wantKind: core.KindUnauthenticated},
		{name: "empty", cred: "", wantKind: core.KindUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := auth.AuthenticateUser(context.Background(), []byte(tt.cred))
			if tt.wantKind != "" {
				assert.Equal(t, tt.wantKind, core.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAuthenticate(t *testing.T) {
	backend := NewStatic(map[string]core.Principal{"alice-secret": "alice@EXAMPLE.COM"})

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	ctx := logger.WithContext(context.Background())

	ctx, p, err := Authenticate(ctx, backend, "Bearer alice-secret")
	require.NoError(t, err)
	assert.Equal(t, core.Principal("alice@EXAMPLE.COM"), p)

	fromCtx, ok := PrincipalFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, p, fromCtx)

	zerolog.Ctx(ctx).Info().Msg("hello")
	assert.Contains(t, buf.String(), `"principal":"alice@EXAMPLE.COM"`)

	for _, header := range []string{"", "Bearer", "Negotiate alice-secret", "Basic YWxpY2U6eA==", "Bearer wrong"} {
		_, _, err := Authenticate(context.Background(), backend, header)
		assert.Equal(t, core.KindUnauthenticated, core.KindOf(err), "header %q", header)
	}
}

func TestParseAuthorization(t *testing.T) {
	scheme, cred := ParseAuthorization("  Negotiate   YIIC  ")
	assert.Equal(t, "Negotiate", scheme)
	assert.Equal(t, "YIIC", cred)

	scheme, cred = ParseAuthorization("Bearer")
	assert.Equal(t, "Bearer", scheme)
	assert.Empty(t, cred)
}

func TestKerberosAuthenticator_RejectsMalformed(t *testing.T) {
	k := &KerberosAuthenticator{}

	for name, raw := range map[string][]byte{
		"empty":     nil,
		"garbage":   []byte("definitely not asn.1"),
		"truncated": {0x60, 0x82, 0x02},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := k.AuthenticateUser(context.Background(), raw)
			assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))
		})
	}

	// the Negotiate scheme is base64 decoded before reaching the backend
	_, _, err := Authenticate(context.Background(), k, "Negotiate !!!not-base64")
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))
	_, _, err = Authenticate(context.Background(), k, "Negotiate "+base64.StdEncoding.EncodeToString([]byte("junk")))
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))
}

func TestKerberosFromConfig_MissingKeytab(t *testing.T) {
	_, err := NewKerberosFromConfig(context.Background(), config.BackendConfig{Type: KerberosType, Settings: map[string]any{}})
	assert.ErrorContains(t, err, "keytab")

	_, err = NewKerberosFromConfig(context.Background(), config.BackendConfig{
		Type:     KerberosType,
		Settings: map[string]any{"keytab": "/does/not/exist.keytab"},
	})
	assert.Error(t, err)
}

func TestOIDCAuthenticator(t *testing.T) {
	const issuer = "https://idp.example.com"
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	verifier := oidc.NewVerifier(issuer, &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{key.Public()}}, &oidc.Config{
		ClientID: "trustbroker",
	})
	auth := NewOIDC(verifier, "")

	sign := func(claims jwt.MapClaims) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
		require.NoError(t, err)
		return s
	}
	now := time.Now()

	valid := sign(jwt.MapClaims{
		"iss":   issuer,
		"aud":   "trustbroker",
		"sub":   "1234",
		"email": "alice@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})
	p, err := auth.AuthenticateUser(context.Background(), []byte(valid))
	require.NoError(t, err)
	assert.Equal(t, core.Principal("alice@example.com"), p)

	wrongAudience := sign(jwt.MapClaims{
		"iss":   issuer,
		"aud":   "someone-else",
		"email": "alice@example.com",
		"exp":   now.Add(time.Hour).Unix(),
	})
	_, err = auth.AuthenticateUser(context.Background(), []byte(wrongAudience))
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))

	expired := sign(jwt.MapClaims{
		"iss":   issuer,
		"aud":   "trustbroker",
		"email": "alice@example.com",
		"exp":   now.Add(-time.Hour).Unix(),
	})
	_, err = auth.AuthenticateUser(context.Background(), []byte(expired))
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))

	noEmail := sign(jwt.MapClaims{
		"iss": issuer,
		"aud": "trustbroker",
		"exp": now.Add(time.Hour).Unix(),
	})
	_, err = auth.AuthenticateUser(context.Background(), []byte(noEmail))
	assert.Equal(t, core.KindUnauthenticated, core.KindOf(err))
}

func TestFactories(t *testing.T) {
	assert.Contains(t, Factories, KerberosType)
	assert.Contains(t, Factories, OIDCType)
	assert.Contains(t, Factories, StaticType)
}

package stub

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const Type = "stub"

const (
	// TokenPrefix mimics the prefix of Google OAuth2 access tokens.
	TokenPrefix = "ya29."

	DefaultLength   = 1024
	DefaultLifetime = time.Hour
)

var _ core.TokenProvider = (*Provider)(nil)

type Settings struct {
	// Identities that may receive tokens. Empty allows every identity.
	Identities []string `mapstructure:"identities"`

	// Length of the generated token in bytes, prefix included.
	Length int `mapstructure:"length"`

	Lifetime time.Duration `mapstructure:"lifetime"`
}

// Provider mints random tokens that look like Google access tokens.
// It never talks to a cloud and is meant for tests and demos.
type Provider struct {
	settings Settings
}

func New(settings Settings) *Provider {
	if settings.Length <= len(TokenPrefix) {
		settings.Length = DefaultLength
	}
	if settings.Lifetime <= 0 {
		settings.Lifetime = DefaultLifetime
	}
	return &Provider{settings: settings}
}

func NewFromConfig(_ context.Context, cfg config.BackendConfig) (core.TokenProvider, error) {
	var s Settings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	if s.Length < 0 {
		return nil, fmt.Errorf("stub provider 'length' must not be negative")
	}
	return New(s), nil
}

func (p *Provider) Name() string {
	return Type
}

func (p *Provider) GetAccessToken(ctx context.Context, identity string, scopes []string, target string) (core.AccessToken, error) {
	logger := log.Ctx(ctx)

	if len(p.settings.Identities) > 0 && !slices.Contains(p.settings.Identities, identity) {
		logger.Debug().Str("identity", identity).Msg("stub provider rejected identity")
		return core.AccessToken{}, core.PermissionDenied("Identity `%s` is not allowed to receive access tokens", identity)
	}

	// base64 yields 4 characters per 3 bytes
	raw := make([]byte, p.settings.Length)
	if _, err := rand.Read(raw); err != nil {
		return core.AccessToken{}, core.Internal(err, "Failed to generate access token")
	}
	body := base64.RawURLEncoding.EncodeToString(raw)
	value := TokenPrefix + body[:p.settings.Length-len(TokenPrefix)]

	logger.Info().
		Str("provider", Type).
		Str("identity", identity).
		Strs("scopes", scopes).
		Str("target", target).
		Msg("stub provider minted token")

	return core.AccessToken{
		Value:     value,
		ExpiresAt: time.Now().Add(p.settings.Lifetime).UnixMilli(),
	}, nil
}

package localjwt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const Type = "jwt"

const (
	DefaultIssuer   = "trustbroker"
	DefaultLifetime = time.Hour
)

var _ core.TokenProvider = (*Provider)(nil)

type Settings struct {
	// SigningKey is the HS256 key tokens are signed with.
	SigningKey string `mapstructure:"signing_key"`

	Issuer   string        `mapstructure:"issuer"`
	Lifetime time.Duration `mapstructure:"lifetime"`
}

// Provider mints HS256 signed JWT access tokens for services that trust the broker's key.
type Provider struct {
	signingKey []byte
	issuer     string
	lifetime   time.Duration
}

func New(settings Settings) (*Provider, error) {
	if settings.SigningKey == "" {
		return nil, fmt.Errorf("jwt provider missing 'signing_key'")
	}
	if settings.Issuer == "" {
		settings.Issuer = DefaultIssuer
	}
	if settings.Lifetime <= 0 {
		settings.Lifetime = DefaultLifetime
	}
	return &Provider{
		signingKey: []byte(settings.SigningKey),
		issuer:     settings.Issuer,
		lifetime:   settings.Lifetime,
	}, nil
}

func NewFromConfig(_ context.Context, cfg config.BackendConfig) (core.TokenProvider, error) {
	var s Settings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}
	return New(s)
}

func (p *Provider) Name() string {
	return Type
}

func (p *Provider) GetAccessToken(_ context.Context, identity string, scopes []string, target string) (core.AccessToken, error) {
	now := time.Now()
	exp := now.Add(p.lifetime)

	claims := jwt.MapClaims{
		"iss":   p.issuer,
		"sub":   identity,
		"jti":   uuid.NewString(),
		"iat":   now.Unix(),
		"exp":   exp.Unix(),
		"scope": strings.Join(scopes, " "),
	}
	if target != "" {
		claims["aud"] = target
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(p.signingKey)
	if err != nil {
		return core.AccessToken{}, core.Internal(err, "Failed to sign access token")
	}

	return core.AccessToken{
		Value:     signed,
		ExpiresAt: exp.UnixMilli(),
	}, nil
}

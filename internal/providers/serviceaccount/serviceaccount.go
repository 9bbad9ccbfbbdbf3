package serviceaccount

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/google/downscope"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iamcredentials/v1"
	"google.golang.org/api/option"

	"github.com/darmiel/trustbroker/internal/buildinfo"
	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const Type = "service-account"

const (
	DefaultLifetime = time.Hour

	// maxLifetime is the longest lifetime generateAccessToken accepts without an org policy exception.
	maxLifetime = 12 * time.Hour
)

// DefaultBoundaryPermissions are granted on the target when a token is downscoped.
var DefaultBoundaryPermissions = []string{"inRole:roles/storage.objectViewer"}

var _ core.TokenProvider = (*Provider)(nil)

type Settings struct {
	// CredentialsFile is a service account key the broker uses to call IAM Credentials.
	// Application Default Credentials are used when empty.
	CredentialsFile string `mapstructure:"credentials_file"`

	// Endpoint overrides the IAM Credentials API endpoint.
	Endpoint string `mapstructure:"endpoint"`

	Lifetime time.Duration `mapstructure:"lifetime"`

	// BoundaryPermissions are granted on the request target when the access boundary is enabled.
	BoundaryPermissions []string `mapstructure:"boundary_permissions"`
}

// Provider impersonates the mapped service account through the IAM Credentials API.
type Provider struct {
	svc         *iamcredentials.Service
	lifetime    time.Duration
	permissions []string
}

func NewFromConfig(ctx context.Context, cfg config.BackendConfig) (core.TokenProvider, error) {
	var s Settings
	if err := cfg.Decode(&s); err != nil {
		return nil, err
	}

	opts := []option.ClientOption{option.WithUserAgent(buildinfo.UserAgent("broker"))}
	if s.CredentialsFile != "" {
		data, err := os.ReadFile(s.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("reading credentials file: %w", err)
		}
		creds, err := google.CredentialsFromJSON(ctx, data, iamcredentials.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
		}
		opts = append(opts, option.WithCredentials(creds))
	}
	if s.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(s.Endpoint))
	}

	return New(ctx, s, opts...)
}

func New(ctx context.Context, s Settings, opts ...option.ClientOption) (*Provider, error) {
	if s.Lifetime <= 0 {
		s.Lifetime = DefaultLifetime
	}
	if s.Lifetime > maxLifetime {
		return nil, fmt.Errorf("service-account 'lifetime' must not exceed %s", maxLifetime)
	}
	if len(s.BoundaryPermissions) == 0 {
		s.BoundaryPermissions = DefaultBoundaryPermissions
	}

	svc, err := iamcredentials.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create IAM credentials service: %w", err)
	}
	return &Provider{
		svc:         svc,
		lifetime:    s.Lifetime,
		permissions: s.BoundaryPermissions,
	}, nil
}

func (p *Provider) Name() string {
	return Type
}

func (p *Provider) GetAccessToken(ctx context.Context, identity string, scopes []string, target string) (core.AccessToken, error) {
	name := fmt.Sprintf("projects/-/serviceAccounts/%s", identity)
	req := &iamcredentials.GenerateAccessTokenRequest{
		Scope:    scopes,
		Lifetime: fmt.Sprintf("%ds", int64(p.lifetime.Seconds())),
	}

	resp, err := p.svc.Projects.ServiceAccounts.GenerateAccessToken(name, req).Context(ctx).Do()
	if err != nil {
		return core.AccessToken{}, classify(err, identity)
	}

	expiry, err := time.Parse(time.RFC3339, resp.ExpireTime)
	if err != nil {
		return core.AccessToken{}, core.Internal(err, "Invalid access token expiry")
	}

	if target == "" {
		return core.AccessToken{Value: resp.AccessToken, ExpiresAt: expiry.UnixMilli()}, nil
	}
	return p.downscope(ctx, &oauth2.Token{AccessToken: resp.AccessToken, Expiry: expiry}, target)
}

// downscope restricts root to the target resource with a credential access boundary.
func (p *Provider) downscope(ctx context.Context, root *oauth2.Token, target string) (core.AccessToken, error) {
	ts, err := downscope.NewTokenSource(ctx, downscope.DownscopingConfig{
		RootSource: oauth2.StaticTokenSource(root),
		Rules: []downscope.AccessBoundaryRule{{
			AvailableResource:    target,
			AvailablePermissions: p.permissions,
		}},
	})
	if err != nil {
		return core.AccessToken{}, core.Internal(err, "Failed to configure access boundary")
	}

	tok, err := ts.Token()
	if err != nil {
		return core.AccessToken{}, core.FromBackend(err, "Access boundary token exchange")
	}

	expiry := tok.Expiry
	if expiry.IsZero() || expiry.After(root.Expiry) {
		expiry = root.Expiry
	}
	log.Ctx(ctx).Debug().Str("target", target).Msg("access token downscoped")
	return core.AccessToken{Value: tok.AccessToken, ExpiresAt: expiry.UnixMilli()}, nil
}

func classify(err error, identity string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusForbidden, http.StatusNotFound:
			return core.PermissionDenied("Identity `%s` cannot be impersonated", identity)
		case http.StatusTooManyRequests, http.StatusServiceUnavailable:
			return core.Unavailable(err, "IAM Credentials unavailable")
		}
	}
	return core.FromBackend(err, "IAM Credentials call")
}

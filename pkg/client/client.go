package client

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	krbclient "github.com/jcmturner/gokrb5/v8/client"
	"github.com/jcmturner/gokrb5/v8/spnego"

	"github.com/darmiel/trustbroker/internal/api"
	"github.com/darmiel/trustbroker/internal/buildinfo"
)

const defaultTimeout = 30 * time.Second

// Authorizer sets the Authorization header of a broker request.
type Authorizer func(req *http.Request) error

// Client talks to a trust broker server.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	userAgent  string

	authorize  Authorizer
	adminToken string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithBearerToken authenticates broker requests with an OIDC or static bearer token.
func WithBearerToken(token string) Option {
	return func(c *Client) {
		c.authorize = func(req *http.Request) error {
			req.Header.Set("Authorization", "Bearer "+token)
			return nil
		}
	}
}

// WithKerberos authenticates broker requests with SPNEGO. spn defaults to HTTP/<host>.
func WithKerberos(cl *krbclient.Client, spn string) Option {
	return func(c *Client) {
		c.authorize = func(req *http.Request) error {
			target := spn
			if target == "" {
				target = "HTTP/" + req.URL.Hostname()
			}
			if err := spnego.SetSPNEGOHeader(cl, req, target); err != nil {
				return fmt.Errorf("creating spnego token: %w", err)
			}
			return nil
		}
	}
}

// WithAdminToken sets the JWT sent to the admin API.
func WithAdminToken(token string) Option {
	return func(c *Client) {
		c.adminToken = token
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a client for the server at addr, e.g. "https://broker.example.com:8080".
func New(addr string, opts ...Option) (*Client, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parsing server address: %w", err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("server address '%s' has no host", addr)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: defaultTimeout},
		userAgent:  buildinfo.UserAgent("client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) url() *urlBuilder {
	u := *c.baseURL
	return &urlBuilder{
		base:  &u,
		query: url.Values{},
	}
}

// authorizeRequest picks the credential for the route: the admin token for admin routes,
// the configured authorizer otherwise. An explicit Authorization header is kept.
func (c *Client) authorizeRequest(req *http.Request) error {
	if req.Header.Get("Authorization") != "" {
		return nil
	}
	if strings.HasPrefix(req.URL.Path, api.AdminParent) {
		if c.adminToken != "" {
			req.Header.Set("Authorization", "Bearer "+c.adminToken)
		}
		return nil
	}
	if c.authorize != nil {
		return c.authorize(req)
	}
	return nil
}

type urlBuilder struct {
	base       *url.URL
	path       string
	pathParams map[string]string
	query      url.Values
}

func (b *urlBuilder) setPath(path string) *urlBuilder {
	b.path = path
	return b
}

func (b *urlBuilder) setPathParam(name, value string) *urlBuilder {
	if b.pathParams == nil {
		b.pathParams = make(map[string]string)
	}
	b.pathParams[name] = value
	return b
}

func (b *urlBuilder) addQueryParam(name string, value any) *urlBuilder {
	b.query.Add(name, fmt.Sprint(value))
	return b
}

func (b *urlBuilder) build() string {
	path, rawPath := b.path, b.path
	for name, value := range b.pathParams {
		path = strings.ReplaceAll(path, "{"+name+"}", value)
		rawPath = strings.ReplaceAll(rawPath, "{"+name+"}", url.PathEscape(value))
	}
	u := *b.base
	u.Path = strings.TrimSuffix(b.base.Path, "/") + path
	u.RawPath = strings.TrimSuffix(b.base.EscapedPath(), "/") + rawPath
	u.RawQuery = b.query.Encode()
	return u.String()
}

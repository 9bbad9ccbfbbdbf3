package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/darmiel/trustbroker/internal/api/middleware"
	"github.com/darmiel/trustbroker/internal/api/presenter"
	"github.com/darmiel/trustbroker/internal/audit"
	"github.com/darmiel/trustbroker/internal/authn"
	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/database"
	"github.com/darmiel/trustbroker/internal/encryption"
	"github.com/darmiel/trustbroker/internal/groups"
	"github.com/darmiel/trustbroker/internal/logging"
	"github.com/darmiel/trustbroker/internal/mapping"
	"github.com/darmiel/trustbroker/internal/metrics"
	"github.com/darmiel/trustbroker/internal/providers/stub"
	"github.com/darmiel/trustbroker/internal/proxy"
	"github.com/darmiel/trustbroker/internal/service"
	"github.com/darmiel/trustbroker/internal/session"
	"github.com/darmiel/trustbroker/internal/tasks"
	"github.com/darmiel/trustbroker/internal/tokencache"
)

const (
	gcsScope   = "https://www.googleapis.com/auth/devstorage.read_write"
	aliceCred  = "alice-secret"
	bobCred    = "bob-secret"
	hiveCred   = "hive-secret"
	testSecret = "admin-signing-key"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	mappings, err := mapping.NewManager(config.MappingConfig{
		Project: "my-project",
		Rules: []core.MappingRule{
			{
				Name: "users",
				If:   `realm == "EXAMPLE.COM" && instance == ""`,
				Then: "{{.Primary}}-shadow@{{.Project}}.iam.gserviceaccount.com",
			},
		},
	})
	require.NoError(t, err)

	m := metrics.New(nil)
	cache, err := tokencache.New(tokencache.Options{
		Size:         16,
		SafetyMargin: time.Minute,
		MintTimeout:  5 * time.Second,
		Metrics:      m,
	})
	require.NoError(t, err)

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	wrapper, err := encryption.NewLocalKeyWrapper(key)
	require.NoError(t, err)
	enc := encryption.NewEnvelopeEncrypter(encryption.LocalType, wrapper)
	store := database.NewInMemorySessionStore()

	provider := stub.New(stub.Settings{
		Identities: []string{"alice-shadow@my-project.iam.gserviceaccount.com"},
	})

	broker := service.NewBroker(service.Options{
		Provider:       func(context.Context) (core.TokenProvider, error) { return provider, nil },
		AccessBoundary: func() config.AccessBoundaryConfig { return config.AccessBoundaryConfig{} },
		Proxy: proxy.NewValidator(func() []core.ProxyRule {
			return []core.ProxyRule{{Proxy: "hive/testhost@EXAMPLE.COM", Users: []string{"alice-shadow@my-project.iam.gserviceaccount.com"}}}
		}, mappings, groups.NewStatic(nil)),
		Mapping: mappings,
		Cache:   cache,
		Sessions: session.NewManager(session.Options{
			Store:     func(context.Context) (core.SessionStore, error) { return store, nil },
			Encrypter: func(context.Context) (core.Encrypter, error) { return enc, nil },
			Settings: func() config.SessionConfig {
				return config.SessionConfig{RenewPeriod: 24 * time.Hour, MaxLifetime: 7 * 24 * time.Hour}
			},
			Metrics: m,
		}),
		Auditor: audit.NewInMemoryAuditor(0),
		Metrics: m,
	})

	authenticator := authn.NewStatic(map[string]core.Principal{
		aliceCred: "alice@EXAMPLE.COM",
		bobCred:   "bob@EXAMPLE.COM",
		hiveCred:  "hive/testhost@EXAMPLE.COM",
	})

	taskManager := tasks.NewManager(time.Second)
	taskManager.Register("noop", 0, func(context.Context, logging.InternalLogger) error { return nil })

	srv := NewServer(Options{
		Broker:        broker,
		Authenticator: func(context.Context) (core.Authenticator, error) { return authenticator, nil },
		Tasks:         taskManager,
		AdminKey:      func() []byte { return []byte(testSecret) },
	})
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, ts *httptest.Server, method, path, authorization string, body any, out any) *http.Response {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func adminToken(t *testing.T, roles ...string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, middleware.AdminClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + tok
}

func TestAccessTokenEndpoint(t *testing.T) {
	ts := newTestServer(t)

	var ok AccessTokenResponse
	resp := doJSON(t, ts, http.MethodPost, AccessTokenRoute, "Bearer "+aliceCred, AccessTokenPayload{
		Owner:  "alice@EXAMPLE.COM",
		Scopes: []string{gcsScope},
	}, &ok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, ok.AccessToken)
	assert.NotEmpty(t, resp.Header.Get(middleware.CorrelationIDHeader))

	t.Run("Unauthenticated", func(t *testing.T) {
		var errResp presenter.ErrorResponse
		resp := doJSON(t, ts, http.MethodPost, AccessTokenRoute, "Bearer wrong", AccessTokenPayload{
			Owner:  "alice@EXAMPLE.COM",
			Scopes: []string{gcsScope},
		}, &errResp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))
		assert.Equal(t, "Unauthenticated", errResp.Code)
		assert.Equal(t, resp.Header.Get(middleware.CorrelationIDHeader), errResp.CorrelationID)
	})

	t.Run("Impersonation Denied", func(t *testing.T) {
		var errResp presenter.ErrorResponse
		resp := doJSON(t, ts, http.MethodPost, AccessTokenRoute, "Bearer "+bobCred, AccessTokenPayload{
			Owner:  "alice@EXAMPLE.COM",
			Scopes: []string{gcsScope},
		}, &errResp)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "PermissionDenied", errResp.Code)
	})

	t.Run("Proxy", func(t *testing.T) {
		var proxied AccessTokenResponse
		resp := doJSON(t, ts, http.MethodPost, AccessTokenRoute, "Bearer "+hiveCred, AccessTokenPayload{
			Owner:  "alice@EXAMPLE.COM",
			Scopes: []string{gcsScope},
		}, &proxied)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, ok.AccessToken, proxied.AccessToken)
	})

	t.Run("Unknown Field", func(t *testing.T) {
		var errResp presenter.ErrorResponse
		resp := doJSON(t, ts, http.MethodPost, AccessTokenRoute, "Bearer "+aliceCred, map[string]any{
			"owner": "alice@EXAMPLE.COM",
			"scope": gcsScope,
		}, &errResp)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "InvalidArgument", errResp.Code)
	})
}

func TestSessionEndpoints(t *testing.T) {
	ts := newTestServer(t)

	var issued SessionTokenResponse
	resp := doJSON(t, ts, http.MethodPost, SessionTokenRoute, "Bearer "+aliceCred, SessionTokenPayload{
		Owner:   "alice@EXAMPLE.COM",
		Renewer: "hive/testhost@EXAMPLE.COM",
		Scopes:  []string{gcsScope},
	}, &issued)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, issued.SessionToken)

	// the session token authorizes access token requests on its own
	var tok AccessTokenResponse
	resp = doJSON(t, ts, http.MethodPost, AccessTokenRoute, SchemeBrokerSession+" "+issued.SessionToken, AccessTokenPayload{}, &tok)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, tok.AccessToken)

	// only the renewer may renew
	var errResp presenter.ErrorResponse
	resp = doJSON(t, ts, http.MethodPost, RenewSessionTokenRoute, "Bearer "+bobCred, RenewSessionTokenPayload{
		SessionToken: issued.SessionToken,
	}, &errResp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	var renewed RenewSessionTokenResponse
	resp = doJSON(t, ts, http.MethodPost, RenewSessionTokenRoute, "Bearer "+hiveCred, RenewSessionTokenPayload{
		SessionToken: issued.SessionToken,
		Extension:    "1h",
	}, &renewed)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Greater(t, renewed.ExpiresAt, time.Now().UnixMilli())

	resp = doJSON(t, ts, http.MethodPost, RenewSessionTokenRoute, "Bearer "+hiveCred, RenewSessionTokenPayload{
		SessionToken: issued.SessionToken,
		Extension:    "soon",
	}, &errResp)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var cancelled CancelSessionTokenResponse
	resp = doJSON(t, ts, http.MethodPost, CancelSessionTokenRoute, "Bearer "+aliceCred, CancelSessionTokenPayload{
		SessionToken: issued.SessionToken,
	}, &cancelled)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, cancelled.Cancelled)

	resp = doJSON(t, ts, http.MethodPost, AccessTokenRoute, SchemeBrokerSession+" "+issued.SessionToken, AccessTokenPayload{}, &errResp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAdminEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp := doJSON(t, ts, http.MethodGet, ListTasksRoute, "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doJSON(t, ts, http.MethodGet, ListTasksRoute, adminToken(t, "viewer"), nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	admin := adminToken(t, middleware.AdminRole)

	var status []tasks.TaskStatus
	resp = doJSON(t, ts, http.MethodGet, ListTasksRoute, admin, nil, &status)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, status, 1)
	assert.Equal(t, "noop", status[0].Name)

	resp = doJSON(t, ts, http.MethodPost, "/v1/admin/tasks/missing/trigger", admin, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// produce an audit entry with a known correlation id
	req, err := http.NewRequest(http.MethodPost, ts.URL+AccessTokenRoute, bytes.NewReader([]byte(`{"owner":"alice@EXAMPLE.COM","scopes":["`+gcsScope+`"]}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+aliceCred)
	req.Header.Set(middleware.CorrelationIDHeader, "audit-me")
	r, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = r.Body.Close()

	var entries []core.AuditEntry
	resp = doJSON(t, ts, http.MethodGet, ListAuditsRoute+"?correlation_id=audit-me", admin, nil, &entries)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, entries, 1)
	assert.Equal(t, core.Principal("alice@EXAMPLE.COM"), entries[0].Owner)
	assert.True(t, entries[0].Granted)

	var trace core.MappingTrace
	resp = doJSON(t, ts, http.MethodPost, ExplainRoute, admin, ExplainPayload{ReplayID: "audit-me"}, &trace)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice-shadow@my-project.iam.gserviceaccount.com", trace.Identity)
}

func TestPublicEndpoints(t *testing.T) {
	ts := newTestServer(t)

	resp, err := http.Get(ts.URL + HealthCheckRoute)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]string
	resp = doJSON(t, ts, http.MethodGet, AboutRoute, "", nil, &info)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "trustbroker", info["service"])

	// no metrics handler configured
	resp = doJSON(t, ts, http.MethodGet, MetricsRoute, "", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

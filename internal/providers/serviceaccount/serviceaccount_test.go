package serviceaccount

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

var testScopes = []string{"https://www.googleapis.com/auth/devstorage.read_write"}

type generateRequest struct {
	Scope    []string `json:"scope"`
	Lifetime string   `json:"lifetime"`
}

// fakeIAM serves generateAccessToken and allows only alice's shadow account.
func fakeIAM(t *testing.T, expiry time.Time) (*httptest.Server, *atomic.Pointer[generateRequest]) {
	t.Helper()
	var last atomic.Pointer[generateRequest]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":generateAccessToken") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var body generateRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		last.Store(&body)

		_, rest, _ := strings.Cut(r.URL.Path, "serviceAccounts/")
		email := strings.TrimSuffix(rest, ":generateAccessToken")
		switch email {
		case "alice-shadow@my-project.iam.gserviceaccount.com":
			_ = json.NewEncoder(w).Encode(map[string]string{
				"accessToken": "ya29.from-iam",
				"expireTime":  expiry.UTC().Format(time.RFC3339),
			})
		case "overloaded@my-project.iam.gserviceaccount.com":
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"code":503,"message":"backend unavailable","status":"UNAVAILABLE"}}`))
		default:
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"error":{"code":403,"message":"Permission 'iam.serviceAccounts.getAccessToken' denied","status":"PERMISSION_DENIED"}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &last
}

func newTestProvider(t *testing.T, srv *httptest.Server, s Settings) *Provider {
	t.Helper()
	p, err := New(context.Background(), s,
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)
	return p
}

func TestGetAccessToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	srv, last := fakeIAM(t, expiry)
	p := newTestProvider(t, srv, Settings{Lifetime: 30 * time.Minute})

	tok, err := p.GetAccessToken(context.Background(), "alice-shadow@my-project.iam.gserviceaccount.com", testScopes, "")
	require.NoError(t, err)
	assert.Equal(t, "ya29.from-iam", tok.Value)
	assert.Equal(t, expiry.UnixMilli(), tok.ExpiresAt)

	req := last.Load()
	require.NotNil(t, req)
	assert.Equal(t, testScopes, req.Scope)
	assert.Equal(t, "1800s", req.Lifetime)
}

func TestGetAccessToken_Errors(t *testing.T) {
	srv, _ := fakeIAM(t, time.Now().Add(time.Hour))
	p := newTestProvider(t, srv, Settings{})

	_, err := p.GetAccessToken(context.Background(), "bob-shadow@my-project.iam.gserviceaccount.com", testScopes, "")
	assert.Equal(t, core.KindPermissionDenied, core.KindOf(err))

	_, err = p.GetAccessToken(context.Background(), "overloaded@my-project.iam.gserviceaccount.com", testScopes, "")
	assert.Equal(t, core.KindUnavailable, core.KindOf(err))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetAccessToken(ctx, "alice-shadow@my-project.iam.gserviceaccount.com", testScopes, "")
	assert.Equal(t, core.KindUnavailable, core.KindOf(err))
}

func TestNewFromConfig(t *testing.T) {
	_, err := NewFromConfig(context.Background(), config.BackendConfig{
		Type:     Type,
		Settings: map[string]any{"lifetime": "13h"},
	})
	assert.ErrorContains(t, err, "must not exceed")

	_, err = NewFromConfig(context.Background(), config.BackendConfig{
		Type:     Type,
		Settings: map[string]any{"credentials_file": "/does/not/exist.json"},
	})
	assert.ErrorContains(t, err, "credentials file")

	_, err = NewFromConfig(context.Background(), config.BackendConfig{
		Type:     Type,
		Settings: map[string]any{"unknown": true},
	})
	assert.Error(t, err)
}

package localjwt

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/darmiel/trustbroker/internal/config"
)

func TestProvider_GetAccessToken(t *testing.T) {
	p, err := NewFromConfig(context.Background(), config.BackendConfig{
		Type:     Type,
		Settings: map[string]any{"signing_key": "super-secret", "lifetime": "10m"},
	})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}

	tok, err := p.GetAccessToken(context.Background(),
		"alice-shadow@my-project.iam.gserviceaccount.com",
		[]string{"read", "write"},
		"//storage.googleapis.com/projects/_/buckets/data")
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(tok.Value, claims, func(*jwt.Token) (any, error) {
		return []byte("super-secret"), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		t.Fatalf("token does not verify: %v", err)
	}

	want := map[string]any{
		"iss":   DefaultIssuer,
		"sub":   "alice-shadow@my-project.iam.gserviceaccount.com",
		"scope": "read write",
		"aud":   "//storage.googleapis.com/projects/_/buckets/data",
	}
	got := map[string]any{}
	for k := range want {
		got[k] = claims[k]
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("claims mismatch (-want +got):\n%s", diff)
	}
	if jti, _ := claims["jti"].(string); jti == "" {
		t.Error("token has no jti")
	}

	if tok.ExpiresAt <= time.Now().UnixMilli() || tok.ExpiresAt > time.Now().Add(10*time.Minute).UnixMilli() {
		t.Errorf("ExpiresAt = %d outside of the lifetime", tok.ExpiresAt)
	}
}

func TestNew_MissingKey(t *testing.T) {
	_, err := New(Settings{})
	if err == nil || !strings.Contains(err.Error(), "signing_key") {
		t.Errorf("New() error = %v, want missing signing_key", err)
	}
}

package stub

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

const alice = "alice-shadow@my-project.iam.gserviceaccount.com"

func TestProvider_GetAccessToken(t *testing.T) {
	p, err := NewFromConfig(context.Background(), config.BackendConfig{
		Type:     Type,
		Settings: map[string]any{"identities": []any{alice}},
	})
	if err != nil {
		t.Fatalf("NewFromConfig() error = %v", err)
	}

	scopes := []string{"https://www.googleapis.com/auth/devstorage.read_write"}

	tok, err := p.GetAccessToken(context.Background(), alice, scopes, "")
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if !strings.HasPrefix(tok.Value, TokenPrefix) {
		t.Errorf("token %q lacks prefix %q", tok.Value, TokenPrefix)
	}
	if len(tok.Value) != DefaultLength {
		t.Errorf("token length = %d, want %d", len(tok.Value), DefaultLength)
	}
	if tok.ExpiresAt <= time.Now().UnixMilli() {
		t.Errorf("token already expired at %d", tok.ExpiresAt)
	}

	other, err := p.GetAccessToken(context.Background(), alice, scopes, "")
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if other.Value == tok.Value {
		t.Error("two mints returned the same token")
	}

	_, err = p.GetAccessToken(context.Background(), "bob-shadow@my-project.iam.gserviceaccount.com", scopes, "")
	if kind := core.KindOf(err); kind != core.KindPermissionDenied {
		t.Errorf("unknown identity kind = %q, want %q", kind, core.KindPermissionDenied)
	}
}

func TestProvider_Settings(t *testing.T) {
	p := New(Settings{Length: 64, Lifetime: time.Minute})
	tok, err := p.GetAccessToken(context.Background(), "anyone@example.com", nil, "")
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if len(tok.Value) != 64 {
		t.Errorf("token length = %d, want 64", len(tok.Value))
	}
	if tok.ExpiresAt > time.Now().Add(time.Minute).UnixMilli() {
		t.Errorf("token outlives its lifetime: %d", tok.ExpiresAt)
	}

	if _, err := NewFromConfig(context.Background(), config.BackendConfig{Type: Type, Settings: map[string]any{"length": -1}}); err == nil {
		t.Error("expected error for negative length")
	}
}

package core

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestPrincipal_Parse(t *testing.T) {
	tests := []struct {
		in   Principal
		want PrincipalName
	}{
		{"alice@EXAMPLE.COM", PrincipalName{Primary: "alice", Realm: "EXAMPLE.COM"}},
		{"hive/host.example.com@EXAMPLE.COM", PrincipalName{Primary: "hive", Instance: "host.example.com", Realm: "EXAMPLE.COM"}},
		{"alice", PrincipalName{Primary: "alice"}},
		{"alice@corp@EXAMPLE.COM", PrincipalName{Primary: "alice@corp", Realm: "EXAMPLE.COM"}},
		{"", PrincipalName{}},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.in.Parse()); diff != "" {
				t.Errorf("Parse() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNormalizeScopes(t *testing.T) {
	got := NormalizeScopes([]string{"b", " a ", "b", "", "c"})
	if diff := cmp.Diff([]string{"a", "b", "c"}, got); diff != "" {
		t.Errorf("NormalizeScopes() mismatch (-want +got):\n%s", diff)
	}
	if got := NormalizeScopes(nil); len(got) != 0 {
		t.Errorf("NormalizeScopes(nil) = %v, want empty", got)
	}
}

func TestSessionRecord(t *testing.T) {
	rec := &SessionRecord{Owner: "alice@EXAMPLE.COM", ExpiresAt: time.Now().Add(time.Minute).UnixMilli()}
	if got := rec.EffectiveRenewer(); got != "alice@EXAMPLE.COM" {
		t.Errorf("EffectiveRenewer() = %q, want the owner", got)
	}
	if rec.ExpiredAt(time.Now()) {
		t.Error("record expired before its expiry")
	}
	if !rec.ExpiredAt(time.Now().Add(2 * time.Minute)) {
		t.Error("record not expired after its expiry")
	}

	rec.Renewer = "yarn@EXAMPLE.COM"
	if got := rec.EffectiveRenewer(); got != "yarn@EXAMPLE.COM" {
		t.Errorf("EffectiveRenewer() = %q, want the renewer", got)
	}
}

func TestError_Classification(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", PermissionDenied("Impersonation of `%s` by `%s` is not allowed", "bob", "spark"))

	if kind := KindOf(err); kind != KindPermissionDenied {
		t.Errorf("KindOf() = %q, want %q", kind, KindPermissionDenied)
	}
	if !errors.Is(err, &Error{Kind: KindPermissionDenied}) {
		t.Error("errors.Is() should match on kind")
	}
	if errors.Is(err, &Error{Kind: KindNotFound}) {
		t.Error("errors.Is() matched a different kind")
	}

	st, ok := status.FromError(PermissionDenied("denied"))
	if !ok {
		t.Fatal("status.FromError() failed")
	}
	if st.Code() != codes.PermissionDenied || st.Message() != "denied" {
		t.Errorf("status = %v %q", st.Code(), st.Message())
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"unclassified", KindOf(errors.New("boom")), KindInternal},
		{"nil", KindOf(nil), Kind("")},
		{"expired http", KindExpired.HTTPStatus(), http.StatusUnauthorized},
		{"expired grpc", KindExpired.GRPCCode(), codes.Unauthenticated},
		{"unavailable retryable", KindUnavailable.Retryable(), true},
		{"missing parameter", MissingParameter("owner").Message, "Request must provide `owner`"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestFromBackend(t *testing.T) {
	if err := FromBackend(nil, "x"); err != nil {
		t.Errorf("FromBackend(nil) = %v", err)
	}
	if kind := KindOf(FromBackend(context.DeadlineExceeded, "mint")); kind != KindUnavailable {
		t.Errorf("deadline kind = %q, want %q", kind, KindUnavailable)
	}
	if kind := KindOf(FromBackend(errors.New("io"), "mint")); kind != KindInternal {
		t.Errorf("plain error kind = %q, want %q", kind, KindInternal)
	}

	denied := PermissionDenied("no")
	if got := FromBackend(denied, "mint"); got != error(denied) {
		t.Errorf("classified error was rewrapped: %v", got)
	}
}

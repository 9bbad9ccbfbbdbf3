package proxy

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/groups"
	"github.com/darmiel/trustbroker/internal/mapping"
)

const domain = "example.org"

const (
	alice   core.Principal = "alice@EXAMPLE.COM"
	bob     core.Principal = "bob@EXAMPLE.COM"
	charlie core.Principal = "charlie@EXAMPLE.COM"

	presto core.Principal = "presto/testhost@EXAMPLE.COM"
	storm  core.Principal = "storm/testhost@EXAMPLE.COM"
	oozie  core.Principal = "oozie/testhost@EXAMPLE.COM"
	hive   core.Principal = "hive/testhost@EXAMPLE.COM"
	solr   core.Principal = "solr/testhost@EXAMPLE.COM"
	spark  core.Principal = "spark/testhost@EXAMPLE.COM"
)

// Allow lists hold cloud identities, the principals are mapped to <primary>@example.org.
func testRules() []core.ProxyRule {
	return []core.ProxyRule{
		{Proxy: presto, Users: []string{"*"}},
		{Proxy: storm, Users: []string{"alice@" + domain, "bob@" + domain}},
		{Proxy: oozie, Groups: []string{"*"}},
		{Proxy: hive, Groups: []string{"datascience@" + domain}},
		{Proxy: solr, Groups: []string{"finance@" + domain}},
	}
}

func testMapper(t *testing.T) *mapping.Engine {
	t.Helper()
	eng, err := mapping.New(config.MappingConfig{
		Domain: domain,
		Rules: []core.MappingRule{
			{Name: "users", If: `instance == ""`, Then: "{{.Primary}}@{{.Domain}}"},
		},
	})
	if err != nil {
		t.Fatalf("mapping.New() error = %v", err)
	}
	return eng
}

func newTestValidator(t *testing.T) *Validator {
	resolver := groups.NewStatic(map[string][]string{
		"datascience@" + domain: {"alice@" + domain},
		"finance@" + domain:     {},
	})
	return NewValidator(testRules, testMapper(t), resolver)
}

func TestValidateImpersonator(t *testing.T) {
	v := newTestValidator(t)

	tests := []struct {
		name    string
		proxy   core.Principal
		target  core.Principal
		allowed bool
	}{
		{"No Rule", spark, alice, false},
		{"No Rule", spark, bob, false},
		{"No Rule", spark, charlie, false},

		{"User Wildcard", presto, alice, true},
		{"User Wildcard", presto, bob, true},
		{"User Wildcard", presto, charlie, true},

		{"User List", storm, alice, true},
		{"User List", storm, bob, true},
		{"User List", storm, charlie, false},

		{"Group Wildcard", oozie, alice, true},
		{"Group Wildcard", oozie, bob, true},
		{"Group Wildcard", oozie, charlie, true},

		{"Group With Alice", hive, alice, true},
		{"Group With Alice", hive, bob, false},
		{"Group With Alice", hive, charlie, false},

		{"Empty Group", solr, alice, false},
		{"Empty Group", solr, bob, false},
		{"Empty Group", solr, charlie, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%s", tt.name, tt.target), func(t *testing.T) {
			err := v.ValidateImpersonator(context.Background(), tt.proxy, tt.target)
			if tt.allowed {
				if err != nil {
					t.Errorf("ValidateImpersonator(%s, %s) error = %v, want allowed", tt.proxy, tt.target, err)
				}
				return
			}
			if kind := core.KindOf(err); kind != core.KindPermissionDenied {
				t.Fatalf("ValidateImpersonator(%s, %s) kind = %q, want %q", tt.proxy, tt.target, kind, core.KindPermissionDenied)
			}
			want := fmt.Sprintf("Impersonation of `%s` by `%s` is not allowed", tt.target, tt.proxy)
			if err.Error() != want {
				t.Errorf("error = %q, want %q", err.Error(), want)
			}
		})
	}
}

func TestValidateImpersonator_RawPrincipalIsNotAnIdentity(t *testing.T) {
	v := NewValidator(func() []core.ProxyRule {
		return []core.ProxyRule{{Proxy: storm, Users: []string{alice.String()}}}
	}, testMapper(t), groups.NewStatic(nil))

	if err := v.ValidateImpersonator(context.Background(), storm, alice); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("error = %v, want PermissionDenied", err)
	}
}

func TestValidateImpersonator_UnmappedTargetIsDenied(t *testing.T) {
	v := newTestValidator(t)

	// service principals have an instance, no mapping rule covers them
	err := v.ValidateImpersonator(context.Background(), storm, spark)
	want := fmt.Sprintf("Impersonation of `%s` by `%s` is not allowed", spark, storm)
	if err == nil || err.Error() != want {
		t.Errorf("error = %v, want %q", err, want)
	}
}

func TestValidateImpersonator_EmptyListsDeny(t *testing.T) {
	v := NewValidator(func() []core.ProxyRule {
		return []core.ProxyRule{{Proxy: spark}}
	}, testMapper(t), groups.NewStatic(nil))

	if err := v.ValidateImpersonator(context.Background(), spark, alice); !core.IsKind(err, core.KindPermissionDenied) {
		t.Errorf("error = %v, want PermissionDenied", err)
	}
}

type failingResolver struct{ err error }

func (f failingResolver) GroupsOf(context.Context, string) ([]string, error) {
	return nil, f.err
}

type recordingResolver struct{ members []string }

func (r *recordingResolver) GroupsOf(_ context.Context, member string) ([]string, error) {
	r.members = append(r.members, member)
	return nil, nil
}

func TestValidateImpersonator_GroupLookup(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind core.Kind
	}{
		{"Backend Failure", errors.New("directory: connection refused"), core.KindInternal},
		{"Timeout", context.DeadlineExceeded, core.KindUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(testRules, testMapper(t), failingResolver{err: tt.err})
			if kind := core.KindOf(v.ValidateImpersonator(context.Background(), hive, alice)); kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
			// user rules do not consult the resolver
			if err := v.ValidateImpersonator(context.Background(), storm, alice); err != nil {
				t.Errorf("user list error = %v", err)
			}
		})
	}

	rec := &recordingResolver{}
	v := NewValidator(testRules, testMapper(t), rec)
	_ = v.ValidateImpersonator(context.Background(), hive, bob)
	if len(rec.members) != 1 || rec.members[0] != "bob@"+domain {
		t.Errorf("resolver was asked for %v, want the mapped identity", rec.members)
	}
}

func TestValidateImpersonator_RulesAreReadPerCall(t *testing.T) {
	rules := []core.ProxyRule{}
	v := NewValidator(func() []core.ProxyRule { return rules }, testMapper(t), groups.NewStatic(nil))

	if err := v.ValidateImpersonator(context.Background(), spark, alice); err == nil {
		t.Fatal("expected denial without rules")
	}

	rules = []core.ProxyRule{{Proxy: spark, Users: []string{"alice@" + domain}}}
	if err := v.ValidateImpersonator(context.Background(), spark, alice); err != nil {
		t.Errorf("error = %v after rule was added", err)
	}
}

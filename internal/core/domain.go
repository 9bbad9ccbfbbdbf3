package core

import (
	"slices"
	"strings"
	"time"

	"github.com/expr-lang/expr/vm"
)

// Principal is an authenticated identity, e.g. alice@EXAMPLE.COM or hive/host.example.com@EXAMPLE.COM.
// It is produced by an Authenticator and never modified afterwards.
type Principal string

// PrincipalName is the parsed form of a Principal.
type PrincipalName struct {
	// Primary is the portion before any instance or realm qualifier.
	Primary string `json:"primary"`
	// Instance is the part between '/' and '@', if any.
	Instance string `json:"instance,omitempty"`
	// Realm is the part after the last '@', if any.
	Realm string `json:"realm,omitempty"`
}

// Parse splits the principal into its components.
func (p Principal) Parse() PrincipalName {
	s := string(p)
	var name PrincipalName
	if at := strings.LastIndex(s, "@"); at >= 0 {
		name.Realm = s[at+1:]
		s = s[:at]
	}
	if slash := strings.Index(s, "/"); slash >= 0 {
		name.Instance = s[slash+1:]
		s = s[:slash]
	}
	name.Primary = s
	return name
}

func (p Principal) String() string {
	return string(p)
}

// Wildcard allows any user or group in a ProxyRule.
const Wildcard = "*"

// ProxyRule defines who Proxy may impersonate.
// An empty list denies, it never means "undefined".
type ProxyRule struct {
	// Proxy is the exact principal of the impersonating service.
	Proxy Principal `yaml:"proxy" json:"proxy"`

	// Users lists principals Proxy may act as, or contains Wildcard.
	Users []string `yaml:"users" json:"users,omitempty"`

	// Groups lists groups whose members Proxy may act as, or contains Wildcard.
	Groups []string `yaml:"groups" json:"groups,omitempty"`
}

func (r ProxyRule) AllowsAnyUser() bool {
	return slices.Contains(r.Users, Wildcard)
}

func (r ProxyRule) AllowsAnyGroup() bool {
	return slices.Contains(r.Groups, Wildcard)
}

// MappingRule maps a principal to a cloud identity if its condition holds.
type MappingRule struct {
	// Name is a human-readable identifier for logs/debugging.
	Name string `yaml:"name" json:"name"`

	// Description explains the intent of the rule.
	Description string `yaml:"description" json:"description,omitempty"`

	// If is a boolean expression over the mapping context, e.g. `primary matches "^svc-"`.
	// The literal "true" matches every principal.
	If string `yaml:"if" json:"if,omitempty"`

	// Condition is a structured condition over the mapping context attributes.
	// If and Condition may be combined; both must hold.
	Condition *Condition `yaml:"condition" json:"condition,omitempty"`

	// Then is the template producing the cloud identity, e.g. "{{.Primary}}-shadow@{{.Project}}.iam.gserviceaccount.com".
	Then string `yaml:"then" json:"then"`

	// CompiledIf holds the compiled form of If.
	CompiledIf *vm.Program `yaml:"-" json:"-"`
}

// AccessToken is a short-lived cloud access token. It is never persisted.
type AccessToken struct {
	Value string `json:"access_token"`

	// ExpiresAt is in epoch milliseconds.
	ExpiresAt int64 `json:"expires_at"`
}

// Expiry returns ExpiresAt as time.
func (t AccessToken) Expiry() time.Time {
	return time.UnixMilli(t.ExpiresAt)
}

// SessionRecord is the persisted state of a session token.
type SessionRecord struct {
	ID      string    `json:"id"`
	Owner   Principal `json:"owner"`
	Renewer Principal `json:"renewer,omitempty"`
	Target  string    `json:"target,omitempty"`
	Scopes  []string  `json:"scopes,omitempty"`

	// IssuedAt and ExpiresAt are in epoch milliseconds.
	IssuedAt  int64 `json:"issued_at"`
	ExpiresAt int64 `json:"expires_at"`

	EncryptedPayload []byte `json:"encrypted_payload"`
}

// EffectiveRenewer returns the principal allowed to renew the session.
func (r *SessionRecord) EffectiveRenewer() Principal {
	if r.Renewer != "" {
		return r.Renewer
	}
	return r.Owner
}

// ExpiredAt reports whether the record has expired at the given time.
func (r *SessionRecord) ExpiredAt(now time.Time) bool {
	return r.ExpiresAt <= now.UnixMilli()
}

// NormalizeScopes trims, sorts and deduplicates scopes.
func NormalizeScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// MappingContext is the fixed set of values mapping rules can reference.
// Conditions use the lower-case expr names, templates the field names (e.g. {{.Primary}}).
type MappingContext struct {
	Principal string `expr:"principal"`
	Primary   string `expr:"primary"`
	Instance  string `expr:"instance"`
	Realm     string `expr:"realm"`
	Project   string `expr:"project"`
	Domain    string `expr:"domain"`
}

// Attributes returns the context as a map for structured conditions.
func (c MappingContext) Attributes() map[string]any {
	attrs := map[string]any{
		"principal": c.Principal,
		"primary":   c.Primary,
		"project":   c.Project,
		"domain":    c.Domain,
	}
	// optional components only exist when set, so "exists" can test for them
	if c.Instance != "" {
		attrs["instance"] = c.Instance
	}
	if c.Realm != "" {
		attrs["realm"] = c.Realm
	}
	return attrs
}

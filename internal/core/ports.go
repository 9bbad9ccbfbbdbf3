package core

import "context"

// Authenticator validates an inbound credential and yields the authenticated principal.
// Implementations: Kerberos/SPNEGO, OIDC, Static.
type Authenticator interface {
	// Name returns the backend type (as used in config).
	Name() string

	// Scheme returns the authorization scheme the backend expects, e.g. "Negotiate" or "Bearer".
	Scheme() string

	// AuthenticateUser validates the raw credential. It fails with an Unauthenticated error
	// if the credential is absent, malformed or invalid. It never grants rights.
	AuthenticateUser(ctx context.Context, rawCredential []byte) (Principal, error)
}

// SessionStore persists session records.
// Implementations: Memory, SQL (bun), LevelDB.
type SessionStore interface {
	// Create stores a new record. The id must not exist yet.
	Create(ctx context.Context, record *SessionRecord) error

	// Get returns the record for id, or ErrRecordNotFound.
	Get(ctx context.Context, id string) (*SessionRecord, error)

	// CompareAndSwapExpiry sets ExpiresAt to newExpiry only if the record exists and its
	// ExpiresAt still equals oldExpiry. It reports whether the update was applied.
	CompareAndSwapExpiry(ctx context.Context, id string, oldExpiry, newExpiry int64) (bool, error)

	// Delete removes the record, or returns ErrRecordNotFound if it does not exist.
	Delete(ctx context.Context, id string) error

	// DeleteExpired removes all records with ExpiresAt <= nowMillis and returns how many were removed.
	DeleteExpired(ctx context.Context, nowMillis int64) (int64, error)

	Close() error
}

// Encrypter envelope-encrypts opaque payloads with an externally managed key.
// Implementations: Local (HKDF key), Age, Vault Transit, Dummy.
type Encrypter interface {
	// Name returns the backend type (as used in config).
	Name() string

	// Encrypt seals plaintext. aad is authenticated but not encrypted.
	Encrypt(ctx context.Context, plaintext, aad []byte) ([]byte, error)

	// Decrypt opens a ciphertext produced by Encrypt with the same aad.
	// Any failure to open is reported as ErrDecryption.
	Decrypt(ctx context.Context, ciphertext, aad []byte) ([]byte, error)
}

// TokenProvider mints cloud access tokens.
// Implementations: Service Account (IAM Credentials), JWT, Stub.
type TokenProvider interface {
	// Name returns the backend type (as used in config).
	Name() string

	// GetAccessToken mints a token for identity with the given (normalized) scopes.
	// target is empty when the access boundary is disabled.
	// It fails with PermissionDenied if the provider rejects the identity.
	GetAccessToken(ctx context.Context, identity string, scopes []string, target string) (AccessToken, error)
}

// GroupResolver resolves group memberships of a cloud identity.
// Lookups may be remote, slow and fallible.
type GroupResolver interface {
	// GroupsOf returns the groups member (a mapped cloud identity) belongs to.
	GroupsOf(ctx context.Context, member string) ([]string, error)
}

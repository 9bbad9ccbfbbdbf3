package core

import "time"

type AuditEntry struct {
	// ID is the unique request ID (X-Correlation-ID)
	ID string `json:"id"`

	// Time is the timestamp of the event
	Time time.Time `json:"time"`

	// Action describing what happened (e.g. "access_token.get", "session.renew")
	Action string `json:"action"`

	// Caller is the authenticated principal that made the request.
	// It is empty for requests authenticated with a session token.
	Caller Principal `json:"caller,omitempty"`

	// Owner is the principal the request acted for
	Owner Principal `json:"owner,omitempty"`

	// Identity is the mapped cloud identity
	Identity string `json:"identity,omitempty"`

	Scopes []string `json:"scopes,omitempty"`
	Target string   `json:"target,omitempty"`

	// SessionID is set for session operations and session-authenticated requests
	SessionID string `json:"session_id,omitempty"`

	// TokenFingerprint identifies an issued access token without revealing it
	TokenFingerprint string `json:"token_fingerprint,omitempty"`

	Granted bool   `json:"granted"`
	Error   string `json:"error,omitempty"`
	Kind    Kind   `json:"kind,omitempty"`
}

type Auditor interface {
	Log(entry AuditEntry) error
	Close() error
}

// AuditReader is implemented by auditors that keep entries queryable.
type AuditReader interface {
	GetRecent(limit int) ([]AuditEntry, error)
	Find(filter func(entry AuditEntry) bool, limit int) ([]AuditEntry, error)
}

package service

import (
	"time"

	"github.com/darmiel/trustbroker/internal/core"
)

// Operation names, used as metric labels.
const (
	OpGetAccessToken     = "GetAccessToken"
	OpGetSessionToken    = "GetSessionToken"
	OpRenewSessionToken  = "RenewSessionToken"
	OpCancelSessionToken = "CancelSessionToken"
)

// Audit actions.
const (
	ActionAccessTokenGet = "access_token.get"
	ActionSessionIssue   = "session.issue"
	ActionSessionRenew   = "session.renew"
	ActionSessionCancel  = "session.cancel"
)

// AccessTokenRequest asks for an access token, either for Owner on behalf of the
// authenticated caller, or for the owner of SessionToken.
type AccessTokenRequest struct {
	Owner  core.Principal
	Scopes []string
	Target string

	// SessionToken replaces direct authentication. Owner must be empty when it is set.
	SessionToken string
}

type AccessTokenResponse struct {
	AccessToken string
	// ExpiresAt is in epoch milliseconds.
	ExpiresAt int64
}

type SessionTokenRequest struct {
	Owner core.Principal
	// Renewer may renew the session. It defaults to Owner.
	Renewer core.Principal
	Target  string
	Scopes  []string
}

type SessionTokenResponse struct {
	SessionToken string
	// ExpiresAt is in epoch milliseconds.
	ExpiresAt int64
}

type RenewSessionTokenRequest struct {
	SessionToken string
	// Extension defaults to the configured renew period when zero.
	Extension time.Duration
}

type RenewSessionTokenResponse struct {
	// ExpiresAt is in epoch milliseconds.
	ExpiresAt int64
}

type CancelSessionTokenRequest struct {
	SessionToken string
}

// ExplainRequest asks for the mapping trace of Principal, or of the owner of the
// audited request ReplayID.
type ExplainRequest struct {
	Principal core.Principal
	ReplayID  string
}

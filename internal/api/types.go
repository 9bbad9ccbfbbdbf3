package api

// SchemeBrokerSession is the Authorization scheme carrying a session token instead of a credential.
const SchemeBrokerSession = "BrokerSession"

type AccessTokenPayload struct {
	Owner  string   `json:"owner,omitempty"`
	Scopes []string `json:"scopes,omitempty"`
	Target string   `json:"target,omitempty"`
}

type AccessTokenResponse struct {
	AccessToken string `json:"access_token"`
	// ExpiresAt is in epoch milliseconds.
	ExpiresAt int64 `json:"expires_at"`
}

type SessionTokenPayload struct {
	Owner   string   `json:"owner"`
	Renewer string   `json:"renewer,omitempty"`
	Target  string   `json:"target,omitempty"`
	Scopes  []string `json:"scopes"`
}

type SessionTokenResponse struct {
	SessionToken string `json:"session_token"`
	ExpiresAt    int64  `json:"expires_at"`
}

type RenewSessionTokenPayload struct {
	SessionToken string `json:"session_token"`
	// Extension is a Go duration, e.g. "24h". Empty uses the configured renew period.
	Extension string `json:"extension,omitempty"`
}

type RenewSessionTokenResponse struct {
	ExpiresAt int64 `json:"expires_at"`
}

type CancelSessionTokenPayload struct {
	SessionToken string `json:"session_token"`
}

type CancelSessionTokenResponse struct {
	Cancelled bool `json:"cancelled"`
}

type ExplainPayload struct {
	Principal string `json:"principal,omitempty"`
	ReplayID  string `json:"replay_id,omitempty"`
}

type TriggerTaskResponse struct {
	Status string `json:"status"`
}

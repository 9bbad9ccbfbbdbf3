package client

import (
	"context"
	"time"

	"github.com/darmiel/trustbroker/internal/api"
)

// SessionToken is an issued session token.
type SessionToken struct {
	Token     string
	ExpiresAt time.Time
}

// GetSessionToken issues a session token that can later mint access tokens for the owner.
func (c *Client) GetSessionToken(ctx context.Context, payload api.SessionTokenPayload) (*SessionToken, string, error) {
	var resp api.SessionTokenResponse
	correlation, err := c.post(ctx, c.url().
		setPath(api.SessionTokenRoute).
		build(), payload, &resp)
	if err != nil {
		return nil, correlation, err
	}
	return &SessionToken{
		Token:     resp.SessionToken,
		ExpiresAt: time.UnixMilli(resp.ExpiresAt),
	}, correlation, nil
}

// RenewSessionToken extends a session. A zero extension uses the server's renew period.
func (c *Client) RenewSessionToken(ctx context.Context, token string, extension time.Duration) (time.Time, string, error) {
	payload := api.RenewSessionTokenPayload{SessionToken: token}
	if extension > 0 {
		payload.Extension = extension.String()
	}
	var resp api.RenewSessionTokenResponse
	correlation, err := c.post(ctx, c.url().
		setPath(api.RenewSessionTokenRoute).
		build(), payload, &resp)
	if err != nil {
		return time.Time{}, correlation, err
	}
	return time.UnixMilli(resp.ExpiresAt), correlation, nil
}

func (c *Client) CancelSessionToken(ctx context.Context, token string) (string, error) {
	var resp api.CancelSessionTokenResponse
	return c.post(ctx, c.url().
		setPath(api.CancelSessionTokenRoute).
		build(), api.CancelSessionTokenPayload{SessionToken: token}, &resp)
}

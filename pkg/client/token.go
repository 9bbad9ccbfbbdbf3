package client

import (
	"context"
	"time"

	"github.com/darmiel/trustbroker/internal/api"
)

// AccessToken is a minted cloud access token.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

type AccessTokenOptions struct {
	// Owner is the principal the token is minted for. Empty when SessionToken is set.
	Owner  string
	Scopes []string

	// Target is the resource the token is restricted to when the access boundary is enabled.
	Target string

	// SessionToken authorizes the request instead of the client's credential.
	SessionToken string
}

// GetAccessToken requests an access token, either with the client's credential or with a session token.
func (c *Client) GetAccessToken(ctx context.Context, opts AccessTokenOptions) (*AccessToken, string, error) {
	req, err := c.newPost(ctx, c.url().
		setPath(api.AccessTokenRoute).
		build(), api.AccessTokenPayload{
		Owner:  opts.Owner,
		Scopes: opts.Scopes,
		Target: opts.Target,
	})
	if err != nil {
		return nil, "", err
	}
	if opts.SessionToken != "" {
		req.Header.Set("Authorization", api.SchemeBrokerSession+" "+opts.SessionToken)
	}

	var resp api.AccessTokenResponse
	correlation, err := c.do(req, &resp)
	if err != nil {
		return nil, correlation, err
	}
	return &AccessToken{
		Token:     resp.AccessToken,
		ExpiresAt: time.UnixMilli(resp.ExpiresAt),
	}, correlation, nil
}

package client

import (
	"context"

	"github.com/darmiel/trustbroker/internal/api"
	"github.com/darmiel/trustbroker/internal/core"
)

type ListAuditsOpts struct {
	Limit uint

	CorrelationID string
	Owner         string
	Action        string
	Fingerprint   string
}

// ListAudits retrieves the latest audit entries matching the filters.
func (c *Client) ListAudits(ctx context.Context, opts ListAuditsOpts) ([]core.AuditEntry, string, error) {
	ub := c.url().setPath(api.ListAuditsRoute)
	if opts.Limit > 0 {
		ub = ub.addQueryParam("limit", opts.Limit)
	}
	if opts.CorrelationID != "" {
		ub = ub.addQueryParam("correlation_id", opts.CorrelationID)
	}
	if opts.Owner != "" {
		ub = ub.addQueryParam("owner", opts.Owner)
	}
	if opts.Action != "" {
		ub = ub.addQueryParam("action", opts.Action)
	}
	if opts.Fingerprint != "" {
		ub = ub.addQueryParam("fingerprint", opts.Fingerprint)
	}
	var resp []core.AuditEntry
	correlation, err := c.get(ctx, ub.build(), &resp)
	return resp, correlation, err
}

// Explain returns the server-side user-mapping trace for a principal, or for the owner of
// the request with the given correlation id.
func (c *Client) Explain(ctx context.Context, opts api.ExplainPayload) (*core.MappingTrace, string, error) {
	var trace core.MappingTrace
	correlation, err := c.post(ctx, c.url().
		setPath(api.ExplainRoute).
		build(), opts, &trace)
	if err != nil {
		return nil, correlation, err
	}
	return &trace, correlation, nil
}

package service

import (
	"context"
	"slices"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/audit"
	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/logging"
	"github.com/darmiel/trustbroker/internal/mapping"
	"github.com/darmiel/trustbroker/internal/metrics"
	"github.com/darmiel/trustbroker/internal/proxy"
	"github.com/darmiel/trustbroker/internal/session"
	"github.com/darmiel/trustbroker/internal/tokencache"
)

// ProviderFunc returns the currently configured token provider.
type ProviderFunc func(ctx context.Context) (core.TokenProvider, error)

type Options struct {
	Provider ProviderFunc

	// AccessBoundary returns the live access boundary settings.
	AccessBoundary func() config.AccessBoundaryConfig

	Proxy    *proxy.Validator
	Mapping  *mapping.Manager
	Cache    *tokencache.Cache
	Sessions *session.Manager

	// Auditor defaults to a NoopAuditor.
	Auditor core.Auditor
	Metrics *metrics.Metrics
}

// Broker implements the broker operations independent of the transport.
// Callers are already authenticated; an empty caller means the request carries no
// credential besides an optional session token.
type Broker struct {
	provider ProviderFunc
	boundary func() config.AccessBoundaryConfig
	proxy    *proxy.Validator
	mapping  *mapping.Manager
	cache    *tokencache.Cache
	sessions *session.Manager
	auditor  core.Auditor
	metrics  *metrics.Metrics
}

func NewBroker(opts Options) *Broker {
	if opts.Auditor == nil {
		opts.Auditor = audit.NewNoopAuditor()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.AccessBoundary == nil {
		opts.AccessBoundary = func() config.AccessBoundaryConfig { return config.AccessBoundaryConfig{} }
	}
	return &Broker{
		provider: opts.Provider,
		boundary: opts.AccessBoundary,
		proxy:    opts.Proxy,
		mapping:  opts.Mapping,
		cache:    opts.Cache,
		sessions: opts.Sessions,
		auditor:  opts.Auditor,
		metrics:  opts.Metrics,
	}
}

// Auditor returns the auditor entries are written to.
func (b *Broker) Auditor() core.Auditor {
	return b.auditor
}

// GetAccessToken returns an access token for the mapped cloud identity of the owner.
func (b *Broker) GetAccessToken(ctx context.Context, caller core.Principal, req AccessTokenRequest) (resp *AccessTokenResponse, err error) {
	entry := b.newEntry(ctx, ActionAccessTokenGet, caller)
	entry.Owner = req.Owner
	entry.Scopes = req.Scopes
	entry.Target = req.Target
	start := time.Now()
	defer func() { b.finish(ctx, OpGetAccessToken, start, &entry, err) }()

	var (
		owner  core.Principal
		scopes []string
		target string
	)
	switch {
	case req.SessionToken != "" && req.Owner != "":
		return nil, core.InvalidArgument("Request must provide either `owner` or `session_token`, not both")
	case req.SessionToken != "":
		rec, err := b.sessions.Resolve(ctx, req.SessionToken)
		if err != nil {
			return nil, err
		}
		entry.SessionID = rec.ID
		if owner, scopes, target, err = b.fromSession(rec, req); err != nil {
			return nil, err
		}
	case caller == "":
		return nil, core.MissingParameter("session_token")
	case req.Owner == "":
		return nil, core.MissingParameter("owner")
	default:
		owner = req.Owner
		scopes = core.NormalizeScopes(req.Scopes)
		target = b.effectiveTarget(req.Target)
		if len(scopes) == 0 {
			return nil, core.MissingParameter("scopes")
		}
		if caller != owner {
			if err := b.proxy.ValidateImpersonator(ctx, caller, owner); err != nil {
				return nil, err
			}
		}
	}
	entry.Owner = owner
	entry.Scopes = scopes
	entry.Target = target

	log.Ctx(ctx).UpdateContext(func(c zerolog.Context) zerolog.Context {
		return c.Str("owner", owner.String())
	})

	identity, err := b.mapping.Engine().MapUser(ctx, owner)
	if err != nil {
		return nil, err
	}
	entry.Identity = identity

	tok, err := b.cache.Get(ctx, tokencache.Key{Identity: identity, Scopes: scopes, Target: target},
		func(ctx context.Context) (core.AccessToken, error) {
			provider, err := b.provider(ctx)
			if err != nil {
				return core.AccessToken{}, err
			}
			return provider.GetAccessToken(ctx, identity, scopes, target)
		})
	if err != nil {
		return nil, err
	}
	entry.TokenFingerprint = audit.Fingerprint(tok.Value)

	log.Ctx(ctx).Info().
		Str("identity", identity).
		Strs("scopes", scopes).
		Time("expires_at", tok.Expiry()).
		Msg("access token granted")

	return &AccessTokenResponse{
		AccessToken: tok.Value,
		ExpiresAt:   tok.ExpiresAt,
	}, nil
}

// fromSession derives owner, scopes and target of a session-authenticated request.
// Requested scopes must be a subset of the session scopes and a requested target must
// equal the session target.
func (b *Broker) fromSession(rec *core.SessionRecord, req AccessTokenRequest) (core.Principal, []string, string, error) {
	scopes := rec.Scopes
	if requested := core.NormalizeScopes(req.Scopes); len(requested) > 0 {
		for _, s := range requested {
			if !slices.Contains(rec.Scopes, s) {
				return "", nil, "", core.PermissionDenied("Scope `%s` is not granted by the session", s)
			}
		}
		scopes = requested
	}
	if len(scopes) == 0 {
		return "", nil, "", core.MissingParameter("scopes")
	}

	target := b.effectiveTarget(rec.Target)
	if requested := b.effectiveTarget(req.Target); requested != "" && requested != target {
		return "", nil, "", core.PermissionDenied("Target `%s` does not match the session target", requested)
	}
	return rec.Owner, scopes, target, nil
}

// effectiveTarget drops the target when the access boundary is disabled.
func (b *Broker) effectiveTarget(target string) string {
	if !b.boundary().Enabled {
		return ""
	}
	return target
}

// GetSessionToken issues a session for the owner. The caller must be allowed to impersonate
// the owner, and the owner must map to a cloud identity.
func (b *Broker) GetSessionToken(ctx context.Context, caller core.Principal, req SessionTokenRequest) (resp *SessionTokenResponse, err error) {
	entry := b.newEntry(ctx, ActionSessionIssue, caller)
	entry.Owner = req.Owner
	entry.Scopes = req.Scopes
	entry.Target = req.Target
	start := time.Now()
	defer func() { b.finish(ctx, OpGetSessionToken, start, &entry, err) }()

	if caller == "" {
		return nil, core.Unauthenticated(nil, "Missing credential")
	}
	if req.Owner == "" {
		return nil, core.MissingParameter("owner")
	}
	scopes := core.NormalizeScopes(req.Scopes)
	if len(scopes) == 0 {
		return nil, core.MissingParameter("scopes")
	}
	target := b.effectiveTarget(req.Target)
	entry.Scopes = scopes
	entry.Target = target

	if caller != req.Owner {
		if err := b.proxy.ValidateImpersonator(ctx, caller, req.Owner); err != nil {
			return nil, err
		}
	}
	identity, err := b.mapping.Engine().MapUser(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	entry.Identity = identity

	token, rec, err := b.sessions.Issue(ctx, session.IssueRequest{
		Owner:   req.Owner,
		Renewer: req.Renewer,
		Target:  target,
		Scopes:  scopes,
	})
	if err != nil {
		return nil, err
	}
	entry.SessionID = rec.ID

	return &SessionTokenResponse{
		SessionToken: token,
		ExpiresAt:    rec.ExpiresAt,
	}, nil
}

// RenewSessionToken extends a session. Only its renewer may renew it.
func (b *Broker) RenewSessionToken(ctx context.Context, caller core.Principal, req RenewSessionTokenRequest) (resp *RenewSessionTokenResponse, err error) {
	entry := b.newEntry(ctx, ActionSessionRenew, caller)
	start := time.Now()
	defer func() { b.finish(ctx, OpRenewSessionToken, start, &entry, err) }()

	if caller == "" {
		return nil, core.Unauthenticated(nil, "Missing credential")
	}
	if req.SessionToken == "" {
		return nil, core.MissingParameter("session_token")
	}

	expiresAt, err := b.sessions.Renew(ctx, caller, req.SessionToken, req.Extension)
	if err != nil {
		return nil, err
	}
	return &RenewSessionTokenResponse{ExpiresAt: expiresAt}, nil
}

// CancelSessionToken deletes a session. Only its owner may cancel it.
func (b *Broker) CancelSessionToken(ctx context.Context, caller core.Principal, req CancelSessionTokenRequest) (err error) {
	entry := b.newEntry(ctx, ActionSessionCancel, caller)
	start := time.Now()
	defer func() { b.finish(ctx, OpCancelSessionToken, start, &entry, err) }()

	if caller == "" {
		return core.Unauthenticated(nil, "Missing credential")
	}
	if req.SessionToken == "" {
		return core.MissingParameter("session_token")
	}
	return b.sessions.Cancel(ctx, caller, req.SessionToken)
}

func (b *Broker) newEntry(ctx context.Context, action string, caller core.Principal) core.AuditEntry {
	return core.AuditEntry{
		ID:     logging.CorrelationID(ctx),
		Time:   time.Now(),
		Action: action,
		Caller: caller,
	}
}

// finish records the outcome of an operation in the metrics and the audit trail.
func (b *Broker) finish(ctx context.Context, op string, start time.Time, entry *core.AuditEntry, err error) {
	logger := log.Ctx(ctx)

	code := "OK"
	if err != nil {
		kind := core.KindOf(err)
		code = kind.GRPCCode().String()
		entry.Kind = kind
		entry.Error = err.Error()

		event := logger.Warn()
		if kind == core.KindInternal {
			event = logger.Error()
		}
		event.Err(err).Str("operation", op).Str("kind", string(kind)).Msg("request failed")
	} else {
		entry.Granted = true
	}

	b.metrics.RequestsTotal.WithLabelValues(op, code).Inc()
	b.metrics.RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())

	if auditErr := b.auditor.Log(*entry); auditErr != nil {
		logger.Error().Err(auditErr).Str("action", entry.Action).Msg("failed to write audit log entry")
	}
}

package session

import (
	"context"
	"crypto/subtle"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/metrics"
)

// DefaultRenewAttempts bounds how often a renewal retries after losing a race.
const DefaultRenewAttempts = 5

// StoreFunc returns the currently configured session store.
type StoreFunc func(ctx context.Context) (core.SessionStore, error)

// EncrypterFunc returns the currently configured encryption backend.
type EncrypterFunc func(ctx context.Context) (core.Encrypter, error)

type Options struct {
	Store     StoreFunc
	Encrypter EncrypterFunc

	// Settings returns the live session settings.
	Settings func() config.SessionConfig

	Metrics *metrics.Metrics

	// Timeouts returns the live per-call backend timeouts. Zero values
	// fall back to config.DefaultBackendTimeout.
	Timeouts func() Timeouts

	// RenewAttempts defaults to DefaultRenewAttempts.
	RenewAttempts int

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Timeouts bound single calls to the session store and the encrypter.
type Timeouts struct {
	Store      time.Duration
	Encryption time.Duration
}

// Manager issues, resolves, renews and cancels session tokens.
//
// A session token carries the record id and the encrypted session payload.
// The store keeps the same encrypted bytes next to the mutable expiry, so a token
// is only accepted while its record exists and matches it exactly.
type Manager struct {
	store         StoreFunc
	encrypter     EncrypterFunc
	settings      func() config.SessionConfig
	timeouts      func() Timeouts
	metrics       *metrics.Metrics
	renewAttempts int
	now           func() time.Time
}

func NewManager(opts Options) *Manager {
	if opts.RenewAttempts <= 0 {
		opts.RenewAttempts = DefaultRenewAttempts
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	if opts.Timeouts == nil {
		opts.Timeouts = func() Timeouts { return Timeouts{} }
	}
	return &Manager{
		store:         opts.Store,
		encrypter:     opts.Encrypter,
		settings:      opts.Settings,
		timeouts:      opts.Timeouts,
		metrics:       opts.Metrics,
		renewAttempts: opts.RenewAttempts,
		now:           opts.Now,
	}
}

// IssueRequest describes a new session.
type IssueRequest struct {
	Owner   core.Principal
	Renewer core.Principal
	Target  string
	Scopes  []string
}

// Issue creates a session and returns its token and record.
func (m *Manager) Issue(ctx context.Context, req IssueRequest) (string, *core.SessionRecord, error) {
	if req.Owner == "" {
		return "", nil, core.MissingParameter("owner")
	}
	store, enc, err := m.backends(ctx)
	if err != nil {
		return "", nil, err
	}

	settings := m.settings()
	now := m.now()
	issuedAt := now.UnixMilli()
	expiresAt := min(now.Add(settings.RenewPeriod).UnixMilli(), now.Add(settings.MaxLifetime).UnixMilli())

	id := uuid.NewString()
	scopes := core.NormalizeScopes(req.Scopes)
	plain, err := encodePayload(payload{
		ID:        id,
		Owner:     req.Owner.String(),
		Renewer:   req.Renewer.String(),
		Target:    req.Target,
		Scopes:    scopes,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", nil, core.Internal(err, "Failed to encode session")
	}

	encCtx, cancel := m.encryptionCall(ctx)
	sealed, err := enc.Encrypt(encCtx, plain, []byte(id))
	cancel()
	if err != nil {
		return "", nil, core.FromBackend(err, "Session encryption")
	}

	rec := &core.SessionRecord{
		ID:               id,
		Owner:            req.Owner,
		Renewer:          req.Renewer,
		Target:           req.Target,
		Scopes:           scopes,
		IssuedAt:         issuedAt,
		ExpiresAt:        expiresAt,
		EncryptedPayload: sealed,
	}
	storeCtx, cancel := m.storeCall(ctx)
	defer cancel()
	if err := store.Create(storeCtx, rec); err != nil {
		return "", nil, core.FromBackend(err, "Session store")
	}

	token, err := encodeToken(id, sealed)
	if err != nil {
		return "", nil, core.Internal(err, "Failed to encode session token")
	}

	log.Ctx(ctx).Info().
		Str("session_id", id).
		Str("owner", req.Owner.String()).
		Time("expires_at", time.UnixMilli(expiresAt)).
		Msg("session issued")
	return token, rec, nil
}

// Resolve returns the live record of a token.
func (m *Manager) Resolve(ctx context.Context, token string) (*core.SessionRecord, error) {
	rec, err := m.open(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.ExpiredAt(m.now()) {
		return nil, core.Expired("Session token expired")
	}
	return rec, nil
}

// Renew extends the session by extension (the renew period when zero) and returns the new expiry
// in epoch milliseconds. The expiry never moves backwards and never passes the maximum lifetime.
func (m *Manager) Renew(ctx context.Context, caller core.Principal, token string, extension time.Duration) (int64, error) {
	if extension < 0 {
		return 0, core.InvalidArgument("Renewal extension must not be negative")
	}
	rec, err := m.Resolve(ctx, token)
	if err != nil {
		return 0, err
	}
	if caller != rec.EffectiveRenewer() {
		return 0, core.PermissionDenied("Principal `%s` is not allowed to renew this session", caller)
	}

	settings := m.settings()
	if extension == 0 {
		extension = settings.RenewPeriod
	}
	store, err := m.store(ctx)
	if err != nil {
		return 0, err
	}

	for attempt := 0; attempt < m.renewAttempts; attempt++ {
		limit := rec.IssuedAt + settings.MaxLifetime.Milliseconds()
		wanted := min(m.now().Add(extension).UnixMilli(), limit)
		next := max(rec.ExpiresAt, wanted)
		if next == rec.ExpiresAt {
			return next, nil
		}

		callCtx, cancel := m.storeCall(ctx)
		ok, err := store.CompareAndSwapExpiry(callCtx, rec.ID, rec.ExpiresAt, next)
		cancel()
		if err != nil {
			return 0, core.FromBackend(err, "Session store")
		}
		if ok {
			log.Ctx(ctx).Info().
				Str("session_id", rec.ID).
				Time("expires_at", time.UnixMilli(next)).
				Msg("session renewed")
			return next, nil
		}

		m.metrics.SessionRenewConflictsTotal.Inc()
		callCtx, cancel = m.storeCall(ctx)
		rec, err = store.Get(callCtx, rec.ID)
		cancel()
		if err != nil {
			if errors.Is(err, core.ErrRecordNotFound) {
				return 0, core.NotFound("Session token not found")
			}
			return 0, core.FromBackend(err, "Session store")
		}
		if rec.ExpiredAt(m.now()) {
			return 0, core.Expired("Session token expired")
		}
	}

	return 0, core.Unavailable(nil, "Session renewal conflicted with concurrent updates")
}

// Cancel deletes the session. Only the owner may cancel, also after expiry.
func (m *Manager) Cancel(ctx context.Context, caller core.Principal, token string) error {
	rec, err := m.open(ctx, token)
	if err != nil {
		return err
	}
	if caller != rec.Owner {
		return core.PermissionDenied("Principal `%s` is not allowed to cancel this session", caller)
	}

	store, err := m.store(ctx)
	if err != nil {
		return err
	}
	callCtx, cancel := m.storeCall(ctx)
	defer cancel()
	if err := store.Delete(callCtx, rec.ID); err != nil {
		if errors.Is(err, core.ErrRecordNotFound) {
			return core.NotFound("Session token not found")
		}
		return core.FromBackend(err, "Session store")
	}

	log.Ctx(ctx).Info().Str("session_id", rec.ID).Msg("session cancelled")
	return nil
}

// SweepExpired removes all expired records and returns how many were removed.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	store, err := m.store(ctx)
	if err != nil {
		return 0, err
	}
	callCtx, cancel := m.storeCall(ctx)
	defer cancel()
	n, err := store.DeleteExpired(callCtx, m.now().UnixMilli())
	if err != nil {
		return 0, core.FromBackend(err, "Session store")
	}
	m.metrics.SessionsSweptTotal.Add(float64(n))
	return n, nil
}

// open authenticates the token against its record without checking expiry.
func (m *Manager) open(ctx context.Context, token string) (*core.SessionRecord, error) {
	env, err := decodeToken(token)
	if err != nil {
		return nil, core.Unauthenticated(err, "Invalid session token")
	}

	store, enc, err := m.backends(ctx)
	if err != nil {
		return nil, err
	}

	encCtx, cancel := m.encryptionCall(ctx)
	plain, err := enc.Decrypt(encCtx, env.Sealed, []byte(env.ID))
	cancel()
	if err != nil {
		if errors.Is(err, core.ErrDecryption) {
			return nil, core.Unauthenticated(err, "Invalid session token")
		}
		return nil, core.FromBackend(err, "Session decryption")
	}
	p, err := decodePayload(plain)
	if err != nil || p.ID != env.ID {
		return nil, core.Unauthenticated(err, "Invalid session token")
	}

	storeCtx, cancel := m.storeCall(ctx)
	defer cancel()
	rec, err := store.Get(storeCtx, env.ID)
	if err != nil {
		if errors.Is(err, core.ErrRecordNotFound) {
			return nil, core.NotFound("Session token not found")
		}
		return nil, core.FromBackend(err, "Session store")
	}
	if subtle.ConstantTimeCompare(rec.EncryptedPayload, env.Sealed) != 1 {
		return nil, core.Unauthenticated(nil, "Invalid session token")
	}
	return rec, nil
}

func (m *Manager) backends(ctx context.Context) (core.SessionStore, core.Encrypter, error) {
	store, err := m.store(ctx)
	if err != nil {
		return nil, nil, err
	}
	enc, err := m.encrypter(ctx)
	if err != nil {
		return nil, nil, err
	}
	return store, enc, nil
}

func (m *Manager) storeCall(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, m.timeouts().Store)
}

func (m *Manager) encryptionCall(ctx context.Context) (context.Context, context.CancelFunc) {
	return withTimeout(ctx, m.timeouts().Encryption)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = config.DefaultBackendTimeout
	}
	return context.WithTimeout(ctx, d)
}

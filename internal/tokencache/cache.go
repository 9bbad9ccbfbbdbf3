package tokencache

import (
	"context"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/metrics"
)

// MintFunc obtains a fresh token from the provider.
type MintFunc func(ctx context.Context) (core.AccessToken, error)

type Options struct {
	// Size bounds the number of cached tokens.
	Size int

	// SafetyMargin treats a token as expired this long before its actual expiry.
	SafetyMargin time.Duration

	// MintTimeout bounds a single provider call.
	MintTimeout time.Duration

	Metrics *metrics.Metrics

	// Now is the clock; time.Now when nil.
	Now func() time.Time
}

// Cache holds live access tokens by fingerprint and makes sure at most one mint
// per fingerprint is in flight. Failed mints are never cached.
type Cache struct {
	entries *lru.Cache[string, core.AccessToken]
	group   singleflight.Group

	safetyMargin time.Duration
	mintTimeout  time.Duration
	metrics      *metrics.Metrics
	now          func() time.Time
}

func New(opts Options) (*Cache, error) {
	entries, err := lru.New[string, core.AccessToken](opts.Size)
	if err != nil {
		return nil, fmt.Errorf("create token cache: %w", err)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	return &Cache{
		entries:      entries,
		safetyMargin: opts.SafetyMargin,
		mintTimeout:  opts.MintTimeout,
		metrics:      opts.Metrics,
		now:          opts.Now,
	}, nil
}

// Get returns a live cached token for key or mints one.
// Concurrent callers with the same key share one mint. The mint is not cancelled
// when a caller gives up, so the remaining callers still get its result.
func (c *Cache) Get(ctx context.Context, key Key, mint MintFunc) (core.AccessToken, error) {
	fp := key.Fingerprint()
	logger := log.Ctx(ctx).With().Str("fingerprint", fp[:16]).Logger()

	if tok, ok := c.lookup(fp); ok {
		c.metrics.CacheLookupsTotal.WithLabelValues(metrics.ResultHit).Inc()
		logger.Debug().Msg("access token cache hit")
		return tok, nil
	}
	c.metrics.CacheLookupsTotal.WithLabelValues(metrics.ResultMiss).Inc()

	ch := c.group.DoChan(fp, func() (any, error) {
		// a mint for this key may have finished since the lookup above
		if tok, ok := c.lookup(fp); ok {
			return tok, nil
		}
		return c.mint(ctx, fp, mint)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return core.AccessToken{}, core.FromBackend(res.Err, "Access token provider")
		}
		if res.Shared {
			logger.Debug().Msg("joined in-flight access token mint")
		}
		return res.Val.(core.AccessToken), nil
	case <-ctx.Done():
		return core.AccessToken{}, core.Unavailable(ctx.Err(), "Request cancelled while waiting for access token")
	}
}

func (c *Cache) mint(ctx context.Context, fp string, mint MintFunc) (core.AccessToken, error) {
	mctx := context.WithoutCancel(ctx)
	if c.mintTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(mctx, c.mintTimeout)
		defer cancel()
	}

	start := time.Now()
	tok, err := mint(mctx)
	c.metrics.ProviderMintDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		c.metrics.ProviderMintsTotal.WithLabelValues(metrics.ResultFailure).Inc()
		log.Ctx(ctx).Warn().Err(err).Msg("access token mint failed")
		return core.AccessToken{}, err
	}
	c.metrics.ProviderMintsTotal.WithLabelValues(metrics.ResultSuccess).Inc()

	if c.live(tok) {
		c.entries.Add(fp, tok)
	}
	return tok, nil
}

func (c *Cache) lookup(fp string) (core.AccessToken, bool) {
	tok, ok := c.entries.Get(fp)
	if !ok {
		return core.AccessToken{}, false
	}
	if !c.live(tok) {
		c.entries.Remove(fp)
		return core.AccessToken{}, false
	}
	return tok, true
}

// live reports whether tok is still usable for at least the safety margin.
func (c *Cache) live(tok core.AccessToken) bool {
	return c.now().Add(c.safetyMargin).UnixMilli() < tok.ExpiresAt
}

// Len returns the number of cached tokens, including ones not yet evicted after expiry.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Purge drops all cached tokens.
func (c *Cache) Purge() {
	c.entries.Purge()
}

// PurgeOnProviderChange returns a configuration reload hook that drops all cached
// tokens once the token provider type differs from the last one seen, starting at current.
// Tokens minted by a replaced provider are never served afterwards.
func (c *Cache) PurgeOnProviderChange(current string) func(*config.Config) error {
	var mu sync.Mutex
	last := current
	return func(cfg *config.Config) error {
		mu.Lock()
		defer mu.Unlock()

		if cfg.Provider.Type == last {
			return nil
		}
		dropped := c.Len()
		c.Purge()
		log.Info().
			Str("old", last).
			Str("new", cfg.Provider.Type).
			Int("dropped", dropped).
			Msg("token provider changed, cached tokens purged")
		last = cfg.Provider.Type
		return nil
	}
}

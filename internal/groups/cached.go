package groups

import (
	"context"
	"slices"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/core"
)

// CachedResolver caches the memberships returned by another resolver for a fixed TTL.
// Lookup failures are not cached.
type CachedResolver struct {
	next  core.GroupResolver
	cache *expirable.LRU[string, []string]
}

var _ core.GroupResolver = (*CachedResolver)(nil)

func NewCached(next core.GroupResolver, size int, ttl time.Duration) *CachedResolver {
	return &CachedResolver{
		next:  next,
		cache: expirable.NewLRU[string, []string](size, nil, ttl),
	}
}

func (c *CachedResolver) GroupsOf(ctx context.Context, member string) ([]string, error) {
	if groups, ok := c.cache.Get(member); ok {
		return slices.Clone(groups), nil
	}

	groups, err := c.next.GroupsOf(ctx, member)
	if err != nil {
		return nil, err
	}

	c.cache.Add(member, slices.Clone(groups))
	log.Ctx(ctx).Debug().
		Str("member", member).
		Strs("groups", groups).
		Msg("resolved group memberships")
	return groups, nil
}

// Purge drops all cached memberships, e.g. after the group table changed.
func (c *CachedResolver) Purge() {
	c.cache.Purge()
}

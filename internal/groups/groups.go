package groups

import (
	"context"
	"fmt"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
)

// FromConfig builds the resolver described by the groups configuration.
// A positive cache TTL puts a membership cache in front of it.
func FromConfig(ctx context.Context, cfg config.GroupsConfig) (core.GroupResolver, error) {
	var resolver core.GroupResolver
	switch cfg.Type {
	case "", StaticType:
		resolver = NewStatic(cfg.Members)
	case DirectoryType:
		dir, err := DirectoryFromConfig(ctx, cfg)
		if err != nil {
			return nil, err
		}
		resolver = dir
	default:
		return nil, fmt.Errorf("unknown groups type %q (supported: %s, %s)", cfg.Type, StaticType, DirectoryType)
	}

	if cfg.CacheTTL <= 0 {
		return resolver, nil
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = config.DefaultGroupsCache
	}
	return NewCached(resolver, size, cfg.CacheTTL), nil
}

package groups

import (
	"context"
	"slices"

	"github.com/darmiel/trustbroker/internal/core"
)

const StaticType = "static"

// StaticResolver resolves memberships from a fixed group -> members table.
// Members are cloud identities, the same strings mapping rules produce.
type StaticResolver struct {
	byMember map[string][]string
}

var _ core.GroupResolver = (*StaticResolver)(nil)

// NewStatic inverts the group -> members table into a member -> groups index.
func NewStatic(members map[string][]string) *StaticResolver {
	byMember := make(map[string][]string)
	for group, identities := range members {
		for _, id := range identities {
			byMember[id] = append(byMember[id], group)
		}
	}
	for id := range byMember {
		slices.Sort(byMember[id])
		byMember[id] = slices.Compact(byMember[id])
	}
	return &StaticResolver{byMember: byMember}
}

func (s *StaticResolver) GroupsOf(_ context.Context, member string) ([]string, error) {
	return slices.Clone(s.byMember[member]), nil
}

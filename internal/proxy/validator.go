package proxy

import (
	"context"
	"slices"

	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/core"
)

// RuleSource returns the current proxy rules. It is called on every validation,
// so rule changes from a configuration reload apply to the next request.
type RuleSource func() []core.ProxyRule

// Mapper maps a principal to its cloud identity.
type Mapper interface {
	MapUser(ctx context.Context, principal core.Principal) (string, error)
}

// Validator decides whether a proxy principal may act on behalf of another principal.
// Allow-listed users and groups are cloud identities: the target principal is mapped
// before it is compared against a rule.
type Validator struct {
	rules  RuleSource
	mapper Mapper
	groups core.GroupResolver
}

func NewValidator(rules RuleSource, mapper Mapper, groups core.GroupResolver) *Validator {
	return &Validator{
		rules:  rules,
		mapper: mapper,
		groups: groups,
	}
}

// ValidateImpersonator returns nil if proxy may impersonate target.
// A denial is a PermissionDenied error. Group lookup failures are classified
// as backend errors, never as a denial.
func (v *Validator) ValidateImpersonator(ctx context.Context, proxy, target core.Principal) error {
	logger := log.Ctx(ctx).With().
		Str("proxy", proxy.String()).
		Str("target", target.String()).
		Logger()

	rule, ok := v.findRule(proxy)
	if !ok {
		logger.Debug().Msg("no proxy rule for caller")
		return denied(proxy, target)
	}

	if rule.AllowsAnyUser() {
		logger.Debug().Msg("impersonation allowed by user wildcard")
		return nil
	}
	if rule.AllowsAnyGroup() {
		logger.Debug().Msg("impersonation allowed by group wildcard")
		return nil
	}
	if len(rule.Users) == 0 && len(rule.Groups) == 0 {
		return denied(proxy, target)
	}

	identity, err := v.mapper.MapUser(ctx, target)
	if err != nil {
		if core.IsKind(err, core.KindPermissionDenied) {
			logger.Debug().Err(err).Msg("target has no cloud identity")
			return denied(proxy, target)
		}
		return err
	}
	logger = logger.With().Str("identity", identity).Logger()

	if slices.Contains(rule.Users, identity) {
		logger.Debug().Msg("impersonation allowed by user list")
		return nil
	}
	if len(rule.Groups) == 0 {
		return denied(proxy, target)
	}

	memberships, err := v.groups.GroupsOf(ctx, identity)
	if err != nil {
		logger.Warn().Err(err).Msg("group lookup failed")
		return core.FromBackend(err, "Group lookup")
	}
	for _, g := range memberships {
		if slices.Contains(rule.Groups, g) {
			logger.Debug().Str("group", g).Msg("impersonation allowed by group membership")
			return nil
		}
	}

	return denied(proxy, target)
}

func (v *Validator) findRule(proxy core.Principal) (core.ProxyRule, bool) {
	for _, r := range v.rules() {
		if r.Proxy == proxy {
			return r, true
		}
	}
	return core.ProxyRule{}, false
}

func denied(proxy, target core.Principal) error {
	return core.PermissionDenied("Impersonation of `%s` by `%s` is not allowed", target, proxy)
}

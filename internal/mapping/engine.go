package mapping

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/expr-lang/expr"
	"github.com/rs/zerolog/log"

	"github.com/darmiel/trustbroker/internal/config"
	"github.com/darmiel/trustbroker/internal/core"
	"github.com/darmiel/trustbroker/internal/validation"
)

type compiledRule struct {
	core.MappingRule
	then *template.Template
}

// Engine maps authenticated principals to cloud identities using an ordered rule list.
// An Engine is immutable; the Manager swaps engines when the configuration changes.
type Engine struct {
	rules   []compiledRule
	project string
	domain  string
}

// New compiles the rules. Rule order is preserved, the first matching rule wins.
func New(cfg config.MappingConfig) (*Engine, error) {
	valid, err := validation.ValidateMappingRules(cfg.Rules)
	if err != nil {
		return nil, err
	}

	rules := make([]compiledRule, 0, len(valid))
	for _, r := range valid {
		tmpl, err := validation.ParseTemplate(r.Name, r.Then)
		if err != nil {
			return nil, fmt.Errorf("parsing 'then' for rule '%s': %w", r.Name, err)
		}
		rules = append(rules, compiledRule{MappingRule: r, then: tmpl})
	}

	return &Engine{
		rules:   rules,
		project: cfg.Project,
		domain:  cfg.Domain,
	}, nil
}

// Context builds the values rules are evaluated against.
func (e *Engine) Context(principal core.Principal) core.MappingContext {
	name := principal.Parse()
	return core.MappingContext{
		Principal: principal.String(),
		Primary:   name.Primary,
		Instance:  name.Instance,
		Realm:     name.Realm,
		Project:   e.project,
		Domain:    e.domain,
	}
}

// MapUser returns the cloud identity of the first rule matching principal.
// It fails with PermissionDenied if no rule matches, and with an internal error
// if a rule cannot be evaluated before one matched.
func (e *Engine) MapUser(ctx context.Context, principal core.Principal) (string, error) {
	mctx := e.Context(principal)

	for _, rule := range e.rules {
		res := checkRule(rule, mctx)
		if res.Err != nil {
			log.Ctx(ctx).Warn().Err(res.Err).
				Str("rule", rule.Name).
				Str("principal", principal.String()).
				Msg("mapping rule failed to evaluate")
			return "", core.Internal(res.Err, "Failed to evaluate mapping rule `%s`", rule.Name)
		}
		if !res.Matched {
			continue
		}
		identity, err := render(rule, mctx)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("rule", rule.Name).Msg("failed to render mapping rule")
			return "", core.Internal(err, "Failed to map principal `%s`", principal)
		}
		log.Ctx(ctx).Debug().
			Str("rule", rule.Name).
			Str("identity", identity).
			Msg("principal mapped")
		return identity, nil
	}

	return "", core.PermissionDenied("Principal `%s` cannot be matched to a cloud identity", principal)
}

// Trace evaluates every rule and reports why each matched or not.
func (e *Engine) Trace(principal core.Principal) core.MappingTrace {
	mctx := e.Context(principal)
	trace := core.MappingTrace{
		Principal:   principal,
		Name:        principal.Parse(),
		RuleResults: make([]core.RuleResult, 0, len(e.rules)),
	}

	failed := false
	for _, rule := range e.rules {
		res := checkRule(rule, mctx)
		// MapUser stops at a failing rule, so later rules cannot map
		if res.Err != nil && !trace.Mapped {
			failed = true
		}
		trace.RuleResults = append(trace.RuleResults, core.RuleResult{
			RuleName:         rule.Name,
			Description:      rule.Description,
			Matched:          res.Matched,
			ConditionResults: res.Conditions,
		})
		if res.Matched && !trace.Mapped && !failed {
			identity, err := render(rule, mctx)
			if err != nil {
				continue
			}
			trace.Mapped = true
			trace.MatchedRule = rule.Name
			trace.Identity = identity
		}
	}
	return trace
}

// Rules returns the names of the loaded rules in evaluation order.
func (e *Engine) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}

func evalIf(rule compiledRule, mctx core.MappingContext) (bool, error) {
	if rule.CompiledIf == nil {
		return true, nil
	}
	out, err := expr.Run(rule.CompiledIf, mctx)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, not bool", out)
	}
	return b, nil
}

func render(rule compiledRule, mctx core.MappingContext) (string, error) {
	var sb strings.Builder
	if err := rule.then.Execute(&sb, mctx); err != nil {
		return "", err
	}
	identity := strings.TrimSpace(sb.String())
	if identity == "" {
		return "", fmt.Errorf("rule '%s' rendered an empty identity", rule.Name)
	}
	return identity, nil
}

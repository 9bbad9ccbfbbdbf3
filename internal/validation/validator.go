package validation

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/darmiel/trustbroker/internal/core"
)

// CompileCondition compiles a mapping rule "if" expression against the mapping context.
func CompileCondition(code string) (*vm.Program, error) {
	return expr.Compile(code, expr.Env(core.MappingContext{}), expr.AsBool())
}

// ParseTemplate parses a mapping rule "then" template. Only fields of core.MappingContext
// can be referenced, anything else fails when the template is checked or executed.
func ParseTemplate(name, text string) (*template.Template, error) {
	return template.New(name).Option("missingkey=error").Parse(text)
}

// ValidateMappingRules checks the ordered mapping rules and compiles their conditions.
func ValidateMappingRules(rules []core.MappingRule) ([]core.MappingRule, error) {
	seenNames := make(map[string]struct{})
	validRules := make([]core.MappingRule, 0, len(rules))

	for i, rule := range rules {
		if rule.Name == "" {
			rule.Name = fmt.Sprintf("rule-%d", i)
		}
		if _, exists := seenNames[rule.Name]; exists {
			return nil, fmt.Errorf("rule name '%s' is not unique", rule.Name)
		}
		seenNames[rule.Name] = struct{}{}

		if strings.TrimSpace(rule.If) == "" && rule.Condition == nil {
			return nil, fmt.Errorf("rule '%s' has neither 'if' nor 'condition' set; use if: \"true\" to match everything", rule.Name)
		}
		if rule.If != "" {
			out, err := CompileCondition(rule.If)
			if err != nil {
				return nil, fmt.Errorf("compiling 'if' for rule '%s': %w", rule.Name, err)
			}
			rule.CompiledIf = out
		}
		if rule.Condition != nil {
			if err := rule.Condition.Validate(); err != nil {
				return nil, fmt.Errorf("validating condition for rule '%s': %w", rule.Name, err)
			}
		}

		if strings.TrimSpace(rule.Then) == "" {
			return nil, fmt.Errorf("rule '%s' missing 'then'", rule.Name)
		}
		tmpl, err := ParseTemplate(rule.Name, rule.Then)
		if err != nil {
			return nil, fmt.Errorf("parsing 'then' for rule '%s': %w", rule.Name, err)
		}
		// a dry run catches references to unknown placeholders at load time
		if err := tmpl.Execute(&strings.Builder{}, core.MappingContext{}); err != nil {
			return nil, fmt.Errorf("checking 'then' for rule '%s': %w", rule.Name, err)
		}

		validRules = append(validRules, rule)
	}

	return validRules, nil
}

// ValidateProxyRules checks that every proxy rule names a proxy that appears only once.
func ValidateProxyRules(rules []core.ProxyRule) error {
	seen := make(map[core.Principal]struct{})
	for i, rule := range rules {
		if rule.Proxy == "" {
			return fmt.Errorf("proxy rule #%d missing 'proxy'", i)
		}
		if _, exists := seen[rule.Proxy]; exists {
			return fmt.Errorf("proxy '%s' is defined more than once", rule.Proxy)
		}
		seen[rule.Proxy] = struct{}{}
		for _, u := range rule.Users {
			if strings.TrimSpace(u) == "" {
				return fmt.Errorf("proxy '%s' has an empty user entry", rule.Proxy)
			}
		}
		for _, g := range rule.Groups {
			if strings.TrimSpace(g) == "" {
				return fmt.Errorf("proxy '%s' has an empty group entry", rule.Proxy)
			}
		}
	}
	return nil
}

package mapping

import (
	"fmt"
	"strings"

	"github.com/darmiel/trustbroker/internal/core"
)

// ruleResult is a simplified result of rule evaluation
type ruleResult struct {
	Matched    bool
	Conditions []core.ConditionResult

	// Err is set when the "if" expression failed at runtime.
	Err error
}

// checkRule evaluates the "if" expression and the structured condition of a rule.
// Both must hold.
func checkRule(rule compiledRule, mctx core.MappingContext) ruleResult {
	result := ruleResult{
		Matched:    true, // fail on any mismatch
		Conditions: []core.ConditionResult{},
	}

	if rule.If != "" {
		ok, err := evalIf(rule, mctx)
		switch {
		case err != nil:
			result.Matched = false
			result.Err = err
			result.Conditions = append(result.Conditions, core.ConditionResult{
				Expression: rule.If,
				Reason:     fmt.Sprintf("error evaluating expression: %v", err),
			})
		case !ok:
			result.Matched = false
			result.Conditions = append(result.Conditions, core.ConditionResult{
				Expression: rule.If,
				Reason:     "expression evaluated to false",
			})
		default:
			result.Conditions = append(result.Conditions, core.ConditionResult{
				Expression: rule.If,
				Matched:    true,
			})
		}
	}

	if rule.Condition != nil {
		cr := evaluateCondition(*rule.Condition, mctx.Attributes())
		if !cr.Matched {
			result.Matched = false
		}
		flattenConditionResult(&result.Conditions, cr, 0)
	}

	return result
}

func flattenConditionResult(out *[]core.ConditionResult, cr core.ConditionResult, depth int) {
	indent := strings.Repeat("  ", depth)

	if cr.Expression != "" {
		*out = append(*out, core.ConditionResult{
			Expression: indent + cr.Expression,
			Matched:    cr.Matched,
			Reason:     cr.Reason,
		})
		return
	}

	if cr.Label != "" {
		*out = append(*out, core.ConditionResult{
			Expression: indent + "[" + cr.Label + "]",
			Matched:    cr.Matched,
		})
	}

	for _, child := range cr.Children {
		flattenConditionResult(out, child, depth+1)
	}
}

func evaluateCondition(cond core.Condition, attributes map[string]any) core.ConditionResult {
	if len(cond.All) > 0 {
		res := core.ConditionResult{
			Matched: true,
			Label:   "AND",
		}
		for _, child := range cond.All {
			cr := evaluateCondition(child, attributes)
			res.Children = append(res.Children, cr)
			if !cr.Matched {
				res.Matched = false
			}
		}
		return res
	}

	if len(cond.Any) > 0 {
		res := core.ConditionResult{
			Matched: false,
			Label:   "OR",
		}
		for _, child := range cond.Any {
			cr := evaluateCondition(child, attributes)
			res.Children = append(res.Children, cr)
			if cr.Matched {
				res.Matched = true
			}
		}
		return res
	}

	if cond.Not != nil {
		cr := evaluateCondition(*cond.Not, attributes)
		return core.ConditionResult{
			Matched:  !cr.Matched,
			Label:    "NOT",
			Children: []core.ConditionResult{cr},
		}
	}

	if cond.Key != "" {
		passed, reason := evaluateLeaf(cond, attributes)
		return core.ConditionResult{
			Matched:    passed,
			Expression: fmt.Sprintf("%s %s %v", cond.Key, cond.Operator, cond.Value),
			Reason:     reason,
		}
	}

	return core.ConditionResult{
		Matched: true,
		Label:   "(empty)",
	}
}

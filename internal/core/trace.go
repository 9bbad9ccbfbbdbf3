package core

// MappingTrace captures the detailed trace of a user-mapping evaluation.
type MappingTrace struct {
	// Principal being evaluated.
	Principal Principal `yaml:"principal" json:"principal"`

	// Name is the parsed principal.
	Name PrincipalName `yaml:"name" json:"name"`

	// RuleResults contains the result of every rule evaluated.
	RuleResults []RuleResult `yaml:"rule_results" json:"rule_results"`

	// Mapped indicates whether a rule matched.
	Mapped bool `yaml:"mapped" json:"mapped"`

	// MatchedRule is the name of the first rule that matched, if any.
	MatchedRule string `yaml:"matched_rule,omitempty" json:"matched_rule,omitempty"`

	// Identity is the rendered cloud identity of MatchedRule.
	Identity string `yaml:"identity,omitempty" json:"identity,omitempty"`
}

// RuleResult captures why a specific rule matched or failed.
type RuleResult struct {
	RuleName         string            `yaml:"rule_name" json:"rule_name"`
	Description      string            `yaml:"description" json:"description"`
	Matched          bool              `yaml:"matched" json:"matched"`
	ConditionResults []ConditionResult `json:"condition_results,omitempty"`
}

package mapping

import (
	"testing"

	"github.com/darmiel/trustbroker/internal/core"
)

func TestEvaluateCondition(t *testing.T) {
	tests := []struct {
		name       string
		condition  core.Condition
		attributes map[string]any
		want       bool
	}{
		// --- Basic Operators ---
		{
			name:       "OpEqual - Match String",
			condition:  core.Condition{Key: "realm", Operator: core.OpEqual, Value: "EXAMPLE.COM"},
			attributes: map[string]any{"realm": "EXAMPLE.COM"},
			want:       true,
		},
		{
			name:       "OpEqual - Mismatch String",
			condition:  core.Condition{Key: "realm", Operator: core.OpEqual, Value: "EXAMPLE.COM"},
			attributes: map[string]any{"realm": "OTHER.ORG"},
			want:       false,
		},
		{
			name:       "OpNotEqual",
			condition:  core.Condition{Key: "realm", Operator: core.OpNotEqual, Value: "EXAMPLE.COM"},
			attributes: map[string]any{"realm": "OTHER.ORG"},
			want:       true,
		},
		{
			name:       "OpExists - True",
			condition:  core.Condition{Key: "instance", Operator: core.OpExists},
			attributes: map[string]any{"instance": "testhost"},
			want:       true,
		},
		{
			name:       "OpExists - False",
			condition:  core.Condition{Key: "instance", Operator: core.OpExists},
			attributes: map[string]any{"primary": "alice"},
			want:       false,
		},
		{
			name:       "OpNotExists",
			condition:  core.Condition{Key: "instance", Operator: core.OpNotExists},
			attributes: map[string]any{"primary": "alice"},
			want:       true,
		},

		// --- Contains / In ---
		{
			name:       "OpContains - String contains Substring",
			condition:  core.Condition{Key: "primary", Operator: core.OpContains, Value: "etl"},
			attributes: map[string]any{"primary": "svc-etl"},
			want:       true,
		},
		{
			name:       "OpIn - Value in Allowed List",
			condition:  core.Condition{Key: "realm", Operator: core.OpIn, Value: []any{"A.COM", "EXAMPLE.COM"}},
			attributes: map[string]any{"realm": "EXAMPLE.COM"},
			want:       true,
		},
		{
			name:       "OpIn - Value NOT in List",
			condition:  core.Condition{Key: "realm", Operator: core.OpIn, Value: []string{"A.COM"}},
			attributes: map[string]any{"realm": "EXAMPLE.COM"},
			want:       false,
		},
		{
			name:       "OpNotIn",
			condition:  core.Condition{Key: "primary", Operator: core.OpNotIn, Value: []string{"root", "admin"}},
			attributes: map[string]any{"primary": "alice"},
			want:       true,
		},
		{
			name:       "OpMatches",
			condition:  core.Condition{Key: "primary", Operator: core.OpMatches, Value: "^svc-"},
			attributes: map[string]any{"primary": "svc-etl"},
			want:       true,
		},
		{
			name:       "OpMatches - No Match",
			condition:  core.Condition{Key: "primary", Operator: core.OpMatches, Value: "^svc-"},
			attributes: map[string]any{"primary": "alice"},
			want:       false,
		},

		// --- Logic Gates (AND/OR/NOT) ---
		{
			name: "Logic - AND (One Fail)",
			condition: core.Condition{
				All: []core.Condition{
					{Key: "primary", Operator: core.OpEqual, Value: "alice"},
					{Key: "realm", Operator: core.OpEqual, Value: "OTHER.ORG"},
				},
			},
			attributes: map[string]any{"primary": "alice", "realm": "EXAMPLE.COM"},
			want:       false,
		},
		{
			name: "Logic - OR (One Pass)",
			condition: core.Condition{
				Any: []core.Condition{
					{Key: "primary", Operator: core.OpEqual, Value: "bob"},
					{Key: "realm", Operator: core.OpEqual, Value: "EXAMPLE.COM"},
				},
			},
			attributes: map[string]any{"primary": "alice", "realm": "EXAMPLE.COM"},
			want:       true,
		},
		{
			name: "Logic - NOT (Invert)",
			condition: core.Condition{
				Not: &core.Condition{Key: "instance", Operator: core.OpExists},
			},
			attributes: map[string]any{"primary": "alice"},
			want:       true,
		},
		{
			name:       "Unknown Operator",
			condition:  core.Condition{Key: "primary", Operator: "startswith", Value: "a"},
			attributes: map[string]any{"primary": "alice"},
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := evaluateCondition(tt.condition, tt.attributes)
			if got.Matched != tt.want {
				t.Errorf("evaluateCondition() matched = %v, want %v. Reason: %s", got.Matched, tt.want, got.Reason)
			}
		})
	}
}

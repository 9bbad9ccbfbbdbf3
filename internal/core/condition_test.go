package core

import (
	"testing"

	"github.com/goccy/go-yaml"
	"github.com/google/go-cmp/cmp"
)

func TestCondition_UnmarshalYAML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Condition
	}{
		{
			name: "Explicit Syntax",
			input: `key: realm
operator: equals
value: EXAMPLE.COM`,
			want: Condition{Key: "realm", Operator: OpEqual, Value: "EXAMPLE.COM"},
		},
		{
			name: "Explicit Syntax Without Operator",
			input: `key: realm
value: EXAMPLE.COM`,
			want: Condition{Key: "realm", Operator: OpEqual, Value: "EXAMPLE.COM"},
		},
		{
			name:  "Shorthand Simple Key-Value",
			input: `primary: alice`,
			want:  Condition{Key: "primary", Operator: OpEqual, Value: "alice"},
		},
		{
			name:  "Shorthand Operator Map",
			input: `primary: { matches: "^svc-" }`,
			want:  Condition{Key: "primary", Operator: OpMatches, Value: "^svc-"},
		},
		{
			name: "Nested Logic (Any)",
			input: `
any:
  - realm: A.EXAMPLE.COM
  - realm: B.EXAMPLE.COM
`,
			want: Condition{
				Any: []Condition{
					{Key: "realm", Operator: OpEqual, Value: "A.EXAMPLE.COM"},
					{Key: "realm", Operator: OpEqual, Value: "B.EXAMPLE.COM"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Condition
			if err := yaml.Unmarshal([]byte(tt.input), &got); err != nil {
				t.Fatalf("UnmarshalYAML() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Unmarshal mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCondition_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{
			name: "valid leaf",
			cond: Condition{Key: "primary", Operator: OpEqual, Value: "alice"},
		},
		{
			name:    "invalid operator",
			cond:    Condition{Key: "primary", Operator: "starts_with", Value: "a"},
			wantErr: true,
		},
		{
			name:    "invalid regex",
			cond:    Condition{Key: "primary", Operator: OpMatches, Value: "(["},
			wantErr: true,
		},
		{
			name:    "regex needs string",
			cond:    Condition{Key: "primary", Operator: OpMatches, Value: 42},
			wantErr: true,
		},
		{
			name: "multiple types",
			cond: Condition{
				Key: "primary", Operator: OpEqual, Value: "alice",
				Any: []Condition{{Key: "realm", Operator: OpExists}},
			},
			wantErr: true,
		},
		{
			name:    "empty",
			cond:    Condition{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

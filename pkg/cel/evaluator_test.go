package cel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)
	assert.NotNil(t, eval)
}

func TestValidateRuleExpression(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	tests := []struct {
		name      string
		expr      string
		wantError bool
	}{
		{
			name:      "valid numeric comparison",
			expr:      `price < 1000.0`,
			wantError: false,
		},
		{
			name:      "valid string contains",
			expr:      `title.contains("urgent")`,
			wantError: false,
		},
		{
			name:      "valid compound expression",
			expr:      `price > 1000000.0 && image_count == 0`,
			wantError: false,
		},
		{
			name:      "valid score reference",
			expr:      `score < 40 && city == ""`,
			wantError: false,
		},
		{
			name:      "non-bool expression",
			expr:      `price`,
			wantError: true,
		},
		{
			name:      "invalid syntax",
			expr:      `invalid syntax here!!!`,
			wantError: true,
		},
		{
			name:      "undefined variable",
			expr:      `undefinedVar == "test"`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := eval.ValidateRuleExpression(tt.expr)
			if tt.wantError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEvaluateRule(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	vars := map[string]interface{}{
		"title":         "Sunny apartment, urgent sale",
		"description":   "Spacious and bright.",
		"price":         500.0,
		"city":          "Lisbon",
		"locality":      "Alvalade",
		"contact_phone": "+351912345678",
		"image_count":   0,
		"score":         55,
		"attributes":    map[string]interface{}{"rooms": 2},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{
			name: "price floor matches",
			expr: `price < 1000.0 && image_count == 0`,
			want: true,
		},
		{
			name: "title keyword matches",
			expr: `title.contains("urgent")`,
			want: true,
		},
		{
			name: "attribute lookup",
			expr: `"rooms" in attributes`,
			want: true,
		},
		{
			name: "no match",
			expr: `city == "Porto"`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			program, err := eval.CompileExpression(tt.expr)
			require.NoError(t, err)

			got, err := eval.EvaluateRule(context.Background(), program, vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluateRule_MissingVariable(t *testing.T) {
	eval, err := NewEvaluator()
	require.NoError(t, err)

	program, err := eval.CompileExpression(`score < 40`)
	require.NoError(t, err)

	_, err = eval.EvaluateRule(context.Background(), program, map[string]interface{}{})
	assert.Error(t, err)
}

package formula

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		vars    map[string]decimal.Decimal
		want    string
	}{
		{"product", "quantity * new_rate", map[string]decimal.Decimal{"quantity": d("10"), "new_rate": d("2.5")}, "25.0000"},
		{"precedence", "2 + 3 * 4", nil, "14.0000"},
		{"parentheses", "(2 + 3) * 4", nil, "20.0000"},
		{"unary minus", "-a + 5", map[string]decimal.Decimal{"a": d("2")}, "3.0000"},
		{"division rounds to four places", "1 / 3", nil, "0.3333"},
		{"half away from zero", "2 / 3", nil, "0.6667"},
		{"exact decimals", "0.1 + 0.2", nil, "0.3000"},
		{"left associative", "10 - 4 - 3", nil, "3.0000"},
		{"min max", "max(a, b, 3) - min(a, b)", map[string]decimal.Decimal{"a": d("1"), "b": d("7")}, "6.0000"},
		{"abs", "abs(a - b)", map[string]decimal.Decimal{"a": d("1"), "b": d("7")}, "6.0000"},
		{"round places", "round(qty * rate, 2)", map[string]decimal.Decimal{"qty": d("3"), "rate": d("1.005")}, "3.0200"},
		{"round integer", "round(2.5)", nil, "3.0000"},
		{"ceil floor", "ceil(1.2) + floor(1.8)", nil, "3.0000"},
		{"dotted identifier", "paper.cost * 2", map[string]decimal.Decimal{"paper.cost": d("1.25")}, "2.5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Evaluate(tt.formula, tt.vars)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.StringFixed(Scale))
		})
	}
}

func TestEvaluate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		formula string
		vars    map[string]decimal.Decimal
		kind    Kind
	}{
		{"empty", "   ", nil, KindSyntax},
		{"dangling operator", "1 +", nil, KindSyntax},
		{"unbalanced", "(1 + 2", nil, KindSyntax},
		{"trailing token", "1 2", nil, KindSyntax},
		{"bad character", "1 % 2", nil, KindSyntax},
		{"malformed number", "1.2.3", nil, KindSyntax},
		{"undefined variable", "quantity * rate", map[string]decimal.Decimal{"quantity": d("1")}, KindUndefinedVariable},
		{"division by zero", "a / (b - b)", map[string]decimal.Decimal{"a": d("1"), "b": d("2")}, KindDivisionByZero},
		{"unknown function", "sqrt(4)", nil, KindUnknownFunction},
		{"arity", "abs(1, 2)", nil, KindArity},
		{"round places", "round(1, 0.5)", nil, KindArity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Evaluate(tt.formula, tt.vars)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrFormula))
			assert.True(t, IsKind(err, tt.kind), "got %v", err)
		})
	}
}

func TestCompile_Variables(t *testing.T) {
	expr, err := Compile("qty * rate + setup_fee - qty")
	require.NoError(t, err)
	assert.Equal(t, []string{"qty", "rate", "setup_fee"}, expr.Variables())
	assert.Equal(t, "qty * rate + setup_fee - qty", expr.String())
}

func TestResolver(t *testing.T) {
	inputs := map[string]decimal.Decimal{
		"quantity":  d("10"),
		"unit_rate": d("2.5"),
		"Setup Fee": d("4"),
	}

	t.Run("literal then alias then fuzzy", func(t *testing.T) {
		expr, err := Compile("quantity * rate + setupfee")
		require.NoError(t, err)

		r := NewResolver(map[string]string{"unit_rate": "rate"})
		got, err := r.Evaluate(expr, inputs)
		require.NoError(t, err)
		assert.Equal(t, "29.0000", got.StringFixed(Scale))
	})

	t.Run("literal wins over alias", func(t *testing.T) {
		expr, err := Compile("quantity")
		require.NoError(t, err)

		r := NewResolver(map[string]string{"unit_rate": "quantity"})
		bound, err := r.Resolve(expr, inputs)
		require.NoError(t, err)
		assert.True(t, bound["quantity"].Equal(d("10")))
	})

	t.Run("case insensitive", func(t *testing.T) {
		expr, err := Compile("QUANTITY * Unit_Rate")
		require.NoError(t, err)

		got, err := NewResolver(nil).Evaluate(expr, inputs)
		require.NoError(t, err)
		assert.Equal(t, "25.0000", got.StringFixed(Scale))
	})

	t.Run("unresolved fails loudly", func(t *testing.T) {
		expr, err := Compile("quantity * discount")
		require.NoError(t, err)

		_, err = NewResolver(nil).Evaluate(expr, inputs)
		assert.True(t, IsKind(err, KindUndefinedVariable))
	})

	t.Run("ambiguous fuzzy match", func(t *testing.T) {
		expr, err := Compile("rate")
		require.NoError(t, err)

		_, err = NewResolver(nil).Resolve(expr, map[string]decimal.Decimal{
			"RATE":  d("1"),
			"ra_te": d("2"),
		})
		assert.True(t, IsKind(err, KindAmbiguousVariable))
	})

	t.Run("alias shared by two fields is ambiguous", func(t *testing.T) {
		expr, err := Compile("rate")
		require.NoError(t, err)

		r := NewResolver(map[string]string{"unit_rate": "rate", "old_rate": "rate"})
		shared := map[string]decimal.Decimal{"unit_rate": d("10"), "old_rate": d("99")}
		for i := 0; i < 20; i++ {
			_, err = r.Evaluate(expr, shared)
			require.Error(t, err)
			assert.True(t, IsKind(err, KindAmbiguousVariable))
			assert.Contains(t, err.Error(), "old_rate, unit_rate")
		}
	})

	t.Run("literal key wins over a shared alias", func(t *testing.T) {
		expr, err := Compile("rate")
		require.NoError(t, err)

		r := NewResolver(map[string]string{"unit_rate": "rate", "old_rate": "rate"})
		got, err := r.Evaluate(expr, map[string]decimal.Decimal{"rate": d("3"), "unit_rate": d("10")})
		require.NoError(t, err)
		assert.True(t, d("3").Equal(got))
	})
}

// Package formula evaluates billing formulas over named decimal inputs.
//
// A formula is an arithmetic expression of numbers, variables, the operators
// + - * / with parentheses, and the functions min, max, abs, ceil, floor and
// round. Results are exact decimals rounded to Scale places.
package formula

import (
	"github.com/shopspring/decimal"
)

const (
	// Scale is the number of decimal places in an evaluated amount
	Scale = 4

	// MaxScale bounds round(x, n)
	MaxScale = 12

	// divisionPrecision is the intermediate precision of a quotient
	divisionPrecision = 16
)

// Expression is a parsed formula, safe for concurrent evaluation
type Expression struct {
	src  string
	root node
	vars []string
}

// Compile parses a formula
func Compile(src string) (*Expression, error) {
	root, vars, err := parse(src)
	if err != nil {
		return nil, err
	}
	return &Expression{src: src, root: root, vars: vars}, nil
}

// String returns the source text
func (e *Expression) String() string {
	return e.src
}

// Variables lists referenced variable names in first-use order
func (e *Expression) Variables() []string {
	out := make([]string, len(e.vars))
	copy(out, e.vars)
	return out
}

// Eval evaluates the expression. Every referenced variable must be present in vars.
func (e *Expression) Eval(vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	v, err := e.root.eval(&evalEnv{src: e.src, vars: vars})
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.Round(Scale), nil
}

// Evaluate compiles and evaluates src in one step
func Evaluate(src string, vars map[string]decimal.Decimal) (decimal.Decimal, error) {
	expr, err := Compile(src)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return expr.Eval(vars)
}

type evalEnv struct {
	src  string
	vars map[string]decimal.Decimal
}

func (n *numberNode) eval(*evalEnv) (decimal.Decimal, error) {
	return n.value, nil
}

func (n *varNode) eval(env *evalEnv) (decimal.Decimal, error) {
	v, ok := env.vars[n.name]
	if !ok {
		return decimal.Decimal{}, newError(KindUndefinedVariable, env.src, n.pos, "variable %q is not defined", n.name)
	}
	return v, nil
}

func (n *unaryNode) eval(env *evalEnv) (decimal.Decimal, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return v.Neg(), nil
}

func (n *binaryNode) eval(env *evalEnv) (decimal.Decimal, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return decimal.Decimal{}, err
	}
	right, err := n.right.eval(env)
	if err != nil {
		return decimal.Decimal{}, err
	}

	switch n.op {
	case tokPlus:
		return left.Add(right), nil
	case tokMinus:
		return left.Sub(right), nil
	case tokStar:
		return left.Mul(right), nil
	case tokSlash:
		if right.IsZero() {
			return decimal.Decimal{}, newError(KindDivisionByZero, env.src, n.pos, "division by zero")
		}
		return left.DivRound(right, divisionPrecision), nil
	}
	return decimal.Decimal{}, newError(KindSyntax, env.src, n.pos, "unknown operator")
}

func (n *callNode) eval(env *evalEnv) (decimal.Decimal, error) {
	args := make([]decimal.Decimal, len(n.args))
	for i, a := range n.args {
		v, err := a.eval(env)
		if err != nil {
			return decimal.Decimal{}, err
		}
		args[i] = v
	}
	v, err := functions[n.name].apply(args)
	if err != nil {
		return decimal.Decimal{}, newError(KindArity, env.src, n.pos, "%s: %v", n.name, err)
	}
	return v, nil
}

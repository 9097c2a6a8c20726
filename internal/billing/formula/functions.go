package formula

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type function struct {
	minArgs int
	maxArgs int // -1 for variadic
	apply   func(args []decimal.Decimal) (decimal.Decimal, error)
}

func (f function) arity() string {
	switch {
	case f.maxArgs < 0:
		return fmt.Sprintf("at least %d", f.minArgs)
	case f.minArgs == f.maxArgs:
		return fmt.Sprintf("%d", f.minArgs)
	}
	return fmt.Sprintf("%d to %d", f.minArgs, f.maxArgs)
}

var functions = map[string]function{
	"min": {minArgs: 1, maxArgs: -1, apply: func(args []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Min(args[0], args[1:]...), nil
	}},
	"max": {minArgs: 1, maxArgs: -1, apply: func(args []decimal.Decimal) (decimal.Decimal, error) {
		return decimal.Max(args[0], args[1:]...), nil
	}},
	"abs": {minArgs: 1, maxArgs: 1, apply: func(args []decimal.Decimal) (decimal.Decimal, error) {
		return args[0].Abs(), nil
	}},
	"ceil": {minArgs: 1, maxArgs: 1, apply: func(args []decimal.Decimal) (decimal.Decimal, error) {
		return args[0].Ceil(), nil
	}},
	"floor": {minArgs: 1, maxArgs: 1, apply: func(args []decimal.Decimal) (decimal.Decimal, error) {
		return args[0].Floor(), nil
	}},
	// round(x) rounds half away from zero to an integer; round(x, n) to n places
	"round": {minArgs: 1, maxArgs: 2, apply: func(args []decimal.Decimal) (decimal.Decimal, error) {
		if len(args) == 1 {
			return args[0].Round(0), nil
		}
		places := args[1]
		if !places.IsInteger() || places.IsNegative() || places.GreaterThan(decimal.NewFromInt(MaxScale)) {
			return decimal.Decimal{}, fmt.Errorf("round places must be an integer between 0 and %d", MaxScale)
		}
		return args[0].Round(int32(places.IntPart())), nil
	}},
}

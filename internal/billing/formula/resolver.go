package formula

import (
	"sort"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/cases"
)

// Resolver binds formula variables to run inputs. A variable resolves, in
// order, to the input with the same key, to the input whose field declares
// it as alias, or to the single input whose key matches after case folding
// and dropping whitespace and underscores. Anything else is an error.
type Resolver struct {
	// aliases maps formula variable name to input key
	aliases map[string]string
	// conflicts holds variables declared as alias by more than one field
	conflicts map[string][]string
}

// NewResolver builds a resolver from a field key -> formula variable mapping.
// A variable claimed by several fields never resolves through its alias.
func NewResolver(fieldAliases map[string]string) *Resolver {
	claims := make(map[string][]string, len(fieldAliases))
	for key, variable := range fieldAliases {
		claims[variable] = append(claims[variable], key)
	}

	r := &Resolver{aliases: make(map[string]string, len(claims))}
	for variable, keys := range claims {
		if len(keys) == 1 {
			r.aliases[variable] = keys[0]
			continue
		}
		sort.Strings(keys)
		if r.conflicts == nil {
			r.conflicts = make(map[string][]string)
		}
		r.conflicts[variable] = keys
	}
	return r
}

// Resolve returns a binding for every variable in expr
func (r *Resolver) Resolve(expr *Expression, inputs map[string]decimal.Decimal) (map[string]decimal.Decimal, error) {
	bound := make(map[string]decimal.Decimal, len(expr.vars))

	var fuzzy map[string][]string
	for _, name := range expr.vars {
		if v, ok := inputs[name]; ok {
			bound[name] = v
			continue
		}
		if keys, ok := r.conflicts[name]; ok {
			return nil, newError(KindAmbiguousVariable, expr.src, -1, "variable %q is the alias of fields %s", name, strings.Join(keys, ", "))
		}
		if key, ok := r.aliases[name]; ok {
			if v, ok := inputs[key]; ok {
				bound[name] = v
				continue
			}
		}

		if fuzzy == nil {
			fuzzy = foldKeys(inputs)
		}
		matches := fuzzy[normalize(name)]
		switch len(matches) {
		case 1:
			bound[name] = inputs[matches[0]]
		case 0:
			return nil, newError(KindUndefinedVariable, expr.src, -1, "no input for variable %q", name)
		default:
			return nil, newError(KindAmbiguousVariable, expr.src, -1, "variable %q matches inputs %s", name, strings.Join(matches, ", "))
		}
	}
	return bound, nil
}

// Evaluate resolves the expression's variables against inputs and evaluates it
func (r *Resolver) Evaluate(expr *Expression, inputs map[string]decimal.Decimal) (decimal.Decimal, error) {
	bound, err := r.Resolve(expr, inputs)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return expr.Eval(bound)
}

func foldKeys(inputs map[string]decimal.Decimal) map[string][]string {
	out := make(map[string][]string, len(inputs))
	for key := range inputs {
		n := normalize(key)
		out[n] = append(out[n], key)
	}
	for _, keys := range out {
		sort.Strings(keys)
	}
	return out
}

func normalize(s string) string {
	folded := cases.Fold().String(s)
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '_' {
			return -1
		}
		return r
	}, folded)
}

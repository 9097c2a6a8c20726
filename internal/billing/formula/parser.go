package formula

import (
	"github.com/shopspring/decimal"
)

// node is an expression tree element
type node interface {
	eval(env *evalEnv) (decimal.Decimal, error)
}

type numberNode struct {
	value decimal.Decimal
}

type varNode struct {
	name string
	pos  int
}

type unaryNode struct {
	operand node
}

type binaryNode struct {
	op          tokenKind
	left, right node
	pos         int
}

type callNode struct {
	name string
	args []node
	pos  int
}

// Grammar:
//
//	expr   := term (('+' | '-') term)*
//	term   := unary (('*' | '/') unary)*
//	unary  := '-' unary | '+' unary | primary
//	primary:= number | ident | ident '(' args ')' | '(' expr ')'
//	args   := expr (',' expr)*
type parser struct {
	src    string
	tokens []token
	pos    int
	vars   []string
	seen   map[string]bool
}

func parse(src string) (node, []string, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, nil, err
	}
	p := &parser{src: src, tokens: tokens, seen: make(map[string]bool)}
	if p.peek().kind == tokEOF {
		return nil, nil, newError(KindSyntax, src, 0, "empty formula")
	}

	root, err := p.expr()
	if err != nil {
		return nil, nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, nil, newError(KindSyntax, src, tok.pos, "unexpected %s", tok.kind)
	}
	return root, p.vars, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) expect(kind tokenKind) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, newError(KindSyntax, p.src, tok.pos, "expected %s, found %s", kind, tok.kind)
	}
	return tok, nil
}

func (p *parser) expr() (node, error) {
	left, err := p.term()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokPlus && tok.kind != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.term()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, left: left, right: right, pos: tok.pos}
	}
}

func (p *parser) term() (node, error) {
	left, err := p.unary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		if tok.kind != tokStar && tok.kind != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.unary()
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.kind, left: left, right: right, pos: tok.pos}
	}
}

func (p *parser) unary() (node, error) {
	switch p.peek().kind {
	case tokMinus:
		p.next()
		operand, err := p.unary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{operand: operand}, nil
	case tokPlus:
		p.next()
		return p.unary()
	}
	return p.primary()
}

func (p *parser) primary() (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		value, err := decimal.NewFromString(tok.text)
		if err != nil {
			return nil, newError(KindSyntax, p.src, tok.pos, "malformed number %q", tok.text)
		}
		return &numberNode{value: value}, nil

	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.call(tok)
		}
		if !p.seen[tok.text] {
			p.seen[tok.text] = true
			p.vars = append(p.vars, tok.text)
		}
		return &varNode{name: tok.text, pos: tok.pos}, nil

	case tokLParen:
		inner, err := p.expr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, newError(KindSyntax, p.src, tok.pos, "unexpected %s", tok.kind)
}

func (p *parser) call(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, newError(KindUnknownFunction, p.src, name.pos, "unknown function %q", name.text)
	}
	p.next() // '('

	var args []node
	if p.peek().kind != tokRParen {
		for {
			arg, err := p.expr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	if _, err := p.expect(tokRParen); err != nil {
		return nil, err
	}

	if len(args) < fn.minArgs || (fn.maxArgs >= 0 && len(args) > fn.maxArgs) {
		return nil, newError(KindArity, p.src, name.pos, "%s takes %s arguments, got %d", name.text, fn.arity(), len(args))
	}
	return &callNode{name: name.text, args: args, pos: name.pos}, nil
}

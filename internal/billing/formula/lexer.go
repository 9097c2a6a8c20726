package formula

import (
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokIdent
	tokPlus
	tokMinus
	tokStar
	tokSlash
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (k tokenKind) String() string {
	switch k {
	case tokEOF:
		return "end of formula"
	case tokNumber:
		return "number"
	case tokIdent:
		return "identifier"
	case tokPlus:
		return "'+'"
	case tokMinus:
		return "'-'"
	case tokStar:
		return "'*'"
	case tokSlash:
		return "'/'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokComma:
		return "','"
	}
	return "token"
}

// tokenize splits src into tokens. Identifiers start with a letter or '_' and
// may contain letters, digits, '_' and '.'.
func tokenize(src string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(src) {
		r, size := utf8.DecodeRuneInString(src[i:])
		switch {
		case unicode.IsSpace(r):
			i += size
		case r == '+':
			tokens = append(tokens, token{tokPlus, "+", i})
			i++
		case r == '-':
			tokens = append(tokens, token{tokMinus, "-", i})
			i++
		case r == '*':
			tokens = append(tokens, token{tokStar, "*", i})
			i++
		case r == '/':
			tokens = append(tokens, token{tokSlash, "/", i})
			i++
		case r == '(':
			tokens = append(tokens, token{tokLParen, "(", i})
			i++
		case r == ')':
			tokens = append(tokens, token{tokRParen, ")", i})
			i++
		case r == ',':
			tokens = append(tokens, token{tokComma, ",", i})
			i++
		case (r >= '0' && r <= '9') || r == '.':
			start := i
			dots := 0
			for i < len(src) && (isDigit(src[i]) || src[i] == '.') {
				if src[i] == '.' {
					dots++
				}
				i++
			}
			text := src[start:i]
			if dots > 1 || text == "." {
				return nil, newError(KindSyntax, src, start, "malformed number %q", text)
			}
			tokens = append(tokens, token{tokNumber, text, start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(src) {
				r, size := utf8.DecodeRuneInString(src[i:])
				if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '.' {
					break
				}
				i += size
			}
			tokens = append(tokens, token{tokIdent, src[start:i], start})
		default:
			return nil, newError(KindSyntax, src, i, "unexpected character %q", r)
		}
	}
	tokens = append(tokens, token{tokEOF, "", len(src)})
	return tokens, nil
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

// Package expression resolves {{node.path}} references and evaluates edge
// conditions against the accumulated execution context.
//
// Expressions are parsed into a small AST (paths, literals, operators and a
// fixed table of functions) instead of being executed as templates, so
// untrusted payload data can never change what gets evaluated.
package expression

import (
	"fmt"
	"strings"
	"unicode"
)

type tokenKind int

const (
	tokenEOF tokenKind = iota
	tokenIdent
	tokenNumber
	tokenString
	tokenOperator
	tokenLParen
	tokenRParen
	tokenLBracket
	tokenRBracket
	tokenComma
	tokenDot
)

type token struct {
	kind  tokenKind
	text  string
	value any
	pos   int
}

func (t token) String() string {
	if t.kind == tokenEOF {
		return "end of expression"
	}

	return fmt.Sprintf("%q at %d", t.text, t.pos)
}

var twoCharOperators = []string{"==", "!=", "<=", ">=", "&&", "||"}

func tokenize(src string) ([]token, error) {
	var tokens []token

	runes := []rune(src)
	i := 0

	for i < len(runes) {
		r := runes[i]

		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokenLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokenRParen, text: ")", pos: i})
			i++
		case r == '[':
			tokens = append(tokens, token{kind: tokenLBracket, text: "[", pos: i})
			i++
		case r == ']':
			tokens = append(tokens, token{kind: tokenRBracket, text: "]", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokenComma, text: ",", pos: i})
			i++
		case r == '.' && !(i+1 < len(runes) && unicode.IsDigit(runes[i+1]) && !prevIsOperand(tokens)):
			tokens = append(tokens, token{kind: tokenDot, text: ".", pos: i})
			i++
		case r == '"' || r == '\'':
			str, next, err := lexString(runes, i)
			if err != nil {
				return nil, err
			}

			tokens = append(tokens, token{kind: tokenString, text: string(runes[i:next]), value: str, pos: i})
			i = next
		case unicode.IsDigit(r) || r == '.':
			start := i
			// after a member dot only an integer index is allowed: items.0.name
			indexOnly := len(tokens) > 0 && tokens[len(tokens)-1].kind == tokenDot

			for i < len(runes) {
				c := runes[i]
				if unicode.IsDigit(c) || (!indexOnly && (c == '.' || c == 'e' || c == 'E')) {
					i++

					continue
				}

				break
			}

			text := string(runes[start:i])

			var number float64

			_, err := fmt.Sscanf(text, "%g", &number)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q at %d", text, start)
			}

			tokens = append(tokens, token{kind: tokenNumber, text: text, value: number, pos: start})
		case isIdentStart(r):
			start := i
			for i < len(runes) && isIdentPart(runes, i) {
				i++
			}

			tokens = append(tokens, token{kind: tokenIdent, text: string(runes[start:i]), pos: start})
		default:
			op := ""

			if i+1 < len(runes) {
				pair := string(runes[i : i+2])
				for _, candidate := range twoCharOperators {
					if pair == candidate {
						op = pair

						break
					}
				}
			}

			if op == "" && strings.ContainsRune("<>!+-*/%", r) {
				op = string(r)
			}

			if op == "" {
				return nil, fmt.Errorf("unexpected character %q at %d", r, i)
			}

			tokens = append(tokens, token{kind: tokenOperator, text: op, pos: i})
			i += len([]rune(op))
		}
	}

	tokens = append(tokens, token{kind: tokenEOF, pos: len(runes)})

	return tokens, nil
}

// prevIsOperand reports whether a '.' would be a member access.
func prevIsOperand(tokens []token) bool {
	if len(tokens) == 0 {
		return false
	}

	switch tokens[len(tokens)-1].kind {
	case tokenIdent, tokenRParen, tokenRBracket, tokenString:
		return true
	default:
		return false
	}
}

func isIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_' || r == '$'
}

// isIdentPart allows hyphens inside identifiers (node ids like "send-email")
// when the hyphen is directly surrounded by identifier characters.
func isIdentPart(runes []rune, i int) bool {
	r := runes[i]
	if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$' {
		return true
	}

	if r == '-' && i > 0 && i+1 < len(runes) {
		prev, next := runes[i-1], runes[i+1]

		return (unicode.IsLetter(prev) || unicode.IsDigit(prev) || prev == '_') &&
			(unicode.IsLetter(next) || unicode.IsDigit(next) || next == '_')
	}

	return false
}

func lexString(runes []rune, start int) (string, int, error) {
	quote := runes[start]

	var sb strings.Builder

	i := start + 1
	for i < len(runes) {
		r := runes[i]

		switch {
		case r == '\\' && i+1 < len(runes):
			i++

			switch runes[i] {
			case 'n':
				sb.WriteRune('\n')
			case 't':
				sb.WriteRune('\t')
			case 'r':
				sb.WriteRune('\r')
			default:
				sb.WriteRune(runes[i])
			}
		case r == quote:
			return sb.String(), i + 1, nil
		default:
			sb.WriteRune(r)
		}

		i++
	}

	return "", 0, fmt.Errorf("unterminated string starting at %d", start)
}

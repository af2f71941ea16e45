package expression

import (
	"errors"
	"fmt"
)

// ErrSyntax is wrapped by every parse failure.
var ErrSyntax = errors.New("expression syntax error")

type node interface {
	eval(scope Scope) (any, error)
}

type literalNode struct {
	value any
}

// pathNode is a dotted reference rooted at a scope key; index segments are
// themselves expressions so both a.b[0] and a["node-1"] resolve.
type pathNode struct {
	root     string
	segments []node
}

type unaryNode struct {
	op      string
	operand node
}

type binaryNode struct {
	op          string
	left, right node
}

type callNode struct {
	name string
	fn   Func
	args []node
}

type parser struct {
	tokens []token
	pos    int
}

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	p := &parser{tokens: tokens}

	if p.peek().kind == tokenEOF {
		return nil, fmt.Errorf("%w: empty expression", ErrSyntax)
	}

	root, err := p.parseOr()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}

	if p.peek().kind != tokenEOF {
		return nil, fmt.Errorf("%w: unexpected %s", ErrSyntax, p.peek())
	}

	return root, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokenEOF {
		p.pos++
	}

	return t
}

func (p *parser) acceptOperator(ops ...string) (string, bool) {
	t := p.peek()
	if t.kind != tokenOperator {
		return "", false
	}

	for _, op := range ops {
		if t.text == op {
			p.pos++

			return op, true
		}
	}

	return "", false
}

func (p *parser) expect(kind tokenKind, what string) error {
	t := p.next()
	if t.kind != kind {
		return fmt.Errorf("expected %s, got %s", what, t)
	}

	return nil
}

func (p *parser) parseBinary(next func() (node, error), ops ...string) (node, error) {
	left, err := next()
	if err != nil {
		return nil, err
	}

	for {
		op, ok := p.acceptOperator(ops...)
		if !ok {
			return left, nil
		}

		right, err := next()
		if err != nil {
			return nil, err
		}

		left = &binaryNode{op: op, left: left, right: right}
	}
}

func (p *parser) parseOr() (node, error) {
	return p.parseBinary(p.parseAnd, "||")
}

func (p *parser) parseAnd() (node, error) {
	return p.parseBinary(p.parseEquality, "&&")
}

func (p *parser) parseEquality() (node, error) {
	return p.parseBinary(p.parseComparison, "==", "!=")
}

func (p *parser) parseComparison() (node, error) {
	return p.parseBinary(p.parseAdditive, "<", "<=", ">", ">=")
}

func (p *parser) parseAdditive() (node, error) {
	return p.parseBinary(p.parseMultiplicative, "+", "-")
}

func (p *parser) parseMultiplicative() (node, error) {
	return p.parseBinary(p.parseUnary, "*", "/", "%")
}

func (p *parser) parseUnary() (node, error) {
	if op, ok := p.acceptOperator("!", "-"); ok {
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}

		return &unaryNode{op: op, operand: operand}, nil
	}

	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	t := p.next()

	switch t.kind {
	case tokenNumber, tokenString:
		return &literalNode{value: t.value}, nil
	case tokenLParen:
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}

		if err := p.expect(tokenRParen, "')'"); err != nil {
			return nil, err
		}

		return inner, nil
	case tokenIdent:
		switch t.text {
		case "true":
			return &literalNode{value: true}, nil
		case "false":
			return &literalNode{value: false}, nil
		case "null", "nil":
			return &literalNode{value: nil}, nil
		}

		if p.peek().kind == tokenLParen {
			return p.parseCall(t)
		}

		return p.parsePath(t.text)
	default:
		return nil, fmt.Errorf("unexpected %s", t)
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := functions[name.text]
	if !ok {
		return nil, fmt.Errorf("unknown function %q at %d", name.text, name.pos)
	}

	p.next()

	var args []node

	if p.peek().kind != tokenRParen {
		for {
			arg, err := p.parseOr()
			if err != nil {
				return nil, err
			}

			args = append(args, arg)

			if p.peek().kind != tokenComma {
				break
			}

			p.next()
		}
	}

	if err := p.expect(tokenRParen, "')'"); err != nil {
		return nil, err
	}

	if err := fn.checkArity(len(args)); err != nil {
		return nil, fmt.Errorf("%s: %w", name.text, err)
	}

	return &callNode{name: name.text, fn: fn, args: args}, nil
}

func (p *parser) parsePath(root string) (node, error) {
	path := &pathNode{root: root}

	for {
		switch p.peek().kind {
		case tokenDot:
			p.next()

			seg := p.next()
			switch seg.kind {
			case tokenIdent:
				path.segments = append(path.segments, &literalNode{value: seg.text})
			case tokenNumber:
				path.segments = append(path.segments, &literalNode{value: seg.value})
			default:
				return nil, fmt.Errorf("expected field name after '.', got %s", seg)
			}
		case tokenLBracket:
			p.next()

			index, err := p.parseOr()
			if err != nil {
				return nil, err
			}

			if err := p.expect(tokenRBracket, "']'"); err != nil {
				return nil, err
			}

			path.segments = append(path.segments, index)
		default:
			return path, nil
		}
	}
}

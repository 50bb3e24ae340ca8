package expr

import (
	"github.com/roach88/tripwire/internal/ir"
)

// Expr is a parsed expression. It is immutable and safe for concurrent use.
type Expr struct {
	src  string
	root node
}

// String returns the source text.
func (e *Expr) String() string {
	return e.src
}

// Parse parses an expression. Failures are *Error with KindSyntax.
func Parse(src string) (*Expr, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, withSource(err, src)
	}
	p := &parser{toks: toks}
	root, err := p.parseBinary(1)
	if err != nil {
		return nil, withSource(err, src)
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, withSource(syntaxErr(tok.pos, "unexpected %q", tok.text), src)
	}
	return &Expr{src: src, root: root}, nil
}

// MustParse is like Parse but panics on error. Use only in tests.
func MustParse(src string) *Expr {
	e, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return e
}

func withSource(err error, src string) error {
	if e, ok := err.(*Error); ok && e.Source == "" {
		e.Source = src
	}
	return err
}

var binaryPrec = map[string]int{
	"||": 1,
	"&&": 2,
	"==": 3, "!=": 3,
	"<": 4, "<=": 4, ">": 4, ">=": 4,
	"+": 5, "-": 5,
	"*": 6, "/": 6, "%": 6,
}

type parser struct {
	toks []token
	i    int
}

func (p *parser) peek() token {
	return p.toks[p.i]
}

func (p *parser) advance() token {
	tok := p.toks[p.i]
	if tok.kind != tokEOF {
		p.i++
	}
	return tok
}

// parseBinary is precedence climbing; all binary operators are left
// associative.
func (p *parser) parseBinary(minPrec int) (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		tok := p.peek()
		prec, ok := binaryPrec[tok.text]
		if tok.kind != tokOp || !ok || prec < minPrec {
			return left, nil
		}
		p.advance()
		right, err := p.parseBinary(prec + 1)
		if err != nil {
			return nil, err
		}
		left = &binaryNode{op: tok.text, left: left, right: right, at: tok.pos}
	}
}

func (p *parser) parseUnary() (node, error) {
	tok := p.peek()
	if tok.kind == tokOp && (tok.text == "!" || tok.text == "-") {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: tok.text, operand: operand, at: tok.pos}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (node, error) {
	tok := p.advance()
	switch tok.kind {
	case tokNumber:
		return &literalNode{val: ir.Number(tok.num), at: tok.pos}, nil
	case tokString:
		return &literalNode{val: ir.String(tok.text), at: tok.pos}, nil
	case tokRef:
		return &refNode{ref: *tok.ref, at: tok.pos}, nil
	case tokLParen:
		inner, err := p.parseBinary(1)
		if err != nil {
			return nil, err
		}
		if closing := p.advance(); closing.kind != tokRParen {
			return nil, syntaxErr(closing.pos, "expected ')'")
		}
		return inner, nil
	case tokIdent:
		switch tok.text {
		case "true":
			return &literalNode{val: ir.Bool(true), at: tok.pos}, nil
		case "false":
			return &literalNode{val: ir.Bool(false), at: tok.pos}, nil
		}
		if p.peek().kind != tokLParen {
			return nil, syntaxErr(tok.pos, "unknown identifier %q", tok.text)
		}
		return p.parseCall(tok)
	case tokEOF:
		return nil, syntaxErr(tok.pos, "unexpected end of expression")
	default:
		return nil, syntaxErr(tok.pos, "unexpected %q", tok.text)
	}
}

func (p *parser) parseCall(name token) (node, error) {
	fn, ok := builtins[name.text]
	if !ok {
		return nil, syntaxErr(name.pos, "unknown function %q", name.text)
	}
	p.advance() // (

	call := &callNode{name: name.text, fn: fn, at: name.pos}
	if name.text == "convert" {
		typ := p.advance()
		if typ.kind != tokIdent || !validConvertType(typ.text) {
			return nil, syntaxErr(typ.pos, "convert expects String, Decimal or Boolean, got %q", typ.text)
		}
		call.typeArg = typ.text
		if comma := p.advance(); comma.kind != tokComma {
			return nil, syntaxErr(comma.pos, "expected ','")
		}
	}

	if p.peek().kind != tokRParen {
		for {
			arg, err := p.parseBinary(1)
			if err != nil {
				return nil, err
			}
			call.args = append(call.args, arg)
			if p.peek().kind != tokComma {
				break
			}
			p.advance()
		}
	}
	if closing := p.advance(); closing.kind != tokRParen {
		return nil, syntaxErr(closing.pos, "expected ')' to close %s(", name.text)
	}
	if len(call.args) != fn.arity {
		return nil, syntaxErr(name.pos, "%s expects %d argument(s), got %d", name.text, fn.arity+btoi(call.typeArg != ""), len(call.args)+btoi(call.typeArg != ""))
	}
	return call, nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}

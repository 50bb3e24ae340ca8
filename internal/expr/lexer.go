package expr

import (
	"strconv"
	"strings"

	"github.com/roach88/tripwire/internal/ir"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokRef
	tokOp
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
	num  float64
	ref  *reference
}

// Namespaces a reference may address.
const (
	NamespaceInput    = "input"
	NamespaceVariable = "variable"
)

type reference struct {
	namespace string
	name      string
	path      ir.Path
}

// two-character operators first so "<=" is not read as "<".
var operators = []string{"||", "&&", "==", "!=", "<=", ">=", "<", ">", "+", "-", "*", "/", "%", "!"}

type lexer struct {
	src string
	pos int
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src}
	var toks []token
	for {
		tok, err := l.next()
		if err != nil {
			return nil, err
		}
		toks = append(toks, tok)
		if tok.kind == tokEOF {
			return toks, nil
		}
	}
}

func (l *lexer) next() (token, error) {
	for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
		l.pos++
	}
	if l.pos >= len(l.src) {
		return token{kind: tokEOF, pos: l.pos}, nil
	}

	start := l.pos
	c := l.src[l.pos]
	switch {
	case c == '(':
		l.pos++
		return token{kind: tokLParen, text: "(", pos: start}, nil
	case c == ')':
		l.pos++
		return token{kind: tokRParen, text: ")", pos: start}, nil
	case c == ',':
		l.pos++
		return token{kind: tokComma, text: ",", pos: start}, nil
	case c == '\'' || c == '"':
		return l.lexString(c)
	case isDigit(c):
		return l.lexNumber()
	case c == '$':
		return l.lexRef()
	case isIdentStart(c):
		for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
			l.pos++
		}
		return token{kind: tokIdent, text: l.src[start:l.pos], pos: start}, nil
	}

	for _, op := range operators {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			return token{kind: tokOp, text: op, pos: start}, nil
		}
	}
	return token{}, syntaxErr(start, "unexpected character %q", c)
}

func (l *lexer) lexString(quote byte) (token, error) {
	start := l.pos
	l.pos++
	var b strings.Builder
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case c == quote:
			l.pos++
			return token{kind: tokString, text: b.String(), pos: start}, nil
		case c == '\\' && l.pos+1 < len(l.src):
			l.pos++
			switch esc := l.src[l.pos]; esc {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc)
			}
		default:
			b.WriteByte(c)
		}
		l.pos++
	}
	return token{}, syntaxErr(start, "unterminated string")
}

func (l *lexer) lexNumber() (token, error) {
	start := l.pos
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			return token{}, syntaxErr(start, "malformed number %q", l.src[start:l.pos])
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		l.pos++
		if l.pos < len(l.src) && (l.src[l.pos] == '+' || l.src[l.pos] == '-') {
			l.pos++
		}
		if l.pos >= len(l.src) || !isDigit(l.src[l.pos]) {
			return token{}, syntaxErr(start, "malformed number %q", l.src[start:l.pos])
		}
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	text := l.src[start:l.pos]
	f, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return token{}, syntaxErr(start, "malformed number %q", text)
	}
	return token{kind: tokNumber, text: text, pos: start, num: f}, nil
}

// lexRef reads $input.<Input>.<path> or $variable.<name>[.<path>].
func (l *lexer) lexRef() (token, error) {
	start := l.pos
	l.pos++ // $
	ns := l.ident()
	if ns != NamespaceInput && ns != NamespaceVariable {
		return token{}, syntaxErr(start, "unknown reference namespace $%s", ns)
	}

	ref := &reference{namespace: ns}
	if !l.accept('.') {
		return token{}, syntaxErr(start, "$%s must be followed by a name", ns)
	}
	name, err := l.segment()
	if err != nil {
		return token{}, err
	}
	ref.name = name

	for l.pos < len(l.src) {
		switch l.src[l.pos] {
		case '.':
			l.pos++
			field, err := l.segment()
			if err != nil {
				return token{}, err
			}
			ref.path = append(ref.path, ir.Segment{Field: field})
			continue
		case '[':
			idxStart := l.pos
			end := strings.IndexByte(l.src[l.pos:], ']')
			if end < 0 {
				return token{}, syntaxErr(idxStart, "unterminated index")
			}
			n, err := strconv.Atoi(l.src[l.pos+1 : l.pos+end])
			if err != nil || n < 0 {
				return token{}, syntaxErr(idxStart, "invalid index %q", l.src[l.pos+1:l.pos+end])
			}
			ref.path = append(ref.path, ir.Segment{Index: n, IsIdx: true})
			l.pos += end + 1
			continue
		}
		break
	}

	if ns == NamespaceInput && len(ref.path) == 0 {
		return token{}, syntaxErr(start, "$input.%s must name an attribute", ref.name)
	}
	return token{kind: tokRef, text: l.src[start:l.pos], pos: start, ref: ref}, nil
}

func (l *lexer) segment() (string, error) {
	if l.pos < len(l.src) && l.src[l.pos] == '`' {
		end := strings.IndexByte(l.src[l.pos+1:], '`')
		if end < 0 {
			return "", syntaxErr(l.pos, "unterminated quoted name")
		}
		name := l.src[l.pos+1 : l.pos+1+end]
		l.pos += end + 2
		return name, nil
	}
	name := l.ident()
	if name == "" {
		return "", syntaxErr(l.pos, "expected name")
	}
	return name, nil
}

func (l *lexer) ident() string {
	start := l.pos
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	return l.src[start:l.pos]
}

func (l *lexer) accept(c byte) bool {
	if l.pos < len(l.src) && l.src[l.pos] == c {
		l.pos++
		return true
	}
	return false
}

func isSpace(c byte) bool      { return c == ' ' || c == '\t' || c == '\n' || c == '\r' }
func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentPart(c byte) bool  { return isIdentStart(c) || isDigit(c) }

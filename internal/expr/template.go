package expr

import (
	"strings"
)

// Template is text with ${expression} substitutions, used for topics and
// identifiers that embed runtime values.
type Template struct {
	src   string
	parts []templatePart
}

type templatePart struct {
	text string
	expr *Expr
}

// ParseTemplate parses text containing ${...} substitutions. Text without
// substitutions is a valid template that renders to itself.
func ParseTemplate(src string) (*Template, error) {
	t := &Template{src: src}
	rest := src
	offset := 0
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			if rest != "" {
				t.parts = append(t.parts, templatePart{text: rest})
			}
			return t, nil
		}
		if i > 0 {
			t.parts = append(t.parts, templatePart{text: rest[:i]})
		}
		end := closingBrace(rest[i+2:])
		if end < 0 {
			return nil, &Error{Kind: KindSyntax, Source: src, Pos: offset + i, Message: "unterminated ${"}
		}
		inner := rest[i+2 : i+2+end]
		e, err := Parse(inner)
		if err != nil {
			return nil, err
		}
		t.parts = append(t.parts, templatePart{expr: e})
		consumed := i + 2 + end + 1
		rest = rest[consumed:]
		offset += consumed
	}
}

// closingBrace finds the '}' that ends a substitution, skipping quoted text.
func closingBrace(s string) int {
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0 && c == '\\':
			i++
		case quote != 0 && c == quote:
			quote = 0
		case quote != 0:
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '}':
			return i
		}
	}
	return -1
}

func (t *Template) String() string {
	return t.src
}

// Exprs returns the embedded expressions.
func (t *Template) Exprs() []*Expr {
	var out []*Expr
	for _, p := range t.parts {
		if p.expr != nil {
			out = append(out, p.expr)
		}
	}
	return out
}

// Render evaluates every substitution and joins the result.
func (t *Template) Render(env Env) (string, error) {
	var b strings.Builder
	for _, p := range t.parts {
		if p.expr == nil {
			b.WriteString(p.text)
			continue
		}
		v, err := p.expr.Eval(env)
		if err != nil {
			return "", err
		}
		b.WriteString(Stringify(v))
	}
	return b.String(), nil
}

package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Segment is one step of an attribute path: a field name or an array index.
type Segment struct {
	Field string
	Index int
	IsIdx bool
}

func (s Segment) String() string {
	if s.IsIdx {
		return fmt.Sprintf("[%d]", s.Index)
	}
	return s.Field
}

// Path is a parsed attribute path such as "motor.readings[0].`rpm value`".
type Path []Segment

func (p Path) String() string {
	var b strings.Builder
	for i, s := range p {
		if !s.IsIdx && i > 0 {
			b.WriteByte('.')
		}
		if !s.IsIdx && needsQuote(s.Field) {
			b.WriteString("`" + s.Field + "`")
			continue
		}
		b.WriteString(s.String())
	}
	return b.String()
}

func needsQuote(f string) bool {
	for _, r := range f {
		if !isIdentRune(r) {
			return true
		}
	}
	return f == ""
}

func isIdentRune(r rune) bool {
	return r == '_' || r == '-' || r == ':' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// ParsePath parses a dotted attribute path. Segments may be backtick-quoted
// and may carry [n] indexes.
func ParsePath(s string) (Path, error) {
	if s == "" {
		return nil, fmt.Errorf("empty path")
	}
	var path Path
	i := 0
	expectField := true
	for i < len(s) {
		switch {
		case s[i] == '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated index", s)
			}
			n, err := strconv.Atoi(s[i+1 : i+end])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("path %q: invalid index %q", s, s[i+1:i+end])
			}
			if len(path) == 0 {
				return nil, fmt.Errorf("path %q: index before field", s)
			}
			path = append(path, Segment{Index: n, IsIdx: true})
			i += end + 1
			expectField = false
		case s[i] == '.':
			if expectField {
				return nil, fmt.Errorf("path %q: empty segment", s)
			}
			i++
			expectField = true
		case s[i] == '`':
			if !expectField {
				return nil, fmt.Errorf("path %q: missing '.' before segment", s)
			}
			end := strings.IndexByte(s[i+1:], '`')
			if end < 0 {
				return nil, fmt.Errorf("path %q: unterminated quote", s)
			}
			path = append(path, Segment{Field: s[i+1 : i+1+end]})
			i += end + 2
			expectField = false
		default:
			if !expectField {
				return nil, fmt.Errorf("path %q: missing '.' before segment", s)
			}
			j := i
			for j < len(s) && isIdentRune(rune(s[j])) {
				j++
			}
			if j == i {
				return nil, fmt.Errorf("path %q: unexpected %q", s, s[i])
			}
			path = append(path, Segment{Field: s[i:j]})
			i = j
			expectField = false
		}
	}
	if expectField {
		return nil, fmt.Errorf("path %q: trailing '.'", s)
	}
	return path, nil
}

// Lookup walks a path through v. It reports false when any step is missing
// or addresses the wrong kind of value.
func Lookup(v Value, p Path) (Value, bool) {
	cur := v
	for _, seg := range p {
		if seg.IsIdx {
			arr, ok := cur.(Array)
			if !ok || seg.Index >= len(arr) {
				return nil, false
			}
			cur = arr[seg.Index]
			continue
		}
		obj, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		next, ok := obj[seg.Field]
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// KeyString renders a scalar key value as the detector key. Objects,
// arrays and null are not valid keys.
func KeyString(v Value) (string, bool) {
	switch val := v.(type) {
	case String:
		return string(val), true
	case Number:
		b, err := formatNumber(float64(val))
		if err != nil {
			return "", false
		}
		return string(b), true
	case Bool:
		return strconv.FormatBool(bool(val)), true
	}
	return "", false
}

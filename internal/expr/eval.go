package expr

import (
	"math"

	"github.com/roach88/tripwire/internal/ir"
)

// Env is everything an expression can observe during one evaluation cycle.
type Env struct {
	// InputName is the input whose message triggered the cycle. Empty for
	// timer-triggered cycles.
	InputName string
	Payload   ir.Object
	Variables ir.Object
	// TimerName is the timer whose expiry triggered the cycle.
	TimerName string
}

// Eval evaluates the expression against env.
func (e *Expr) Eval(env Env) (ir.Value, error) {
	v, err := e.root.eval(&env)
	if err != nil {
		return nil, withSource(err, e.src)
	}
	return v, nil
}

// EvalBool evaluates a condition. A non-boolean result is a TypeMismatch.
func (e *Expr) EvalBool(env Env) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	b, ok := v.(ir.Bool)
	if !ok {
		return false, withSource(typeErr(e.root.pos(), "condition produced %s, want boolean", ir.TypeName(v)), e.src)
	}
	return bool(b), nil
}

type node interface {
	eval(env *Env) (ir.Value, error)
	pos() int
}

type literalNode struct {
	val ir.Value
	at  int
}

func (n *literalNode) eval(*Env) (ir.Value, error) { return n.val, nil }
func (n *literalNode) pos() int                    { return n.at }

type refNode struct {
	ref reference
	at  int
}

func (n *refNode) pos() int { return n.at }

func (n *refNode) eval(env *Env) (ir.Value, error) {
	var root ir.Value
	switch n.ref.namespace {
	case NamespaceInput:
		if env.InputName != n.ref.name {
			return nil, unresolvedErr(n.at, "input %s did not trigger this evaluation", n.ref.name)
		}
		root = env.Payload
	default:
		v, ok := env.Variables[n.ref.name]
		if !ok {
			return nil, unresolvedErr(n.at, "variable %s is not set", n.ref.name)
		}
		if len(n.ref.path) == 0 {
			return v, nil
		}
		root = v
	}
	v, ok := ir.Lookup(root, n.ref.path)
	if !ok {
		return nil, unresolvedErr(n.at, "%s not found", n.ref)
	}
	return v, nil
}

type unaryNode struct {
	op      string
	operand node
	at      int
}

func (n *unaryNode) pos() int { return n.at }

func (n *unaryNode) eval(env *Env) (ir.Value, error) {
	v, err := n.operand.eval(env)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "!":
		b, ok := v.(ir.Bool)
		if !ok {
			return nil, typeErr(n.at, "! requires boolean, got %s", ir.TypeName(v))
		}
		return !b, nil
	default:
		f, ok := v.(ir.Number)
		if !ok {
			return nil, typeErr(n.at, "unary - requires number, got %s", ir.TypeName(v))
		}
		return -f, nil
	}
}

type binaryNode struct {
	op          string
	left, right node
	at          int
}

func (n *binaryNode) pos() int { return n.at }

func (n *binaryNode) eval(env *Env) (ir.Value, error) {
	left, err := n.left.eval(env)
	if err != nil {
		return nil, err
	}

	// && and || decide on the left operand when they can; the right
	// operand is then never evaluated and cannot fail.
	if n.op == "&&" || n.op == "||" {
		lb, ok := left.(ir.Bool)
		if !ok {
			return nil, typeErr(n.at, "%s requires boolean operands, got %s", n.op, ir.TypeName(left))
		}
		if (n.op == "&&" && !bool(lb)) || (n.op == "||" && bool(lb)) {
			return lb, nil
		}
		right, err := n.right.eval(env)
		if err != nil {
			return nil, err
		}
		rb, ok := right.(ir.Bool)
		if !ok {
			return nil, typeErr(n.at, "%s requires boolean operands, got %s", n.op, ir.TypeName(right))
		}
		return rb, nil
	}

	right, err := n.right.eval(env)
	if err != nil {
		return nil, err
	}

	switch n.op {
	case "==":
		return ir.Bool(ir.Equal(left, right)), nil
	case "!=":
		return ir.Bool(!ir.Equal(left, right)), nil
	case "<", "<=", ">", ">=":
		return n.compare(left, right)
	case "+":
		_, ls := left.(ir.String)
		_, rs := right.(ir.String)
		if ls || rs {
			return ir.String(Stringify(left) + Stringify(right)), nil
		}
	}
	return n.arithmetic(left, right)
}

func (n *binaryNode) compare(left, right ir.Value) (ir.Value, error) {
	var c int
	switch l := left.(type) {
	case ir.Number:
		r, ok := right.(ir.Number)
		if !ok {
			return nil, typeErr(n.at, "cannot compare number %s %s", n.op, ir.TypeName(right))
		}
		switch {
		case l < r:
			c = -1
		case l > r:
			c = 1
		case l == r:
			c = 0
		default:
			return ir.Bool(false), nil // NaN
		}
	case ir.String:
		r, ok := right.(ir.String)
		if !ok {
			return nil, typeErr(n.at, "cannot compare string %s %s", n.op, ir.TypeName(right))
		}
		switch {
		case l < r:
			c = -1
		case l > r:
			c = 1
		}
	default:
		return nil, typeErr(n.at, "%s requires numbers or strings, got %s", n.op, ir.TypeName(left))
	}

	switch n.op {
	case "<":
		return ir.Bool(c < 0), nil
	case "<=":
		return ir.Bool(c <= 0), nil
	case ">":
		return ir.Bool(c > 0), nil
	default:
		return ir.Bool(c >= 0), nil
	}
}

func (n *binaryNode) arithmetic(left, right ir.Value) (ir.Value, error) {
	l, lok := left.(ir.Number)
	r, rok := right.(ir.Number)
	if !lok || !rok {
		return nil, typeErr(n.at, "%s requires numbers, got %s and %s", n.op, ir.TypeName(left), ir.TypeName(right))
	}
	switch n.op {
	case "+":
		return l + r, nil
	case "-":
		return l - r, nil
	case "*":
		return l * r, nil
	case "/":
		if r == 0 {
			return nil, typeErr(n.at, "division by zero")
		}
		return l / r, nil
	default:
		if r == 0 {
			return nil, typeErr(n.at, "modulo by zero")
		}
		return ir.Number(math.Mod(float64(l), float64(r))), nil
	}
}

type callNode struct {
	name    string
	fn      builtin
	typeArg string // convert's target type
	args    []node
	at      int
}

func (n *callNode) pos() int { return n.at }

func (n *callNode) eval(env *Env) (ir.Value, error) {
	return n.fn.call(n, env)
}

// Stringify renders a value for string concatenation and templates.
func Stringify(v ir.Value) string {
	if s, ok := ir.KeyString(v); ok {
		return s
	}
	if _, ok := v.(ir.Null); ok || v == nil {
		return "null"
	}
	b, err := ir.MarshalCanonical(v)
	if err != nil {
		return ir.TypeName(v)
	}
	return string(b)
}

package expr

import (
	"math"
	"strconv"
	"strings"

	"github.com/roach88/tripwire/internal/ir"
)

type builtin struct {
	arity int
	call  func(n *callNode, env *Env) (ir.Value, error)
}

var builtins = map[string]builtin{
	"timeout":      {arity: 1, call: fnTimeout},
	"currentInput": {arity: 1, call: fnCurrentInput},
	"isUndefined":  {arity: 1, call: fnIsUndefined},
	"isNull":       {arity: 1, call: typeTest(func(v ir.Value) bool { _, ok := v.(ir.Null); return ok })},
	"isString":     {arity: 1, call: typeTest(func(v ir.Value) bool { _, ok := v.(ir.String); return ok })},
	"isNumber":     {arity: 1, call: typeTest(func(v ir.Value) bool { _, ok := v.(ir.Number); return ok })},
	"isBoolean":    {arity: 1, call: typeTest(func(v ir.Value) bool { _, ok := v.(ir.Bool); return ok })},
	"isNaN":        {arity: 1, call: typeTest(isNaN)},
	"convert":      {arity: 1, call: fnConvert},
	"abs":          {arity: 1, call: numeric(math.Abs)},
	"ceil":         {arity: 1, call: numeric(math.Ceil)},
	"floor":        {arity: 1, call: numeric(math.Floor)},
}

func stringArg(n *callNode, env *Env) (string, error) {
	v, err := n.args[0].eval(env)
	if err != nil {
		return "", err
	}
	s, ok := v.(ir.String)
	if !ok {
		return "", typeErr(n.at, "%s expects a string argument, got %s", n.name, ir.TypeName(v))
	}
	return string(s), nil
}

// timeout is true only in the cycle triggered by the named timer's expiry.
func fnTimeout(n *callNode, env *Env) (ir.Value, error) {
	name, err := stringArg(n, env)
	if err != nil {
		return nil, err
	}
	return ir.Bool(env.TimerName != "" && env.TimerName == name), nil
}

func fnCurrentInput(n *callNode, env *Env) (ir.Value, error) {
	name, err := stringArg(n, env)
	if err != nil {
		return nil, err
	}
	return ir.Bool(env.InputName != "" && env.InputName == name), nil
}

// isUndefined absorbs Unresolved errors only; other errors propagate.
func fnIsUndefined(n *callNode, env *Env) (ir.Value, error) {
	_, err := n.args[0].eval(env)
	if err == nil {
		return ir.Bool(false), nil
	}
	if IsUnresolved(err) {
		return ir.Bool(true), nil
	}
	return nil, err
}

func typeTest(pred func(ir.Value) bool) func(*callNode, *Env) (ir.Value, error) {
	return func(n *callNode, env *Env) (ir.Value, error) {
		v, err := n.args[0].eval(env)
		if err != nil {
			return nil, err
		}
		return ir.Bool(pred(v)), nil
	}
}

func isNaN(v ir.Value) bool {
	switch val := v.(type) {
	case ir.Number:
		return math.IsNaN(float64(val))
	case ir.String:
		_, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
		return err != nil
	default:
		return true
	}
}

func numeric(f func(float64) float64) func(*callNode, *Env) (ir.Value, error) {
	return func(n *callNode, env *Env) (ir.Value, error) {
		v, err := n.args[0].eval(env)
		if err != nil {
			return nil, err
		}
		num, ok := v.(ir.Number)
		if !ok {
			return nil, typeErr(n.at, "%s expects a number, got %s", n.name, ir.TypeName(v))
		}
		return ir.Number(f(float64(num))), nil
	}
}

func validConvertType(t string) bool {
	return t == "String" || t == "Decimal" || t == "Boolean"
}

func fnConvert(n *callNode, env *Env) (ir.Value, error) {
	v, err := n.args[0].eval(env)
	if err != nil {
		return nil, err
	}
	switch n.typeArg {
	case "String":
		return ir.String(Stringify(v)), nil
	case "Decimal":
		switch val := v.(type) {
		case ir.Number:
			return val, nil
		case ir.Bool:
			if val {
				return ir.Number(1), nil
			}
			return ir.Number(0), nil
		case ir.String:
			f, err := strconv.ParseFloat(strings.TrimSpace(string(val)), 64)
			if err != nil {
				return nil, typeErr(n.at, "cannot convert %q to Decimal", string(val))
			}
			return ir.Number(f), nil
		}
	case "Boolean":
		switch val := v.(type) {
		case ir.Bool:
			return val, nil
		case ir.Number:
			return ir.Bool(val != 0), nil
		case ir.String:
			b, err := strconv.ParseBool(strings.ToLower(strings.TrimSpace(string(val))))
			if err != nil {
				return nil, typeErr(n.at, "cannot convert %q to Boolean", string(val))
			}
			return ir.Bool(b), nil
		}
	}
	return nil, typeErr(n.at, "cannot convert %s to %s", ir.TypeName(v), n.typeArg)
}

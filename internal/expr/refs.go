package expr

import (
	"slices"

	"github.com/roach88/tripwire/internal/ir"
)

// Reference is one $input or $variable read by an expression.
type Reference struct {
	Namespace string
	Name      string
	Path      ir.Path
}

func (r Reference) String() string {
	s := "$" + r.Namespace + "." + r.Name
	if len(r.Path) == 0 {
		return s
	}
	p := r.Path.String()
	if r.Path[0].IsIdx {
		return s + p
	}
	return s + "." + p
}

func (r reference) String() string {
	return Reference{Namespace: r.namespace, Name: r.name, Path: r.path}.String()
}

// References lists the reads of an expression in source order.
func (e *Expr) References() []Reference {
	var refs []Reference
	walk(e.root, func(n node) {
		if r, ok := n.(*refNode); ok {
			refs = append(refs, Reference{Namespace: r.ref.namespace, Name: r.ref.name, Path: r.ref.path})
		}
	})
	return refs
}

// InputNames returns the distinct inputs referenced via $input or
// currentInput("name"), sorted.
func (e *Expr) InputNames() []string {
	var names []string
	for _, r := range e.References() {
		if r.Namespace == NamespaceInput {
			names = append(names, r.Name)
		}
	}
	names = append(names, e.literalArgs("currentInput")...)
	slices.Sort(names)
	return slices.Compact(names)
}

// TimerNames returns the timers named by literal timeout("name") calls.
func (e *Expr) TimerNames() []string {
	names := e.literalArgs("timeout")
	slices.Sort(names)
	return slices.Compact(names)
}

func (e *Expr) literalArgs(fn string) []string {
	var out []string
	walk(e.root, func(n node) {
		c, ok := n.(*callNode)
		if !ok || c.name != fn || len(c.args) != 1 {
			return
		}
		if lit, ok := c.args[0].(*literalNode); ok {
			if s, ok := lit.val.(ir.String); ok {
				out = append(out, string(s))
			}
		}
	})
	return out
}

func walk(n node, visit func(node)) {
	if n == nil {
		return
	}
	visit(n)
	switch v := n.(type) {
	case *unaryNode:
		walk(v.operand, visit)
	case *binaryNode:
		walk(v.left, visit)
		walk(v.right, visit)
	case *callNode:
		for _, a := range v.args {
			walk(a, visit)
		}
	}
}

package registry

import "github.com/roach88/tripwire/internal/ir"

// modelTransitions lists the legal status changes of a model version.
// The zero status is a version that has not been stored yet.
var modelTransitions = map[ir.ModelStatus][]ir.ModelStatus{
	"":                  {ir.StatusActivating, ir.StatusDraft},
	ir.StatusDraft:      {ir.StatusActivating, ir.StatusDeleting},
	ir.StatusActivating: {ir.StatusActive, ir.StatusFailed},
	ir.StatusActive:     {ir.StatusInactive, ir.StatusPaused, ir.StatusDeleting},
	ir.StatusPaused:     {ir.StatusActive, ir.StatusInactive, ir.StatusDeleting},
	ir.StatusInactive:   {ir.StatusDeleting},
	ir.StatusFailed:     {ir.StatusDeleting},
	ir.StatusDeleting:   {},
}

// CanTransition reports whether a version may move from one status to another.
func CanTransition(from, to ir.ModelStatus) bool {
	for _, s := range modelTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// AcceptsInput reports whether a version in status s evaluates messages.
func AcceptsInput(s ir.ModelStatus) bool {
	return s == ir.StatusActive
}

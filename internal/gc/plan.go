// Package gc implements GC tracer synthesis (§4.4): deriving, for each
// heap type the plan names, a ScanPath describing how to walk a value of
// that type for GC-traced references, and a work-stealing worker pool
// that drives those scan paths over the live heap.
package gc

import "corevm/internal/typemodel"

// Plan names the set of heap types the collector must trace (ScanTypes)
// and the set of types considered already "clean" — traced-and-owned
// elsewhere, so a Reference naming one is a trace root rather than
// something to recurse further into; an Embed is traced when it names a
// ScanTypes entry (spec.md §4.4's GCPlan).
type Plan struct {
	Types      map[string]typemodel.Type
	ScanTypes  []string
	CleanTypes map[string]bool
}

func NewPlan() *Plan {
	return &Plan{
		Types:      make(map[string]typemodel.Type),
		CleanTypes: make(map[string]bool),
	}
}

// Register adds a named type to the plan and marks it scan-eligible.
func (p *Plan) Register(name string, ty typemodel.Type) {
	p.Types[name] = ty
	p.ScanTypes = append(p.ScanTypes, name)
}

// MarkClean records that `name` is already owned/traced elsewhere: a
// Reference naming it is a trace root, not something to recurse
// structurally into.
func (p *Plan) MarkClean(name string) {
	p.CleanTypes[name] = true
}

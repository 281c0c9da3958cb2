// Package codegen implements the Code Generator (CG): it lowers the
// Instruction Algebra into both a real LLVM module (github.com/llir/llvm)
// — built by lower_llvm.go for verification and textual introspection —
// and a tree-walking interpreter that is this module's actual execution
// path, per spec.md §4.3 and DESIGN.md's "native execution" Open
// Question.
package codegen

import (
	"math"
)

// Env is the runtime execution environment threaded through a lowered
// instruction body: the SSA-register view spec.md §4.3 describes,
// implemented as a name-keyed local map rather than literal byte offsets
// (instructions run in the tree-walking interpreter, not as JIT-compiled
// machine code; see DESIGN.md Open Question 1).
type Env struct {
	Locals   map[string]uint64
	Regs     []uint64 // the top-level register frame (entry/exit operand binding only)
	NewState *int      // set by OpSetState; read by the caller after ExecComplex returns
}

func NewEnv(regs []uint64) *Env {
	return &Env{Locals: make(map[string]uint64), Regs: regs}
}

func (e *Env) Get(name string) uint64   { return e.Locals[name] }
func (e *Env) Set(name string, v uint64) { e.Locals[name] = v }

func f64(bits uint64) float64  { return math.Float64frombits(bits) }
func toBits(f float64) uint64  { return math.Float64bits(f) }

func boolBits(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// signExtend sign-extends the low `bits`-wide two's-complement value in v.
func signExtend(v uint64, bits int) int64 {
	shift := 64 - bits
	return int64(v<<uint(shift)) >> uint(shift)
}

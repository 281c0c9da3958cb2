package codegen

import (
	"corevm/internal/cerrors"
	"corevm/internal/instr"
)

const maxBlockSteps = 1 << 20 // guards against a malformed CFG looping forever

// ExecComplex interprets a Complex instruction's block graph (spec.md
// §4.3 "Lowering a Complex body"), starting at Blocks[0]. env must
// already carry the callee's Input operands bound by name. It returns
// the Return value, or 0 if the body falls off the end.
func (g *Generator) ExecComplex(c *instr.Complex, env *Env) (uint64, error) {
	if len(c.Blocks) == 0 {
		return 0, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{Function: c.Name}, "complex instruction has no blocks")
	}
	curID := c.Blocks[0].ID
	prevID := -1
	for steps := 0; steps < maxBlockSteps; steps++ {
		block := c.Block(curID)
		if block == nil {
			return 0, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{Function: c.Name, BlockID: curID}, "branch to unknown block")
		}
		for _, phi := range block.Phi {
			for _, m := range phi.Map {
				if m.FromBlock == prevID {
					env.Set(phi.Var, env.Get(m.FromVar))
					break
				}
			}
		}
		next, retVal, halted, err := g.execBlock(block, env)
		if err != nil {
			return 0, err
		}
		if halted {
			return retVal, nil
		}
		prevID = curID
		curID = next
	}
	return 0, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{Function: c.Name}, "control flow did not terminate within step budget")
}

// execBlock runs one basic block's statement list and reports either the
// next block to jump to, or a halted Return value.
func (g *Generator) execBlock(block *instr.BasicBlock, env *Env) (next int, retVal uint64, halted bool, err error) {
	for i, stat := range block.Stat {
		switch s := stat.(type) {
		case instr.Move:
			env.Set(s.Dst, env.Get(s.Src))
		case instr.Lit:
			env.Set(s.Dst, litBits(s.Value))
		case instr.InstructionCall:
			n, rv, h, e := g.execCall(&s, env)
			if e != nil {
				return 0, 0, false, cerrors.Wrap(cerrors.TypeMismatch, cerrors.Attribution{StatIndex: i, BlockID: block.ID}, e)
			}
			if h {
				return 0, rv, true, nil
			}
			if n >= 0 {
				return n, 0, false, nil
			}
		}
	}
	// Unterminated block: spec.md §4.3 branches to a shared exit block;
	// this interpreter treats falling off the end as an implicit Return 0.
	return 0, 0, true, nil
}

func litBits(v interface{}) uint64 {
	switch x := v.(type) {
	case uint64:
		return x
	case int64:
		return uint64(x)
	case int:
		return uint64(x)
	case bool:
		return boolBits(x)
	case float64:
		return toBits(x)
	default:
		return 0
	}
}

// execCall dispatches one InstructionCall statement. next is -1 when the
// call was an ordinary value-producing call (execution continues to the
// block's next statement); next >= 0 for Branch/BranchIf (jump); halted
// is true for Return.
func (g *Generator) execCall(call *instr.InstructionCall, env *Env) (next int, retVal uint64, halted bool, err error) {
	if b, ok := call.Callee.(*instr.Bootstrap); ok {
		switch b.Op {
		case instr.OpBranch:
			return call.Generics[0].BlockID, 0, false, nil
		case instr.OpBranchIf:
			cond := env.Get(call.Args[0])
			if cond != 0 {
				return call.Generics[0].BlockID, 0, false, nil
			}
			return call.Generics[1].BlockID, 0, false, nil
		case instr.OpReturn:
			if len(call.Args) == 0 {
				return -1, 0, true, nil
			}
			return -1, env.Get(call.Args[0]), true, nil
		case instr.OpInvoke:
			// No first-class function values in this interpreter; the
			// callee's side effects (if any) were already applied by its
			// own lowering. Always takes the "then" edge — "catch" is
			// reachable only through a real unwinding implementation,
			// out of scope here (guest errors use cerrors.RuntimeError
			// instead, see internal/shape's metamethod fallback).
			return call.Generics[0].BlockID, 0, false, nil
		case instr.OpSetState:
			idx := int(litBits(call.Generics[0].ConstValue))
			env.NewState = &idx
			return -1, 0, false, nil
		default:
			if err := evalBootstrap(b, env, call.Args, call.Rets); err != nil {
				return 0, 0, false, err
			}
			return -1, 0, false, nil
		}
	}

	result, err := g.execNestedInstruction(call, env)
	if err != nil {
		return 0, 0, false, err
	}
	if len(call.Rets) > 0 {
		env.Set(call.Rets[0], result)
	}
	return -1, 0, false, nil
}

// execNestedInstruction runs a non-Bootstrap callee (Complex/Stateful/
// Compression) inline, per spec.md §4.3's Complex/Stateful/Compression
// lowering rules.
func (g *Generator) execNestedInstruction(call *instr.InstructionCall, env *Env) (uint64, error) {
	switch callee := call.Callee.(type) {
	case *instr.Complex:
		nested := NewEnv(env.Regs)
		meta := instr.CachedMetadata(callee)
		wantIn := 0
		for _, op := range meta.Operands {
			if op.Input {
				wantIn++
			}
		}
		if wantIn != len(call.Args) {
			return 0, cerrors.NewCompileError(cerrors.UnknownOperand, cerrors.Attribution{Function: callee.Name},
				"call site supplies %d arg(s), callee declares %d input operand(s)", len(call.Args), wantIn)
		}
		argIdx := 0
		for _, op := range meta.Operands {
			if op.Input {
				nested.Set(op.Name, env.Get(call.Args[argIdx]))
				argIdx++
			}
		}
		return g.ExecComplex(callee, nested)

	case *instr.Stateful:
		// CallState{s}: shares the caller's operands (spec.md §4.3), so we
		// execute inline against the SAME env, not a fresh one. The target
		// state index is a compile-time constant generic, same convention
		// as SetState and a Compression's sub-opcode.
		idx := 0
		if len(call.Generics) > 0 {
			idx = int(litBits(call.Generics[0].ConstValue))
		}
		if idx < 0 || idx >= len(callee.Statuses) {
			return 0, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{Function: callee.Name}, "CallState index out of range")
		}
		ret, err := g.ExecComplex(callee.Statuses[idx].Body, env)
		if err != nil {
			return 0, err
		}
		// A nested CallState's own SetState (if any) is local to that
		// sub-body and must not be mistaken for the enclosing Stateful
		// instruction's transition.
		env.NewState = nil
		return ret, nil

	case *instr.Compression:
		// The sub-opcode is bound as a compile-time constant generic at
		// this call site; resolve and lower the chosen sub-instruction
		// directly (spec.md §4.3 "Lowering a Compression instruction").
		var subOpcode uint64
		if len(call.Generics) > 0 {
			subOpcode = litBits(call.Generics[0].ConstValue)
		}
		sub, ok := callee.Inner.Lookup(uint32(subOpcode))
		if !ok {
			return 0, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{Function: callee.Name}, "unknown compression sub-opcode %d", subOpcode)
		}
		inner := instr.InstructionCall{Callee: sub, Generics: call.Generics[1:], Args: call.Args, Rets: call.Rets}
		next, retVal, halted, err := g.execCall(&inner, env)
		if err != nil {
			return 0, err
		}
		if halted || next >= 0 {
			return retVal, nil
		}
		if len(inner.Rets) > 0 {
			return env.Get(inner.Rets[0]), nil
		}
		return 0, nil

	default:
		return 0, cerrors.NewCompileError(cerrors.TypeMismatch, cerrors.Attribution{}, "unknown instruction variant")
	}
}

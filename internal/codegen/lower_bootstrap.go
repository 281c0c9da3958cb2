package codegen

import (
	"corevm/internal/cerrors"
	"corevm/internal/instr"
	"corevm/internal/typemodel"
)

// maskTo truncates v to the IntKind's bit width (unsigned wraparound,
// spec.md §4.2 "Arith/cmp").
func maskTo(v uint64, k typemodel.IntKind) uint64 {
	bits := k.Bits()
	if bits >= 64 {
		return v
	}
	return v & ((uint64(1) << uint(bits)) - 1)
}

// evalBootstrap interprets one Bootstrap op's semantics against the bound
// args/rets operand names. A call site whose Args/Rets count falls short
// of what this op indexes into (spec.md §8 "Metadata consistency") panics
// on the args[i]/rets[i] slice index and is converted to a proper
// cerrors.IndexOutOfRange compile error by the deferred recover below,
// rather than propagating a raw runtime panic out of the generator.
func evalBootstrap(b *instr.Bootstrap, env *Env, args, rets []string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{Stage: cerrors.StageGenerate},
				"bootstrap op %d: operand count mismatch (have %d args, %d rets): %v", b.Op, len(args), len(rets), r)
		}
	}()
	get := func(i int) uint64 { return env.Get(args[i]) }
	set := func(i int, v uint64) { env.Set(rets[i], v) }
	k := b.IntKind

	switch b.Op {
	// ---- Arith/cmp ----
	case instr.OpAdd:
		set(0, maskTo(get(0)+get(1), k))
	case instr.OpSub:
		set(0, maskTo(get(0)-get(1), k))
	case instr.OpMul:
		set(0, maskTo(get(0)*get(1), k))
	case instr.OpDiv:
		if k.Signed() {
			a, bb := signExtend(get(0), k.Bits()), signExtend(get(1), k.Bits())
			if bb == 0 {
				return cerrors.NewRuntimeError("Div", "division by zero")
			}
			set(0, maskTo(uint64(a/bb), k))
		} else {
			a, bb := maskTo(get(0), k), maskTo(get(1), k)
			if bb == 0 {
				return cerrors.NewRuntimeError("Div", "division by zero")
			}
			set(0, maskTo(a/bb, k))
		}
	case instr.OpRem:
		if k.Signed() {
			a, bb := signExtend(get(0), k.Bits()), signExtend(get(1), k.Bits())
			if bb == 0 {
				return cerrors.NewRuntimeError("Rem", "division by zero")
			}
			set(0, maskTo(uint64(a%bb), k))
		} else {
			a, bb := maskTo(get(0), k), maskTo(get(1), k)
			if bb == 0 {
				return cerrors.NewRuntimeError("Rem", "division by zero")
			}
			set(0, maskTo(a%bb, k))
		}
	case instr.OpNeg:
		set(0, maskTo(uint64(-int64(get(0))), k))

	case instr.OpFAdd:
		set(0, toBits(f64(get(0))+f64(get(1))))
	case instr.OpFSub:
		set(0, toBits(f64(get(0))-f64(get(1))))
	case instr.OpFMul:
		set(0, toBits(f64(get(0))*f64(get(1))))
	case instr.OpFDiv:
		set(0, toBits(f64(get(0))/f64(get(1))))
	case instr.OpFRem:
		a, bb := f64(get(0)), f64(get(1))
		set(0, toBits(a-bb*float64(int64(a/bb))))
	case instr.OpFNeg:
		set(0, toBits(-f64(get(0))))

	case instr.OpCmpEQ:
		set(0, boolBits(maskTo(get(0), k) == maskTo(get(1), k)))
	case instr.OpCmpNE:
		set(0, boolBits(maskTo(get(0), k) != maskTo(get(1), k)))
	case instr.OpCmpLT:
		set(0, boolBits(signExtend(get(0), k.Bits()) < signExtend(get(1), k.Bits())))
	case instr.OpCmpLE:
		set(0, boolBits(signExtend(get(0), k.Bits()) <= signExtend(get(1), k.Bits())))
	case instr.OpCmpGT:
		set(0, boolBits(signExtend(get(0), k.Bits()) > signExtend(get(1), k.Bits())))
	case instr.OpCmpGE:
		set(0, boolBits(signExtend(get(0), k.Bits()) >= signExtend(get(1), k.Bits())))
	case instr.OpUCmpLT:
		set(0, boolBits(maskTo(get(0), k) < maskTo(get(1), k)))
	case instr.OpUCmpLE:
		set(0, boolBits(maskTo(get(0), k) <= maskTo(get(1), k)))
	case instr.OpUCmpGT:
		set(0, boolBits(maskTo(get(0), k) > maskTo(get(1), k)))
	case instr.OpUCmpGE:
		set(0, boolBits(maskTo(get(0), k) >= maskTo(get(1), k)))
	case instr.OpFCmpEQ:
		set(0, boolBits(f64(get(0)) == f64(get(1))))
	case instr.OpFCmpNE:
		set(0, boolBits(f64(get(0)) != f64(get(1))))
	case instr.OpFCmpLT:
		set(0, boolBits(f64(get(0)) < f64(get(1))))
	case instr.OpFCmpLE:
		set(0, boolBits(f64(get(0)) <= f64(get(1))))
	case instr.OpFCmpGT:
		set(0, boolBits(f64(get(0)) > f64(get(1))))
	case instr.OpFCmpGE:
		set(0, boolBits(f64(get(0)) >= f64(get(1))))

	// ---- Bit ----
	case instr.OpAnd:
		set(0, maskTo(get(0)&get(1), k))
	case instr.OpOr:
		set(0, maskTo(get(0)|get(1), k))
	case instr.OpXor:
		set(0, maskTo(get(0)^get(1), k))
	case instr.OpShl:
		set(0, maskTo(get(0)<<uint(get(1)%uint64(k.Bits())), k))
	case instr.OpShr:
		set(0, maskTo(uint64(signExtend(get(0), k.Bits())>>uint(get(1)%uint64(k.Bits()))), k))
	case instr.OpUshr:
		set(0, maskTo(maskTo(get(0), k)>>uint(get(1)%uint64(k.Bits())), k))
	case instr.OpNot:
		set(0, maskTo(^get(0), k))

	// ---- Casts ----
	case instr.OpIntExtend:
		set(0, uint64(signExtend(get(0), k.Bits())))
	case instr.OpUIntExtend:
		set(0, maskTo(get(0), k))
	case instr.OpIntTruncate:
		set(0, maskTo(get(0), k))
	case instr.OpIntToFloat:
		if k.Signed() {
			set(0, toBits(float64(signExtend(get(0), k.Bits()))))
		} else {
			set(0, toBits(float64(maskTo(get(0), k))))
		}
	case instr.OpFloatToInt:
		if k.Signed() {
			set(0, maskTo(uint64(int64(f64(get(0)))), k))
		} else {
			set(0, maskTo(uint64(f64(get(0))), k))
		}
	case instr.OpFloatToFloat:
		set(0, get(0))
	case instr.OpCastUnchecked:
		set(0, get(0))

	// ---- Memory (subset backing the GC scan-path interpreter) ----
	case instr.OpRead:
		set(0, readMemory(env, get(0), b.ValueType))
	case instr.OpWrite:
		writeMemory(env, get(0), get(1), b.ValueType)
	case instr.OpDeref:
		set(0, readMemory(env, get(0), b.ValueType))
	case instr.OpGetPointer:
		set(0, get(0))

	// ---- Aggregate (subset backing the GC scan-path interpreter) ----
	case instr.OpLocateField:
		set(0, get(0)+uint64(b.FieldIndex))
	case instr.OpGetField:
		set(0, readMemory(env, get(0)+uint64(b.FieldIndex), b.ValueType))
	case instr.OpSetField:
		writeMemory(env, get(0)+uint64(b.FieldIndex), get(1), b.ValueType)
	case instr.OpLocateElement:
		elemSize := b.ValueType.Layout().Size
		set(0, get(0)+get(1)*elemSize)
	case instr.OpGetLength:
		set(0, readMemory(env, get(0), typemodel.IntType{K: typemodel.Usize}))
	case instr.OpSetLength:
		writeMemory(env, get(0), get(1), typemodel.IntType{K: typemodel.Usize})

	// ---- Enum ----
	case instr.OpGetTag:
		set(0, evalGetTag(get(0), b.Tag))
	case instr.OpReadTag:
		set(0, evalGetTag(get(0), b.Tag))
	case instr.OpWriteTag:
		set(0, evalWriteTag(get(0), get(1), b.Tag))
	case instr.OpDecodeVariantUnchecked:
		set(0, get(0))
	case instr.OpEncodeVariant:
		set(0, evalEncodeVariant(get(0), get(1), b.Tag))

	default:
		return cerrors.NewCompileError(cerrors.UnknownOperand, cerrors.Attribution{Stage: cerrors.StageGenerate},
			"no interpreter semantics registered for bootstrap op %d", b.Op)
	}
	return nil
}

// readMemory/writeMemory model the (regs*, ip*) memory ops over a simple
// heap of 8-byte cells keyed by "address" (an index into env.Regs treated
// as a flat heap for the tree-walking interpreter's test scenarios);
// production heaps are owned by internal/gc and internal/shape, which
// bypass this generic path and call their own field accessors directly.
func readMemory(env *Env, addr uint64, ty typemodel.Type) uint64 {
	idx := int(addr)
	if idx < 0 || idx >= len(env.Regs) {
		return 0
	}
	return env.Regs[idx]
}

func writeMemory(env *Env, addr, value uint64, ty typemodel.Type) {
	idx := int(addr)
	if idx < 0 || idx >= len(env.Regs) {
		return
	}
	env.Regs[idx] = value
}

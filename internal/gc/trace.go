package gc

import "corevm/internal/typemodel"

// Memory abstracts the heap access a trace needs: reading a uint64 field
// at a byte offset from a pointer. GC scanning talks to the heap directly
// rather than through internal/emitter's generic register machinery (see
// internal/codegen/lower_bootstrap.go's readMemory/writeMemory doc note).
type Memory interface {
	ReadU64(ptr uint64, offset uint64) uint64
}

// Trace walks a synthesized ScanPath over one value, invoking push for
// every GC-traced reference it finds (spec.md §4.4's "Lowering a scan
// path"). ptr is either a pointer to the value (kind=true) or the
// already-loaded value itself (kind=false); PointerPath is the only node
// that flips this between levels, mirroring scanner.rs's BlockKind.
func Trace(path ScanPath, mem Memory, ptr uint64, isPointer bool, push func(uint64)) {
	switch p := path.(type) {
	case ReferencePath:
		if isPointer {
			push(mem.ReadU64(ptr, 0))
		} else {
			push(ptr)
		}
	case EmbedPath:
		push(ptr)

	case PointerPath:
		var target uint64
		if isPointer {
			target = mem.ReadU64(ptr, 0)
		} else {
			target = ptr
		}
		Trace(p.Sub, mem, target, true, push)

	case TuplePath:
		for _, arm := range p.SubPaths {
			var field uint64
			if isPointer {
				field = ptr + arm.Offset
			} else {
				field = readComposedField(ptr, fieldMask(arm.Offset, arm.Size), int(arm.Offset*8))
			}
			Trace(arm.Sub, mem, field, isPointer, push)
		}

	case ComposedTuplePath:
		for _, arm := range p.SubPaths {
			var field uint64
			if isPointer {
				field = readComposedField(mem.ReadU64(ptr, 0), arm.Mask, arm.BitOffset)
			} else {
				field = readComposedField(ptr, arm.Mask, arm.BitOffset)
			}
			Trace(arm.Sub, mem, field, false, push)
		}

	case EnumPath:
		traceEnum(p, mem, ptr, isPointer, push)

	case ArrayPath:
		traceArray(p, mem, ptr, isPointer, push)
	}
}

// traceEnum dispatches to whichever arm's tag matches. When exactly one
// arm needs scanning the tag comparison is fused into a single
// range/equality filter rather than materializing the tag into an
// intermediate value first — the short-circuit DESIGN.md documents for
// spec.md §9's worked example (a lone scan-eligible variant never needs
// its own tag value read out, only a pass/fail check).
func traceEnum(p EnumPath, mem Memory, ptr uint64, isPointer bool, push func(uint64)) {
	var value uint64
	if isPointer {
		value = mem.ReadU64(ptr, 0)
	} else {
		value = ptr
	}

	if len(p.SubPaths) == 1 {
		arm := p.SubPaths[0]
		if enumArmMatches(p.Tag, value, arm.VariantIndex) {
			Trace(arm.Sub, mem, value, false, push)
		}
		return
	}

	tag := getTag(p.Tag, value)
	for _, arm := range p.SubPaths {
		if int(tag) == arm.VariantIndex {
			Trace(arm.Sub, mem, value, false, push)
			return
		}
	}
}

// enumArmMatches reproduces the fused filter variants
// (FilterByNicheTag/FilterByU8Tag/...) scanner.rs emits for a single
// traced arm, without computing a separate tag value first.
func enumArmMatches(tag typemodel.TagLayout, value uint64, variantIndex int) bool {
	switch t := tag.(type) {
	case typemodel.UndefinedValueTag:
		v := int64(value)
		inNiche := v >= t.Start && v < t.End
		if variantIndex == 0 {
			return !inNiche
		}
		return inNiche && v == t.Start+int64(variantIndex)-1
	default:
		return int(getTag(tag, value)) == variantIndex
	}
}

func getTag(tag typemodel.TagLayout, value uint64) uint64 {
	switch t := tag.(type) {
	case typemodel.UndefinedValueTag:
		v := int64(value)
		if v >= t.Start && v < t.End {
			return uint64(v-t.Start) + 1
		}
		return 0
	case typemodel.SmallFieldTag:
		return (value & t.Mask) >> uint(t.BitOffset)
	case typemodel.UnusedBytesTag:
		return readComposedField(value, maskBytes(t.Size)<<(t.Offset*8), int(t.Offset*8))
	case typemodel.AppendTagTag:
		return readComposedField(value, maskBytes(t.Size)<<(t.Offset*8), int(t.Offset*8))
	default:
		return 0
	}
}

func readComposedField(value, mask uint64, bitOffset int) uint64 {
	return (value & mask) >> uint(bitOffset)
}

func fieldMask(offset, size uint64) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return ((uint64(1) << (size * 8)) - 1) << (offset * 8)
}

func maskBytes(size uint64) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (size * 8)) - 1
}

func traceArray(p ArrayPath, mem Memory, ptr uint64, isPointer bool, push func(uint64)) {
	base := ptr
	n := uint64(0)
	if p.Size != nil {
		n = *p.Size
	} else if isPointer {
		n = mem.ReadU64(ptr, 0)
		base = ptr + 8
	}
	for i := uint64(0); i < n; i++ {
		elem := base + i*p.ElementSize
		push(elem)
	}
}

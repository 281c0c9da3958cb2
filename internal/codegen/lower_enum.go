package codegen

import "corevm/internal/typemodel"

// evalGetTag/evalWriteTag/evalEncodeVariant implement the four tag-layout
// semantics of spec.md §3 over this interpreter's flat uint64 value
// model. Exact numeric worked examples in spec.md §8 scenario 2 are
// illustrative only; the authoritative semantics are the per-layout
// definitions in §3, reproduced here.
func evalGetTag(value uint64, tag typemodel.TagLayout) uint64 {
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
		shift := t.Offset * 8
		mask := maskBytes(t.Size)
		return (value >> uint(shift)) & mask
	case typemodel.AppendTagTag:
		shift := t.Offset * 8
		mask := maskBytes(t.Size)
		return (value >> uint(shift)) & mask
	default:
		return 0
	}
}

func evalWriteTag(value, tagValue uint64, tag typemodel.TagLayout) uint64 {
	switch t := tag.(type) {
	case typemodel.UndefinedValueTag:
		if tagValue == 0 {
			return value
		}
		return uint64(t.Start) + tagValue - 1
	case typemodel.SmallFieldTag:
		cleared := value &^ t.Mask
		return cleared | ((tagValue << uint(t.BitOffset)) & t.Mask)
	case typemodel.UnusedBytesTag:
		shift := t.Offset * 8
		mask := maskBytes(t.Size)
		cleared := value &^ (mask << uint(shift))
		return cleared | ((tagValue & mask) << uint(shift))
	case typemodel.AppendTagTag:
		shift := t.Offset * 8
		mask := maskBytes(t.Size)
		cleared := value &^ (mask << uint(shift))
		return cleared | ((tagValue & mask) << uint(shift))
	default:
		return value
	}
}

func evalEncodeVariant(variant, payload uint64, tag typemodel.TagLayout) uint64 {
	switch t := tag.(type) {
	case typemodel.UndefinedValueTag:
		if variant == 0 {
			return payload
		}
		return uint64(t.Start) + variant - 1
	default:
		return evalWriteTag(payload, variant, tag)
	}
}

func maskBytes(size uint64) uint64 {
	if size >= 8 {
		return ^uint64(0)
	}
	return (uint64(1) << (size * 8)) - 1
}

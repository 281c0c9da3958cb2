// Package shape implements the client-side Shape Object Model (spec.md
// §4.5): NaN-boxed values, hidden-class shapes with transition caching, a
// fast/slow table layout, and polymorphic inline cache lines.
//
// Grounded on the teacher's NaN-boxing scheme (internal/vmregister/value.go:
// TAG_NIL/TAG_FALSE/TAG_TRUE/TAG_PTR/TAG_INT bit layout) and on
// vm-lua/src/builder.rs + vm-lua/src/instruction.rs (original_source) for
// shape-transition and inline-cache semantics, which the teacher's guest
// language does not itself implement.
package shape

import (
	"math"
	"unsafe"
)

// Value is a NaN-boxed guest value: a float64 unless its bits match one of
// the reserved tag patterns below, following the teacher's tagged-double
// layout.
type Value uint64

const (
	nanMask    Value = 0x7FF8000000000000
	tagMask    Value = 0xFFFF000000000000
	numberMask Value = 0x7FF8000000000000

	TagNil   Value = 0x7FF8000000000000
	TagFalse Value = 0x7FF8000000000001
	TagTrue  Value = 0x7FF8000000000002

	tagPtr  Value = 0x7FFC000000000000
	ptrMask Value = 0x0000FFFFFFFFFFFF

	tagInt  Value = 0x7FFE000000000000
	intMask Value = 0x0000FFFFFFFFFFFF
	intSign Value = 0x0000800000000000
)

func Nil() Value       { return TagNil }
func Bool(b bool) Value {
	if b {
		return TagTrue
	}
	return TagFalse
}

func Number(f float64) Value { return Value(math.Float64bits(f)) }

// Int boxes i as a 48-bit small integer, falling back to a boxed float64
// when it doesn't fit (mirrors BoxInt's two-branch shape).
func Int(i int64) Value {
	if i >= -(1<<47) && i < (1<<47) {
		return tagInt | Value(uint64(i)&uint64(intMask))
	}
	return Number(float64(i))
}

func Ptr(p unsafe.Pointer) Value {
	bits := Value(uintptr(p))
	if bits > ptrMask {
		panic("shape: pointer too large for NaN-boxing")
	}
	return tagPtr | bits
}

func (v Value) IsNumber() bool { return v&numberMask != numberMask }
func (v Value) IsInt() bool    { return v&tagMask == tagInt }
func (v Value) IsNil() bool    { return v == TagNil }
func (v Value) IsBool() bool   { return v == TagTrue || v == TagFalse }
func (v Value) IsPtr() bool    { return v&tagMask == tagPtr }

func (v Value) AsNumber() float64 { return math.Float64frombits(uint64(v)) }

func (v Value) AsInt() int64 {
	raw := int64(v & intMask)
	if raw&int64(intSign) != 0 {
		return raw | ^int64(intMask)
	}
	return raw
}

func (v Value) AsBool() bool { return v == TagTrue }

func (v Value) AsPtr() unsafe.Pointer { return unsafe.Pointer(uintptr(v & ptrMask)) }

// F64AsI64Niche reports whether f's raw bit pattern has its low 4 bits
// clear, making it eligible to be packed as a niche-tagged integer rather
// than boxed on the heap (spec.md §9 open question: "LSB-4-zero ⇒
// niche-eligible"), and returns the packed 60-bit payload when it is.
func F64AsI64Niche(f float64) (packed int64, eligible bool) {
	bits := int64(math.Float64bits(f))
	if bits&0xF != 0 {
		return 0, false
	}
	return bits >> 4, true
}

// F64FromI64Niche is the inverse of F64AsI64Niche: it restores the float64
// whose bit pattern produced packed via F64AsI64Niche.
func F64FromI64Niche(packed int64) float64 {
	return math.Float64frombits(uint64(packed << 4))
}

package gc

import "corevm/internal/typemodel"

// ScanPath is the closed structural-recursion result of synthesizing a
// trace plan for one type (spec.md §4.4, grounded on
// memory-mmmu/scanner.rs's `ScanPath` enum). Behaviors dispatch on the
// concrete type via a Go type switch, the same visitor idiom
// internal/instr uses for the Instruction Algebra.
type ScanPath interface {
	scanPathVariant()
}

// ReferencePath marks a GC-tracked pointer: push it onto the worker's
// frontier, first loading it from memory when the trace holds the
// field's address rather than its value.
type ReferencePath struct{}

// EmbedPath marks an inlined value of another scan-eligible type: the
// address of the embedded bytes is itself pushed as a sub-object
// reference, with no load through it (unlike ReferencePath at pointer
// level).
type EmbedPath struct{}

// PointerPath indirects through a raw pointer before continuing.
type PointerPath struct{ Sub ScanPath }

// EnumArm pairs a variant's dense index with its sub-path.
type EnumArm struct {
	VariantIndex int
	Sub          ScanPath
}

// EnumPath recurses into whichever variant arms need tracing, discriminated
// by Tag (spec.md §3's four tag layouts).
type EnumPath struct {
	Tag      typemodel.TagLayout
	SubPaths []EnumArm
}

// TupleArm is one traced field of a byte-laid-out tuple.
type TupleArm struct {
	Offset uint64
	Size   uint64
	Sub    ScanPath
}

// TuplePath recurses into byte-offset fields of a TupleNormalType.
type TuplePath struct{ SubPaths []TupleArm }

// ComposedArm is one traced field of a bit-packed tuple.
type ComposedArm struct {
	Mask      uint64
	BitOffset int
	Sub       ScanPath
}

// ComposedTuplePath recurses into bit-packed fields of a TupleComposeType.
type ComposedTuplePath struct{ SubPaths []ComposedArm }

// ArrayPath pushes each element of an array of scan-eligible elements;
// Size is nil for a length-prefixed unsized array.
type ArrayPath struct {
	Size        *uint64
	ElementSize uint64
}

func (ReferencePath) scanPathVariant()      {}
func (EmbedPath) scanPathVariant()          {}
func (PointerPath) scanPathVariant()        {}
func (EnumPath) scanPathVariant()           {}
func (TuplePath) scanPathVariant()          {}
func (ComposedTuplePath) scanPathVariant()  {}
func (ArrayPath) scanPathVariant()          {}

// Synthesize derives the ScanPath for ty under plan, or reports ok=false
// when ty carries no GC-traced content at all — a pure-value type
// (ints/floats/bools/func pointers/non-clean references) needs no scan
// path and is pruned from its parent's sub-paths entirely, exactly as
// scanner.rs's `scan` returns `None` for those cases.
func Synthesize(plan *Plan, ty typemodel.Type) (ScanPath, bool) {
	switch t := ty.(type) {
	case typemodel.TupleNormalType:
		offsets := t.Offsets()
		var arms []TupleArm
		for i, f := range t.Fields {
			if sub, ok := Synthesize(plan, f.Type); ok {
				arms = append(arms, TupleArm{Offset: offsets[i], Size: f.Type.Layout().Size, Sub: sub})
			}
		}
		if len(arms) == 0 {
			return nil, false
		}
		return TuplePath{SubPaths: arms}, true

	case typemodel.TupleComposeType:
		bitOffsets := t.BitOffsets()
		var arms []ComposedArm
		for i, f := range t.Fields {
			if sub, ok := Synthesize(plan, f.Type); ok {
				mask := (uint64(1)<<uint(f.BitWidth) - 1) << uint(bitOffsets[i])
				arms = append(arms, ComposedArm{Mask: mask, BitOffset: bitOffsets[i], Sub: sub})
			}
		}
		if len(arms) == 0 {
			return nil, false
		}
		return ComposedTuplePath{SubPaths: arms}, true

	case typemodel.EnumType:
		var arms []EnumArm
		for i, v := range t.Variants {
			vt := typemodel.TupleNormalType{Fields: v.Fields}
			if sub, ok := Synthesize(plan, vt); ok {
				arms = append(arms, EnumArm{VariantIndex: i, Sub: sub})
			}
		}
		if len(arms) == 0 {
			return nil, false
		}
		return EnumPath{Tag: t.Tag, SubPaths: arms}, true

	case typemodel.PointerType:
		if sub, ok := Synthesize(plan, t.Elem); ok {
			return PointerPath{Sub: sub}, true
		}
		return nil, false

	case typemodel.ArraySizedType:
		l := t.Elem.Layout()
		elemSize := l.Size
		if l.Align > elemSize {
			elemSize = l.Align
		}
		if _, ok := Synthesize(plan, t.Elem); !ok {
			return nil, false
		}
		n := t.N
		return ArrayPath{Size: &n, ElementSize: elemSize}, true

	case typemodel.ArrayUnsizedType:
		l := t.Elem.Layout()
		elemSize := l.Size
		if l.Align > elemSize {
			elemSize = l.Align
		}
		if _, ok := Synthesize(plan, t.Elem); !ok {
			return nil, false
		}
		return ArrayPath{Size: nil, ElementSize: elemSize}, true

	case typemodel.ReferenceType:
		if plan.CleanTypes[t.Name] {
			return ReferencePath{}, true
		}
		return nil, false

	case typemodel.EmbedType:
		for _, n := range plan.ScanTypes {
			if n == t.Name {
				return EmbedPath{}, true
			}
		}
		return nil, false

	default:
		return nil, false
	}
}

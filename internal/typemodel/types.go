// Package typemodel implements the closed value-type algebra (TM) shared by
// the instruction algebra, the code generator and the GC tracer synthesis:
// every concrete type reports a Layout and can be structurally recursed over.
package typemodel

import "fmt"

// Kind discriminates the closed set of type variants.
type Kind uint8

const (
	KindBool Kind = iota
	KindInt
	KindFloat
	KindPointer
	KindReference
	KindEmbed
	KindTupleNormal
	KindTupleCompose
	KindEnum
	KindArraySized
	KindArrayUnsized
	KindFunc
	KindMetadata
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "Bool"
	case KindInt:
		return "Int"
	case KindFloat:
		return "Float"
	case KindPointer:
		return "Pointer"
	case KindReference:
		return "Reference"
	case KindEmbed:
		return "Embed"
	case KindTupleNormal:
		return "TupleNormal"
	case KindTupleCompose:
		return "TupleCompose"
	case KindEnum:
		return "Enum"
	case KindArraySized:
		return "ArraySized"
	case KindArrayUnsized:
		return "ArrayUnsized"
	case KindFunc:
		return "Func"
	case KindMetadata:
		return "Metadata"
	default:
		return "Unknown"
	}
}

// IntKind names one of the primitive integer widths/signedness combos.
type IntKind uint8

const (
	I8 IntKind = iota
	I16
	I32
	I64
	I128
	U8
	U16
	U32
	U64
	U128
	Usize
)

func (k IntKind) Bits() int {
	switch k {
	case I8, U8:
		return 8
	case I16, U16:
		return 16
	case I32, U32:
		return 32
	case I64, U64, Usize:
		return 64
	case I128, U128:
		return 128
	default:
		panic(fmt.Sprintf("unknown int kind %d", k))
	}
}

func (k IntKind) Signed() bool {
	switch k {
	case I8, I16, I32, I64, I128:
		return true
	default:
		return false
	}
}

// FloatKind names a float width.
type FloatKind uint8

const (
	F32 FloatKind = iota
	F64
)

func (k FloatKind) Bits() int {
	if k == F32 {
		return 32
	}
	return 64
}

// Field is one member of a normal (byte-laid-out) tuple.
type Field struct {
	Name string
	Type Type
}

// ComposedField is one member of a bit-composed tuple: packed into a shared
// word at BitOffset for BitWidth bits, rather than byte-laid-out.
type ComposedField struct {
	Name     string
	Type     Type
	BitWidth int
}

// Variant is one arm of an Enum.
type Variant struct {
	Name   string
	Fields []Field
}

// Type is the closed TM algebra. Every constructor below returns a Type;
// behaviors are dispatched on Kind() (visitor-style), per spec.md §9.
type Type interface {
	Kind() Kind
	Layout() Layout
	String() string
}

// Layout reports size/alignment for a Type. Invariant: Size is a multiple
// of Align; for unsized arrays FlexibleSize >= 1.
type Layout struct {
	Size         uint64
	Align        uint64
	FlexibleSize uint64 // 0 for sized types; element size for unsized arrays
}

func alignUp(n, align uint64) uint64 {
	if align == 0 {
		return n
	}
	return (n + align - 1) / align * align
}

// ---- concrete types ----

type BoolType struct{}

func (BoolType) Kind() Kind     { return KindBool }
func (BoolType) Layout() Layout { return Layout{Size: 1, Align: 1} }
func (BoolType) String() string { return "bool" }

type IntType struct{ K IntKind }

func (t IntType) Kind() Kind { return KindInt }
func (t IntType) Layout() Layout {
	bytes := uint64(t.K.Bits() / 8)
	return Layout{Size: bytes, Align: bytes}
}
func (t IntType) String() string {
	names := map[IntKind]string{
		I8: "i8", I16: "i16", I32: "i32", I64: "i64", I128: "i128",
		U8: "u8", U16: "u16", U32: "u32", U64: "u64", U128: "u128",
		Usize: "usize",
	}
	return names[t.K]
}

type FloatType struct{ K FloatKind }

func (t FloatType) Kind() Kind { return KindFloat }
func (t FloatType) Layout() Layout {
	bytes := uint64(t.K.Bits() / 8)
	return Layout{Size: bytes, Align: bytes}
}
func (t FloatType) String() string {
	if t.K == F32 {
		return "f32"
	}
	return "f64"
}

// PointerType is a raw, non-GC-tracked pointer.
type PointerType struct{ Elem Type }

func (t PointerType) Kind() Kind     { return KindPointer }
func (t PointerType) Layout() Layout { return Layout{Size: 8, Align: 8} }
func (t PointerType) String() string { return "*" + t.Elem.String() }

// ReferenceType is a GC-tracked reference: the GC scan-path synthesizer
// treats these (when Name names a type in the scan plan's clean set) as
// trace roots. Name identifies the pointee in the type registry the plan
// checks membership against (spec.md §4.4's RegistedType lookup).
type ReferenceType struct {
	Elem Type
	Name string
}

func (t ReferenceType) Kind() Kind     { return KindReference }
func (t ReferenceType) Layout() Layout { return Layout{Size: 8, Align: 8} }
func (t ReferenceType) String() string { return "&" + t.Elem.String() }

// EmbedType inlines another scan-typed value's bytes without indirection.
// Name identifies the embedded type for scan-plan membership the same way
// ReferenceType.Name does.
type EmbedType struct {
	Elem Type
	Name string
}

func (t EmbedType) Kind() Kind     { return KindEmbed }
func (t EmbedType) Layout() Layout { return t.Elem.Layout() }
func (t EmbedType) String() string { return "embed " + t.Elem.String() }

// TupleNormalType lays fields out byte-by-byte with natural alignment.
type TupleNormalType struct{ Fields []Field }

func (t TupleNormalType) Kind() Kind { return KindTupleNormal }

// Offsets returns each field's byte offset, matching Layout()'s packing.
func (t TupleNormalType) Offsets() []uint64 {
	offsets := make([]uint64, len(t.Fields))
	var off, maxAlign uint64 = 0, 1
	for i, f := range t.Fields {
		l := f.Type.Layout()
		if l.Align > maxAlign {
			maxAlign = l.Align
		}
		off = alignUp(off, l.Align)
		offsets[i] = off
		off += l.Size
	}
	return offsets
}

func (t TupleNormalType) Layout() Layout {
	var off, maxAlign uint64 = 0, 1
	for _, f := range t.Fields {
		l := f.Type.Layout()
		if l.Align > maxAlign {
			maxAlign = l.Align
		}
		off = alignUp(off, l.Align)
		off += l.Size
	}
	size := alignUp(off, maxAlign)
	return Layout{Size: size, Align: maxAlign}
}

func (t TupleNormalType) String() string { return "(normal tuple)" }

// TupleComposeType packs fields into a single word by bit offset/width.
type TupleComposeType struct{ Fields []ComposedField }

func (t TupleComposeType) Kind() Kind { return KindTupleCompose }

// BitOffsets returns each field's bit offset within the composed word.
func (t TupleComposeType) BitOffsets() []int {
	offsets := make([]int, len(t.Fields))
	bit := 0
	for i, f := range t.Fields {
		offsets[i] = bit
		bit += f.BitWidth
	}
	return offsets
}

func (t TupleComposeType) Layout() Layout {
	bits := 0
	for _, f := range t.Fields {
		bits += f.BitWidth
	}
	bytes := uint64((bits + 7) / 8)
	align := uint64(1)
	for align < bytes && align < 8 {
		align *= 2
	}
	return Layout{Size: alignUp(bytes, align), Align: align}
}

func (t TupleComposeType) String() string { return "(composed tuple)" }

// TagLayout is the closed set of four enum tag placements (spec.md §3).
type TagLayout interface {
	tagLayout()
}

// UndefinedValueTag: niche tag. Variant 0 is any value outside [Start,End);
// variants 1..(End-Start) are the integer Start+i-1.
type UndefinedValueTag struct {
	Start, End int64
	Underlying Type // the niche-carrying payload type (variant 0's type)
}

// SmallFieldTag packs the tag within the value's own bits.
type SmallFieldTag struct {
	Mask      uint64
	BitOffset int
}

// UnusedBytesTag places the tag at a byte offset inside the value.
type UnusedBytesTag struct {
	Offset uint64
	Size   uint64
}

// AppendTagTag places the tag in a trailing struct field.
type AppendTagTag struct {
	Offset uint64
	Size   uint64
}

func (UndefinedValueTag) tagLayout() {}
func (SmallFieldTag) tagLayout()     {}
func (UnusedBytesTag) tagLayout()    {}
func (AppendTagTag) tagLayout()      {}

type EnumType struct {
	Variants []Variant
	Tag      TagLayout
}

func (t EnumType) Kind() Kind { return KindEnum }

func (t EnumType) Layout() Layout {
	var maxPayload Layout
	for _, v := range t.Variants {
		vt := TupleNormalType{Fields: v.Fields}
		l := vt.Layout()
		if l.Size > maxPayload.Size {
			maxPayload = l
		}
	}
	switch tag := t.Tag.(type) {
	case UndefinedValueTag:
		return maxPayload
	case UnusedBytesTag:
		size := maxPayload.Size
		if tag.Offset+tag.Size > size {
			size = tag.Offset + tag.Size
		}
		align := maxPayload.Align
		if align == 0 {
			align = 1
		}
		return Layout{Size: alignUp(size, align), Align: align}
	case AppendTagTag:
		size := alignUp(maxPayload.Size, 1) + tag.Size
		align := maxPayload.Align
		if align == 0 {
			align = 1
		}
		return Layout{Size: alignUp(size, align), Align: align}
	case SmallFieldTag:
		return maxPayload
	default:
		return maxPayload
	}
}

func (t EnumType) String() string { return "(enum)" }

type ArraySizedType struct {
	Elem Type
	N    uint64
}

func (t ArraySizedType) Kind() Kind { return KindArraySized }
func (t ArraySizedType) Layout() Layout {
	el := t.Elem.Layout()
	return Layout{Size: el.Size * t.N, Align: el.Align}
}
func (t ArraySizedType) String() string { return fmt.Sprintf("[%s;%d]", t.Elem, t.N) }

// ArrayUnsizedType is a length-prefixed, flexible-array-member type:
// FlexibleSize is the per-element size of the trailing run, which may repeat.
type ArrayUnsizedType struct{ Elem Type }

func (t ArrayUnsizedType) Kind() Kind { return KindArrayUnsized }
func (t ArrayUnsizedType) Layout() Layout {
	el := t.Elem.Layout()
	size := alignUp(8, el.Align) // length prefix (usize) + flexible tail
	return Layout{Size: size, Align: maxu(el.Align, 8), FlexibleSize: el.Size}
}
func (t ArrayUnsizedType) String() string { return "[" + t.Elem.String() + "]" }

func maxu(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}

type FuncType struct {
	Params   []Type
	Ret      Type
	Variadic bool
}

func (t FuncType) Kind() Kind     { return KindFunc }
func (t FuncType) Layout() Layout { return Layout{Size: 8, Align: 8} } // function pointer
func (t FuncType) String() string { return "fn(...)" }

// MetadataType describes an opaque, language-neutral metadata field
// (generics of kind Type, per spec.md §3 "Instruction metadata").
type MetadataType struct{ Name string }

func (t MetadataType) Kind() Kind     { return KindMetadata }
func (t MetadataType) Layout() Layout { return Layout{Size: 8, Align: 8} }
func (t MetadataType) String() string { return "metadata<" + t.Name + ">" }

package instr

import "corevm/internal/typemodel"

// BootstrapOp names a primitive opcode with fixed semantics implemented
// directly by the code generator (spec.md §4.2).
type BootstrapOp uint16

const (
	// Arith/cmp
	OpAdd BootstrapOp = iota
	OpSub
	OpMul
	OpDiv
	OpRem
	OpNeg
	OpFAdd
	OpFSub
	OpFMul
	OpFDiv
	OpFRem
	OpFNeg
	OpCmpEQ
	OpCmpNE
	OpCmpLT
	OpCmpLE
	OpCmpGT
	OpCmpGE
	OpUCmpLT
	OpUCmpLE
	OpUCmpGT
	OpUCmpGE
	OpFCmpEQ
	OpFCmpNE
	OpFCmpLT
	OpFCmpLE
	OpFCmpGT
	OpFCmpGE

	// Bit
	OpAnd
	OpOr
	OpXor
	OpShl
	OpShr
	OpUshr
	OpNot

	// Casts
	OpIntExtend
	OpUIntExtend
	OpIntTruncate
	OpIntToFloat
	OpFloatToInt
	OpFloatToFloat
	OpCastUnchecked

	// Control
	OpBranch
	OpBranchIf
	OpReturn
	OpInvoke

	// Memory
	OpRead
	OpWrite
	OpCompareAndSwap
	OpFenceRelease
	OpFenceAcquire
	OpFenceAcqRel
	OpFenceSeqCst
	OpMemoryCopy
	OpAllocSized
	OpAllocUnsized
	OpClone
	OpDrop
	OpDeref
	OpFree
	OpNonGCAllocSized
	OpNonGCAllocUnsized
	OpNonGCFree

	// Aggregate
	OpLocateField
	OpGetField
	OpSetField
	OpLocateUnion
	OpLocateElement
	OpGetLength
	OpSetLength
	OpUninitedStruct

	// Enum
	OpGetTag
	OpReadTag
	OpWriteTag
	OpDecodeVariantUnchecked
	OpEncodeVariant

	// Misc
	OpNativeCall
	OpCall
	OpMakeSlice
	OpStackAllocSized
	OpStackAllocUnsized
	OpLocateMetadata
	OpSetState
	OpCallState
	OpGetPointer
)

// IntKindGeneric wraps an IntKind as a Type-kind generic argument value.
type IntKindGeneric struct{ K typemodel.IntKind }

// Bootstrap is a primitive instruction; the generator lowers it directly
// to a fixed-shape LLVM IR body (see internal/codegen/lower_bootstrap.go).
//
// The extra typed fields below (IntKind, FloatKind, Tag, FieldIndex,
// ValueType) carry the "Generic: an integer kind index" / per-group
// parameters spec.md §4.2 describes as instruction generics, kept as
// concrete fields on the struct (rather than only inside Meta.Generics)
// so the interpreter in internal/codegen can read them directly instead
// of re-deriving them through generic-argument binding at every call
// site; Meta still documents the declared shape for verification.
type Bootstrap struct {
	Name       string
	Op         BootstrapOp
	Meta       Metadata
	IntKind    typemodel.IntKind
	FloatKind  typemodel.FloatKind
	Tag        typemodel.TagLayout
	FieldIndex int
	ValueType  typemodel.Type
}

func (b *Bootstrap) InstrName() string          { return b.Name }
func (b *Bootstrap) InstrMetadata() Metadata    { return b.Meta }
func (b *Bootstrap) instructionVariant()        {}

// NewBinaryArith builds the common {R(A) = R(B) op R(C)} metadata shape
// shared by Add/Sub/Mul/... and their comparison counterparts.
func NewBinaryArith(name string, op BootstrapOp, operandType typemodel.Type, resultType typemodel.Type) *Bootstrap {
	b := &Bootstrap{
		Name: name,
		Op:   op,
		Meta: Metadata{
			Operands: []Operand{
				{Name: "lhs", ValueType: operandType, Input: true},
				{Name: "rhs", ValueType: operandType, Input: true},
				{Name: "result", ValueType: resultType, Output: true},
			},
		},
	}
	if it, ok := operandType.(typemodel.IntType); ok {
		b.IntKind = it.K
	}
	return b
}

// NewUnary builds the common {R(A) = op R(B)} metadata shape.
func NewUnary(name string, op BootstrapOp, operandType, resultType typemodel.Type) *Bootstrap {
	b := &Bootstrap{
		Name: name,
		Op:   op,
		Meta: Metadata{
			Operands: []Operand{
				{Name: "src", ValueType: operandType, Input: true},
				{Name: "result", ValueType: resultType, Output: true},
			},
		},
	}
	if it, ok := operandType.(typemodel.IntType); ok {
		b.IntKind = it.K
	}
	return b
}

// Package instr implements the Instruction Algebra (IA): the four-variant
// instruction sum type (Bootstrap/Complex/Stateful/Compression), each
// carrying a Metadata record of typed operands and generics.
package instr

import (
	"sync"

	"corevm/internal/typemodel"
)

// GenericKind is the closed set of generic argument kinds.
type GenericKind uint8

const (
	GenericConstant GenericKind = iota
	GenericBasicBlock
	GenericType
	GenericState
)

// Generic is one declared generic slot on an instruction.
type Generic struct {
	Name      string
	Kind      GenericKind
	ValueType typemodel.Type // meaningful for GenericConstant
	Writable  bool           // meaningful for GenericConstant and GenericState
}

// Operand is one declared register operand.
type Operand struct {
	Name      string
	ValueType typemodel.Type
	Input     bool
	Output    bool
}

// Metadata describes the operands and generics an instruction declares.
// Every instruction variant exposes one via InstrMetadata().
type Metadata struct {
	Operands []Operand
	Generics []Generic
}

// Instruction is the closed 4-case sum (spec.md §9: "tagged union with four
// cases; behaviors are visitor-style methods dispatched on the tag").
type Instruction interface {
	InstrName() string
	InstrMetadata() Metadata
	instructionVariant()
}

// metadataCache memoizes InstrMetadata() by instruction identity so that
// repeated InstructionCalls to the same instruction during lowering don't
// recompute it (SPEC_FULL.md §10, grounded on runtime-derive's metadata
// memoization).
var metadataCache sync.Map // map[Instruction]Metadata

func CachedMetadata(i Instruction) Metadata {
	if v, ok := metadataCache.Load(i); ok {
		return v.(Metadata)
	}
	m := i.InstrMetadata()
	metadataCache.Store(i, m)
	return m
}

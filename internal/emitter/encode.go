// Package emitter implements the Emitter Runtime (ER): an encoder that
// writes an instruction stream into a contiguous byte buffer with the
// alignment rules of spec.md §4.1/§6, plus the function packer and
// register pool used to size and own that buffer.
package emitter

import (
	"encoding/binary"

	"corevm/internal/cerrors"
	"corevm/internal/instr"
	"corevm/internal/typemodel"
)

// RegisterRef is a 16-bit operand register index as it appears in-stream.
type RegisterRef uint16

// GenericEncoding is how one bound generic argument should be written,
// resolved by the caller (the Complex-body lowering walk in
// internal/codegen) from an instr.GenericArg.
type GenericEncoding struct {
	Kind       instr.GenericKind
	ValueType  typemodel.Type // for GenericConstant: alignment source
	ConstBytes []byte         // for GenericConstant: pre-encoded little-endian payload
	BlockID    int            // for GenericBasicBlock
	// GenericState and GenericType write nothing extra; State is folded
	// into the opcode byte itself (spec.md §4.1 emit contract (b)); Type
	// generics are resolved to a native type at codegen time, not
	// serialized in the mutator-visible stream.
}

// EmittedCall is one fully-resolved instruction occurrence to encode:
// a concrete opcode (with any state index already folded in), its bound
// generics in declared order, and its operand register indices in
// declared order.
type EmittedCall struct {
	Opcode   uint8
	Generics []GenericEncoding
	Operands []RegisterRef
}

// blockFixup records a pending 4-byte signed block-offset patch.
type blockFixup struct {
	pos     int // byte offset of the 4-byte field within buf
	blockID int
}

// Encoder writes a sequence of EmittedCalls into a contiguous byte buffer,
// following the alignment rule: every generic and every operand register
// index is aligned to its own natural alignment, item by item; no
// per-instruction maximum alignment is computed or applied.
type Encoder struct {
	buf         []byte
	blockStart  map[int]int // block id -> byte offset of its first instruction
	fixups      []blockFixup
}

func NewEncoder() *Encoder {
	return &Encoder{blockStart: make(map[int]int)}
}

func alignTo(n, align int) int {
	if align <= 1 {
		return n
	}
	return (n + align - 1) / align * align
}

func (e *Encoder) pad(align int) {
	n := alignTo(len(e.buf), align)
	for len(e.buf) < n {
		e.buf = append(e.buf, 0)
	}
}

// MarkBlock records that the next byte written begins basic block id.
func (e *Encoder) MarkBlock(id int) {
	e.blockStart[id] = len(e.buf)
}

// Emit writes one instruction occurrence following the Emit contract.
func (e *Encoder) Emit(call EmittedCall) error {
	// (a) opcode, one byte.
	e.buf = append(e.buf, call.Opcode)

	// (b) generics in declared order.
	for _, g := range call.Generics {
		switch g.Kind {
		case instr.GenericState:
			// folded into opcode; nothing written.
			continue
		case instr.GenericBasicBlock:
			e.pad(4)
			pos := len(e.buf)
			e.buf = append(e.buf, 0, 0, 0, 0)
			e.fixups = append(e.fixups, blockFixup{pos: pos, blockID: g.BlockID})
		case instr.GenericConstant:
			align := 1
			if g.ValueType != nil {
				align = int(g.ValueType.Layout().Align)
				if align == 0 {
					align = 1
				}
			}
			e.pad(align)
			e.buf = append(e.buf, g.ConstBytes...)
		case instr.GenericType:
			// Resolved at codegen time; not present in the mutator-visible
			// stream (no bytes written).
		}
	}

	// (c) operands: align 2, write 16-bit register index each.
	for _, op := range call.Operands {
		e.pad(2)
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(op))
		e.buf = append(e.buf, tmp[:]...)
	}
	return nil
}

// Finish resolves all pending basic-block offset fixups and returns the
// finished byte buffer. A fixup whose block id was never marked is an
// IndexOutOfRange error (the block reference is dangling).
func (e *Encoder) Finish() ([]byte, error) {
	for _, fx := range e.fixups {
		target, ok := e.blockStart[fx.blockID]
		if !ok {
			return nil, &cerrors.CompileError{
				Kind:    cerrors.IndexOutOfRange,
				Message: "basic block reference to unmarked block",
			}
		}
		rel := int32(target - fx.pos)
		binary.LittleEndian.PutUint32(e.buf[fx.pos:fx.pos+4], uint32(rel))
	}
	return e.buf, nil
}

// EncodeConst little-endian-encodes a fixed-width constant value for use
// as GenericEncoding.ConstBytes.
func EncodeConst(ty typemodel.Type, value uint64) []byte {
	size := ty.Layout().Size
	buf := make([]byte, size)
	switch size {
	case 1:
		buf[0] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(buf, uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(buf, uint32(value))
	case 8:
		binary.LittleEndian.PutUint64(buf, value)
	default:
		// 16-byte (i128/u128): low 8 bytes only, high bytes zero.
		binary.LittleEndian.PutUint64(buf[:8], value)
	}
	return buf
}

// DecodeConst is the round-trip inverse of EncodeConst, used by the
// encoding round-trip testable property (spec.md §8).
func DecodeConst(ty typemodel.Type, buf []byte) uint64 {
	size := ty.Layout().Size
	switch size {
	case 1:
		return uint64(buf[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(buf))
	case 4:
		return uint64(binary.LittleEndian.Uint32(buf))
	default:
		return binary.LittleEndian.Uint64(buf[:8])
	}
}

// GenericDecoding describes one bound generic's shape for Decode — the
// same Kind/ValueType information the matching Emit call was given,
// since an instruction stream carries no self-describing schema (spec.md
// §4.1): a decoder must already know how many generics and operands an
// occurrence has and what each constant generic's type is.
type GenericDecoding struct {
	Kind      instr.GenericKind
	ValueType typemodel.Type // for GenericConstant only
}

// DecodeSpec is the per-occurrence shape Decode needs: the ordered list
// of bound generics and the operand count, mirroring the EmittedCall
// that produced the bytes being read back.
type DecodeSpec struct {
	Generics    []GenericDecoding
	NumOperands int
}

// Decode reads one instruction occurrence out of buf starting at pos,
// applying the exact same padding/ordering rules as Emit, and returns the
// decoded call plus the offset of the first unread byte. It is Emit's
// inverse for the encoding round-trip testable property (spec.md §8):
// re-decoding what Emit (then Finish) wrote reproduces the same opcode,
// the same constant-generic bytes, and the same operand register
// indices. A GenericBasicBlock generic decodes to the *resolved*
// relative byte offset Finish wrote, not the pre-resolution target block
// id — the two are related by the Encoder's own blockStart bookkeeping,
// already exercised separately by TestEncoderBlockFixupResolvesRelativeOffset.
func Decode(spec DecodeSpec, buf []byte, pos int) (EmittedCall, int, error) {
	if pos >= len(buf) {
		return EmittedCall{}, pos, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{}, "decode: no opcode byte at offset %d", pos)
	}
	call := EmittedCall{Opcode: buf[pos]}
	pos++

	for _, g := range spec.Generics {
		switch g.Kind {
		case instr.GenericState, instr.GenericType:
			call.Generics = append(call.Generics, GenericEncoding{Kind: g.Kind})
		case instr.GenericBasicBlock:
			pos = alignTo(pos, 4)
			if pos+4 > len(buf) {
				return EmittedCall{}, pos, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{}, "decode: truncated block-offset field at %d", pos)
			}
			rel := int32(binary.LittleEndian.Uint32(buf[pos : pos+4]))
			call.Generics = append(call.Generics, GenericEncoding{Kind: instr.GenericBasicBlock, BlockID: int(rel)})
			pos += 4
		case instr.GenericConstant:
			align, size := 1, 0
			if g.ValueType != nil {
				layout := g.ValueType.Layout()
				align, size = int(layout.Align), int(layout.Size)
				if align == 0 {
					align = 1
				}
			}
			pos = alignTo(pos, align)
			if pos+size > len(buf) {
				return EmittedCall{}, pos, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{}, "decode: truncated constant field at %d", pos)
			}
			bytes := append([]byte(nil), buf[pos:pos+size]...)
			call.Generics = append(call.Generics, GenericEncoding{Kind: instr.GenericConstant, ValueType: g.ValueType, ConstBytes: bytes})
			pos += size
		}
	}

	for i := 0; i < spec.NumOperands; i++ {
		pos = alignTo(pos, 2)
		if pos+2 > len(buf) {
			return EmittedCall{}, pos, cerrors.NewCompileError(cerrors.IndexOutOfRange, cerrors.Attribution{}, "decode: truncated operand field at %d", pos)
		}
		call.Operands = append(call.Operands, RegisterRef(binary.LittleEndian.Uint16(buf[pos:pos+2])))
		pos += 2
	}
	return call, pos, nil
}

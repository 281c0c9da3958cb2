package emitter

import "corevm/internal/typemodel"

// FuncSig is a lowered instruction's native-entry signature (spec.md §6:
// every lowered function is (regs *mut u64, ip *const u8) -> u64; FuncSig
// here additionally records the *guest*-level argument/return shape a
// Complex instruction's metadata implies, for documentation/debugging).
type FuncSig struct {
	Params   []typemodel.Type
	Ret      typemodel.Type
	Variadic bool
}

// PackedFunction is the Pack contract's output: the encoded byte stream,
// its function type, its register count, and a symbol naming the
// first-opcode address (spec.md §4.1 "Pack contract").
type PackedFunction struct {
	Name          string
	Code          []byte
	Sig           FuncSig
	RegisterCount uint64
	Symbol        string
}

// FunctionPacker owns one function's encoder and register pool, and
// materializes a PackedFunction deterministically from them. Packing is
// idempotent: calling Pack twice without further Emit/Alloc calls yields
// byte-identical output.
type FunctionPacker struct {
	pool    *RegisterPool
	encoder *Encoder
}

func NewFunctionPacker() *FunctionPacker {
	return &FunctionPacker{
		pool:    NewRegisterPool(),
		encoder: NewEncoder(),
	}
}

func (p *FunctionPacker) Pool() *RegisterPool   { return p.pool }
func (p *FunctionPacker) Encoder() *Encoder     { return p.encoder }

// Pack finishes the encoder (resolving block fixups) and reports the
// register pool's high-water mark as the frame's register count.
func (p *FunctionPacker) Pack(name string, sig FuncSig) (*PackedFunction, error) {
	code, err := p.encoder.Finish()
	if err != nil {
		return nil, err
	}
	return &PackedFunction{
		Name:          name,
		Code:          code,
		Sig:           sig,
		RegisterCount: p.pool.MaxAllocated(),
		Symbol:        name + "@entry",
	}, nil
}

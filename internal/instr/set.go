package instr

import (
	"corevm/internal/cerrors"
)

// Set is a finite map opcode -> Instruction (spec.md §4.1): every
// instruction in a set is uniquely identified by its opcode; a Stateful
// instruction's states occupy consecutive opcodes starting at its own.
type Set struct {
	Name      string
	byOpcode  map[uint32]Instruction
	ownerOf   map[uint32]Instruction // the Stateful/Compression that owns a sub-range
	nextFree  uint32
	maxOpcode uint32 // 65535 for a Compression's inner set; unbounded otherwise
}

// NewSet creates an instruction set. maxOpcode is the highest opcode this
// set may use (a Compression's inner set is bounded to 65535 per
// spec.md §4.1's TooManySubInstructions failure mode); pass 0 for "no
// bound", under which Add accepts any number of opcodes.
func NewSet(name string, maxOpcode uint32) *Set {
	return &Set{
		Name:      name,
		byOpcode:  make(map[uint32]Instruction),
		ownerOf:   make(map[uint32]Instruction),
		maxOpcode: maxOpcode,
	}
}

// opcodeCount reports how many opcodes an instruction occupies (1, its
// own opcode, for Bootstrap/Complex/Compression; N consecutive opcodes
// for a Stateful with N states).
func opcodeCount(i Instruction) int {
	if s, ok := i.(*Stateful); ok {
		return len(s.Statuses)
	}
	return 1
}

// Add registers i at the next available opcode and returns it.
func (s *Set) Add(i Instruction) (uint32, error) {
	n := uint32(opcodeCount(i))
	start := s.nextFree
	end := start + n - 1
	if s.maxOpcode != 0 && end > s.maxOpcode {
		return 0, &cerrors.CompileError{
			Kind:    cerrors.TooManySubInstructions,
			Message: "set exceeds its maximum opcode",
		}
	}
	for op := start; op <= end; op++ {
		s.byOpcode[op] = i
		s.ownerOf[op] = i
	}
	s.nextFree = end + 1
	return start, nil
}

// Lookup resolves the instruction registered at opcode (for a Stateful,
// the same *Stateful is returned for every one of its occupied opcodes;
// callers recover the state index via opcode-baseOpcode).
func (s *Set) Lookup(opcode uint32) (Instruction, bool) {
	i, ok := s.byOpcode[opcode]
	return i, ok
}

// BaseOpcode returns the opcode at which i was registered.
func (s *Set) BaseOpcode(i Instruction) (uint32, bool) {
	for op, owner := range s.ownerOf {
		if owner == i {
			// first opcode owned by i: scan down while still owned by i
			base := op
			for base > 0 {
				if prev, ok := s.ownerOf[base-1]; !ok || prev != i {
					break
				}
				base--
			}
			return base, true
		}
	}
	return 0, false
}

// Len reports how many opcodes are occupied.
func (s *Set) Len() int { return len(s.byOpcode) }

// Instructions returns the distinct registered instructions in opcode
// order (each Stateful appears once, at its base opcode).
func (s *Set) Instructions() []Instruction {
	seen := make(map[Instruction]bool)
	var out []Instruction
	for op := uint32(0); op < s.nextFree; op++ {
		i, ok := s.byOpcode[op]
		if !ok || seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, i)
	}
	return out
}

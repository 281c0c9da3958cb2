package gc

// blockCapacity is the fixed pointer count per transfer block (spec.md §3
// "Block": 63 pointers plus a size field, sized so the whole struct fits
// one allocator size class alongside its length header).
const blockCapacity = 63

// Block is a fixed-capacity batch of untyped pointers passed between a
// worker's local stack and the global injector, grounded on
// scanner.rs's `Block { size: Usize, value: Array<Usize, 63> }`.
type Block struct {
	size  int
	value [blockCapacity]uint64
}

func (b *Block) Len() int  { return b.size }
func (b *Block) Full() bool { return b.size == blockCapacity }

// Push appends a pointer; callers must check Full() first (pushing into a
// full block panics, matching the unchecked array write scanner.rs emits).
func (b *Block) Push(ptr uint64) {
	b.value[b.size] = ptr
	b.size++
}

// AsSlice returns the live pointers in this block.
func (b *Block) AsSlice() []uint64 { return b.value[:b.size] }

// Reset empties the block for reuse.
func (b *Block) Reset() { b.size = 0 }

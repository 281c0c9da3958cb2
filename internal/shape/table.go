package shape

// Table pairs a Shape with its backing storage: a fixed-size fast-field
// array sized at construction time, and a lazily-grown slow-field array
// for slots the shape's transitions push past that initial size (spec.md
// §3's Table invariant: "slot < fast_len ⇒ read fast array; otherwise
// index into slow array", grounded on vm-lua/src/instruction.rs's
// `BuildTable`/`LocateSlot`).
type Table struct {
	Shape      *Shape
	fastFields []Value
	slowFields []Value

	// metamethodCache is the inline cache used internally when chasing an
	// __index/__newindex table chain (cache.go's tableOf/metaCache helpers);
	// separate from any cache an instruction site owns for this table.
	metamethodCache *InlineCacheLine
}

// NewTable allocates a table on shape with fastLen pre-sized fast slots,
// matching BuildTable's `<const shape, const slots>` static sizing.
func NewTable(s *Shape, fastLen int) *Table {
	return &Table{
		Shape:      s,
		fastFields: make([]Value, fastLen),
	}
}

func (t *Table) FastLen() int { return len(t.fastFields) }

// Get reads the value at slot, regardless of which array it lives in.
func (t *Table) Get(slot uint32) Value {
	if int(slot) < len(t.fastFields) {
		return t.fastFields[slot]
	}
	idx := int(slot) - len(t.fastFields)
	if idx >= len(t.slowFields) {
		return TagNil
	}
	return t.slowFields[idx]
}

// Set writes v at slot, growing the slow-field array geometrically (2n+1,
// per spec.md §4.5 "grown geometrically when needed") if slot falls past
// both the fast array and the slow array's current length.
func (t *Table) Set(slot uint32, v Value) {
	if int(slot) < len(t.fastFields) {
		t.fastFields[slot] = v
		return
	}
	idx := int(slot) - len(t.fastFields)
	if idx >= len(t.slowFields) {
		t.growSlow(idx + 1)
	}
	t.slowFields[idx] = v
}

// growSlow resizes the slow array to at least need slots, following the
// 2n+1 geometric rule so repeated single-slot growth doesn't become
// quadratic (grounded on the teacher's common slice-growth idiom, e.g.
// internal/vmregister's dynamic register stack).
func (t *Table) growSlow(need int) {
	if need <= cap(t.slowFields) {
		t.slowFields = t.slowFields[:need]
		return
	}
	newCap := len(t.slowFields)
	if newCap == 0 {
		newCap = 1
	}
	for newCap < need {
		newCap = 2*newCap + 1
	}
	grown := make([]Value, need, newCap)
	copy(grown, t.slowFields)
	t.slowFields = grown[:need]
}

// PutField resolves the full write-time path for key: shape transition via
// Shape.Extend, adopting the resulting shape if it changed, then writing v
// at the resolved slot.
func (t *Table) PutField(key, v Value) uint32 {
	next, slot := t.Shape.Extend(key)
	t.Shape = next
	t.Set(slot, v)
	return slot
}

// GetField is the raw (non-metamethod) field read: a shape lookup followed
// by a slot read, or nil if key isn't present in this table's shape.
func (t *Table) GetField(key Value) Value {
	slot, ok := t.Shape.Slot(key)
	if !ok {
		return TagNil
	}
	return t.Get(slot)
}

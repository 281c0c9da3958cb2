package shape

import "corevm/internal/cerrors"

// InlineCacheLine is one polymorphic access site's cached outcome: the
// shape it last observed, the key it resolved, which table instance it
// resolved against, the slot it found, and a pointer to that shape's
// shared invalidation cell (spec.md §4.5, grounded on vm-lua's
// `InlineCacheLine{shape,key,table,invalid,slot}`).
type InlineCacheLine struct {
	shape   *Shape
	key     Value
	table   *Table
	invalid *bool
	slot    uint32
	valid   bool

	// Hits/Misses count resolutions through this line since creation, for
	// diagnostics and the CLI's cache demo (spec.md §8 scenario 5's "1
	// miss then 9 hits" is otherwise unobservable from outside the
	// package).
	Hits, Misses int
}

// NewInlineCacheLine returns a cache line in the spec's "all-none"
// initial state.
func NewInlineCacheLine() *InlineCacheLine { return &InlineCacheLine{} }

// hit reports whether this cache line still applies to t: the shape
// pointer must match the live table's shape, and the cached invalid cell
// (captured when the line was filled) must still read false (spec.md §4.5
// "Cache state").
func (c *InlineCacheLine) hit(t *Table, key Value) bool {
	return c.valid && c.table == t && c.shape == t.Shape && c.key == key && !*c.invalid
}

func (c *InlineCacheLine) fill(t *Table, key Value, slot uint32) {
	c.shape = t.Shape
	c.key = key
	c.table = t
	c.invalid = t.Shape.Invalid
	c.slot = slot
	c.valid = true
}

// GetRaw implements GetByCache against a known table: a hit reads straight
// through the cached slot; a miss searches the live shape and rewrites the
// cache on success, returning nil if the table's own shape doesn't carry
// key (the caller, GetElement, is what chases __index chains).
func (c *InlineCacheLine) GetRaw(t *Table, key Value) Value {
	if c.hit(t, key) {
		c.Hits++
		return t.Get(c.slot)
	}
	c.Misses++
	if slot, ok := t.Shape.Slot(key); ok {
		c.fill(t, key, slot)
		return t.Get(slot)
	}
	return TagNil
}

// SetRaw implements SetByCache's hit path plus the write-time shape
// transition on miss (spec.md §4.5 "Shape transitions on write" steps
// 1-3). Table.PutField/Shape.Extend always resolve a slot for a real
// table, so this never fails; only SetElement's non-table branch can.
func (c *InlineCacheLine) SetRaw(t *Table, key, v Value) {
	if c.hit(t, key) {
		c.Hits++
		t.Set(c.slot, v)
		return
	}
	c.Misses++
	slot := t.PutField(key, v)
	c.fill(t, key, slot)
}

// tableOf resolves a Value that is expected to be a table pointer. The
// Shape Object Model has no guest object header of its own — "is this
// Value a table" is answered by whatever embeds Table as its GC-managed
// payload (internal/shape intentionally stays below that layer).
// Production callers set TableFromPointer once at startup; tests may set
// it directly.
var TableFromPointer func(Value) (*Table, bool)

func tableOf(v Value) (*Table, bool) {
	if !v.IsPtr() || TableFromPointer == nil {
		return nil, false
	}
	return TableFromPointer(v)
}

func (t *Table) metaCache() *InlineCacheLine {
	if t.metamethodCache == nil {
		t.metamethodCache = NewInlineCacheLine()
	}
	return t.metamethodCache
}

// GetElement implements instruction.rs's GetElement: read obj[key] if the
// table's own shape carries key with a non-nil value; otherwise chase the
// shape's __index metamethod, to an arbitrary depth through further
// tables. Returns nil if obj isn't a table and has no __index; a callable
// __index is returned as-is for the caller to invoke with (obj, key).
func GetElement(obj, key Value) Value {
	for {
		t, ok := tableOf(obj)
		if !ok {
			return TagNil
		}
		if slot, found := t.Shape.Slot(key); found {
			if v := t.Get(slot); !v.IsNil() {
				t.metaCache().fill(t, key, slot)
				return v
			}
		}
		index := t.Shape.MetaFunctions.Index
		if index.IsNil() {
			return TagNil
		}
		if !index.IsPtr() {
			return index // callable: caller invokes index(obj, key)
		}
		obj = index
	}
}

// SetElement implements instruction.rs's SetElement: write value[key] =
// elem. An existing slot in value's own shape always writes in place
// (spec.md §4.5 step 1, taking priority over any __newindex); a brand-new
// key consults the shape's __newindex metamethod first and only falls
// back to the normal owned-extend-or-cached-transition path (step 2/3)
// when no __newindex is set. Returns an error only when the chain bottoms
// out at a non-table value, which in this model carries no metatable at
// all.
func SetElement(value, key, elem Value) error {
	for {
		t, ok := tableOf(value)
		if !ok {
			return cerrors.NewRuntimeError("SetElement", "cannot index non-table value %#x", uint64(value))
		}
		if slot, found := t.Shape.Slot(key); found {
			t.Set(slot, elem)
			t.metaCache().fill(t, key, slot)
			return nil
		}
		newIndex := t.Shape.MetaFunctions.NewIndex
		if newIndex.IsNil() {
			slot := t.PutField(key, elem)
			t.metaCache().fill(t, key, slot)
			return nil
		}
		if !newIndex.IsPtr() {
			return nil // callable __newindex: invocation is the caller's job.
		}
		value = newIndex
	}
}

package shape

import (
	"testing"
	"unsafe"
)

func keyStr(s string) Value {
	// test-only key boxing: pack the string's address-free hash into the
	// small-int niche so equality is structural without a real string heap.
	h := int64(0)
	for _, r := range s {
		h = h*131 + int64(r)
	}
	return Int(h)
}

func TestShapeTransitionDeterminism(t *testing.T) {
	meta := MetaFunctions{}
	s := NewShape(meta)
	tbl := NewTable(s, 4)

	tbl.PutField(keyStr("a"), Int(1))
	tbl.PutField(keyStr("b"), Int(2))
	shapeAfterAB := tbl.Shape

	other := NewTable(NewShape(meta), 4)
	other.PutField(keyStr("a"), Int(10))
	other.PutField(keyStr("b"), Int(20))

	if other.Shape == shapeAfterAB {
		t.Fatalf("independently-owned tables should not share an owned shape instance")
	}
	slotA, _ := other.Shape.Slot(keyStr("a"))
	slotB, _ := shapeAfterAB.Slot(keyStr("a"))
	if slotA != slotB {
		t.Fatalf("same write order should assign the same slot layout: %d vs %d", slotA, slotB)
	}
}

func TestSharedTransitionCachingOnNonOwnedShape(t *testing.T) {
	meta := MetaFunctions{}
	base := NewShape(meta)
	base.IsOwned = false // simulate a shape that's already been shared/cloned

	s1, slot1 := base.Extend(keyStr("x"))
	s2, slot2 := base.Extend(keyStr("x"))
	if s1 != s2 || slot1 != slot2 {
		t.Fatalf("repeated extension with the same key must replay the cached transition")
	}
}

func TestInlineCacheHitAndInvalidate(t *testing.T) {
	s := NewShape(MetaFunctions{})
	tbl := NewTable(s, 4)
	tbl.PutField(keyStr("x"), Int(7))

	cache := NewInlineCacheLine()
	if got := cache.GetRaw(tbl, keyStr("x")); got.AsInt() != 7 {
		t.Fatalf("cold get: want 7, got %v", got.AsInt())
	}
	// Second read should hit: overwrite the raw storage out from under the
	// shape; the hit reads live storage through the cached slot, and the
	// Hits/Misses counters show the cache path served the read.
	tbl.fastFields[0] = Int(99)
	if got := cache.GetRaw(tbl, keyStr("x")); got.AsInt() != 99 {
		t.Fatalf("warm hit should still read live storage through the cached slot, got %v", got.AsInt())
	}
	if cache.Hits != 1 || cache.Misses != 1 {
		t.Fatalf("want 1 miss then 1 hit, got hits=%d misses=%d", cache.Hits, cache.Misses)
	}

	tbl.Shape.Invalidate()
	tbl.PutField(keyStr("y"), Int(1))
	if got := cache.GetRaw(tbl, keyStr("x")); got.AsInt() != 99 {
		t.Fatalf("post-invalidation lookup should still resolve the field correctly, got %v", got.AsInt())
	}
}

func TestTableSlowFieldGrowth(t *testing.T) {
	s := NewShape(MetaFunctions{})
	tbl := NewTable(s, 1)
	for i := 0; i < 10; i++ {
		tbl.PutField(keyStr(string(rune('a'+i))), Int(int64(i)))
	}
	for i := 0; i < 10; i++ {
		if got := tbl.GetField(keyStr(string(rune('a' + i)))); got.AsInt() != int64(i) {
			t.Fatalf("field %d: want %d, got %v", i, i, got.AsInt())
		}
	}
}

func TestF64AsI64NicheRoundTrip(t *testing.T) {
	f := 2.0 // a power of two whose bit pattern has trailing zero bits
	packed, ok := F64AsI64Niche(f)
	if !ok {
		t.Fatalf("expected %v to be niche-eligible", f)
	}
	if got := F64FromI64Niche(packed); got != f {
		t.Fatalf("round trip: want %v, got %v", f, got)
	}
}

func TestSetElementExtendsNonOwningShapeViaActionCache(t *testing.T) {
	s := NewShape(MetaFunctions{})
	s.IsOwned = false
	tbl := NewTable(s, 2)

	prev := TableFromPointer
	defer func() { TableFromPointer = prev }()
	tables := map[Value]*Table{}
	TableFromPointer = func(v Value) (*Table, bool) { tb, ok := tables[v]; return tb, ok }
	ref := Ptr(unsafe.Pointer(tbl))
	tables[ref] = tbl

	if err := SetElement(ref, keyStr("z"), Int(1)); err != nil {
		t.Fatalf("first write to a non-owning shape should transition via the action cache, got %v", err)
	}
	if got := GetElement(ref, keyStr("z")); got.AsInt() != 1 {
		t.Fatalf("want 1, got %v", got.AsInt())
	}
}

func TestSetElementErrorsOnNonTableValue(t *testing.T) {
	if err := SetElement(Int(42), keyStr("z"), Int(1)); err == nil {
		t.Fatalf("expected an error writing through a non-table value")
	}
}

func TestShapeKeysDeterministicOrder(t *testing.T) {
	s := NewShape(MetaFunctions{})
	s.Fields[Int(30)] = 1
	s.Fields[Int(10)] = 0
	s.Fields[Int(20)] = 2
	keys := s.Keys()
	for i := 1; i < len(keys); i++ {
		if keys[i-1] > keys[i] {
			t.Fatalf("Keys() not sorted: %v", keys)
		}
	}
	if s.String() == "" {
		t.Fatalf("String() should not be empty")
	}
}

func TestMaxIntIndexTracksDenseIntegerAppends(t *testing.T) {
	s := NewShape(MetaFunctions{})
	if s.MaxIntIndex != -1 {
		t.Fatalf("want MaxIntIndex == -1 on a fresh shape, got %d", s.MaxIntIndex)
	}

	s, _ = s.Extend(Int(0))
	if s.MaxIntIndex != 0 {
		t.Fatalf("want MaxIntIndex == 0 after inserting key 0, got %d", s.MaxIntIndex)
	}
	s, _ = s.Extend(Int(1))
	if s.MaxIntIndex != 1 {
		t.Fatalf("want MaxIntIndex == 1 after inserting key 1, got %d", s.MaxIntIndex)
	}

	// a non-contiguous integer key (5, skipping 2-4) must not advance the run.
	s, _ = s.Extend(Int(5))
	if s.MaxIntIndex != 1 {
		t.Fatalf("want MaxIntIndex unchanged by a non-contiguous key, got %d", s.MaxIntIndex)
	}

	// a non-integer key must not touch MaxIntIndex either.
	s, _ = s.Extend(Bool(true))
	if s.MaxIntIndex != 1 {
		t.Fatalf("want MaxIntIndex unaffected by a non-integer key, got %d", s.MaxIntIndex)
	}
}

func TestGetElementFollowsIndexChain(t *testing.T) {
	prev := TableFromPointer
	defer func() { TableFromPointer = prev }()
	tables := map[Value]*Table{}
	TableFromPointer = func(v Value) (*Table, bool) { tb, ok := tables[v]; return tb, ok }

	base := NewTable(NewShape(MetaFunctions{}), 2)
	base.PutField(keyStr("shared"), Int(5))
	baseRef := Ptr(unsafe.Pointer(base))
	tables[baseRef] = base

	child := NewTable(NewShape(MetaFunctions{Index: baseRef}), 2)
	childRef := Ptr(unsafe.Pointer(child))
	tables[childRef] = child

	if got := GetElement(childRef, keyStr("shared")); got.AsInt() != 5 {
		t.Fatalf("expected __index chain to reach the base table's field, got %v", got.AsInt())
	}
	if got := GetElement(childRef, keyStr("missing")); !got.IsNil() {
		t.Fatalf("expected nil for a key absent from the whole chain, got %v", got)
	}
}

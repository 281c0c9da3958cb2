package shape

import (
	"fmt"

	"github.com/kr/pretty"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// MetaFunctions holds the metamethod table consulted when a field or
// metamethod fallback chain needs to step through a table acting as a
// metatable (spec.md §4.5's "__index"/"__newindex" chains), grounded on
// vm-lua's `lua_meta_functions` (ReadIndex/ReadNewindex).
type MetaFunctions struct {
	Index    Value
	NewIndex Value
}

// transition is the cached outcome of extending a shape with one more key:
// the resulting shape and the slot the new field lives at.
type transition struct {
	next *Shape
	slot uint32
}

// Shape is a hidden-class layout descriptor: which keys live at which fast
// slots, plus a transition table so repeated "add the same field in the
// same order" paths converge on shared shapes instead of allocating a new
// one per table instance (spec.md §4.5, grounded on vm-lua/src/builder.rs's
// `shape_map`/`new_shape` and instruction.rs's `ShapeAction`/`InsertField`/
// `InsertAction` native helpers).
type Shape struct {
	Fields        map[Value]uint32
	action        map[Value]transition
	MetaFunctions MetaFunctions
	MaxIntIndex   int64
	IsOwned       bool
	// Invalid is the shared cell spec.md §4.5 says every inline cache that
	// ever observed this shape keeps a reference to: flipping it to true
	// invalidates all of them in O(1) without walking caches.
	Invalid *bool
}

// NewShape returns an empty owned shape (the table that creates it is its
// sole owner until it is cloned as a transition target). A zero-value
// MetaFunctions means "no metamethods"; since Value's nil sentinel (TagNil)
// is not the zero uint64, unset fields are normalized here rather than
// relying on Go's zero value to mean the same thing.
func NewShape(meta MetaFunctions) *Shape {
	if meta.Index == 0 {
		meta.Index = TagNil
	}
	if meta.NewIndex == 0 {
		meta.NewIndex = TagNil
	}
	invalid := false
	return &Shape{
		Fields:        make(map[Value]uint32),
		action:        make(map[Value]transition),
		MetaFunctions: meta,
		MaxIntIndex:   -1,
		IsOwned:       true,
		Invalid:       &invalid,
	}
}

// clone produces a non-owned copy of s with a fresh action table and a
// fresh invalid cell (vm-lua's __vm_lua_lib_clone_shape copies fields/meta/
// max_int_index/is_owned/invalid but always resets the action maps, since
// the clone's transitions haven't been observed yet).
func (s *Shape) clone() *Shape {
	fields := make(map[Value]uint32, len(s.Fields))
	for k, v := range s.Fields {
		fields[k] = v
	}
	invalid := *s.Invalid
	return &Shape{
		Fields:        fields,
		action:        make(map[Value]transition),
		MetaFunctions: s.MetaFunctions,
		MaxIntIndex:   s.MaxIntIndex,
		IsOwned:       s.IsOwned,
		Invalid:       &invalid,
	}
}

// Slot reports the fast-slot index key resolves to under s, if any.
func (s *Shape) Slot(key Value) (uint32, bool) {
	slot, ok := s.Fields[key]
	return slot, ok
}

// Keys returns the field keys s carries, in a stable (ascending bit-
// pattern) order so external tooling inspecting a shape (spec.md §6
// "Shape map") gets a reproducible listing rather than Go's randomized map
// iteration order.
func (s *Shape) Keys() []Value {
	keys := maps.Keys(s.Fields)
	slices.Sort(keys)
	return keys
}

// String renders s's field layout for diagnostics and tests, independent
// of Go's default struct-dump order.
func (s *Shape) String() string {
	fields := make(map[uint64]uint32, len(s.Fields))
	for k, v := range s.Fields {
		fields[uint64(k)] = v
	}
	return fmt.Sprintf("Shape{owned=%v fields=%# v}", s.IsOwned, pretty.Formatter(fields))
}

// Invalidate flips the shared invalid cell, causing every inline cache
// that captured s to miss on its next use (spec.md §4.5 "Invalidation").
func (s *Shape) Invalidate() {
	*s.Invalid = true
}

// Extend resolves spec.md §4.5's three-step write-time transition: an
// existing field writes in place; an owned shape grows in place; anything
// else either replays a cached transition or clones+extends+caches a new
// one. It returns the shape the table should adopt after the write and the
// slot the field lives at.
func (s *Shape) Extend(key Value) (next *Shape, slot uint32) {
	if existing, ok := s.Fields[key]; ok {
		return s, existing
	}
	if s.IsOwned {
		slot := uint32(len(s.Fields))
		s.Fields[key] = slot
		s.bumpMaxIntIndex(key)
		return s, slot
	}
	if t, ok := s.action[key]; ok {
		return t.next, t.slot
	}
	grown := s.clone()
	newSlot := uint32(len(grown.Fields))
	grown.Fields[key] = newSlot
	grown.bumpMaxIntIndex(key)
	s.action[key] = transition{next: grown, slot: newSlot}
	return grown, newSlot
}

// bumpMaxIntIndex advances MaxIntIndex when key is the next dense
// non-negative integer in sequence, mirroring the array-part growth
// check in vm-lua's builder.rs: only a contiguous append (key ==
// MaxIntIndex+1) extends the run a caller can treat as a fast 0..N
// integer-indexed prefix rather than sparse hash-part storage.
func (s *Shape) bumpMaxIntIndex(key Value) {
	if !key.IsInt() {
		return
	}
	if i := key.AsInt(); i == s.MaxIntIndex+1 {
		s.MaxIntIndex = i
	}
}

package typemodel

import "testing"

func TestIntLayoutWidths(t *testing.T) {
	cases := []struct {
		k    IntKind
		size uint64
	}{
		{I8, 1}, {U8, 1},
		{I16, 2}, {U16, 2},
		{I32, 4}, {U32, 4},
		{I64, 8}, {U64, 8}, {Usize, 8},
		{I128, 16}, {U128, 16},
	}
	for _, c := range cases {
		l := IntType{K: c.k}.Layout()
		if l.Size != c.size || l.Align != c.size {
			t.Fatalf("%v: want size/align %d, got %+v", c.k, c.size, l)
		}
	}
}

func TestIntSignedness(t *testing.T) {
	if !I64.Signed() || U64.Signed() {
		t.Fatalf("signedness mismatch: I64=%v U64=%v", I64.Signed(), U64.Signed())
	}
}

func TestTupleNormalOffsetsRespectAlignment(t *testing.T) {
	// u8 then u32: the u32 field must be pushed to offset 4, not 1, and the
	// overall size rounds up to the tuple's max alignment.
	tt := TupleNormalType{Fields: []Field{
		{Name: "a", Type: IntType{K: U8}},
		{Name: "b", Type: IntType{K: U32}},
	}}
	offsets := tt.Offsets()
	if offsets[0] != 0 || offsets[1] != 4 {
		t.Fatalf("want offsets [0 4], got %v", offsets)
	}
	l := tt.Layout()
	if l.Size != 8 || l.Align != 4 {
		t.Fatalf("want size 8 align 4, got %+v", l)
	}
}

func TestTupleComposeBitOffsets(t *testing.T) {
	tc := TupleComposeType{Fields: []ComposedField{
		{Name: "tag", Type: IntType{K: U8}, BitWidth: 2},
		{Name: "payload", Type: IntType{K: U8}, BitWidth: 6},
	}}
	offsets := tc.BitOffsets()
	if offsets[0] != 0 || offsets[1] != 2 {
		t.Fatalf("want bit offsets [0 2], got %v", offsets)
	}
	if l := tc.Layout(); l.Size != 1 {
		t.Fatalf("8 packed bits should fit in 1 byte, got %+v", l)
	}
}

func TestArraySizedLayout(t *testing.T) {
	arr := ArraySizedType{Elem: IntType{K: I32}, N: 4}
	l := arr.Layout()
	if l.Size != 16 || l.Align != 4 {
		t.Fatalf("want size 16 align 4, got %+v", l)
	}
}

func TestArrayUnsizedLayoutCarriesFlexibleSize(t *testing.T) {
	arr := ArrayUnsizedType{Elem: IntType{K: I64}}
	l := arr.Layout()
	if l.FlexibleSize != 8 {
		t.Fatalf("want flexible element size 8, got %d", l.FlexibleSize)
	}
	if l.Align != 8 {
		t.Fatalf("want align 8 (max of length prefix and element), got %d", l.Align)
	}
}

func TestEnumLayoutUndefinedValueTagUsesMaxPayload(t *testing.T) {
	e := EnumType{
		Variants: []Variant{
			{Name: "None"},
			{Name: "Some", Fields: []Field{{Name: "v", Type: IntType{K: U8}}}},
		},
		Tag: UndefinedValueTag{Start: 0, End: 2, Underlying: IntType{K: U8}},
	}
	if l := e.Layout(); l.Size != 1 {
		t.Fatalf("niche tag should cost no extra bytes, got %+v", l)
	}
}

func TestEnumLayoutAppendTagGrowsSize(t *testing.T) {
	e := EnumType{
		Variants: []Variant{
			{Name: "A", Fields: []Field{{Name: "v", Type: IntType{K: U8}}}},
		},
		Tag: AppendTagTag{Offset: 1, Size: 1},
	}
	plain := TupleNormalType{Fields: []Field{{Name: "v", Type: IntType{K: U8}}}}.Layout()
	if l := e.Layout(); l.Size <= plain.Size {
		t.Fatalf("append tag must grow the payload size, got %+v vs plain %+v", l, plain)
	}
}

func TestKindStringCoversAllVariants(t *testing.T) {
	kinds := []Kind{
		KindBool, KindInt, KindFloat, KindPointer, KindReference, KindEmbed,
		KindTupleNormal, KindTupleCompose, KindEnum, KindArraySized,
		KindArrayUnsized, KindFunc, KindMetadata,
	}
	for _, k := range kinds {
		if k.String() == "Unknown" {
			t.Fatalf("kind %d missing from String()", k)
		}
	}
}

func TestReferenceAndEmbedTypeStrings(t *testing.T) {
	ref := ReferenceType{Elem: IntType{K: I64}, Name: "Node"}
	if ref.String() != "&i64" {
		t.Fatalf("want &i64, got %s", ref.String())
	}
	emb := EmbedType{Elem: IntType{K: I64}, Name: "Node"}
	if emb.String() != "embed i64" {
		t.Fatalf("want 'embed i64', got %s", emb.String())
	}
	if emb.Layout() != (IntType{K: I64}).Layout() {
		t.Fatalf("embed layout should match its element's layout exactly")
	}
}

package leaf_test

import (
	"testing"

	"github.com/benbjohnson/leaf"
)

func TestRetriever_Retrieve(t *testing.T) {
	tm := leaf.NewTypeManager()
	u8 := MustRegisterPrimitive(tm, "u8", 1)
	u32 := MustRegisterPrimitive(tm, "u32", 4)

	ptr := leaf.TypeIDOf("*u32")
	tm.Register(&leaf.TypeInfo{ID: ptr, Name: "*u32", Size: 8, Align: 8, PointeeID: u32})

	slice := leaf.TypeIDOf("*[u32]")
	tm.Register(&leaf.TypeInfo{ID: slice, Name: "*[u32]", Size: 16, Align: 8, PointeeID: u32})

	pair := leaf.TypeIDOf("Pair")
	tm.Register(&leaf.TypeInfo{
		ID: pair, Name: "Pair", Size: 8, Align: 4,
		Variants: []leaf.VariantInfo{{
			Fields: leaf.FieldsShape{
				Kind:   leaf.FieldsStruct,
				Fields: []leaf.FieldInfo{{TypeID: u8, Offset: 0}, {TypeID: u32, Offset: 4}},
			},
		}},
	})

	bytes3 := leaf.TypeIDOf("[u8; 3]")
	tm.Register(&leaf.TypeInfo{
		ID: bytes3, Name: "[u8; 3]", Size: 3, Align: 1,
		Variants: []leaf.VariantInfo{{Fields: leaf.FieldsShape{Kind: leaf.FieldsArray, Len: 3, ItemID: u8}}},
	})

	option := leaf.TypeIDOf("Option<u32>")
	tm.Register(&leaf.TypeInfo{
		ID: option, Name: "Option<u32>", Size: 8, Align: 4,
		Tag: &leaf.TagInfo{Offset: 0, Prim: "u8"},
		Variants: []leaf.VariantInfo{
			{Index: 0, Fields: leaf.FieldsShape{Kind: leaf.FieldsNone}},
			{Index: 1, Fields: leaf.FieldsShape{Kind: leaf.FieldsStruct, Fields: []leaf.FieldInfo{{TypeID: u32, Offset: 4}}}},
		},
	})

	unit := leaf.TypeIDOf("()")
	tm.Register(&leaf.TypeInfo{ID: unit, Name: "()", Size: 0, Align: 1})

	mem := make(Memory)
	mem.Write(0x100, leaf.NewIntConst(1, 8, false))
	mem.Write(0x104, leaf.NewIntConst(2, 32, false))
	mem.Write(0x200, leaf.NewUsizeConst(0x100))
	mem.Write(0x208, leaf.NewUsizeConst(3))
	mem.Write(0x300, leaf.NewIntConst(0x030201, 32, false))
	r := leaf.NewRetriever(tm, mem)

	u16 := leaf.IntType(16, false)
	for _, tt := range []struct {
		name string
		v    leaf.Value
		want string
	}{
		{"Primitive", &leaf.RawValue{Addr: 0x300, Type: &u16}, "513u16"},
		{"PrimitiveTypeID", &leaf.RawValue{Addr: 0x104, TypeID: u32}, "2u32"},
		{"Pointer", &leaf.RawValue{Addr: 0x200, TypeID: ptr}, "0x100"},
		{"Struct", &leaf.RawValue{Addr: 0x100, TypeID: pair}, "struct{1u8, 2u32}"},
		{"Array", &leaf.RawValue{Addr: 0x300, TypeID: bytes3}, "[1u8, 2u8, 3u8]"},
		{"EnumSome", &leaf.RawValue{Addr: 0x100, TypeID: option}, "enum#1{2u32}"},
		{"EnumNone", &leaf.RawValue{Addr: 0x400, TypeID: option}, "enum#0{}"},
		{"ZST", &leaf.RawValue{Addr: 0x400, TypeID: unit}, "()"},
		{"PtrMetadata", &leaf.PtrMetadataExpr{Source: &leaf.RawValue{Addr: 0x200, TypeID: slice}}, "3u64"},
		{"ThinPtrMetadata", &leaf.PtrMetadataExpr{Source: &leaf.RawValue{Addr: 0x200, TypeID: ptr}}, "()"},
		{
			"Porter",
			&leaf.PorterValue{Addr: 0x100, TypeID: pair, Size: 8, Entries: []leaf.PorterEntry{
				{Offset: 4, TypeID: u32, Value: leaf.NewSymVar(1, leaf.IntType(32, false), nil)},
			}},
			"struct{1u8, v1:u32}",
		},
		{
			"PorterWhole",
			&leaf.PorterValue{Addr: 0x104, TypeID: u32, Size: 4, Entries: []leaf.PorterEntry{
				{Offset: 0, Value: leaf.NewSymVar(1, leaf.IntType(32, false), nil)},
			}},
			"v1:u32",
		},
		{
			"Nested",
			leaf.NewBinaryExpr(leaf.OpAdd, leaf.NewSymVar(1, leaf.IntType(32, false), nil), &leaf.RawValue{Addr: 0x104, TypeID: u32, Type: typePtr(leaf.IntType(32, false))}),
			"(add v1:u32 2u32)",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Retrieve(tt.v).String(); got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}

	t.Run("FatPointer", func(t *testing.T) {
		v := r.Retrieve(&leaf.RawValue{Addr: 0x200, TypeID: slice})
		if fat, ok := v.(*leaf.FatPtrValue); !ok {
			t.Fatalf("unexpected value: %s", v)
		} else if fat.Addr.String() != "0x100" || fat.Metadata.String() != "3u64" {
			t.Fatalf("unexpected fat pointer: %s", v)
		}
	})

	t.Run("Ref", func(t *testing.T) {
		index := leaf.NewSymVar(1, leaf.UsizeType(), nil)
		ref := &leaf.RefExpr{Place: &leaf.SymPlace{
			Index:      index,
			Candidates: []leaf.PlaceCandidate{&leaf.Location{Addr: 0x100}, &leaf.Location{Addr: 0x104}},
		}}
		if got, want := r.Retrieve(ref).String(), "(select v1:u64 [0x100, 0x104])"; got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("Len", func(t *testing.T) {
		index := leaf.NewSymVar(1, leaf.UsizeType(), nil)
		n := &leaf.LenExpr{Place: &leaf.SymPlace{
			Index: index,
			Candidates: []leaf.PlaceCandidate{
				&leaf.Location{Addr: 0x300, TypeID: bytes3, HasType: true},
				&leaf.Location{Addr: 0x310, TypeID: bytes3, HasType: true},
			},
		}}
		if got, want := r.Retrieve(n).String(), "(select v1:u64 [3u64, 3u64])"; got != want {
			t.Fatalf("got %s, want %s", got, want)
		}
	})

	t.Run("ErrTypeNotFound", func(t *testing.T) {
		MustPanicWith(t, leaf.ErrTypeNotFound, func() {
			r.Retrieve(&leaf.RawValue{Addr: 0x100, TypeID: leaf.TypeIDOf("missing")})
		})
	})

	t.Run("ErrLenOfScalar", func(t *testing.T) {
		n := &leaf.LenExpr{Place: &leaf.SymPlace{
			Index:      leaf.NewSymVar(1, leaf.UsizeType(), nil),
			Candidates: []leaf.PlaceCandidate{&leaf.Location{Addr: 0x104, TypeID: u32, HasType: true}},
		}}
		MustPanicWith(t, leaf.ErrUnsupported, func() { r.Retrieve(n) })
	})
}

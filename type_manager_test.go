package leaf_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/benbjohnson/leaf"
	"github.com/google/go-cmp/cmp"
)

func TestTypeIDOf(t *testing.T) {
	if leaf.TypeIDOf("u8") != leaf.TypeIDOf("u8") {
		t.Fatal("expected stable identity")
	} else if leaf.TypeIDOf("u8") == leaf.TypeIDOf("i8") {
		t.Fatal("expected distinct identities")
	} else if s := leaf.TypeID(0xab).String(); s != "ty#ab" {
		t.Fatalf("unexpected string: %s", s)
	}
}

func TestParseValueType(t *testing.T) {
	for _, tt := range []struct {
		s    string
		want string
	}{
		{"u8", "u8"},
		{"i128", "i128"},
		{"usize", "u64"},
		{"isize", "i64"},
		{"bool", "bool"},
	} {
		if typ, ok := leaf.ParseValueType(tt.s); !ok {
			t.Fatalf("%s: expected valid type", tt.s)
		} else if got := typ.String(); got != tt.want {
			t.Fatalf("%s: got %s, want %s", tt.s, got, tt.want)
		}
	}

	for _, s := range []string{"", "x8", "u0", "u256", "i", "str"} {
		if _, ok := leaf.ParseValueType(s); ok {
			t.Fatalf("%q: expected invalid type", s)
		}
	}
}

func TestTypeManager_Register(t *testing.T) {
	tm := leaf.NewTypeManager()
	u16 := MustRegisterPrimitive(tm, "u16", 2)

	if info, ok := tm.Get(u16); !ok || info.Name != "u16" {
		t.Fatalf("unexpected type: %+v", info)
	} else if size, ok := tm.SizeOf(u16); !ok || size != 2 {
		t.Fatalf("unexpected size: %d", size)
	} else if typ, ok := tm.MustGet(u16).PrimitiveType(); !ok || typ != leaf.IntType(16, false) {
		t.Fatalf("unexpected primitive type: %s", typ)
	}

	if _, ok := tm.SizeOf(leaf.TypeIDOf("missing")); ok {
		t.Fatal("expected unknown type")
	}
	MustPanicWith(t, leaf.ErrTypeNotFound, func() { tm.MustGet(leaf.TypeIDOf("missing")) })
}

func TestTypeManager_Clone(t *testing.T) {
	tm := leaf.NewTypeManager()
	MustRegisterPrimitive(tm, "u8", 1)

	other := tm.Clone()
	MustRegisterPrimitive(tm, "u16", 2)
	MustRegisterPrimitive(other, "u32", 4)

	if n := tm.Len(); n != 2 {
		t.Fatalf("unexpected length: %d", n)
	} else if n := other.Len(); n != 2 {
		t.Fatalf("unexpected clone length: %d", n)
	} else if _, ok := other.Get(leaf.TypeIDOf("u16")); ok {
		t.Fatal("registration leaked into clone")
	} else if _, ok := tm.Get(leaf.TypeIDOf("u32")); ok {
		t.Fatal("registration leaked from clone")
	}
}

func TestTypeManager_Fields(t *testing.T) {
	tm := leaf.NewTypeManager()
	u32 := MustRegisterPrimitive(tm, "u32", 4)

	arr := leaf.TypeIDOf("[u32; 3]")
	tm.Register(&leaf.TypeInfo{
		ID: arr, Name: "[u32; 3]", Size: 12, Align: 4,
		Variants: []leaf.VariantInfo{{Fields: leaf.FieldsShape{Kind: leaf.FieldsArray, Len: 3, ItemID: u32}}},
	})

	want := []leaf.FieldInfo{{TypeID: u32, Offset: 0}, {TypeID: u32, Offset: 4}, {TypeID: u32, Offset: 8}}
	if diff := cmp.Diff(want, tm.Fields(arr, 0)); diff != "" {
		t.Fatalf("unexpected fields (-want +got):\n%s", diff)
	} else if fields := tm.Fields(arr, 1); fields != nil {
		t.Fatalf("unexpected fields of missing variant: %+v", fields)
	} else if fields := tm.Fields(u32, 0); fields != nil {
		t.Fatalf("unexpected fields of primitive: %+v", fields)
	}
}

func TestTypeManager_Load(t *testing.T) {
	t.Run("RoundTrip", func(t *testing.T) {
		tm := leaf.NewTypeManager()
		u8 := MustRegisterPrimitive(tm, "u8", 1)
		tm.Register(&leaf.TypeInfo{
			ID: leaf.TypeIDOf("E"), Name: "E", Size: 2, Align: 1,
			Tag: &leaf.TagInfo{Offset: 0, Prim: "u8"},
			Variants: []leaf.VariantInfo{
				{Index: 0, Fields: leaf.FieldsShape{Kind: leaf.FieldsNone}},
				{Index: 1, Fields: leaf.FieldsShape{Kind: leaf.FieldsStruct, Fields: []leaf.FieldInfo{{TypeID: u8, Offset: 1}}}},
			},
		})

		var buf bytes.Buffer
		if err := tm.Write(&buf); err != nil {
			t.Fatal(err)
		} else if n := strings.Count(buf.String(), "\n"); n != 2 {
			t.Fatalf("unexpected line count: %d", n)
		}

		other := leaf.NewTypeManager()
		if err := other.Load(&buf); err != nil {
			t.Fatal(err)
		} else if diff := cmp.Diff(tm.Types(), other.Types()); diff != "" {
			t.Fatalf("unexpected types (-want +got):\n%s", diff)
		}
	})

	t.Run("File", func(t *testing.T) {
		tm := leaf.NewTypeManager()
		MustRegisterPrimitive(tm, "i64", 8)

		path := filepath.Join(t.TempDir(), "types.jsonl")
		if err := leaf.WriteTypes(path, tm); err != nil {
			t.Fatal(err)
		}

		other := leaf.NewTypeManager()
		if err := other.LoadFile(path); err != nil {
			t.Fatal(err)
		} else if info, ok := other.Get(leaf.TypeIDOf("i64")); !ok || info.Prim != "i64" {
			t.Fatalf("unexpected type: %+v", info)
		}
	})

	t.Run("ErrSyntax", func(t *testing.T) {
		err := leaf.NewTypeManager().Load(strings.NewReader("{\"id\":1}\n\nnot json\n"))
		if err == nil || !strings.Contains(err.Error(), "line 3") {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("ErrNotFound", func(t *testing.T) {
		if err := leaf.NewTypeManager().LoadFile(filepath.Join(t.TempDir(), "missing")); err == nil {
			t.Fatal("expected error")
		}
	})
}

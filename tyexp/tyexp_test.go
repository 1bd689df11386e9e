package tyexp_test

import (
	"go/types"
	"testing"

	"github.com/benbjohnson/leaf"
	"github.com/benbjohnson/leaf/tyexp"
	"github.com/google/go-cmp/cmp"
)

const layoutPkg = "github.com/benbjohnson/leaf/tyexp/testdata/layout"

func TestExporter_AddPackage(t *testing.T) {
	e := MustExportPackage(t, "./testdata/layout")

	t.Run("Struct", func(t *testing.T) {
		info := MustLookup(t, e, layoutPkg+".T")
		if info.Size != 32 || info.Align != 8 {
			t.Fatalf("unexpected size/align: %d/%d", info.Size, info.Align)
		}
		i8, i64, i32 := leaf.TypeIDOf("int8"), leaf.TypeIDOf("int"), leaf.TypeIDOf("int32")
		if diff := cmp.Diff([]leaf.VariantInfo{{Fields: leaf.FieldsShape{
			Kind: leaf.FieldsStruct,
			Fields: []leaf.FieldInfo{
				{TypeID: i8, Offset: 0},
				{TypeID: i64, Offset: 8},
				{TypeID: i64, Offset: 16},
				{TypeID: i32, Offset: 24},
			},
		}}}, info.Variants); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Array", func(t *testing.T) {
		info := MustLookup(t, e, layoutPkg+".Bytes")
		if info.Size != 4 {
			t.Fatalf("unexpected size: %d", info.Size)
		}
		if diff := cmp.Diff(leaf.FieldsShape{Kind: leaf.FieldsArray, Len: 4, ItemID: leaf.TypeIDOf("uint8")}, info.Variants[0].Fields); diff != "" {
			t.Fatal(diff)
		}
	})

	t.Run("Primitive", func(t *testing.T) {
		for name, prim := range map[string]string{
			"int8":  "i8",
			"int":   "i64",
			"int32": "i32",
			"uint8": "u8",
		} {
			if info := MustLookup(t, e, name); info.Prim != prim {
				t.Fatalf("%s: prim=%q, want %q", name, info.Prim, prim)
			}
		}
	})

	t.Run("Recursive", func(t *testing.T) {
		node := MustLookup(t, e, layoutPkg+".Node")
		ptr := MustLookup(t, e, "*"+layoutPkg+".Node")
		if ptr.PointeeID != node.ID {
			t.Fatalf("unexpected pointee: %s", ptr.PointeeID)
		} else if got := node.Variants[0].Fields.Fields[1].TypeID; got != ptr.ID {
			t.Fatalf("unexpected field type: %s", got)
		}
	})

	t.Run("Headers", func(t *testing.T) {
		rec := MustLookup(t, e, layoutPkg+".Record")
		if rec.Size != 48 {
			t.Fatalf("unexpected size: %d", rec.Size)
		}

		str := MustLookup(t, e, "string")
		if str.Size != 16 || len(str.Variants[0].Fields.Fields) != 2 {
			t.Fatalf("unexpected string layout: %#v", str)
		}

		slice := MustLookup(t, e, "[]uint16")
		fields := slice.Variants[0].Fields.Fields
		if len(fields) != 3 || fields[2].Offset != 16 {
			t.Fatalf("unexpected slice layout: %#v", fields)
		} else if ptr := MustLookup(t, e, "*uint16"); fields[0].TypeID != ptr.ID {
			t.Fatalf("unexpected slice data pointer: %s", fields[0].TypeID)
		}

		iface := MustLookup(t, e, layoutPkg+".Adder")
		if iface.Size != 16 || len(iface.Variants[0].Fields.Fields) != 2 {
			t.Fatalf("unexpected interface layout: %#v", iface)
		}
	})

	t.Run("Generic", func(t *testing.T) {
		if _, ok := e.Lookup(layoutPkg + ".Pair"); ok {
			t.Fatal("expected generic type to be skipped")
		}
	})

	t.Run("Register", func(t *testing.T) {
		tm := leaf.NewTypeManager()
		e.Register(tm)
		if tm.Len() != len(e.Types()) {
			t.Fatalf("unexpected registered types: %d", tm.Len())
		}

		id, _ := e.Lookup(layoutPkg + ".T")
		if size, ok := tm.SizeOf(id); !ok || size != 32 {
			t.Fatalf("unexpected size: %d", size)
		}
		info := tm.MustGet(leaf.TypeIDOf("bool"))
		if typ, ok := info.PrimitiveType(); !ok || typ != leaf.BoolType() {
			t.Fatalf("unexpected primitive type: %v", typ)
		}
	})
}

func TestExporter_Add(t *testing.T) {
	t.Run("Arch", func(t *testing.T) {
		e, err := tyexp.NewExporter("386")
		if err != nil {
			t.Fatal(err)
		}
		id := e.Add(types.Typ[types.Int])
		if info := e.Types()[0]; info.ID != id || info.Prim != "i32" || info.Size != 4 {
			t.Fatalf("unexpected layout: %#v", info)
		}
	})

	t.Run("ErrUnknownArch", func(t *testing.T) {
		if _, err := tyexp.NewExporter("z80"); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		e, _ := tyexp.NewExporter(tyexp.DefaultArch)
		a := e.Add(types.NewSlice(types.Typ[types.Bool]))
		b := e.Add(types.NewSlice(types.Typ[types.Bool]))
		if a != b {
			t.Fatalf("identity mismatch: %s != %s", a, b)
		} else if n := len(e.Types()); n != 4 {
			// []bool, *bool, bool & int
			t.Fatalf("unexpected type count: %d", n)
		}
	})
}

// MustExportPackage loads the package in dir and exports its types.
func MustExportPackage(tb testing.TB, dir string) *tyexp.Exporter {
	tb.Helper()
	pkgs, err := tyexp.Load(dir, ".")
	if err != nil {
		tb.Fatal(err)
	}
	e, err := tyexp.NewExporter(tyexp.DefaultArch)
	if err != nil {
		tb.Fatal(err)
	}
	for _, pkg := range pkgs {
		e.AddPackage(pkg.Types)
	}
	return e
}

// MustLookup returns the layout of the named type.
func MustLookup(tb testing.TB, e *tyexp.Exporter, name string) *leaf.TypeInfo {
	tb.Helper()
	id, ok := e.Lookup(name)
	if !ok {
		tb.Fatalf("type not exported: %s", name)
	}
	for _, info := range e.Types() {
		if info.ID == id {
			return info
		}
	}
	tb.Fatalf("type not found: %s", name)
	return nil
}

// Package tyexp exports the memory layout of the types of Go packages in
// the form consumed by leaf.TypeManager.
package tyexp

import (
	"fmt"
	"go/types"
	"log"
	"sort"

	"github.com/benbjohnson/leaf"
	"github.com/pkg/errors"
	"golang.org/x/tools/go/packages"
)

// DefaultArch is the architecture layouts are computed for by default.
const DefaultArch = "amd64"

// Load loads and type-checks the packages matching patterns.
func Load(dir string, patterns ...string) ([]*packages.Package, error) {
	pkgs, err := packages.Load(&packages.Config{
		Mode: packages.NeedName | packages.NeedTypes | packages.NeedTypesSizes | packages.NeedDeps | packages.NeedImports,
		Dir:  dir,
	}, patterns...)
	if err != nil {
		return nil, err
	} else if packages.PrintErrors(pkgs) > 0 {
		return nil, errors.New("packages contain errors")
	}
	return pkgs, nil
}

// Exporter computes the layout of types and of the types they reference.
type Exporter struct {
	sizes types.Sizes
	ids   map[string]leaf.TypeID
	infos map[leaf.TypeID]*leaf.TypeInfo
}

// NewExporter returns a new exporter for the given architecture.
func NewExporter(arch string) (*Exporter, error) {
	sizes := types.SizesFor("gc", arch)
	if sizes == nil {
		return nil, errors.Errorf("unknown architecture: %q", arch)
	}
	return &Exporter{
		sizes: sizes,
		ids:   make(map[string]leaf.TypeID),
		infos: make(map[leaf.TypeID]*leaf.TypeInfo),
	}, nil
}

// AddPackage adds every named, non-generic type declared at package level.
func (e *Exporter) AddPackage(pkg *types.Package) {
	scope := pkg.Scope()
	for _, name := range scope.Names() {
		tn, ok := scope.Lookup(name).(*types.TypeName)
		if !ok || tn.IsAlias() {
			continue
		}
		if named, ok := tn.Type().(*types.Named); ok && named.TypeParams().Len() > 0 {
			log.Printf("[tyexp] skipping generic type %s", tn.Name())
			continue
		}
		e.Add(tn.Type())
	}
}

// Add adds the layout of t and returns its identity.
func (e *Exporter) Add(t types.Type) leaf.TypeID {
	if b, ok := t.(*types.Basic); ok {
		t = types.Typ[b.Kind()] // byte & rune
	}
	name := types.TypeString(t, nil)
	if id, ok := e.ids[name]; ok {
		return id
	}

	id := leaf.TypeIDOf(name)
	e.ids[name] = id
	info := &leaf.TypeInfo{
		ID:    id,
		Name:  name,
		Size:  uint64(e.sizes.Sizeof(t)),
		Align: uint64(e.sizes.Alignof(t)),
	}
	e.infos[id] = info // registered before fields for recursive types

	switch u := t.Underlying().(type) {
	case *types.Basic:
		e.addBasic(info, u)
	case *types.Pointer:
		info.PointeeID = e.Add(u.Elem())
	case *types.Array:
		info.Variants = []leaf.VariantInfo{{Fields: leaf.FieldsShape{
			Kind:   leaf.FieldsArray,
			Len:    uint64(u.Len()),
			ItemID: e.Add(u.Elem()),
		}}}
	case *types.Slice:
		e.addHeader(info, e.Add(types.NewPointer(u.Elem())), "int", "int")
	case *types.Struct:
		e.addStruct(info, u)
	case *types.Interface:
		e.addHeader(info, e.Add(types.Typ[types.Uintptr]), "unsafe.Pointer")
	case *types.Map, *types.Chan, *types.Signature:
		info.Prim = "usize"
	default:
		log.Printf("[tyexp] no layout for %s (%T)", name, u)
	}
	return id
}

func (e *Exporter) addBasic(info *leaf.TypeInfo, t *types.Basic) {
	switch t.Kind() {
	case types.String:
		e.addHeader(info, e.Add(types.Typ[types.UnsafePointer]), "int")
		return
	case types.Complex64:
		e.addHeader(info, e.Add(types.Typ[types.Float32]), "float32")
		return
	case types.Complex128:
		e.addHeader(info, e.Add(types.Typ[types.Float64]), "float64")
		return
	}

	switch {
	case t.Kind() == types.Bool:
		info.Prim = "bool"
	case t.Kind() == types.Float32:
		info.Prim = "f32"
	case t.Kind() == types.Float64:
		info.Prim = "f64"
	case t.Kind() == types.Uintptr, t.Kind() == types.UnsafePointer:
		info.Prim = "usize"
	case t.Info()&types.IsInteger != 0 && t.Info()&types.IsUnsigned != 0:
		info.Prim = fmt.Sprintf("u%d", info.Size*8)
	case t.Info()&types.IsInteger != 0:
		info.Prim = fmt.Sprintf("i%d", info.Size*8)
	default:
		log.Printf("[tyexp] no layout for basic type %s", t)
	}
}

// addHeader lays out a runtime header: a first word of the given type
// followed by words of the named basic types.
func (e *Exporter) addHeader(info *leaf.TypeInfo, first leaf.TypeID, rest ...string) {
	fieldTypes := []leaf.TypeID{first}
	for _, name := range rest {
		fieldTypes = append(fieldTypes, e.Add(basicType(name)))
	}

	var offset uint64
	fields := make([]leaf.FieldInfo, len(fieldTypes))
	for i, id := range fieldTypes {
		fields[i] = leaf.FieldInfo{TypeID: id, Offset: offset}
		offset += e.infos[id].Size
	}
	info.Variants = []leaf.VariantInfo{{Fields: leaf.FieldsShape{Kind: leaf.FieldsStruct, Fields: fields}}}
}

func (e *Exporter) addStruct(info *leaf.TypeInfo, t *types.Struct) {
	vars := make([]*types.Var, t.NumFields())
	for i := range vars {
		vars[i] = t.Field(i)
	}
	offsets := e.sizes.Offsetsof(vars)

	fields := make([]leaf.FieldInfo, len(vars))
	for i, v := range vars {
		fields[i] = leaf.FieldInfo{TypeID: e.Add(v.Type()), Offset: uint64(offsets[i])}
	}
	info.Variants = []leaf.VariantInfo{{Fields: leaf.FieldsShape{Kind: leaf.FieldsStruct, Fields: fields}}}
}

// Lookup returns the identity of the type with the given qualified name.
func (e *Exporter) Lookup(name string) (leaf.TypeID, bool) {
	id, ok := e.ids[name]
	return id, ok
}

// Types returns all added layouts sorted by name.
func (e *Exporter) Types() []*leaf.TypeInfo {
	a := make([]*leaf.TypeInfo, 0, len(e.infos))
	for _, info := range e.infos {
		a = append(a, info)
	}
	sort.Slice(a, func(i, j int) bool { return a[i].Name < a[j].Name })
	return a
}

// Register registers all added layouts in tm.
func (e *Exporter) Register(tm *leaf.TypeManager) {
	for _, info := range e.Types() {
		tm.Register(info)
	}
}

func basicType(name string) types.Type {
	switch name {
	case "int":
		return types.Typ[types.Int]
	case "float32":
		return types.Typ[types.Float32]
	case "float64":
		return types.Typ[types.Float64]
	case "unsafe.Pointer":
		return types.Typ[types.UnsafePointer]
	default:
		panic(fmt.Sprintf("tyexp: unexpected header word: %s", name))
	}
}

package leaf

import (
	"bufio"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sort"
	"strconv"

	"github.com/benbjohnson/immutable"
	"github.com/pkg/errors"
)

// TypeID identifies a type of the instrumented program.
type TypeID uint64

// TypeIDOf returns the identity of a type from its fully qualified name.
func TypeIDOf(name string) TypeID {
	h := fnv.New64a()
	h.Write([]byte(name))
	return TypeID(h.Sum64())
}

// String returns the string representation of the identity.
func (id TypeID) String() string {
	return fmt.Sprintf("ty#%x", uint64(id))
}

// FieldsKind represents the shape of the fields of a type variant.
type FieldsKind string

// Field shapes.
const (
	FieldsNone   FieldsKind = "none"
	FieldsArray  FieldsKind = "array"
	FieldsStruct FieldsKind = "struct"
	FieldsUnion  FieldsKind = "union"
)

// TypeInfo describes the memory layout of a type.
type TypeInfo struct {
	ID        TypeID        `json:"id"`
	Name      string        `json:"name"`
	Size      uint64        `json:"size"`
	Align     uint64        `json:"align"`
	Prim      string        `json:"prim,omitempty"`
	PointeeID TypeID        `json:"pointee_ty,omitempty"`
	Variants  []VariantInfo `json:"variants,omitempty"`
	Tag       *TagInfo      `json:"tag,omitempty"`
}

// VariantInfo describes the fields of a single variant.
// Structs, tuples & arrays have exactly one variant.
type VariantInfo struct {
	Index  int         `json:"index"`
	Fields FieldsShape `json:"fields"`
}

// FieldsShape describes the position of the fields within a variant.
type FieldsShape struct {
	Kind   FieldsKind  `json:"kind"`
	Len    uint64      `json:"len,omitempty"`
	ItemID TypeID      `json:"item_ty,omitempty"`
	Fields []FieldInfo `json:"fields,omitempty"`
}

// FieldInfo describes a single field.
type FieldInfo struct {
	TypeID TypeID `json:"ty"`
	Offset uint64 `json:"offset"`
}

// TagInfo describes where an enum stores its discriminant.
type TagInfo struct {
	Offset uint64 `json:"offset"`
	Prim   string `json:"prim"`
}

// PrimitiveType returns the primitive value type of the type, if it is one.
func (t *TypeInfo) PrimitiveType() (ValueType, bool) {
	return ParseValueType(t.Prim)
}

// Variant returns the variant with the given index.
func (t *TypeInfo) Variant(i int) (*VariantInfo, bool) {
	for j := range t.Variants {
		if t.Variants[j].Index == i {
			return &t.Variants[j], true
		}
	}
	return nil, false
}

// ParseValueType parses a primitive type name such as "u8", "i64" or "char".
func ParseValueType(s string) (ValueType, bool) {
	switch s {
	case "":
		return ValueType{}, false
	case "bool":
		return BoolType(), true
	case "char":
		return CharType(), true
	case "usize":
		return IntType(PointerWidth, false), true
	case "isize":
		return IntType(PointerWidth, true), true
	case "f32":
		return FloatType(8, 24), true
	case "f64":
		return FloatType(11, 53), true
	}

	if s[0] != 'u' && s[0] != 'i' {
		return ValueType{}, false
	}
	width, err := strconv.Atoi(s[1:])
	if err != nil || width <= 0 || width > Width128 {
		return ValueType{}, false
	}
	return IntType(uint(width), s[0] == 'i'), true
}

// TypeManager is a registry of type layouts. Registering on a manager does
// not affect clones made before the registration.
type TypeManager struct {
	types *immutable.Map
}

// NewTypeManager returns a new, empty instance of TypeManager.
func NewTypeManager() *TypeManager {
	return &TypeManager{types: immutable.NewMap(&typeIDHasher{})}
}

// Clone returns an independent copy of the registry.
func (tm *TypeManager) Clone() *TypeManager {
	return &TypeManager{types: tm.types}
}

// Len returns the number of registered types.
func (tm *TypeManager) Len() int { return tm.types.Len() }

// Register adds or replaces the layout of a type.
func (tm *TypeManager) Register(info *TypeInfo) {
	tm.types = tm.types.Set(info.ID, info)
}

// Get returns the layout of a type.
func (tm *TypeManager) Get(id TypeID) (*TypeInfo, bool) {
	v, ok := tm.types.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*TypeInfo), true
}

// MustGet returns the layout of a type. Panic if the type is unknown.
func (tm *TypeManager) MustGet(id TypeID) *TypeInfo {
	info, ok := tm.Get(id)
	if !ok {
		fatalf(ErrTypeNotFound, "%s", id)
	}
	return info
}

// SizeOf returns the size of a type in bytes.
func (tm *TypeManager) SizeOf(id TypeID) (uint64, bool) {
	if info, ok := tm.Get(id); ok {
		return info.Size, true
	}
	return 0, false
}

// Fields returns the fields of a variant. Arrays are expanded into one
// field per element.
func (tm *TypeManager) Fields(id TypeID, variant int) []FieldInfo {
	info, ok := tm.Get(id)
	if !ok {
		return nil
	}
	v, ok := info.Variant(variant)
	if !ok {
		return nil
	}

	switch v.Fields.Kind {
	case FieldsArray:
		itemSize, _ := tm.SizeOf(v.Fields.ItemID)
		fields := make([]FieldInfo, v.Fields.Len)
		for i := range fields {
			fields[i] = FieldInfo{TypeID: v.Fields.ItemID, Offset: uint64(i) * itemSize}
		}
		return fields
	case FieldsStruct, FieldsUnion:
		return v.Fields.Fields
	default:
		return nil
	}
}

// Types returns all registered types sorted by identity.
func (tm *TypeManager) Types() []*TypeInfo {
	a := make([]*TypeInfo, 0, tm.types.Len())
	itr := tm.types.Iterator()
	for !itr.Done() {
		_, v := itr.Next()
		a = append(a, v.(*TypeInfo))
	}
	sort.Slice(a, func(i, j int) bool { return a[i].ID < a[j].ID })
	return a
}

// Load registers types from line-delimited JSON.
func (tm *TypeManager) Load(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for line := 1; scanner.Scan(); line++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var info TypeInfo
		if err := json.Unmarshal(scanner.Bytes(), &info); err != nil {
			return errors.Wrapf(err, "type info: line %d", line)
		}
		tm.Register(&info)
	}
	return errors.Wrap(scanner.Err(), "type info")
}

// LoadFile registers types from a line-delimited JSON file.
func (tm *TypeManager) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open type info")
	}
	defer f.Close()
	return tm.Load(f)
}

// Write writes all registered types as line-delimited JSON.
func (tm *TypeManager) Write(w io.Writer) error {
	enc := json.NewEncoder(w)
	for _, info := range tm.Types() {
		if err := enc.Encode(info); err != nil {
			return errors.Wrapf(err, "encode type %s", info.ID)
		}
	}
	return nil
}

// typeIDHasher hashes type identities. Implements immutable.Hasher.
type typeIDHasher struct{}

// Hash returns a hash of the type identity.
func (h *typeIDHasher) Hash(key interface{}) uint32 {
	id := uint64(key.(TypeID))
	return uint32(id ^ (id >> 32))
}

// Equal returns true if a and b are the same identity.
func (h *typeIDHasher) Equal(a, b interface{}) bool {
	return a.(TypeID) == b.(TypeID)
}

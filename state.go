package leaf

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// memoryObject is a symbolic value recorded at an address.
type memoryObject struct {
	Value  SymValue
	TypeID TypeID
	Size   uint64
}

// Region describes a recorded symbolic memory region.
type Region struct {
	Addr   uint64
	Size   uint64
	TypeID TypeID
	Value  SymValue
}

// Stamper records that a symbolic value was fixed to a concrete value.
type Stamper interface {
	Stamp(sym Value, concrete Value)
}

// State is the symbolic memory of a program run. It maps addresses to the
// symbolic values stored there. Everything absent from the map is concrete
// and is read lazily from the program's memory. Regions never overlap.
type State struct {
	memory *immutable.SortedMap
	types  *TypeManager

	// Strategy for symbolic indices & dereferences, per usage.
	strategies [3]SymPlaceStrategy
	stamper    Stamper

	// Address of the return value of the current function, once written.
	returnValueAddr    uint64
	hasReturnValueAddr bool
}

// NewState returns a new, empty instance of State.
func NewState(types *TypeManager, config SymPlaceConfig, stamper Stamper) *State {
	s := &State{
		memory:  immutable.NewSortedMap(&uint64Comparer{}),
		types:   types,
		stamper: stamper,
	}
	s.strategies[UsageRead] = config.Read
	s.strategies[UsageWrite] = config.Write
	s.strategies[UsageRef] = config.Ref
	return s
}

// Types returns the type registry used for layout queries.
func (s *State) Types() *TypeManager { return s.types }

// strategy returns the symbolic place strategy for a usage.
func (s *State) strategy(usage PlaceUsage) SymPlaceStrategy {
	return s.strategies[usage]
}

// CopyPlace returns the value at p without modifying the state.
func (s *State) CopyPlace(p *Place) Value {
	r := s.resolve(p, UsageRead)
	switch {
	case r.value != nil:
		return r.value
	case r.sym != nil:
		return s.readSymPlace(r.sym)
	default:
		return s.copyAt(r.loc)
	}
}

// TryTakePlace returns the value at p and removes it from the state.
// Returns false only if p is the return value and it was never written.
func (s *State) TryTakePlace(p *Place) (Value, bool) {
	if p.Local.Kind == LocalReturnValue && !p.Meta.HasAddr {
		if !s.hasReturnValueAddr {
			return nil, false
		}
		p.Meta.SetAddr(s.returnValueAddr)
	}

	r := s.resolve(p, UsageRead)
	switch {
	case r.value != nil:
		if r.exact != nil {
			s.memory = s.memory.Delete(r.exact.Addr)
		}
		return r.value, true
	case r.sym != nil:
		return s.readSymPlace(r.sym), true
	}

	v := s.copyAt(r.loc)
	switch v := v.(type) {
	case SymValue:
		if _, ok := s.memory.Get(r.loc.Addr); ok {
			s.memory = s.memory.Delete(r.loc.Addr)
		}
	case *PorterValue:
		for _, e := range v.Entries {
			s.memory = s.memory.Delete(v.Addr + e.Offset)
		}
	}
	return v, true
}

// SetPlace writes v to the location of p.
func (s *State) SetPlace(p *Place, v Value) {
	r := s.resolve(p, UsageWrite)
	if r.sym != nil {
		fatalf(ErrMergeWrite, "write through symbolic place: %s", p)
	}
	if p.Local.Kind == LocalReturnValue && len(p.Projections) == 0 {
		s.returnValueAddr, s.hasReturnValueAddr = r.loc.Addr, true
	}
	s.setAt(r.loc, v)
}

// ReturnValueAddr returns the address of the last written return value.
func (s *State) ReturnValueAddr() (uint64, bool) {
	return s.returnValueAddr, s.hasReturnValueAddr
}

// SetReturnValueAddr replaces the remembered return value address.
func (s *State) SetReturnValueAddr(addr uint64, ok bool) {
	s.returnValueAddr, s.hasReturnValueAddr = addr, ok
}

// Ref returns the symbolic address of p, or nil if p has a concrete location.
func (s *State) Ref(p *Place) Value {
	if r := s.resolve(p, UsageRef); r.sym != nil {
		return &RefExpr{Place: r.sym}
	}
	return nil
}

// Len returns the symbolic length of p, or nil if its length is concrete.
func (s *State) Len(p *Place) Value {
	if r := s.resolve(p, UsageRead); r.sym != nil {
		return &LenExpr{Place: r.sym}
	}
	return nil
}

// Clear removes all symbolic values within [addr, addr+size).
func (s *State) Clear(addr, size uint64) {
	for _, r := range s.regionsWithin(addr, size) {
		s.memory = s.memory.Delete(r.Addr)
	}
}

// Regions returns all recorded regions ordered by address.
func (s *State) Regions() []Region {
	var a []Region
	itr := s.memory.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		obj := v.(*memoryObject)
		a = append(a, Region{Addr: k.(uint64), Size: obj.Size, TypeID: obj.TypeID, Value: obj.Value})
	}
	return a
}

// copyAt returns the value at a deterministic location.
func (s *State) copyAt(loc *Location) Value {
	size := s.sizeOf(loc, nil)
	if start, obj, ok := s.findContaining(loc.Addr); ok {
		if start == loc.Addr && s.matches(obj, loc) && (size == 0 || obj.Size <= size) {
			return obj.Value
		}
		if start != loc.Addr || obj.Size > size {
			return s.atOffset(obj.Value, obj.TypeID, loc.Addr-start, loc)
		}
	}

	if p, ok := s.porterAt(loc); ok {
		return p
	}
	return loc.raw()
}

// matches reports whether obj holds the whole value read at loc. Objects
// written through primitive-only places carry no type identity and only
// stand for primitive reads of the same size.
func (s *State) matches(obj *memoryObject, loc *Location) bool {
	if obj.TypeID != 0 {
		return !loc.hasType() || obj.TypeID == loc.TypeID
	}
	if loc.HasSize && obj.Size != loc.Size {
		return false
	}
	if !loc.hasType() || loc.Type != nil {
		return true
	}
	info, ok := s.types.Get(loc.TypeID)
	if !ok {
		return false
	}
	_, prim := info.PrimitiveType()
	return prim || info.PointeeID != 0
}

// setAt writes v to a deterministic location, replacing what was there.
func (s *State) setAt(loc *Location, v Value) {
	size := s.sizeOf(loc, v)

	// A recorded symbolic object cannot be partially updated.
	if start, obj, ok := s.findContaining(loc.Addr); ok && size > 0 && (start != loc.Addr || obj.Size > size) {
		fatalf(ErrMergeWrite, "write at 0x%x+%d within region at 0x%x+%d: %s", loc.Addr, size, start, obj.Size, obj.Value)
	}

	if size == 0 {
		s.memory = s.memory.Delete(loc.Addr)
	} else {
		s.Clear(loc.Addr, size)
	}
	s.decompose(loc, size, v)
}

// decompose records the symbolic parts of v at loc.
func (s *State) decompose(loc *Location, size uint64, v Value) {
	switch v := v.(type) {
	case SymValue:
		s.memory = s.memory.Set(loc.Addr, &memoryObject{Value: v, TypeID: loc.TypeID, Size: size})

	case *AdtValue:
		if !IsSymbolic(v) {
			return
		}
		variant := 0
		if v.Kind == AdtEnum {
			variant = v.Variant
		}
		fields := s.types.Fields(loc.TypeID, variant)
		if len(fields) < len(v.Fields) {
			fatalf(ErrTypeNotFound, "field layout of %s: variant=%d", loc.TypeID, variant)
		}
		for i, field := range v.Fields {
			if IsSymbolic(field) {
				s.setAt(s.fieldLocation(loc, fields[i]), field)
			}
		}

	case *ArrayValue:
		if !IsSymbolic(v) {
			return
		}
		fields := s.types.Fields(loc.TypeID, 0)
		for i, elem := range v.Elems {
			if !IsSymbolic(elem) {
				continue
			}
			if i < len(fields) {
				s.setAt(s.fieldLocation(loc, fields[i]), elem)
				continue
			}
			assert(size > 0 && len(v.Elems) > 0, "array layout unknown: %s", loc.TypeID)
			elemSize := size / uint64(len(v.Elems))
			s.setAt(&Location{Addr: loc.Addr + uint64(i)*elemSize, Size: elemSize, HasSize: true}, elem)
		}

	case *FatPtrValue:
		if IsSymbolic(v.Addr) {
			s.setAt(&Location{Addr: loc.Addr, Size: PointerWidth / 8, HasSize: true, Type: typePtr(UsizeType())}, v.Addr)
		}
		if IsSymbolic(v.Metadata) {
			s.setAt(&Location{Addr: loc.Addr + PointerWidth/8, Size: PointerWidth / 8, HasSize: true, Type: typePtr(UsizeType())}, v.Metadata)
		}

	case *PorterValue:
		for _, e := range v.Entries {
			sub := &Location{Addr: loc.Addr + e.Offset, TypeID: e.TypeID, HasType: true}
			if size, ok := s.types.SizeOf(e.TypeID); ok {
				sub.Size, sub.HasSize = size, true
			}
			s.setAt(sub, e.Value)
		}
	}
}

func (s *State) fieldLocation(loc *Location, field FieldInfo) *Location {
	sub := &Location{Addr: loc.Addr + field.Offset, TypeID: field.TypeID, HasType: true}
	if info, ok := s.types.Get(field.TypeID); ok {
		sub.Size, sub.HasSize = info.Size, true
		if t, ok := info.PrimitiveType(); ok {
			sub.Type = &t
		}
	}
	return sub
}

// sizeOf returns the size of the region written when v is stored at loc.
func (s *State) sizeOf(loc *Location, v Value) uint64 {
	if loc.HasSize {
		return loc.Size
	} else if size, ok := s.types.SizeOf(loc.TypeID); ok && loc.hasType() {
		return size
	} else if t, ok := TypeOf(v); ok {
		if t.Kind == TypeBool {
			return 1
		}
		return uint64(t.Width+7) / 8
	}
	return 0
}

// porterAt returns a porter of the entries within loc, if any exist.
func (s *State) porterAt(loc *Location) (*PorterValue, bool) {
	size := loc.Size
	if !loc.HasSize {
		var ok bool
		if size, ok = s.types.SizeOf(loc.TypeID); !ok || !loc.hasType() {
			return nil, false
		}
	}

	regions := s.regionsWithin(loc.Addr, size)
	if len(regions) == 0 {
		return nil, false
	}

	p := &PorterValue{Addr: loc.Addr, TypeID: loc.TypeID, Size: size}
	for _, r := range regions {
		if r.Addr+r.Size > loc.Addr+size {
			fatalf(ErrUnsupported, "region at 0x%x crosses the end of 0x%x+%d", r.Addr, loc.Addr, size)
		}
		p.Entries = append(p.Entries, PorterEntry{Offset: r.Addr - loc.Addr, TypeID: r.TypeID, Value: r.Value})
	}
	return p, true
}

// regionsWithin returns the regions starting within [addr, addr+size).
func (s *State) regionsWithin(addr, size uint64) []Region {
	var a []Region
	itr := s.memory.Iterator()
	for itr.Seek(addr); !itr.Done(); {
		k, v := itr.Next()
		if k.(uint64) >= addr+size {
			break
		}
		obj := v.(*memoryObject)
		a = append(a, Region{Addr: k.(uint64), Size: obj.Size, TypeID: obj.TypeID, Value: obj.Value})
	}
	return a
}

// findContaining returns the region that starts at or contains addr.
func (s *State) findContaining(addr uint64) (uint64, *memoryObject, bool) {
	// Seek to the given address or the next available address.
	itr := s.memory.Iterator()
	if itr.Seek(addr); itr.Done() {
		itr.Last()
	}

	// Move backwards until address range too low.
	for !itr.Done() {
		k, v := itr.Prev()
		key, obj := k.(uint64), v.(*memoryObject)

		if addr == key || (addr > key && addr < key+obj.Size) {
			return key, obj, true
		} else if addr > key {
			break // target address above region, exit
		}
	}
	return 0, nil, false
}

// Dump returns the contents of the memory as a string.
func (s *State) Dump() string {
	var buf bytes.Buffer
	fmt.Fprintln(&buf, "== MEMORY")
	for _, r := range s.Regions() {
		fmt.Fprintf(&buf, "%016x +%d %s %s\n", r.Addr, r.Size, r.TypeID, r.Value.String())
	}
	if s.hasReturnValueAddr {
		fmt.Fprintf(&buf, "ret=%016x\n", s.returnValueAddr)
	}
	return buf.String()
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not an int.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}

func typePtr(t ValueType) *ValueType { return &t }

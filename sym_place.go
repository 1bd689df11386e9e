package leaf

import (
	"bytes"
	"fmt"
	"log"
)

// Location is a deterministic memory location.
type Location struct {
	Addr    uint64
	TypeID  TypeID
	HasType bool
	Size    uint64
	HasSize bool
	Type    *ValueType
}

func (l *Location) hasType() bool { return l.HasType }

// raw returns a lazy read of the concrete value at the location.
func (l *Location) raw() *RawValue {
	return &RawValue{Addr: l.Addr, TypeID: l.TypeID, Type: l.Type}
}

// offset returns the location delta bytes after l with the layout in m.
func (l *Location) offset(delta uint64, m *PlaceMetadata) *Location {
	return &Location{
		Addr:    l.Addr + delta,
		TypeID:  m.TypeID,
		HasType: m.HasType,
		Size:    m.Size,
		HasSize: m.HasSize,
		Type:    m.Type,
	}
}

// String returns the string representation of the location.
func (l *Location) String() string {
	return fmt.Sprintf("0x%x", l.Addr)
}

// PlaceCandidate is a possible target of a symbolic place: either a
// deterministic *Location or a nested *SymPlace.
type PlaceCandidate interface {
	fmt.Stringer
	candidate()
}

func (*Location) candidate() {}
func (*SymPlace) candidate() {}

// SymPlace is a place chosen among candidates by a symbolic index.
type SymPlace struct {
	Index      Value
	Candidates []PlaceCandidate
}

// String returns the string representation of the place.
func (p *SymPlace) String() string {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "(symplace %s [", p.Index)
	for i, c := range p.Candidates {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.WriteString(c.String())
	}
	buf.WriteString("])")
	return buf.String()
}

// mapLocations returns a copy of p with fn applied to every leaf location.
func (p *SymPlace) mapLocations(fn func(*Location) PlaceCandidate) *SymPlace {
	other := &SymPlace{Index: p.Index, Candidates: make([]PlaceCandidate, len(p.Candidates))}
	for i, c := range p.Candidates {
		switch c := c.(type) {
		case *Location:
			other.Candidates[i] = fn(c)
		case *SymPlace:
			other.Candidates[i] = c.mapLocations(fn)
		}
	}
	return other
}

// resolution is the outcome of resolving a place. Exactly one of value,
// sym & loc is set.
type resolution struct {
	value Value     // symbolic object found at a prefix, projected
	exact *Location // location of value when no projection was applied
	sym   *SymPlace
	loc   *Location
}

// resolve finds the location of p. A symbolic value recorded at a prefix of
// p is projected symbolically. Symbolic dereferences & indices are handled
// according to the strategy configured for usage.
func (s *State) resolve(p *Place, usage PlaceUsage) resolution {
	loc := s.locationOf(p, 0)

	for i, proj := range p.Projections {
		if usage == UsageRead && proj.Kind != ProjDeref {
			if v, ok := s.exactAt(loc); ok {
				return resolution{value: s.project(v, p, i)}
			}
		}

		switch proj.Kind {
		case ProjDeref:
			if ptr, ok := s.exactAt(loc); ok {
				if sp := s.derefSymbolic(ptr, p, i, usage); sp != nil {
					return s.resolveSym(sp, p, i+1, usage)
				}
			}
		case ProjIndex:
			if index := s.CopyPlace(proj.Index); IsSymbolic(index) {
				if sp := s.indexSymbolic(index, loc, p, i, usage); sp != nil {
					return s.resolveSym(sp, p, i+1, usage)
				}
			}
		}
		loc = s.locationOf(p, i+1)
	}

	if usage == UsageRead && len(p.Projections) == 0 {
		if v, ok := s.exactAt(loc); ok {
			return resolution{value: v, exact: loc}
		}
	}
	return resolution{loc: loc}
}

// resolveSym applies the projections of p starting at from to a symbolic place.
func (s *State) resolveSym(sp *SymPlace, p *Place, from int, usage PlaceUsage) resolution {
	for i := from; i < len(p.Projections); i++ {
		proj, m := p.Projections[i], p.MetaAt(i+1)
		delta := s.concreteDelta(p, i)

		switch proj.Kind {
		case ProjField, ProjConstantIndex, ProjDowncast, ProjOpaqueCast, ProjSubtype:
			sp = sp.mapLocations(func(l *Location) PlaceCandidate { return l.offset(delta, m) })

		case ProjIndex:
			index := s.CopyPlace(proj.Index)
			if !IsSymbolic(index) || s.strategy(usage) != StrategyProjExpression {
				if IsSymbolic(index) && s.strategy(usage) == StrategyStamping {
					s.stamp(index, s.concreteIndex(p, i))
				}
				sp = sp.mapLocations(func(l *Location) PlaceCandidate { return l.offset(delta, m) })
				continue
			}
			elemSize := s.elemSize(p, i)
			sp = sp.mapLocations(func(l *Location) PlaceCandidate {
				return s.elements(index, l, elemSize, m)
			})

		default:
			fatalf(ErrUnsupported, "projection %s of symbolic place: %s", proj, p)
		}
	}
	return resolution{sym: sp}
}

// derefSymbolic handles a dereference of a symbolic pointer. Returns nil
// when the dereference is resolved to the concrete pointee.
func (s *State) derefSymbolic(ptr Value, p *Place, i int, usage PlaceUsage) *SymPlace {
	m := p.MetaAt(i + 1)
	switch s.strategy(usage) {
	case StrategyConcretization:
		return nil
	case StrategyStamping:
		s.stamp(ptr, NewAddrConst(s.requireAddr(p, i+1)))
		return nil
	}

	switch ptr := ptr.(type) {
	case *RefExpr:
		return ptr.Place
	case *SelectExpr:
		if sp, ok := s.pointees(ptr, m); ok {
			return sp
		}
	}

	log.Printf("[sym_place] cannot enumerate pointees of %s, stamping", ptr)
	s.stamp(ptr, NewAddrConst(s.requireAddr(p, i+1)))
	return nil
}

// pointees converts a select over addresses into a symbolic place.
func (s *State) pointees(ptr *SelectExpr, m *PlaceMetadata) (*SymPlace, bool) {
	sp := &SymPlace{Index: ptr.Index}
	for _, c := range ptr.Candidates {
		switch c := c.(type) {
		case *ConstValue:
			if c.Kind != ConstAddr && c.Kind != ConstInt {
				return nil, false
			}
			l := &Location{Addr: c.Uint64()}
			sp.Candidates = append(sp.Candidates, l.offset(0, m))
		case *RefExpr:
			sp.Candidates = append(sp.Candidates, c.Place)
		case *SelectExpr:
			nested, ok := s.pointees(c, m)
			if !ok {
				return nil, false
			}
			sp.Candidates = append(sp.Candidates, nested)
		default:
			return nil, false
		}
	}
	return sp, true
}

// indexSymbolic handles a symbolic index into the array at loc. Returns nil
// when the index is resolved to its concrete value.
func (s *State) indexSymbolic(index Value, loc *Location, p *Place, i int, usage PlaceUsage) *SymPlace {
	switch s.strategy(usage) {
	case StrategyConcretization:
		return nil
	case StrategyStamping:
		s.stamp(index, s.concreteIndex(p, i))
		return nil
	}
	return s.elements(index, loc, s.elemSize(p, i), p.MetaAt(i+1))
}

// elements returns a symbolic place over all elements of the array at loc.
func (s *State) elements(index Value, loc *Location, elemSize uint64, m *PlaceMetadata) *SymPlace {
	size := loc.Size
	if !loc.HasSize {
		size, _ = s.types.SizeOf(loc.TypeID)
	}
	assert(elemSize > 0, "symbolic index: unknown element size: %s", loc)

	sp := &SymPlace{Index: index}
	for off := uint64(0); off+elemSize <= size; off += elemSize {
		sp.Candidates = append(sp.Candidates, loc.offset(off, m))
	}
	if len(sp.Candidates) == 0 {
		fatalf(ErrUnsupported, "symbolic index into empty or unsized array at %s", loc)
	}
	return sp
}

// elemSize returns the size of the element selected by projection i.
func (s *State) elemSize(p *Place, i int) uint64 {
	m := p.MetaAt(i + 1)
	if m.HasSize {
		return m.Size
	} else if size, ok := s.types.SizeOf(m.TypeID); ok && m.HasType {
		return size
	}
	return 0
}

// concreteIndex returns the concrete index chosen by projection i.
func (s *State) concreteIndex(p *Place, i int) Value {
	var index uint64
	if size := s.elemSize(p, i); size > 0 {
		index = s.concreteDelta(p, i) / size
	}
	return NewUsizeConst(index)
}

// concreteDelta returns the distance between the concrete locations before
// and after projection i.
func (s *State) concreteDelta(p *Place, i int) uint64 {
	before, after := p.MetaAt(i), p.MetaAt(i+1)
	if !before.HasAddr || !after.HasAddr {
		switch p.Projections[i].Kind {
		case ProjDowncast, ProjOpaqueCast, ProjSubtype:
			return 0
		}
		fatalf(ErrInvalidPlace, "address missing around projection %d of %s", i, p)
	}
	return after.Addr - before.Addr
}

func (s *State) stamp(sym Value, concrete Value) {
	if s.stamper != nil {
		s.stamper.Stamp(sym, concrete)
	}
}

// locationOf returns the location after the first n projections of p.
func (s *State) locationOf(p *Place, n int) *Location {
	m := p.MetaAt(n)
	if !m.HasAddr && n == 0 && p.Local.Kind == LocalReturnValue && s.hasReturnValueAddr {
		m.SetAddr(s.returnValueAddr)
	}
	l := &Location{Addr: s.requireAddr(p, n)}
	l = l.offset(0, m)
	if !l.HasSize && l.HasType {
		if size, ok := s.types.SizeOf(l.TypeID); ok {
			l.Size, l.HasSize = size, true
		}
	}
	if l.Type == nil && l.HasType {
		if info, ok := s.types.Get(l.TypeID); ok {
			if t, ok := info.PrimitiveType(); ok {
				l.Type = &t
			}
		}
	}
	return l
}

func (s *State) requireAddr(p *Place, n int) uint64 {
	m := p.MetaAt(n)
	if !m.HasAddr {
		fatalf(ErrInvalidPlace, "address missing at step %d of %s", n, p)
	}
	return m.Addr
}

// exactAt returns the symbolic value recorded exactly at loc.
func (s *State) exactAt(loc *Location) (SymValue, bool) {
	v, ok := s.memory.Get(loc.Addr)
	if !ok {
		return nil, false
	}
	obj := v.(*memoryObject)
	if !s.matches(obj, loc) {
		return nil, false
	}
	return obj.Value, true
}

// readSymPlace returns a select over the values of all candidates.
func (s *State) readSymPlace(sp *SymPlace) Value {
	candidates := make([]Value, len(sp.Candidates))
	for i, c := range sp.Candidates {
		switch c := c.(type) {
		case *Location:
			candidates[i] = s.copyAt(c)
		case *SymPlace:
			candidates[i] = s.readSymPlace(c)
		}
	}
	return NewSelectExpr(sp.Index, candidates)
}

// moved returns a copy of l at a different address.
func (l *Location) moved(addr uint64) *Location {
	other := *l
	other.Addr = addr
	return &other
}

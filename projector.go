package leaf

// project applies the projections of p, starting at from, to the symbolic
// value v found at the prefix of p.
func (s *State) project(v Value, p *Place, from int) Value {
	for i := from; i < len(p.Projections); i++ {
		v = s.projectOne(v, p, i)
	}
	return v
}

func (s *State) projectOne(v Value, p *Place, i int) Value {
	proj, m := p.Projections[i], p.MetaAt(i+1)

	// Non-deterministic values are projected per candidate.
	switch v := v.(type) {
	case *SelectExpr:
		candidates := make([]Value, len(v.Candidates))
		for j, c := range v.Candidates {
			candidates[j] = s.projectOne(c, p, i)
		}
		return NewSelectExpr(v.Index, candidates)
	case *IteExpr:
		return &IteExpr{Cond: v.Cond, Then: s.projectOne(v.Then, p, i), Else: s.projectOne(v.Else, p, i)}
	}

	switch proj.Kind {
	case ProjOpaqueCast, ProjSubtype, ProjDowncast:
		return v

	case ProjDeref:
		switch v := v.(type) {
		case *RefExpr:
			return s.readSymPlace(v.Place)
		case *ConstValue:
			if v.Kind == ConstAddr || v.Kind == ConstInt {
				return s.copyAt((&Location{Addr: v.Uint64()}).offset(0, m))
			}
		case *RawValue:
			return s.copyAt(s.locationOf(p, i+1))
		}

	case ProjField:
		switch v := v.(type) {
		case *AdtValue:
			assert(proj.Field < len(v.Fields), "field %d out of range: %s", proj.Field, v)
			if field := v.Fields[proj.Field]; field != nil {
				return field
			}
			return s.locationOf(p, i+1).raw()
		case *FatPtrValue:
			if proj.Field == 0 {
				return v.Addr
			}
			return v.Metadata
		}

	case ProjIndex, ProjConstantIndex:
		if a, ok := v.(*ArrayValue); ok {
			return s.projectElem(a, p, i)
		}

	case ProjSubslice:
		fatalf(ErrUnsupported, "subslice of symbolic value: %s", p)
	}

	switch v := v.(type) {
	case *RawValue:
		return s.copyAt((&Location{Addr: v.Addr + s.concreteDelta(p, i)}).offset(0, m))
	case *PorterValue:
		return s.porterSlice(v, s.concreteDelta(p, i), (&Location{}).offset(0, m))
	}
	fatalf(ErrUnsupported, "projection %s of %s", proj, v)
	return nil
}

// projectElem selects an element of an array value.
func (s *State) projectElem(a *ArrayValue, p *Place, i int) Value {
	proj := p.Projections[i]
	if proj.Kind == ProjConstantIndex {
		index := proj.Offset
		if proj.FromEnd {
			index = uint64(len(a.Elems)) - proj.Offset
		}
		return a.Elem(index)
	}

	index := s.CopyPlace(proj.Index)
	if IsSymbolic(index) {
		switch s.strategy(UsageRead) {
		case StrategyProjExpression:
			return a.Select(index)
		case StrategyStamping:
			s.stamp(index, s.concreteIndex(p, i))
		}
		index = s.concreteIndex(p, i)
	}

	c, ok := index.(*ConstValue)
	if !ok {
		c = s.concreteIndex(p, i).(*ConstValue)
	}
	return a.Elem(c.Uint64())
}

// atOffset returns the part of v, a value of type ty, that starts offset
// bytes into it and has the layout of loc.
func (s *State) atOffset(v Value, ty TypeID, offset uint64, loc *Location) Value {
	switch v := v.(type) {
	case *SelectExpr:
		candidates := make([]Value, len(v.Candidates))
		for i, c := range v.Candidates {
			candidates[i] = s.atOffset(c, ty, offset, loc)
		}
		return NewSelectExpr(v.Index, candidates)
	case *IteExpr:
		return &IteExpr{Cond: v.Cond, Then: s.atOffset(v.Then, ty, offset, loc), Else: s.atOffset(v.Else, ty, offset, loc)}
	case *RawValue:
		return loc.moved(v.Addr + offset).raw()
	case *PorterValue:
		return s.porterSlice(v, offset, loc)
	}

	if offset == 0 && (!loc.HasType || ty == loc.TypeID) {
		return v
	}

	var variant int
	var items []Value
	switch v := v.(type) {
	case *AdtValue:
		if v.Kind == AdtEnum {
			variant = v.Variant
		}
		items = v.Fields
	case *ArrayValue:
		items = v.Elems
	default:
		fatalf(ErrUnsupported, "read at offset %d within %s", offset, v)
	}

	fields := s.types.Fields(ty, variant)
	for i, f := range fields {
		size, _ := s.types.SizeOf(f.TypeID)
		if offset < f.Offset || offset >= f.Offset+size || i >= len(items) {
			continue
		}
		if items[i] == nil {
			return loc.raw()
		}
		return s.atOffset(items[i], f.TypeID, offset-f.Offset, loc)
	}
	fatalf(ErrUnsupported, "no field at offset %d of %s", offset, ty)
	return nil
}

// porterSlice returns the part of a porter starting offset bytes into it
// with the layout of loc.
func (s *State) porterSlice(p *PorterValue, offset uint64, loc *Location) Value {
	size := loc.Size
	if !loc.HasSize {
		size, _ = s.types.SizeOf(loc.TypeID)
	}

	sub := &PorterValue{Addr: p.Addr + offset, TypeID: loc.TypeID, Size: size}
	for _, e := range p.Entries {
		if e.Offset < offset || e.Offset >= offset+size {
			continue
		}
		if e.Offset == offset && (!loc.HasType || e.TypeID == loc.TypeID) {
			return e.Value
		}
		sub.Entries = append(sub.Entries, PorterEntry{Offset: e.Offset - offset, TypeID: e.TypeID, Value: e.Value})
	}
	if len(sub.Entries) == 0 {
		return loc.moved(p.Addr + offset).raw()
	}
	return sub
}

package leaf

import (
	"bytes"
	"fmt"
)

// LocalKind represents the kind of a local variable.
type LocalKind int

// Local kinds.
const (
	LocalReturnValue = LocalKind(iota)
	LocalArgument
	LocalNormal
)

// Local identifies a local variable of a function. Arguments are numbered
// from 1 as local 0 is always the return value.
type Local struct {
	Kind  LocalKind
	Index int
}

// ReturnValueLocal returns the return value local.
func ReturnValueLocal() Local { return Local{Kind: LocalReturnValue} }

// ArgumentLocal returns the local of the i-th argument, starting from 1.
func ArgumentLocal(i int) Local { return Local{Kind: LocalArgument, Index: i} }

// NormalLocal returns a normal local variable.
func NormalLocal(i int) Local { return Local{Kind: LocalNormal, Index: i} }

// String returns the string representation of the local.
func (l Local) String() string {
	switch l.Kind {
	case LocalReturnValue:
		return "_ret"
	case LocalArgument:
		return fmt.Sprintf("_arg%d", l.Index)
	default:
		return fmt.Sprintf("_%d", l.Index)
	}
}

// ProjectionKind represents the kind of a projection.
type ProjectionKind int

// Projection kinds.
const (
	ProjField = ProjectionKind(iota + 1)
	ProjDeref
	ProjIndex
	ProjConstantIndex
	ProjSubslice
	ProjDowncast
	ProjOpaqueCast
	ProjSubtype
)

// Projection represents a single step from a place to a sub-place.
type Projection struct {
	Kind ProjectionKind

	Field   int    // ProjField
	Index   *Place // ProjIndex
	Offset  uint64 // ProjConstantIndex
	MinLen  uint64 // ProjConstantIndex
	From    uint64 // ProjSubslice
	To      uint64 // ProjSubslice
	FromEnd bool   // ProjConstantIndex, ProjSubslice
	Variant int    // ProjDowncast
}

// String returns the string representation of the projection.
func (p *Projection) String() string {
	switch p.Kind {
	case ProjField:
		return fmt.Sprintf(".%d", p.Field)
	case ProjDeref:
		return ".*"
	case ProjIndex:
		return fmt.Sprintf("[%s]", p.Index)
	case ProjConstantIndex:
		if p.FromEnd {
			return fmt.Sprintf("[-%d of %d]", p.Offset, p.MinLen)
		}
		return fmt.Sprintf("[%d of %d]", p.Offset, p.MinLen)
	case ProjSubslice:
		if p.FromEnd {
			return fmt.Sprintf("[%d..-%d]", p.From, p.To)
		}
		return fmt.Sprintf("[%d..%d]", p.From, p.To)
	case ProjDowncast:
		return fmt.Sprintf(" as #%d", p.Variant)
	case ProjOpaqueCast:
		return " as opaque"
	case ProjSubtype:
		return " as subtype"
	default:
		return "?"
	}
}

// PlaceMetadata holds the layout information of a place supplied by the
// instrumentation. Zero TypeID or Size with the matching flag unset means
// the information is not known.
type PlaceMetadata struct {
	Addr    uint64
	HasAddr bool
	TypeID  TypeID
	HasType bool
	Size    uint64
	HasSize bool
	Type    *ValueType // primitive type, if the place holds one
}

// SetAddr sets the address of the place.
func (m *PlaceMetadata) SetAddr(addr uint64) { m.Addr, m.HasAddr = addr, true }

// SetTypeID sets the type identity of the place.
func (m *PlaceMetadata) SetTypeID(id TypeID) { m.TypeID, m.HasType = id, true }

// SetSize sets the size of the place in bytes.
func (m *PlaceMetadata) SetSize(size uint64) { m.Size, m.HasSize = size, true }

// SetType sets the primitive type of the place.
func (m *PlaceMetadata) SetType(t ValueType) {
	m.Type = &t
	if !m.HasSize && t.Kind != TypeBool {
		m.SetSize(uint64(t.Width) / 8)
	} else if !m.HasSize {
		m.SetSize(1)
	}
}

// Place represents a memory location: a local plus a chain of projections.
// Meta holds metadata for the local; ProjMeta[i] holds metadata for the
// place after applying Projections[i].
type Place struct {
	Local       Local
	Meta        PlaceMetadata
	Projections []*Projection
	ProjMeta    []PlaceMetadata
}

// NewPlace returns a place referring to a local.
func NewPlace(local Local) *Place {
	return &Place{Local: local}
}

// Project appends a projection to the place and returns the place.
func (p *Place) Project(proj *Projection) *Place {
	p.Projections = append(p.Projections, proj)
	p.ProjMeta = append(p.ProjMeta, PlaceMetadata{})
	return p
}

// LastMeta returns the metadata of the place as a whole.
func (p *Place) LastMeta() *PlaceMetadata {
	if len(p.ProjMeta) == 0 {
		return &p.Meta
	}
	return &p.ProjMeta[len(p.ProjMeta)-1]
}

// MetaAt returns the metadata after applying the first n projections.
func (p *Place) MetaAt(n int) *PlaceMetadata {
	if n == 0 {
		return &p.Meta
	}
	return &p.ProjMeta[n-1]
}

// String returns the string representation of the place.
func (p *Place) String() string {
	var buf bytes.Buffer
	buf.WriteString(p.Local.String())
	for _, proj := range p.Projections {
		buf.WriteString(proj.String())
	}
	return buf.String()
}

// PlaceUsage represents the way a place is used by an operation.
type PlaceUsage int

// Place usages.
const (
	UsageRead = PlaceUsage(iota)
	UsageWrite
	UsageRef
)

// String returns the name of the usage.
func (u PlaceUsage) String() string {
	switch u {
	case UsageRead:
		return "read"
	case UsageWrite:
		return "write"
	case UsageRef:
		return "ref"
	default:
		return fmt.Sprintf("PlaceUsage<%d>", u)
	}
}

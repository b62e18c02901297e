package source

import (
	"fmt"

	"github.com/dmolina/escarabajo/pkg/vm/debuginfo"
)

// PrimitiveKind is the closed set of primitive type keywords the debug
// info may name.
type PrimitiveKind int

const (
	PrimitiveSigned PrimitiveKind = iota
	PrimitiveUnsigned
	PrimitiveFloat
	PrimitiveBool
)

// String returns the printed name of the primitive kind.
func (k PrimitiveKind) String() string {
	switch k {
	case PrimitiveSigned:
		return "int"
	case PrimitiveUnsigned:
		return "unsigned"
	case PrimitiveFloat:
		return "float"
	case PrimitiveBool:
		return "bool"
	}
	return "unknown"
}

var primitiveKeywords = map[string]PrimitiveKind{
	"signed_int":   PrimitiveSigned,
	"unsigned_int": PrimitiveUnsigned,
	"float":        PrimitiveFloat,
	"bool":         PrimitiveBool,
}

// Type is the tagged variant of reconstructed source level types.
type Type interface {
	fmt.Stringer
	isType()
	// TypeSize returns the size of the type in machine words.
	TypeSize() uint64
}

// PrimitiveType is a scalar type.
type PrimitiveType struct {
	Kind PrimitiveKind
	Size uint64
}

// TypeMember is one member of a structured type. Type is nil when the
// member type could not be reconstructed.
type TypeMember struct {
	Name   string
	Type   Type
	Offset int64
}

// StructuredType is a record type with laid out members.
type StructuredType struct {
	Name    string
	Size    uint64
	Members []TypeMember
}

// PointerType points at another type. It stores the pointee DIE id rather
// than the reconstructed pointee, which keeps self referential pointer
// chains finite; PointeeName carries the printed name of the pointee.
type PointerType struct {
	PointeeID   int
	PointeeName string
	Size        uint64
}

func (*PrimitiveType) isType()  {}
func (*StructuredType) isType() {}
func (*PointerType) isType()    {}

func (t *PrimitiveType) TypeSize() uint64  { return t.Size }
func (t *StructuredType) TypeSize() uint64 { return t.Size }
func (t *PointerType) TypeSize() uint64    { return t.Size }

func (t *PrimitiveType) String() string  { return t.Kind.String() }
func (t *StructuredType) String() string { return t.Name }
func (t *PointerType) String() string    { return t.PointeeName + "*" }

// reconstructType walks the DIE tree by id and builds the type it
// describes, or reports false when the debug info is incomplete. Results
// are memoized per DIE id; the in-progress entry is cached before member
// recursion so shared and self referential subtypes reconstruct once and
// terminate.
func (s *Source) reconstructType(id int) (Type, bool) {
	if cached, ok := s.types[id]; ok {
		return cached, true
	}
	typeDie := s.topDIE.FindByID(id)
	if typeDie == nil {
		return nil, false
	}
	switch typeDie.Tag {
	case debuginfo.TagPrimitiveType:
		if typeDie.Attrs.Name == nil || typeDie.Attrs.Size == nil {
			return nil, false
		}
		kind, ok := primitiveKeywords[*typeDie.Attrs.Name]
		if !ok {
			return nil, false
		}
		t := &PrimitiveType{Kind: kind, Size: *typeDie.Attrs.Size}
		s.types[id] = t
		return t, true
	case debuginfo.TagStructuredType:
		if typeDie.Attrs.Name == nil {
			return nil, false
		}
		t := &StructuredType{Name: *typeDie.Attrs.Name}
		if typeDie.Attrs.Size != nil {
			t.Size = *typeDie.Attrs.Size
		}
		s.types[id] = t
		for _, m := range typeDie.Attrs.Members {
			memberType, _ := s.reconstructType(m.TypeID)
			t.Members = append(t.Members, TypeMember{
				Name:   m.Name,
				Type:   memberType,
				Offset: m.Offset,
			})
		}
		return t, true
	case debuginfo.TagPointerType:
		if typeDie.Attrs.Type == nil || typeDie.Attrs.Size == nil {
			return nil, false
		}
		pointee := s.topDIE.FindByID(*typeDie.Attrs.Type)
		if pointee == nil || pointee.Attrs.Name == nil {
			return nil, false
		}
		t := &PointerType{
			PointeeID:   *typeDie.Attrs.Type,
			PointeeName: *pointee.Attrs.Name,
			Size:        *typeDie.Attrs.Size,
		}
		s.types[id] = t
		return t, true
	default:
		panic(fmt.Sprintf("DIE tag %v does not describe a type", typeDie.Tag))
	}
}

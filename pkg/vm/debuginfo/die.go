// Package debuginfo models the debugging information emitted alongside E86
// programs: a tree of debugging information entries (DIEs), the source
// line to address mapping, and location expressions describing where
// variables live at runtime. The textual format shares the lexer and
// conventions of the program assembly (see pkg/vm/asm).
package debuginfo

// Tag identifies the kind of a DIE.
type Tag int

const (
	TagCompileUnit Tag = iota
	TagFunction
	TagScope
	TagVariable
	TagPrimitiveType
	TagStructuredType
	TagPointerType
)

// String returns the string representation of a Tag
func (t Tag) String() string {
	switch t {
	case TagCompileUnit:
		return "compile_unit"
	case TagFunction:
		return "function"
	case TagScope:
		return "scope"
	case TagVariable:
		return "variable"
	case TagPrimitiveType:
		return "primitive_type"
	case TagStructuredType:
		return "structured_type"
	case TagPointerType:
		return "pointer_type"
	default:
		return "unknown"
	}
}

// Member describes one member of a structured type: its name, the DIE id
// of its type and its offset from the beginning of the structure.
type Member struct {
	Name   string
	TypeID int
	Offset int64
}

// Attributes holds the recognized attributes of a DIE. Pointer fields are
// nil when the attribute is absent.
type Attributes struct {
	// ID is unique across the whole DIE tree.
	ID *int
	// Name of the entity described by the DIE.
	Name *string
	// BeginAddr and EndAddr delimit the half-open address range
	// [BeginAddr, EndAddr) covered by function and scope DIEs.
	BeginAddr *uint64
	EndAddr   *uint64
	// Type references another DIE (of a type tag) by id.
	Type *int
	// Size in machine words.
	Size *uint64
	// Members of a structured type.
	Members []Member
	// LocationExpr computes the storage location of a variable.
	LocationExpr []LocOp
}

// DIE is a debugging information entry: a tag, a set of attributes and an
// arbitrary number of children entries.
type DIE struct {
	Tag      Tag
	Attrs    Attributes
	Children []*DIE
}

// FindByID returns the DIE with the given id in the tree rooted at d, or
// nil if there is none. IDs are unique, so the search stops at the first
// match.
func (d *DIE) FindByID(id int) *DIE {
	if d == nil {
		return nil
	}
	if d.Attrs.ID != nil && *d.Attrs.ID == id {
		return d
	}
	for _, child := range d.Children {
		if found := child.FindByID(id); found != nil {
			return found
		}
	}
	return nil
}

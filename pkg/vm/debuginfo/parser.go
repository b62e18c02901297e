package debuginfo

import (
	"io"
	"log/slog"

	"github.com/dmolina/escarabajo/pkg/utils"
	"github.com/dmolina/escarabajo/pkg/vm/asm"
)

// Info is the parsed content of a debug info file. Sections that were not
// present are nil.
type Info struct {
	LineMapping *LineMapping
	TopDIE      *DIE
}

var tagKeywords = map[string]Tag{
	"compile_unit":    TagCompileUnit,
	"function":        TagFunction,
	"scope":           TagScope,
	"variable":        TagVariable,
	"primitive_type":  TagPrimitiveType,
	"structured_type": TagStructuredType,
	"pointer_type":    TagPointerType,
}

// attrKeywords is the closed attribute name set. It is disjoint from the
// tag keyword set, which is what lets the DIE grammar tell an attribute
// from a following sibling DIE.
var attrKeywords = map[string]bool{
	"id":            true,
	"name":          true,
	"begin_addr":    true,
	"end_addr":      true,
	"type":          true,
	"size":          true,
	"members":       true,
	"location_expr": true,
}

// Parser parses textual debugging information. It shares the lexer and
// token conventions of the program parser; the recognized sections are
// .debug_line and .debug_info, anything else is skipped.
type Parser struct {
	lex    *asm.Lexer
	curtok asm.Token
}

// NewParser creates a debug info parser reading from input.
func NewParser(input io.Reader) (*Parser, error) {
	p := &Parser{lex: asm.NewLexer(input)}
	if err := p.next(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Parser) next() error {
	tok, err := p.lex.Next()
	if err != nil {
		return err
	}
	p.curtok = tok
	return nil
}

func (p *Parser) errorf(format string, args ...any) error {
	return utils.MakeError(asm.ErrParse, "%d:%d: "+format,
		append([]any{p.curtok.Row, p.curtok.Col}, args...)...)
}

// Parse consumes the whole input and returns the debugging information it
// describes.
func (p *Parser) Parse() (*Info, error) {
	info := &Info{}
	for p.curtok.Kind != asm.TokenEnd {
		if p.curtok.Kind != asm.TokenDot {
			return nil, p.errorf("expected section beginning with '.'")
		}
		if err := p.next(); err != nil {
			return nil, err
		}
		if p.curtok.Kind != asm.TokenID {
			return nil, p.errorf("expected section name after '.'")
		}
		name := p.lex.Ident()
		if err := p.next(); err != nil {
			return nil, err
		}

		switch name {
		case "debug_line":
			slog.Debug("parsing section", "section", name)
			mapping, err := p.debugLine()
			if err != nil {
				return nil, err
			}
			info.LineMapping = NewLineMapping(mapping)
		case "debug_info":
			slog.Debug("parsing section", "section", name)
			die, err := p.die()
			if err != nil {
				return nil, err
			}
			info.TopDIE = die
		default:
			slog.Debug("skipping unknown section", "section", name)
			for p.curtok.Kind != asm.TokenDot && p.curtok.Kind != asm.TokenEnd {
				if err := p.next(); err != nil {
					return nil, err
				}
			}
		}
	}
	return info, nil
}

// debugLine parses rows of 'line addr' number pairs until the next section.
func (p *Parser) debugLine() (map[int]uint64, error) {
	mapping := make(map[int]uint64)
	for p.curtok.Kind != asm.TokenDot && p.curtok.Kind != asm.TokenEnd {
		line, err := p.number("source line")
		if err != nil {
			return nil, err
		}
		addr, err := p.number("instruction address")
		if err != nil {
			return nil, err
		}
		mapping[int(line)] = uint64(addr)
		if p.curtok.Kind == asm.TokenComma || p.curtok.Kind == asm.TokenSemicolon {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	return mapping, nil
}

func (p *Parser) number(what string) (int64, error) {
	if p.curtok.Kind != asm.TokenNum {
		return 0, p.errorf("expected %s", what)
	}
	val := p.lex.Number()
	if err := p.next(); err != nil {
		return 0, err
	}
	return val, nil
}

func (p *Parser) str(what string) (string, error) {
	if p.curtok.Kind != asm.TokenString {
		return "", p.errorf("expected %s", what)
	}
	val := p.lex.Str()
	if err := p.next(); err != nil {
		return "", err
	}
	return val, nil
}

// die parses one DIE: a tag keyword, an optional attribute list and an
// optional bracketed list of children.
func (p *Parser) die() (*DIE, error) {
	if p.curtok.Kind != asm.TokenID {
		return nil, p.errorf("expected DIE tag")
	}
	tag, ok := tagKeywords[p.lex.Ident()]
	if !ok {
		return nil, p.errorf("unknown DIE tag '%s'", p.lex.Ident())
	}
	if err := p.next(); err != nil {
		return nil, err
	}

	die := &DIE{Tag: tag}
	for p.curtok.Kind == asm.TokenID && attrKeywords[p.lex.Ident()] {
		if err := p.attribute(die); err != nil {
			return nil, err
		}
		if p.curtok.Kind == asm.TokenComma {
			if err := p.next(); err != nil {
				return nil, err
			}
		} else {
			break
		}
	}

	if p.curtok.Kind == asm.TokenLBracket {
		if err := p.next(); err != nil {
			return nil, err
		}
		for p.curtok.Kind != asm.TokenRBracket {
			child, err := p.die()
			if err != nil {
				return nil, err
			}
			die.Children = append(die.Children, child)
		}
		if err := p.next(); err != nil {
			return nil, err
		}
	}
	return die, nil
}

func (p *Parser) attribute(die *DIE) error {
	name := p.lex.Ident()
	if err := p.next(); err != nil {
		return err
	}
	switch name {
	case "id":
		val, err := p.number("id value")
		if err != nil {
			return err
		}
		id := int(val)
		die.Attrs.ID = &id
	case "name":
		val, err := p.str("name value")
		if err != nil {
			return err
		}
		die.Attrs.Name = &val
	case "begin_addr":
		val, err := p.number("begin_addr value")
		if err != nil {
			return err
		}
		addr := uint64(val)
		die.Attrs.BeginAddr = &addr
	case "end_addr":
		val, err := p.number("end_addr value")
		if err != nil {
			return err
		}
		addr := uint64(val)
		die.Attrs.EndAddr = &addr
	case "type":
		val, err := p.number("type id")
		if err != nil {
			return err
		}
		id := int(val)
		die.Attrs.Type = &id
	case "size":
		val, err := p.number("size value")
		if err != nil {
			return err
		}
		size := uint64(val)
		die.Attrs.Size = &size
	case "members":
		members, err := p.members()
		if err != nil {
			return err
		}
		die.Attrs.Members = members
	case "location_expr":
		locs, err := p.locationExpr()
		if err != nil {
			return err
		}
		die.Attrs.LocationExpr = locs
	default:
		return p.errorf("unknown DIE attribute '%s'", name)
	}
	return nil
}

// members parses '[' name type_id offset (',' name type_id offset)* ']'.
func (p *Parser) members() ([]Member, error) {
	if p.curtok.Kind != asm.TokenLBracket {
		return nil, p.errorf("expected '[' to open members list")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	var members []Member
	for p.curtok.Kind != asm.TokenRBracket {
		name, err := p.str("member name")
		if err != nil {
			return nil, err
		}
		typeID, err := p.number("member type id")
		if err != nil {
			return nil, err
		}
		offset, err := p.number("member offset")
		if err != nil {
			return nil, err
		}
		members = append(members, Member{Name: name, TypeID: int(typeID), Offset: offset})
		if p.curtok.Kind == asm.TokenComma {
			if err := p.next(); err != nil {
				return nil, err
			}
		}
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return members, nil
}

// locationExpr parses '[' locop* ']' where each op is one of
// 'push R'/'push addr', 'base_reg_offset i', 'deref' and 'add'. Separating
// ';' or ',' between ops is tolerated.
func (p *Parser) locationExpr() ([]LocOp, error) {
	if p.curtok.Kind != asm.TokenLBracket {
		return nil, p.errorf("expected '[' to open location expression")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	var ops []LocOp
	for p.curtok.Kind != asm.TokenRBracket {
		if p.curtok.Kind == asm.TokenSemicolon || p.curtok.Kind == asm.TokenComma {
			if err := p.next(); err != nil {
				return nil, err
			}
			continue
		}
		if p.curtok.Kind != asm.TokenID {
			return nil, p.errorf("expected location expression op")
		}
		switch p.lex.Ident() {
		case "push":
			if err := p.next(); err != nil {
				return nil, err
			}
			if p.curtok.Kind == asm.TokenID {
				ops = append(ops, PushRegister{Name: p.lex.Ident()})
				if err := p.next(); err != nil {
					return nil, err
				}
			} else if p.curtok.Kind == asm.TokenNum {
				val := p.lex.Number()
				if val < 0 {
					return nil, p.errorf("push address must not be negative")
				}
				ops = append(ops, PushAddress{Addr: uint64(val)})
				if err := p.next(); err != nil {
					return nil, err
				}
			} else {
				return nil, p.errorf("expected register or address after 'push'")
			}
		case "base_reg_offset":
			if err := p.next(); err != nil {
				return nil, err
			}
			if p.curtok.Kind != asm.TokenNum {
				return nil, p.errorf("expected offset after 'base_reg_offset'")
			}
			ops = append(ops, PushFrameBaseOffset{Offset: p.lex.Number()})
			if err := p.next(); err != nil {
				return nil, err
			}
		case "deref":
			ops = append(ops, Deref{})
			if err := p.next(); err != nil {
				return nil, err
			}
		case "add":
			ops = append(ops, Add{})
			if err := p.next(); err != nil {
				return nil, err
			}
		default:
			return nil, p.errorf("unknown location expression op '%s'", p.lex.Ident())
		}
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return ops, nil
}

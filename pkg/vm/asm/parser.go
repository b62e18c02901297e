package asm

import (
	"io"
	"log/slog"
	"strconv"

	"github.com/dmolina/escarabajo/pkg/utils"
)

// Parser parses the textual representation of E86 programs into the
// in-memory Program model. A file is a sequence of sections introduced by
// '.' and a section name; the recognized sections are text and data,
// anything else is skipped.
type Parser struct {
	lex    *Lexer
	curtok Token

	program []Instruction
	data    []int64
}

// NewParser creates a parser reading from input.
func NewParser(input io.Reader) (*Parser, error) {
	p := &Parser{lex: NewLexer(input)}
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
	return utils.MakeError(ErrParse, "%d:%d: "+format,
		append([]any{p.curtok.Row, p.curtok.Col}, args...)...)
}

// Parse consumes the whole input and returns the assembled program.
func (p *Parser) Parse() (*Program, error) {
	if p.curtok.Kind != TokenDot {
		return nil, p.errorf("file does not contain any sections")
	}
	for p.curtok.Kind == TokenDot {
		if err := p.next(); err != nil {
			return nil, err
		}
		if err := p.section(); err != nil {
			return nil, err
		}
	}
	if p.curtok.Kind != TokenEnd {
		return nil, p.errorf("expected section beginning with '.', got %v", p.curtok.Kind)
	}
	return &Program{Instructions: p.program, Data: p.data}, nil
}

func (p *Parser) section() error {
	if p.curtok.Kind != TokenID {
		return p.errorf("expected section name after '.'")
	}
	name := p.lex.Ident()
	if err := p.next(); err != nil {
		return err
	}

	switch name {
	case "text":
		slog.Debug("parsing section", "section", name)
		return p.text()
	case "data":
		slog.Debug("parsing section", "section", name)
		return p.dataSection()
	default:
		slog.Debug("skipping unknown section", "section", name)
		for p.curtok.Kind != TokenDot && p.curtok.Kind != TokenEnd {
			if err := p.next(); err != nil {
				return err
			}
		}
		return nil
	}
}

func (p *Parser) text() error {
	for p.curtok.Kind == TokenNum || p.curtok.Kind == TokenID {
		ins, err := p.instruction()
		if err != nil {
			return err
		}
		p.program = append(p.program, ins)
	}
	return nil
}

func (p *Parser) dataSection() error {
	for p.curtok.Kind == TokenString || p.curtok.Kind == TokenNum {
		if p.curtok.Kind == TokenString {
			for _, b := range []byte(p.lex.Str()) {
				p.data = append(p.data, int64(b))
			}
		} else {
			p.data = append(p.data, p.lex.Number())
		}
		if err := p.next(); err != nil {
			return err
		}
	}
	return nil
}

// instruction parses one instruction, optionally prefixed by its numeric
// address. The address is implicit by position and ignored.
func (p *Parser) instruction() (Instruction, error) {
	if p.curtok.Kind == TokenNum {
		if err := p.next(); err != nil {
			return Instruction{}, err
		}
	}
	if p.curtok.Kind != TokenID {
		return Instruction{}, p.errorf("expected instruction mnemonic")
	}
	opcode := p.lex.Ident()
	if err := p.next(); err != nil {
		return Instruction{}, err
	}

	if opcode == "DBG" {
		return Instruction{}, p.errorf("DBG instruction is not supported in text form")
	}

	entry, ok := opcodeTable[opcode]
	if !ok {
		return Instruction{}, p.errorf("unknown instruction %s", opcode)
	}

	var operands []Operand
	for i, class := range entry.operands {
		if i > 0 {
			if p.curtok.Kind != TokenComma {
				return Instruction{}, p.errorf("expected ',' between %s operands", opcode)
			}
			if err := p.next(); err != nil {
				return Instruction{}, err
			}
		}
		op, err := p.operand(class)
		if err != nil {
			return Instruction{}, err
		}
		operands = append(operands, op)
	}
	return Instruction{Opcode: opcode, Operands: operands}, nil
}

func (p *Parser) operand(class operandClass) (Operand, error) {
	switch class {
	case classRegister:
		return p.register()
	case classImmOrRegister:
		return p.immOrRegister()
	case classImmOrRegisterOrSimpleMemory:
		return p.immOrRegisterOrSimpleMemory()
	case classFull:
		return p.fullOperand()
	}
	panic("unknown operand class")
}

// getRegister resolves a register name: R0..Rn plus the BP, SP and IP
// aliases. Any other identifier is an error.
func (p *Parser) getRegister(name string) (Reg, error) {
	switch name {
	case "BP", "SP", "IP":
		return Reg{Name: name}, nil
	}
	if len(name) < 2 || name[0] != 'R' {
		return Reg{}, p.errorf("registers must begin with an R, unless IP, BP or SP, got %s", name)
	}
	if _, err := strconv.Atoi(name[1:]); err != nil {
		return Reg{}, p.errorf("malformed register name %s", name)
	}
	return Reg{Name: name}, nil
}

// register allows only R.
func (p *Parser) register() (Operand, error) {
	if p.curtok.Kind != TokenID {
		return nil, p.errorf("expected R")
	}
	reg, err := p.getRegister(p.lex.Ident())
	if err != nil {
		return nil, err
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	return reg, nil
}

// imm allows only i.
func (p *Parser) imm() (int64, error) {
	if p.curtok.Kind != TokenNum {
		return 0, p.errorf("expected i")
	}
	val := p.lex.Number()
	if err := p.next(); err != nil {
		return 0, err
	}
	return val, nil
}

// immOrRegister allows R or i.
func (p *Parser) immOrRegister() (Operand, error) {
	switch p.curtok.Kind {
	case TokenID:
		return p.register()
	case TokenNum:
		val, err := p.imm()
		if err != nil {
			return nil, err
		}
		return Imm{Value: val}, nil
	default:
		return nil, p.errorf("expected either i or R")
	}
}

func (p *Parser) expectRBracket() error {
	if p.curtok.Kind != TokenRBracket {
		return p.errorf("expected ']' to close memory operand")
	}
	return p.next()
}

// simpleMemory allows [i], [R] and [R + i].
func (p *Parser) simpleMemory() (Operand, error) {
	if p.curtok.Kind != TokenLBracket {
		return nil, p.errorf("expected either [i], [R] or [R + i]")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	if p.curtok.Kind == TokenID {
		regOp, err := p.register()
		if err != nil {
			return nil, err
		}
		reg := regOp.(Reg)
		if p.curtok.Kind == TokenPlus {
			if err := p.next(); err != nil {
				return nil, err
			}
			off, err := p.imm()
			if err != nil {
				return nil, err
			}
			if err := p.expectRBracket(); err != nil {
				return nil, err
			}
			return MemRegImm{Reg: reg, Imm: off}, nil
		}
		if err := p.expectRBracket(); err != nil {
			return nil, err
		}
		return MemReg{Reg: reg}, nil
	}
	addr, err := p.imm()
	if err != nil {
		return nil, err
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return MemImm{Addr: addr}, nil
}

// immOrRegisterOrSimpleMemory allows i, R, [i], [R] and [R + i].
func (p *Parser) immOrRegisterOrSimpleMemory() (Operand, error) {
	switch p.curtok.Kind {
	case TokenID, TokenNum:
		return p.immOrRegister()
	case TokenLBracket:
		return p.simpleMemory()
	default:
		return nil, p.errorf("expected either i, R, [i], [R] or [R + i]")
	}
}

// fullOperand parses every operand form. Only MOV and LEA get this far.
func (p *Parser) fullOperand() (Operand, error) {
	switch p.curtok.Kind {
	case TokenID:
		regOp, err := p.register()
		if err != nil {
			return nil, err
		}
		reg := regOp.(Reg)
		if p.curtok.Kind == TokenPlus {
			if err := p.next(); err != nil {
				return nil, err
			}
			off, err := p.imm()
			if err != nil {
				return nil, err
			}
			return RegImm{Reg: reg, Imm: off}, nil
		}
		return reg, nil
	case TokenNum:
		val, err := p.imm()
		if err != nil {
			return nil, err
		}
		return Imm{Value: val}, nil
	case TokenLBracket:
		return p.memory()
	default:
		return nil, p.errorf("expected an operand")
	}
}

// memory parses the full memory operand family: [i], [R], [R + i],
// [R1 + R2], [R1 * i], [R1 + R2 * i], [R1 + i + R2] and [R1 + i1 + R2 * i2].
func (p *Parser) memory() (Operand, error) {
	if err := p.next(); err != nil { // '['
		return nil, err
	}

	if p.curtok.Kind == TokenNum {
		addr := p.lex.Number()
		if err := p.next(); err != nil {
			return nil, err
		}
		if err := p.expectRBracket(); err != nil {
			return nil, err
		}
		return MemImm{Addr: addr}, nil
	}

	if p.curtok.Kind != TokenID {
		return nil, p.errorf("expected register or immediate inside memory operand")
	}
	regOp, err := p.register()
	if err != nil {
		return nil, err
	}
	reg := regOp.(Reg)

	switch p.curtok.Kind {
	case TokenRBracket:
		if err := p.next(); err != nil {
			return nil, err
		}
		return MemReg{Reg: reg}, nil
	case TokenTimes:
		if err := p.next(); err != nil {
			return nil, err
		}
		scale, err := p.imm()
		if err != nil {
			return nil, p.errorf("after [R * there must always be an immediate")
		}
		if err := p.expectRBracket(); err != nil {
			return nil, err
		}
		return MemRegScaled{Reg: reg, Scale: scale}, nil
	case TokenPlus:
		if err := p.next(); err != nil {
			return nil, err
		}
	default:
		return nil, p.errorf("expected ']', '+' or '*' in memory operand")
	}

	// After [R + there is either a second register or an immediate.
	if p.curtok.Kind == TokenID {
		reg2Op, err := p.register()
		if err != nil {
			return nil, err
		}
		reg2 := reg2Op.(Reg)
		if p.curtok.Kind == TokenTimes {
			if err := p.next(); err != nil {
				return nil, err
			}
			scale, err := p.imm()
			if err != nil {
				return nil, err
			}
			if err := p.expectRBracket(); err != nil {
				return nil, err
			}
			return MemRegRegScaled{A: reg, B: reg2, Scale: scale}, nil
		}
		if err := p.expectRBracket(); err != nil {
			return nil, err
		}
		return MemRegReg{A: reg, B: reg2}, nil
	}

	off, err := p.imm()
	if err != nil {
		return nil, p.errorf("expected register or immediate after '+' in memory operand")
	}
	if p.curtok.Kind == TokenRBracket {
		if err := p.next(); err != nil {
			return nil, err
		}
		return MemRegImm{Reg: reg, Imm: off}, nil
	}
	if p.curtok.Kind != TokenPlus {
		return nil, p.errorf("memory operand of form [R + i ...] must continue with '+ R'")
	}
	if err := p.next(); err != nil {
		return nil, err
	}
	reg2Op, err := p.register()
	if err != nil {
		return nil, p.errorf("memory operand of form [R + i + ...] must contain a register")
	}
	reg2 := reg2Op.(Reg)
	if p.curtok.Kind == TokenTimes {
		if err := p.next(); err != nil {
			return nil, err
		}
		scale, err := p.imm()
		if err != nil {
			return nil, err
		}
		if err := p.expectRBracket(); err != nil {
			return nil, err
		}
		return MemRegImmRegScaled{A: reg, Imm: off, B: reg2, Scale: scale}, nil
	}
	if err := p.expectRBracket(); err != nil {
		return nil, err
	}
	return MemRegImmReg{A: reg, Imm: off, B: reg2}, nil
}

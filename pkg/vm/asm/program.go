package asm

import (
	"fmt"
	"strings"
)

// Instruction is a single decoded E86 instruction. The address of an
// instruction is its index in the program sequence.
type Instruction struct {
	Opcode   string
	Operands []Operand
}

// String returns the canonical textual form of the instruction.
func (i Instruction) String() string {
	if len(i.Operands) == 0 {
		return i.Opcode
	}
	parts := make([]string, len(i.Operands))
	for n, op := range i.Operands {
		parts[n] = op.String()
	}
	return fmt.Sprintf("%s %s", i.Opcode, strings.Join(parts, ", "))
}

// Program is a parsed E86 program: the instruction sequence of the text
// section and the words of the data section.
type Program struct {
	Instructions []Instruction
	Data         []int64
}

// Len returns the number of instructions in the text section.
func (p *Program) Len() int {
	return len(p.Instructions)
}

// At returns the instruction at the given address.
func (p *Program) At(addr int) Instruction {
	return p.Instructions[addr]
}

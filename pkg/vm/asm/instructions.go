package asm

// operandClass selects the parsing routine for one operand position.
// The table below replaces per-opcode parsing functions with a single
// generic dispatch in the parser.
type operandClass int

const (
	// classRegister allows R only.
	classRegister operandClass = iota
	// classImmOrRegister allows i or R.
	classImmOrRegister
	// classImmOrRegisterOrSimpleMemory allows i, R, [i], [R] or [R + i].
	classImmOrRegisterOrSimpleMemory
	// classFull allows every operand form, including the scaled and
	// double-register memory accesses.
	classFull
)

type opcodeEntry struct {
	operands []operandClass
}

func binary(dst, src operandClass) opcodeEntry {
	return opcodeEntry{operands: []operandClass{dst, src}}
}

func unary(op operandClass) opcodeEntry {
	return opcodeEntry{operands: []operandClass{op}}
}

func nullary() opcodeEntry {
	return opcodeEntry{}
}

// opcodeTable maps every opcode of the E86 instruction set to the operand
// classes its operands accept.
var opcodeTable = map[string]opcodeEntry{
	// MOV allows a very big range of operands with restrictive
	// relationships between them; restrictions beyond the operand grammar
	// are enforced at execution, not here.
	"MOV": binary(classFull, classFull),
	// The LEA destination is constrained to a register.
	"LEA": binary(classRegister, classFull),

	"ADD":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"SUB":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"MUL":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"DIV":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"IMUL": binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"IDIV": binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"AND":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"OR":   binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"XOR":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"LSH":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"RSH":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"CMP":  binary(classRegister, classImmOrRegisterOrSimpleMemory),
	"LOOP": binary(classRegister, classImmOrRegister),

	"INC":     unary(classRegister),
	"DEC":     unary(classRegister),
	"NEG":     unary(classRegister),
	"NOT":     unary(classRegister),
	"POP":     unary(classRegister),
	"PUTCHAR": unary(classRegister),
	"PUTNUM":  unary(classRegister),
	"GETCHAR": unary(classRegister),

	"JMP":  unary(classImmOrRegister),
	"CALL": unary(classImmOrRegister),
	"PUSH": unary(classImmOrRegister),

	"JZ":  unary(classImmOrRegisterOrSimpleMemory),
	"JNZ": unary(classImmOrRegisterOrSimpleMemory),
	"JE":  unary(classImmOrRegisterOrSimpleMemory),
	"JNE": unary(classImmOrRegisterOrSimpleMemory),
	"JG":  unary(classImmOrRegisterOrSimpleMemory),
	"JGE": unary(classImmOrRegisterOrSimpleMemory),
	"JL":  unary(classImmOrRegisterOrSimpleMemory),
	"JLE": unary(classImmOrRegisterOrSimpleMemory),
	"JA":  unary(classImmOrRegisterOrSimpleMemory),
	"JAE": unary(classImmOrRegisterOrSimpleMemory),
	"JB":  unary(classImmOrRegisterOrSimpleMemory),
	"JBE": unary(classImmOrRegisterOrSimpleMemory),
	"JO":  unary(classImmOrRegisterOrSimpleMemory),
	"JNO": unary(classImmOrRegisterOrSimpleMemory),
	"JS":  unary(classImmOrRegisterOrSimpleMemory),
	"JNS": unary(classImmOrRegisterOrSimpleMemory),

	"HALT":  nullary(),
	"NOP":   nullary(),
	"BKPT":  nullary(),
	"BREAK": nullary(),
	"RET":   nullary(),
}

package debugger

import (
	"fmt"
	"math/bits"

	"github.com/dmolina/escarabajo/pkg/utils"
)

// Machine selects the target architecture. Architecture facts live in a
// read-only configuration table consulted before and during a session;
// there is no mutable global state.
type Machine int

const (
	// MachineE86 is the E86 educational virtual machine.
	MachineE86 Machine = iota
)

// String returns the string representation of a Machine
func (m Machine) String() string {
	switch m {
	case MachineE86:
		return "E86"
	}
	return "unknown"
}

type archInfo struct {
	trapOpcode          string
	debugRegisters      int
	hardwareSinglestep  bool
	hardwareWatchpoints bool
	callInstructions    []string
	returnInstructions  []string
}

var archTable = map[Machine]archInfo{
	MachineE86: {
		trapOpcode:          "BKPT",
		debugRegisters:      4,
		hardwareSinglestep:  true,
		hardwareWatchpoints: true,
		callInstructions:    []string{"CALL"},
		returnInstructions:  []string{"RET"},
	},
}

func (m Machine) info() archInfo {
	info, ok := archTable[m]
	if !ok {
		panic(fmt.Sprintf("no architecture table entry for machine %v", m))
	}
	return info
}

// TrapOpcode returns the software breakpoint opcode of the machine.
func (m Machine) TrapOpcode() string { return m.info().trapOpcode }

// DebugRegistersCount returns how many address debug registers the
// machine has. The control register is not counted.
func (m Machine) DebugRegistersCount() int { return m.info().debugRegisters }

// SupportsHardwareSinglestep reports whether the machine can single step
// without an instruction emulator.
func (m Machine) SupportsHardwareSinglestep() bool { return m.info().hardwareSinglestep }

// SupportsHardwareWatchpoints reports whether the machine has debug
// registers usable for watchpoints.
func (m Machine) SupportsHardwareWatchpoints() bool { return m.info().hardwareWatchpoints }

// CallInstructions returns the mnemonics that enter a function.
func (m Machine) CallInstructions() []string { return m.info().callInstructions }

// ReturnInstructions returns the mnemonics that exit a function.
func (m Machine) ReturnInstructions() []string { return m.info().returnInstructions }

// controlRegisterName is the debug control register; the address debug
// registers are D0..Dn-1.
func (m Machine) controlRegisterName() string {
	return fmt.Sprintf("D%d", m.DebugRegistersCount())
}

func (m Machine) debugRegisterName(idx int) string {
	return fmt.Sprintf("D%d", idx)
}

// SetDebugRegister writes address into debug register idx of the fetched
// register set.
func (m Machine) SetDebugRegister(idx int, address uint64, regs map[string]uint64) error {
	if idx >= m.DebugRegistersCount() {
		return utils.MakeError(ErrDebugger, "out of bounds: debug registers")
	}
	regs[m.debugRegisterName(idx)] = address
	return nil
}

// ActivateDebugRegister turns on debug register idx in the control
// register. The low bits of the control register indicate which address
// registers are active.
func (m Machine) ActivateDebugRegister(idx int, regs map[string]uint64) error {
	if idx >= m.DebugRegistersCount() {
		return utils.MakeError(ErrDebugger, "out of bounds: debug registers")
	}
	regs[m.controlRegisterName()] |= 1 << idx
	return nil
}

// DeactivateDebugRegister turns off debug register idx in the control
// register.
func (m Machine) DeactivateDebugRegister(idx int, regs map[string]uint64) error {
	if idx >= m.DebugRegistersCount() {
		return utils.MakeError(ErrDebugger, "out of bounds: debug registers")
	}
	regs[m.controlRegisterName()] &^= 1 << idx
	return nil
}

// ResponsibleRegister returns the index of the debug register that caused
// a hardware break. Bits 8..15 of the control register carry the mask of
// the responsible register.
func (m Machine) ResponsibleRegister(regs map[string]uint64) (int, error) {
	control, ok := regs[m.controlRegisterName()]
	if !ok {
		return 0, utils.MakeError(ErrDebugger, "no control debug register in target")
	}
	masked := (control & 0xFF00) >> 8
	if masked == 0 {
		return 0, utils.MakeError(ErrDebugger, "control register reports no responsible debug register")
	}
	return bits.Len64(masked) - 1, nil
}

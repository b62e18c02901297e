// Package debugger implements instruction level debugging of E86 targets:
// transparent software breakpoints, hardware watchpoints over debug
// registers, single stepping and debug event reporting. The target is
// reached through the Process interface; the reference implementation is
// RemoteProcess, a line oriented client for the simulator's debug channel.
package debugger

import "errors"

// ErrDebugger is the kind of every violated precondition on the debugger
// API: duplicate breakpoints, unknown registers, out of range text access
// and the like. The session remains valid after such an error. Transport
// failures are reported under the same kind with a distinguishing message.
var ErrDebugger = errors.New("debugger error")

// StopReason is the target-reported cause of the latest stop.
type StopReason int

const (
	StopSoftwareBreakpointHit StopReason = iota
	StopHardwareBreak
	StopSinglestep
	StopExecutionBegin
	StopExecutionEnd
)

// String returns the string representation of a StopReason
func (r StopReason) String() string {
	switch r {
	case StopSoftwareBreakpointHit:
		return "software_breakpoint"
	case StopHardwareBreak:
		return "hardware_break"
	case StopSinglestep:
		return "singlestep"
	case StopExecutionBegin:
		return "execution_begin"
	case StopExecutionEnd:
		return "execution_end"
	default:
		return "unknown"
	}
}

// Process is the contract to the running target. One outstanding request
// at a time; Wait is the only blocking call and returns when the target
// stops for any reason.
type Process interface {
	// ReadText reads count instructions starting at address.
	ReadText(address uint64, count int) ([]string, error)
	// WriteText rewrites the instructions starting at address.
	WriteText(address uint64, text []string) error
	// TextSize returns the number of instructions in the text segment.
	TextSize() (uint64, error)

	FetchRegisters() (map[string]int64, error)
	SetRegisters(regs map[string]int64) error
	FetchFloatRegisters() (map[string]float64, error)
	SetFloatRegisters(regs map[string]float64) error
	FetchDebugRegisters() (map[string]uint64, error)
	SetDebugRegisters(regs map[string]uint64) error

	ReadMemory(address uint64, count int) ([]int64, error)
	WriteMemory(address uint64, data []int64) error

	// Wait blocks until the target stops.
	Wait() error
	// GetReason reports why the target last stopped.
	GetReason() (StopReason, error)
	ResumeExecution() error
	Singlestep() error
	// Terminate ends the target process; the handle must not be used
	// afterwards.
	Terminate() error
}

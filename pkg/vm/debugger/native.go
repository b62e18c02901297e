package debugger

import (
	"log/slog"
	"strings"

	"github.com/dmolina/escarabajo/pkg/utils"
)

// SoftwareBreakpoint is the controller-side record of one breakpoint: the
// original instruction text the trap opcode replaced, and whether the trap
// is currently installed in the target.
type SoftwareBreakpoint struct {
	SavedOpcode string
	Enabled     bool
}

// Watchpoint records which hardware debug register a watchpoint occupies.
type Watchpoint struct {
	Type               WatchpointType
	DebugRegisterIndex int
}

// Native is the instruction level debug controller. It owns the process
// handle and the breakpoint and watchpoint maps; the maps are mutated only
// through its methods so that the breakpoint overlay stays transparent:
// text reads and writes through the controller never observe the trap
// opcode.
type Native struct {
	machine     Machine
	process     Process
	breakpoints map[uint64]*SoftwareBreakpoint
	watchpoints map[uint64]Watchpoint
	// A debug event produced while stepping over a breakpoint inside
	// ContinueExecution, handed out by the next WaitForDebugEvent.
	cachedEvent DebugEvent
}

// NewNative creates a controller for an E86 process.
func NewNative(process Process) *Native {
	return NewNativeForMachine(MachineE86, process)
}

// NewNativeForMachine creates a controller with an explicit machine
// selection.
func NewNativeForMachine(machine Machine, process Process) *Native {
	return &Native{
		machine:     machine,
		process:     process,
		breakpoints: make(map[uint64]*SoftwareBreakpoint),
		watchpoints: make(map[uint64]Watchpoint),
	}
}

// Machine returns the architecture of the debugged target.
func (n *Native) Machine() Machine { return n.machine }

// Active reports whether the controller still owns a live process.
func (n *Native) Active() bool { return n.process != nil }

// Terminate ends the debugging session and releases the process handle.
func (n *Native) Terminate() error {
	err := n.process.Terminate()
	n.process = nil
	return err
}

// --- Breakpoints ---

// installBreakpoint writes the trap opcode at address and verifies the
// write, returning the new enabled breakpoint record.
func (n *Native) installBreakpoint(address uint64) (*SoftwareBreakpoint, error) {
	trap := n.machine.TrapOpcode()
	backup, err := n.process.ReadText(address, 1)
	if err != nil {
		return nil, err
	}
	if err := n.process.WriteText(address, []string{trap}); err != nil {
		return nil, err
	}
	installed, err := n.process.ReadText(address, 1)
	if err != nil {
		return nil, err
	}
	if installed[0] != trap {
		return nil, utils.MakeError(ErrDebugger,
			"failed to set breakpoint, expected opcode '%s', got '%s'", trap, installed[0])
	}
	slog.Debug("installed software breakpoint", "address", address, "saved", backup[0])
	return &SoftwareBreakpoint{SavedOpcode: backup[0], Enabled: true}, nil
}

// SetBreakpoint creates a new enabled breakpoint at the given address.
func (n *Native) SetBreakpoint(address uint64) error {
	if _, exists := n.breakpoints[address]; exists {
		return utils.MakeError(ErrDebugger, "breakpoint at %d is already set", address)
	}
	bp, err := n.installBreakpoint(address)
	if err != nil {
		return err
	}
	n.breakpoints[address] = bp
	return nil
}

// UnsetBreakpoint disables and removes the breakpoint at the given
// address.
func (n *Native) UnsetBreakpoint(address uint64) error {
	if err := n.DisableBreakpoint(address); err != nil {
		return err
	}
	delete(n.breakpoints, address)
	return nil
}

// EnableBreakpoint reinstalls a disabled breakpoint. Enabling an enabled
// breakpoint is a noop.
func (n *Native) EnableBreakpoint(address uint64) error {
	bp, exists := n.breakpoints[address]
	if !exists {
		return utils.MakeError(ErrDebugger, "no breakpoint at address %d", address)
	}
	if bp.Enabled {
		return nil
	}
	installed, err := n.installBreakpoint(address)
	if err != nil {
		return err
	}
	*bp = *installed
	return nil
}

// DisableBreakpoint writes the saved instruction back over the trap.
// Disabling a disabled breakpoint is a noop.
func (n *Native) DisableBreakpoint(address uint64) error {
	bp, exists := n.breakpoints[address]
	if !exists {
		return utils.MakeError(ErrDebugger, "no breakpoint at address %d", address)
	}
	if !bp.Enabled {
		return nil
	}
	if err := n.process.WriteText(address, []string{bp.SavedOpcode}); err != nil {
		return err
	}
	bp.Enabled = false
	return nil
}

// GetBreakpoints returns a copy of the breakpoint map.
func (n *Native) GetBreakpoints() map[uint64]SoftwareBreakpoint {
	out := make(map[uint64]SoftwareBreakpoint, len(n.breakpoints))
	for addr, bp := range n.breakpoints {
		out[addr] = *bp
	}
	return out
}

// --- Text access ---

// TextSize returns the size of the target text segment.
func (n *Native) TextSize() (uint64, error) {
	return n.process.TextSize()
}

// ReadText reads amount instructions starting at address. Addresses
// covered by a breakpoint report the saved instruction, not the trap.
func (n *Native) ReadText(address uint64, amount int) ([]string, error) {
	size, err := n.process.TextSize()
	if err != nil {
		return nil, err
	}
	if address+uint64(amount) > size {
		return nil, utils.MakeError(ErrDebugger,
			"reading text at range %d-%d, but text size is %d", address, address+uint64(amount), size)
	}
	text, err := n.process.ReadText(address, amount)
	if err != nil {
		return nil, err
	}
	for i := range text {
		if bp, exists := n.breakpoints[address+uint64(i)]; exists {
			text[i] = bp.SavedOpcode
		}
	}
	return text, nil
}

// WriteText rewrites instructions starting at address. Writes over a
// breakpoint land in its saved instruction so the trap persists in the
// target and the caller's value is what a later disable restores.
func (n *Native) WriteText(address uint64, text []string) error {
	size, err := n.process.TextSize()
	if err != nil {
		return err
	}
	if address+uint64(len(text)) > size {
		return utils.MakeError(ErrDebugger,
			"writing text at range %d-%d, but text size is %d", address, address+uint64(len(text)), size)
	}
	out := make([]string, len(text))
	copy(out, text)
	for i := range out {
		if bp, exists := n.breakpoints[address+uint64(i)]; exists {
			bp.SavedOpcode = out[i]
			// A disabled breakpoint has no trap installed; only an
			// enabled one keeps it in place of the caller's value.
			if bp.Enabled {
				out[i] = n.machine.TrapOpcode()
			}
		}
	}
	return n.process.WriteText(address, out)
}

// --- Registers ---

// GetRegisters fetches the whole normal register set.
func (n *Native) GetRegisters() (map[string]int64, error) {
	return n.process.FetchRegisters()
}

// SetRegisters writes the whole normal register set.
func (n *Native) SetRegisters(regs map[string]int64) error {
	return n.process.SetRegisters(regs)
}

// GetRegister returns the value of a single register. When several
// registers are needed use GetRegisters, which is one round trip.
func (n *Native) GetRegister(name string) (int64, error) {
	regs, err := n.process.FetchRegisters()
	if err != nil {
		return 0, err
	}
	val, ok := regs[name]
	if !ok {
		return 0, utils.MakeError(ErrDebugger, "no register '%s' in target", name)
	}
	return val, nil
}

// SetRegister sets the value of a single register; a convenience wrapper
// over the bulk fetch-modify-store.
func (n *Native) SetRegister(name string, value int64) error {
	regs, err := n.process.FetchRegisters()
	if err != nil {
		return err
	}
	if _, ok := regs[name]; !ok {
		return utils.MakeError(ErrDebugger, "no register '%s' in target", name)
	}
	regs[name] = value
	return n.process.SetRegisters(regs)
}

// GetFloatRegisters fetches the float register set.
func (n *Native) GetFloatRegisters() (map[string]float64, error) {
	return n.process.FetchFloatRegisters()
}

// SetFloatRegisters writes the float register set.
func (n *Native) SetFloatRegisters(regs map[string]float64) error {
	return n.process.SetFloatRegisters(regs)
}

// GetFloatRegister returns the value of a single float register.
func (n *Native) GetFloatRegister(name string) (float64, error) {
	regs, err := n.process.FetchFloatRegisters()
	if err != nil {
		return 0, err
	}
	val, ok := regs[name]
	if !ok {
		return 0, utils.MakeError(ErrDebugger, "'%s' is not a float register", name)
	}
	return val, nil
}

// SetFloatRegister sets the value of a single float register.
func (n *Native) SetFloatRegister(name string, value float64) error {
	regs, err := n.process.FetchFloatRegisters()
	if err != nil {
		return err
	}
	if _, ok := regs[name]; !ok {
		return utils.MakeError(ErrDebugger, "'%s' is not a float register", name)
	}
	regs[name] = value
	return n.process.SetFloatRegisters(regs)
}

// GetIP returns the target instruction pointer.
func (n *Native) GetIP() (uint64, error) {
	ip, err := n.GetRegister("IP")
	if err != nil {
		return 0, err
	}
	return uint64(ip), nil
}

// --- Memory ---

// ReadMemory reads amount words starting at address.
func (n *Native) ReadMemory(address uint64, amount int) ([]int64, error) {
	return n.process.ReadMemory(address, amount)
}

// SetMemory writes words starting at address.
func (n *Native) SetMemory(address uint64, values []int64) error {
	return n.process.WriteMemory(address, values)
}

// --- Execution control ---

// doRawSingleStep steps one instruction without considering breakpoints.
func (n *Native) doRawSingleStep() (DebugEvent, error) {
	if err := n.process.Singlestep(); err != nil {
		return nil, err
	}
	return n.WaitForDebugEvent()
}

// DoRawSingleStep steps one instruction. If an enabled breakpoint covers
// the current instruction the trap executes instead of it; use
// PerformSingleStep for breakpoint aware stepping.
func (n *Native) DoRawSingleStep() (DebugEvent, error) {
	if !n.machine.SupportsHardwareSinglestep() {
		return nil, utils.MakeError(ErrDebugger,
			"singlestep is not supported for machine %v", n.machine)
	}
	return n.doRawSingleStep()
}

// StepOverBreakpoint executes the instruction a breakpoint occupies:
// disable, single step, re-enable. The breakpoint at ip ends enabled.
func (n *Native) StepOverBreakpoint(ip uint64) (DebugEvent, error) {
	if err := n.DisableBreakpoint(ip); err != nil {
		return nil, err
	}
	// PerformSingleStep recursing here is fine, the breakpoint was just
	// disabled.
	event, err := n.PerformSingleStep()
	if err != nil {
		return nil, err
	}
	if err := n.EnableBreakpoint(ip); err != nil {
		return nil, err
	}
	return event, nil
}

// PerformSingleStep steps one instruction, transparently stepping over an
// enabled breakpoint covering the current IP.
func (n *Native) PerformSingleStep() (DebugEvent, error) {
	if !n.machine.SupportsHardwareSinglestep() {
		return nil, utils.MakeError(ErrDebugger,
			"singlestep is not supported for machine %v", n.machine)
	}
	ip, err := n.GetIP()
	if err != nil {
		return nil, err
	}
	if bp, exists := n.breakpoints[ip]; exists && bp.Enabled {
		return n.StepOverBreakpoint(ip)
	}
	return n.doRawSingleStep()
}

// PerformStepOver steps one instruction without descending into calls:
// for a call instruction a transient breakpoint at the return site runs
// the whole call. skipBkpt selects whether a breakpoint on the current
// instruction is stepped over or executed raw.
func (n *Native) PerformStepOver(skipBkpt bool) (DebugEvent, error) {
	if !n.machine.SupportsHardwareSinglestep() {
		return nil, utils.MakeError(ErrDebugger,
			"singlestep is not supported for machine %v", n.machine)
	}
	ip, err := n.GetIP()
	if err != nil {
		return nil, err
	}
	text, err := n.ReadText(ip, 1)
	if err != nil {
		return nil, err
	}
	isCall := false
	for _, call := range n.machine.CallInstructions() {
		if strings.HasPrefix(text[0], call) {
			isCall = true
			break
		}
	}
	if !isCall {
		if skipBkpt {
			return n.PerformSingleStep()
		}
		return n.DoRawSingleStep()
	}

	_, bpExists := n.breakpoints[ip+1]
	if !bpExists {
		if err := n.SetBreakpoint(ip + 1); err != nil {
			return nil, err
		}
	}
	if skipBkpt {
		// Step over a breakpoint on the call itself.
		if _, err := n.PerformSingleStep(); err != nil {
			return nil, err
		}
	}
	if err := n.ContinueExecution(); err != nil {
		return nil, err
	}
	event, err := n.WaitForDebugEvent()
	if err != nil {
		return nil, err
	}
	if !bpExists {
		if err := n.UnsetBreakpoint(ip + 1); err != nil {
			return nil, err
		}
	}
	newIP, err := n.GetIP()
	if err != nil {
		return nil, err
	}
	// Stopping anywhere else means some other breakpoint fired inside
	// the call.
	if newIP != ip+1 {
		return event, nil
	}
	return Singlestep{}, nil
}

// ContinueExecution resumes the target. A breakpoint on the current
// instruction is stepped over first; if that step itself stops for a
// reason other than the step, the event is cached for the next
// WaitForDebugEvent and the target is not resumed.
func (n *Native) ContinueExecution() error {
	ip, err := n.GetIP()
	if err != nil {
		return err
	}
	bp, exists := n.breakpoints[ip]
	if !exists || !bp.Enabled {
		return n.process.ResumeExecution()
	}
	event, err := n.StepOverBreakpoint(ip)
	if err != nil {
		return err
	}
	if _, isStep := event.(Singlestep); !isStep {
		n.cachedEvent = event
		return nil
	}
	return n.process.ResumeExecution()
}

// mapReasonToEvent converts the target stop reason to a debug event.
func (n *Native) mapReasonToEvent(reason StopReason) (DebugEvent, error) {
	switch reason {
	case StopSoftwareBreakpointHit:
		ip, err := n.GetIP()
		if err != nil {
			return nil, err
		}
		// The trap advanced the IP past the breakpoint address.
		return BreakpointHit{Type: BPSoftware, Address: ip - 1}, nil
	case StopHardwareBreak:
		dregs, err := n.process.FetchDebugRegisters()
		if err != nil {
			return nil, err
		}
		idx, err := n.machine.ResponsibleRegister(dregs)
		if err != nil {
			return nil, err
		}
		for addr, wp := range n.watchpoints {
			if wp.DebugRegisterIndex == idx {
				return WatchpointTrigger{Type: wp.Type, Address: addr}, nil
			}
		}
		panic("hardware break reported but no watchpoint occupies the responsible debug register")
	case StopSinglestep:
		return Singlestep{}, nil
	case StopExecutionBegin:
		return ExecutionBegin{}, nil
	case StopExecutionEnd:
		return ExecutionEnd{}, nil
	default:
		panic("unknown stop reason")
	}
}

// WaitForDebugEvent returns the cached event if one exists, otherwise
// waits for the target to stop and reports why. On a breakpoint hit the
// IP is moved back onto the breakpoint address.
func (n *Native) WaitForDebugEvent() (DebugEvent, error) {
	if n.cachedEvent != nil {
		event := n.cachedEvent
		n.cachedEvent = nil
		return event, nil
	}

	if err := n.process.Wait(); err != nil {
		return nil, err
	}
	reason, err := n.process.GetReason()
	if err != nil {
		return nil, err
	}
	event, err := n.mapReasonToEvent(reason)
	if err != nil {
		return nil, err
	}
	if _, isBP := event.(BreakpointHit); isBP {
		regs, err := n.GetRegisters()
		if err != nil {
			return nil, err
		}
		regs["IP"] -= 1
		if err := n.SetRegisters(regs); err != nil {
			return nil, err
		}
	}
	return event, nil
}

// --- Watchpoints ---

// getFreeDebugRegister returns the lowest debug register index not
// occupied by a watchpoint.
func (n *Native) getFreeDebugRegister() (int, bool) {
	count := n.machine.DebugRegistersCount()
	for i := 0; i < count; i++ {
		used := false
		for _, wp := range n.watchpoints {
			if wp.DebugRegisterIndex == i {
				used = true
				break
			}
		}
		if !used {
			return i, true
		}
	}
	return 0, false
}

// SetWatchpointWrite sets a write watchpoint on the given memory address.
func (n *Native) SetWatchpointWrite(address uint64) error {
	if !n.machine.SupportsHardwareWatchpoints() {
		return utils.MakeError(ErrDebugger,
			"machine %v does not support watchpoints", n.machine)
	}
	if _, exists := n.watchpoints[address]; exists {
		return utils.MakeError(ErrDebugger, "a watchpoint is already set on address %d", address)
	}
	idx, ok := n.getFreeDebugRegister()
	if !ok {
		return utils.MakeError(ErrDebugger, "maximum amount of watchpoints has been set")
	}

	dregs, err := n.process.FetchDebugRegisters()
	if err != nil {
		return err
	}
	if err := n.machine.SetDebugRegister(idx, address, dregs); err != nil {
		return err
	}
	if err := n.machine.ActivateDebugRegister(idx, dregs); err != nil {
		return err
	}
	if err := n.process.SetDebugRegisters(dregs); err != nil {
		return err
	}
	n.watchpoints[address] = Watchpoint{Type: WatchpointWrite, DebugRegisterIndex: idx}
	slog.Debug("set write watchpoint", "address", address, "debug_register", idx)
	return nil
}

// RemoveWatchpoint deactivates and removes the watchpoint at the given
// address.
func (n *Native) RemoveWatchpoint(address uint64) error {
	wp, exists := n.watchpoints[address]
	if !exists {
		return utils.MakeError(ErrDebugger, "no watchpoint on address %d", address)
	}
	dregs, err := n.process.FetchDebugRegisters()
	if err != nil {
		return err
	}
	if err := n.machine.DeactivateDebugRegister(wp.DebugRegisterIndex, dregs); err != nil {
		return err
	}
	if err := n.process.SetDebugRegisters(dregs); err != nil {
		return err
	}
	delete(n.watchpoints, address)
	return nil
}

// GetWatchpoints returns a copy of the watchpoint map.
func (n *Native) GetWatchpoints() map[uint64]Watchpoint {
	return utils.CopyMap(n.watchpoints)
}

// Package debugtest provides an in-memory E86 target implementing the
// debugger.Process contract. It executes just enough of the instruction
// set to exercise the debug controller: register and memory moves, simple
// arithmetic, calls and the BKPT trap, with debug register watchpoints.
package debugtest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dmolina/escarabajo/pkg/utils"
	"github.com/dmolina/escarabajo/pkg/vm/debugger"
)

const (
	// RegisterCount is how many general purpose registers the simulated
	// target has.
	RegisterCount = 8
	// MemorySize is the size of the simulated data memory in words.
	MemorySize = 64
	debugRegs  = 4
)

// Process is a simulated E86 target. All operations are synchronous;
// Wait never blocks because Resume and Singlestep run the program inline.
type Process struct {
	text   []string
	memory []int64
	regs   map[string]int64
	fregs  map[string]float64
	dregs  map[string]uint64

	reason     debugger.StopReason
	terminated bool
}

// New creates a target executing the given instruction sequence.
func New(text []string) *Process {
	p := &Process{
		text:   append([]string(nil), text...),
		memory: make([]int64, MemorySize),
		regs:   make(map[string]int64),
		fregs:  map[string]float64{"F0": 0, "F1": 0},
		dregs:  make(map[string]uint64),
		reason: debugger.StopExecutionBegin,
	}
	for i := 0; i < RegisterCount; i++ {
		p.regs[fmt.Sprintf("R%d", i)] = 0
	}
	p.regs["IP"] = 0
	p.regs["BP"] = MemorySize
	p.regs["SP"] = MemorySize
	for i := 0; i <= debugRegs; i++ {
		p.dregs[fmt.Sprintf("D%d", i)] = 0
	}
	return p
}

// RawText returns the instruction stored at the given address, bypassing
// any debugger; tests use it to probe what the target really contains.
func (p *Process) RawText(addr uint64) string {
	return p.text[addr]
}

// SetMemoryWord seeds a data memory word.
func (p *Process) SetMemoryWord(addr uint64, value int64) {
	p.memory[addr] = value
}

// SetRegisterValue seeds a register.
func (p *Process) SetRegisterValue(name string, value int64) {
	p.regs[name] = value
}

func (p *Process) ReadText(address uint64, count int) ([]string, error) {
	if address+uint64(count) > uint64(len(p.text)) {
		return nil, fmt.Errorf("text read out of range")
	}
	return append([]string(nil), p.text[address:address+uint64(count)]...), nil
}

func (p *Process) WriteText(address uint64, text []string) error {
	if address+uint64(len(text)) > uint64(len(p.text)) {
		return fmt.Errorf("text write out of range")
	}
	copy(p.text[address:], text)
	return nil
}

func (p *Process) TextSize() (uint64, error) {
	return uint64(len(p.text)), nil
}

func (p *Process) FetchRegisters() (map[string]int64, error) {
	return utils.CopyMap(p.regs), nil
}

func (p *Process) SetRegisters(regs map[string]int64) error {
	for name := range regs {
		if _, ok := p.regs[name]; !ok {
			return fmt.Errorf("no register %s", name)
		}
	}
	p.regs = utils.CopyMap(regs)
	return nil
}

func (p *Process) FetchFloatRegisters() (map[string]float64, error) {
	return utils.CopyMap(p.fregs), nil
}

func (p *Process) SetFloatRegisters(regs map[string]float64) error {
	p.fregs = utils.CopyMap(regs)
	return nil
}

func (p *Process) FetchDebugRegisters() (map[string]uint64, error) {
	return utils.CopyMap(p.dregs), nil
}

func (p *Process) SetDebugRegisters(regs map[string]uint64) error {
	p.dregs = utils.CopyMap(regs)
	return nil
}

func (p *Process) ReadMemory(address uint64, count int) ([]int64, error) {
	if address+uint64(count) > uint64(len(p.memory)) {
		return nil, fmt.Errorf("memory read out of range")
	}
	return append([]int64(nil), p.memory[address:address+uint64(count)]...), nil
}

func (p *Process) WriteMemory(address uint64, data []int64) error {
	if address+uint64(len(data)) > uint64(len(p.memory)) {
		return fmt.Errorf("memory write out of range")
	}
	copy(p.memory[address:], data)
	return nil
}

func (p *Process) Wait() error {
	return nil
}

func (p *Process) GetReason() (debugger.StopReason, error) {
	return p.reason, nil
}

func (p *Process) ResumeExecution() error {
	for {
		stopped, err := p.executeOne()
		if err != nil {
			return err
		}
		if stopped {
			return nil
		}
	}
}

func (p *Process) Singlestep() error {
	stopped, err := p.executeOne()
	if err != nil {
		return err
	}
	if !stopped {
		p.reason = debugger.StopSinglestep
	}
	return nil
}

func (p *Process) Terminate() error {
	p.terminated = true
	p.reason = debugger.StopExecutionEnd
	return nil
}

// executeOne runs the instruction at IP. It reports true when execution
// stopped for a reason stronger than the step itself (trap, watchpoint,
// halt).
func (p *Process) executeOne() (bool, error) {
	ip := uint64(p.regs["IP"])
	if p.terminated || ip >= uint64(len(p.text)) {
		p.reason = debugger.StopExecutionEnd
		return true, nil
	}
	ins := p.text[ip]
	p.regs["IP"] = int64(ip) + 1

	fields := strings.Fields(strings.ReplaceAll(ins, ",", " "))
	if len(fields) == 0 {
		return false, fmt.Errorf("empty instruction at %d", ip)
	}

	switch fields[0] {
	case "NOP", "PUTNUM", "PUTCHAR":
		return false, nil
	case "HALT":
		p.reason = debugger.StopExecutionEnd
		return true, nil
	case "BKPT":
		p.reason = debugger.StopSoftwareBreakpointHit
		return true, nil
	case "MOV":
		return p.execMov(fields[1], fields[2])
	case "ADD", "SUB":
		val, err := p.sourceValue(fields[2])
		if err != nil {
			return false, err
		}
		if fields[0] == "SUB" {
			val = -val
		}
		p.regs[fields[1]] += val
		return false, nil
	case "JMP":
		target, err := p.sourceValue(fields[1])
		if err != nil {
			return false, err
		}
		p.regs["IP"] = target
		return false, nil
	case "CALL":
		target, err := p.sourceValue(fields[1])
		if err != nil {
			return false, err
		}
		p.regs["SP"]--
		p.memory[p.regs["SP"]] = p.regs["IP"]
		p.regs["IP"] = target
		return false, nil
	case "RET":
		p.regs["IP"] = p.memory[p.regs["SP"]]
		p.regs["SP"]++
		return false, nil
	default:
		return false, fmt.Errorf("unsupported instruction '%s' at %d", ins, ip)
	}
}

func (p *Process) execMov(dst, src string) (bool, error) {
	val, err := p.sourceValue(src)
	if err != nil {
		return false, err
	}
	if strings.HasPrefix(dst, "[") {
		addr, err := p.sourceValue(strings.Trim(dst, "[]"))
		if err != nil {
			return false, err
		}
		p.memory[addr] = val
		return p.checkWatchpoints(uint64(addr)), nil
	}
	if _, ok := p.regs[dst]; !ok {
		return false, fmt.Errorf("no register %s", dst)
	}
	p.regs[dst] = val
	return false, nil
}

func (p *Process) sourceValue(operand string) (int64, error) {
	if strings.HasPrefix(operand, "[") {
		addr, err := p.sourceValue(strings.Trim(operand, "[]"))
		if err != nil {
			return 0, err
		}
		return p.memory[addr], nil
	}
	if val, ok := p.regs[operand]; ok {
		return val, nil
	}
	val, err := strconv.ParseInt(operand, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed operand '%s'", operand)
	}
	return val, nil
}

// checkWatchpoints stops execution when an active debug register covers
// the written address, recording the responsible register in bits 8..15
// of the control register.
func (p *Process) checkWatchpoints(addr uint64) bool {
	control := p.dregs[fmt.Sprintf("D%d", debugRegs)]
	for i := 0; i < debugRegs; i++ {
		if control&(1<<i) == 0 {
			continue
		}
		if p.dregs[fmt.Sprintf("D%d", i)] != addr {
			continue
		}
		control = (control &^ 0xFF00) | (1<<i)<<8
		p.dregs[fmt.Sprintf("D%d", debugRegs)] = control
		p.reason = debugger.StopHardwareBreak
		return true
	}
	return false
}

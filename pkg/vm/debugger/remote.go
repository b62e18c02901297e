package debugger

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/dmolina/escarabajo/pkg/utils"
)

// RemoteProcess talks to the simulator's debug channel: a line oriented
// reliable byte stream, TCP by default. Every request starts with a single
// verb line (WRITE_TEXT is followed by one line per instruction);
// responses carry zero or more payload lines and end with an OK
// terminator. The channel is synchronous, one outstanding request at a
// time.
type RemoteProcess struct {
	conn io.ReadWriteCloser
	r    *bufio.Reader

	reason    StopReason
	hasReason bool
}

// Connect dials the simulator debug port and returns a process handle.
func Connect(address string) (*RemoteProcess, error) {
	conn, err := net.Dial("tcp", address)
	if err != nil {
		return nil, utils.MakeError(ErrDebugger, "connecting to target at %s: %v", address, err)
	}
	return NewRemoteProcess(conn), nil
}

// NewRemoteProcess wraps an established debug channel.
func NewRemoteProcess(conn io.ReadWriteCloser) *RemoteProcess {
	return &RemoteProcess{conn: conn, r: bufio.NewReader(conn)}
}

func (p *RemoteProcess) send(format string, args ...any) error {
	if _, err := fmt.Fprintf(p.conn, format+"\n", args...); err != nil {
		return utils.MakeError(ErrDebugger, "transport write: %v", err)
	}
	return nil
}

func (p *RemoteProcess) readLine() (string, error) {
	line, err := p.r.ReadString('\n')
	if err != nil {
		return "", utils.MakeError(ErrDebugger, "transport read: %v", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// readPayload collects response lines until the OK terminator.
func (p *RemoteProcess) readPayload() ([]string, error) {
	var payload []string
	for {
		line, err := p.readLine()
		if err != nil {
			return nil, err
		}
		if line == "OK" {
			return payload, nil
		}
		if strings.HasPrefix(line, "ERR") {
			return nil, utils.MakeError(ErrDebugger, "target error: %s", line)
		}
		payload = append(payload, line)
	}
}

func (p *RemoteProcess) expectOK() error {
	payload, err := p.readPayload()
	if err != nil {
		return err
	}
	if len(payload) != 0 {
		return utils.MakeError(ErrDebugger, "unexpected payload: %v", payload)
	}
	return nil
}

// ReadText reads count instructions starting at address.
func (p *RemoteProcess) ReadText(address uint64, count int) ([]string, error) {
	if err := p.send("READ_TEXT %d %d", address, count); err != nil {
		return nil, err
	}
	payload, err := p.readPayload()
	if err != nil {
		return nil, err
	}
	if len(payload) != count {
		return nil, utils.MakeError(ErrDebugger,
			"READ_TEXT returned %d instructions, expected %d", len(payload), count)
	}
	return payload, nil
}

// WriteText rewrites the instructions starting at address.
func (p *RemoteProcess) WriteText(address uint64, text []string) error {
	if err := p.send("WRITE_TEXT %d %d", address, len(text)); err != nil {
		return err
	}
	for _, ins := range text {
		if err := p.send("%s", ins); err != nil {
			return err
		}
	}
	return p.expectOK()
}

// TextSize returns the number of instructions in the text segment.
func (p *RemoteProcess) TextSize() (uint64, error) {
	if err := p.send("TEXT_SIZE"); err != nil {
		return 0, err
	}
	payload, err := p.readPayload()
	if err != nil {
		return 0, err
	}
	if len(payload) != 1 {
		return 0, utils.MakeError(ErrDebugger, "malformed TEXT_SIZE response: %v", payload)
	}
	size, err := strconv.ParseUint(payload[0], 10, 64)
	if err != nil {
		return 0, utils.MakeError(ErrDebugger, "malformed TEXT_SIZE response: %v", payload)
	}
	return size, nil
}

func parseRegisterLines[T any](payload []string, parse func(string) (T, error)) (map[string]T, error) {
	regs := make(map[string]T, len(payload))
	for _, line := range payload {
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, utils.MakeError(ErrDebugger, "malformed register line '%s'", line)
		}
		val, err := parse(strings.TrimSpace(value))
		if err != nil {
			return nil, utils.MakeError(ErrDebugger, "malformed register line '%s'", line)
		}
		regs[strings.TrimSpace(name)] = val
	}
	return regs, nil
}

// FetchRegisters reads the whole normal register set.
func (p *RemoteProcess) FetchRegisters() (map[string]int64, error) {
	if err := p.send("REG_READ_ALL"); err != nil {
		return nil, err
	}
	payload, err := p.readPayload()
	if err != nil {
		return nil, err
	}
	return parseRegisterLines(payload, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

// SetRegisters writes the whole normal register set.
func (p *RemoteProcess) SetRegisters(regs map[string]int64) error {
	for name, value := range regs {
		if err := p.send("REG_WRITE %s %d", name, value); err != nil {
			return err
		}
		if err := p.expectOK(); err != nil {
			return err
		}
	}
	return nil
}

// FetchFloatRegisters reads the float register set.
func (p *RemoteProcess) FetchFloatRegisters() (map[string]float64, error) {
	if err := p.send("FREG_READ_ALL"); err != nil {
		return nil, err
	}
	payload, err := p.readPayload()
	if err != nil {
		return nil, err
	}
	return parseRegisterLines(payload, func(s string) (float64, error) {
		return strconv.ParseFloat(s, 64)
	})
}

// SetFloatRegisters writes the float register set.
func (p *RemoteProcess) SetFloatRegisters(regs map[string]float64) error {
	for name, value := range regs {
		if err := p.send("FREG_WRITE %s %v", name, value); err != nil {
			return err
		}
		if err := p.expectOK(); err != nil {
			return err
		}
	}
	return nil
}

// FetchDebugRegisters reads the debug register set.
func (p *RemoteProcess) FetchDebugRegisters() (map[string]uint64, error) {
	if err := p.send("DBG_REG_READ"); err != nil {
		return nil, err
	}
	payload, err := p.readPayload()
	if err != nil {
		return nil, err
	}
	return parseRegisterLines(payload, func(s string) (uint64, error) {
		return strconv.ParseUint(s, 10, 64)
	})
}

// SetDebugRegisters writes the debug register set.
func (p *RemoteProcess) SetDebugRegisters(regs map[string]uint64) error {
	for name, value := range regs {
		if err := p.send("DBG_REG_WRITE %s %d", name, value); err != nil {
			return err
		}
		if err := p.expectOK(); err != nil {
			return err
		}
	}
	return nil
}

// ReadMemory reads count words starting at address.
func (p *RemoteProcess) ReadMemory(address uint64, count int) ([]int64, error) {
	if err := p.send("MEM_READ %d %d", address, count); err != nil {
		return nil, err
	}
	payload, err := p.readPayload()
	if err != nil {
		return nil, err
	}
	if len(payload) != count {
		return nil, utils.MakeError(ErrDebugger,
			"MEM_READ returned %d words, expected %d", len(payload), count)
	}
	values := make([]int64, count)
	for i, line := range payload {
		val, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil {
			return nil, utils.MakeError(ErrDebugger, "malformed MEM_READ word '%s'", line)
		}
		values[i] = val
	}
	return values, nil
}

// WriteMemory writes words starting at address.
func (p *RemoteProcess) WriteMemory(address uint64, data []int64) error {
	words := make([]string, len(data))
	for i, v := range data {
		words[i] = strconv.FormatInt(v, 10)
	}
	if err := p.send("MEM_WRITE %d %s", address, strings.Join(words, " ")); err != nil {
		return err
	}
	return p.expectOK()
}

var reasonCodes = map[string]StopReason{
	"BP":         StopSoftwareBreakpointHit,
	"HW_BRK":     StopHardwareBreak,
	"STEP":       StopSinglestep,
	"EXEC_BEGIN": StopExecutionBegin,
	"EXEC_END":   StopExecutionEnd,
}

// Wait blocks until the target stops and records the stop reason.
func (p *RemoteProcess) Wait() error {
	if err := p.send("WAIT"); err != nil {
		return err
	}
	payload, err := p.readPayload()
	if err != nil {
		return err
	}
	if len(payload) != 1 || !strings.HasPrefix(payload[0], "STOPPED ") {
		return utils.MakeError(ErrDebugger, "malformed WAIT response: %v", payload)
	}
	code := strings.TrimPrefix(payload[0], "STOPPED ")
	reason, ok := reasonCodes[code]
	if !ok {
		return utils.MakeError(ErrDebugger, "unknown stop reason code '%s'", code)
	}
	p.reason = reason
	p.hasReason = true
	return nil
}

// GetReason reports why the target last stopped.
func (p *RemoteProcess) GetReason() (StopReason, error) {
	if !p.hasReason {
		return 0, utils.MakeError(ErrDebugger, "target has not stopped yet")
	}
	return p.reason, nil
}

// ResumeExecution resumes the target.
func (p *RemoteProcess) ResumeExecution() error {
	if err := p.send("RESUME"); err != nil {
		return err
	}
	return p.expectOK()
}

// Singlestep advances the target by one instruction.
func (p *RemoteProcess) Singlestep() error {
	if err := p.send("STEP"); err != nil {
		return err
	}
	return p.expectOK()
}

// Terminate ends the target process and closes the channel.
func (p *RemoteProcess) Terminate() error {
	if err := p.send("TERMINATE"); err != nil {
		p.conn.Close()
		return err
	}
	err := p.expectOK()
	if closeErr := p.conn.Close(); err == nil && closeErr != nil {
		err = utils.MakeError(ErrDebugger, "closing debug channel: %v", closeErr)
	}
	return err
}

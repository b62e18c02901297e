package debugtest

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dmolina/escarabajo/pkg/vm/debugger"
)

var reasonCodes = map[debugger.StopReason]string{
	debugger.StopSoftwareBreakpointHit: "BP",
	debugger.StopHardwareBreak:         "HW_BRK",
	debugger.StopSinglestep:            "STEP",
	debugger.StopExecutionBegin:        "EXEC_BEGIN",
	debugger.StopExecutionEnd:          "EXEC_END",
}

// Serve answers the debug channel protocol on conn, backed by the
// simulated process. It returns when the client terminates the session or
// the connection breaks. Tests connect a debugger.RemoteProcess to the
// other end of the pipe.
func Serve(conn io.ReadWriteCloser, process *Process) error {
	defer conn.Close()
	r := bufio.NewReader(conn)

	reply := func(payload ...string) error {
		for _, line := range payload {
			if _, err := fmt.Fprintln(conn, line); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(conn, "OK")
		return err
	}
	replyErr := func(err error) error {
		_, werr := fmt.Fprintf(conn, "ERR %v\n", err)
		return werr
	}

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "READ_TEXT":
			addr, _ := strconv.ParseUint(fields[1], 10, 64)
			count, _ := strconv.Atoi(fields[2])
			text, err := process.ReadText(addr, count)
			if err != nil {
				if err := replyErr(err); err != nil {
					return err
				}
				continue
			}
			if err := reply(text...); err != nil {
				return err
			}
		case "WRITE_TEXT":
			addr, _ := strconv.ParseUint(fields[1], 10, 64)
			count, _ := strconv.Atoi(fields[2])
			text := make([]string, count)
			for i := range text {
				ins, err := r.ReadString('\n')
				if err != nil {
					return err
				}
				text[i] = strings.TrimRight(ins, "\r\n")
			}
			if err := process.WriteText(addr, text); err != nil {
				if err := replyErr(err); err != nil {
					return err
				}
				continue
			}
			if err := reply(); err != nil {
				return err
			}
		case "TEXT_SIZE":
			size, _ := process.TextSize()
			if err := reply(strconv.FormatUint(size, 10)); err != nil {
				return err
			}
		case "REG_READ_ALL":
			regs, _ := process.FetchRegisters()
			var payload []string
			for name, val := range regs {
				payload = append(payload, fmt.Sprintf("%s:%d", name, val))
			}
			if err := reply(payload...); err != nil {
				return err
			}
		case "REG_WRITE":
			val, _ := strconv.ParseInt(fields[2], 10, 64)
			regs, _ := process.FetchRegisters()
			regs[fields[1]] = val
			if err := process.SetRegisters(regs); err != nil {
				if err := replyErr(err); err != nil {
					return err
				}
				continue
			}
			if err := reply(); err != nil {
				return err
			}
		case "FREG_READ_ALL":
			fregs, _ := process.FetchFloatRegisters()
			var payload []string
			for name, val := range fregs {
				payload = append(payload, fmt.Sprintf("%s:%v", name, val))
			}
			if err := reply(payload...); err != nil {
				return err
			}
		case "FREG_WRITE":
			val, _ := strconv.ParseFloat(fields[2], 64)
			fregs, _ := process.FetchFloatRegisters()
			fregs[fields[1]] = val
			process.SetFloatRegisters(fregs)
			if err := reply(); err != nil {
				return err
			}
		case "DBG_REG_READ":
			dregs, _ := process.FetchDebugRegisters()
			var payload []string
			for name, val := range dregs {
				payload = append(payload, fmt.Sprintf("%s:%d", name, val))
			}
			if err := reply(payload...); err != nil {
				return err
			}
		case "DBG_REG_WRITE":
			val, _ := strconv.ParseUint(fields[2], 10, 64)
			dregs, _ := process.FetchDebugRegisters()
			dregs[fields[1]] = val
			process.SetDebugRegisters(dregs)
			if err := reply(); err != nil {
				return err
			}
		case "MEM_READ":
			addr, _ := strconv.ParseUint(fields[1], 10, 64)
			count, _ := strconv.Atoi(fields[2])
			words, err := process.ReadMemory(addr, count)
			if err != nil {
				if err := replyErr(err); err != nil {
					return err
				}
				continue
			}
			payload := make([]string, len(words))
			for i, w := range words {
				payload[i] = strconv.FormatInt(w, 10)
			}
			if err := reply(payload...); err != nil {
				return err
			}
		case "MEM_WRITE":
			addr, _ := strconv.ParseUint(fields[1], 10, 64)
			words := make([]int64, len(fields)-2)
			for i, f := range fields[2:] {
				words[i], _ = strconv.ParseInt(f, 10, 64)
			}
			if err := process.WriteMemory(addr, words); err != nil {
				if err := replyErr(err); err != nil {
					return err
				}
				continue
			}
			if err := reply(); err != nil {
				return err
			}
		case "WAIT":
			process.Wait()
			reason, _ := process.GetReason()
			if err := reply("STOPPED " + reasonCodes[reason]); err != nil {
				return err
			}
		case "RESUME":
			if err := process.ResumeExecution(); err != nil {
				if err := replyErr(err); err != nil {
					return err
				}
				continue
			}
			if err := reply(); err != nil {
				return err
			}
		case "STEP":
			if err := process.Singlestep(); err != nil {
				if err := replyErr(err); err != nil {
					return err
				}
				continue
			}
			if err := reply(); err != nil {
				return err
			}
		case "TERMINATE":
			process.Terminate()
			return reply()
		default:
			if err := replyErr(fmt.Errorf("unknown command '%s'", fields[0])); err != nil {
				return err
			}
		}
	}
}

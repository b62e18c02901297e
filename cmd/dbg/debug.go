// Package dbg implements the interactive debugger front-end. It is a thin
// consumer of the source controller; every debugging decision lives in
// pkg/vm/debugger and pkg/vm/debugger/source.
package dbg

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dmolina/escarabajo/pkg/vm/asm"
	"github.com/dmolina/escarabajo/pkg/vm/debugger"
	"github.com/dmolina/escarabajo/pkg/vm/debuginfo"
	"github.com/dmolina/escarabajo/pkg/vm/debugger/source"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	colorAddr    = color.New(color.FgCyan)
	colorReg     = color.New(color.FgGreen)
	colorValue   = color.New(color.FgWhite, color.Bold)
	colorPrompt  = color.New(color.FgBlue, color.Bold)
	colorError   = color.New(color.FgRed, color.Bold)
	colorEvent   = color.New(color.FgYellow, color.Bold)
	colorSource  = color.New(color.FgHiWhite)
	colorCurrent = color.New(color.FgGreen, color.Bold)
)

var targetAddress string

// DebugCmd attaches to a running target and starts the interactive
// session.
var DebugCmd = &cobra.Command{
	Use:   "debug <program.e86>",
	Short: "Attach to a running E86 target and debug it at the source level",
	Long: `Attach to a running E86 target over its debug channel.

The program argument is the assembly file the target runs; its debugging
information is read from the .debug_line and .debug_info sections of the
companion file named after the program path with .dbg appended
(<program.e86>.dbg) when present.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDebug(args[0], viper.GetString("address"))
	},
}

func init() {
	DebugCmd.Flags().StringVar(&targetAddress, "address", "localhost:9110", "debug channel address of the target")
	viper.BindPFlag("address", DebugCmd.Flags().Lookup("address"))
}

// loadSource builds the source controller from the program file and its
// companion debug info file.
func loadSource(programPath string) (*source.Source, error) {
	src := source.New()

	content, err := os.ReadFile(programPath)
	if err != nil {
		return nil, err
	}
	src.RegisterSourceFile(source.NewSourceFile(string(content)))

	dbgPath := programPath + ".dbg"
	f, err := os.Open(dbgPath)
	if err != nil {
		if os.IsNotExist(err) {
			return src, nil
		}
		return nil, err
	}
	defer f.Close()

	parser, err := debuginfo.NewParser(f)
	if err != nil {
		return nil, err
	}
	info, err := parser.Parse()
	if err != nil {
		return nil, err
	}
	if info.LineMapping != nil {
		src.RegisterLineMapping(info.LineMapping)
	}
	if info.TopDIE != nil {
		src.RegisterDebuggingInformation(info.TopDIE)
	}
	return src, nil
}

func runDebug(programPath, address string) error {
	// Parse the program up front so malformed input fails before we
	// touch the target.
	pf, err := os.Open(programPath)
	if err != nil {
		return err
	}
	parser, err := asm.NewParser(pf)
	if err == nil {
		_, err = parser.Parse()
	}
	pf.Close()
	if err != nil {
		return err
	}

	src, err := loadSource(programPath)
	if err != nil {
		return err
	}

	process, err := debugger.Connect(address)
	if err != nil {
		return err
	}
	native := debugger.NewNative(process)

	fmt.Printf("Attached to target at %s\n", address)
	repl(native, src)
	return nil
}

func reportEvent(native *debugger.Native, src *source.Source, event debugger.DebugEvent) {
	colorEvent.Printf("%v\n", event)
	if _, done := event.(debugger.ExecutionEnd); done {
		return
	}
	ip, err := native.GetIP()
	if err != nil {
		return
	}
	if line, ok := src.AddrToLine(ip); ok {
		if text, ok := src.GetLine(line); ok {
			colorCurrent.Printf("%4d | ", line)
			colorSource.Println(text)
		}
	}
}

func repl(native *debugger.Native, src *source.Source) {
	scanner := bufio.NewScanner(os.Stdin)
	for {
		colorPrompt.Print("(esc) ")
		if !scanner.Scan() {
			break
		}
		words := strings.Fields(scanner.Text())
		if len(words) == 0 {
			continue
		}
		if words[0] == "quit" || words[0] == "exit" {
			if native.Active() {
				native.Terminate()
			}
			return
		}
		if err := dispatch(native, src, words[0], words[1:]); err != nil {
			colorError.Printf("error: %v\n", err)
		}
	}
}

func dispatch(native *debugger.Native, src *source.Source, command string, args []string) error {
	switch command {
	case "continue", "c":
		if err := native.ContinueExecution(); err != nil {
			return err
		}
		event, err := native.WaitForDebugEvent()
		if err != nil {
			return err
		}
		reportEvent(native, src, event)
		return nil

	case "step", "s":
		event, err := src.StepIn(native)
		if err != nil {
			return err
		}
		reportEvent(native, src, event)
		return nil

	case "next", "n":
		event, err := src.StepOver(native)
		if err != nil {
			return err
		}
		reportEvent(native, src, event)
		return nil

	case "stepi", "si":
		event, err := native.PerformSingleStep()
		if err != nil {
			return err
		}
		reportEvent(native, src, event)
		return nil

	case "break", "b":
		if len(args) != 1 {
			return fmt.Errorf("usage: break <line|function>")
		}
		addr, err := src.GetAddressFromString(args[0], false)
		if err != nil {
			return err
		}
		if err := native.SetBreakpoint(addr); err != nil {
			return err
		}
		fmt.Printf("Breakpoint set at address %d\n", addr)
		return nil

	case "breakpoint", "ba":
		if len(args) != 1 {
			return fmt.Errorf("usage: breakpoint <address>")
		}
		addr, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		if err := native.SetBreakpoint(addr); err != nil {
			return err
		}
		fmt.Printf("Breakpoint set at address %d\n", addr)
		return nil

	case "delete", "d":
		if len(args) != 1 {
			return fmt.Errorf("usage: delete <line>")
		}
		line, err := strconv.Atoi(args[0])
		if err != nil {
			return err
		}
		addr, err := src.UnsetSourceSoftwareBreakpoint(native, line)
		if err != nil {
			return err
		}
		fmt.Printf("Breakpoint removed from address %d\n", addr)
		return nil

	case "watch", "w":
		if len(args) != 1 {
			return fmt.Errorf("usage: watch <address>")
		}
		addr, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		return native.SetWatchpointWrite(addr)

	case "unwatch":
		if len(args) != 1 {
			return fmt.Errorf("usage: unwatch <address>")
		}
		addr, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return err
		}
		return native.RemoveWatchpoint(addr)

	case "registers", "regs":
		regs, err := native.GetRegisters()
		if err != nil {
			return err
		}
		names := make([]string, 0, len(regs))
		for name := range regs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			colorReg.Printf("%-4s", name)
			colorValue.Printf(" %d\n", regs[name])
		}
		return nil

	case "print", "p":
		if len(args) == 0 {
			return fmt.Errorf("usage: print <expression>")
		}
		value, idx, err := src.EvaluateExpression(native, strings.Join(args, " "))
		if err != nil {
			return err
		}
		colorValue.Printf("$%d = %d\n", idx, value)
		return nil

	case "vars":
		ip, err := native.GetIP()
		if err != nil {
			return err
		}
		for _, name := range src.GetScopedVariables(ip) {
			loc, err := src.GetVariableLocation(native, name)
			if err != nil {
				continue
			}
			typ, err := src.GetVariableTypeInformation(native, name)
			typeName := "?"
			if err == nil {
				typeName = typ.String()
			}
			fmt.Printf("%s %s @ %v\n", typeName, name, loc)
		}
		return nil

	case "list", "l":
		ip, err := native.GetIP()
		if err != nil {
			return err
		}
		line, ok := src.AddrToLine(ip)
		if !ok {
			return fmt.Errorf("no source line maps to address %d", ip)
		}
		begin := line - 3
		if begin < 0 {
			begin = 0
		}
		for i, text := range src.GetLinesRange(begin, 7) {
			n := begin + i
			if n == line {
				colorCurrent.Printf("%4d > ", n)
			} else {
				colorAddr.Printf("%4d | ", n)
			}
			colorSource.Println(text)
		}
		return nil

	default:
		return fmt.Errorf("unknown command '%s'", command)
	}
}

package source

import (
	"sort"
	"strconv"

	"github.com/dmolina/escarabajo/pkg/utils"
	"github.com/dmolina/escarabajo/pkg/vm/debugger"
	"github.com/dmolina/escarabajo/pkg/vm/debuginfo"
)

// Source handles most logic behind source level debugging: line
// breakpoints, scope aware variable resolution, type information and
// source level stepping. Debug information is optional; operations that
// need an absent piece fail with a debugger error.
type Source struct {
	lineMapping *debuginfo.LineMapping
	topDIE      *debuginfo.DIE
	file        *SourceFile

	// Reconstructed types memoized by DIE id.
	types map[int]Type
	// Values of previously evaluated expressions, re-referenced by index.
	evaluated []int64
}

// New creates an empty source controller.
func New() *Source {
	return &Source{types: make(map[int]Type)}
}

// RegisterLineMapping installs the line to address mapping.
func (s *Source) RegisterLineMapping(mapping *debuginfo.LineMapping) {
	s.lineMapping = mapping
}

// RegisterDebuggingInformation installs the top DIE of the debug info
// tree.
func (s *Source) RegisterDebuggingInformation(topDIE *debuginfo.DIE) {
	s.topDIE = topDIE
}

// RegisterSourceFile installs the program source text.
func (s *Source) RegisterSourceFile(file *SourceFile) {
	s.file = file
}

// --- Line mapping ---

// AddrToLine returns the latest source line that maps to the given
// address.
func (s *Source) AddrToLine(addr uint64) (int, bool) {
	if s.lineMapping == nil {
		return 0, false
	}
	return utils.Max(s.lineMapping.Lines(addr))
}

// LineToAddr returns the address the given source line maps to.
func (s *Source) LineToAddr(line int) (uint64, bool) {
	if s.lineMapping == nil {
		return 0, false
	}
	return s.lineMapping.Address(line)
}

func (s *Source) lineAddress(line int) (uint64, error) {
	if s.lineMapping == nil {
		return 0, utils.MakeError(debugger.ErrDebugger, "no debug info for line mapping")
	}
	addr, ok := s.lineMapping.Address(line)
	if !ok {
		return 0, utils.MakeError(debugger.ErrDebugger, "no debug info for line %d", line)
	}
	return addr, nil
}

// SetSourceSoftwareBreakpoint sets a breakpoint at the given source line
// and returns the address it landed on.
func (s *Source) SetSourceSoftwareBreakpoint(native *debugger.Native, line int) (uint64, error) {
	addr, err := s.lineAddress(line)
	if err != nil {
		return 0, err
	}
	if err := native.SetBreakpoint(addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// UnsetSourceSoftwareBreakpoint removes the breakpoint at the given
// source line and returns the address where it was.
func (s *Source) UnsetSourceSoftwareBreakpoint(native *debugger.Native, line int) (uint64, error) {
	addr, err := s.lineAddress(line)
	if err != nil {
		return 0, err
	}
	if err := native.UnsetBreakpoint(addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// EnableSourceSoftwareBreakpoint enables the breakpoint at the given
// source line.
func (s *Source) EnableSourceSoftwareBreakpoint(native *debugger.Native, line int) (uint64, error) {
	addr, err := s.lineAddress(line)
	if err != nil {
		return 0, err
	}
	if err := native.EnableBreakpoint(addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// DisableSourceSoftwareBreakpoint disables the breakpoint at the given
// source line.
func (s *Source) DisableSourceSoftwareBreakpoint(native *debugger.Native, line int) (uint64, error) {
	addr, err := s.lineAddress(line)
	if err != nil {
		return 0, err
	}
	if err := native.DisableBreakpoint(addr); err != nil {
		return 0, err
	}
	return addr, nil
}

// --- Functions ---

// GetFunctionNameByAddress returns the function that owns the instruction
// at the given address. Nested functions are not supported.
func (s *Source) GetFunctionNameByAddress(address uint64) (string, bool) {
	if s.topDIE == nil {
		return "", false
	}
	for _, die := range s.topDIE.Children {
		if die.Tag != debuginfo.TagFunction {
			continue
		}
		begin, end := die.Attrs.BeginAddr, die.Attrs.EndAddr
		if begin == nil || end == nil || address < *begin || address >= *end {
			continue
		}
		if die.Attrs.Name != nil {
			return *die.Attrs.Name, true
		}
	}
	return "", false
}

// GetFunctionAddrByName returns the address range [begin, end) of the
// named top-level function.
func (s *Source) GetFunctionAddrByName(name string) (uint64, uint64, bool) {
	if s.topDIE == nil {
		return 0, 0, false
	}
	for _, die := range s.topDIE.Children {
		if die.Tag != debuginfo.TagFunction {
			continue
		}
		if die.Attrs.Name == nil || *die.Attrs.Name != name {
			continue
		}
		if die.Attrs.BeginAddr == nil || die.Attrs.EndAddr == nil {
			return 0, 0, false
		}
		return *die.Attrs.BeginAddr, *die.Attrs.EndAddr, true
	}
	return 0, 0, false
}

// GetAddressFromString resolves a breakpoint target: a number is a source
// line, anything else a function name whose prologue address is returned.
// With startAtOne the line is lowered by one before the lookup.
func (s *Source) GetAddressFromString(target string, startAtOne bool) (uint64, error) {
	if line, err := strconv.Atoi(target); err == nil {
		if startAtOne {
			line -= 1
		}
		return s.lineAddress(line)
	}
	begin, _, ok := s.GetFunctionAddrByName(target)
	if !ok {
		return 0, utils.MakeError(debugger.ErrDebugger, "no function named '%s'", target)
	}
	return begin, nil
}

// --- Variables ---

// findVariables collects the variable DIEs visible at the given address.
// Scopes and functions are entered only when the address lies in their
// range, and inner definitions overwrite outer ones, so shadowing falls
// out of the traversal order.
func findVariables(address uint64, die *debuginfo.DIE, result map[string]*debuginfo.DIE) {
	if die.Tag == debuginfo.TagVariable {
		if die.Attrs.Name != nil {
			result[*die.Attrs.Name] = die
		}
		return
	}
	if die.Tag == debuginfo.TagScope || die.Tag == debuginfo.TagFunction {
		begin, end := die.Attrs.BeginAddr, die.Attrs.EndAddr
		if begin == nil || end == nil || address < *begin || address >= *end {
			return
		}
	}
	for _, child := range die.Children {
		findVariables(address, child, result)
	}
}

// GetActiveVariables returns the variable DIEs in scope at the given
// address, keyed by name.
func (s *Source) GetActiveVariables(address uint64) map[string]*debuginfo.DIE {
	result := make(map[string]*debuginfo.DIE)
	if s.topDIE != nil {
		findVariables(address, s.topDIE, result)
	}
	return result
}

// GetScopedVariables returns the sorted names of variables in scope at
// the given address.
func (s *Source) GetScopedVariables(address uint64) []string {
	names := utils.Keys(s.GetActiveVariables(address))
	sort.Strings(names)
	return names
}

func (s *Source) getVariableDie(native *debugger.Native, name string) (*debuginfo.DIE, error) {
	if s.topDIE == nil {
		return nil, utils.MakeError(debugger.ErrDebugger, "no debugging information registered")
	}
	ip, err := native.GetIP()
	if err != nil {
		return nil, err
	}
	die, ok := s.GetActiveVariables(ip)[name]
	if !ok {
		return nil, utils.MakeError(debugger.ErrDebugger, "no variable '%s' in scope", name)
	}
	return die, nil
}

// GetVariableLocation interprets the location expression of the named
// variable at the current IP. Complicated location expressions can make
// several calls into the debugged process.
func (s *Source) GetVariableLocation(native *debugger.Native, name string) (Location, error) {
	die, err := s.getVariableDie(native, name)
	if err != nil {
		return nil, err
	}
	if len(die.Attrs.LocationExpr) == 0 {
		return nil, utils.MakeError(debugger.ErrDebugger, "variable '%s' has no location", name)
	}
	return InterpretLocation(die.Attrs.LocationExpr, native, "")
}

// GetVariableTypeInformation reconstructs the type of the named variable
// at the current IP.
func (s *Source) GetVariableTypeInformation(native *debugger.Native, name string) (Type, error) {
	die, err := s.getVariableDie(native, name)
	if err != nil {
		return nil, err
	}
	if die.Attrs.Type == nil {
		return nil, utils.MakeError(debugger.ErrDebugger, "variable '%s' has no type information", name)
	}
	typ, ok := s.reconstructType(*die.Attrs.Type)
	if !ok {
		return nil, utils.MakeError(debugger.ErrDebugger,
			"no information about type with id %d", *die.Attrs.Type)
	}
	return typ, nil
}

// GetType returns the reconstructed type for a DIE id.
func (s *Source) GetType(id int) (Type, bool) {
	if s.topDIE == nil {
		return nil, false
	}
	return s.reconstructType(id)
}

// --- Stepping ---

// StepIn performs a source level step in: machine steps until the current
// address has a line mapping entry or something other than a plain step
// happens. The first step is breakpoint aware so a breakpoint on the
// current line is stepped over; later steps are raw so user breakpoints
// on the path do stop the walk.
func (s *Source) StepIn(native *debugger.Native) (debugger.DebugEvent, error) {
	event, err := native.PerformSingleStep()
	if err != nil {
		return nil, err
	}
	for {
		if _, isStep := event.(debugger.Singlestep); !isStep {
			return event, nil
		}
		ip, err := native.GetIP()
		if err != nil {
			return nil, err
		}
		if _, mapped := s.AddrToLine(ip); mapped {
			return event, nil
		}
		event, err = native.DoRawSingleStep()
		if err != nil {
			return nil, err
		}
	}
}

// StepOver performs a source level step over: like StepIn, but calls are
// not descended into.
func (s *Source) StepOver(native *debugger.Native) (debugger.DebugEvent, error) {
	event, err := native.PerformStepOver(true)
	if err != nil {
		return nil, err
	}
	for {
		if _, isStep := event.(debugger.Singlestep); !isStep {
			return event, nil
		}
		ip, err := native.GetIP()
		if err != nil {
			return nil, err
		}
		if _, mapped := s.AddrToLine(ip); mapped {
			return event, nil
		}
		event, err = native.PerformStepOver(false)
		if err != nil {
			return nil, err
		}
	}
}

// --- Source text ---

// GetLine returns one line of the program source, if available.
func (s *Source) GetLine(idx int) (string, bool) {
	if s.file == nil {
		return "", false
	}
	return s.file.Line(idx)
}

// GetLinesRange returns up to amount source lines starting at idx.
func (s *Source) GetLinesRange(idx, amount int) []string {
	if s.file == nil {
		return nil
	}
	return s.file.LinesRange(idx, amount)
}

// --- Expressions ---

// EvaluateExpression parses and evaluates a debugger expression against
// the live target, stores the result in the expression history and
// returns the value together with its history index.
func (s *Source) EvaluateExpression(native *debugger.Native, expression string) (int64, int, error) {
	eval := newEvaluator(native, s)
	value, err := eval.Eval(expression)
	if err != nil {
		return 0, 0, err
	}
	s.evaluated = append(s.evaluated, value)
	return value, len(s.evaluated) - 1, nil
}

// EvaluatedExpression returns the value of a previously evaluated
// expression by history index.
func (s *Source) EvaluatedExpression(idx int) (int64, bool) {
	if idx < 0 || idx >= len(s.evaluated) {
		return 0, false
	}
	return s.evaluated[idx], true
}

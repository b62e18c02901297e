package source

import (
	"testing"

	"github.com/dmolina/escarabajo/pkg/vm/debugger"
	"github.com/dmolina/escarabajo/pkg/vm/debugger/debugtest"
	"github.com/dmolina/escarabajo/pkg/vm/debuginfo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mainWithScopeInfo describes fn main over [0, 10) with a nested scope
// [4, 8) declaring x at BP-8; an outer x lives in R1.
func mainWithScopeInfo() *debuginfo.DIE {
	return &debuginfo.DIE{
		Tag: debuginfo.TagCompileUnit,
		Children: []*debuginfo.DIE{
			{
				Tag: debuginfo.TagFunction,
				Attrs: debuginfo.Attributes{
					ID:        intPtr(1),
					Name:      strPtr("main"),
					BeginAddr: u64Ptr(0),
					EndAddr:   u64Ptr(10),
				},
				Children: []*debuginfo.DIE{
					{
						Tag: debuginfo.TagVariable,
						Attrs: debuginfo.Attributes{
							ID:           intPtr(2),
							Name:         strPtr("x"),
							Type:         intPtr(10),
							LocationExpr: []debuginfo.LocOp{debuginfo.PushRegister{Name: "R1"}},
						},
					},
					{
						Tag: debuginfo.TagScope,
						Attrs: debuginfo.Attributes{
							ID:        intPtr(3),
							BeginAddr: u64Ptr(4),
							EndAddr:   u64Ptr(8),
						},
						Children: []*debuginfo.DIE{
							{
								Tag: debuginfo.TagVariable,
								Attrs: debuginfo.Attributes{
									ID:           intPtr(4),
									Name:         strPtr("x"),
									Type:         intPtr(10),
									LocationExpr: []debuginfo.LocOp{debuginfo.PushFrameBaseOffset{Offset: -8}},
								},
							},
						},
					},
				},
			},
			{
				Tag: debuginfo.TagPrimitiveType,
				Attrs: debuginfo.Attributes{
					ID:   intPtr(10),
					Name: strPtr("signed_int"),
					Size: u64Ptr(1),
				},
			},
		},
	}
}

func nopProgram(n int) []string {
	text := make([]string, n)
	for i := range text {
		text[i] = "NOP"
	}
	text[n-1] = "HALT"
	return text
}

func newSourceTarget(t *testing.T, text []string) (*debugtest.Process, *debugger.Native, *Source) {
	t.Helper()
	process := debugtest.New(text)
	native := debugger.NewNative(process)
	src := New()
	return process, native, src
}

func TestAddrToLine(t *testing.T) {
	src := New()
	src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{1: 0, 2: 2, 3: 5}))

	t.Run("unmapped address", func(t *testing.T) {
		_, ok := src.AddrToLine(3)
		assert.False(t, ok)
	})

	t.Run("mapped address", func(t *testing.T) {
		line, ok := src.AddrToLine(2)
		require.True(t, ok)
		assert.Equal(t, 2, line)
	})

	t.Run("ties break high", func(t *testing.T) {
		src := New()
		src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{4: 7, 5: 7}))
		line, ok := src.AddrToLine(7)
		require.True(t, ok)
		assert.Equal(t, 5, line)
	})

	t.Run("no mapping registered", func(t *testing.T) {
		src := New()
		_, ok := src.AddrToLine(0)
		assert.False(t, ok)
	})
}

func TestLineToAddr(t *testing.T) {
	src := New()
	src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{1: 0, 2: 2}))

	addr, ok := src.LineToAddr(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), addr)

	_, ok = src.LineToAddr(7)
	assert.False(t, ok)
}

func TestSourceBreakpoints(t *testing.T) {
	process, native, src := newSourceTarget(t, nopProgram(6))
	src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{1: 0, 2: 2, 3: 5}))

	addr, err := src.SetSourceSoftwareBreakpoint(native, 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), addr)
	assert.Equal(t, "BKPT", process.RawText(2))

	_, err = src.DisableSourceSoftwareBreakpoint(native, 2)
	require.NoError(t, err)
	assert.Equal(t, "NOP", process.RawText(2))

	_, err = src.EnableSourceSoftwareBreakpoint(native, 2)
	require.NoError(t, err)
	assert.Equal(t, "BKPT", process.RawText(2))

	_, err = src.UnsetSourceSoftwareBreakpoint(native, 2)
	require.NoError(t, err)
	assert.Equal(t, "NOP", process.RawText(2))

	t.Run("unmapped line", func(t *testing.T) {
		_, err := src.SetSourceSoftwareBreakpoint(native, 9)
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})

	t.Run("no line mapping", func(t *testing.T) {
		bare := New()
		_, err := bare.SetSourceSoftwareBreakpoint(native, 1)
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})
}

func TestFunctionLookup(t *testing.T) {
	src := New()
	src.RegisterDebuggingInformation(mainWithScopeInfo())

	t.Run("by address", func(t *testing.T) {
		name, ok := src.GetFunctionNameByAddress(6)
		require.True(t, ok)
		assert.Equal(t, "main", name)

		_, ok = src.GetFunctionNameByAddress(15)
		assert.False(t, ok)
	})

	t.Run("by name", func(t *testing.T) {
		begin, end, ok := src.GetFunctionAddrByName("main")
		require.True(t, ok)
		assert.Equal(t, uint64(0), begin)
		assert.Equal(t, uint64(10), end)

		_, _, ok = src.GetFunctionAddrByName("helper")
		assert.False(t, ok)
	})
}

func TestGetAddressFromString(t *testing.T) {
	src := New()
	src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{1: 0, 2: 2}))
	src.RegisterDebuggingInformation(mainWithScopeInfo())

	t.Run("line number", func(t *testing.T) {
		addr, err := src.GetAddressFromString("2", false)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), addr)
	})

	t.Run("line number starting at one", func(t *testing.T) {
		addr, err := src.GetAddressFromString("3", true)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), addr)
	})

	t.Run("function name", func(t *testing.T) {
		addr, err := src.GetAddressFromString("main", false)
		require.NoError(t, err)
		assert.Equal(t, uint64(0), addr)
	})

	t.Run("unknown function", func(t *testing.T) {
		_, err := src.GetAddressFromString("helper", false)
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})
}

// Inner scope definitions shadow outer ones at addresses inside the
// scope; outside it the outer definition is visible again.
func TestActiveVariableShadowing(t *testing.T) {
	src := New()
	info := mainWithScopeInfo()
	src.RegisterDebuggingInformation(info)

	outer := info.Children[0].Children[0]
	inner := info.Children[0].Children[1].Children[0]

	t.Run("inside nested scope", func(t *testing.T) {
		vars := src.GetActiveVariables(6)
		require.Contains(t, vars, "x")
		assert.Same(t, inner, vars["x"])
	})

	t.Run("outside nested scope", func(t *testing.T) {
		vars := src.GetActiveVariables(2)
		require.Contains(t, vars, "x")
		assert.Same(t, outer, vars["x"])
	})

	t.Run("outside the function", func(t *testing.T) {
		vars := src.GetActiveVariables(12)
		assert.Empty(t, vars)
	})
}

func TestGetScopedVariables(t *testing.T) {
	src := New()
	src.RegisterDebuggingInformation(mainWithScopeInfo())
	assert.Equal(t, []string{"x"}, src.GetScopedVariables(6))
	assert.Empty(t, src.GetScopedVariables(12))
}

func TestGetVariableLocation(t *testing.T) {
	_, native, src := newSourceTarget(t, nopProgram(12))
	src.RegisterDebuggingInformation(mainWithScopeInfo())

	t.Run("inner definition wins", func(t *testing.T) {
		require.NoError(t, native.SetRegister("IP", 6))
		loc, err := src.GetVariableLocation(native, "x")
		require.NoError(t, err)
		assert.Equal(t, OffsetLoc{Reg: "BP", Offset: -8}, loc)
	})

	t.Run("outer definition outside the scope", func(t *testing.T) {
		require.NoError(t, native.SetRegister("IP", 2))
		loc, err := src.GetVariableLocation(native, "x")
		require.NoError(t, err)
		assert.Equal(t, RegisterLoc{Name: "R1"}, loc)
	})

	t.Run("unknown variable", func(t *testing.T) {
		_, err := src.GetVariableLocation(native, "y")
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})

	t.Run("no debug info", func(t *testing.T) {
		bare := New()
		_, err := bare.GetVariableLocation(native, "x")
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})
}

func TestGetVariableTypeInformation(t *testing.T) {
	_, native, src := newSourceTarget(t, nopProgram(12))
	src.RegisterDebuggingInformation(mainWithScopeInfo())
	require.NoError(t, native.SetRegister("IP", 6))

	typ, err := src.GetVariableTypeInformation(native, "x")
	require.NoError(t, err)
	assert.Equal(t, "int", typ.String())
	assert.Equal(t, uint64(1), typ.TypeSize())

	_, err = src.GetVariableTypeInformation(native, "y")
	assert.ErrorIs(t, err, debugger.ErrDebugger)
}

func TestStepIn(t *testing.T) {
	t.Run("stops at next mapped address", func(t *testing.T) {
		_, native, src := newSourceTarget(t, nopProgram(7))
		src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{1: 0, 2: 2, 3: 5}))

		event, err := src.StepIn(native)
		require.NoError(t, err)
		assert.Equal(t, debugger.Singlestep{}, event)

		ip, err := native.GetIP()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), ip)
	})

	t.Run("reports non step events", func(t *testing.T) {
		_, native, src := newSourceTarget(t, nopProgram(7))
		src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{1: 0, 3: 5}))
		require.NoError(t, native.SetBreakpoint(3))

		event, err := src.StepIn(native)
		require.NoError(t, err)
		assert.Equal(t, debugger.BreakpointHit{Type: debugger.BPSoftware, Address: 3}, event)
	})

	t.Run("steps over breakpoint on the current line", func(t *testing.T) {
		_, native, src := newSourceTarget(t, nopProgram(7))
		src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{1: 0, 2: 2}))
		require.NoError(t, native.SetBreakpoint(0))

		event, err := src.StepIn(native)
		require.NoError(t, err)
		assert.Equal(t, debugger.Singlestep{}, event)

		ip, err := native.GetIP()
		require.NoError(t, err)
		assert.Equal(t, uint64(2), ip)
	})
}

func TestStepOver(t *testing.T) {
	program := []string{
		"CALL 4", // line 1
		"NOP",    // line 2
		"HALT",
		"NOP",
		"MOV R0, 7",
		"RET",
	}
	_, native, src := newSourceTarget(t, program)
	src.RegisterLineMapping(debuginfo.NewLineMapping(map[int]uint64{1: 0, 2: 1}))

	event, err := src.StepOver(native)
	require.NoError(t, err)
	assert.Equal(t, debugger.Singlestep{}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ip)

	// The call body was executed, not stepped into.
	r0, err := native.GetRegister("R0")
	require.NoError(t, err)
	assert.Equal(t, int64(7), r0)
}

func TestSourceText(t *testing.T) {
	src := New()
	src.RegisterSourceFile(NewSourceFile("int main() {\n  return 0;\n}"))

	line, ok := src.GetLine(1)
	require.True(t, ok)
	assert.Equal(t, "  return 0;", line)

	_, ok = src.GetLine(9)
	assert.False(t, ok)

	assert.Equal(t, []string{"  return 0;", "}"}, src.GetLinesRange(1, 5))

	t.Run("no source registered", func(t *testing.T) {
		bare := New()
		_, ok := bare.GetLine(0)
		assert.False(t, ok)
		assert.Nil(t, bare.GetLinesRange(0, 3))
	})
}

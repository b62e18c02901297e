package debugger_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/dmolina/escarabajo/pkg/vm/debugger"
	"github.com/dmolina/escarabajo/pkg/vm/debugger/debugtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var addProgram = []string{
	"MOV R0, 1",
	"MOV R1, 2",
	"ADD R0, R1",
	"HALT",
}

func newTarget(text []string) (*debugtest.Process, *debugger.Native) {
	process := debugtest.New(text)
	return process, debugger.NewNative(process)
}

func TestSetBreakpointInstallsTrap(t *testing.T) {
	process, native := newTarget(addProgram)

	require.NoError(t, native.SetBreakpoint(2))
	// Probing the underlying process bypasses the controller overlay.
	assert.Equal(t, "BKPT", process.RawText(2))
}

func TestSetBreakpointTwice(t *testing.T) {
	_, native := newTarget(addProgram)

	require.NoError(t, native.SetBreakpoint(2))
	err := native.SetBreakpoint(2)
	require.ErrorIs(t, err, debugger.ErrDebugger)
	assert.Contains(t, err.Error(), "already set")
}

func TestReadTextHidesBreakpoints(t *testing.T) {
	process, native := newTarget(addProgram)
	require.NoError(t, native.SetBreakpoint(2))

	text, err := native.ReadText(0, 4)
	require.NoError(t, err)
	assert.Equal(t, addProgram, text)

	require.NoError(t, native.DisableBreakpoint(2))
	text, err = native.ReadText(0, 4)
	require.NoError(t, err)
	assert.Equal(t, addProgram, text)

	require.NoError(t, native.EnableBreakpoint(2))
	assert.Equal(t, "BKPT", process.RawText(2))
}

func TestUnsetBreakpointRestoresText(t *testing.T) {
	process, native := newTarget(addProgram)

	require.NoError(t, native.SetBreakpoint(1))
	require.NoError(t, native.UnsetBreakpoint(1))
	assert.Equal(t, "MOV R1, 2", process.RawText(1))

	err := native.UnsetBreakpoint(1)
	assert.ErrorIs(t, err, debugger.ErrDebugger)
}

func TestEnableDisableAreIdempotent(t *testing.T) {
	process, native := newTarget(addProgram)
	require.NoError(t, native.SetBreakpoint(0))

	require.NoError(t, native.DisableBreakpoint(0))
	require.NoError(t, native.DisableBreakpoint(0))
	assert.Equal(t, "MOV R0, 1", process.RawText(0))

	require.NoError(t, native.EnableBreakpoint(0))
	require.NoError(t, native.EnableBreakpoint(0))
	assert.Equal(t, "BKPT", process.RawText(0))
}

func TestWriteTextOverBreakpoint(t *testing.T) {
	process, native := newTarget(addProgram)
	require.NoError(t, native.SetBreakpoint(2))

	require.NoError(t, native.WriteText(2, []string{"SUB R0, R1"}))
	// The trap stays installed in the target, the controller reports the
	// caller's value.
	assert.Equal(t, "BKPT", process.RawText(2))
	text, err := native.ReadText(2, 1)
	require.NoError(t, err)
	assert.Equal(t, "SUB R0, R1", text[0])

	// Disabling restores what the caller wrote, not the original text.
	require.NoError(t, native.DisableBreakpoint(2))
	assert.Equal(t, "SUB R0, R1", process.RawText(2))
}

func TestTextRangeChecks(t *testing.T) {
	_, native := newTarget(addProgram)

	_, err := native.ReadText(2, 5)
	require.ErrorIs(t, err, debugger.ErrDebugger)
	assert.Contains(t, err.Error(), "text size")

	err = native.WriteText(3, []string{"NOP", "NOP"})
	assert.ErrorIs(t, err, debugger.ErrDebugger)
}

// Breakpoint transparency under a random operation sequence: the text the
// controller reports always equals what a breakpointless target would
// hold.
func TestBreakpointTransparencyRandomized(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	_, native := newTarget(addProgram)

	model := append([]string(nil), addProgram...)
	addr := func() uint64 { return uint64(rng.Intn(len(model))) }

	for i := 0; i < 200; i++ {
		switch rng.Intn(5) {
		case 0:
			native.SetBreakpoint(addr())
		case 1:
			native.UnsetBreakpoint(addr())
		case 2:
			native.EnableBreakpoint(addr())
		case 3:
			native.DisableBreakpoint(addr())
		case 4:
			a := addr()
			ins := fmt.Sprintf("MOV R0, %d", rng.Intn(100))
			require.NoError(t, native.WriteText(a, []string{ins}))
			model[a] = ins
		}

		text, err := native.ReadText(0, len(model))
		require.NoError(t, err)
		assert.Equal(t, model, text)
	}
}

func TestContinueToBreakpoint(t *testing.T) {
	_, native := newTarget(addProgram)
	require.NoError(t, native.SetBreakpoint(2))

	require.NoError(t, native.ContinueExecution())
	event, err := native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, debugger.BreakpointHit{Type: debugger.BPSoftware, Address: 2}, event)

	// IP is fixed up onto the breakpoint address.
	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ip)

	r0, err := native.GetRegister("R0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r0)
	r1, err := native.GetRegister("R1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), r1)

	require.NoError(t, native.ContinueExecution())
	event, err = native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, debugger.ExecutionEnd{}, event)

	// The breakpointed instruction was executed when stepped over.
	r0, err = native.GetRegister("R0")
	require.NoError(t, err)
	assert.Equal(t, int64(3), r0)
}

func TestSinglestepProgression(t *testing.T) {
	_, native := newTarget(addProgram)

	for expected := uint64(1); expected <= 3; expected++ {
		event, err := native.PerformSingleStep()
		require.NoError(t, err)
		assert.Equal(t, debugger.Singlestep{}, event)

		ip, err := native.GetIP()
		require.NoError(t, err)
		assert.Equal(t, expected, ip)
	}
}

func TestTwoBreakpointsInARow(t *testing.T) {
	_, native := newTarget(addProgram)
	require.NoError(t, native.SetBreakpoint(1))
	require.NoError(t, native.SetBreakpoint(2))

	require.NoError(t, native.ContinueExecution())
	event, err := native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, debugger.BreakpointHit{Type: debugger.BPSoftware, Address: 1}, event)
	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ip)

	require.NoError(t, native.ContinueExecution())
	event, err = native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, debugger.BreakpointHit{Type: debugger.BPSoftware, Address: 2}, event)
	ip, err = native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), ip)
}

// Stepping over a breakpoint whose instruction ends the program caches
// the event: ContinueExecution must not resume past it.
func TestContinueCachesEventFromStepOver(t *testing.T) {
	_, native := newTarget(addProgram)
	require.NoError(t, native.SetBreakpoint(3))

	require.NoError(t, native.ContinueExecution())
	event, err := native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, debugger.BreakpointHit{Type: debugger.BPSoftware, Address: 3}, event)

	require.NoError(t, native.ContinueExecution())
	event, err = native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, debugger.ExecutionEnd{}, event)
}

func TestStepOverBreakpointKeepsItEnabled(t *testing.T) {
	process, native := newTarget(addProgram)
	require.NoError(t, native.SetBreakpoint(0))

	event, err := native.PerformSingleStep()
	require.NoError(t, err)
	assert.Equal(t, debugger.Singlestep{}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ip)

	bps := native.GetBreakpoints()
	require.Contains(t, bps, uint64(0))
	assert.True(t, bps[0].Enabled)
	assert.Equal(t, "BKPT", process.RawText(0))

	// The instruction under the breakpoint really executed.
	r0, err := native.GetRegister("R0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r0)
}

func TestPerformStepOverCall(t *testing.T) {
	program := []string{
		"CALL 3",
		"HALT",
		"NOP",
		"MOV R0, 7",
		"RET",
	}
	_, native := newTarget(program)

	event, err := native.PerformStepOver(true)
	require.NoError(t, err)
	assert.Equal(t, debugger.Singlestep{}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ip)

	r0, err := native.GetRegister("R0")
	require.NoError(t, err)
	assert.Equal(t, int64(7), r0)

	// The transient return breakpoint is gone.
	assert.Empty(t, native.GetBreakpoints())
}

func TestPerformStepOverStopsAtBreakpointInCall(t *testing.T) {
	program := []string{
		"CALL 3",
		"HALT",
		"NOP",
		"MOV R0, 7",
		"RET",
	}
	_, native := newTarget(program)
	require.NoError(t, native.SetBreakpoint(4))

	event, err := native.PerformStepOver(true)
	require.NoError(t, err)
	assert.Equal(t, debugger.BreakpointHit{Type: debugger.BPSoftware, Address: 4}, event)

	ip, err := native.GetIP()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), ip)
}

func TestRegisters(t *testing.T) {
	_, native := newTarget(addProgram)

	t.Run("unknown register", func(t *testing.T) {
		_, err := native.GetRegister("R99")
		assert.ErrorIs(t, err, debugger.ErrDebugger)
		err = native.SetRegister("R99", 1)
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})

	t.Run("set and get", func(t *testing.T) {
		require.NoError(t, native.SetRegister("R3", -17))
		val, err := native.GetRegister("R3")
		require.NoError(t, err)
		assert.Equal(t, int64(-17), val)
	})

	t.Run("float registers", func(t *testing.T) {
		require.NoError(t, native.SetFloatRegister("F0", 2.5))
		val, err := native.GetFloatRegister("F0")
		require.NoError(t, err)
		assert.Equal(t, 2.5, val)

		_, err = native.GetFloatRegister("F99")
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})
}

func TestWatchpoints(t *testing.T) {
	program := []string{
		"MOV [5], 1",
		"HALT",
	}

	t.Run("write watchpoint triggers", func(t *testing.T) {
		_, native := newTarget(program)
		require.NoError(t, native.SetWatchpointWrite(5))

		require.NoError(t, native.ContinueExecution())
		event, err := native.WaitForDebugEvent()
		require.NoError(t, err)
		assert.Equal(t, debugger.WatchpointTrigger{Type: debugger.WatchpointWrite, Address: 5}, event)
	})

	t.Run("duplicate address", func(t *testing.T) {
		_, native := newTarget(program)
		require.NoError(t, native.SetWatchpointWrite(5))
		err := native.SetWatchpointWrite(5)
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})

	t.Run("debug registers exhausted", func(t *testing.T) {
		_, native := newTarget(program)
		for addr := uint64(10); addr < 14; addr++ {
			require.NoError(t, native.SetWatchpointWrite(addr))
		}
		err := native.SetWatchpointWrite(20)
		require.ErrorIs(t, err, debugger.ErrDebugger)
		assert.Contains(t, err.Error(), "maximum amount")
	})

	t.Run("remove frees the debug register", func(t *testing.T) {
		_, native := newTarget(program)
		for addr := uint64(10); addr < 14; addr++ {
			require.NoError(t, native.SetWatchpointWrite(addr))
		}
		require.NoError(t, native.RemoveWatchpoint(11))
		assert.NoError(t, native.SetWatchpointWrite(20))
	})

	t.Run("remove unknown", func(t *testing.T) {
		_, native := newTarget(program)
		err := native.RemoveWatchpoint(5)
		assert.ErrorIs(t, err, debugger.ErrDebugger)
	})
}

func TestTerminate(t *testing.T) {
	_, native := newTarget(addProgram)
	assert.True(t, native.Active())
	require.NoError(t, native.Terminate())
	assert.False(t, native.Active())
}

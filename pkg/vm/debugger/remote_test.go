package debugger_test

import (
	"net"
	"testing"

	"github.com/dmolina/escarabajo/pkg/vm/debugger"
	"github.com/dmolina/escarabajo/pkg/vm/debugger/debugtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newRemoteTarget serves a simulated process over an in-memory pipe and
// returns a RemoteProcess talking to it.
func newRemoteTarget(t *testing.T, text []string) (*debugtest.Process, *debugger.RemoteProcess) {
	t.Helper()
	sim := debugtest.New(text)
	server, client := net.Pipe()
	go debugtest.Serve(server, sim)
	remote := debugger.NewRemoteProcess(client)
	t.Cleanup(func() { client.Close() })
	return sim, remote
}

func TestRemoteTextAccess(t *testing.T) {
	_, remote := newRemoteTarget(t, addProgram)

	size, err := remote.TextSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(4), size)

	text, err := remote.ReadText(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"MOV R1, 2", "ADD R0, R1"}, text)

	require.NoError(t, remote.WriteText(1, []string{"NOP"}))
	text, err = remote.ReadText(1, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"NOP"}, text)

	_, err = remote.ReadText(3, 5)
	assert.ErrorIs(t, err, debugger.ErrDebugger)
}

func TestRemoteRegisters(t *testing.T) {
	_, remote := newRemoteTarget(t, addProgram)

	regs, err := remote.FetchRegisters()
	require.NoError(t, err)
	assert.Contains(t, regs, "IP")
	assert.Contains(t, regs, "R0")

	regs["R2"] = -99
	require.NoError(t, remote.SetRegisters(regs))
	regs, err = remote.FetchRegisters()
	require.NoError(t, err)
	assert.Equal(t, int64(-99), regs["R2"])

	fregs, err := remote.FetchFloatRegisters()
	require.NoError(t, err)
	fregs["F1"] = 0.5
	require.NoError(t, remote.SetFloatRegisters(fregs))
	fregs, err = remote.FetchFloatRegisters()
	require.NoError(t, err)
	assert.Equal(t, 0.5, fregs["F1"])

	dregs, err := remote.FetchDebugRegisters()
	require.NoError(t, err)
	dregs["D0"] = 12
	require.NoError(t, remote.SetDebugRegisters(dregs))
	dregs, err = remote.FetchDebugRegisters()
	require.NoError(t, err)
	assert.Equal(t, uint64(12), dregs["D0"])
}

func TestRemoteMemory(t *testing.T) {
	_, remote := newRemoteTarget(t, addProgram)

	require.NoError(t, remote.WriteMemory(10, []int64{7, -8, 9}))
	words, err := remote.ReadMemory(10, 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, -8, 9}, words)
}

func TestRemoteReasonBeforeStop(t *testing.T) {
	_, remote := newRemoteTarget(t, addProgram)
	_, err := remote.GetReason()
	assert.ErrorIs(t, err, debugger.ErrDebugger)
}

// The whole native debugging flow works unchanged over the wire.
func TestRemoteEndToEnd(t *testing.T) {
	sim, remote := newRemoteTarget(t, addProgram)
	native := debugger.NewNative(remote)

	require.NoError(t, native.SetBreakpoint(2))
	assert.Equal(t, "BKPT", sim.RawText(2))

	require.NoError(t, native.ContinueExecution())
	event, err := native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, debugger.BreakpointHit{Type: debugger.BPSoftware, Address: 2}, event)

	r0, err := native.GetRegister("R0")
	require.NoError(t, err)
	assert.Equal(t, int64(1), r0)

	require.NoError(t, native.ContinueExecution())
	event, err = native.WaitForDebugEvent()
	require.NoError(t, err)
	assert.Equal(t, debugger.ExecutionEnd{}, event)

	require.NoError(t, native.Terminate())
}

package debugger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgevm/bytecode"
	"edgevm/debuginfo"
	"edgevm/value"
	"edgevm/vm"
	"edgevm/wire"
)

func u32(v uint32) []byte { return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)} }

func addProgram() *wire.Program {
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...)
	code = append(code, byte(bytecode.Ldc))
	code = append(code, u32(1)...)
	code = append(code, byte(bytecode.Add), byte(bytecode.Ret))
	return &wire.Program{Constants: []value.Value{value.Int(2), value.Int(3)}, Code: code}
}

func TestSessionStopOnEntryStepThenContinue(t *testing.T) {
	m := vm.New(addProgram())
	sess := NewSession(m, nil, true)

	done := make(chan error, 1)
	go func() { done <- m.RunWithDebugger(sess) }()

	resp, err := sess.Submit("where", time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Attached)

	_, err = sess.Submit("step", time.Second)
	require.NoError(t, err)

	_, err = sess.Submit("stack", time.Second)
	require.NoError(t, err)

	_, err = sess.Submit("continue", time.Second)
	require.NoError(t, err)

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(time.Second):
		t.Fatal("VM never finished after continue")
	}
	assert.True(t, m.Halted())
	assert.Equal(t, []value.Value{value.Int(5)}, m.Stack())
}

func TestSessionBreakpointAndLocals(t *testing.T) {
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...)
	ldlocOffset := uint32(len(code)) + 3 // past the Stloc instruction about to be appended
	code = append(code, byte(bytecode.Stloc))
	code = append(code, byte(0), byte(0))
	code = append(code, byte(bytecode.Ldloc))
	code = append(code, byte(0), byte(0))
	code = append(code, byte(bytecode.Ret))

	b := debuginfo.NewBuilder()
	b.AddLocal("x", 0)
	b.MarkLine(0, 1)
	b.MarkLine(ldlocOffset, 2)
	info, ok := b.Finish()
	require.True(t, ok)

	prog := &wire.Program{Constants: []value.Value{value.Int(7)}, Code: code, Debug: info}

	m := vm.New(prog)
	sess := NewSession(m, info, false)

	offsets := info.OffsetsForLine(2)
	require.NotEmpty(t, offsets)

	done := make(chan error, 1)
	go func() { done <- m.RunWithDebugger(sess) }()

	resp, err := sess.Submit("break line 2", time.Second)
	require.NoError(t, err)
	assert.True(t, resp.Attached)

	select {
	case runErr := <-done:
		t.Fatalf("VM finished before hitting the breakpoint: %v", runErr)
	case <-time.After(50 * time.Millisecond):
	}

	resp, err = sess.Submit("locals", time.Second)
	require.NoError(t, err)
	assert.Contains(t, resp.Output, "x (local[0]) = 7")

	resp, err = sess.Submit("print x", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "x = 7", resp.Output)

	resp, err = sess.Submit("dump x", time.Second)
	require.NoError(t, err)
	assert.Contains(t, resp.Output, "Kind")

	_, err = sess.Submit("continue", time.Second)
	require.NoError(t, err)

	select {
	case runErr := <-done:
		require.NoError(t, runErr)
	case <-time.After(time.Second):
		t.Fatal("VM never finished after continue")
	}
}

func TestInvalidCommand(t *testing.T) {
	m := vm.New(addProgram())
	sess := NewSession(m, nil, true)
	done := make(chan error, 1)
	go func() { done <- m.RunWithDebugger(sess) }()

	_, err := sess.Submit("frobnicate", time.Second)
	require.Error(t, err)
	var derr *Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, InvalidCommand, derr.Kind)

	sess.Close()
	<-done
}

package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edgevm/bytecode"
	"edgevm/value"
	"edgevm/wire"
)

func u32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func u16(v uint16) []byte {
	return []byte{byte(v), byte(v >> 8)}
}

func programOf(constants []value.Value, code []byte) *wire.Program {
	return &wire.Program{Constants: constants, Code: code}
}

func runToCompletion(t *testing.T, prog *wire.Program) *VM {
	t.Helper()
	m := New(prog)
	err := m.Run()
	require.NoError(t, err)
	require.True(t, m.Halted())
	return m
}

func TestArithmeticIntPromotion(t *testing.T) {
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...)
	code = append(code, byte(bytecode.Ldc))
	code = append(code, u32(1)...)
	code = append(code, byte(bytecode.Add), byte(bytecode.Ret))

	prog := programOf([]value.Value{value.Int(2), value.Float(3.5)}, code)
	m := runToCompletion(t, prog)
	assert.Equal(t, []value.Value{value.Float(5.5)}, m.Stack())
}

func TestDivisionByZero(t *testing.T) {
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...)
	code = append(code, byte(bytecode.Ldc))
	code = append(code, u32(1)...)
	code = append(code, byte(bytecode.Div), byte(bytecode.Ret))

	prog := programOf([]value.Value{value.Int(1), value.Int(0)}, code)
	m := New(prog)
	err := m.Run()
	require.Error(t, err)
	assert.Equal(t, DivisionByZero, m.Err().Kind)
}

func TestShlLoweringFromMultiplyByPowerOfTwo(t *testing.T) {
	// x * 8 lowered to x shl 3, as the emitter's constant-power-of-two fold does.
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...)
	code = append(code, byte(bytecode.Ldc))
	code = append(code, u32(1)...)
	code = append(code, byte(bytecode.Shl), byte(bytecode.Ret))

	prog := programOf([]value.Value{value.Int(5), value.Int(3)}, code)
	m := runToCompletion(t, prog)
	assert.Equal(t, []value.Value{value.Int(40)}, m.Stack())
}

func TestBrfalseShortCircuitsOnFalse(t *testing.T) {
	// if false then 1 else 2 -- brfalse must jump straight to the else branch.
	// ldc false; brfalse L1; ldc 1; br L2; L1: ldc 2; L2: ret
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...) // false

	brfalseOperandPos := len(code) + 1
	code = append(code, byte(bytecode.Brfalse), 0, 0, 0, 0)

	thenStart := len(code)
	code = append(code, byte(bytecode.Ldc))
	code = append(code, u32(1)...) // constants[1] = 1
	brOperandPos := len(code) + 1
	code = append(code, byte(bytecode.Br), 0, 0, 0, 0)

	elseStart := len(code)
	code = append(code, byte(bytecode.Ldc))
	code = append(code, u32(2)...) // constants[2] = 2

	endStart := len(code)
	code = append(code, byte(bytecode.Ret))

	// patch branch offsets, relative to the byte after the operand
	brfalseOffset := int32(elseStart - (brfalseOperandPos + 4))
	copy(code[brfalseOperandPos:brfalseOperandPos+4], u32(uint32(brfalseOffset)))
	brOffset := int32(endStart - (brOperandPos + 4))
	copy(code[brOperandPos:brOperandPos+4], u32(uint32(brOffset)))
	_ = thenStart

	prog := programOf([]value.Value{value.Bool(false), value.Int(1), value.Int(2)}, code)
	m := runToCompletion(t, prog)
	assert.Equal(t, []value.Value{value.Int(2)}, m.Stack())
}

type echoHost struct{ calls int }

func (h *echoHost) Invoke(_ *VM, args []value.Value, _ any) CallOutcome {
	h.calls++
	return Return(args[0])
}

func TestHostCallRoundTrip(t *testing.T) {
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...)
	code = append(code, byte(bytecode.Call))
	code = append(code, u16(0)...)
	code = append(code, 1, byte(bytecode.Ret))

	prog := &wire.Program{
		Constants: []value.Value{value.String("ping")},
		Imports:   []bytecode.HostImport{{Name: "echo", Arity: 1}},
		Code:      code,
	}
	m := New(prog)
	host := &echoHost{}
	require.NoError(t, m.BindFunction("echo", host))
	require.NoError(t, m.Run())
	assert.Equal(t, 1, host.calls)
	assert.Equal(t, []value.Value{value.String("ping")}, m.Stack())
}

type suspendingHost struct{}

func (suspendingHost) Invoke(_ *VM, args []value.Value, resume any) CallOutcome {
	if resume == nil {
		return Yield("waiting")
	}
	return Return(resume.(value.Value))
}

func TestYieldThenResume(t *testing.T) {
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...)
	code = append(code, byte(bytecode.Call))
	code = append(code, u16(0)...)
	code = append(code, 1, byte(bytecode.Ret))

	prog := &wire.Program{
		Constants: []value.Value{value.String("req")},
		Imports:   []bytecode.HostImport{{Name: "blocking", Arity: 1}},
		Code:      code,
	}
	m := New(prog)
	require.NoError(t, m.BindFunction("blocking", suspendingHost{}))
	require.NoError(t, m.Run())
	assert.False(t, m.Halted())
	assert.Nil(t, m.Err())

	require.NoError(t, m.Resume(value.String("resumed")))
	assert.True(t, m.Halted())
	assert.Equal(t, []value.Value{value.String("resumed")}, m.Stack())
}

func TestUnboundHostImportIsAnError(t *testing.T) {
	prog := &wire.Program{
		Imports: []bytecode.HostImport{{Name: "missing", Arity: 0}},
		Code:    []byte{byte(bytecode.Ret)},
	}
	m := New(prog)
	err := m.Run()
	require.Error(t, err)
	assert.Equal(t, UnknownHostFunction, m.Err().Kind)
}

func TestUnknownOpcodeByteIsRejected(t *testing.T) {
	prog := programOf(nil, []byte{0xEE})
	m := New(prog)
	err := m.Run()
	require.Error(t, err)
	assert.Equal(t, UnknownOpcode, m.Err().Kind)
}

func TestStackUnderflowOnBarePop(t *testing.T) {
	prog := programOf(nil, []byte{byte(bytecode.Pop)})
	m := New(prog)
	err := m.Run()
	require.Error(t, err)
	assert.Equal(t, StackUnderflow, m.Err().Kind)
}

func TestLocalsPersistAcrossStloc(t *testing.T) {
	code := []byte{byte(bytecode.Ldc)}
	code = append(code, u32(0)...)
	code = append(code, byte(bytecode.Stloc))
	code = append(code, u16(0)...)
	code = append(code, byte(bytecode.Ldloc))
	code = append(code, u16(0)...)
	code = append(code, byte(bytecode.Ret))

	prog := programOf([]value.Value{value.Int(42)}, code)
	m := runToCompletion(t, prog)
	assert.Equal(t, []value.Value{value.Int(42)}, m.Stack())
	assert.Equal(t, value.Int(42), m.Locals()[0])
}

//go:build amd64 && linux

package nativeamd64

import (
	"fmt"
	"unsafe"

	asm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"
	"github.com/twitchyliquid64/golang-asm/obj/x86"

	"edgevm/jit"
)

// Reserved registers, matching the role split _examples/wdamron-wagon's
// AMD64Backend documents for its own R10/R11 pair, repurposed for this
// trace's two pointer arguments:
//   - R10: pointer to the trace's flat Int local buffer (NativeTrace.Run's buf)
//   - R11: pointer to the callResult cell the trace writes before returning
//
// AX/CX/DX are never handed out by the general register-stack pool below;
// they are reserved scratch for IDIVQ (AX:DX) and the CL-counted shift
// instructions, so a value already live in a pool register never collides
// with those instructions' fixed operands.
var regPool = []int16{x86.REG_BX, x86.REG_R8, x86.REG_R9, x86.REG_R12, x86.REG_R13, x86.REG_R14, x86.REG_R15}

// Backend is the jit.Backend implementation for linux/amd64. It holds the
// executable-memory allocator every compiled trace's code lands in; Close
// releases every page this Backend has ever allocated, which a VM should
// call when it is torn down (spec.md §5: "destroying the VM releases all
// JIT-allocated executable memory").
type Backend struct {
	alloc allocator
}

// New returns a ready-to-use amd64 backend.
func New() *Backend { return &Backend{} }

// Close unmaps every page this Backend allocated across all traces it
// compiled.
func (b *Backend) Close() error {
	for _, blk := range b.alloc.blocks {
		if err := blk.mem.Unmap(); err != nil {
			return err
		}
	}
	return nil
}

// Compile implements jit.Backend. Only Loopback-terminated traces over the
// Int-only op set jit_record.go's recorder ever produces are supported;
// anything else (a SideExit-terminated straight-line trace that runs its
// body once, or a trace containing a host call) returns an error, which
// package vm treats as "stay interpreted" rather than a hard failure.
func (b *Backend) Compile(trace *jit.Trace, slots []uint16) (jit.NativeTrace, error) {
	if trace.Terminal.Kind != jit.Loopback {
		return nil, fmt.Errorf("nativeamd64: only loopback traces are supported, got %s", trace.Terminal)
	}
	if trace.HasHostCall() {
		return nil, fmt.Errorf("nativeamd64: traces containing host calls are not supported")
	}

	builder, err := asm.NewBuilder("amd64", 64)
	if err != nil {
		return nil, err
	}
	emitPreamble(builder)

	cg := &codegen{builder: builder, free: append([]int16{}, regPool...)}

	entry := builder.NewProg()
	entry.As = obj.ANOP
	builder.AddInstruction(entry)

	type pendingGuard struct {
		jne   *obj.Prog
		index int
	}
	var guards []pendingGuard

	for i, op := range trace.Ops {
		switch op.Kind {
		case jit.OpLoadConst:
			reg, err := cg.alloc()
			if err != nil {
				return nil, err
			}
			emitLoadImmediate(builder, reg, op.ConstValue)
			cg.push(reg)
		case jit.OpLoadLocal:
			reg, err := cg.alloc()
			if err != nil {
				return nil, err
			}
			slot, ok := slotIndexOf(slots, op.LocalIdx)
			if !ok {
				return nil, fmt.Errorf("nativeamd64: local %d has no assigned buffer slot", op.LocalIdx)
			}
			emitLoadBuf(builder, reg, slot)
			cg.push(reg)
		case jit.OpStoreLocal:
			reg, err := cg.pop()
			if err != nil {
				return nil, err
			}
			slot, ok := slotIndexOf(slots, op.LocalIdx)
			if !ok {
				return nil, fmt.Errorf("nativeamd64: local %d has no assigned buffer slot", op.LocalIdx)
			}
			emitStoreBuf(builder, slot, reg)
			cg.release(reg)
		case jit.OpAdd, jit.OpSub, jit.OpMul:
			if err := cg.emitBinary(op.Kind); err != nil {
				return nil, err
			}
		case jit.OpDiv:
			if err := cg.emitDiv(); err != nil {
				return nil, err
			}
		case jit.OpShl, jit.OpShr:
			if err := cg.emitShift(op.Kind); err != nil {
				return nil, err
			}
		case jit.OpNeg:
			reg, err := cg.pop()
			if err != nil {
				return nil, err
			}
			prog := builder.NewProg()
			prog.As = x86.ANEGQ
			prog.To.Type = obj.TYPE_REG
			prog.To.Reg = reg
			builder.AddInstruction(prog)
			cg.push(reg)
		case jit.OpCeq, jit.OpClt, jit.OpCgt:
			if err := cg.emitCompare(op.Kind); err != nil {
				return nil, err
			}
		case jit.OpGuard:
			reg, err := cg.pop()
			if err != nil {
				return nil, err
			}
			expect := int64(1)
			if op.Guard.WantTaken {
				expect = 0
			}
			cmp := builder.NewProg()
			cmp.As = x86.ACMPQ
			cmp.From.Type = obj.TYPE_REG
			cmp.From.Reg = reg
			cmp.To.Type = obj.TYPE_CONST
			cmp.To.Offset = expect
			builder.AddInstruction(cmp)
			cg.release(reg)

			jne := builder.NewProg()
			jne.As = x86.AJNE
			jne.To.Type = obj.TYPE_BRANCH
			builder.AddInstruction(jne)
			guards = append(guards, pendingGuard{jne: jne, index: i})
		default:
			return nil, fmt.Errorf("nativeamd64: unsupported trace op kind %d", op.Kind)
		}
	}

	loopback := builder.NewProg()
	loopback.As = obj.AJMP
	loopback.To.Type = obj.TYPE_BRANCH
	loopback.Pcond = entry
	builder.AddInstruction(loopback)

	for _, g := range guards {
		stub := builder.NewProg()
		stub.As = obj.ANOP
		builder.AddInstruction(stub)
		g.jne.Pcond = stub
		emitResultWrite(builder, int64(jit.StatusTraceExit), int64(g.index))
		ret := builder.NewProg()
		ret.As = obj.ARET
		builder.AddInstruction(ret)
	}

	code := builder.Assemble()
	blk, err := b.alloc.allocateExec(code)
	if err != nil {
		return nil, err
	}
	return &NativeTrace{block: blk, codeLen: len(code)}, nil
}

func slotIndexOf(slots []uint16, local uint16) (int, bool) {
	for i, s := range slots {
		if s == local {
			return i, true
		}
	}
	return 0, false
}

// emitPreamble loads the two pointer arguments (buf, result) the same way
// wagon's emitPreamble reads its stack/locals pointers: off the Go-ABI0
// incoming-argument area above the return address, at SP+8/SP+16.
func emitPreamble(builder *asm.Builder) {
	prog := builder.NewProg()
	prog.As = x86.AMOVQ
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_R10
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = x86.REG_SP
	prog.From.Offset = 8
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.AMOVQ
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = x86.REG_R11
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = x86.REG_SP
	prog.From.Offset = 16
	builder.AddInstruction(prog)
}

func emitLoadImmediate(builder *asm.Builder, reg int16, val int64) {
	prog := builder.NewProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = val
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = reg
	builder.AddInstruction(prog)
}

func emitLoadBuf(builder *asm.Builder, reg int16, slot int) {
	prog := builder.NewProg()
	prog.As = x86.AMOVQ
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = reg
	prog.From.Type = obj.TYPE_MEM
	prog.From.Reg = x86.REG_R10
	prog.From.Offset = int64(slot) * 8
	builder.AddInstruction(prog)
}

func emitStoreBuf(builder *asm.Builder, slot int, reg int16) {
	prog := builder.NewProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = reg
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = x86.REG_R10
	prog.To.Offset = int64(slot) * 8
	builder.AddInstruction(prog)
}

// emitResultWrite stores status/guardIdx into the *callResult cell R11
// points at, matching callResult's field order in native_exec.go.
func emitResultWrite(builder *asm.Builder, status, guardIdx int64) {
	prog := builder.NewProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = status
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = x86.REG_R11
	prog.To.Offset = 0
	builder.AddInstruction(prog)

	prog = builder.NewProg()
	prog.As = x86.AMOVQ
	prog.From.Type = obj.TYPE_CONST
	prog.From.Offset = guardIdx
	prog.To.Type = obj.TYPE_MEM
	prog.To.Reg = x86.REG_R11
	prog.To.Offset = 8
	builder.AddInstruction(prog)
}

// codegen tracks the compile-time value stack (which pool register holds
// each live trace value) while lowering one trace's ops in order.
type codegen struct {
	builder *asm.Builder
	free    []int16
	stack   []int16
}

func (c *codegen) alloc() (int16, error) {
	if len(c.free) == 0 {
		return 0, fmt.Errorf("nativeamd64: register pool exhausted (trace too deep)")
	}
	r := c.free[len(c.free)-1]
	c.free = c.free[:len(c.free)-1]
	return r, nil
}

func (c *codegen) release(r int16) { c.free = append(c.free, r) }

func (c *codegen) push(r int16) { c.stack = append(c.stack, r) }

func (c *codegen) pop() (int16, error) {
	if len(c.stack) == 0 {
		return 0, fmt.Errorf("nativeamd64: compile-time operand stack underflow")
	}
	r := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return r, nil
}

// emitBinary lowers Add/Sub/Mul: pop b then a (the interpreter's own pop
// order, see vm/exec.go's doArith), compute a = a OP b in place, release b,
// push a.
func (c *codegen) emitBinary(kind jit.OpKind) error {
	b, err := c.pop()
	if err != nil {
		return err
	}
	a, err := c.pop()
	if err != nil {
		return err
	}
	prog := c.builder.NewProg()
	switch kind {
	case jit.OpAdd:
		prog.As = x86.AADDQ
	case jit.OpSub:
		prog.As = x86.ASUBQ
	case jit.OpMul:
		prog.As = x86.AIMULQ
	}
	prog.From.Type = obj.TYPE_REG
	prog.From.Reg = b
	prog.To.Type = obj.TYPE_REG
	prog.To.Reg = a
	c.builder.AddInstruction(prog)
	c.release(b)
	c.push(a)
	return nil
}

// emitDiv lowers integer Div via IDIVQ, which requires the dividend
// sign-extended across DX:AX and the divisor in a register other than
// AX/DX; the divisor goes in CX, and none of AX, DX and CX is ever a pool
// register (see regPool), so no live value can collide with this shuffle.
func (c *codegen) emitDiv() error {
	b, err := c.pop()
	if err != nil {
		return err
	}
	a, err := c.pop()
	if err != nil {
		return err
	}
	movDivisor := c.builder.NewProg()
	movDivisor.As = x86.AMOVQ
	movDivisor.From.Type = obj.TYPE_REG
	movDivisor.From.Reg = b
	movDivisor.To.Type = obj.TYPE_REG
	movDivisor.To.Reg = x86.REG_CX
	c.builder.AddInstruction(movDivisor)
	c.release(b)

	movDividend := c.builder.NewProg()
	movDividend.As = x86.AMOVQ
	movDividend.From.Type = obj.TYPE_REG
	movDividend.From.Reg = a
	movDividend.To.Type = obj.TYPE_REG
	movDividend.To.Reg = x86.REG_AX
	c.builder.AddInstruction(movDividend)

	cqo := c.builder.NewProg()
	cqo.As = x86.ACQO
	c.builder.AddInstruction(cqo)

	idiv := c.builder.NewProg()
	idiv.As = x86.AIDIVQ
	idiv.To.Type = obj.TYPE_REG
	idiv.To.Reg = x86.REG_CX
	c.builder.AddInstruction(idiv)

	result := a
	moveResult := c.builder.NewProg()
	moveResult.As = x86.AMOVQ
	moveResult.From.Type = obj.TYPE_REG
	moveResult.From.Reg = x86.REG_AX
	moveResult.To.Type = obj.TYPE_REG
	moveResult.To.Reg = result
	c.builder.AddInstruction(moveResult)
	c.push(result)
	return nil
}

// emitShift lowers Shl/Shr: the shift count must sit in CL, never a pool
// register, so it is copied into CX before the shift and left there.
func (c *codegen) emitShift(kind jit.OpKind) error {
	count, err := c.pop()
	if err != nil {
		return err
	}
	val, err := c.pop()
	if err != nil {
		return err
	}
	movCount := c.builder.NewProg()
	movCount.As = x86.AMOVQ
	movCount.From.Type = obj.TYPE_REG
	movCount.From.Reg = count
	movCount.To.Type = obj.TYPE_REG
	movCount.To.Reg = x86.REG_CX
	c.builder.AddInstruction(movCount)
	c.release(count)

	shift := c.builder.NewProg()
	if kind == jit.OpShl {
		shift.As = x86.ASHLQ
	} else {
		shift.As = x86.ASHRQ
	}
	shift.From.Type = obj.TYPE_REG
	shift.From.Reg = x86.REG_CX
	shift.To.Type = obj.TYPE_REG
	shift.To.Reg = val
	c.builder.AddInstruction(shift)
	c.push(val)
	return nil
}

// emitCompare lowers Ceq/Clt/Cgt to a 0/1 result register without a
// data-dependent branch reaching outside this function: zero the result,
// compare, then conditionally skip the "set to 1" move.
func (c *codegen) emitCompare(kind jit.OpKind) error {
	b, err := c.pop()
	if err != nil {
		return err
	}
	a, err := c.pop()
	if err != nil {
		return err
	}
	result, err := c.alloc()
	if err != nil {
		return err
	}

	zero := c.builder.NewProg()
	zero.As = x86.AMOVQ
	zero.From.Type = obj.TYPE_CONST
	zero.From.Offset = 0
	zero.To.Type = obj.TYPE_REG
	zero.To.Reg = result
	c.builder.AddInstruction(zero)

	cmp := c.builder.NewProg()
	cmp.As = x86.ACMPQ
	cmp.From.Type = obj.TYPE_REG
	cmp.From.Reg = a
	cmp.To.Type = obj.TYPE_REG
	cmp.To.Reg = b
	c.builder.AddInstruction(cmp)

	skip := c.builder.NewProg()
	switch kind {
	case jit.OpCeq:
		skip.As = x86.AJNE
	case jit.OpClt:
		skip.As = x86.AJGE
	default: // OpCgt
		skip.As = x86.AJLE
	}
	skip.To.Type = obj.TYPE_BRANCH
	c.builder.AddInstruction(skip)

	setOne := c.builder.NewProg()
	setOne.As = x86.AMOVQ
	setOne.From.Type = obj.TYPE_CONST
	setOne.From.Offset = 1
	setOne.To.Type = obj.TYPE_REG
	setOne.To.Reg = result
	c.builder.AddInstruction(setOne)

	after := c.builder.NewProg()
	after.As = obj.ANOP
	c.builder.AddInstruction(after)
	skip.Pcond = after

	c.release(a)
	c.release(b)
	c.push(result)
	return nil
}

// NativeTrace is the compiled, callable form of one trace on linux/amd64.
type NativeTrace struct {
	block   *execBlock
	codeLen int
}

// Run implements jit.NativeTrace.
func (t *NativeTrace) Run(buf []int64) (jit.Status, int, error) {
	var bufPtr unsafe.Pointer
	if len(buf) > 0 {
		bufPtr = unsafe.Pointer(&buf[0])
	}
	var result callResult
	t.block.invoke(bufPtr, unsafe.Pointer(&result))
	return jit.Status(result.status), int(result.guardIdx), nil
}

// CodeLen implements jit.NativeTrace.
func (t *NativeTrace) CodeLen() int { return t.codeLen }

// Close implements jit.NativeTrace.
func (t *NativeTrace) Close() error { return t.block.close() }

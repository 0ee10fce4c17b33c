//go:build amd64 && linux

package nativeamd64

import "unsafe"

// callResult is the fixed-size cell a compiled trace writes its outcome
// into before returning; its address is the second argument every compiled
// trace function receives (see backend.go's emitPreamble).
type callResult struct {
	status   int64
	guardIdx int64
}

// invoke calls into b's machine code with bufPtr pointing at the first
// element of the trace's Int buffer and resultPtr at a zeroed callResult.
//
// The double-pointer-dereference below is the same trick
// _examples/wdamron-wagon's asmBlock.Invoke uses to turn a raw mmap'd code
// address into a callable Go func value without cgo: taking the address of
// the field holding the code pointer and reinterpreting it as a pointer to
// a func value exploits that a non-closure Go func value's own
// representation is just its entry address.
func (b *execBlock) invoke(bufPtr, resultPtr unsafe.Pointer) {
	f := uintptr(b.mem)
	fp := **(**func(unsafe.Pointer, unsafe.Pointer))(unsafe.Pointer(&f))
	fp(bufPtr, resultPtr)
}

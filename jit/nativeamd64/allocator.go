//go:build amd64 && linux

// Package nativeamd64 is the x86-64 trace-to-machine-code backend spec.md
// §4.5 describes: it lowers a recorded jit.Trace into a straight-line
// sequence of native instructions with guard-as-compare-and-jump side
// exits, allocates executable memory for the result, and exposes it through
// the jit.NativeTrace/jit.Backend interfaces so package vm never needs an
// architecture-specific import.
//
// Grounded on _examples/wdamron-wagon's exec/internal/compile package: the
// same golang-asm builder usage (amd64.go), the same mmap-based executable
// allocator (allocator.go), and the same "reinterpret a raw code pointer as
// a Go func value" invocation trick (native_exec.go) — the pack's only
// other native-code-emitting bytecode VM.
package nativeamd64

import (
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"golang.org/x/sys/unix"
)

const (
	minAllocSize         = 1024
	allocationAlignment  = 128 - 1 // instruction caching prefers aligned boundaries
)

type mmapBlock struct {
	mem mmap.MMap
}

// allocator hands out executable pages for compiled traces. One allocator
// is shared by every trace a Backend compiles for a given VM; each trace
// gets its own block so Close()ing one trace never disturbs another
// (spec.md §5: "the JIT's executable memory pages are per-VM; no
// cross-VM sharing").
type allocator struct {
	blocks []*mmapBlock
}

// allocateExec maps a fresh writable page pair, copies code into it, then
// flips the mapping to executable+read-only via mprotect before handing
// back an entry point, matching spec.md §4.5/§9's "allocate writable, write
// code, then transition to R+X" sequence. mmap-go's own flag set has no
// mprotect equivalent, so the permission flip goes through x/sys/unix
// directly on the region's backing memory.
func (a *allocator) allocateExec(code []byte) (*execBlock, error) {
	size := (len(code) + allocationAlignment) &^ allocationAlignment
	if size < minAllocSize {
		size = minAllocSize
	}
	m, err := mmap.MapRegion(nil, size, mmap.RDWR, mmap.ANON, 0)
	if err != nil {
		return nil, err
	}
	copy(m, code)
	if err := unix.Mprotect(m, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		m.Unmap()
		return nil, err
	}
	block := &mmapBlock{mem: m}
	a.blocks = append(a.blocks, block)
	return &execBlock{mem: unsafe.Pointer(&block.mem), block: block}, nil
}

// execBlock wraps one mmap'd page's slice header the same way
// _examples/wdamron-wagon's asmBlock does, so Invoke's func-pointer trick
// below has the same memory shape to dereference through.
type execBlock struct {
	mem   unsafe.Pointer
	block *mmapBlock
}

func (b *execBlock) close() error {
	return b.block.mem.Unmap()
}

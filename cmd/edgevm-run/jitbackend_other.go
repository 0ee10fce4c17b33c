//go:build !(amd64 && linux)

package main

import "edgevm/jit"

// newJITBackend reports no native backend on architectures nativeamd64
// doesn't target. The engine still tracks hotness and records traces; they
// simply never compile to native code, matching spec.md §9's "the JIT
// disables itself implicitly on unsupported architectures".
func newJITBackend() jit.Backend { return nil }

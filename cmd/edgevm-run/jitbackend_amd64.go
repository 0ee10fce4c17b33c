//go:build amd64 && linux

package main

import (
	"edgevm/jit"
	"edgevm/jit/nativeamd64"
)

func newJITBackend() jit.Backend { return nativeamd64.New() }

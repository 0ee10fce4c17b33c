package main

import (
	"os"
	"path/filepath"
	"testing"

	"edgevm/wire"
)

func TestLoadProgramDecodesBinaryByDefault(t *testing.T) {
	prog := &wire.Program{Code: []byte{0x01}}
	data := wire.Encode(prog)

	dir := t.TempDir()
	path := filepath.Join(dir, "program.bin")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := loadProgram(path)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	if len(got.Code) != 1 || got.Code[0] != 0x01 {
		t.Fatalf("decoded code = %v", got.Code)
	}
}

func TestLoadProgramRejectsCorruptBinary(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "program.bin")
	if err := os.WriteFile(path, []byte{0xde, 0xad, 0xbe, 0xef}, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := loadProgram(path); err == nil {
		t.Fatal("expected error decoding corrupt binary")
	}
}

func TestLoadProgramDispatchesSourceExtensionsToCompiler(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "program.rss")
	if err := os.WriteFile(path, []byte("1 + 1"), 0o644); err != nil {
		t.Fatal(err)
	}

	// The .rss extension routes through compileSource, which compiles this
	// self-contained source; decodeBinary's wire.Decode would reject the same
	// text for its bad magic.
	got, err := loadProgram(path)
	if err != nil {
		t.Fatalf("loadProgram: %v", err)
	}
	if len(got.Code) == 0 {
		t.Fatal("expected compiled code for the .rss fixture")
	}
}

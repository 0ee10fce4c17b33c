package wire

import (
	"testing"

	"edgevm/bytecode"
	"edgevm/debuginfo"
	"edgevm/value"
)

// encode a tiny program: ldc 0; ldc 1; add; ret
func sampleProgram() *Program {
	var code []byte
	code = append(code, byte(bytecode.Ldc), 0, 0, 0, 0)
	code = append(code, byte(bytecode.Ldc), 1, 0, 0, 0)
	code = append(code, byte(bytecode.Add))
	code = append(code, byte(bytecode.Ret))
	return &Program{
		Constants: []value.Value{value.Int(2), value.Int(4)},
		Imports:   []bytecode.HostImport{{Name: "host_log", Arity: 1}},
		Code:      code,
	}
}

func TestRoundTrip(t *testing.T) {
	p := sampleProgram()
	encoded := Encode(p)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(decoded.Constants) != 2 || !decoded.Constants[0].Equal(value.Int(2)) {
		t.Fatalf("constants mismatch: %+v", decoded.Constants)
	}
	if len(decoded.Imports) != 1 || decoded.Imports[0].Name != "host_log" || decoded.Imports[0].Arity != 1 {
		t.Fatalf("imports mismatch: %+v", decoded.Imports)
	}
	if string(decoded.Code) != string(p.Code) {
		t.Fatalf("code mismatch")
	}
	if decoded.Debug != nil {
		t.Fatalf("expected no debug info")
	}
}

func TestRoundTripWithDebugInfo(t *testing.T) {
	p := sampleProgram()
	b := debuginfo.NewBuilder()
	b.SetSource("let x = 2 + 4;")
	b.MarkLine(0, 1)
	b.AddLocal("x", 0)
	b.AddFunction("main", nil)
	d, ok := b.Finish()
	if !ok {
		t.Fatal("Finish returned ok=false")
	}
	p.Debug = d

	encoded := Encode(p)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Debug == nil {
		t.Fatal("expected debug info")
	}
	if decoded.Debug.Source != "let x = 2 + 4;" {
		t.Fatalf("source mismatch: %q", decoded.Debug.Source)
	}
	line, ok := decoded.Debug.LineForOffset(0)
	if !ok || line != 1 {
		t.Fatalf("LineForOffset(0) = %d, %v", line, ok)
	}
}

func TestDecodeBadMagic(t *testing.T) {
	data := []byte{0, 0, 0, 0, 1, 0, 0, 0, 0, 0}
	if _, err := Decode(data); err != ErrBadMagic {
		t.Fatalf("expected ErrBadMagic, got %v", err)
	}
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	data := append([]byte{}, Magic[:]...)
	data = append(data, 0xFF, 0xFF)
	if _, err := Decode(data); err == nil {
		t.Fatal("expected unsupported version error")
	}
}

func TestDecodeTruncated(t *testing.T) {
	p := sampleProgram()
	encoded := Encode(p)
	for cut := 0; cut < len(encoded); cut += 3 {
		if _, err := Decode(encoded[:cut]); err == nil {
			t.Fatalf("expected error decoding truncated input at %d bytes", cut)
		}
	}
}

func TestValidateAcceptsSample(t *testing.T) {
	p := sampleProgram()
	if err := Validate(p, nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsUnknownOpcode(t *testing.T) {
	p := sampleProgram()
	p.Code = []byte{0xFE}
	err := Validate(p, nil)
	if err == nil {
		t.Fatal("expected validation error")
	}
	ve, ok := err.(*ValidationError)
	if !ok || ve.Rule != 1 {
		t.Fatalf("expected rule 1 failure, got %v", err)
	}
}

func TestValidateRejectsBadLdcIndex(t *testing.T) {
	p := sampleProgram()
	p.Code = []byte{byte(bytecode.Ldc), 9, 0, 0, 0, byte(bytecode.Ret)}
	err := Validate(p, nil)
	ve, ok := err.(*ValidationError)
	if !ok || ve.Rule != 3 {
		t.Fatalf("expected rule 3 failure, got %v", err)
	}
}

func TestValidateRejectsBadBranchTarget(t *testing.T) {
	p := sampleProgram()
	p.Code = []byte{byte(bytecode.Br), 99, 0, 0, 0, byte(bytecode.Ret)}
	err := Validate(p, nil)
	ve, ok := err.(*ValidationError)
	if !ok || ve.Rule != 4 {
		t.Fatalf("expected rule 4 failure, got %v", err)
	}
}

func TestValidateRejectsMissingReturn(t *testing.T) {
	p := sampleProgram()
	p.Code = []byte{byte(bytecode.Nop)}
	err := Validate(p, nil)
	ve, ok := err.(*ValidationError)
	if !ok || ve.Rule != 7 {
		t.Fatalf("expected rule 7 failure, got %v", err)
	}
}

func TestValidateRejectsArityMismatch(t *testing.T) {
	p := sampleProgram()
	// call import 0 (arity 1) with arity operand 2
	p.Code = []byte{byte(bytecode.Call), 0, 0, 2, byte(bytecode.Ret)}
	err := Validate(p, nil)
	ve, ok := err.(*ValidationError)
	if !ok || ve.Rule != 6 {
		t.Fatalf("expected rule 6 failure, got %v", err)
	}
}

func TestValidateAcceptsBuiltinCall(t *testing.T) {
	p := sampleProgram()
	p.Imports = nil
	// call builtins.Len (call index CallBase+0, arity 1)
	idx := uint16(0xFFE0)
	p.Code = []byte{
		byte(bytecode.Call), byte(idx), byte(idx >> 8), 1,
		byte(bytecode.Ret),
	}
	if err := Validate(p, nil); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

package wire

import (
	"fmt"

	"edgevm/builtins"
	"edgevm/bytecode"
)

// ValidationError describes which of the seven validation rules failed and
// where.
type ValidationError struct {
	Rule   int
	Offset int
	Msg    string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("wire: validation rule %d failed at offset %d: %s", e.Rule, e.Offset, e.Msg)
}

func fail(rule, offset int, format string, args ...any) error {
	return &ValidationError{Rule: rule, Offset: offset, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks a decoded Program against the seven rules of spec.md §4.1:
// known opcodes, in-bounds operands, valid Ldc indices, branch targets that
// land on instruction boundaries, in-bounds local indices, call indices that
// resolve to a declared import/defined function/builtin with matching arity,
// and every reachable path ending in Ret. functionArities maps a defined
// bytecode function's call index to its declared arity (the function table
// beyond p.Imports and the builtin range); pass nil if the program declares
// no bytecode-defined functions reachable by Call.
func Validate(p *Program, functionArities map[uint16]uint8) error {
	starts, err := bytecode.ScanInstructions(p.Code)
	if err != nil {
		scanErr := err.(*bytecode.ScanError)
		return fail(scanErr.Rule, scanErr.Offset, "%s", scanErr.Msg)
	}
	startSet := make(map[int]bool, len(starts))
	for _, s := range starts {
		startSet[s] = true
	}

	for _, s := range starts {
		op := bytecode.OpCode(p.Code[s])
		switch op {
		case bytecode.Ldc:
			idx := readU32At(p.Code, s+1)
			if int(idx) >= len(p.Constants) {
				return fail(3, s, "ldc index %d out of range (constants len %d)", idx, len(p.Constants))
			}
		case bytecode.Br, bytecode.Brfalse:
			target := s + 1 + 4 + int(int32(readU32At(p.Code, s+1)))
			if !startSet[target] {
				return fail(4, s, "branch target %d is not an instruction boundary", target)
			}
		case bytecode.Call:
			idx := readU16At(p.Code, s+1)
			arity := p.Code[s+3]
			declared, ok := resolveCallArity(p, functionArities, idx)
			if !ok {
				return fail(6, s, "call index %d does not resolve to an import, function, or builtin", idx)
			}
			if declared != arity {
				return fail(6, s, "call index %d declares arity %d, call site has %d", idx, declared, arity)
			}
		}
	}

	if err := checkLocalBounds(p.Code, starts, bytecode.InferLocalCount(p.Code, starts)); err != nil {
		return err
	}

	visited := make(map[int]bool, len(starts))
	if err := checkReturnTermination(p.Code, startSet, visited, 0); err != nil {
		return err
	}
	for _, fn := range p.Functions {
		if err := checkReturnTermination(p.Code, startSet, visited, int(fn.EntryOffset)); err != nil {
			return err
		}
	}

	return nil
}

func checkLocalBounds(code []byte, starts []int, localCount int) error {
	for _, s := range starts {
		op := bytecode.OpCode(code[s])
		if op == bytecode.Ldloc || op == bytecode.Stloc {
			idx := int(readU16At(code, s+1))
			if idx >= localCount {
				return fail(5, s, "local index %d out of inferred range [0,%d)", idx, localCount)
			}
		}
	}
	return nil
}

func resolveCallArity(p *Program, functionArities map[uint16]uint8, idx uint16) (uint8, bool) {
	if int(idx) < len(p.Imports) {
		return p.Imports[idx].Arity, true
	}
	if functionArities != nil {
		if arity, ok := functionArities[idx]; ok {
			return arity, true
		}
	}
	for _, fn := range p.Functions {
		if fn.Index == idx {
			return fn.Arity, true
		}
	}
	if fn, ok := builtins.FromCallIndex(idx); ok {
		return fn.Arity(), true
	}
	return 0, false
}

// checkReturnTermination verifies every reachable instruction path starting
// at entry ends in Ret, by walking fall-through and branch edges and failing
// if a reachable offset runs off the end of code without hitting Ret. visited
// is shared across every entry point (top level plus each defined function)
// since their code regions never legitimately jump into one another.
func checkReturnTermination(code []byte, startSet map[int]bool, visited map[int]bool, entry int) error {
	if !startSet[entry] {
		return fail(7, entry, "entry offset is not an instruction boundary")
	}
	var walk func(offset int) error
	walk = func(offset int) error {
		if visited[offset] {
			return nil
		}
		if offset >= len(code) {
			return fail(7, offset, "control flow runs off the end of code without Ret")
		}
		visited[offset] = true
		op := bytecode.OpCode(code[offset])
		size := bytecode.OperandSize(op)
		next := offset + 1 + size
		switch op {
		case bytecode.Ret:
			return nil
		case bytecode.Br:
			target := offset + 1 + 4 + int(int32(readU32At(code, offset+1)))
			return walk(target)
		case bytecode.Brfalse:
			target := offset + 1 + 4 + int(int32(readU32At(code, offset+1)))
			if err := walk(target); err != nil {
				return err
			}
			return walk(next)
		default:
			return walk(next)
		}
	}
	return walk(entry)
}

func readU32At(code []byte, offset int) uint32 {
	return uint32(code[offset]) | uint32(code[offset+1])<<8 | uint32(code[offset+2])<<16 | uint32(code[offset+3])<<24
}

func readU16At(code []byte, offset int) uint16 {
	return uint16(code[offset]) | uint16(code[offset+1])<<8
}
